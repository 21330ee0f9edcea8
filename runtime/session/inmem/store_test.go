package inmem

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	cctx, err := s.Context(ctx, "s1", "user")
	require.NoError(t, err)
	assert.Empty(t, cctx)

	require.NoError(t, s.Save(ctx, "s1", "q1", "a1", "user"))
	cctx, err = s.Context(ctx, "s1", "user")
	require.NoError(t, err)
	assert.Contains(t, cctx, "User: q1")
	assert.Contains(t, cctx, "Assistant: a1")

	// Sessions are isolated by actor.
	cctx, err = s.Context(ctx, "s1", "other")
	require.NoError(t, err)
	assert.Empty(t, cctx)
}

func TestStoreWindowEviction(t *testing.T) {
	s := New(2)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Save(ctx, "s1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i), "user"))
	}

	cctx, err := s.Context(ctx, "s1", "user")
	require.NoError(t, err)
	assert.NotContains(t, cctx, "q1")
	assert.Contains(t, cctx, "q2")
	assert.Contains(t, cctx, "q3")
}
