// Package blob defines the durable artifact store that holds full analysis
// and execution reports, keyed hierarchically by date and service.
package blob

import (
	"context"
	"errors"
)

// Store persists report artifacts. Implementations are durable object stores;
// keys are slash-separated paths owned by the caller.
type Store interface {
	// Put writes an artifact and returns a browsable URL for it. meta carries
	// optional object metadata; implementations that cannot attach metadata
	// ignore it.
	Put(ctx context.Context, key, contentType string, body []byte, meta map[string]string) (url string, err error)

	// Get reads an artifact. Returns ErrNotFound when the key does not
	// exist.
	Get(ctx context.Context, key string) ([]byte, error)
}

// ErrNotFound indicates the requested artifact does not exist.
var ErrNotFound = errors.New("artifact not found")
