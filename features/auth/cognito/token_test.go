package cognito

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	ciptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCognito struct {
	calls     int
	lastInput *cip.InitiateAuthInput
	expiresIn int32
	err       error
	noResult  bool
}

func (f *fakeCognito) InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error) {
	f.calls++
	f.lastInput = in
	if f.err != nil {
		return nil, f.err
	}
	if f.noResult {
		return &cip.InitiateAuthOutput{}, nil
	}
	return &cip.InitiateAuthOutput{
		AuthenticationResult: &ciptypes.AuthenticationResultType{
			AccessToken: aws.String(fmt.Sprintf("tok-%d", f.calls)),
			ExpiresIn:   f.expiresIn,
		},
	}, nil
}

func mustNewTestSource(t *testing.T, api cognitoAPI) *TokenSource {
	t.Helper()
	ts, err := newTokenSourceWithAPI(api, "client-1", "opsagent", "s3cret", 0)
	require.NoError(t, err)
	return ts
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{ClientID: "c", Username: "u", Password: "p"})
	require.EqualError(t, err, "cognito client is required")

	_, err = newTokenSourceWithAPI(&fakeCognito{}, "", "u", "p", 0)
	require.EqualError(t, err, "client id is required")

	_, err = newTokenSourceWithAPI(&fakeCognito{}, "c", "", "p", 0)
	require.EqualError(t, err, "username and password are required")

	_, err = newTokenSourceWithAPI(&fakeCognito{}, "c", "u", "", 0)
	require.EqualError(t, err, "username and password are required")
}

func TestTokenIssuesPasswordAuth(t *testing.T) {
	api := &fakeCognito{expiresIn: 3600}
	ts := mustNewTestSource(t, api)

	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	require.NotNil(t, api.lastInput)
	assert.Equal(t, ciptypes.AuthFlowTypeUserPasswordAuth, api.lastInput.AuthFlow)
	assert.Equal(t, "client-1", aws.ToString(api.lastInput.ClientId))
	assert.Equal(t, map[string]string{
		"USERNAME": "opsagent",
		"PASSWORD": "s3cret",
	}, api.lastInput.AuthParameters)
}

func TestTokenCachesUntilExpiry(t *testing.T) {
	api := &fakeCognito{expiresIn: 120}
	ts := mustNewTestSource(t, api)

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := base
	ts.now = func() time.Time { return now }

	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, 1, api.calls)

	// Still within the 120s lifetime minus the refresh margin.
	now = base.Add(59 * time.Second)
	tok, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, 1, api.calls, "cached token must be reused")

	// Past the margin-adjusted expiry the source re-authenticates.
	now = base.Add(61 * time.Second)
	tok, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 2, api.calls)
}

func TestTokenInvalidateForcesRefresh(t *testing.T) {
	api := &fakeCognito{expiresIn: 3600}
	ts := mustNewTestSource(t, api)

	_, err := ts.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, api.calls)

	ts.Invalidate()

	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 2, api.calls)
}

func TestTokenPropagatesAuthError(t *testing.T) {
	api := &fakeCognito{err: errors.New("NotAuthorizedException")}
	ts := mustNewTestSource(t, api)

	_, err := ts.Token(context.Background())
	require.EqualError(t, err, "cognito auth: NotAuthorizedException")
}

func TestTokenRequiresAccessToken(t *testing.T) {
	api := &fakeCognito{noResult: true}
	ts := mustNewTestSource(t, api)

	_, err := ts.Token(context.Background())
	require.EqualError(t, err, "cognito auth returned no access token")
	assert.Equal(t, 1, api.calls)

	// A missing result is not cached.
	_, err = ts.Token(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, api.calls)
}
