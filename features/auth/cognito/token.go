// Package cognito issues machine-to-machine bearer tokens from a Cognito
// user pool app client using the USER_PASSWORD_AUTH flow. Tokens are cached
// and reused until shortly before they expire.
package cognito

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	ciptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultOpTimeout = 10 * time.Second

	// refreshMargin is shaved off the token lifetime so a cached token stays
	// valid while the request carrying it is in flight.
	refreshMargin = time.Minute

	cacheSize = 8
)

// cognitoAPI is the slice of the Cognito IDP client the token source uses.
type cognitoAPI interface {
	InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
}

// Options configures the token source.
type Options struct {
	// Client is the Cognito identity provider client.
	Client *cip.Client
	// ClientID is the user pool app client id.
	ClientID string
	// Username and Password are the machine user's credentials.
	Username string
	Password string
	// Timeout bounds each auth call. Defaults to 10s.
	Timeout time.Duration
}

// TokenSource exchanges machine credentials for bearer tokens.
type TokenSource struct {
	api      cognitoAPI
	clientID string
	username string
	password string
	timeout  time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache *lru.Cache[string, tokenEntry]
}

type tokenEntry struct {
	token     string
	expiresAt time.Time
}

// New returns a TokenSource for the given app client and credentials.
func New(opts Options) (*TokenSource, error) {
	if opts.Client == nil {
		return nil, errors.New("cognito client is required")
	}
	return newTokenSourceWithAPI(opts.Client, opts.ClientID, opts.Username, opts.Password, opts.Timeout)
}

func newTokenSourceWithAPI(api cognitoAPI, clientID, username, password string, timeout time.Duration) (*TokenSource, error) {
	if clientID == "" {
		return nil, errors.New("client id is required")
	}
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	cache, err := lru.New[string, tokenEntry](cacheSize)
	if err != nil {
		return nil, err
	}
	return &TokenSource{
		api:      api,
		clientID: clientID,
		username: username,
		password: password,
		timeout:  timeout,
		now:      time.Now,
		cache:    cache,
	}, nil
}

// Token returns a bearer token, reusing the cached one until it nears
// expiry. The lock is held across the refresh so concurrent callers do not
// stampede Cognito.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	key := ts.clientID + "|" + ts.username

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if entry, ok := ts.cache.Get(key); ok {
		if ts.now().Before(entry.expiresAt) {
			return entry.token, nil
		}
		ts.cache.Remove(key)
	}

	ctx, cancel := ts.withTimeout(ctx)
	defer cancel()
	out, err := ts.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: ciptypes.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(ts.clientID),
		AuthParameters: map[string]string{
			"USERNAME": ts.username,
			"PASSWORD": ts.password,
		},
	})
	if err != nil {
		return "", fmt.Errorf("cognito auth: %w", err)
	}
	result := out.AuthenticationResult
	if result == nil || result.AccessToken == nil {
		return "", errors.New("cognito auth returned no access token")
	}

	ttl := time.Duration(result.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	if ttl > refreshMargin {
		ttl -= refreshMargin
	}
	ts.cache.Add(key, tokenEntry{token: *result.AccessToken, expiresAt: ts.now().Add(ttl)})
	return *result.AccessToken, nil
}

// Invalidate drops all cached tokens so the next call re-authenticates.
// Callers use it after a 401 from a downstream service.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.cache.Purge()
}

func (ts *TokenSource) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, ts.timeout)
}
