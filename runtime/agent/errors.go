package agent

import "errors"

// ErrRateLimited reports that the backend refused the turn because of
// throttling. Rate-limiting middleware downshifts its budget when an error
// wraps this sentinel; other callers treat it as retryable.
var ErrRateLimited = errors.New("agent backend rate limited")
