package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoCredential is reported when a refresh was requested but nothing could
// be refreshed: no refresh token in memory, no refresh cookie, no session
// cookie. It means "anonymous", not "broken".
var ErrNoCredential = errors.New("auth: no refresh credential")

// UpstreamError is reported when the remote API rejected a refresh or login,
// or could not be reached at all (Status is 0 in that case).
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("auth: %s: upstream status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("auth: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Unauthorized reports whether the remote API answered 401 or 403, which
// means the credential itself is bad rather than the network.
func (e *UpstreamError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// ProfileError is reported when tokens were obtained but the following
// profile read failed. The tokens are kept.
type ProfileError struct {
	Err error
}

func (e *ProfileError) Error() string { return "auth: profile read failed: " + e.Err.Error() }

func (e *ProfileError) Unwrap() error { return e.Err }

// Kind classifies the outcome of a refresh or login.
type Kind int

const (
	// NoCredential: nothing to refresh; the session is anonymous.
	NoCredential Kind = iota
	// UpstreamFailure: the remote API rejected the credential or was unreachable.
	UpstreamFailure
	// Refreshed: a new token pair was stored.
	Refreshed
)

func (k Kind) String() string {
	switch k {
	case NoCredential:
		return "no_credential"
	case UpstreamFailure:
		return "upstream_failure"
	case Refreshed:
		return "refreshed"
	default:
		return "unknown"
	}
}

// Result is the explicit outcome of a refresh or login.
type Result struct {
	Kind Kind

	// Pair is the stored token pair when Kind is Refreshed.
	Pair TokenPair

	// Profile is the freshly read profile, nil when the read failed or was
	// skipped.
	Profile *Profile

	// SetCookies are the raw Set-Cookie header values returned by a
	// successful call, in order. They are dropped when the call failed.
	SetCookies []string

	// Err is ErrNoCredential or an *UpstreamError when Kind is not Refreshed.
	Err error

	// ProfileErr is a *ProfileError when the tokens were refreshed but the
	// profile read failed.
	ProfileErr error

	// Shared is true when this caller joined a refresh already in flight.
	Shared bool
}

// OK reports whether new tokens were obtained.
func (r Result) OK() bool { return r.Kind == Refreshed }

// Anonymous builds a NoCredential result.
func Anonymous() Result {
	return Result{Kind: NoCredential, Err: ErrNoCredential}
}

// Failed builds an UpstreamFailure result.
func Failed(op string, status int, err error) Result {
	return Result{Kind: UpstreamFailure, Err: &UpstreamError{Op: op, Status: status, Err: err}}
}
