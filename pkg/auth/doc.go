// Package auth defines the authentication vocabulary shared by every other
// package in sessionbridge: the authentication mode, the token pair returned
// by the remote API, the partial user profile, and the explicit result type
// returned by refresh and login operations.
//
// The package does not talk to the network and holds no state. Token storage
// lives in package session, upstream calls in package remote, and the refresh
// state machine in package refresh.
//
// # Modes
//
// Three authentication modes are supported, fixed for the lifetime of a
// client:
//
//   - ModeJSON: tokens travel in the response body; the refresh token is kept
//     in memory and mirrored into a cookie readable by the page.
//   - ModeCookie: the access token travels in the body, the refresh token in
//     an HttpOnly cookie only the server sees.
//   - ModeSession: no access token at all; a session cookie set by the remote
//     API is the only credential.
//
// # Results instead of exceptions
//
// Refreshing is expected to fail for anonymous visitors. Instead of returning
// an error that callers must remember to ignore, operations return a Result:
//
//	res := orchestrator.Refresh(ctx, sess, "")
//	switch res.Kind {
//	case auth.Refreshed:
//	    // tokens updated, res.Profile may be nil if the profile read failed
//	case auth.NoCredential:
//	    // anonymous visitor
//	case auth.UpstreamFailure:
//	    // remote rejected or unreachable, treat as anonymous
//	}
package auth
