// Package vtest provides testing helpers for code built on sessionbridge.
//
// The centerpiece is Remote, an in-process fake of the remote API's
// authentication endpoints that understands all three modes, rotates refresh
// credentials like the real API and counts every call so tests can assert on
// coalescing.
//
// # Quick Start
//
//	func TestDashboard(t *testing.T) {
//	    api := vtest.NewRemote(t)
//	    api.AddUser("u1", "ada@example.com", "secret")
//	    rt := api.IssueRefreshToken("u1")
//
//	    sess, rec := vtest.ServerSession(t, auth.ModeJSON, "directus_refresh_token="+rt)
//	    res := refresh.New(remote.New(api.URL())).Refresh(ctx, sess, rt)
//	    if !res.OK() {
//	        t.Fatalf("refresh failed: %v", res.Err)
//	    }
//	    _ = rec
//	}
//
// # Holding refreshes
//
// Hold blocks every refresh until the returned release function is called,
// which makes concurrent-refresh tests deterministic:
//
//	release := api.Hold()
//	// start N goroutines calling Refresh
//	release()
//	if api.RefreshCalls() != 1 { ... }
package vtest
