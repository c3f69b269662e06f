// Package session holds per-context authentication state.
//
// A Session is the explicit replacement for process-wide session globals. One
// Session is built at the start of every server request (ExecServer) and
// discarded when the request ends; one Session is built for every open page
// (ExecClient) and lives as long as the page's live connection. Sessions are
// never shared: a token obtained while serving one request can never be read
// while serving another.
//
// Every Session carries:
//
//   - a TokenStore holding the access/refresh pair and expiry;
//   - a UserSlot holding the current profile;
//   - a Jar of cookies that travel with every upstream call ("credentials:
//     include"), seeded from the browser's Cookie header;
//   - a CookieSink receiving the remote API's Set-Cookie lines;
//   - a one-shot ready signal closed once bootstrap (server) or the mount
//     task (client) has finished;
//   - a coalescing group so concurrent refreshes share one upstream call.
//
// # Snapshots
//
// The package also provides short-lived one-shot storage used to hand state
// from the server context to the client context: the token pair and profile
// established while rendering a page, and the Set-Cookie lines a live page
// needs the browser to store.
//
//	store := session.NewMemoryStore()
//	// or
//	store := session.NewRedisStore(redis.NewClient(&redis.Options{Addr: addr}))
//	// or
//	pool, _ := pgxpool.New(ctx, databaseURL)
//	store := session.NewPostgresStore(pool)
//
//	key, _ := session.SaveSnapshot(ctx, store, sess.Snapshot(), time.Minute)
//	snap, ok, _ := session.TakeSnapshot(ctx, store, key)
package session
