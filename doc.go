// Package connpool provides a pool of expensive, stateful database sessions.
//
// A pool keeps a core number of sessions open, grows on demand up to a hard
// limit and evicts sessions that stay idle or live too long. Each session
// carries its own prepared statement cache, and any session property a
// caller changes during a checkout is restored before the session is handed
// to the next caller.
//
// The physical driver is injected through a driver.Connector. The pgxsession
// package provides one for PostgreSQL.
//
// Basic usage:
//
//	pool, err := connpool.New(ctx, connpool.Config{
//		Connector:          pgxsession.NewConnector(connConfig),
//		CorePoolSize:       2,
//		MaxPoolSize:        10,
//		ValidationTimeout:  time.Second,
//		StatementCacheSize: 64,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.Close()
//
//	// Acquire a session
//	conn, err := pool.Acquire(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer conn.Close() // or defer conn.Release(ctx)
//
//	stmt, err := conn.Prepare(ctx, "SELECT name FROM users WHERE id = $1")
//	if err != nil {
//		log.Fatal(err)
//	}
//	rows, err := stmt.Query(ctx, 42)
//	...
package connpool
