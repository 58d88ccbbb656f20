// Package testdb provides utilities for Postgres integration tests.
//
// Tests that need a server database call GetTestDBWithT, which skips the test
// unless DATABASE_URL (or LABELGEN_TEST_DB_URL) is set. Each call creates a
// private schema, points the connection's search_path at it and applies the
// embedded migrations, so tests can run in parallel and commit freely without
// seeing each other's rows. The schema is dropped when the test finishes.
//
//	func TestSomething(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    s := postgres.NewPostgresJobStore(db, store.DefaultRetryPolicy(), nil)
//	    ...
//	}
package testdb
