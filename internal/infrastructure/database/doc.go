// Package database provides SQLite connectivity for Fleetcore.
//
// It wraps database/sql with:
//   - Connection setup (WAL mode, busy timeout, foreign keys)
//   - Embedded schema migrations (see the migrations package)
//   - Health checks for the monitoring endpoints
//
// # Concurrency
//
// SQLite supports one writer at a time. The pool is limited to a single
// connection, which serialises all transactions; telemetry handlers and
// provisioning operations each open their own short transaction against
// that connection.
//
// # Migrations
//
// SQL files are embedded into the binary by the migrations package and
// applied by Migrate at startup. Each migration runs in its own
// transaction and is recorded in schema_migrations.
package database
