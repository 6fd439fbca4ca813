// Package store is the reference query engine: it compiles finished queryir
// queries with internal/querysql and runs them through sqlx against SQLite
// (mattn/go-sqlite3) or PostgreSQL (lib/pq).
//
// # Engine contract
//
//   - Rows returns every result row with raw driver values; casting to column
//     types is the mapper's job.
//   - Scalar returns the first column of the first row, nil for no rows.
//   - MaxInList bounds the number of values a preloader may put in one IN
//     list (999 for SQLite, the bind-parameter limit for PostgreSQL).
//   - Driver failures are returned as qerr EXECUTION errors carrying the SQL.
//     Nothing is retried.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - One open connection, so ":memory:" databases are shared by every query
//
// Every executed query is logged at Debug with a UUIDv7 query id.
package store
