// Package sqlitedriver registers a SQLite database/sql driver under the
// name "sqlite3". With CGO (the default on macOS/Linux) it uses
// go-sqlcipher, which also carries SQLCipher support. Without CGO
// (typical on Windows without GCC) it falls back to the pure-Go
// modernc.org/sqlite driver.
//
// Import this package for its side effects only:
//
//	import _ "github.com/teradata-labs/tapestry/internal/sqlitedriver"
package sqlitedriver
