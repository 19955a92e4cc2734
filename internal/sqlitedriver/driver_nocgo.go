//go:build !cgo

package sqlitedriver

import (
	"database/sql"

	"modernc.org/sqlite"
)

func init() {
	sql.Register("sqlite3", &sqlite.Driver{})
}

// EncryptionSupported reports whether the active SQLite driver accepts
// SQLCipher PRAGMA key. False when built without CGO.
const EncryptionSupported = false
