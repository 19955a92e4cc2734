//go:build cgo

package sqlitedriver

import (
	_ "github.com/mutecomm/go-sqlcipher/v4" // registers the "sqlite3" driver
)

// EncryptionSupported reports whether the active SQLite driver accepts
// SQLCipher PRAGMA key. True when built with CGO.
const EncryptionSupported = true
