//go:build !sqlite3_cgo

package db

import (
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)

// fileDSN applies the busy timeout through _pragma so every pooled
// connection gets it.
func fileDSN(path string) string {
	return fmt.Sprintf("file:%s?mode=rwc&_txlock=immediate&_pragma=busy_timeout(%d)", path, busyTimeoutMs)
}
