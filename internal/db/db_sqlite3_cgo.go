//go:build cgo && sqlite3_cgo

package db

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const (
	driverID   = "mattn/go-sqlite3"
	driverName = "sqlite3"
)

// fileDSN uses the driver's own connection parameters so every pooled
// connection gets the busy timeout.
func fileDSN(path string) string {
	return fmt.Sprintf("file:%s?mode=rwc&_txlock=immediate&_busy_timeout=%d", path, busyTimeoutMs)
}
