//go:build cgo

package catalog

import (
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

func dataSourceName(path string) string {
	return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL&_foreign_keys=on&_txlock=immediate"
}
