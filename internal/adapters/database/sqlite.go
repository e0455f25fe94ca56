package database

import (
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const SQLITE_DRIVER_NAME = "sqlite"

// In-memory database, private to the returned handle
const SQLITE_IN_MEMORY = ":memory:"

// NewSQLiteDatabase opens the database at path, creating the file if needed.
// The handle is limited to a single connection so in-memory databases stay shared.
func NewSQLiteDatabase(path string) (*sqlx.DB, error) {
	dsn := path
	if path != SQLITE_IN_MEMORY {
		query := url.Values{}
		query.Add("_pragma", "busy_timeout(5000)")
		query.Add("_pragma", "journal_mode(WAL)")
		dsn = "file:" + path + "?" + query.Encode()
	}

	db, err := sqlx.Connect(SQLITE_DRIVER_NAME, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	return db, nil
}
