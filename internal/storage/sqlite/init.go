package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite journal at path and creates the transfers table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY,
		transfer_id TEXT UNIQUE NOT NULL,
		url TEXT NOT NULL,
		file_path TEXT,
		status TEXT DEFAULT 'pending',
		code INTEGER DEFAULT 0,
		bytes INTEGER DEFAULT 0,
		content_type TEXT,
		locked_by TEXT,
		created_at DATETIME,
		finished_at DATETIME
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create transfers table: %w", err)
	}

	return db, nil
}
