package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the downloads table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serialises writers anyway; a single connection avoids SQLITE_BUSY
	// when several downloads finish at once.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identifier TEXT NOT NULL,
		version TEXT NOT NULL,
		file_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		bytes INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		recorded_at DATETIME NOT NULL
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create downloads table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_downloads_identifier ON downloads (identifier, recorded_at)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create downloads index: %w", err)
	}

	return db, nil
}
