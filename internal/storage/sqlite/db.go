package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// NowMillis evaluates to the current unix time in milliseconds using
// SQLite's own clock.
const NowMillis = `CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER)`

func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	// pragmas via DSN
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS secrets (
	id TEXT PRIMARY KEY,
	ciphertext BLOB NOT NULL,
	iv BLOB NOT NULL CHECK (length(iv) = 12),
	views_remaining INTEGER NOT NULL DEFAULT 1,

	-- unix milliseconds, from the database clock
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_secrets_created_at ON secrets(created_at);
CREATE INDEX IF NOT EXISTS ix_secrets_expires_at ON secrets(expires_at);
`
	_, err := db.Exec(schema)
	return err
}
