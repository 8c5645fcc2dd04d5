package relay

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDialect = sqlDialect{
	driverName: "sqlite",
	setup:      sqliteSetup,
	schema:     sqliteSchema,
}

// NewSQLiteDatastore opens (creating if needed) a SQLite database at path.
// ":memory:" is accepted for throwaway stores.
func NewSQLiteDatastore(path string) (Datastore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
	}
	return newSQLDatastore(path, sqliteDialect), nil
}

func sqliteSetup(db *sql.DB) error {
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	return nil
}

func sqliteSchema(tables sqlTables) []string {
	messages := postgresQuoteIdentifier(tables.messages)
	registrations := postgresQuoteIdentifier(tables.registrations)
	credentials := postgresQuoteIdentifier(tables.credentials)
	members := postgresQuoteIdentifier(tables.members)
	return []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				retrieval_id TEXT NOT NULL,
				sender_token TEXT NOT NULL,
				message BLOB,
				payload BLOB,
				blob_key TEXT NOT NULL DEFAULT '',
				client_version INTEGER NOT NULL,
				downloaded INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL
			)`, messages),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (retrieval_id)", postgresQuoteIdentifier(tables.messages+"_retrieval_idx"), messages),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (sender_token, downloaded)", postgresQuoteIdentifier(tables.messages+"_pending_idx"), messages),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				registration_id TEXT NOT NULL,
				key_id TEXT NOT NULL DEFAULT '',
				notify_type INTEGER NOT NULL,
				canonical_id TEXT NOT NULL DEFAULT '',
				inserted_at INTEGER NOT NULL
			)`, registrations),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (registration_id, inserted_at)", postgresQuoteIdentifier(tables.registrations+"_token_idx"), registrations),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (key_id, inserted_at)", postgresQuoteIdentifier(tables.registrations+"_key_idx"), registrations),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				provider TEXT NOT NULL,
				lookup_tag TEXT NOT NULL DEFAULT '',
				token TEXT NOT NULL DEFAULT '',
				apns_key TEXT NOT NULL DEFAULT '',
				apns_cert TEXT NOT NULL DEFAULT '',
				inserted_at INTEGER NOT NULL
			)`, credentials),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				user_id INTEGER PRIMARY KEY,
				key_node BLOB
			)`, members),
	}
}
