package relay

import (
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

var postgresDialect = sqlDialect{
	driverName:   "postgres",
	numberedArgs: true,
	schema:       postgresSchema,
}

// NewPostgresDatastore returns a Datastore backed by Postgres. The
// connection and schema are set up on first use.
func NewPostgresDatastore(dsn string) (Datastore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return newSQLDatastore(dsn, postgresDialect), nil
}

func postgresSchema(tables sqlTables) []string {
	messages := postgresQuoteIdentifier(tables.messages)
	registrations := postgresQuoteIdentifier(tables.registrations)
	credentials := postgresQuoteIdentifier(tables.credentials)
	members := postgresQuoteIdentifier(tables.members)
	return []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				retrieval_id TEXT NOT NULL,
				sender_token TEXT NOT NULL,
				message BYTEA,
				payload BYTEA,
				blob_key TEXT NOT NULL DEFAULT '',
				client_version INTEGER NOT NULL,
				downloaded BOOLEAN NOT NULL DEFAULT FALSE,
				created_at BIGINT NOT NULL
			)`, messages),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (retrieval_id)", postgresQuoteIdentifier(tables.messages+"_retrieval_idx"), messages),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (sender_token, downloaded)", postgresQuoteIdentifier(tables.messages+"_pending_idx"), messages),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				registration_id TEXT NOT NULL,
				key_id TEXT NOT NULL DEFAULT '',
				notify_type INTEGER NOT NULL,
				canonical_id TEXT NOT NULL DEFAULT '',
				inserted_at BIGINT NOT NULL
			)`, registrations),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (registration_id, inserted_at)", postgresQuoteIdentifier(tables.registrations+"_token_idx"), registrations),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (key_id, inserted_at)", postgresQuoteIdentifier(tables.registrations+"_key_idx"), registrations),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				provider TEXT NOT NULL,
				lookup_tag TEXT NOT NULL DEFAULT '',
				token TEXT NOT NULL DEFAULT '',
				apns_key TEXT NOT NULL DEFAULT '',
				apns_cert TEXT NOT NULL DEFAULT '',
				inserted_at BIGINT NOT NULL
			)`, credentials),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				user_id INTEGER PRIMARY KEY,
				key_node BYTEA
			)`, members),
	}
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
