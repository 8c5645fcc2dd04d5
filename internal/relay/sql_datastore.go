package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const sqlOperationTimeout = 5 * time.Second

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type sqlTables struct {
	messages      string
	registrations string
	credentials   string
	members       string
}

var defaultSQLTables = sqlTables{
	messages:      "relay_messages",
	registrations: "relay_registrations",
	credentials:   "relay_credentials",
	members:       "relay_members",
}

type sqlDialect struct {
	driverName   string
	numberedArgs bool
	setup        func(db *sql.DB) error
	schema       func(tables sqlTables) []string
}

// sqlDatastore implements Datastore over database/sql. Queries are written
// with '?' placeholders and rebound for dialects that number their args.
type sqlDatastore struct {
	dsn     string
	dialect sqlDialect
	tables  sqlTables
	openDB  sqlOpenFunc
	now     func() time.Time

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func newSQLDatastore(dsn string, dialect sqlDialect) *sqlDatastore {
	return &sqlDatastore{
		dsn:     dsn,
		dialect: dialect,
		tables:  defaultSQLTables,
		openDB:  sql.Open,
		now:     time.Now,
	}
}

func (s *sqlDatastore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driverName, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		if s.dialect.setup != nil {
			if err := s.dialect.setup(db); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()
		for _, stmt := range s.dialect.schema(s.tables) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				s.initErr = fmt.Errorf("init %s schema: %w", s.dialect.driverName, err)
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func (s *sqlDatastore) rebind(query string) string {
	if !s.dialect.numberedArgs {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlDatastore) query(format string, tables ...string) string {
	quoted := make([]any, len(tables))
	for i, table := range tables {
		quoted[i] = postgresQuoteIdentifier(table)
	}
	return s.rebind(fmt.Sprintf(format, quoted...))
}

func (s *sqlDatastore) PutMessage(ctx context.Context, rec *MessageRecord) (int64, error) {
	if rec == nil || strings.TrimSpace(rec.RetrievalID) == "" {
		return 0, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	query := s.query(`
		INSERT INTO %s (retrieval_id, sender_token, message, payload, blob_key, client_version, downloaded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`, s.tables.messages)
	var id int64
	err := s.db.QueryRowContext(ctx, query,
		rec.RetrievalID,
		rec.SenderToken,
		rec.Message,
		nullableBytes(rec.Payload),
		rec.BlobKey,
		rec.ClientVersion,
		rec.Downloaded,
		createdAt.UnixNano(),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	rec.ID = id
	rec.CreatedAt = createdAt
	return id, nil
}

func (s *sqlDatastore) CountMessages(ctx context.Context, retrievalID string) (int, error) {
	return s.count(ctx, s.query("SELECT COUNT(*) FROM %s WHERE retrieval_id = ?", s.tables.messages), retrievalID)
}

func (s *sqlDatastore) CountPending(ctx context.Context, senderToken string) (int, error) {
	return s.count(ctx, s.query("SELECT COUNT(*) FROM %s WHERE sender_token = ? AND downloaded = ?", s.tables.messages), senderToken, false)
}

func (s *sqlDatastore) count(ctx context.Context, query string, args ...any) (int, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *sqlDatastore) MarkDownloaded(ctx context.Context, retrievalID string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, s.query("UPDATE %s SET downloaded = ? WHERE retrieval_id = ?", s.tables.messages), true, retrievalID)
	return err
}

func (s *sqlDatastore) LatestRegistrationByToken(ctx context.Context, registrationID string) (*RegistrationRecord, error) {
	return s.latestRegistration(ctx, "registration_id", registrationID)
}

func (s *sqlDatastore) LatestRegistrationByKey(ctx context.Context, keyID string) (*RegistrationRecord, error) {
	return s.latestRegistration(ctx, "key_id", keyID)
}

func (s *sqlDatastore) latestRegistration(ctx context.Context, column, value string) (*RegistrationRecord, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := s.query(`
		SELECT registration_id, key_id, notify_type, canonical_id, inserted_at
		FROM %s
		WHERE `+column+` = ?
		ORDER BY inserted_at DESC
		LIMIT 1`, s.tables.registrations)
	var (
		rec        RegistrationRecord
		notifyType int32
		insertedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, value).Scan(&rec.RegistrationID, &rec.KeyID, &notifyType, &rec.CanonicalID, &insertedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.NotifyType = DeviceType(notifyType)
	rec.InsertedAt = time.Unix(0, insertedAt).UTC()
	return &rec, nil
}

func (s *sqlDatastore) PutRegistration(ctx context.Context, rec RegistrationRecord) error {
	if strings.TrimSpace(rec.RegistrationID) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	if rec.InsertedAt.IsZero() {
		rec.InsertedAt = s.now().UTC()
	}
	query := s.query(`
		INSERT INTO %s (registration_id, key_id, notify_type, canonical_id, inserted_at)
		VALUES (?, ?, ?, ?, ?)`, s.tables.registrations)
	_, err := s.db.ExecContext(ctx, query, rec.RegistrationID, rec.KeyID, int32(rec.NotifyType), rec.CanonicalID, rec.InsertedAt.UnixNano())
	return err
}

func (s *sqlDatastore) LatestCredential(ctx context.Context, provider, tag string) (*CredentialRecord, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	where := "provider = ?"
	args := []any{provider}
	if tag != "" {
		where += " AND lookup_tag = ?"
		args = append(args, tag)
	}
	query := s.query(`
		SELECT provider, lookup_tag, token, apns_key, apns_cert, inserted_at
		FROM %s
		WHERE `+where+`
		ORDER BY inserted_at DESC
		LIMIT 1`, s.tables.credentials)
	var (
		rec        CredentialRecord
		insertedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&rec.Provider, &rec.LookupTag, &rec.Token, &rec.APNSKey, &rec.APNSCert, &insertedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.InsertedAt = time.Unix(0, insertedAt).UTC()
	return &rec, nil
}

func (s *sqlDatastore) PutCredential(ctx context.Context, rec CredentialRecord) error {
	if strings.TrimSpace(rec.Provider) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	if rec.InsertedAt.IsZero() {
		rec.InsertedAt = s.now().UTC()
	}
	query := s.query(`
		INSERT INTO %s (provider, lookup_tag, token, apns_key, apns_cert, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?)`, s.tables.credentials)
	_, err := s.db.ExecContext(ctx, query, rec.Provider, rec.LookupTag, rec.Token, rec.APNSKey, rec.APNSCert, rec.InsertedAt.UnixNano())
	return err
}

func (s *sqlDatastore) GetMember(ctx context.Context, userID int32) (*Member, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	member := Member{UserID: userID}
	err := s.db.QueryRowContext(ctx, s.query("SELECT key_node FROM %s WHERE user_id = ?", s.tables.members), userID).Scan(&member.KeyNode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *sqlDatastore) PutMember(ctx context.Context, member Member) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	query := s.query(`
		INSERT INTO %s (user_id, key_node)
		VALUES (?, ?)
		ON CONFLICT (user_id)
		DO UPDATE SET key_node = EXCLUDED.key_node`, s.tables.members)
	_, err := s.db.ExecContext(ctx, query, member.UserID, nullableBytes(member.KeyNode))
	return err
}

func (s *sqlDatastore) UpdateMemberKeyNode(ctx context.Context, userID int32, keyNode []byte) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	result, err := s.db.ExecContext(ctx, s.query("UPDATE %s SET key_node = ? WHERE user_id = ?", s.tables.members), nullableBytes(keyNode), userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlDatastore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullableBytes(data []byte) any {
	if data == nil {
		return nil
	}
	return data
}
