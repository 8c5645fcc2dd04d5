package relay

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MessageStore interface {
	// PutMessage persists rec and returns the identity assigned to the row.
	PutMessage(ctx context.Context, rec *MessageRecord) (int64, error)
	CountMessages(ctx context.Context, retrievalID string) (int, error)
	// CountPending counts undownloaded messages addressed to senderToken.
	CountPending(ctx context.Context, senderToken string) (int, error)
}

// RegistrationStore lookups return (nil, nil) when no row matches.
type RegistrationStore interface {
	LatestRegistrationByToken(ctx context.Context, registrationID string) (*RegistrationRecord, error)
	LatestRegistrationByKey(ctx context.Context, keyID string) (*RegistrationRecord, error)
	PutRegistration(ctx context.Context, rec RegistrationRecord) error
}

type CredentialStore interface {
	LatestCredential(ctx context.Context, provider, tag string) (*CredentialRecord, error)
	PutCredential(ctx context.Context, rec CredentialRecord) error
}

type MemberStore interface {
	GetMember(ctx context.Context, userID int32) (*Member, error)
	PutMember(ctx context.Context, member Member) error
	UpdateMemberKeyNode(ctx context.Context, userID int32, keyNode []byte) error
}

// DownloadMarker is implemented by stores that let the retrieval side flag
// a message as fetched. The relay itself only reads the flag.
type DownloadMarker interface {
	MarkDownloaded(ctx context.Context, retrievalID string) error
}

type Datastore interface {
	MessageStore
	RegistrationStore
	CredentialStore
	MemberStore
	Close() error
}

type InMemoryDatastore struct {
	mu            sync.Mutex
	nextID        int64
	messages      []MessageRecord
	registrations []RegistrationRecord
	credentials   []CredentialRecord
	members       map[int32]Member
	now           func() time.Time
}

func NewInMemoryDatastore() *InMemoryDatastore {
	return &InMemoryDatastore{
		members: map[int32]Member{},
		now:     time.Now,
	}
}

func (d *InMemoryDatastore) PutMessage(ctx context.Context, rec *MessageRecord) (int64, error) {
	if rec == nil || rec.RetrievalID == "" {
		return 0, ErrInvalidInput
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	clone := *rec
	clone.ID = d.nextID
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = d.now().UTC()
	}
	clone.Message = append([]byte(nil), rec.Message...)
	clone.Payload = append([]byte(nil), rec.Payload...)
	d.messages = append(d.messages, clone)
	rec.ID = clone.ID
	return clone.ID, nil
}

func (d *InMemoryDatastore) CountMessages(ctx context.Context, retrievalID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, msg := range d.messages {
		if msg.RetrievalID == retrievalID {
			count++
		}
	}
	return count, nil
}

func (d *InMemoryDatastore) CountPending(ctx context.Context, senderToken string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, msg := range d.messages {
		if msg.SenderToken == senderToken && !msg.Downloaded {
			count++
		}
	}
	return count, nil
}

func (d *InMemoryDatastore) MarkDownloaded(ctx context.Context, retrievalID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	found := false
	for i := range d.messages {
		if d.messages[i].RetrievalID == retrievalID {
			d.messages[i].Downloaded = true
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (d *InMemoryDatastore) Message(retrievalID string) (MessageRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, msg := range d.messages {
		if msg.RetrievalID == retrievalID {
			return msg, true
		}
	}
	return MessageRecord{}, false
}

func (d *InMemoryDatastore) LatestRegistrationByToken(ctx context.Context, registrationID string) (*RegistrationRecord, error) {
	return d.latestRegistration(func(rec RegistrationRecord) bool {
		return rec.RegistrationID == registrationID
	}), nil
}

func (d *InMemoryDatastore) LatestRegistrationByKey(ctx context.Context, keyID string) (*RegistrationRecord, error) {
	return d.latestRegistration(func(rec RegistrationRecord) bool {
		return rec.KeyID == keyID
	}), nil
}

func (d *InMemoryDatastore) latestRegistration(match func(RegistrationRecord) bool) *RegistrationRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	var latest *RegistrationRecord
	for i := range d.registrations {
		rec := d.registrations[i]
		if !match(rec) {
			continue
		}
		if latest == nil || !rec.InsertedAt.Before(latest.InsertedAt) {
			copied := rec
			latest = &copied
		}
	}
	return latest
}

func (d *InMemoryDatastore) PutRegistration(ctx context.Context, rec RegistrationRecord) error {
	if rec.RegistrationID == "" {
		return ErrInvalidInput
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec.InsertedAt.IsZero() {
		rec.InsertedAt = d.now().UTC()
	}
	d.registrations = append(d.registrations, rec)
	return nil
}

func (d *InMemoryDatastore) LatestCredential(ctx context.Context, provider, tag string) (*CredentialRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	matches := make([]CredentialRecord, 0, len(d.credentials))
	for _, rec := range d.credentials {
		if rec.Provider == provider && (tag == "" || rec.LookupTag == tag) {
			matches = append(matches, rec)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].InsertedAt.After(matches[j].InsertedAt)
	})
	latest := matches[0]
	return &latest, nil
}

func (d *InMemoryDatastore) PutCredential(ctx context.Context, rec CredentialRecord) error {
	if rec.Provider == "" {
		return ErrInvalidInput
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec.InsertedAt.IsZero() {
		rec.InsertedAt = d.now().UTC()
	}
	d.credentials = append(d.credentials, rec)
	return nil
}

func (d *InMemoryDatastore) GetMember(ctx context.Context, userID int32) (*Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	member, ok := d.members[userID]
	if !ok {
		return nil, nil
	}
	member.KeyNode = append([]byte(nil), member.KeyNode...)
	return &member, nil
}

func (d *InMemoryDatastore) PutMember(ctx context.Context, member Member) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	member.KeyNode = append([]byte(nil), member.KeyNode...)
	d.members[member.UserID] = member
	return nil
}

func (d *InMemoryDatastore) UpdateMemberKeyNode(ctx context.Context, userID int32, keyNode []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	member, ok := d.members[userID]
	if !ok {
		return ErrNotFound
	}
	member.KeyNode = append([]byte(nil), keyNode...)
	d.members[userID] = member
	return nil
}

func (d *InMemoryDatastore) Close() error {
	return nil
}
