package events

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultCanonicalIDSubject receives replacement registration ids reported
// by the modern Android provider.
const DefaultCanonicalIDSubject = "msgrelay.registration.canonical"

// CanonicalIDEvent announces that a provider accepted a notification but
// named a newer registration id for the device. The relay never writes
// registrations itself; whoever owns them consumes these events.
type CanonicalIDEvent struct {
	Token       string    `json:"token"`
	CanonicalID string    `json:"canonicalId"`
	DeviceType  int32     `json:"deviceType"`
	RetrievalID string    `json:"retrievalId"`
	ObservedAt  time.Time `json:"observedAt"`
}

type Publisher interface {
	PublishCanonicalID(ctx context.Context, event CanonicalIDEvent) error
	Close()
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishCanonicalID(ctx context.Context, event CanonicalIDEvent) error {
	return nil
}

func (NopPublisher) Close() {}

func encodeEvent(event CanonicalIDEvent) ([]byte, error) {
	if event.ObservedAt.IsZero() {
		event.ObservedAt = time.Now().UTC()
	}
	return json.Marshal(event)
}
