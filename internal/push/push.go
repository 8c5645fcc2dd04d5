package push

import (
	"context"
	"errors"
	"sync"

	"github.com/agentworkforce/msgrelay/internal/relay"
)

// Request is one notification announcing a stored message.
type Request struct {
	DeviceType  relay.DeviceType
	Token       string
	CanonicalID string
	RetrievalID string
	Production  bool
}

// Result is a provider's success outcome. Detail is the raw continuation
// written after the success marker in binary responses; Text renders it for
// text responses and logs.
type Result struct {
	Provider    string
	Status      int32
	Detail      []byte
	Text        string
	CanonicalID string
}

// Notifier sends a single notification through one provider. Failures are
// *relay.Failure values carrying the normalized kind.
type Notifier interface {
	Provider() string
	Notify(ctx context.Context, req Request) (Result, error)
}

// CredentialLookup is satisfied by relay.CredentialCache and by any
// relay.CredentialStore.
type CredentialLookup interface {
	LatestCredential(ctx context.Context, provider, tag string) (*relay.CredentialRecord, error)
}

// PendingCounter counts undownloaded messages for a recipient token.
type PendingCounter interface {
	CountPending(ctx context.Context, senderToken string) (int, error)
}

// Router maps device types to notifiers. Device type none is always
// registered; anything without a notifier is reported as not implemented.
type Router struct {
	mu        sync.RWMutex
	notifiers map[relay.DeviceType]Notifier
}

func NewRouter() *Router {
	r := &Router{notifiers: map[relay.DeviceType]Notifier{}}
	r.Handle(relay.DeviceNone, noRegistration{})
	return r
}

func (r *Router) Handle(deviceType relay.DeviceType, notifier Notifier) {
	if notifier == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[deviceType] = notifier
}

func (r *Router) Notifier(deviceType relay.DeviceType) (Notifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	notifier, ok := r.notifiers[deviceType]
	return notifier, ok
}

func (r *Router) Dispatch(ctx context.Context, req Request) (Result, error) {
	notifier, ok := r.Notifier(req.DeviceType)
	if !ok {
		return Result{}, relay.Fail(relay.ErrNotImplemented, "Sending to device type %d not yet implemented.", int32(req.DeviceType))
	}
	result, err := notifier.Notify(ctx, req)
	if err == nil {
		if result.Provider == "" {
			result.Provider = notifier.Provider()
		}
		return result, nil
	}
	var failure *relay.Failure
	if !errors.As(err, &failure) {
		return Result{}, relay.Fail(relay.ErrPushNotificationFail, "Error=PushNotificationFail")
	}
	return Result{}, err
}

type noRegistration struct{}

func (noRegistration) Provider() string {
	return "none"
}

func (noRegistration) Notify(ctx context.Context, req Request) (Result, error) {
	return Result{}, relay.Fail(relay.ErrNoRegistration, "User has no push registration id.")
}

func pushNotificationFail() error {
	return relay.Fail(relay.ErrPushNotificationFail, "Error=PushNotificationFail")
}

func pushServiceFail() error {
	return relay.Fail(relay.ErrPushServiceFail, "Error=PushServiceFail")
}

func invalidRegistration() error {
	return relay.Fail(relay.ErrInvalidRegistration, "Error=InvalidRegistration")
}
