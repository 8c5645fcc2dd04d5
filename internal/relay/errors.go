package relay

import (
	"errors"
	"fmt"
)

var (
	ErrTransportNotSecure   = errors.New("transport not secure")
	ErrConfigMissing        = errors.New("config missing")
	ErrMalformed            = errors.New("malformed request")
	ErrVersionTooOld        = errors.New("client version too old")
	ErrStorageFailed        = errors.New("storage failed")
	ErrNoRegistration       = errors.New("no registration")
	ErrInvalidRegistration  = errors.New("invalid registration")
	ErrPushServiceFail      = errors.New("push service fail")
	ErrPushNotificationFail = errors.New("push notification fail")
	ErrNotImplemented       = errors.New("not implemented")

	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// Failure is a terminal pipeline error. Message is what the client sees in
// the status-0 response; Kind is one of the sentinel errors above.
type Failure struct {
	Kind    error
	Message string
}

func (f *Failure) Error() string {
	if f.Message != "" {
		return f.Message
	}
	if f.Kind != nil {
		return f.Kind.Error()
	}
	return "failure"
}

func (f *Failure) Is(target error) bool {
	return target == f.Kind
}

func (f *Failure) Unwrap() error {
	return f.Kind
}

func Fail(kind error, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FailureMessage returns the client-facing text for err.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Error()
	}
	return err.Error()
}

// KindOf reports the taxonomy entry err belongs to, or nil for foreign errors.
func KindOf(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName is a short label for metrics and logs.
func KindName(err error) string {
	switch KindOf(err) {
	case ErrTransportNotSecure:
		return "transport_not_secure"
	case ErrConfigMissing:
		return "config_missing"
	case ErrMalformed:
		return "malformed"
	case ErrVersionTooOld:
		return "version_too_old"
	case ErrStorageFailed:
		return "storage_failed"
	case ErrNoRegistration:
		return "no_registration"
	case ErrInvalidRegistration:
		return "invalid_registration"
	case ErrPushServiceFail:
		return "push_service_fail"
	case ErrPushNotificationFail:
		return "push_notification_fail"
	case ErrNotImplemented:
		return "not_implemented"
	}
	if err == nil {
		return "ok"
	}
	if errors.Is(err, ErrNotFound) {
		return "not_found"
	}
	return "internal"
}

var kinds = []error{
	ErrTransportNotSecure,
	ErrConfigMissing,
	ErrMalformed,
	ErrVersionTooOld,
	ErrStorageFailed,
	ErrNoRegistration,
	ErrInvalidRegistration,
	ErrPushServiceFail,
	ErrPushNotificationFail,
	ErrNotImplemented,
}
