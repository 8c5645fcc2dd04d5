package relay

import (
	"errors"
	"fmt"
	"testing"
)

func TestFailureMatchesKind(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", Fail(ErrPushServiceFail, "Error=%s", "PushServiceFail"))
	if !errors.Is(err, ErrPushServiceFail) {
		t.Fatalf("expected wrapped failure to match its kind")
	}
	if errors.Is(err, ErrPushNotificationFail) {
		t.Fatalf("expected failure not to match a different kind")
	}
	if FailureMessage(err) != "Error=PushServiceFail" {
		t.Fatalf("unexpected failure message %q", FailureMessage(err))
	}
	if KindName(err) != "push_service_fail" {
		t.Fatalf("unexpected kind name %q", KindName(err))
	}
}

func TestKindNameForeignAndNil(t *testing.T) {
	if KindName(nil) != "ok" {
		t.Fatalf("expected ok for nil")
	}
	if KindName(errors.New("boom")) != "internal" {
		t.Fatalf("expected internal for foreign error")
	}
	if KindOf(errors.New("boom")) != nil {
		t.Fatalf("expected nil kind for foreign error")
	}
}
