package push

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/agentworkforce/msgrelay/internal/relay"
	"github.com/rs/zerolog"
)

type providerCapture struct {
	calls         int
	authorization string
	form          url.Values
}

func newProviderServer(t *testing.T, status int, body string) (*httptest.Server, *providerCapture) {
	t.Helper()
	capture := &providerCapture{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capture.calls++
		capture.authorization = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		capture.form, _ = url.ParseQuery(string(raw))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, capture
}

func TestC2DMNotifierSendsForm(t *testing.T) {
	server, capture := newProviderServer(t, http.StatusOK, "id=0:1234")
	notifier := NewC2DMNotifier(C2DMOptions{
		Endpoint:    server.URL,
		Credentials: staticCredentials{relay.ProviderC2DM: {Provider: relay.ProviderC2DM, Token: "auth-token"}},
		Logger:      zerolog.Nop(),
	})

	result, err := notifier.Notify(context.Background(), Request{Token: "reg-token", RetrievalID: "rid=="})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if result.Text != "id=0:1234" || string(result.Detail) != "id=0:1234" {
		t.Fatalf("unexpected result %+v", result)
	}
	if capture.authorization != "GoogleLogin auth=auth-token" {
		t.Fatalf("unexpected authorization %q", capture.authorization)
	}
	if capture.form.Get("registration_id") != "reg-token" || capture.form.Get("collapse_key") != "rid==" || capture.form.Get("data.msgid") != "rid==" {
		t.Fatalf("unexpected form %v", capture.form)
	}
}

func TestC2DMNotifierMissingCredential(t *testing.T) {
	server, capture := newProviderServer(t, http.StatusOK, "id=1")
	notifier := NewC2DMNotifier(C2DMOptions{Endpoint: server.URL, Credentials: staticCredentials{}})

	_, err := notifier.Notify(context.Background(), Request{Token: "reg", RetrievalID: "rid"})
	if !errors.Is(err, relay.ErrPushNotificationFail) || relay.FailureMessage(err) != "Error=PushNotificationFail" {
		t.Fatalf("expected push notification failure, got %v", err)
	}
	if capture.calls != 0 {
		t.Fatalf("expected no provider call without credential, got %d", capture.calls)
	}
}

func TestAndroidOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		kind    error
		message string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "oops", kind: relay.ErrPushServiceFail, message: "Error=PushServiceFail"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: "", kind: relay.ErrPushNotificationFail, message: "Error=PushNotificationFail"},
		{name: "invalid registration", status: http.StatusOK, body: "Error=InvalidRegistration", kind: relay.ErrInvalidRegistration, message: " Error=InvalidRegistration"},
		{name: "not registered", status: http.StatusOK, body: "Error=NotRegistered", kind: relay.ErrInvalidRegistration, message: " Error=NotRegistered"},
		{name: "quota", status: http.StatusOK, body: "Error=QuotaExceeded", kind: relay.ErrPushNotificationFail, message: " Error=QuotaExceeded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, capture := newProviderServer(t, tc.status, tc.body)
			notifier := NewGCMNotifier(GCMOptions{
				Endpoint:    server.URL,
				Credentials: staticCredentials{relay.ProviderGCM: {Provider: relay.ProviderGCM, Token: "api-key"}},
			})
			_, err := notifier.Notify(context.Background(), Request{Token: "reg", RetrievalID: "rid"})
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			if relay.FailureMessage(err) != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, relay.FailureMessage(err))
			}
			if capture.calls != 1 {
				t.Fatalf("expected exactly one attempt, got %d", capture.calls)
			}
		})
	}
}

func TestAndroidTransportError(t *testing.T) {
	server, _ := newProviderServer(t, http.StatusOK, "id=1")
	endpoint := server.URL
	server.Close()
	notifier := NewGCMNotifier(GCMOptions{
		Endpoint:    endpoint,
		Credentials: staticCredentials{relay.ProviderGCM: {Provider: relay.ProviderGCM, Token: "api-key"}},
	})
	if _, err := notifier.Notify(context.Background(), Request{Token: "reg", RetrievalID: "rid"}); !errors.Is(err, relay.ErrPushNotificationFail) {
		t.Fatalf("expected push notification failure on transport error, got %v", err)
	}
}

func TestGCMNotifierPrefersCanonicalAndSurfacesReplacement(t *testing.T) {
	server, capture := newProviderServer(t, http.StatusOK, "id=0:99\nregistration_id=replacement-token\n")
	notifier := NewGCMNotifier(GCMOptions{
		Endpoint:    server.URL,
		Credentials: staticCredentials{relay.ProviderGCM: {Provider: relay.ProviderGCM, Token: "api-key"}},
	})

	result, err := notifier.Notify(context.Background(), Request{Token: "stale", CanonicalID: "canonical", RetrievalID: "rid"})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if capture.authorization != "key=api-key" {
		t.Fatalf("unexpected authorization %q", capture.authorization)
	}
	if capture.form.Get("registration_id") != "canonical" || capture.form.Get("data.msgid") != "rid" {
		t.Fatalf("unexpected form %v", capture.form)
	}
	if result.CanonicalID != "replacement-token" {
		t.Fatalf("expected surfaced canonical id, got %q", result.CanonicalID)
	}
}
