package push

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/agentworkforce/msgrelay/internal/relay"
	"github.com/rs/zerolog"
)

const DefaultGCMEndpoint = "https://android.googleapis.com/gcm/send"

type GCMOptions struct {
	Endpoint    string
	HTTPClient  *http.Client
	UserAgent   string
	Credentials CredentialLookup
	Logger      zerolog.Logger
}

// GCMNotifier sends modern Android notifications with the shared API key.
// A replacement registration id returned by the provider is surfaced on the
// Result; persisting it is left to the caller.
type GCMNotifier struct {
	client      formClient
	credentials CredentialLookup
	logger      zerolog.Logger
}

func NewGCMNotifier(opts GCMOptions) *GCMNotifier {
	return &GCMNotifier{
		client:      newFormClient(opts.Endpoint, DefaultGCMEndpoint, opts.HTTPClient, opts.UserAgent),
		credentials: opts.Credentials,
		logger:      opts.Logger,
	}
}

func (*GCMNotifier) Provider() string {
	return relay.ProviderGCM
}

func (n *GCMNotifier) Notify(ctx context.Context, req Request) (Result, error) {
	cred, err := lookupCredential(ctx, n.credentials, relay.ProviderGCM, "")
	if err != nil {
		n.logger.Error().Err(err).Msg("gcm credential lookup failed")
	}
	if cred == nil || cred.Token == "" {
		n.logger.Error().Msg("One GCM API key expected, 0 found.")
		return Result{}, pushNotificationFail()
	}
	registrationID := req.Token
	if req.CanonicalID != "" {
		registrationID = req.CanonicalID
	}
	values := url.Values{}
	values.Set("registration_id", registrationID)
	values.Set("data.msgid", req.RetrievalID)
	resp, err := n.client.post(ctx, "key="+cred.Token, values)
	result, err := androidOutcome(relay.ProviderGCM, resp, err, n.logger)
	if err != nil {
		return result, err
	}
	if canonical := canonicalRegistrationID(result.Text); canonical != "" {
		n.logger.Info().Str("canonical_id", canonical).Msg("canonicalId found")
		result.CanonicalID = canonical
	}
	return result, nil
}

func canonicalRegistrationID(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if value, ok := strings.CutPrefix(line, "registration_id="); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
