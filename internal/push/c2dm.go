package push

import (
	"context"
	"net/http"
	"net/url"

	"github.com/agentworkforce/msgrelay/internal/relay"
	"github.com/rs/zerolog"
)

const DefaultC2DMEndpoint = "https://android.apis.google.com/c2dm/send"

type C2DMOptions struct {
	Endpoint    string
	HTTPClient  *http.Client
	UserAgent   string
	Credentials CredentialLookup
	Logger      zerolog.Logger
}

// C2DMNotifier sends legacy Android notifications using the shared
// ClientLogin token.
type C2DMNotifier struct {
	client      formClient
	credentials CredentialLookup
	logger      zerolog.Logger
}

func NewC2DMNotifier(opts C2DMOptions) *C2DMNotifier {
	return &C2DMNotifier{
		client:      newFormClient(opts.Endpoint, DefaultC2DMEndpoint, opts.HTTPClient, opts.UserAgent),
		credentials: opts.Credentials,
		logger:      opts.Logger,
	}
}

func (*C2DMNotifier) Provider() string {
	return relay.ProviderC2DM
}

func (n *C2DMNotifier) Notify(ctx context.Context, req Request) (Result, error) {
	cred, err := lookupCredential(ctx, n.credentials, relay.ProviderC2DM, "")
	if err != nil {
		n.logger.Error().Err(err).Msg("c2dm credential lookup failed")
	}
	if cred == nil || cred.Token == "" {
		n.logger.Error().Msg("One C2DM authorization token expected, 0 found.")
		return Result{}, pushNotificationFail()
	}
	values := url.Values{}
	values.Set("registration_id", req.Token)
	values.Set("collapse_key", req.RetrievalID)
	values.Set("data.msgid", req.RetrievalID)
	resp, err := n.client.post(ctx, "GoogleLogin auth="+cred.Token, values)
	return androidOutcome(relay.ProviderC2DM, resp, err, n.logger)
}

func lookupCredential(ctx context.Context, credentials CredentialLookup, provider, tag string) (*relay.CredentialRecord, error) {
	if credentials == nil {
		return nil, nil
	}
	return credentials.LatestCredential(ctx, provider, tag)
}
