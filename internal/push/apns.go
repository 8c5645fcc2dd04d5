package push

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"github.com/agentworkforce/msgrelay/internal/relay"
	"github.com/rs/zerolog"
)

const (
	apnsAlertKey = "title_NotifyFileAvailable"
	apnsSound    = "default"

	apnsStatusOK              = 0
	apnsStatusProcessingError = 1
	apnsStatusMissingToken    = 2
	apnsStatusInvalidSize     = 5
	apnsStatusInvalidToken    = 8
	apnsStatusShutdown        = 10
)

type APNSOptions struct {
	Credentials  CredentialLookup
	Pending      PendingCounter
	Gateway      Gateway
	Certificates *CertificateLoader
	Expiry       time.Duration
	Identifier   func() uint32
	Logger       zerolog.Logger
}

// APNSNotifier sends one notification per dispatch through the binary
// gateway. The badge is the recipient's count of undownloaded messages.
type APNSNotifier struct {
	credentials CredentialLookup
	pending     PendingCounter
	gateway     Gateway
	certs       *CertificateLoader
	expiry      time.Duration
	identifier  func() uint32
	logger      zerolog.Logger
}

func NewAPNSNotifier(opts APNSOptions) *APNSNotifier {
	if opts.Gateway == nil {
		opts.Gateway = NewTLSGateway(TLSGatewayOptions{})
	}
	if opts.Certificates == nil {
		opts.Certificates = NewStaticCertificateLoader()
	}
	if opts.Identifier == nil {
		opts.Identifier = rand.Uint32
	}
	if opts.Expiry <= 0 {
		opts.Expiry = 24 * time.Hour
	}
	return &APNSNotifier{
		credentials: opts.Credentials,
		pending:     opts.Pending,
		gateway:     opts.Gateway,
		certs:       opts.Certificates,
		expiry:      opts.Expiry,
		identifier:  opts.Identifier,
		logger:      opts.Logger,
	}
}

func (*APNSNotifier) Provider() string {
	return relay.ProviderAPNS
}

func (n *APNSNotifier) Notify(ctx context.Context, req Request) (Result, error) {
	tag := relay.TagTest
	if req.Production {
		tag = relay.TagProduction
	}
	logger := n.logger.With().Str("retrieval_id", req.RetrievalID).Str("tag", tag).Logger()

	cred, err := lookupCredential(ctx, n.credentials, relay.ProviderAPNS, tag)
	if err != nil {
		logger.Error().Err(err).Msg("apns credential lookup failed")
	}
	if cred == nil {
		logger.Error().Msg("One APNS credential expected, 0 found.")
		return Result{}, pushNotificationFail()
	}
	cert, err := n.certs.Load(cred.APNSCert, cred.APNSKey)
	if err != nil {
		logger.Error().Err(err).Msg("apns certificate load failed")
		return Result{}, pushNotificationFail()
	}

	badge := 0
	if n.pending != nil {
		if badge, err = n.pending.CountPending(ctx, req.Token); err != nil {
			logger.Warn().Err(err).Msg("badge count failed")
			badge = 0
		}
	}
	payload, err := buildAPNSPayload(badge, req.RetrievalID)
	if err != nil {
		return Result{}, pushNotificationFail()
	}

	sent, err := n.gateway.Send(ctx, cert, req.Production, Notification{
		Identifier: n.identifier(),
		Expiry:     time.Now().Add(n.expiry),
		Token:      req.Token,
		Payload:    payload,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Info().Msg("DeadlineExceededError - timeout.")
		} else {
			logger.Error().Err(err).Msg("apns send failed")
		}
		return Result{}, pushNotificationFail()
	}
	return mapAPNSStatus(sent, logger)
}

func mapAPNSStatus(status uint8, logger zerolog.Logger) (Result, error) {
	switch status {
	case apnsStatusOK:
		logger.Info().Msg("Remote Notification successfully sent to APNS, code: 0")
		return Result{
			Provider: relay.ProviderAPNS,
			Status:   apnsStatusOK,
			Detail:   binary.BigEndian.AppendUint32(nil, apnsStatusOK),
			Text:     strconv.Itoa(apnsStatusOK),
		}, nil
	case apnsStatusProcessingError, apnsStatusShutdown:
		logger.Error().Int("status", int(status)).Msg("APNS internal error or unavailable")
		return Result{}, pushServiceFail()
	case apnsStatusMissingToken, apnsStatusInvalidSize, apnsStatusInvalidToken:
		return Result{}, invalidRegistration()
	default:
		logger.Error().Int("status", int(status)).Msg("APNS Error")
		return Result{}, pushServiceFail()
	}
}

type apnsAlert struct {
	Body   string `json:"body"`
	LocKey string `json:"loc-key"`
}

type apnsAPS struct {
	Alert apnsAlert `json:"alert"`
	Badge int       `json:"badge"`
	Sound string    `json:"sound"`
}

type apnsPayload struct {
	APS   apnsAPS `json:"aps"`
	Nonce string  `json:"nonce"`
}

func buildAPNSPayload(badge int, retrievalID string) ([]byte, error) {
	return json.Marshal(apnsPayload{
		APS: apnsAPS{
			Alert: apnsAlert{Body: apnsAlertKey, LocKey: apnsAlertKey},
			Badge: badge,
			Sound: apnsSound,
		},
		Nonce: retrievalID,
	})
}
