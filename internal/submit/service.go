package submit

import (
	"context"
	"errors"
	"time"

	"github.com/agentworkforce/msgrelay/internal/events"
	"github.com/agentworkforce/msgrelay/internal/metrics"
	"github.com/agentworkforce/msgrelay/internal/push"
	"github.com/agentworkforce/msgrelay/internal/relay"
	"github.com/agentworkforce/msgrelay/internal/wire"
	"github.com/rs/zerolog"
)

type Options struct {
	Coordinator *relay.Coordinator
	Resolver    *relay.Resolver
	Router      *push.Router
	Members     relay.MemberStore
	Events      events.Publisher
	// VersionID is the deployment id; see relay.ParseDeployment.
	VersionID        string
	MinClientVersion int32
	Logger           zerolog.Logger
}

// SecureSignal says whether the request arrived over TLS. Present is false
// when nothing upstream reported it.
type SecureSignal struct {
	Value   string
	Present bool
}

// Response is an in-band reply. Err is nil on success; the body already
// encodes the failure otherwise.
type Response struct {
	Format wire.Format
	Body   []byte
	Err    error
}

// Service runs the submission and key-node sync pipelines. Each call
// short-circuits to a status-0 response at the first failing stage.
type Service struct {
	coordinator      *relay.Coordinator
	resolver         *relay.Resolver
	router           *push.Router
	members          relay.MemberStore
	events           events.Publisher
	versionID        string
	minClientVersion int32
	logger           zerolog.Logger
}

func NewService(opts Options) *Service {
	if opts.Events == nil {
		opts.Events = events.NopPublisher{}
	}
	if opts.Router == nil {
		opts.Router = push.NewRouter()
	}
	return &Service{
		coordinator:      opts.Coordinator,
		resolver:         opts.Resolver,
		router:           opts.Router,
		members:          opts.Members,
		events:           opts.Events,
		versionID:        opts.VersionID,
		minClientVersion: opts.MinClientVersion,
		logger:           opts.Logger,
	}
}

// Deployment parses the configured deployment id.
func (s *Service) Deployment() (relay.Deployment, error) {
	return relay.ParseDeployment(s.versionID)
}

func (s *Service) preflight(signal SecureSignal) (relay.Deployment, error) {
	if err := relay.CheckSecureChannel(signal.Value, signal.Present); err != nil {
		return relay.Deployment{}, err
	}
	return s.Deployment()
}

func (s *Service) Submit(ctx context.Context, signal SecureSignal, format wire.Format, body []byte) Response {
	resp := s.submit(ctx, signal, format, body)
	metrics.ObserveSubmission(format.String(), resp.Err)
	return resp
}

func (s *Service) submit(ctx context.Context, signal SecureSignal, format wire.Format, body []byte) Response {
	deployment, err := s.preflight(signal)
	if err != nil {
		return s.failure(format, relay.Deployment{}, false, err)
	}

	req, err := wire.Decode(body, format, s.minClientVersion)
	if err != nil {
		return s.failure(format, deployment, true, err)
	}
	logger := s.logger.With().Str("retrieval_id", req.RetrievalID).Logger()
	logger.Debug().
		Int32("client_version", req.ClientVersion).
		Int("message_bytes", len(req.Message)).
		Int("file_bytes", len(req.File)).
		Stringer("device_type", req.DeviceType).
		Bool("device_type_declared", req.DeviceTypeDeclared).
		Msg("submission decoded")

	rec := &relay.MessageRecord{
		RetrievalID:   req.RetrievalID,
		SenderToken:   req.Token,
		Message:       req.Message,
		Payload:       req.File,
		ClientVersion: req.ClientVersion,
	}
	report, err := s.coordinator.CommitAndAwaitVisible(ctx, rec)
	if err != nil {
		return s.failure(format, deployment, true, err)
	}
	logger.Debug().Int64("id", report.ID).Int("polls", report.Polls).Dur("waited", report.Waited).Msg("message stored")

	resolution := s.resolver.Resolve(ctx, req.Token, req.DeviceType)
	pushReq := push.Request{
		DeviceType:  resolution.DeviceType,
		Token:       resolution.Token,
		CanonicalID: resolution.CanonicalID,
		RetrievalID: req.RetrievalID,
		Production:  deployment.Production,
	}
	start := time.Now()
	result, err := s.router.Dispatch(ctx, pushReq)
	metrics.ObserveDispatch(resolution.DeviceType, err, time.Since(start))
	if err != nil {
		return s.failure(format, deployment, true, err)
	}
	if result.CanonicalID != "" && result.CanonicalID != resolution.Token {
		s.publishCanonicalID(ctx, pushReq, result.CanonicalID, logger)
	}

	logger.Info().Str("provider", result.Provider).Str("response", result.Text).Msg("notification sent")
	return Response{
		Format: format,
		Body:   wire.EncodeSubmitSuccess(format, deployment.ServerVersion, result.Detail, result.Text),
	}
}

func (s *Service) publishCanonicalID(ctx context.Context, req push.Request, canonicalID string, logger zerolog.Logger) {
	err := s.events.PublishCanonicalID(ctx, events.CanonicalIDEvent{
		Token:       req.Token,
		CanonicalID: canonicalID,
		DeviceType:  int32(req.DeviceType),
		RetrievalID: req.RetrievalID,
	})
	metrics.ObserveCanonicalIDEvent(err)
	if err != nil {
		logger.Warn().Err(err).Msg("canonical id publish failed")
	}
}

// SyncKeyNodes returns a member's key node, first replacing another
// member's key node when the request posts one.
func (s *Service) SyncKeyNodes(ctx context.Context, signal SecureSignal, format wire.Format, body []byte) Response {
	resp := s.syncKeyNodes(ctx, signal, format, body)
	metrics.ObserveKeyNodeSync(resp.Err)
	return resp
}

func (s *Service) syncKeyNodes(ctx context.Context, signal SecureSignal, format wire.Format, body []byte) Response {
	deployment, err := s.preflight(signal)
	if err != nil {
		return s.failure(format, relay.Deployment{}, false, err)
	}
	req, err := wire.DecodeSync(body, format, s.minClientVersion)
	if err != nil {
		return s.failure(format, deployment, true, err)
	}
	if s.members == nil {
		return s.failure(format, deployment, true, relay.Fail(relay.ErrNotImplemented, "Membership store not configured."))
	}

	requester, err := s.members.GetMember(ctx, req.UserID)
	if err != nil {
		return s.failure(format, deployment, true, relay.Fail(relay.ErrStorageFailed, "Unable to read user."))
	}
	if requester == nil {
		return s.failure(format, deployment, true, relay.Fail(relay.ErrNotFound, "user %d does not exist", req.UserID))
	}

	reported := requester
	if req.Posting {
		target, err := s.members.GetMember(ctx, req.TargetUserID)
		if err != nil {
			return s.failure(format, deployment, true, relay.Fail(relay.ErrStorageFailed, "Unable to read user."))
		}
		if target == nil {
			return s.failure(format, deployment, true, relay.Fail(relay.ErrNotFound, "user %d does not exist for update", req.TargetUserID))
		}
		if err := s.members.UpdateMemberKeyNode(ctx, req.TargetUserID, req.KeyNode); err != nil {
			if errors.Is(err, relay.ErrNotFound) {
				return s.failure(format, deployment, true, relay.Fail(relay.ErrNotFound, "user %d does not exist for update", req.TargetUserID))
			}
			return s.failure(format, deployment, true, relay.Fail(relay.ErrStorageFailed, "Unable to update user."))
		}
		target.KeyNode = req.KeyNode
		reported = target
	}

	hasNode := len(reported.KeyNode) > 0
	s.logger.Debug().Int32("user_id", reported.UserID).Bool("has_node", hasNode).Bool("posted", req.Posting).Msg("key node synced")
	return Response{
		Format: format,
		Body:   wire.EncodeSyncSuccess(format, deployment.ServerVersion, reported.KeyNode, hasNode),
	}
}

func (s *Service) failure(format wire.Format, deployment relay.Deployment, serverKnown bool, err error) Response {
	message := relay.FailureMessage(err)
	s.logger.Error().Str("kind", relay.KindName(err)).Msg(message)
	return Response{
		Format: format,
		Body:   wire.EncodeFailure(format, deployment.ServerVersion, serverKnown, message),
		Err:    err,
	}
}
