package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/msgrelay/internal/metrics"
	"github.com/agentworkforce/msgrelay/internal/relay"
	"github.com/agentworkforce/msgrelay/internal/submit"
	"github.com/agentworkforce/msgrelay/internal/wire"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// CredentialInvalidator is satisfied by relay.CredentialCache.
type CredentialInvalidator interface {
	Invalidate(ctx context.Context, provider, tag string) error
	InvalidateAll(ctx context.Context) error
}

type ServerConfig struct {
	// HTTPS, when non-empty, is the secure-channel signal for every request.
	HTTPS string
	// TrustForwardedProto honours X-Forwarded-Proto; enable only behind a
	// proxy that overwrites the header.
	TrustForwardedProto bool
	RequestTimeout      time.Duration
	MaxBodyBytes        int64
	RateLimitMax        int
	RateLimitWindow     time.Duration
	InternalHMACSecret  string
	InternalMaxSkew     time.Duration
	AllowedOrigins      []string
	Credentials         CredentialInvalidator
	Logger              zerolog.Logger
}

type Server struct {
	service            *submit.Service
	cfg                ServerConfig
	router             chi.Router
	rateLimiter        *rateLimiter
	internalReplayMu   sync.Mutex
	internalReplaySeen map[string]time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(service *submit.Service) *Server {
	return NewServerWithConfig(service, ServerConfig{})
}

func NewServerWithConfig(service *submit.Service, cfg ServerConfig) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.InternalMaxSkew == 0 {
		cfg.InternalMaxSkew = 5 * time.Minute
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	s := &Server{
		service:            service,
		cfg:                cfg,
		rateLimiter:        limiter,
		internalReplaySeen: map[string]time.Time{},
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Relay-Timestamp", "X-Relay-Signature"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/postMessage", s.handleSubmit)
		r.Post("/postFile1", s.handleSubmit)
		r.Post("/postFile2", s.handleSubmit)
		r.Post("/syncKeyNodes", s.handleSyncKeyNodes)
	})

	r.Post("/v1/admin/credentials/invalidate", s.handleInvalidateCredentials)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", chimw.GetReqID(r.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", chimw.GetReqID(r.Context()))
	})
	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.serveRelay(w, r, s.service.Submit)
}

func (s *Server) handleSyncKeyNodes(w http.ResponseWriter, r *http.Request) {
	s.serveRelay(w, r, s.service.SyncKeyNodes)
}

type relayHandler func(ctx context.Context, signal submit.SecureSignal, format wire.Format, body []byte) submit.Response

// serveRelay runs a pipeline detached from client cancellation so a
// dropped connection never interrupts a half-finished store and push.
func (s *Server) serveRelay(w http.ResponseWriter, r *http.Request, handle relayHandler) {
	format := wire.FormatFromContentType(r.Header.Get("Content-Type"))
	body, ok := s.readRelayBody(w, r, format)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.RequestTimeout)
	defer cancel()
	resp := handle(ctx, s.secureSignal(r), format, body)
	writeRelay(w, http.StatusOK, resp.Format, resp.Body)
}

// secureSignal prefers the configured value, then the connection itself,
// then, when trusted, what a terminating proxy reported.
func (s *Server) secureSignal(r *http.Request) submit.SecureSignal {
	if s.cfg.HTTPS != "" {
		return submit.SecureSignal{Value: s.cfg.HTTPS, Present: true}
	}
	if r.TLS != nil {
		return submit.SecureSignal{Value: relay.SecureSignalOn, Present: true}
	}
	if !s.cfg.TrustForwardedProto {
		return submit.SecureSignal{}
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		first, _, _ := strings.Cut(proto, ",")
		if strings.EqualFold(strings.TrimSpace(first), "https") {
			return submit.SecureSignal{Value: relay.SecureSignalOn, Present: true}
		}
		return submit.SecureSignal{Value: "off", Present: true}
	}
	return submit.SecureSignal{}
}

func (s *Server) readRelayBody(w http.ResponseWriter, r *http.Request, format wire.Format) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.cfg.Logger.Error().Int64("limit", s.cfg.MaxBodyBytes).Msg("request body exceeds configured limit")
			writeRelay(w, http.StatusRequestEntityTooLarge, format, wire.EncodeFailure(format, 0, false, "Request body exceeds configured limit."))
			return nil, false
		}
		s.cfg.Logger.Error().Err(err).Msg("request body read failed")
		writeRelay(w, http.StatusOK, format, wire.EncodeFailure(format, 0, false, "Request was formatted incorrectly."))
		return nil, false
	}
	return body, true
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter == nil || s.rateLimiter.allow(clientKey(r), time.Now().UTC()) {
			next.ServeHTTP(w, r)
			return
		}
		retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		s.cfg.Logger.Error().Str("client", clientKey(r)).Str("path", r.URL.Path).Msg("rate limit exceeded")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		format := wire.FormatFromContentType(r.Header.Get("Content-Type"))
		writeRelay(w, http.StatusTooManyRequests, format, wire.EncodeFailure(format, 0, false, "Rate limit exceeded."))
	})
}

type invalidateRequest struct {
	Provider string `json:"provider"`
	Tag      string `json:"tag"`
	All      bool   `json:"all"`
}

func (s *Server) handleInvalidateCredentials(w http.ResponseWriter, r *http.Request) {
	requestID := chimw.GetReqID(r.Context())
	if s.cfg.InternalHMACSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "admin endpoint disabled", requestID)
		return
	}
	body, ok := s.readRequestBody(w, r, requestID)
	if !ok {
		return
	}
	now := time.Now().UTC()
	if authErr := verifyInternalHMAC(
		s.cfg.InternalHMACSecret,
		r.Header.Get("X-Relay-Timestamp"),
		r.Header.Get("X-Relay-Signature"),
		body,
		now,
		s.cfg.InternalMaxSkew,
	); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, requestID)
		return
	}
	if !s.markInternalReplaySeen(r.Header.Get("X-Relay-Timestamp"), r.Header.Get("X-Relay-Signature"), now) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "internal request replay detected", requestID)
		return
	}
	if s.cfg.Credentials == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "credential cache not configured", requestID)
		return
	}

	var req invalidateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", requestID)
		return
	}
	var err error
	switch {
	case req.All:
		err = s.cfg.Credentials.InvalidateAll(r.Context())
	case strings.TrimSpace(req.Provider) != "":
		err = s.cfg.Credentials.Invalidate(r.Context(), req.Provider, req.Tag)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "provider or all is required", requestID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), requestID)
		return
	}
	s.cfg.Logger.Info().Str("provider", req.Provider).Str("tag", req.Tag).Bool("all", req.All).Msg("credential cache invalidated")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "invalidated",
		"provider": req.Provider,
		"tag":      req.Tag,
		"all":      req.All,
	})
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, requestID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", requestID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", requestID)
		return nil, false
	}
	return body, true
}

func writeRelay(w http.ResponseWriter, status int, format wire.Format, body []byte) {
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	writeJSON(w, status, map[string]any{
		"code":      code,
		"message":   message,
		"requestId": requestID,
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func (s *Server) markInternalReplaySeen(timestamp, signature string, now time.Time) bool {
	key := strings.TrimSpace(strings.ToLower(timestamp)) + "|" + strings.TrimSpace(strings.ToLower(signature))
	if key == "|" {
		return false
	}
	window := s.cfg.InternalMaxSkew
	if window <= 0 {
		window = 5 * time.Minute
	}
	s.internalReplayMu.Lock()
	defer s.internalReplayMu.Unlock()
	for replayKey, expiresAt := range s.internalReplaySeen {
		if !now.Before(expiresAt) {
			delete(s.internalReplaySeen, replayKey)
		}
	}
	if expiresAt, exists := s.internalReplaySeen[key]; exists && now.Before(expiresAt) {
		return false
	}
	s.internalReplaySeen[key] = now.Add(window)
	return true
}
