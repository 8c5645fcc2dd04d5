package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/msgrelay/internal/config"
	"github.com/agentworkforce/msgrelay/internal/events"
	"github.com/agentworkforce/msgrelay/internal/httpapi"
	"github.com/agentworkforce/msgrelay/internal/metrics"
	"github.com/agentworkforce/msgrelay/internal/push"
	"github.com/agentworkforce/msgrelay/internal/relay"
	"github.com/agentworkforce/msgrelay/internal/submit"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", envOrDefault("MSGRELAY_CONFIG", "msgrelay.yaml"), "path to YAML configuration file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	deployment, deploymentErr := relay.ParseDeployment(cfg.VersionID)
	logger := newLogger(cfg.Log, deployment.Production, os.Stdout)
	if deploymentErr != nil {
		logger.Warn().Err(deploymentErr).Msg("deployment version id not set; relay requests will fail until it is")
	}

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("msgrelay stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	store, err := relay.BuildDatastoreFromDSN(cfg.Storage.DatastoreDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	blobs, err := relay.BuildBlobStoreFromDSN(cfg.Storage.BlobDSN)
	if err != nil {
		return err
	}

	source, err := buildCredentialSource(ctx, cfg.Credentials, store)
	if err != nil {
		return err
	}
	backend, err := relay.BuildCredentialBackendFromDSN(ctx, cfg.Credentials.CacheDSN, cfg.Credentials.CacheTTL)
	if err != nil {
		return err
	}
	if closer, ok := backend.(io.Closer); ok {
		defer closer.Close()
	}
	credentials := relay.NewCredentialCache(source, relay.CredentialCacheOptions{
		Backend:  backend,
		Logger:   logger.With().Str("component", "credentials").Logger(),
		OnLookup: metrics.ObserveCredentialLookup,
	})

	certs := push.NewStaticCertificateLoader()
	if cfg.Push.WatchCertificates {
		if certs, err = push.NewCertificateLoader(logger.With().Str("component", "certs").Logger()); err != nil {
			return err
		}
		defer certs.Close()
	}
	router := buildRouter(cfg.Push, credentials, store, certs, logger)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.NATSURL != "" {
		natsPublisher, err := events.NewNATSPublisher(events.NATSConfig{
			URL:             cfg.Events.NATSURL,
			Name:            "msgrelay",
			Subject:         cfg.Events.Subject,
			CredentialsFile: cfg.Events.CredentialsFile,
			ReconnectWait:   cfg.Events.ReconnectWait,
			MaxReconnects:   cfg.Events.MaxReconnects,
		}, logger.With().Str("component", "events").Logger())
		if err != nil {
			return err
		}
		publisher = natsPublisher
	}
	defer publisher.Close()

	service := submit.NewService(submit.Options{
		Coordinator: relay.NewCoordinator(store, relay.CoordinatorOptions{
			Blobs:       blobs,
			InlineLimit: cfg.InlinePayloadLimit,
			Logger:      logger.With().Str("component", "coordinator").Logger(),
			OnReport:    metrics.ObserveVisibility,
		}),
		Resolver:         relay.NewResolver(store, logger.With().Str("component", "resolver").Logger()),
		Router:           router,
		Members:          store,
		Events:           publisher,
		VersionID:        cfg.VersionID,
		MinClientVersion: cfg.MinClientVersion,
		Logger:           logger,
	})
	server := httpapi.NewServerWithConfig(service, httpapi.ServerConfig{
		HTTPS:               cfg.HTTPS,
		TrustForwardedProto: cfg.TrustForwardedProto,
		RequestTimeout:      cfg.RequestTimeout,
		MaxBodyBytes:        cfg.MaxBodyBytes,
		RateLimitMax:        cfg.RateLimit.Max,
		RateLimitWindow:     cfg.RateLimit.Window,
		InternalHMACSecret:  cfg.Admin.HMACSecret,
		InternalMaxSkew:     cfg.Admin.MaxSkew,
		AllowedOrigins:      cfg.CORS.AllowedOrigins,
		Credentials:         credentials,
		Logger:              logger.With().Str("component", "http").Logger(),
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("version_id", cfg.VersionID).Msg("msgrelay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-serveErr:
		return err
	case <-sigCtx.Done():
	}

	logger.Info().Msg("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// buildCredentialSource reads credentials from Secrets Manager when a
// region is configured and from the datastore otherwise.
func buildCredentialSource(ctx context.Context, cfg config.CredentialConfig, store relay.CredentialStore) (relay.CredentialSource, error) {
	if strings.TrimSpace(cfg.SecretsManagerRegion) == "" {
		return store, nil
	}
	return relay.NewSecretsManagerCredentialSource(ctx, cfg.SecretsManagerRegion, cfg.SecretsManagerPrefix)
}

func buildRouter(cfg config.PushConfig, credentials push.CredentialLookup, pending push.PendingCounter, certs *push.CertificateLoader, logger zerolog.Logger) *push.Router {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	router := push.NewRouter()
	router.Handle(relay.DeviceLegacyAndroid, push.NewC2DMNotifier(push.C2DMOptions{
		Endpoint:    cfg.C2DMEndpoint,
		HTTPClient:  httpClient,
		UserAgent:   cfg.UserAgent,
		Credentials: credentials,
		Logger:      logger.With().Str("provider", relay.ProviderC2DM).Logger(),
	}))
	router.Handle(relay.DeviceApple, push.NewAPNSNotifier(push.APNSOptions{
		Credentials: credentials,
		Pending:     pending,
		Gateway: push.NewTLSGateway(push.TLSGatewayOptions{
			ProductionAddr: cfg.APNSProductionGateway,
			SandboxAddr:    cfg.APNSSandboxGateway,
			DialTimeout:    cfg.ProviderTimeout,
			ReplyWait:      cfg.APNSReplyWait,
		}),
		Certificates: certs,
		Logger:       logger.With().Str("provider", relay.ProviderAPNS).Logger(),
	}))
	router.Handle(relay.DeviceModernAndroid, push.NewGCMNotifier(push.GCMOptions{
		Endpoint:    cfg.GCMEndpoint,
		HTTPClient:  httpClient,
		UserAgent:   cfg.UserAgent,
		Credentials: credentials,
		Logger:      logger.With().Str("provider", relay.ProviderGCM).Logger(),
	}))
	return router
}

func newLogger(cfg config.LogConfig, production bool, out io.Writer) zerolog.Logger {
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(logLevel(cfg.Level, production)).With().Timestamp().Logger()
}

// logLevel honours an explicit level name and otherwise logs at info in
// production and debug elsewhere.
func logLevel(name string, production bool) zerolog.Level {
	if name = strings.TrimSpace(name); name != "" {
		if level, err := zerolog.ParseLevel(strings.ToLower(name)); err == nil {
			return level
		}
	}
	if production {
		return zerolog.InfoLevel
	}
	return zerolog.DebugLevel
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
