package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ApplyEnv overrides fields from the environment. HTTPS and
// CURRENT_VERSION_ID keep the names hosting platforms set; everything else
// is MSGRELAY_ prefixed.
func (c *Config) ApplyEnv() {
	c.Addr = stringEnv("MSGRELAY_ADDR", c.Addr)
	if value, ok := os.LookupEnv("HTTPS"); ok {
		c.HTTPS = value
	}
	c.TrustForwardedProto = boolEnv("MSGRELAY_TRUST_FORWARDED_PROTO", c.TrustForwardedProto)
	c.VersionID = stringEnv("CURRENT_VERSION_ID", c.VersionID)
	c.MinClientVersion = int32(intEnv("MSGRELAY_MIN_CLIENT_VERSION", int(c.MinClientVersion)))
	c.RequestTimeout = durationEnv("MSGRELAY_REQUEST_TIMEOUT", c.RequestTimeout)
	c.MaxBodyBytes = int64Env("MSGRELAY_MAX_BODY_BYTES", c.MaxBodyBytes)
	c.InlinePayloadLimit = intEnv("MSGRELAY_INLINE_PAYLOAD_LIMIT", c.InlinePayloadLimit)

	c.Storage.DatastoreDSN = stringEnv("MSGRELAY_DATASTORE_DSN", c.Storage.DatastoreDSN)
	c.Storage.BlobDSN = stringEnv("MSGRELAY_BLOB_DSN", c.Storage.BlobDSN)

	c.Credentials.CacheDSN = stringEnv("MSGRELAY_CREDENTIAL_CACHE_DSN", c.Credentials.CacheDSN)
	c.Credentials.CacheTTL = durationEnv("MSGRELAY_CREDENTIAL_CACHE_TTL", c.Credentials.CacheTTL)
	c.Credentials.SecretsManagerRegion = stringEnv("MSGRELAY_SECRETS_MANAGER_REGION", c.Credentials.SecretsManagerRegion)
	c.Credentials.SecretsManagerPrefix = stringEnv("MSGRELAY_SECRETS_MANAGER_PREFIX", c.Credentials.SecretsManagerPrefix)

	c.Push.C2DMEndpoint = stringEnv("MSGRELAY_C2DM_ENDPOINT", c.Push.C2DMEndpoint)
	c.Push.GCMEndpoint = stringEnv("MSGRELAY_GCM_ENDPOINT", c.Push.GCMEndpoint)
	c.Push.APNSProductionGateway = stringEnv("MSGRELAY_APNS_PRODUCTION_GATEWAY", c.Push.APNSProductionGateway)
	c.Push.APNSSandboxGateway = stringEnv("MSGRELAY_APNS_SANDBOX_GATEWAY", c.Push.APNSSandboxGateway)
	c.Push.APNSReplyWait = durationEnv("MSGRELAY_APNS_REPLY_WAIT", c.Push.APNSReplyWait)
	c.Push.ProviderTimeout = durationEnv("MSGRELAY_PROVIDER_TIMEOUT", c.Push.ProviderTimeout)
	c.Push.WatchCertificates = boolEnv("MSGRELAY_WATCH_CERTIFICATES", c.Push.WatchCertificates)
	c.Push.UserAgent = stringEnv("MSGRELAY_USER_AGENT", c.Push.UserAgent)

	c.Events.NATSURL = stringEnv("MSGRELAY_NATS_URL", c.Events.NATSURL)
	c.Events.Subject = stringEnv("MSGRELAY_NATS_SUBJECT", c.Events.Subject)
	c.Events.CredentialsFile = stringEnv("MSGRELAY_NATS_CREDENTIALS_FILE", c.Events.CredentialsFile)
	c.Events.ReconnectWait = durationEnv("MSGRELAY_NATS_RECONNECT_WAIT", c.Events.ReconnectWait)
	c.Events.MaxReconnects = intEnv("MSGRELAY_NATS_MAX_RECONNECTS", c.Events.MaxReconnects)

	c.Admin.HMACSecret = stringEnv("MSGRELAY_ADMIN_HMAC_SECRET", c.Admin.HMACSecret)
	c.Admin.MaxSkew = durationEnv("MSGRELAY_ADMIN_MAX_SKEW", c.Admin.MaxSkew)

	c.RateLimit.Max = intEnv("MSGRELAY_RATE_LIMIT_MAX", c.RateLimit.Max)
	c.RateLimit.Window = durationEnv("MSGRELAY_RATE_LIMIT_WINDOW", c.RateLimit.Window)

	if raw := strings.TrimSpace(os.Getenv("MSGRELAY_CORS_ALLOWED_ORIGINS")); raw != "" {
		var origins []string
		for _, origin := range strings.Split(raw, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		c.CORS.AllowedOrigins = origins
	}

	c.Log.Level = stringEnv("MSGRELAY_LOG_LEVEL", c.Log.Level)
	c.Log.Console = boolEnv("MSGRELAY_LOG_CONSOLE", c.Log.Console)
}

func stringEnv(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

// intEnv accepts decimal or 0x-prefixed hex.
func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 0, 64)
	if err != nil {
		log.Warn().Str("name", name).Str("value", raw).Int("fallback", fallback).Msg("invalid integer env value, using fallback")
		return fallback
	}
	return int(value)
}

func int64Env(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warn().Str("name", name).Str("value", raw).Int64("fallback", fallback).Msg("invalid integer env value, using fallback")
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn().Str("name", name).Str("value", raw).Dur("fallback", fallback).Msg("invalid duration env value, using fallback")
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Warn().Str("name", name).Str("value", raw).Bool("fallback", fallback).Msg("invalid boolean env value, using fallback")
		return fallback
	}
	return value
}
