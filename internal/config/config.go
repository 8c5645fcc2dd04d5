package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultMinClientVersion is client release 1.6.
const DefaultMinClientVersion int32 = 0x01060000

type Config struct {
	Addr string `yaml:"addr"`
	// HTTPS, when set, is used as the secure-channel signal for every
	// request instead of inspecting the connection.
	HTTPS string `yaml:"https"`
	// TrustForwardedProto lets X-Forwarded-Proto stand in for the signal.
	// Leave off unless a proxy in front overwrites the header.
	TrustForwardedProto bool `yaml:"trust_forwarded_proto"`
	// VersionID is the deployment id, e.g. "01060000p.3".
	VersionID          string        `yaml:"version_id"`
	MinClientVersion   int32         `yaml:"min_client_version"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	MaxBodyBytes       int64         `yaml:"max_body_bytes"`
	InlinePayloadLimit int           `yaml:"inline_payload_limit"`

	Storage     StorageConfig    `yaml:"storage"`
	Credentials CredentialConfig `yaml:"credentials"`
	Push        PushConfig       `yaml:"push"`
	Events      EventsConfig     `yaml:"events"`
	Admin       AdminConfig      `yaml:"admin"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
	CORS        CORSConfig       `yaml:"cors"`
	Log         LogConfig        `yaml:"log"`
}

type StorageConfig struct {
	DatastoreDSN string `yaml:"datastore_dsn"`
	BlobDSN      string `yaml:"blob_dsn"`
}

type CredentialConfig struct {
	CacheDSN             string        `yaml:"cache_dsn"`
	CacheTTL             time.Duration `yaml:"cache_ttl"`
	SecretsManagerRegion string        `yaml:"secrets_manager_region"`
	SecretsManagerPrefix string        `yaml:"secrets_manager_prefix"`
}

type PushConfig struct {
	C2DMEndpoint          string        `yaml:"c2dm_endpoint"`
	GCMEndpoint           string        `yaml:"gcm_endpoint"`
	APNSProductionGateway string        `yaml:"apns_production_gateway"`
	APNSSandboxGateway    string        `yaml:"apns_sandbox_gateway"`
	APNSReplyWait         time.Duration `yaml:"apns_reply_wait"`
	ProviderTimeout       time.Duration `yaml:"provider_timeout"`
	WatchCertificates     bool          `yaml:"watch_certificates"`
	UserAgent             string        `yaml:"user_agent"`
}

type EventsConfig struct {
	NATSURL         string        `yaml:"nats_url"`
	Subject         string        `yaml:"subject"`
	CredentialsFile string        `yaml:"credentials_file"`
	ReconnectWait   time.Duration `yaml:"reconnect_wait"`
	MaxReconnects   int           `yaml:"max_reconnects"`
}

type AdminConfig struct {
	HMACSecret string        `yaml:"hmac_secret"`
	MaxSkew    time.Duration `yaml:"max_skew"`
}

type RateLimitConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	// Level is a zerolog level name; empty picks info for production
	// deployments and debug otherwise.
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

func DefaultConfig() *Config {
	return &Config{
		Addr:               ":8080",
		MinClientVersion:   DefaultMinClientVersion,
		RequestTimeout:     60 * time.Second,
		MaxBodyBytes:       32 << 20,
		InlinePayloadLimit: 1000000,
		Credentials: CredentialConfig{
			CacheTTL: 10 * time.Minute,
		},
		Push: PushConfig{
			APNSReplyWait:   time.Second,
			ProviderTimeout: 20 * time.Second,
		},
		Events: EventsConfig{
			ReconnectWait: 2 * time.Second,
			MaxReconnects: -1,
		},
		Admin: AdminConfig{
			MaxSkew: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Window: time.Minute,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// LoadFile reads a YAML config over the defaults. A missing file yields the
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Load layers the YAML file, then .env files, then the process
// environment. With no envFiles a ./.env is loaded when present.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("addr is required")
	case c.MinClientVersion <= 0:
		return fmt.Errorf("min_client_version must be positive, got %d", c.MinClientVersion)
	case c.RequestTimeout <= 0:
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	case c.MaxBodyBytes <= 0:
		return fmt.Errorf("max_body_bytes must be positive, got %d", c.MaxBodyBytes)
	case c.RateLimit.Max < 0:
		return fmt.Errorf("rate_limit.max must not be negative, got %d", c.RateLimit.Max)
	}
	return nil
}
