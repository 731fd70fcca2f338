package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Broker        BrokerConfig        `yaml:"broker"`
	Federation    FederationConfig    `yaml:"federation"`
	Sources       SourcesConfig       `yaml:"sources"`
	Cache         CacheConfig         `yaml:"cache"`
	Security      SecurityConfig      `yaml:"security"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Address             string        `yaml:"address"`
	Port                int           `yaml:"port"`
	ShutdownTimeoutSecs int           `yaml:"shutdown_timeout_secs"`
	TLS                 TLSConfig     `yaml:"tls"`
	AutoTLS             AutoTLSConfig `yaml:"auto_tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type AutoTLSConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Domains    []string `yaml:"domains"`
	CacheDir   string   `yaml:"cache_dir"`
	SelfSigned bool     `yaml:"self_signed"`
}

type StorageConfig struct {
	MetadataDir string `yaml:"metadata_dir"`
}

type AuthConfig struct {
	AdminAccessKey   string `yaml:"admin_access_key"`
	AdminSecretKey   string `yaml:"admin_secret_key"`
	TokenSecret      string `yaml:"token_secret"`
	IdentityTokenTTL int    `yaml:"identity_token_ttl_secs"`
}

// BrokerConfig configures the credential exchange.
type BrokerConfig struct {
	// ResourceID is the storage resource whose partitions the session tag
	// scopes, e.g. a bucket name.
	ResourceID string `yaml:"resource_id"`
	// TagKey is the session tag key the access policy substitutes.
	TagKey               string              `yaml:"tag_key"`
	DefaultDurationSecs  int                 `yaml:"default_duration_secs"`
	MaxDurationSecs      int                 `yaml:"max_duration_secs"`
	AllowUnauthenticated bool                `yaml:"allow_unauthenticated"`
	Roles                RoleSelectionConfig `yaml:"roles"`
}

// RoleSelectionConfig maps the two exchange outcomes to role names.
type RoleSelectionConfig struct {
	Authenticated       []string `yaml:"authenticated"`
	Unauthenticated     []string `yaml:"unauthenticated"`
	AmbiguousResolution string   `yaml:"ambiguous_resolution"` // "first" or "lexical"
}

// FederationConfig covers the mapping table's operational surface. The
// table itself is applied out-of-band through the admin API; config only
// names the audiences the startup self-check asserts.
type FederationConfig struct {
	CheckAudiences []string `yaml:"check_audiences"`
	// RequireMappingAtStartup makes an empty table a startup failure
	// instead of a warning.
	RequireMappingAtStartup bool `yaml:"require_mapping_at_startup"`
}

type SourcesConfig struct {
	OIDC *OIDCSourceConfig `yaml:"oidc,omitempty"`
	LDAP *LDAPSourceConfig `yaml:"ldap,omitempty"`
}

type OIDCSourceConfig struct {
	Enabled        bool   `yaml:"enabled"`
	IssuerURL      string `yaml:"issuer_url"`
	ClientID       string `yaml:"client_id"`
	AttributeClaim string `yaml:"attribute_claim"`
	CacheSecs      int    `yaml:"cache_secs"`
}

type LDAPSourceConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServerURL     string            `yaml:"server_url"`
	BindDN        string            `yaml:"bind_dn"`
	BindPassword  string            `yaml:"bind_password"`
	BaseDN        string            `yaml:"base_dn"`
	UserFilter    string            `yaml:"user_filter"`
	AttributeMap  map[string]string `yaml:"attribute_map"`
	TLSSkipVerify bool              `yaml:"tls_skip_verify"`
	StartTLS      bool              `yaml:"start_tls"`
}

type CacheConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SecurityConfig struct {
	AuditRetentionDays  int     `yaml:"audit_retention_days"`
	ExchangeRPSPerIP    float64 `yaml:"exchange_rps_per_ip"`
	ExchangeBurstPerIP  int     `yaml:"exchange_burst_per_ip"`
	CredentialPurgeSecs int     `yaml:"credential_purge_secs"`
}

type NotificationsConfig struct {
	MaxWorkers  int      `yaml:"max_workers"`
	QueueSize   int      `yaml:"queue_size"`
	TimeoutSecs int      `yaml:"timeout_secs"`
	MaxRetries  int      `yaml:"max_retries"`
	Webhooks    []string `yaml:"webhooks"`

	Redis struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
		Channel string `yaml:"channel"`
		ListKey string `yaml:"list_key"`
	} `yaml:"redis"`
	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
}

type LoggingConfig struct {
	Level           string `yaml:"level"`
	DecisionLog     bool   `yaml:"decision_log"`
	DecisionLogPath string `yaml:"decision_log_path"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Address:             "0.0.0.0",
			Port:                9700,
			ShutdownTimeoutSecs: 30,
		},
		Storage: StorageConfig{
			MetadataDir: "./metadata",
		},
		Auth: AuthConfig{
			IdentityTokenTTL: 3600,
		},
		Broker: BrokerConfig{
			TagKey:              "client",
			DefaultDurationSecs: 3600,
			MaxDurationSecs:     43200,
			Roles: RoleSelectionConfig{
				AmbiguousResolution: "first",
			},
		},
		Security: SecurityConfig{
			AuditRetentionDays:  90,
			ExchangeRPSPerIP:    5,
			ExchangeBurstPerIP:  10,
			CredentialPurgeSecs: 300,
		},
		Notifications: NotificationsConfig{
			MaxWorkers:  4,
			QueueSize:   256,
			TimeoutSecs: 10,
			MaxRetries:  3,
		},
		Logging: LoggingConfig{
			DecisionLogPath: "./decisions.log",
		},
	}
}

// Validate rejects configurations that cannot serve. These are
// construction-time failures: a bad value here never becomes a runtime
// fallback.
func (c *Config) Validate() error {
	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("auth.token_secret is required")
	}
	if c.Broker.ResourceID == "" {
		return fmt.Errorf("broker.resource_id is required")
	}
	if c.Broker.TagKey == "" {
		return fmt.Errorf("broker.tag_key is required")
	}
	if len(c.Broker.Roles.Authenticated) == 0 {
		return fmt.Errorf("broker.roles.authenticated must name at least one role")
	}
	if c.Broker.MaxDurationSecs < c.Broker.DefaultDurationSecs {
		return fmt.Errorf("broker.max_duration_secs must be >= default_duration_secs")
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
