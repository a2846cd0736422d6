package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendScylla = "scylla"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	Auth          AuthConfig
	Audit         AuditConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// AllowedOrigins feeds the CORS handler of the admin API.
	AllowedOrigins []string
	// TrustProxyHeaders lets X-Forwarded-For and X-Real-IP replace the
	// peer address. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL       string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
	Table    string
	CAFile   string
}

type ElasticsearchConfig struct {
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

// LimitConfig parameterizes one sliding-window limiter instance.
type LimitConfig struct {
	MaxAttempts int
	Window      time.Duration
	// Lockout of zero locks until the failure window closes.
	Lockout time.Duration
}

type AuthConfig struct {
	// StoreBackend selects where attempt records and sessions live.
	StoreBackend      string
	AccountBackend    string
	LoginLimit        LimitConfig
	MFALimit          LimitConfig
	SessionTTL        time.Duration
	SessionCookieName string
	GenericCookieName string
	CookieDomain      string
	TOTPIssuer        string
	SweepInterval     time.Duration
	// BootstrapAdminEmail and BootstrapAdminPasswordHash seed the memory
	// account backend for local development.
	BootstrapAdminEmail        string
	BootstrapAdminPasswordHash string
}

type AuditConfig struct {
	KafkaEnabled         bool
	ClickhouseEnabled    bool
	ElasticsearchEnabled bool
	SinkTimeout          time.Duration
	// QueueSize bounds events waiting for the sinks; overflow is dropped.
	QueueSize int
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:              getEnvInt("SERVER_PORT", 8080),
			TLSPort:           getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:         getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:          getEnvBool("SERVER_AUTO_CERT", false),
			Domain:            getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:          getEnv("SERVER_CERT_FILE", ""),
			KeyFile:           getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:       getEnv("SERVER_AUTO_CERT_DIR", "./certs"),
			Email:             getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins:    getEnvList("SERVER_ALLOWED_ORIGINS", []string{"https://*"}),
			TrustProxyHeaders: getEnvBool("SERVER_TRUST_PROXY_HEADERS", false),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			PoolSize:  getEnvInt("REDIS_POOL_SIZE", 20),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "admin_auth:"),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "marketplace"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:    getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "admin-audit"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "http://localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "audit"),
			Table:    getEnv("CLICKHOUSE_AUDIT_TABLE", "admin_audit_log"),
			CAFile:   getEnv("CLICKHOUSE_CA_FILE", ""),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:        getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
			AuditIndex: getEnv("ELASTICSEARCH_AUDIT_INDEX", "admin-audit"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("KMS_REGION", "us-east-1"),
		},
		Auth: AuthConfig{
			StoreBackend:   getEnv("AUTH_STORE_BACKEND", BackendMemory),
			AccountBackend: getEnv("AUTH_ACCOUNT_BACKEND", BackendMemory),
			LoginLimit: LimitConfig{
				MaxAttempts: getEnvInt("AUTH_LOGIN_MAX_ATTEMPTS", 5),
				Window:      getEnvDuration("AUTH_LOGIN_WINDOW", 15*time.Minute),
				Lockout:     getEnvDuration("AUTH_LOGIN_LOCKOUT", 15*time.Minute),
			},
			MFALimit: LimitConfig{
				MaxAttempts: getEnvInt("AUTH_MFA_MAX_ATTEMPTS", 3),
				Window:      getEnvDuration("AUTH_MFA_WINDOW", 15*time.Minute),
				Lockout:     getEnvDuration("AUTH_MFA_LOCKOUT", 0),
			},
			SessionTTL:                 getEnvDuration("AUTH_SESSION_TTL", 24*time.Hour),
			SessionCookieName:          getEnv("AUTH_SESSION_COOKIE", "admin_session"),
			GenericCookieName:          getEnv("AUTH_GENERIC_COOKIE", "session"),
			CookieDomain:               getEnv("AUTH_COOKIE_DOMAIN", ""),
			TOTPIssuer:                 getEnv("AUTH_TOTP_ISSUER", "AutoMarket Admin"),
			SweepInterval:              getEnvDuration("AUTH_SWEEP_INTERVAL", time.Minute),
			BootstrapAdminEmail:        getEnv("AUTH_BOOTSTRAP_ADMIN_EMAIL", ""),
			BootstrapAdminPasswordHash: getEnv("AUTH_BOOTSTRAP_ADMIN_PASSWORD_HASH", ""),
		},
		Audit: AuditConfig{
			KafkaEnabled:         getEnvBool("AUDIT_KAFKA_ENABLED", false),
			ClickhouseEnabled:    getEnvBool("AUDIT_CLICKHOUSE_ENABLED", false),
			ElasticsearchEnabled: getEnvBool("AUDIT_ELASTICSEARCH_ENABLED", false),
			SinkTimeout:          getEnvDuration("AUDIT_SINK_TIMEOUT", 2*time.Second),
			QueueSize:            getEnvInt("AUDIT_QUEUE_SIZE", 1024),
		},
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg
}

// Get returns the last loaded config, loading it on first use.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev" || c.Environment == "test"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Validate rejects configurations the auth core cannot run with.
func (c *Config) Validate() error {
	var errs []error

	for name, l := range map[string]LimitConfig{"login": c.Auth.LoginLimit, "mfa": c.Auth.MFALimit} {
		if l.MaxAttempts <= 0 {
			errs = append(errs, fmt.Errorf("auth %s limit: max attempts must be positive", name))
		}
		if l.Window <= 0 {
			errs = append(errs, fmt.Errorf("auth %s limit: window must be positive", name))
		}
		if l.Lockout < 0 {
			errs = append(errs, fmt.Errorf("auth %s limit: lockout must not be negative", name))
		}
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("auth session ttl must be positive"))
	}
	switch c.Auth.StoreBackend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown auth store backend %q", c.Auth.StoreBackend))
	}
	switch c.Auth.AccountBackend {
	case BackendMemory, BackendScylla:
	default:
		errs = append(errs, fmt.Errorf("unknown account backend %q", c.Auth.AccountBackend))
	}
	if c.IsProduction() && c.Auth.AccountBackend == BackendMemory {
		errs = append(errs, errors.New("memory account backend is not allowed in production"))
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		errs = append(errs, errors.New("KMS_KEY_ID is required when KMS is enabled"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
