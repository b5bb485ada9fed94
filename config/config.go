package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	MySQL             MySQLConfig
	Redis             RedisConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	Ledger            LedgerConfig
	Authorization     AuthorizationConfig
	Settlement        SettlementConfig
	Webhooks          WebhooksConfig
	Jobs              JobsConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
	NodeID      int64
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// CacheBackendMemory keeps the decision cache and live events inside one process.
// Commands running in other processes do not share that state, so it is meant for
// local development only.
const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

type RedisConfig struct {
	Backend  string
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

type LedgerConfig struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
	PollEvery   time.Duration
}

type AuthorizationConfig struct {
	Budget             time.Duration
	AuthCodeSecret     string
	AuthCodeTTL        time.Duration
	ApproveDecisionTTL time.Duration
	DenyDecisionTTL    time.Duration
	CardFactsTTL       time.Duration
	LimitFactsTTL      time.Duration
	FraudScoreTTL      time.Duration
	VelocityWindow     time.Duration
	FraudThreshold     int32
	IntentTTL          time.Duration
	Location           string
}

type SettlementConfig struct {
	MaxAttempts    int32
	BackoffBase    time.Duration
	BackoffCeiling time.Duration
	ConfirmTimeout time.Duration
	LeaseDuration  time.Duration
	CardLockTTL    time.Duration
	LockedRetry    time.Duration
	FeeBudget      int64
	Concurrency    int
	PendingTimeout time.Duration
	JobBatchSize   int32
}

type WebhooksConfig struct {
	MaxAttempts     int32
	FailureCeiling  int32
	HTTPTimeout     time.Duration
	BackoffSchedule []time.Duration
	JobBatchSize    int32
	Concurrency     int
	ClaimLease      time.Duration
}

type JobsConfig struct {
	SettleInterval          time.Duration
	WebhookDispatchInterval time.Duration
	ExpirePendingInterval   time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	cfg := &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "tap-payments-service"),
			APIKey:      getEnv("APP_API_KEY", ""),
			NodeID:      int64(getIntEnv("APP_NODE_ID", 1)),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Redis: RedisConfig{
			Backend:  strings.ToLower(getEnv("CACHE_BACKEND", CacheBackendRedis)),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		Ledger: LedgerConfig{
			BaseURL:     getEnv("LEDGER_GATEWAY_URL", ""),
			APIKey:      getEnv("LEDGER_GATEWAY_API_KEY", ""),
			HTTPTimeout: getSecondsEnv("LEDGER_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			PollEvery:   getMillisecondsEnv("LEDGER_RECEIPT_POLL_MS", 500*time.Millisecond),
		},
		Authorization: AuthorizationConfig{
			Budget:             getMillisecondsEnv("AUTH_BUDGET_MS", 250*time.Millisecond),
			AuthCodeSecret:     getEnv("AUTH_CODE_SECRET", ""),
			AuthCodeTTL:        getSecondsEnv("AUTH_CODE_TTL_SECONDS", 60*time.Second),
			ApproveDecisionTTL: getSecondsEnv("AUTH_APPROVE_DECISION_TTL_SECONDS", 30*time.Second),
			DenyDecisionTTL:    getSecondsEnv("AUTH_DENY_DECISION_TTL_SECONDS", 10*time.Second),
			CardFactsTTL:       getSecondsEnv("AUTH_CARD_FACTS_TTL_SECONDS", 60*time.Second),
			LimitFactsTTL:      getSecondsEnv("AUTH_LIMIT_FACTS_TTL_SECONDS", 30*time.Second),
			FraudScoreTTL:      getSecondsEnv("AUTH_FRAUD_SCORE_TTL_SECONDS", 15*time.Second),
			VelocityWindow:     getMinutesEnv("AUTH_VELOCITY_WINDOW_MINUTES", 5*time.Minute),
			FraudThreshold:     int32(getIntEnv("AUTH_FRAUD_THRESHOLD", 70)),
			IntentTTL:          getSecondsEnv("AUTH_INTENT_TTL_SECONDS", 60*time.Second),
			Location:           getEnv("AUTH_RISK_TIMEZONE", "UTC"),
		},
		Settlement: SettlementConfig{
			MaxAttempts:    int32(getIntEnv("SETTLEMENT_MAX_ATTEMPTS", 5)),
			BackoffBase:    getSecondsEnv("SETTLEMENT_BACKOFF_BASE_SECONDS", 5*time.Second),
			BackoffCeiling: getSecondsEnv("SETTLEMENT_BACKOFF_CEILING_SECONDS", 5*time.Minute),
			ConfirmTimeout: getSecondsEnv("SETTLEMENT_CONFIRM_TIMEOUT_SECONDS", 60*time.Second),
			LeaseDuration:  getSecondsEnv("SETTLEMENT_LEASE_SECONDS", 2*time.Minute),
			CardLockTTL:    getSecondsEnv("SETTLEMENT_CARD_LOCK_SECONDS", 2*time.Minute),
			LockedRetry:    getSecondsEnv("SETTLEMENT_LOCKED_RETRY_SECONDS", 2*time.Second),
			FeeBudget:      int64(getIntEnv("SETTLEMENT_FEE_BUDGET", 5000)),
			Concurrency:    getIntEnv("SETTLEMENT_CONCURRENCY", 4),
			PendingTimeout: getMinutesEnv("SETTLEMENT_PENDING_TIMEOUT_MINUTES", 60*time.Minute),
			JobBatchSize:   int32(getIntEnv("SETTLEMENT_JOB_BATCH_SIZE", 100)),
		},
		Webhooks: WebhooksConfig{
			MaxAttempts:     int32(getIntEnv("WEBHOOKS_MAX_ATTEMPTS", 5)),
			FailureCeiling:  int32(getIntEnv("WEBHOOKS_FAILURE_CEILING", 10)),
			HTTPTimeout:     getSecondsEnv("WEBHOOKS_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			BackoffSchedule: getDurationListEnv("WEBHOOKS_BACKOFF_SCHEDULE", DefaultWebhookBackoff()),
			JobBatchSize:    int32(getIntEnv("WEBHOOKS_JOB_BATCH_SIZE", 100)),
			Concurrency:     getIntEnv("WEBHOOKS_CONCURRENCY", 8),
			ClaimLease:      getSecondsEnv("WEBHOOKS_CLAIM_LEASE_SECONDS", time.Minute),
		},
		Jobs: JobsConfig{
			SettleInterval:          getMillisecondsEnv("JOBS_SETTLE_INTERVAL_MS", time.Second),
			WebhookDispatchInterval: getSecondsEnv("JOBS_WEBHOOK_DISPATCH_INTERVAL_SECONDS", 5*time.Second),
			ExpirePendingInterval:   getMinutesEnv("JOBS_EXPIRE_PENDING_INTERVAL_MINUTES", 5*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Authorization.DenyDecisionTTL <= 0 || c.Authorization.ApproveDecisionTTL <= 0 {
		return errors.New("decision TTLs must be positive")
	}
	if c.Authorization.DenyDecisionTTL >= c.Authorization.ApproveDecisionTTL {
		return errors.New("AUTH_DENY_DECISION_TTL_SECONDS must be lower than AUTH_APPROVE_DECISION_TTL_SECONDS")
	}
	if c.Redis.Backend != CacheBackendRedis && c.Redis.Backend != CacheBackendMemory {
		return errors.New("CACHE_BACKEND must be redis or memory")
	}
	if c.Authorization.AuthCodeTTL < c.Authorization.ApproveDecisionTTL {
		return errors.New("AUTH_CODE_TTL_SECONDS must not be lower than AUTH_APPROVE_DECISION_TTL_SECONDS")
	}
	if c.Settlement.MaxAttempts <= 0 {
		return errors.New("SETTLEMENT_MAX_ATTEMPTS must be > 0")
	}
	if c.Webhooks.FailureCeiling <= 0 {
		return errors.New("WEBHOOKS_FAILURE_CEILING must be > 0")
	}
	if len(c.Webhooks.BackoffSchedule) == 0 {
		return errors.New("WEBHOOKS_BACKOFF_SCHEDULE must not be empty")
	}
	if c.Webhooks.ClaimLease <= c.Webhooks.HTTPTimeout {
		return errors.New("WEBHOOKS_CLAIM_LEASE_SECONDS must be greater than WEBHOOKS_HTTP_TIMEOUT_SECONDS")
	}
	if _, err := time.LoadLocation(c.Authorization.Location); err != nil {
		return errors.New("AUTH_RISK_TIMEZONE is not a valid location")
	}
	return nil
}

func DefaultWebhookBackoff() []time.Duration {
	return []time.Duration{30 * time.Second, time.Minute, 5 * time.Minute, 10 * time.Minute, 30 * time.Minute}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMillisecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

// getDurationListEnv parses a comma separated list of Go durations, e.g. "30s,1m,5m".
func getDurationListEnv(key string, defaultValue []time.Duration) []time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d <= 0 {
			return defaultValue
		}
		result = append(result, d)
	}
	return result
}
