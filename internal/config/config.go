package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Gateway  GatewayConfig
	Dispatch DispatchConfig
	Code     CodeConfig
	Evidence EvidenceConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// GatewayConfig points at the external messaging gateway.
type GatewayConfig struct {
	SendURL            string
	PingURL            string
	SendTimeoutSeconds int
	BroadcastURL       string
	// OpsAddress receives staff-facing alerts (declined assignments).
	OpsAddress string
}

// DispatchConfig tunes the envelope dispatch loop.
type DispatchConfig struct {
	IntervalSeconds   int
	BatchSize         int
	MaxAttempts       int
	MinRetryGapSecond int
}

// CodeConfig tunes one-time-code issuance and verification.
type CodeConfig struct {
	TTLMinutes  int
	MaxAttempts int
	Length      int
}

// EvidenceConfig locates completion-evidence storage.
type EvidenceConfig struct {
	Dir     string
	BaseURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "field-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Gateway: GatewayConfig{
			SendURL:            getEnv("GATEWAY_SEND_URL", ""),
			PingURL:            getEnv("GATEWAY_PING_URL", ""),
			SendTimeoutSeconds: getEnvAsInt("GATEWAY_SEND_TIMEOUT_SECONDS", 5),
			BroadcastURL:       getEnv("BROADCAST_WEBHOOK_URL", ""),
			OpsAddress:         getEnv("GATEWAY_OPS_ADDRESS", ""),
		},
		Dispatch: DispatchConfig{
			IntervalSeconds:   getEnvAsInt("DISPATCH_INTERVAL_SECONDS", 5),
			BatchSize:         getEnvAsInt("DISPATCH_BATCH_SIZE", 25),
			MaxAttempts:       getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 3),
			MinRetryGapSecond: getEnvAsInt("DISPATCH_MIN_RETRY_GAP_SECONDS", 5),
		},
		Code: CodeConfig{
			TTLMinutes:  getEnvAsInt("CODE_TTL_MINUTES", 5),
			MaxAttempts: getEnvAsInt("CODE_MAX_ATTEMPTS", 5),
			Length:      getEnvAsInt("CODE_LENGTH", 6),
		},
		Evidence: EvidenceConfig{
			Dir:     getEnv("EVIDENCE_DIR", "evidence"),
			BaseURL: getEnv("EVIDENCE_BASE_URL", "/evidence"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Interval returns the dispatch poll interval.
func (d DispatchConfig) Interval() time.Duration {
	if d.IntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(d.IntervalSeconds) * time.Second
}

// MinRetryGap returns the minimum spacing between attempts on one envelope.
func (d DispatchConfig) MinRetryGap() time.Duration {
	if d.MinRetryGapSecond <= 0 {
		return 0
	}
	return time.Duration(d.MinRetryGapSecond) * time.Second
}

// SendTimeout bounds a single transport call.
func (g GatewayConfig) SendTimeout() time.Duration {
	if g.SendTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(g.SendTimeoutSeconds) * time.Second
}

// TTL returns the code validity window.
func (c CodeConfig) TTL() time.Duration {
	if c.TTLMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.TTLMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
