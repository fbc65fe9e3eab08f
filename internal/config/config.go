package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBMetricsEnabled  bool

	Redis      RedisConfig
	Gateway    GatewayConfig
	Enrollment EnrollmentConfig
	Billing    BillingConfig
	RateLimit  RateLimitConfig
	Email      EmailConfig

	MetricsPushgatewayURL string

	AdminToken     string
	AdminTokenHash string
	NodeID         int64
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type GatewayConfig struct {
	BaseURL       string
	MerchantID    string
	SharedSecret  string
	CallbackRoute string
	CallbackURL   string
	ReturnURL     string
	Timeout       time.Duration
	ChargeTimeout time.Duration
}

type EnrollmentConfig struct {
	DraftTTL             time.Duration
	MaxPaymentAttempts   int
	Currency             string
	CustomerNumberPrefix string
	DraftStore           string
}

type BillingConfig struct {
	Enabled          bool
	RunInterval      time.Duration
	BatchSize        int
	Workers          int
	FailureThreshold int
	PeriodMonths     int
	ChargeTimeout    time.Duration
	ClaimLease       time.Duration
	RetryInterval    time.Duration
}

type EmailConfig struct {
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	AlertRecipients []string
}

type RateLimitConfig struct {
	Enabled bool
	Rate    float64
	Burst   int
}

func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "enrollment"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "enrollment"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "enrollment.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBMetricsEnabled:  getenvBool("DATABASE_METRICS_ENABLED", false),
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Gateway: GatewayConfig{
			BaseURL:       strings.TrimRight(getenv("GATEWAY_BASE_URL", "https://sandbox.gateway.local"), "/"),
			MerchantID:    strings.TrimSpace(getenv("GATEWAY_MERCHANT_ID", "")),
			SharedSecret:  strings.TrimSpace(getenv("GATEWAY_SHARED_SECRET", "")),
			CallbackRoute: getenv("GATEWAY_CALLBACK_ROUTE", "/v1/gateway/callback"),
			CallbackURL:   strings.TrimSpace(getenv("GATEWAY_CALLBACK_URL", "")),
			ReturnURL:     strings.TrimSpace(getenv("GATEWAY_RETURN_URL", "")),
			Timeout:       getenvDuration("GATEWAY_TIMEOUT", 12*time.Second),
			ChargeTimeout: getenvDuration("GATEWAY_CHARGE_TIMEOUT", 20*time.Second),
		},
		Enrollment: EnrollmentConfig{
			DraftTTL:             getenvDuration("ENROLLMENT_DRAFT_TTL", 24*time.Hour),
			MaxPaymentAttempts:   getenvInt("ENROLLMENT_MAX_PAYMENT_ATTEMPTS", 3),
			Currency:             strings.ToUpper(getenv("ENROLLMENT_CURRENCY", "USD")),
			CustomerNumberPrefix: getenv("ENROLLMENT_CUSTOMER_NUMBER_PREFIX", "MB"),
			DraftStore:           strings.ToLower(getenv("ENROLLMENT_DRAFT_STORE", "memory")),
		},
		Billing: BillingConfig{
			Enabled:          getenvBool("BILLING_ENABLED", true),
			RunInterval:      getenvDuration("BILLING_RUN_INTERVAL", time.Hour),
			BatchSize:        getenvInt("BILLING_BATCH_SIZE", 100),
			Workers:          getenvInt("BILLING_WORKERS", 8),
			FailureThreshold: getenvInt("BILLING_FAILURE_THRESHOLD", 3),
			PeriodMonths:     getenvInt("BILLING_PERIOD_MONTHS", 1),
			ChargeTimeout:    getenvDuration("BILLING_CHARGE_TIMEOUT", 20*time.Second),
			ClaimLease:       getenvDuration("BILLING_CLAIM_LEASE", 10*time.Minute),
			RetryInterval:    getenvDuration("BILLING_RETRY_INTERVAL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled: getenvBool("RATE_LIMIT_ENABLED", true),
			Rate:    getenvFloat("RATE_LIMIT_RATE", 5),
			Burst:   getenvInt("RATE_LIMIT_BURST", 20),
		},
		Email: EmailConfig{
			SMTPHost:        strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:        getenvInt("SMTP_PORT", 587),
			SMTPUsername:    strings.TrimSpace(getenv("SMTP_USERNAME", "")),
			SMTPPassword:    getenv("SMTP_PASSWORD", ""),
			SMTPFrom:        strings.TrimSpace(getenv("SMTP_FROM", "enrollment@localhost")),
			AlertRecipients: getenvList("ADMIN_ALERT_RECIPIENTS"),
		},
		MetricsPushgatewayURL: strings.TrimSpace(getenv("METRICS_PUSHGATEWAY_URL", "")),
		AdminToken:            strings.TrimSpace(getenv("ADMIN_TOKEN", "")),
		AdminTokenHash:        strings.TrimSpace(getenv("ADMIN_TOKEN_HASH", "")),
		NodeID:                getenvInt64("NODE_ID", 1),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getenvList splits a comma separated value and drops blanks.
func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return def
}
