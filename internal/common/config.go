package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultEmailAPIURL       = "https://api.smtp2go.com/v3/email/send"
	DefaultEmailAPIKeyHeader = "X-Provider-Api-Key"

	DefaultMaxAttempts    = 3
	MaxDispatchAttempts   = 10
	DefaultRetryBaseDelay = 1000 * time.Millisecond
	DefaultAttemptTimeout = 10000 * time.Millisecond

	DefaultContactRateLimit = 5
	DefaultIntakeRateLimit  = 3
	DefaultRateLimitWindow  = 15 * time.Minute
)

// DispatchConfig is the retry policy of one outbound channel.
type DispatchConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

type EmailConfig struct {
	APIKey       string
	APIURL       string
	APIKeyHeader string
	Sender       string
	Recipients   []string
	Dispatch     DispatchConfig
}

// Missing lists the settings without which every notification fails.
func (c EmailConfig) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "EMAIL_API_KEY")
	}
	if strings.TrimSpace(c.Sender) == "" {
		missing = append(missing, "EMAIL_SENDER")
	}
	if len(c.Recipients) == 0 {
		missing = append(missing, "NOTIFICATION_RECIPIENTS")
	}
	return missing
}

// WebhookConfig is optional. An empty URL or Secret disables webhook dispatch.
type WebhookConfig struct {
	URL      string
	Secret   string
	Dispatch DispatchConfig
}

// Enabled reports whether both the endpoint and the shared secret are set.
func (c WebhookConfig) Enabled() bool {
	return c.URL != "" && c.Secret != ""
}

type RateLimitConfig struct {
	Contact       int
	Intake        int
	Window        time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type Config struct {
	HTTPPort           int
	MetricsPort        int
	DatabaseURL        string
	KafkaBrokers       []string
	WebhookEventsTopic string
	OTLPEndpoint       string
	ServiceName        string
	LogLevel           string
	CORSOrigins        []string

	// TrustProxy takes client IPs from X-Forwarded-For style headers.
	TrustProxy bool

	Email     EmailConfig
	Webhook   WebhookConfig
	RateLimit RateLimitConfig
}

// LoadConfig reads the process configuration once from the environment.
// A .env file in the working directory is loaded first when present.
func LoadConfig(service string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{ServiceName: service}

	httpPort, err := getEnvInt("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.HTTPPort = httpPort

	metricsPort, err := getEnvInt("METRICS_PORT", httpPort+1000)
	if err != nil {
		return nil, err
	}
	cfg.MetricsPort = metricsPort

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	} else {
		cfg.KafkaBrokers = splitList(brokers)
	}
	cfg.WebhookEventsTopic = getEnv("WEBHOOK_EVENTS_TOPIC", "automation.events")
	if cfg.TrustProxy, err = getEnvBool("TRUST_PROXY", false); err != nil {
		return nil, err
	}
	cfg.CORSOrigins = append(splitList(os.Getenv("FRONTEND_URL")), splitList(os.Getenv("PRODUCTION_FRONTEND_URL"))...)

	cfg.Email = EmailConfig{
		APIKey:       getEnv("EMAIL_API_KEY", os.Getenv("SMTP2GO_API_KEY")),
		APIURL:       getEnv("EMAIL_API_URL", DefaultEmailAPIURL),
		APIKeyHeader: getEnv("EMAIL_API_KEY_HEADER", DefaultEmailAPIKeyHeader),
		Sender:       os.Getenv("EMAIL_SENDER"),
		Recipients:   splitList(os.Getenv("NOTIFICATION_RECIPIENTS")),
	}
	if cfg.Email.Dispatch, err = loadDispatch("EMAIL"); err != nil {
		return nil, err
	}

	cfg.Webhook = WebhookConfig{
		URL:    strings.TrimSpace(os.Getenv("WEBHOOK_URL")),
		Secret: os.Getenv("WEBHOOK_SECRET"),
	}
	if cfg.Webhook.Dispatch, err = loadDispatch("WEBHOOK"); err != nil {
		return nil, err
	}

	rl := RateLimitConfig{
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}
	if rl.Contact, err = getEnvInt("RATE_LIMIT_CONTACT", DefaultContactRateLimit); err != nil {
		return nil, err
	}
	if rl.Intake, err = getEnvInt("RATE_LIMIT_INTAKE", DefaultIntakeRateLimit); err != nil {
		return nil, err
	}
	if rl.Window, err = getEnvMillis("RATE_LIMIT_WINDOW_MS", DefaultRateLimitWindow); err != nil {
		return nil, err
	}
	if rl.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	cfg.RateLimit = rl

	return cfg, nil
}

func loadDispatch(prefix string) (DispatchConfig, error) {
	var (
		dc  DispatchConfig
		err error
	)
	if dc.MaxAttempts, err = getEnvInt(prefix+"_MAX_ATTEMPTS", DefaultMaxAttempts); err != nil {
		return DispatchConfig{}, err
	}
	if dc.MaxAttempts < 1 || dc.MaxAttempts > MaxDispatchAttempts {
		return DispatchConfig{}, fmt.Errorf("invalid value for %s_MAX_ATTEMPTS: must be between 1 and %d", prefix, MaxDispatchAttempts)
	}
	if dc.BaseDelay, err = getEnvMillis(prefix+"_RETRY_BASE_DELAY_MS", DefaultRetryBaseDelay); err != nil {
		return DispatchConfig{}, err
	}
	if dc.Timeout, err = getEnvMillis(prefix+"_TIMEOUT_MS", DefaultAttemptTimeout); err != nil {
		return DispatchConfig{}, err
	}
	return dc, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}

func getEnvMillis(key string, fallback time.Duration) (time.Duration, error) {
	ms, err := getEnvInt(key, int(fallback/time.Millisecond))
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, fmt.Errorf("invalid value for %s: must not be negative", key)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
