package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv     string
	Port       string
	HealthPort string
	BotToken   string

	BackendProvider string
	QwenAPIKey      string
	QwenBaseURL     string
	QwenModel       string
	NegativePrompt  string
	AspectRatio     string

	GenerationTimeout time.Duration
	DeliveryTimeout   time.Duration
	MaxPromptLength   int
	AckOnAdmit        bool
	HistoryLimit      int
	HistoryTTL        time.Duration

	StoragePath string
	DatabaseURL string

	NATSURL         string
	RequestSubject  string
	RequestQueue    string
	DeliverySubject string
	AdmissionBucket string

	GeoIPDBPath        string
	DefaultLocale      string
	RateLimitPerMin    int
	CORSAllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		HealthPort:        getEnv("HEALTH_PORT", "8081"),
		BotToken:          strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		BackendProvider:   strings.ToLower(getEnv("BACKEND_PROVIDER", "synthetic")),
		QwenAPIKey:        strings.TrimSpace(os.Getenv("QWEN_API_KEY")),
		QwenBaseURL:       getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		QwenModel:         getEnv("QWEN_MODEL", "qwen-image-plus"),
		NegativePrompt:    getEnv("NEGATIVE_PROMPT", "bad quality"),
		AspectRatio:       getEnv("ASPECT_RATIO", "16:9"),
		GenerationTimeout: getEnvSeconds("GENERATION_TIMEOUT_SECONDS", 120),
		DeliveryTimeout:   getEnvSeconds("DELIVERY_TIMEOUT_SECONDS", 30),
		MaxPromptLength:   getEnvInt("MAX_PROMPT_LENGTH", 1000),
		AckOnAdmit:        getEnvBool("ACK_ON_ADMIT", true),
		HistoryLimit:      getEnvInt("HISTORY_LIMIT", 256),
		HistoryTTL:        time.Minute * time.Duration(getEnvInt("HISTORY_TTL_MINUTES", 60)),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		NATSURL:           strings.TrimSpace(os.Getenv("NATS_URL")),
		RequestSubject:    getEnv("REQUEST_SUBJECT", "promptbot.requests"),
		RequestQueue:      getEnv("REQUEST_QUEUE", "promptbot-dispatchers"),
		DeliverySubject:   getEnv("DELIVERY_SUBJECT", "promptbot.deliveries"),
		AdmissionBucket:   getEnv("ADMISSION_BUCKET", "promptbot_active"),
		GeoIPDBPath:       os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:     getEnv("DEFAULT_LOCALE", "en"),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		HTTPReadTimeout:   getEnvSeconds("HTTP_READ_TIMEOUT_SECONDS", 15),
		HTTPWriteTimeout:  getEnvSeconds("HTTP_WRITE_TIMEOUT_SECONDS", 30),
		HTTPIdleTimeout:   getEnvSeconds("HTTP_IDLE_TIMEOUT_SECONDS", 60),
		ShutdownTimeout:   getEnvSeconds("SHUTDOWN_TIMEOUT_SECONDS", 30),
	}
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS")

	switch cfg.BackendProvider {
	case "qwen", "synthetic":
	default:
		return nil, fmt.Errorf("BACKEND_PROVIDER %q is not supported (qwen, synthetic)", cfg.BackendProvider)
	}

	if cfg.BackendProvider == "qwen" && cfg.QwenAPIKey == "" {
		return nil, fmt.Errorf("QWEN_API_KEY is required when BACKEND_PROVIDER=qwen")
	}

	if cfg.GenerationTimeout <= 0 {
		return nil, fmt.Errorf("GENERATION_TIMEOUT_SECONDS must be greater than zero")
	}

	if cfg.Port == cfg.HealthPort {
		return nil, fmt.Errorf("HEALTH_PORT must differ from PORT (both %s)", cfg.Port)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Second * time.Duration(getEnvInt(key, fallback))
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
