package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"ad-canvas-server/modules/common/logger"
)

// 기본값
const (
	DefaultStandardModel  = "gemini-2.5-flash-image"
	DefaultProModel       = "gemini-3-pro-image-preview"
	DefaultProImageSize   = "2K"
	DefaultMaxAttempts    = 3
	DefaultRetryBaseDelay = 10 * time.Second
	DefaultInflightTTL    = 3 * time.Minute
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	// Server
	Port     string
	LogLevel string

	// Gemini API
	// GeminiAPIKey 는 비어 있을 수 있음 (브라우저가 X-Api-Key 로 직접 전달)
	GeminiAPIKey        string
	GeminiStandardModel string
	GeminiProModel      string
	GeminiProImageSize  string
	GeminiBaseURL       string

	// Retry
	MaxAttempts    int
	RetryBaseDelay time.Duration

	// Redis (RedisHost 가 비어 있으면 in-process guard 사용)
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// In-flight guard
	InflightTTL time.Duration
}

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		logger.Warnf("⚠️  .env file not found, using environment variables")
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	logger.Infof("✅ Configuration loaded successfully")
	logger.Infof("   Gemini: standard=%s, pro=%s (size: %s)", cfg.GeminiStandardModel, cfg.GeminiProModel, cfg.GeminiProImageSize)
	logger.Infof("   Retry: %d attempts, base delay %s", cfg.MaxAttempts, cfg.RetryBaseDelay)
	if cfg.RedisEnabled() {
		logger.Infof("   Redis: %s (TLS: %v)", cfg.GetRedisAddr(), cfg.RedisUseTLS)
	} else {
		logger.Infof("   Redis: disabled (in-process in-flight guard)")
	}

	return cfg, nil
}

// FromEnv - .env 로드 없이 현재 환경변수로 Config 생성
func FromEnv() (*Config, error) {
	maxAttempts, err := getEnvInt("GEMINI_MAX_ATTEMPTS", DefaultMaxAttempts)
	if err != nil {
		return nil, err
	}
	baseDelay, err := getEnvDuration("GEMINI_RETRY_BASE_DELAY", DefaultRetryBaseDelay)
	if err != nil {
		return nil, err
	}
	inflightTTL, err := getEnvDuration("INFLIGHT_TTL", DefaultInflightTTL)
	if err != nil {
		return nil, err
	}

	// Redis UseTLS 파싱
	useTLS := false
	if tlsStr := os.Getenv("REDIS_USE_TLS"); tlsStr != "" {
		parsed, err := strconv.ParseBool(tlsStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_USE_TLS must be a boolean: %w", err)
		}
		useTLS = parsed
	}

	cfg := &Config{
		// Server
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", logger.LevelInfo),

		// Gemini API
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiStandardModel: getEnv("GEMINI_MODEL_STANDARD", DefaultStandardModel),
		GeminiProModel:      getEnv("GEMINI_MODEL_PRO", DefaultProModel),
		GeminiProImageSize:  getEnv("GEMINI_PRO_IMAGE_SIZE", DefaultProImageSize),
		GeminiBaseURL:       getEnv("GEMINI_BASE_URL", ""),

		// Retry
		MaxAttempts:    maxAttempts,
		RetryBaseDelay: baseDelay,

		// Redis
		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   useTLS,

		InflightTTL: inflightTTL,
	}

	// 필수 값 검증
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate - 값 범위 검증
func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.GeminiStandardModel == "" || c.GeminiProModel == "" {
		return fmt.Errorf("GEMINI_MODEL_STANDARD and GEMINI_MODEL_PRO cannot be empty")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("GEMINI_MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("GEMINI_RETRY_BASE_DELAY must be positive")
	}
	if c.InflightTTL <= 0 {
		return fmt.Errorf("INFLIGHT_TTL must be positive")
	}
	return nil
}

// RedisEnabled - Redis 사용 여부
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 10s: %w", key, err)
	}
	return parsed, nil
}
