package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Telegram  TelegramConfig
	AI        AIConfig
	Remnawave RemnawaveConfig
	Bedolaga  BedolagaConfig
	Support   SupportConfig
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
	Addr            string
	Password        string
	DB              int
	ProfileTTLSecs  int
	ProfileKeyspace string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters for the Mini App API.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	SkipAuth              bool
	InitDataMaxAgeSeconds int
	ServiceUsername       string
	ServicePasswordHash   string
}

// TelegramConfig holds bot credentials and the support group layout.
type TelegramConfig struct {
	BotToken           string
	SupportGroupID     int64
	AllowedManagerIDs  []int64
	CallTimeoutSeconds int
	PollTimeoutSeconds int
}

// AIConfig configures the OpenAI-compatible chat completion provider.
type AIConfig struct {
	Enabled        bool
	Provider       string
	BaseURL        string
	APIKeys        []string
	Model          string
	TimeoutSeconds int
	HistoryWindow  int
	Temperature    float64
	MaxTokens      int
}

// RemnawaveConfig points at the VPN panel API.
type RemnawaveConfig struct {
	URL                  string
	Token                string
	TimeoutSeconds       int
	ActionTimeoutSeconds int
}

// BedolagaConfig points at the billing bot API.
type BedolagaConfig struct {
	URL            string
	Token          string
	TimeoutSeconds int
}

// SupportConfig captures support desk policy knobs.
type SupportConfig struct {
	ServiceName          string
	MainBotUsername      string
	SystemPromptOverride string
	RetainClosedTickets  bool
	TuningFile           string
	MiniAppURL           string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	var supportGroupID int64
	if raw := os.Getenv("SUPPORT_GROUP_ID"); raw != "" {
		supportGroupID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SUPPORT_GROUP_ID: %w", err)
		}
	}

	managerIDs, err := parseInt64List(os.Getenv("ALLOWED_MANAGER_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid ALLOWED_MANAGER_IDS: %w", err)
	}

	temperature := 0.7
	if raw := os.Getenv("AI_TEMPERATURE"); raw != "" {
		temperature, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid AI_TEMPERATURE: %w", err)
		}
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "support-desk"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8001"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:        os.Getenv("REDIS_PASSWORD"),
			DB:              redisDB,
			ProfileTTLSecs:  getEnvAsInt("REDIS_PROFILE_TTL_SECONDS", 300),
			ProfileKeyspace: getEnv("REDIS_PROFILE_KEYSPACE", "support:profile"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			SkipAuth:              getEnvAsBool("SKIP_AUTH", false),
			InitDataMaxAgeSeconds: getEnvAsInt("AUTH_INIT_DATA_MAX_AGE_SECONDS", 86400),
			ServiceUsername:       os.Getenv("AUTH_SERVICE_USERNAME"),
			ServicePasswordHash:   os.Getenv("AUTH_SERVICE_PASSWORD_HASH"),
		},
		Telegram: TelegramConfig{
			BotToken:           os.Getenv("BOT_TOKEN"),
			SupportGroupID:     supportGroupID,
			AllowedManagerIDs:  managerIDs,
			CallTimeoutSeconds: getEnvAsInt("TELEGRAM_CALL_TIMEOUT_SECONDS", 10),
			PollTimeoutSeconds: getEnvAsInt("TELEGRAM_POLL_TIMEOUT_SECONDS", 30),
		},
		AI: AIConfig{
			Enabled:        getEnvAsBool("AI_ENABLED", true),
			Provider:       getEnv("AI_PROVIDER", "groq"),
			BaseURL:        getEnv("AI_BASE_URL", "https://api.groq.com/openai/v1"),
			APIKeys:        parseStringList(os.Getenv("AI_API_KEYS")),
			Model:          getEnv("AI_MODEL", "llama-3.3-70b-versatile"),
			TimeoutSeconds: getEnvAsInt("AI_TIMEOUT_SECONDS", 30),
			HistoryWindow:  getEnvAsInt("AI_HISTORY_WINDOW", 10),
			Temperature:    temperature,
			MaxTokens:      getEnvAsInt("AI_MAX_TOKENS", 1024),
		},
		Remnawave: RemnawaveConfig{
			URL:                  strings.TrimRight(os.Getenv("REMNAWAVE_API_URL"), "/"),
			Token:                os.Getenv("REMNAWAVE_API_TOKEN"),
			TimeoutSeconds:       getEnvAsInt("REMNAWAVE_TIMEOUT_SECONDS", 10),
			ActionTimeoutSeconds: getEnvAsInt("REMNAWAVE_ACTION_TIMEOUT_SECONDS", 15),
		},
		Bedolaga: BedolagaConfig{
			URL:            strings.TrimRight(os.Getenv("BEDOLAGA_API_URL"), "/"),
			Token:          os.Getenv("BEDOLAGA_API_TOKEN"),
			TimeoutSeconds: getEnvAsInt("BEDOLAGA_TIMEOUT_SECONDS", 10),
		},
		Support: SupportConfig{
			ServiceName:          getEnv("SUPPORT_SERVICE_NAME", "Решала support"),
			MainBotUsername:      strings.TrimPrefix(os.Getenv("SUPPORT_MAIN_BOT_USERNAME"), "@"),
			SystemPromptOverride: os.Getenv("SUPPORT_SYSTEM_PROMPT_OVERRIDE"),
			RetainClosedTickets:  getEnvAsBool("SUPPORT_RETAIN_CLOSED_TICKETS", false),
			TuningFile:           os.Getenv("SUPPORT_TUNING_FILE"),
			MiniAppURL:           os.Getenv("SUPPORT_MINI_APP_URL"),
		},
	}

	return cfg, nil
}

// ValidateBot checks the settings the bot process cannot run without.
func (c *Config) ValidateBot() error {
	var errs []error
	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("BOT_TOKEN is required"))
	}
	if c.Telegram.SupportGroupID == 0 {
		errs = append(errs, errors.New("SUPPORT_GROUP_ID is required"))
	}
	return errors.Join(errs...)
}

// ValidateAPI checks the settings the HTTP process cannot run without.
func (c *Config) ValidateAPI() error {
	if !c.Auth.SkipAuth && c.Telegram.BotToken == "" && c.Auth.ServicePasswordHash == "" {
		return errors.New("either BOT_TOKEN (for WebApp auth) or AUTH_SERVICE_PASSWORD_HASH is required unless SKIP_AUTH=true")
	}
	if c.App.Env == "production" && c.Auth.JWTSecret == "dev-secret" {
		return errors.New("AUTH_JWT_SECRET must be set in production")
	}
	return nil
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

// ProfileTTL returns how long profile snapshots stay cached.
func (r RedisConfig) ProfileTTL() time.Duration {
	return seconds(r.ProfileTTLSecs)
}

// CallTimeout bounds every outbound Bot API call.
func (t TelegramConfig) CallTimeout() time.Duration {
	return seconds(t.CallTimeoutSeconds)
}

// IsManager reports whether id is on the allow-list.
func (t TelegramConfig) IsManager(id int64) bool {
	for _, allowed := range t.AllowedManagerIDs {
		if allowed == id {
			return true
		}
	}
	return false
}

// Timeout bounds a single chat completion.
func (a AIConfig) Timeout() time.Duration {
	return seconds(a.TimeoutSeconds)
}

// Configured reports whether the provider can be called at all.
func (a AIConfig) Configured() bool {
	return a.Enabled && a.BaseURL != "" && len(a.APIKeys) > 0
}

// Configured reports whether both URL and token are present.
func (r RemnawaveConfig) Configured() bool {
	return r.URL != "" && r.Token != ""
}

// Configured reports whether both URL and token are present.
func (b BedolagaConfig) Configured() bool {
	return b.URL != "" && b.Token != ""
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
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

func parseStringList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt64List(raw string) ([]int64, error) {
	var out []int64
	for _, part := range parseStringList(raw) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
