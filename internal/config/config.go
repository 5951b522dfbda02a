package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in minimal containers
)

// ErrConfiguration is returned for missing or malformed settings. It stops
// the process at startup.
var ErrConfiguration = errors.New("configuration error")

// Extraction providers.
const (
	ProviderAuto   = "auto"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

type Config struct {
	// Telegram settings
	TelegramToken  string
	TelegramChatID string
	AdminID        int64 // 0 = no admin until /setadmin
	WelcomeMessage string

	// Extraction settings
	ExtractionProvider    string // auto | gemini | openai | none
	GeminiAPIKey          string
	GeminiModel           string
	OpenAIAPIKey          string
	OpenAIModel           string
	OpenAIBaseURL         string
	MaxExtractionRequests int     // per cycle (0 = unlimited)
	ExtractionRPS         float64 // 0 = unpaced
	EnrichConcurrency     int
	CacheTTLHours         int

	// RSS settings
	FeedsConfigPath  string
	ItemsPerFeed     int
	FetchConcurrency int

	// Selection settings
	QuotaRegional      int
	QuotaInternational int
	QuotaKorean        int
	Backfill           bool

	// Schedule settings
	DigestInterval time.Duration
	CycleBudget    time.Duration
	RunOnStart     bool
	Timezone       string
	Location       *time.Location

	// Storage settings
	StateFilePath string
	SeenLinksCap  int
	DatabaseURL   string

	// App settings
	HTTPPort       string
	Debug          bool
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
}

const defaultWelcome = "Welcome to OTT Pulse! Every week you'll get the best new regional, international and Korean titles streaming in India. Use /lang to set your preferred language."

// Load reads the configuration from the environment. Malformed values are
// collected and reported together.
func Load() (*Config, error) {
	e := &env{}

	cfg := &Config{
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID: strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")),
		AdminID:        e.getInt64("ADMIN_ID", 0),
		WelcomeMessage: getEnvOrDefault("WELCOME_MESSAGE", defaultWelcome),

		ExtractionProvider:    strings.ToLower(getEnvOrDefault("EXTRACTION_PROVIDER", ProviderAuto)),
		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		GeminiModel:           os.Getenv("GEMINI_MODEL"),
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:           os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:         os.Getenv("OPENAI_BASE_URL"),
		MaxExtractionRequests: e.getInt("MAX_EXTRACTION_REQUESTS", 40),
		ExtractionRPS:         e.getFloat("EXTRACTION_RPS", 1),
		EnrichConcurrency:     e.getInt("ENRICH_CONCURRENCY", 4),
		CacheTTLHours:         e.getInt("CACHE_TTL_HOURS", 168),

		FeedsConfigPath:  getEnvOrDefault("FEEDS_CONFIG_PATH", "configs/feeds.yaml"),
		ItemsPerFeed:     e.getInt("ITEMS_PER_FEED", 6),
		FetchConcurrency: e.getInt("FETCH_CONCURRENCY", 6),

		QuotaRegional:      e.getInt("QUOTA_REGIONAL", 6),
		QuotaInternational: e.getInt("QUOTA_INTERNATIONAL", 4),
		QuotaKorean:        e.getInt("QUOTA_KOREAN", 2),
		Backfill:           e.getBool("BACKFILL", false),

		DigestInterval: e.getDuration("DIGEST_INTERVAL", 7*24*time.Hour),
		CycleBudget:    e.getDuration("CYCLE_BUDGET", 10*time.Minute),
		RunOnStart:     e.getBool("RUN_ON_START", false),
		Timezone:       getEnvOrDefault("TIMEZONE", "Asia/Kolkata"),

		StateFilePath: getEnvOrDefault("STATE_FILE_PATH", "db.json"),
		SeenLinksCap:  e.getInt("SEEN_LINKS_CAP", 500),
		DatabaseURL:   os.Getenv("DATABASE_URL"),

		HTTPPort:       getEnvOrDefault("HTTP_PORT", getEnvOrDefault("PORT", "8080")),
		Debug:          e.getBool("DEBUG", false),
		RequestTimeout: e.getDuration("REQUEST_TIMEOUT", 30*time.Second),
		RetryAttempts:  e.getInt("RETRY_ATTEMPTS", 3),
		RetryDelay:     e.getDuration("RETRY_DELAY", time.Second),
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("TIMEZONE: %w", err))
		loc = time.UTC
	}
	cfg.Location = loc

	if len(e.errs) > 0 {
		return cfg, fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(e.errs...))
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges. Telegram credentials are checked separately
// by RequireTelegram so that dry runs work without them.
func (c *Config) Validate() error {
	var errs []error
	switch c.ExtractionProvider {
	case ProviderAuto, ProviderGemini, ProviderOpenAI, ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("EXTRACTION_PROVIDER must be auto, gemini, openai or none, got %q", c.ExtractionProvider))
	}
	if c.ExtractionProvider == ProviderGemini && c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY is required when EXTRACTION_PROVIDER=gemini"))
	}
	if c.ExtractionProvider == ProviderOpenAI && c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required when EXTRACTION_PROVIDER=openai"))
	}
	for name, v := range map[string]int{
		"QUOTA_REGIONAL":      c.QuotaRegional,
		"QUOTA_INTERNATIONAL": c.QuotaInternational,
		"QUOTA_KOREAN":        c.QuotaKorean,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.SeenLinksCap < 1 {
		errs = append(errs, errors.New("SEEN_LINKS_CAP must be positive"))
	}
	if c.DigestInterval < time.Minute {
		errs = append(errs, errors.New("DIGEST_INTERVAL must be at least 1m"))
	}
	if c.CycleBudget <= 0 {
		errs = append(errs, errors.New("CYCLE_BUDGET must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// RequireTelegram reports missing Telegram credentials.
func (c *Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("%w: TELEGRAM_TOKEN is required", ErrConfiguration)
	}
	if c.TelegramChatID == "" {
		return fmt.Errorf("%w: TELEGRAM_CHAT_ID is required", ErrConfiguration)
	}
	return nil
}

// Provider resolves "auto" to the first provider with a key: gemini, then
// openai, else none.
func (c *Config) Provider() string {
	if c.ExtractionProvider != ProviderAuto {
		return c.ExtractionProvider
	}
	switch {
	case c.GeminiAPIKey != "":
		return ProviderGemini
	case c.OpenAIAPIKey != "":
		return ProviderOpenAI
	default:
		return ProviderNone
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// env parses typed variables and remembers what failed.
type env struct {
	errs []error
}

func (e *env) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func (e *env) getInt(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (e *env) getInt64(key string, def int64) int64 {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (e *env) getFloat(key string, def float64) float64 {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return def
	}
	return f
}

func (e *env) getBool(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

// getDuration accepts Go durations ("12h", "90m") or a bare number of seconds.
func (e *env) getDuration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}
