package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the growth loop service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Account   AccountConfig   `mapstructure:"account"`
	Research  ResearchConfig  `mapstructure:"research"`
	Threads   ThreadsConfig   `mapstructure:"threads"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig selects the provider and models used for generation, scoring
// and embeddings.
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"` // openai, anthropic, gemini
	APIKey          string        `mapstructure:"api_key"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	CostTracking bool   `mapstructure:"cost_tracking"`
}

// AccountConfig scopes the service to one platform account and its goal.
type AccountConfig struct {
	ID             string        `mapstructure:"id"`
	FollowerTarget int           `mapstructure:"follower_target"`
	VariantCount   int           `mapstructure:"variant_count"`
	HistoryCeiling float64       `mapstructure:"history_ceiling"`
	MetricsDelay   time.Duration `mapstructure:"metrics_delay"`
	RecentWindow   int           `mapstructure:"recent_window"`
	NicheFile      string        `mapstructure:"niche_file"`
}

func (a AccountConfig) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("account.id required")
	}
	return nil
}

// ResearchConfig toggles the viral-post sources.
type ResearchConfig struct {
	HackerNews HackerNewsConfig `mapstructure:"hackernews"`
	Reddit     RedditConfig     `mapstructure:"reddit"`
	ThreadsWeb ThreadsWebConfig `mapstructure:"threads_web"`
	// IndexPath is the on-disk dedup index; empty keeps it in memory.
	IndexPath     string `mapstructure:"index_path"`
	FetchArticles bool   `mapstructure:"fetch_articles"`
	MaxPosts      int    `mapstructure:"max_posts"`
}

// HackerNewsConfig contains Hacker News research settings.
type HackerNewsConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MinScore   int  `mapstructure:"min_score"`
	MaxResults int  `mapstructure:"max_results"`
}

// RedditConfig contains Reddit research settings.
type RedditConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Subreddits []string `mapstructure:"subreddits"`
	MaxResults int      `mapstructure:"max_results"`
	UserAgent  string   `mapstructure:"user_agent"`
}

// ThreadsWebConfig contains the headless Threads tag scraper settings.
type ThreadsWebConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Tags       []string      `mapstructure:"tags"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ThreadsConfig contains the platform publishing API settings.
type ThreadsConfig struct {
	AccessToken string        `mapstructure:"access_token"`
	UserID      string        `mapstructure:"user_id"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// DryRun swaps the real client for an in-process mock that publishes
	// nothing. Useful before the account has API access.
	DryRun bool `mapstructure:"dry_run"`
}

func (t ThreadsConfig) Validate() error {
	if t.DryRun {
		return nil
	}
	if strings.TrimSpace(t.AccessToken) == "" {
		return fmt.Errorf("threads.access_token required unless threads.dry_run is set")
	}
	if strings.TrimSpace(t.UserID) == "" {
		return fmt.Errorf("threads.user_id required unless threads.dry_run is set")
	}
	return nil
}

// TelegramConfig contains the approval bot settings.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

func (t TelegramConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.BotToken) == "" {
		return fmt.Errorf("telegram.bot_token required when telegram is enabled")
	}
	if t.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id required when telegram is enabled")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if err := p.Validate(); err != nil {
		return "", err
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// SchedulerConfig controls the recurring cycle triggers. Cron specs accept
// "@daily", "@hourly" or standard 5-field expressions.
type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	CreationCron string        `mapstructure:"creation_cron"`
	LearningCron string        `mapstructure:"learning_cron"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.completion_model", "gpt-5")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-large")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("account.variant_count", 5)
	viper.SetDefault("account.history_ceiling", 0.15)
	viper.SetDefault("account.metrics_delay", "24h")
	viper.SetDefault("account.recent_window", 20)
	viper.SetDefault("research.hackernews.enabled", true)
	viper.SetDefault("research.hackernews.min_score", 50)
	viper.SetDefault("research.hackernews.max_results", 15)
	viper.SetDefault("research.reddit.max_results", 15)
	viper.SetDefault("research.threads_web.timeout", "45s")
	viper.SetDefault("research.max_posts", 30)
	viper.SetDefault("threads.base_url", "https://graph.threads.net/v1.0")
	viper.SetDefault("threads.timeout", "30s")
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.creation_cron", "@daily")
	viper.SetDefault("scheduler.learning_cron", "@daily")
	viper.SetDefault("scheduler.tick_interval", "1m")

	if path == "" {
		viper.AddConfigPath("./app/config") // path to look for the config file in
		viper.AddConfigPath("./config")     // path to look for the config file in
		viper.AddConfigPath(".")            // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("GROWLOOP")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (GROWLOOP_*)

	if err := viper.ReadInConfig(); err != nil {
		// Env-only deployments are fine; anything else is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	// unmarshal config
	var config Config

	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Account.Validate(); err != nil {
		panic(err)
	}
	if err := config.Threads.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telegram.Validate(); err != nil {
		panic(err)
	}
	return &config
}
