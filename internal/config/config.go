package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Discord   DiscordConfig   `mapstructure:"discord"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// DiscordConfig holds the bot credential and storage channel reference.
// Token and channel are deliberately not validated at startup; engine
// operations fail fast when either is missing so the HTTP surface can
// still come up and report the problem.
type DiscordConfig struct {
	BotToken  string `mapstructure:"bot_token"`
	ChannelID string `mapstructure:"channel_id"`
	APIBase   string `mapstructure:"api_base"`
}

// CrawlerConfig holds crawl pagination and retry tuning
type CrawlerConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	BatchDelay   time.Duration `mapstructure:"batch_delay"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// RefreshConfig holds URL staleness and sweep tuning
type RefreshConfig struct {
	StaleAfter  time.Duration `mapstructure:"stale_after"`
	RecordDelay time.Duration `mapstructure:"record_delay"`
}

// SchedulerConfig holds the periodic refresh sweep configuration
type SchedulerConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	// Crawl and refresh actions are long-held synchronous calls; the
	// write timeout is the caller's effective budget for them.
	viper.SetDefault("server.write_timeout", "10m")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("discord.api_base", "https://discord.com/api/v10")

	// Discord allows roughly 50 requests per minute; 100-message pages
	// with a 1.2s gap keep a full-history crawl inside that envelope.
	viper.SetDefault("crawler.batch_size", 100)
	viper.SetDefault("crawler.batch_delay", "1200ms")
	viper.SetDefault("crawler.retry_backoff", "5s")
	viper.SetDefault("crawler.max_retries", 5)

	// Signed attachment URLs stay valid for a bounded window; anything
	// older than 6 hours is treated as maybe-expired.
	viper.SetDefault("refresh.stale_after", "6h")
	viper.SetDefault("refresh.record_delay", "1200ms")

	viper.SetDefault("scheduler.interval_minutes", 60)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	viper.BindEnv("discord.bot_token", "DISCORD_BOT_TOKEN")
	viper.BindEnv("discord.channel_id", "DISCORD_CHANNEL_ID")
	viper.BindEnv("discord.api_base", "DISCORD_API_BASE")

	viper.BindEnv("crawler.batch_size", "CRAWLER_BATCH_SIZE")
	viper.BindEnv("crawler.batch_delay", "CRAWLER_BATCH_DELAY")
	viper.BindEnv("crawler.retry_backoff", "CRAWLER_RETRY_BACKOFF")
	viper.BindEnv("crawler.max_retries", "CRAWLER_MAX_RETRIES")

	viper.BindEnv("refresh.stale_after", "REFRESH_STALE_AFTER")
	viper.BindEnv("refresh.record_delay", "REFRESH_RECORD_DELAY")

	viper.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Crawler.BatchSize <= 0 || c.Crawler.BatchSize > 100 {
		return fmt.Errorf("crawler batch size must be between 1 and 100")
	}

	if c.Crawler.MaxRetries < 1 {
		return fmt.Errorf("crawler max retries must be at least 1")
	}

	if c.Refresh.StaleAfter <= 0 {
		return fmt.Errorf("refresh stale_after must be greater than 0")
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	return nil
}
