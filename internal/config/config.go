package config

import (
	"time"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
	pkgconfig "github.com/0xPollos/twitter-follow-tracker-bot/pkg/config"
	"github.com/0xPollos/twitter-follow-tracker-bot/pkg/pubsub"
	"github.com/0xPollos/twitter-follow-tracker-bot/pkg/storage"
)

type Config struct {
	X            XConfig        `mapstructure:"x"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
	Target       string         `mapstructure:"target_username"`
	PollInterval int            `mapstructure:"poll_interval"` // seconds
	Database     DatabaseConfig `mapstructure:"database"`
	Redis        RedisConfig    `mapstructure:"redis"`
	Bus          pubsub.Config  `mapstructure:"bus"`
	Archive      storage.Config `mapstructure:"archive"`
	Server       ServerConfig   `mapstructure:"server"`
	Log          LogConfig      `mapstructure:"log"`
}

type XConfig struct {
	BearerToken       string        `mapstructure:"bearer_token"`
	BaseURL           string        `mapstructure:"base_url"`
	PageSize          int           `mapstructure:"page_size"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
}

type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

// RedisConfig configures the cycle lock. An empty Address disables locking.
type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// ServerConfig configures the HTTP API. Port 0 disables it.
type ServerConfig struct {
	Host string
	Port int
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Targets returns the configured target usernames, without a leading '@'.
func (c *Config) Targets() []string {
	names := pkgconfig.SplitList(c.Target)
	for i, n := range names {
		if len(n) > 0 && n[0] == '@' {
			names[i] = n[1:]
		}
	}
	return names
}

// Interval returns the poll interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// Validate checks required values. It returns a *domain.ConfigError for the
// first problem found.
func (c *Config) Validate() error {
	switch {
	case c.X.BearerToken == "":
		return &domain.ConfigError{Field: "X_BEARER_TOKEN", Reason: "required"}
	case len(c.Targets()) == 0:
		return &domain.ConfigError{Field: "TARGET_USERNAME", Reason: "required"}
	case c.PollInterval <= 0:
		return &domain.ConfigError{Field: "POLL_INTERVAL", Reason: "must be a positive number of seconds"}
	case c.X.PageSize < 1 || c.X.PageSize > 1000:
		return &domain.ConfigError{Field: "X_PAGE_SIZE", Reason: "must be between 1 and 1000"}
	case c.X.RateLimitCooldown <= 0:
		return &domain.ConfigError{Field: "X_RATE_LIMIT_COOLDOWN", Reason: "must be positive"}
	case c.X.MaxAttempts < 1:
		return &domain.ConfigError{Field: "X_MAX_ATTEMPTS", Reason: "must be at least 1"}
	case c.Telegram.Enabled && c.Telegram.BotToken == "":
		return &domain.ConfigError{Field: "TG_BOT_TOKEN", Reason: "required when telegram is enabled"}
	case c.Telegram.Enabled && c.Telegram.ChatID == "":
		return &domain.ConfigError{Field: "TG_CHAT_ID", Reason: "required when telegram is enabled"}
	case c.Bus.Driver == "kafka" && c.Bus.Kafka.Brokers == "":
		return &domain.ConfigError{Field: "KAFKA_BROKERS", Reason: "required when BUS_DRIVER=kafka"}
	case c.Bus.Driver == "redis" && c.Bus.Redis.Address == "":
		return &domain.ConfigError{Field: "REDIS_ADDRESS", Reason: "required when BUS_DRIVER=redis"}
	case c.Bus.Driver != "" && c.Bus.Driver != "kafka" && c.Bus.Driver != "redis":
		return &domain.ConfigError{Field: "BUS_DRIVER", Reason: "must be redis or kafka"}
	case c.Archive.Driver == "s3" && c.Archive.S3.Bucket == "":
		return &domain.ConfigError{Field: "S3_BUCKET", Reason: "required when ARCHIVE_DRIVER=s3"}
	case c.Archive.Driver != "" && c.Archive.Driver != "local" && c.Archive.Driver != "s3":
		return &domain.ConfigError{Field: "ARCHIVE_DRIVER", Reason: "must be local or s3"}
	}
	return nil
}

// Load reads ./config/config.yaml (optional) and the environment, applies
// defaults and validates the result.
func Load() (*Config, error) {
	v, err := pkgconfig.Load(pkgconfig.GetEnv("CONFIG_DIR", "./config"), "config")
	if err != nil {
		return nil, &domain.ConfigError{Field: "config file", Reason: err.Error()}
	}

	// Set defaults
	v.SetDefault("x.base_url", "https://api.x.com/2")
	v.SetDefault("x.page_size", 1000)
	v.SetDefault("x.request_timeout", "20s")
	v.SetDefault("x.rate_limit_cooldown", "900s")
	v.SetDefault("x.max_attempts", 3)
	v.SetDefault("x.requests_per_minute", 0)
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", "10s")
	v.SetDefault("poll_interval", 300)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "follow_tracker")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./data/following.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_level", "silent")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "30m")
	v.SetDefault("bus.driver", "")
	v.SetDefault("bus.redis.pool_size", 5)
	v.SetDefault("bus.redis.read_timeout", "3s")
	v.SetDefault("bus.redis.write_timeout", "3s")
	v.SetDefault("bus.kafka.partitions", 4)
	v.SetDefault("archive.driver", "")
	v.SetDefault("archive.local.base_path", "./data/archive")
	v.SetDefault("archive.s3.region", "us-east-1")
	v.SetDefault("archive.s3.prefix", "follow-tracker/")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8096)
	v.SetDefault("log.level", "info")

	// Bind environment variables
	v.BindEnv("x.bearer_token", "X_BEARER_TOKEN")
	v.BindEnv("x.base_url", "X_API_BASE_URL")
	v.BindEnv("x.page_size", "X_PAGE_SIZE")
	v.BindEnv("x.request_timeout", "X_REQUEST_TIMEOUT")
	v.BindEnv("x.rate_limit_cooldown", "X_RATE_LIMIT_COOLDOWN")
	v.BindEnv("x.max_attempts", "X_MAX_ATTEMPTS")
	v.BindEnv("x.requests_per_minute", "X_REQUESTS_PER_MINUTE")
	v.BindEnv("telegram.enabled", "TG_ENABLED")
	v.BindEnv("telegram.bot_token", "TG_BOT_TOKEN")
	v.BindEnv("telegram.chat_id", "TG_CHAT_ID")
	v.BindEnv("telegram.base_url", "TG_API_BASE_URL")
	v.BindEnv("target_username", "TARGET_USERNAME")
	v.BindEnv("poll_interval", "POLL_INTERVAL")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("database.max_idle_conns", "DB_MAX_IDLE_CONNS")
	v.BindEnv("database.max_open_conns", "DB_MAX_OPEN_CONNS")
	v.BindEnv("database.conn_max_lifetime", "DB_CONN_MAX_LIFETIME")
	v.BindEnv("database.log_level", "DB_LOG_LEVEL")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("redis.lock_ttl", "REDIS_LOCK_TTL")
	v.BindEnv("bus.driver", "BUS_DRIVER")
	v.BindEnv("bus.redis.address", "REDIS_ADDRESS")
	v.BindEnv("bus.redis.password", "REDIS_PASSWORD")
	v.BindEnv("bus.redis.db", "REDIS_DB")
	v.BindEnv("bus.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("bus.kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("archive.driver", "ARCHIVE_DRIVER")
	v.BindEnv("archive.local.base_path", "ARCHIVE_LOCAL_PATH")
	v.BindEnv("archive.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("archive.s3.region", "S3_REGION")
	v.BindEnv("archive.s3.bucket", "S3_BUCKET")
	v.BindEnv("archive.s3.prefix", "S3_PREFIX")
	v.BindEnv("archive.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("archive.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("archive.s3.use_path_style", "S3_USE_PATH_STYLE")
	v.BindEnv("server.port", "PORT")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.pretty", "LOG_PRETTY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &domain.ConfigError{Field: "config", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
