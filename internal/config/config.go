package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server ServerConfig `mapstructure:"server" validate:"required"`
	Store  StoreConfig  `mapstructure:"store"  validate:"required"`
	Worker WorkerConfig `mapstructure:"worker" validate:"required"`
	LLM    LLMConfig    `mapstructure:"llm"    validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// StoreConfig selects and configures the durable task store.
type StoreConfig struct {
	// Driver selects the store adapter: postgres or redis.
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres redis"`

	// DatabaseURL is the Postgres connection string. Required for the
	// postgres driver.
	DatabaseURL string `mapstructure:"database_url" validate:"required_if=Driver postgres,omitempty,url"`

	// RedisAddr is the host:port of the Redis server. Required for the
	// redis driver.
	RedisAddr string `mapstructure:"redis_addr" validate:"required_if=Driver redis,omitempty,hostname_port"`
}

// WorkerConfig contains the worker runtime settings.
type WorkerConfig struct {
	// RetentionHours is the read-side age filter: non-terminal tasks older
	// than this are ignored by the resumption scan rather than re-run.
	RetentionHours int `mapstructure:"retention_hours" validate:"required,gt=0"`

	// RescanMinutes is the interval between periodic resumption scans.
	// Zero disables periodic rescans; the scan then runs only at startup.
	RescanMinutes int `mapstructure:"rescan_minutes" validate:"gte=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName    string `mapstructure:"model_name"     validate:"required"`

	// MaxRetries bounds the number of retry attempts for transient API
	// failures.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`

	// RetryDelaySeconds is the base delay for exponential backoff between
	// retries.
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds" validate:"gte=0"`
}
