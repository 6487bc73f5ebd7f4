package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
)

// Config holds all configuration for the application
type Config struct {
	Environment string                 `mapstructure:"environment"`
	LogLevel    string                 `mapstructure:"log_level"`
	Server      ServerConfig           `mapstructure:"server"`
	Database    DatabaseConfig         `mapstructure:"database"`
	Redis       RedisConfig            `mapstructure:"redis"`
	Engine      EngineConfig           `mapstructure:"engine"`
	Chains      map[string]ChainConfig `mapstructure:"chains"`
	Email       EmailConfig            `mapstructure:"email"`
	Tracing     TracingConfig          `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AdminToken      string   `mapstructure:"admin_token"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// EngineConfig tunes the detection and confirmation loops
type EngineConfig struct {
	VerifyInterval     time.Duration `mapstructure:"verify_interval"`
	VerifyConcurrency  int           `mapstructure:"verify_concurrency"`
	GracePeriod        time.Duration `mapstructure:"grace_period"`
	ProcessedTTL       time.Duration `mapstructure:"processed_ttl"`
	ProcessedCleanup   time.Duration `mapstructure:"processed_cleanup"`
	LockTTL            time.Duration `mapstructure:"lock_ttl"`
	LockSweepSchedule  string        `mapstructure:"lock_sweep_schedule"`
	MaxPendingAge      time.Duration `mapstructure:"max_pending_age"`
	AuditInterval      time.Duration `mapstructure:"audit_interval"`
	NativePollInterval time.Duration `mapstructure:"native_poll_interval"`
	NativeLookback     time.Duration `mapstructure:"native_lookback"`
	MOPollInterval     time.Duration `mapstructure:"mo_poll_interval"`
	MOBlockRange       uint64        `mapstructure:"mo_block_range"`
	MOMaxRetries       int           `mapstructure:"mo_max_retries"`
	MOBaseBackoff      time.Duration `mapstructure:"mo_base_backoff"`
	SDKPollInterval    time.Duration `mapstructure:"sdk_poll_interval"`
	PendingKey         string        `mapstructure:"pending_key"`
}

// ChainConfig describes one supported chain and its tokens
type ChainConfig struct {
	Family         string                 `mapstructure:"family"`
	Network        string                 `mapstructure:"network"`
	NativeCurrency string                 `mapstructure:"native_currency"`
	Decimals       int                    `mapstructure:"decimals"`
	Confirmations  int                    `mapstructure:"confirmations"`
	RPC            string                 `mapstructure:"rpc"`
	WebSocket      string                 `mapstructure:"websocket"`
	ExplorerURL    string                 `mapstructure:"explorer_url"`
	ExplorerAPIKey string                 `mapstructure:"explorer_api_key"`
	PushURL        string                 `mapstructure:"push_url"`
	APIKey         string                 `mapstructure:"api_key"`
	RateLimit      float64                `mapstructure:"rate_limit"`
	Tokens         map[string]TokenConfig `mapstructure:"tokens"`
}

type TokenConfig struct {
	Address      string `mapstructure:"address"`
	Decimals     int    `mapstructure:"decimals"`
	ContractType string `mapstructure:"contract_type"`
}

type EmailConfig struct {
	Provider  string `mapstructure:"provider"` // "sendgrid" or "log"
	APIKey    string `mapstructure:"api_key"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 120)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "deposit_watcher")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 3600)
	viper.SetDefault("database.migrations_path", "file://migrations")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)

	// Engine defaults
	viper.SetDefault("engine.verify_interval", "10s")
	viper.SetDefault("engine.verify_concurrency", 5)
	viper.SetDefault("engine.grace_period", "10m")
	viper.SetDefault("engine.processed_ttl", fmt.Sprintf("%dm", entities.ProcessedTxExpiryMinutes))
	viper.SetDefault("engine.processed_cleanup", "1m")
	viper.SetDefault("engine.lock_ttl", fmt.Sprintf("%dh", entities.AddressLockExpiryHours))
	viper.SetDefault("engine.lock_sweep_schedule", "@every 1m")
	viper.SetDefault("engine.max_pending_age", fmt.Sprintf("%dh", entities.MaxPendingAgeHours))
	viper.SetDefault("engine.audit_interval", "5m")
	viper.SetDefault("engine.native_poll_interval", "15s")
	viper.SetDefault("engine.native_lookback", "10m")
	viper.SetDefault("engine.mo_poll_interval", "10s")
	viper.SetDefault("engine.mo_block_range", 5000)
	viper.SetDefault("engine.mo_max_retries", 5)
	viper.SetDefault("engine.mo_base_backoff", "1s")
	viper.SetDefault("engine.sdk_poll_interval", "15s")
	viper.SetDefault("engine.pending_key", "pendingTransactions")

	// Email defaults
	viper.SetDefault("email.provider", "log")
	viper.SetDefault("email.from_email", "no-reply@deposits.local")
	viper.SetDefault("email.from_name", "Deposit Watcher")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.collector_url", "localhost:4317")
	viper.SetDefault("tracing.service_name", "deposit-watcher")
	viper.SetDefault("tracing.sample_rate", 1.0)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	if redisURL := os.Getenv("REDIS_HOST"); redisURL != "" {
		viper.Set("redis.host", redisURL)
	}

	if token := os.Getenv("ADMIN_TOKEN"); token != "" {
		viper.Set("server.admin_token", token)
	}

	if sendgridKey := os.Getenv("SENDGRID_API_KEY"); sendgridKey != "" {
		viper.Set("email.api_key", sendgridKey)
		viper.Set("email.provider", "sendgrid")
	}
}

func validate(config *Config) error {
	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	if len(config.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	for name, chain := range config.Chains {
		family, err := entities.ParseChainFamily(chain.Family)
		if err != nil {
			return fmt.Errorf("chain %s: %w", name, err)
		}
		if chain.RPC == "" && chain.PushURL == "" {
			return fmt.Errorf("chain %s: rpc or push_url is required", name)
		}
		if family.UsesReceipts() && chain.Confirmations < 0 {
			return fmt.Errorf("chain %s: confirmations must not be negative", name)
		}
		for currency, token := range chain.Tokens {
			if token.Address == "" {
				return fmt.Errorf("chain %s token %s: address is required", name, currency)
			}
			switch strings.ToLower(token.ContractType) {
			case "", entities.TokenContractTypeStandard, entities.TokenContractTypePermit:
			default:
				return fmt.Errorf("chain %s token %s: unknown contract_type %q", name, currency, token.ContractType)
			}
		}
	}

	if config.Engine.VerifyConcurrency <= 0 {
		return fmt.Errorf("engine.verify_concurrency must be positive")
	}

	if config.Email.Provider == "sendgrid" && config.Email.APIKey == "" {
		return fmt.Errorf("sendgrid api key is required when email provider is sendgrid")
	}

	return nil
}
