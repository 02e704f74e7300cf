package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Chain       ChainConfig       `mapstructure:"chain"`
	ForkService ForkServiceConfig `mapstructure:"fork_service"`
	Connection  ConnectionConfig  `mapstructure:"connection"`
	ABI         ABIConfig         `mapstructure:"abi"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// ChainConfig identifies the origin chain and its live JSON-RPC endpoint.
type ChainConfig struct {
	ID     int64  `mapstructure:"id"`
	RPCURL string `mapstructure:"rpc_url"`
}

// ForkServiceConfig holds settings for the remote fork service.
type ForkServiceConfig struct {
	// BaseURL is the control-API root (POST /forks etc.).
	BaseURL string `mapstructure:"base_url"`
	// RPCURLPattern is the JSON-RPC endpoint of a provisioned fork, with
	// {fork} substituted by the fork id.
	RPCURLPattern string `mapstructure:"rpc_url_pattern"`
	APIKey        string `mapstructure:"api_key"`
	// BlockAdvance is added to the cached virtual block number after each
	// mutating call, BlockAdvanceDelay later.
	BlockAdvance      uint64        `mapstructure:"block_advance"`
	BlockAdvanceDelay time.Duration `mapstructure:"block_advance_delay"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// ConnectionConfig holds the persisted connection shape. Values pass through
// the entity migration chain before use.
type ConnectionConfig struct {
	Avatar   string `mapstructure:"avatar"`
	Pilot    string `mapstructure:"pilot"`
	Module   string `mapstructure:"module"`
	Provider string `mapstructure:"provider"`
}

// ABIConfig holds settings for the external ABI/metadata lookup service.
type ABIConfig struct {
	URL                  string        `mapstructure:"url"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl"`
	CacheCleanupInterval time.Duration `mapstructure:"cache_cleanup_interval"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("app.name", "forkpilot")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("server.port", "8545")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")
	v.SetDefault("chain.id", 1)
	v.SetDefault("chain.rpc_url", "http://localhost:8546")
	v.SetDefault("fork_service.base_url", "https://api.fork.example.com/account/project")
	v.SetDefault("fork_service.rpc_url_pattern", "https://rpc.fork.example.com/fork/{fork}")
	v.SetDefault("fork_service.block_advance", 2)
	v.SetDefault("fork_service.block_advance_delay", "1s")
	v.SetDefault("fork_service.request_timeout", "10s")
	v.SetDefault("connection.provider", "injected")
	v.SetDefault("abi.url", "https://abi.example.com/api")
	v.SetDefault("abi.cache_ttl", "30m")
	v.SetDefault("abi.cache_cleanup_interval", "1h")
	v.SetDefault("abi.request_timeout", "5s")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Printf("Warning: Config file not found in %s or '.', using defaults/env vars\n", configPath)
		}
	}

	v.SetEnvPrefix("PILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
