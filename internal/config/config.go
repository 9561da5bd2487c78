package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Redis     *RedisConfig     `json:"redis"`
	Sweeper   *SweeperConfig   `json:"sweeper"`
	Auth      *AuthConfig      `json:"auth"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// RedisConfig locates the pub/sub broker. The broker is optional at runtime:
// an unreachable Redis degrades the process to local-only delivery instead of
// failing startup.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type SweeperConfig struct {
	Interval time.Duration `json:"interval"`
	MaxIdle  time.Duration `json:"max_idle"`
}

type AuthConfig struct {
	Secret string `json:"secret"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults for a single-node deployment
// behind a local Redis; everything overridable per environment
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./notifyhub.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Redis: &RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Sweeper: &SweeperConfig{
			Interval: 5 * time.Minute,
			MaxIdle:  30 * time.Minute,
		},
		Auth: &AuthConfig{
			Secret: "dev-secret-change-me",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}

	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}

	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}

	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}

	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}

	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}

	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address cannot be empty")
	}

	if c.Sweeper == nil {
		return fmt.Errorf("sweeper configuration is required")
	}

	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper interval must be positive")
	}

	if c.Sweeper.MaxIdle <= 0 {
		return fmt.Errorf("sweeper max idle must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}

	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret cannot be empty")
	}

	return nil
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Supports containerized deployments and configuration management systems
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("NOTIFYHUB_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}

	if host := os.Getenv("NOTIFYHUB_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}

	if dbPath := os.Getenv("NOTIFYHUB_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}

	if readTimeout := os.Getenv("NOTIFYHUB_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}

	if writeTimeout := os.Getenv("NOTIFYHUB_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}

	if dbTimeout := os.Getenv("NOTIFYHUB_DATABASE_TIMEOUT"); dbTimeout != "" {
		if timeout, err := time.ParseDuration(dbTimeout); err == nil {
			config.Database.Timeout = timeout
		}
	}

	if pingInterval := os.Getenv("NOTIFYHUB_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if interval, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = interval
		}
	}

	if wsReadTimeout := os.Getenv("NOTIFYHUB_WEBSOCKET_READ_TIMEOUT"); wsReadTimeout != "" {
		if timeout, err := time.ParseDuration(wsReadTimeout); err == nil {
			config.WebSocket.ReadTimeout = timeout
		}
	}

	if wsWriteTimeout := os.Getenv("NOTIFYHUB_WEBSOCKET_WRITE_TIMEOUT"); wsWriteTimeout != "" {
		if timeout, err := time.ParseDuration(wsWriteTimeout); err == nil {
			config.WebSocket.WriteTimeout = timeout
		}
	}

	if bufferSize := os.Getenv("NOTIFYHUB_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}

	if redisAddr := os.Getenv("NOTIFYHUB_REDIS_ADDR"); redisAddr != "" {
		config.Redis.Addr = redisAddr
	}

	if redisPassword := os.Getenv("NOTIFYHUB_REDIS_PASSWORD"); redisPassword != "" {
		config.Redis.Password = redisPassword
	}

	if redisDB := os.Getenv("NOTIFYHUB_REDIS_DB"); redisDB != "" {
		if db, err := strconv.Atoi(redisDB); err == nil {
			config.Redis.DB = db
		}
	}

	if interval := os.Getenv("NOTIFYHUB_SWEEPER_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Sweeper.Interval = d
		}
	}

	if maxIdle := os.Getenv("NOTIFYHUB_SWEEPER_MAX_IDLE"); maxIdle != "" {
		if d, err := time.ParseDuration(maxIdle); err == nil {
			config.Sweeper.MaxIdle = d
		}
	}

	if secret := os.Getenv("NOTIFYHUB_AUTH_SECRET"); secret != "" {
		config.Auth.Secret = secret
	}

	return config
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Redis     *RedisConfigFile     `json:"redis"`
	Sweeper   *SweeperConfigFile   `json:"sweeper"`
	Auth      *AuthConfigFile      `json:"auth"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type RedisConfigFile struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type SweeperConfigFile struct {
	Interval string `json:"interval"`
	MaxIdle  string `json:"max_idle"`
}

type AuthConfigFile struct {
	Secret string `json:"secret"`
}

// FUNCTIONAL DISCOVERY: File-based configuration supports complex deployment scenarios
// JSON format chosen for readability and tooling support
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.Database != nil {
		if configFile.Database.Path != "" {
			config.Database.Path = configFile.Database.Path
		}
		if configFile.Database.Timeout != "" {
			if timeout, err := time.ParseDuration(configFile.Database.Timeout); err == nil {
				config.Database.Timeout = timeout
			}
		}
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = timeout
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = timeout
			}
		}
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = configFile.WebSocket.BufferSize
		}
		if configFile.WebSocket.PingInterval != "" {
			if interval, err := time.ParseDuration(configFile.WebSocket.PingInterval); err == nil {
				config.WebSocket.PingInterval = interval
			}
		}
		if configFile.WebSocket.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.ReadTimeout); err == nil {
				config.WebSocket.ReadTimeout = timeout
			}
		}
		if configFile.WebSocket.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.WriteTimeout); err == nil {
				config.WebSocket.WriteTimeout = timeout
			}
		}
	}

	if configFile.Redis != nil {
		if configFile.Redis.Addr != "" {
			config.Redis.Addr = configFile.Redis.Addr
		}
		if configFile.Redis.Password != "" {
			config.Redis.Password = configFile.Redis.Password
		}
		if configFile.Redis.DB > 0 {
			config.Redis.DB = configFile.Redis.DB
		}
	}

	if configFile.Sweeper != nil {
		if configFile.Sweeper.Interval != "" {
			if interval, err := time.ParseDuration(configFile.Sweeper.Interval); err == nil {
				config.Sweeper.Interval = interval
			}
		}
		if configFile.Sweeper.MaxIdle != "" {
			if maxIdle, err := time.ParseDuration(configFile.Sweeper.MaxIdle); err == nil {
				config.Sweeper.MaxIdle = maxIdle
			}
		}
	}

	if configFile.Auth != nil {
		if configFile.Auth.Secret != "" {
			config.Auth.Secret = configFile.Auth.Secret
		}
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// Enables flexible deployment patterns while maintaining sane defaults
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
		// Silently ignore file errors - environment/defaults still work
	}

	return config
}
