package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Pool       PoolConfig       `json:"pool"`
	Resilience ResilienceConfig `json:"resilience"`
	DevTools   DevToolsConfig   `json:"devtools"`
	Server     ServerConfig     `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Tracing    TracingConfig    `json:"tracing"`
}

// PoolConfig contains connection pool configuration
type PoolConfig struct {
	MinConnections           int           `json:"min_connections"`
	MaxConnections           int           `json:"max_connections"`
	MaxIdleTime              time.Duration `json:"max_idle_time"`
	HealthCheckInterval      time.Duration `json:"health_check_interval"`
	ConnectionTimeout        time.Duration `json:"connection_timeout"`
	RetryAttempts            int           `json:"retry_attempts"`
	MaxSessionsPerConnection int           `json:"max_sessions_per_connection"`
}

// ResilienceConfig contains circuit breaker, retry and bulkhead configuration
type ResilienceConfig struct {
	FailureThreshold        int           `json:"failure_threshold"`
	ResetTimeout            time.Duration `json:"reset_timeout"`
	HalfOpenMaxCalls        int           `json:"half_open_max_calls"`
	RetryMaxAttempts        int           `json:"retry_max_attempts"`
	InitialDelay            time.Duration `json:"initial_delay"`
	MaxDelay                time.Duration `json:"max_delay"`
	BackoffFactor           float64       `json:"backoff_factor"`
	Jitter                  bool          `json:"jitter"`
	MaxConcurrentOperations int           `json:"max_concurrent_operations"`
	OperationTimeout        time.Duration `json:"operation_timeout"`
}

// DevToolsConfig contains the remote debugging endpoint configuration
type DevToolsConfig struct {
	Endpoint    string        `json:"endpoint"`
	DialTimeout time.Duration `json:"dial_timeout"`
	PingTimeout time.Duration `json:"ping_timeout"`
}

// ServerConfig contains the debug HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Pool: PoolConfig{
			MinConnections:           getEnvInt("POOL_MIN_CONNECTIONS", 2),
			MaxConnections:           getEnvInt("POOL_MAX_CONNECTIONS", 10),
			MaxIdleTime:              getEnvDuration("POOL_MAX_IDLE_TIME", 5*time.Minute),
			HealthCheckInterval:      getEnvDuration("POOL_HEALTH_CHECK_INTERVAL", time.Minute),
			ConnectionTimeout:        getEnvDuration("POOL_CONNECTION_TIMEOUT", 10*time.Second),
			RetryAttempts:            getEnvInt("POOL_RETRY_ATTEMPTS", 3),
			MaxSessionsPerConnection: getEnvInt("POOL_MAX_SESSIONS_PER_CONNECTION", 50),
		},
		Resilience: ResilienceConfig{
			FailureThreshold:        getEnvInt("RESILIENCE_FAILURE_THRESHOLD", 5),
			ResetTimeout:            getEnvDuration("RESILIENCE_RESET_TIMEOUT", time.Minute),
			HalfOpenMaxCalls:        getEnvInt("RESILIENCE_HALF_OPEN_MAX_CALLS", 3),
			RetryMaxAttempts:        getEnvInt("RESILIENCE_RETRY_MAX_ATTEMPTS", 3),
			InitialDelay:            getEnvDuration("RESILIENCE_INITIAL_DELAY", 100*time.Millisecond),
			MaxDelay:                getEnvDuration("RESILIENCE_MAX_DELAY", 5*time.Second),
			BackoffFactor:           getEnvFloat("RESILIENCE_BACKOFF_FACTOR", 2.0),
			Jitter:                  getEnvBool("RESILIENCE_JITTER", true),
			MaxConcurrentOperations: getEnvInt("RESILIENCE_MAX_CONCURRENT_OPERATIONS", 100),
			OperationTimeout:        getEnvDuration("RESILIENCE_OPERATION_TIMEOUT", 30*time.Second),
		},
		DevTools: DevToolsConfig{
			Endpoint:    getEnvString("DEVTOOLS_ENDPOINT", "http://127.0.0.1:9222"),
			DialTimeout: getEnvDuration("DEVTOOLS_DIAL_TIMEOUT", 10*time.Second),
			PingTimeout: getEnvDuration("DEVTOOLS_PING_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "127.0.0.1"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRate:     getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Pool.MinConnections > c.Pool.MaxConnections {
		return fmt.Errorf("pool min connections (%d) cannot exceed max connections (%d)",
			c.Pool.MinConnections, c.Pool.MaxConnections)
	}

	if c.Pool.MaxConnections <= 0 {
		return fmt.Errorf("pool max connections must be positive")
	}

	if c.Resilience.BackoffFactor < 1 {
		return fmt.Errorf("backoff factor must be >= 1")
	}

	if c.Resilience.MaxConcurrentOperations <= 0 {
		return fmt.Errorf("max concurrent operations must be positive")
	}

	if c.DevTools.Endpoint == "" {
		return fmt.Errorf("devtools endpoint is required")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
