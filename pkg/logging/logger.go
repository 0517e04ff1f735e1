package logging

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with additional functionality
type Logger struct {
	*logrus.Logger
	serviceName string
	version     string
}

// Config holds logging configuration
type Config struct {
	Level       string `json:"level"`
	Format      string `json:"format"`
	Output      string `json:"output"`
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
}

// NewLogger creates a new structured logger
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = &Config{
			Level:       "info",
			Format:      "json",
			Output:      "stdout",
			ServiceName: "browserpool",
			Version:     "unknown",
		}
	}

	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(config.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	default:
		return nil, fmt.Errorf("unsupported log format: %s", config.Format)
	}

	switch strings.ToLower(config.Output) {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		return nil, fmt.Errorf("unsupported log output: %s", config.Output)
	}

	return &Logger{
		Logger:      logger,
		serviceName: config.ServiceName,
		version:     config.Version,
	}, nil
}

// WithFields returns an entry with the given fields plus service metadata
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	base := logrus.Fields{
		"service": l.serviceName,
	}
	if l.version != "" && l.version != "unknown" {
		base["version"] = l.version
	}
	for k, v := range fields {
		base[k] = v
	}
	return l.Logger.WithFields(base)
}

// WithComponent returns an entry tagged with a component name
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"component": component})
}

// WithError returns an entry with the error attached
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.WithFields(logrus.Fields{}).WithError(err)
}

// LogPoolEvent logs connection pool lifecycle events
func (l *Logger) LogPoolEvent(event, connectionID string, fields logrus.Fields) {
	entry := l.WithFields(logrus.Fields{
		"component": "connection_pool",
		"event":     event,
	})
	if connectionID != "" {
		entry = entry.WithField("connection_id", connectionID)
	}
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Info("Pool event")
}

// LogBreakerEvent logs circuit breaker state transitions
func (l *Logger) LogBreakerEvent(name, from, to string, fields logrus.Fields) {
	entry := l.WithFields(logrus.Fields{
		"component": "circuit_breaker",
		"breaker":   name,
		"from":      from,
		"to":        to,
	})
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Info("Circuit breaker state changed")
}

// LogRecoveryEvent logs recovery attempts and their outcome
func (l *Logger) LogRecoveryEvent(operationID string, success bool, actions []string, duration time.Duration) {
	entry := l.WithFields(logrus.Fields{
		"component":    "recovery",
		"operation_id": operationID,
		"success":      success,
		"actions":      actions,
		"duration_ms":  duration.Milliseconds(),
	})
	if success {
		entry.Info("Recovery completed")
	} else {
		entry.Warn("Recovery failed")
	}
}

// LogError logs error with stack trace at debug level
func (l *Logger) LogError(err error, message string, fields logrus.Fields) {
	entry := l.WithError(err)
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	if l.Logger.Level >= logrus.DebugLevel {
		entry = entry.WithField("stack_trace", getStackTrace())
	}
	entry.Error(message)
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}

// getStackTrace returns the current stack trace
func getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// SetOutput sets the logger output
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// Global logger instance
var globalLogger *Logger

func init() {
	var err error
	globalLogger, err = NewLogger(nil)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize global logger: %v", err))
	}
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	return globalLogger
}

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger *Logger) {
	globalLogger = logger
}

// Info logs an info message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.WithFields(parseKeysAndValues(keysAndValues)).Info(msg)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.WithFields(parseKeysAndValues(keysAndValues)).Warn(msg)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.WithFields(parseKeysAndValues(keysAndValues)).Error(msg)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.WithFields(parseKeysAndValues(keysAndValues)).Debug(msg)
}

// parseKeysAndValues converts key-value pairs to logrus.Fields
func parseKeysAndValues(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields)

	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			key := fmt.Sprintf("%v", keysAndValues[i])
			fields[key] = keysAndValues[i+1]
		}
	}

	return fields
}
