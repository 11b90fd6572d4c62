package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the agent's structured logger. Components derive their own
// with WithComponent so every line says where it came from.
type Logger struct {
	*zap.Logger
}

type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

var zapLevels = map[LogLevel]zapcore.Level{
	DebugLevel: zapcore.DebugLevel,
	InfoLevel:  zapcore.InfoLevel,
	WarnLevel:  zapcore.WarnLevel,
	ErrorLevel: zapcore.ErrorLevel,
}

// Config selects level and output format. A device build runs "development"
// with console output; a gateway deployment runs "production" with JSON.
type Config struct {
	Level       LogLevel `mapstructure:"level"`
	Environment string   `mapstructure:"environment"`
	Encoding    string   `mapstructure:"encoding"` // json or console
	// Output defaults to stdout
	Output io.Writer `mapstructure:"-"`
}

func (c Config) production() bool {
	return c.Environment == "production"
}

func (c Config) withDefaults() Config {
	if c.Level == "" {
		c.Level = InfoLevel
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Encoding == "" {
		c.Encoding = "console"
		if c.production() {
			c.Encoding = "json"
		}
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	return c
}

func (c Config) encoder() zapcore.Encoder {
	ec := zap.NewDevelopmentEncoderConfig()
	if c.production() {
		ec = zap.NewProductionEncoderConfig()
	} else if c.Encoding == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder

	if c.Encoding == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	return zapcore.NewConsoleEncoder(ec)
}

// New builds a logger from cfg, filling in defaults for empty fields
func New(cfg Config) (*Logger, error) {
	cfg = cfg.withDefaults()

	level, ok := zapLevels[cfg.Level]
	if !ok {
		level = zapcore.InfoLevel
	}

	core := zapcore.NewCore(cfg.encoder(), zapcore.AddSync(cfg.Output), level)
	return &Logger{Logger: zap.New(core, zap.AddCaller())}, nil
}

// NewNop returns a logger that discards everything, for tests
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(zap.Any(key, value))}
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return &Logger{Logger: l.Logger.With(zapFields...)}
}

// WithComponent tags lines with the subsystem that wrote them
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithField("component", component)
}

// WithPass tags log lines that belong to one sync pass
func (l *Logger) WithPass(passID string) *Logger {
	return l.WithField("pass_id", passID)
}

// ParseLevel maps config strings to a level; anything unknown is info
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

var globalLogger *Logger

// SetGlobalLogger is called once by config initialization
func SetGlobalLogger(logger *Logger) {
	globalLogger = logger
}

// GetGlobalLogger is the fallback for components built without a logger
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		globalLogger, _ = New(Config{Level: DebugLevel})
	}
	return globalLogger
}
