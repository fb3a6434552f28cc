package logger

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// closers holds rotated log files so Sync can close them on exit.
var (
	closers   []io.Closer
	closersMu sync.Mutex
)

// Logger wraps logrus.Entry to provide structured logging with context support.
type Logger struct {
	*logrus.Entry
}

// Rotation configures lumberjack file rotation.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config holds logger configuration.
type Config struct {
	Level       string    // debug, info, warn, error
	Format      string    // json, text
	Output      io.Writer // overrides stdout and file output when set
	ServiceName string

	// Environment "local" always logs to stdout and never to LogFile.
	Environment string
	LogFile     string
	FileOnly    bool
	Rotation    Rotation
}

// DefaultConfig returns a JSON info-level stdout configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "rostersync",
		Environment: "local",
	}
}

// ConfigFromEnv reads LOG_* and APP_ENV variables on top of DefaultConfig.
// Parameters:
//   - service: service name used when SERVICE_NAME is unset.
//
// Returns:
//   - *Config: resolved configuration.
func ConfigFromEnv(service string) *Config {
	cfg := DefaultConfig()
	cfg.Level = envString("LOG_LEVEL", cfg.Level)
	cfg.Format = envString("LOG_FORMAT", cfg.Format)
	cfg.ServiceName = envString("SERVICE_NAME", service)
	cfg.Environment = envString("APP_ENV", cfg.Environment)
	cfg.LogFile = envString("LOG_FILE", "/var/log/rostersync/"+service+".log")
	cfg.FileOnly = envBool("LOG_FILE_ONLY", false)
	cfg.Rotation = Rotation{
		MaxSizeMB:  envInt("LOG_MAX_SIZE", 100),
		MaxBackups: envInt("LOG_MAX_BACKUPS", 7),
		MaxAgeDays: envInt("LOG_MAX_AGE", 30),
		Compress:   envBool("LOG_COMPRESS", true),
	}
	return cfg
}

// New creates a Logger from cfg; nil uses DefaultConfig.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetReportCaller(true)
	log.SetFormatter(newFormatter(cfg.Format))
	log.SetOutput(newOutput(cfg))

	return &Logger{Entry: log.WithField("service", cfg.ServiceName)}
}

// NewDefault creates a Logger for the API server from the environment.
// This is the recommended way to create a logger in main().
func NewDefault() *Logger {
	return New(ConfigFromEnv("rostersync"))
}

func newFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  timestampFormat,
			CallerPrettyfier: callerPrettyfier,
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: callerPrettyfier,
	}
}

func newOutput(cfg *Config) io.Writer {
	if cfg.Output != nil {
		return cfg.Output
	}

	local := cfg.Environment == "" || cfg.Environment == "local"
	var writers []io.Writer
	if local || !cfg.FileOnly {
		writers = append(writers, os.Stdout)
	}
	if !local && cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.Rotation.MaxSizeMB,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAge:     cfg.Rotation.MaxAgeDays,
			Compress:   cfg.Rotation.Compress,
		}
		closersMu.Lock()
		closers = append(closers, file)
		closersMu.Unlock()
		writers = append(writers, file)
	}
	if len(writers) == 1 {
		return writers[0]
	}
	if len(writers) == 0 {
		return os.Stdout
	}
	return io.MultiWriter(writers...)
}

// Sync closes rotated log files. Call it before the process exits.
func Sync() error {
	closersMu.Lock()
	defer closersMu.Unlock()

	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	closers = nil
	return first
}

// WithFields returns a new Logger with additional fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// WithField returns a new Logger with a single additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithError returns a new Logger with an error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

// callerPrettyfier trims the caller to package.func and file:line.
func callerPrettyfier(frame *runtime.Frame) (function string, file string) {
	funcName := frame.Function
	if idx := strings.LastIndex(funcName, "/"); idx != -1 {
		funcName = funcName[idx+1:]
	}
	return funcName, filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return i
}
