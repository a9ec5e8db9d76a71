package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Level represents a log level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level string
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Domain is a bitmask selecting which engine subsystems emit debug output.
type Domain uint

const (
	DomainConnection Domain = 1 << iota
	DomainVerify
	DomainAvatar
)

// DomainAll enables every debug domain.
const DomainAll = DomainConnection | DomainVerify | DomainAvatar

var domainNames = map[Domain]string{
	DomainConnection: "connection",
	DomainVerify:     "verify",
	DomainAvatar:     "avatar",
}

// ParseDomains parses a comma-separated domain list, e.g.
// "connection,avatar" or "all". Unknown names are ignored.
func ParseDomains(s string) Domain {
	var flags Domain
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "all" || part == "1" {
			return DomainAll
		}
		for flag, name := range domainNames {
			if part == name {
				flags |= flag
			}
		}
	}
	return flags
}

var levelColors = map[Level]*color.Color{
	LevelDebug: color.New(color.FgCyan),
	LevelInfo:  color.New(color.FgGreen),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed),
}

// Logger is the application logger
type Logger struct {
	level   Level
	domains Domain
	file    *os.File
	console bool
	logger  *log.Logger
}

// Config contains logger configuration
type Config struct {
	Level   string
	File    string
	Console bool
	Domains Domain
}

// FromEnv applies the GATEWAY_DEBUG and GATEWAY_LOGFILE environment toggles
// on top of cfg. They are read once at startup; enabling any debug domain
// also lowers the level to debug.
func FromEnv(cfg Config) Config {
	if v := os.Getenv("GATEWAY_DEBUG"); v != "" {
		cfg.Domains |= ParseDomains(v)
		cfg.Level = "debug"
	}
	if v := os.Getenv("GATEWAY_LOGFILE"); v != "" {
		cfg.File = v
		cfg.Console = false
	}
	return cfg
}

// New creates a new logger
func New(cfg Config) (*Logger, error) {
	l := &Logger{
		level:   ParseLevel(cfg.Level),
		domains: cfg.Domains,
		console: cfg.Console,
	}

	var writers []io.Writer

	if cfg.File != "" {
		// Ensure directory exists
		dir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		writers = append(writers, f)
	}

	if cfg.Console {
		writers = append(writers, os.Stderr)
	}

	if len(writers) == 0 {
		// Default to stderr if no outputs configured
		writers = append(writers, os.Stderr)
	}

	var writer io.Writer
	if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = io.MultiWriter(writers...)
	}

	l.logger = log.New(writer, "", 0)

	return l, nil
}

// Close closes the logger
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// log logs a message at the given level
func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	tag := level.String()
	if l.console && l.file == nil {
		tag = levelColors[level].Sprint(tag)
	}
	l.logger.Printf("%s [%s] %s", timestamp, tag, message)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Domain logs a debug message when the given debug domain is enabled
func (l *Logger) Domain(d Domain, format string, args ...interface{}) {
	if l.domains&d == 0 {
		return
	}
	l.log(LevelDebug, "%s: %s", domainNames[d], fmt.Sprintf(format, args...))
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	return l.level
}

// Nop returns a logger that discards everything. Used by components that
// require a logger when none was configured.
func Nop() *Logger {
	return &Logger{
		level:  LevelError + 1,
		logger: log.New(io.Discard, "", 0),
	}
}
