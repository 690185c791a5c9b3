package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sage3/foresight/config"
	"github.com/sage3/foresight/pkg/paths"
	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex

	// logCfg is the logging section in effect; nil until Init or the first
	// NewLogger call resolves it.
	logCfg *Config
)

// Init installs the logging section of an already loaded configuration.
// Loggers created before Init keep their settings.
func Init(cfg *config.Config) error {
	var c Config
	if cfg != nil {
		if err := cfg.UnmarshalExtension("logging", &c); err != nil {
			return err
		}
	}
	loggersMu.Lock()
	logCfg = &c
	loggersMu.Unlock()
	return nil
}

// Reset drops cached loggers and configuration.
func Reset() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	loggers = make(map[string]*logrus.Entry)
	logCfg = nil
}

// LogFilePath returns the file the default file sink writes to today.
func LogFilePath(c Config) string {
	if c.File.Path != "" {
		return expandPath(c.File.Path)
	}
	return filepath.Join(paths.LogDir(), fmt.Sprintf("foresight-%s.log", time.Now().Format("2006-01-02")))
}

// NewLogger creates and returns a pre-configured logger for a specific component.
// It uses a singleton pattern per component to avoid re-initializing.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	if logCfg == nil {
		var c Config
		if cfg, err := config.LoadDefault(); err == nil {
			if err := cfg.UnmarshalExtension("logging", &c); err != nil {
				logrus.Warnf("Failed to parse 'logging' config: %v", err)
			}
		}
		logCfg = &c
	}
	c := *logCfg

	logger := logrus.New()

	levelStr := "info"
	if os.Getenv("FORESIGHT_LOG_LEVEL") != "" {
		levelStr = os.Getenv("FORESIGHT_LOG_LEVEL")
	} else if c.Level != "" {
		levelStr = c.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if os.Getenv("FORESIGHT_LOG_CALLER") == "true" || c.ReportCaller {
		logger.SetReportCaller(true)
	}

	switch c.Format.Preset {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "simple":
		logger.SetFormatter(&TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}})
	default:
		logger.SetFormatter(&TextFormatter{Config: c.Format})
	}

	var writers []io.Writer

	if !c.File.Disabled {
		logFilePath := LogFilePath(c)
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err == nil {
			file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				writers = append(writers, file)
			} else if c.File.Path != "" {
				logger.Warnf("Failed to open log file %s: %v", logFilePath, err)
			}
		}
	}

	stderrMode := "auto"
	if c.Format.StructuredToStderr != "" {
		stderrMode = c.Format.StructuredToStderr
	}

	shouldLogToStderr := false
	switch stderrMode {
	case "always":
		shouldLogToStderr = true
	case "never":
		shouldLogToStderr = false
	default:
		// Interactive terminals at info level only get output when there is
		// no file sink to carry it.
		isDebug := logger.GetLevel() >= logrus.DebugLevel
		isInteractive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
		shouldLogToStderr = isDebug || !isInteractive || len(writers) == 0
	}

	if shouldLogToStderr {
		writers = append(writers, defaultGlobalWriter)
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	entry := logger.WithField("component", component)
	loggers[component] = entry
	return entry
}

// expandPath expands tilde in file paths
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
