// Package log configures zerolog for the CLI: console output on terminals,
// JSON elsewhere, and an optional rotated log file.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration
type Config struct {
	Level      string `yaml:"level"`        // Default: info
	JSON       bool   `yaml:"json"`         // Default: false, JSON is forced when stderr is not a terminal
	File       string `yaml:"file"`         // Default: none
	MaxSizeMB  int    `yaml:"max_size_mb"`  // Default: 50
	MaxBackups int    `yaml:"max_backups"`  // Default: 3
	MaxAgeDays int    `yaml:"max_age_days"` // Default: 14
	Compress   bool   `yaml:"compress"`     // Default: true
}

// DefaultConfig returns default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 14,
		Compress:   true,
	}
}

// ParseLevel accepts zerolog level names in any case
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Validate checks the logging configuration
func (c Config) Validate() error {
	_, err := ParseLevel(c.Level)
	return err
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// New builds a logger writing to out, plus the rotated file when one is
// configured. The returned closer releases the file.
func New(cfg Config, out io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	console := out
	if !cfg.JSON && IsTerminal(out) {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	var closer io.Closer = nopCloser{}
	writer := console
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writer = zerolog.MultiLevelWriter(console, file)
		closer = file
	}

	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

// Setup builds the logger with New and installs it as the global zerolog
// logger
func Setup(cfg Config) (zerolog.Logger, io.Closer, error) {
	logger, closer, err := New(cfg, os.Stderr)
	if err != nil {
		return logger, closer, err
	}
	log.Logger = logger
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
