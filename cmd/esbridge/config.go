package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration file of the command.
type Config struct {
	ModuleCacheSize *int          `yaml:"moduleCacheSize"`
	ModuleDir       string        `yaml:"moduleDir"`
	Metrics         string        `yaml:"metrics"`
	Log             LogConfig     `yaml:"log"`
	GCInterval      time.Duration `yaml:"gcInterval"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"maxSizeMB"`
}

func loadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if cfg.GCInterval < 0 {
		return nil, fmt.Errorf("config %s: gcInterval must not be negative", path)
	}
	return &cfg, nil
}

func parseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info", "informational":
		return logiface.LevelInformational, nil
	case "trace":
		return logiface.LevelTrace, nil
	case "debug":
		return logiface.LevelDebug, nil
	case "notice":
		return logiface.LevelNotice, nil
	case "warn", "warning":
		return logiface.LevelWarning, nil
	case "err", "error":
		return logiface.LevelError, nil
	case "disabled", "off", "none":
		return logiface.LevelDisabled, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// newLogger writes JSON lines to stderr, or to a rotated file if one is
// configured. The returned closer releases the file.
func (c *LogConfig) newLogger(stderr io.Writer) (*logiface.Logger[logiface.Event], io.Closer, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      = stderr
		closer io.Closer = nopCloser{}
	)
	if c.File != "" {
		file := &lumberjack.Logger{
			Filename: c.File,
			MaxSize:  c.MaxSizeMB,
		}
		w, closer = file, file
	}

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()

	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
