package logger

import (
	"io"
	"os"
	"strconv"
)

// EnvLocal is the environment in which logs only go to stdout.
const EnvLocal = "local"

// Config holds logger configuration.
type Config struct {
	Level       string    // debug, info, warn, error
	Format      string    // json, text
	Output      io.Writer // overrides every other destination when set
	ServiceName string

	Environment string // local, dev, prod
	File        string
	FileOnly    bool
	Rotation    Rotation
}

// Rotation bounds the size and age of the log file.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig logs JSON at info level to stdout.
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "json",
		Output:      os.Stdout,
		ServiceName: "embedr",
		Environment: EnvLocal,
	}
}

// ConfigFromEnv reads the LOG_* variables. Unset or malformed values fall back to defaults.
func ConfigFromEnv() *Config {
	env := envLookup(os.Getenv)
	return &Config{
		Level:       env.str("LOG_LEVEL", "info"),
		Format:      env.str("LOG_FORMAT", "json"),
		ServiceName: env.str("SERVICE_NAME", "embedr"),
		Environment: env.str("APP_ENV", EnvLocal),
		File:        env.str("LOG_FILE", "/var/log/embedr/embedr.log"),
		FileOnly:    env.boolean("LOG_FILE_ONLY", false),
		Rotation: Rotation{
			MaxSizeMB:  env.integer("LOG_MAX_SIZE", 100),
			MaxBackups: env.integer("LOG_MAX_BACKUPS", 7),
			MaxAgeDays: env.integer("LOG_MAX_AGE", 30),
			Compress:   env.boolean("LOG_COMPRESS", true),
		},
	}
}

type envLookup func(string) string

func (e envLookup) str(key, def string) string {
	if v := e(key); v != "" {
		return v
	}
	return def
}

func (e envLookup) boolean(key string, def bool) bool {
	if b, err := strconv.ParseBool(e(key)); err == nil {
		return b
	}
	return def
}

func (e envLookup) integer(key string, def int) int {
	if i, err := strconv.Atoi(e(key)); err == nil {
		return i
	}
	return def
}
