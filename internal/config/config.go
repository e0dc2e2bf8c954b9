// Package config loads the JUNK_* mount-time environment variables
// described in spec.md §6. junkfs takes no flags of its own beyond the two
// positional arguments (meta path, mount point / store path); everything
// else is environment-driven, so this package reads os.LookupEnv directly
// rather than pulling in a flag/INI layer.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// Config holds the parsed value of every JUNK_* environment variable.
type Config struct {
	// LogLevel is the parsed value of JUNK_LEVEL. Default: zerolog.ErrorLevel.
	LogLevel zerolog.Level

	// DisableWritebackCache is JUNK_DISABLE_WBC=1. Default: false (writeback
	// caching enabled).
	DisableWritebackCache bool

	// EnableInoReuse is JUNK_ENABLE_INO_REUSE. Default: true.
	EnableInoReuse bool

	// StrictInvariant is JUNK_STRICT_INVARIANT=1. Default: false.
	StrictInvariant bool

	// VerifyFlush is JUNK_VERIFY_FLUSH=1. Default: false.
	VerifyFlush bool
}

// FromEnv reads and validates the JUNK_* environment variables, returning
// sane defaults for anything unset. The only failure mode is a variable
// being set to a value that doesn't parse.
func FromEnv() (Config, error) {
	cfg := Config{
		LogLevel:       zerolog.ErrorLevel,
		EnableInoReuse: true,
	}

	if v, ok := os.LookupEnv("JUNK_LEVEL"); ok {
		lvl, err := zerolog.ParseLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("JUNK_LEVEL=%q: %w", v, err)
		}
		cfg.LogLevel = lvl
	}

	var err error
	if cfg.DisableWritebackCache, err = boolEnv("JUNK_DISABLE_WBC", false); err != nil {
		return Config{}, err
	}
	if cfg.EnableInoReuse, err = boolEnv("JUNK_ENABLE_INO_REUSE", true); err != nil {
		return Config{}, err
	}
	if cfg.StrictInvariant, err = boolEnv("JUNK_STRICT_INVARIANT", false); err != nil {
		return Config{}, err
	}
	if cfg.VerifyFlush, err = boolEnv("JUNK_VERIFY_FLUSH", false); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func boolEnv(name string, def bool) (bool, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q: %w", name, v, err)
	}

	return n != 0, nil
}

// NewLogger builds the zerolog.Logger the rest of the process logs
// through, at the level configured by JUNK_LEVEL.
func NewLogger(cfg Config) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(cfg.LogLevel).
		With().
		Timestamp().
		Logger()
}
