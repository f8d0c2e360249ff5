// internal/logging/logging.go
//
// Process-wide zerolog setup. Every binary calls Configure once at startup;
// packages log through zerolog's global logger or a child created with For.

package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "BOLTCI_LOG_LEVEL"
	EnvLogTimestamp = "BOLTCI_LOG_TIMESTAMP"
	EnvLogNoColor   = "BOLTCI_LOG_NOCOLOR"
)

// Profile selects the default logging behavior for a process class.
type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

type settings struct {
	level     zerolog.Level
	timestamp bool
	noColor   bool
}

var configureOnce sync.Once

// ConfigureRuntime applies the runtime profile (info level, timestamps).
func ConfigureRuntime(app string) zerolog.Logger {
	return Configure(ProfileRuntime, app)
}

// ConfigureTests applies the test profile (debug level, no timestamps).
func ConfigureTests() zerolog.Logger {
	return Configure(ProfileTest, "test")
}

// Configure initializes the global logger exactly once. Environment variables
// override the profile defaults so users can raise verbosity per invocation.
func Configure(profile Profile, app string) zerolog.Logger {
	configureOnce.Do(func() {
		cfg := defaultSettings(profile)
		applyEnvOverrides(&cfg)
		writer := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.noColor,
		}
		builder := zerolog.New(writer).Level(cfg.level).With().Str("app", app)
		if cfg.timestamp {
			builder = builder.Timestamp()
		}
		log.Logger = builder.Logger()
	})
	return log.Logger
}

// ApplyLevel re-levels the global logger from a settings value, typically the
// [log] section of runner.toml. The environment variable still wins.
func ApplyLevel(raw string) {
	if os.Getenv(EnvLogLevel) != "" {
		return
	}
	if lvl, ok := ParseLevel(raw); ok {
		log.Logger = log.Logger.Level(lvl)
	}
}

// For returns a child logger tagged with a component name.
func For(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func defaultSettings(profile Profile) settings {
	switch profile {
	case ProfileTest:
		return settings{level: zerolog.DebugLevel, timestamp: false, noColor: true}
	default:
		return settings{level: zerolog.InfoLevel, timestamp: true}
	}
}

func applyEnvOverrides(cfg *settings) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.noColor = v
	}
}

// ParseLevel maps user-facing level names onto zerolog levels.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
