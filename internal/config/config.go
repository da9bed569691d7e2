package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/logging"
)

// Config holds engine defaults, loaded from environment variables.
type Config struct {
	SampleRate int
	TickFrames int // clock interval in frames, rounded up to whole quanta

	Lookahead        time.Duration // scheduler lookahead
	Window           time.Duration // transport scheduling window
	PositionInterval time.Duration // transport:position throttle
	TeardownMargin   time.Duration // extra time after a release tail

	LogLevel logging.LogLevel
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		SampleRate:       envInt("DAW_SAMPLE_RATE", 48000),
		TickFrames:       envInt("DAW_TICK_FRAMES", 1024),
		Lookahead:        envMillis("DAW_LOOKAHEAD_MS", 100),
		Window:           envMillis("DAW_WINDOW_MS", 200),
		PositionInterval: envMillis("DAW_POSITION_MS", 50),
		TeardownMargin:   envMillis("DAW_TEARDOWN_MS", 50),
		LogLevel:         ParseLogLevel(envStr("DAW_LOG_LEVEL", "warn")),
	}
}

// ParseLogLevel maps a level name to a pion log level. Unknown names
// give LogLevelWarn.
func ParseLogLevel(s string) logging.LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off", "none":
		return logging.LogLevelDisabled
	case "error":
		return logging.LogLevelError
	case "info":
		return logging.LogLevelInfo
	case "debug":
		return logging.LogLevelDebug
	case "trace":
		return logging.LogLevelTrace
	}
	return logging.LogLevelWarn
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envMillis(key string, fallback float64) time.Duration {
	ms := fallback
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			ms = f
		}
	}
	return time.Duration(ms * float64(time.Millisecond))
}
