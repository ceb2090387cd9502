package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted by BROWSERBEE_BACKEND.
const (
	BackendCDP    = "cdp"
	BackendStatic = "static"
)

// Config holds all configuration for the browserbee service.
type Config struct {
	Backend string

	// CDP connection settings
	CDPAddress    string
	CDPPort       int
	LaunchBrowser bool
	Headless      bool
	ProfileDir    string
	BrowserPath   string

	// HTTP control surface
	BindAddr         string
	PortAutoFallback bool
	PortCandidates   []string

	// Logging
	LogLevel string
	LogFile  string

	// Storage
	ScreenshotDir string
	JournalDir    string

	// Timeouts and limits
	NavTimeoutMS       int
	RequestTimeoutMS   int
	ScreenshotMaxChars int

	StartupTabsPath string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		Backend:            strings.ToLower(getEnvOrDefault("BROWSERBEE_BACKEND", BackendCDP)),
		CDPAddress:         getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:            getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		LaunchBrowser:      getEnvBoolOrDefault("BROWSERBEE_LAUNCH_BROWSER", false),
		Headless:           getEnvBoolOrDefault("BROWSERBEE_HEADLESS", false),
		ProfileDir:         getEnvOrDefault("BROWSERBEE_PROFILE_DIR", "./browser_profile"),
		BrowserPath:        getEnvOrDefault("BROWSERBEE_BROWSER_PATH", ""),
		BindAddr:           getEnvOrDefault("BROWSERBEE_BIND_ADDR", "127.0.0.1:8190"),
		PortAutoFallback:   getEnvBoolOrDefault("BROWSERBEE_PORT_AUTO_FALLBACK", true),
		PortCandidates:     splitList(getEnvOrDefault("BROWSERBEE_PORT_CANDIDATES", "127.0.0.1:8191,127.0.0.1:8192,127.0.0.1:8193")),
		LogLevel:           strings.ToLower(getEnvOrDefault("BROWSERBEE_LOG_LEVEL", "info")),
		LogFile:            getEnvOrDefault("BROWSERBEE_LOG_FILE", "logs/browserbee.log"),
		ScreenshotDir:      getEnvOrDefault("BROWSERBEE_SCREENSHOT_DIR", "./screenshots"),
		JournalDir:         getEnvOrDefault("BROWSERBEE_JOURNAL_DIR", ""),
		NavTimeoutMS:       getEnvIntOrDefault("BROWSERBEE_NAV_TIMEOUT_MS", 30000),
		RequestTimeoutMS:   getEnvIntOrDefault("BROWSERBEE_REQUEST_TIMEOUT_MS", 30000),
		ScreenshotMaxChars: getEnvIntOrDefault("BROWSERBEE_SCREENSHOT_MAX_CHARS", 0),
		StartupTabsPath:    getEnvOrDefault("BROWSERBEE_STARTUP_TABS", "./config/startup_tabs.yaml"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendCDP, BackendStatic:
	default:
		return fmt.Errorf("config: unknown backend %q (want %s or %s)", c.Backend, BackendCDP, BackendStatic)
	}
	if c.CDPPort <= 0 || c.CDPPort > 65535 {
		return fmt.Errorf("config: CHROMIUM_CDP_PORT out of range: %d", c.CDPPort)
	}
	if c.NavTimeoutMS < 1000 {
		c.NavTimeoutMS = 1000
	}
	if c.RequestTimeoutMS < 1000 {
		c.RequestTimeoutMS = 1000
	}
	if c.ScreenshotMaxChars < 0 {
		c.ScreenshotMaxChars = 0
	}
	return nil
}

// CDPURL returns the DevTools HTTP endpoint.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

// NavTimeout returns the navigation wait as a duration.
func (c *Config) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutMS) * time.Millisecond
}

// RequestTimeout returns the per-message timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// SlogLevel maps LogLevel to a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
