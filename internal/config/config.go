package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the tab agent.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// HTTP API bind settings
	BindAddr         string
	BindCandidates   []string
	BindAutoFallback bool

	// Storage settings
	DataDir string

	// Content resolution
	LoadTimeoutMS int
	EvalTimeoutMS int

	// Generation service
	GenAIBaseURL string
	GenAIAPIKey  string
	GenAIModel   string

	// Logging
	LogLevel string
	LogFile  string

	// Optional push notifications on lifecycle events
	NtfyEndpoint string

	// Optional managed browser launch
	LaunchBrowser bool
	BrowserBinary string
	ProfileDir    string
	StartURL      string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		BindAddr:         getEnvOrDefault("AGENT_BIND_ADDR", "127.0.0.1:8190"),
		BindAutoFallback: getEnvBoolOrDefault("AGENT_BIND_AUTO_FALLBACK", true),
		DataDir:          getEnvOrDefault("AGENT_DATA_DIR", "./agent_data"),
		LoadTimeoutMS:    getEnvIntOrDefault("AGENT_LOAD_TIMEOUT_MS", 2000),
		EvalTimeoutMS:    getEnvIntOrDefault("AGENT_EVAL_TIMEOUT_MS", 5000),
		GenAIBaseURL:     getEnvOrDefault("GENAI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GenAIAPIKey:      os.Getenv("GENAI_API_KEY"),
		GenAIModel:       getEnvOrDefault("GENAI_MODEL", "gemini-2.0-flash"),
		LogLevel:         strings.ToLower(getEnvOrDefault("AGENT_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("AGENT_LOG_FILE", "logs/tab_agent.log"),
		NtfyEndpoint:     os.Getenv("AGENT_NTFY_ENDPOINT"),
		LaunchBrowser:    getEnvBoolOrDefault("AGENT_LAUNCH_BROWSER", false),
		BrowserBinary:    getEnvOrDefault("AGENT_BROWSER_BINARY", "chromium"),
		ProfileDir:       getEnvOrDefault("AGENT_PROFILE_DIR", "./browser_profile"),
		StartURL:         getEnvOrDefault("AGENT_START_URL", "about:blank"),
	}

	for _, addr := range strings.Split(os.Getenv("AGENT_BIND_CANDIDATES"), ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			cfg.BindCandidates = append(cfg.BindCandidates, addr)
		}
	}
	if len(cfg.BindCandidates) == 0 {
		cfg.BindCandidates = []string{"127.0.0.1:8191", "127.0.0.1:8192"}
	}

	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.LoadTimeoutMS < 100 {
		cfg.LoadTimeoutMS = 100
	}

	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
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
