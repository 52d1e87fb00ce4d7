// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAPIBase is the remote sessions API used when CHATKIT_API_BASE is unset.
	DefaultAPIBase = "https://api.openai.com"
	// DefaultScriptURL is the hosted widget script loaded by the page shell.
	DefaultScriptURL = "https://cdn.platform.openai.com/deployments/chatkit/chatkit.js"
	// WorkflowPlaceholderPrefix marks the workflow id shipped in .env.example.
	WorkflowPlaceholderPrefix = "wf_replace"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	AppEnv      string
	DBPath      string

	OpenAIAPIKey    string
	WorkflowID      string
	APIBase         string
	ScriptURL       string
	SessionEndpoint string
	FileUploads     bool
	AllowRetry      bool

	WidgetOptionsPath string
	FactRetention     time.Duration

	Timeout   TimeoutConfig
	RateLimit RateLimitConfig
}

// TimeoutConfig groups network and readiness timeouts.
type TimeoutConfig struct {
	ScriptLoad  time.Duration
	Upstream    time.Duration
	HealthCheck time.Duration
}

// RateLimitConfig controls throttling of session creation. The per-user
// bucket covers identified callers and the per-address bucket caps a client
// that rotates or drops its cookie.
type RateLimitConfig struct {
	RequestsPerWindow   int
	IPRequestsPerWindow int
	WindowDuration      time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	port := getEnv("PORT", "8080")

	requests := getEnvInt("SESSION_RATE_LIMIT", 10)
	if requests <= 0 {
		requests = 10
	}
	perIP := getEnvInt("SESSION_RATE_LIMIT_PER_IP", 3*requests)
	if perIP < requests {
		perIP = requests
	}

	cfg := &Config{
		Port:              port,
		FrontendURL:       getEnv("FRONTEND_URL", ""),
		AppEnv:            getEnv("APP_ENV", ""),
		DBPath:            getEnv("DB_PATH", "./data/chatkit.db"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		WorkflowID:        strings.TrimSpace(getEnv("CHATKIT_WORKFLOW_ID", "")),
		APIBase:           strings.TrimRight(getEnv("CHATKIT_API_BASE", DefaultAPIBase), "/"),
		ScriptURL:         getEnv("CHATKIT_SCRIPT_URL", DefaultScriptURL),
		SessionEndpoint:   getEnv("SESSION_ENDPOINT", "http://127.0.0.1:"+port+"/api/create-session"),
		FileUploads:       getEnvBool("CHATKIT_FILE_UPLOADS", true),
		AllowRetry:        getEnvBool("PANEL_ALLOW_RETRY", true),
		WidgetOptionsPath: getEnv("WIDGET_OPTIONS_PATH", ""),
		FactRetention:     getEnvDuration("FACT_RETENTION", 30*24*time.Hour),
		Timeout: TimeoutConfig{
			ScriptLoad:  getEnvDuration("SCRIPT_LOAD_TIMEOUT", 5*time.Second),
			Upstream:    getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
			HealthCheck: 5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow:   requests,
			IPRequestsPerWindow: perIP,
			WindowDuration:      time.Minute,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if _, err := url.ParseRequestURI(c.APIBase); err != nil {
		return fmt.Errorf("CHATKIT_API_BASE is not a valid URL: %w", err)
	}
	if _, err := url.ParseRequestURI(c.SessionEndpoint); err != nil {
		return fmt.Errorf("SESSION_ENDPOINT is not a valid URL: %w", err)
	}
	if c.Timeout.ScriptLoad <= 0 {
		return fmt.Errorf("SCRIPT_LOAD_TIMEOUT must be > 0")
	}
	if c.Timeout.Upstream <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be > 0")
	}
	if c.FactRetention <= 0 {
		return fmt.Errorf("FACT_RETENTION must be > 0")
	}
	return nil
}

// WorkflowConfigured reports whether a real workflow id has been provided.
func (c *Config) WorkflowConfigured() bool {
	return IsWorkflowConfigured(c.WorkflowID)
}

// IsWorkflowConfigured returns false for an empty id or the placeholder id.
func IsWorkflowConfigured(workflowID string) bool {
	return workflowID != "" && !strings.HasPrefix(workflowID, WorkflowPlaceholderPrefix)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if c.AppEnv != "" {
		return c.AppEnv == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the API.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
