package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
type Config struct {
	// Accounts and Scheduling
	AccountPool      []string      `koanf:"account_pool"`
	AccountsPerCycle int           `koanf:"accounts_per_cycle"`
	SelectionPolicy  string        `koanf:"selection_policy"`
	MinInterval      time.Duration `koanf:"min_interval"`
	JitterRange      float64       `koanf:"jitter_range"`
	AccountDelayMin  time.Duration `koanf:"account_delay_min"`
	AccountDelayMax  time.Duration `koanf:"account_delay_max"`

	// Quotas
	PollLimitPerDay    int `koanf:"poll_limit_per_day"`
	ReplyLimitPerDay   int `koanf:"reply_limit_per_day"`
	ReplyLimitPerMonth int `koanf:"reply_limit_per_month"`

	// Feed Source
	FeedURLTemplate string        `koanf:"feed_url_template"`
	FeedHTTPTimeout time.Duration `koanf:"feed_http_timeout"`
	FeedUserAgent   string        `koanf:"feed_user_agent"`

	// Generator
	AnthropicAPIKey       string        `koanf:"anthropic_api_key"`
	AnthropicModel        string        `koanf:"anthropic_model"`
	AnthropicBaseURL      string        `koanf:"anthropic_base_url"`
	AnthropicMaxTokens    int           `koanf:"anthropic_max_tokens"`
	AnthropicTemperature  float64       `koanf:"anthropic_temperature"`
	AnthropicHTTPTimeout  time.Duration `koanf:"anthropic_http_timeout"`
	GeneratorSystemPrompt string        `koanf:"generator_system_prompt"`

	// Publisher
	XAPIBaseURL        string        `koanf:"x_api_base_url"`
	// XBearerToken must be an OAuth 2.0 user-context access token with the
	// tweet.write scope. App-only bearer tokens cannot post.
	XBearerToken       string        `koanf:"x_bearer_token"`
	PublishHTTPTimeout time.Duration `koanf:"publish_http_timeout"`
	APIDebug           bool          `koanf:"api_debug"`

	// Storage
	DataDir       string        `koanf:"data_dir"`
	SeenRetention time.Duration `koanf:"seen_retention"`

	// Operational
	TestMode        bool          `koanf:"test_mode"`
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	HealthAddr      string        `koanf:"health_addr"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
}

// sanitise removes a single layer of matching surrounding quotes from all string
// fields and string slice elements. This normalises values from Docker --env-file
// which does not strip shell quoting.
func (c *Config) sanitise() {
	c.SelectionPolicy = stripEnvQuotes(c.SelectionPolicy)
	c.FeedURLTemplate = stripEnvQuotes(c.FeedURLTemplate)
	c.FeedUserAgent = stripEnvQuotes(c.FeedUserAgent)
	c.AnthropicAPIKey = stripEnvQuotes(c.AnthropicAPIKey)
	c.AnthropicModel = stripEnvQuotes(c.AnthropicModel)
	c.AnthropicBaseURL = stripEnvQuotes(c.AnthropicBaseURL)
	c.GeneratorSystemPrompt = stripEnvQuotes(c.GeneratorSystemPrompt)
	c.XAPIBaseURL = stripEnvQuotes(c.XAPIBaseURL)
	c.XBearerToken = stripEnvQuotes(c.XBearerToken)
	c.DataDir = stripEnvQuotes(c.DataDir)
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.HealthAddr = stripEnvQuotes(c.HealthAddr)

	for i, s := range c.AccountPool {
		c.AccountPool[i] = strings.TrimPrefix(stripEnvQuotes(s), "@")
	}
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"accounts_per_cycle":     3,
		"selection_policy":       "random",
		"min_interval":           "5m",
		"jitter_range":           0.15,
		"account_delay_min":      "30s",
		"account_delay_max":      "120s",
		"poll_limit_per_day":     100,
		"reply_limit_per_day":    17,
		"reply_limit_per_month":  500,
		"feed_url_template":      "https://rsshub.app/twitter/user/{{.Account}}",
		"feed_http_timeout":      "30s",
		"feed_user_agent":        "replybot",
		"anthropic_model":        "claude-3-7-sonnet-20250219",
		"anthropic_base_url":     "https://api.anthropic.com",
		"anthropic_max_tokens":   60,
		"anthropic_temperature":  1.0,
		"anthropic_http_timeout": "30s",
		"x_api_base_url":         "https://api.twitter.com",
		"publish_http_timeout":   "15s",
		"api_debug":              false,
		"data_dir":               "/data",
		"seen_retention":         "2160h",
		"test_mode":              false,
		"log_level":              "info",
		"log_format":             "json",
		"metrics_enabled":        true,
		"metrics_addr":           ":9090",
		"health_addr":            ":8081",
		"janitor_interval":       "1h",
	}
}

// stripEnvQuotes removes a single layer of matching surrounding single or double
// quotes from s. Only symmetric pairs are stripped: 'x' → x, "x" → x.
// Unpaired or mismatched quotes are left as-is.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// App-only bearer tokens issued by X start with this run of A characters.
const appOnlyTokenPrefix = "AAAAAAAAAAAAAAAAAAAAA"

// DotEnvPath is the optional dotenv file read before the environment.
// Variables already present in the environment win.
var DotEnvPath = ".env"

// Load reads configuration from environment variables, applying _FILE secret injection.
func Load() (*Config, error) {
	if err := godotenv.Load(DotEnvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", DotEnvPath, err)
	}

	// "." as delimiter keeps env vars with "_" as flat keys:
	// ACCOUNT_POOL → "account_pool".
	k := koanf.New(".")

	if err := k.Load(&rawProvider{data: defaults()}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// koanf does not split comma-separated lists
	cfg.AccountPool = splitCSV(k.String("account_pool"))

	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and semantic constraints.
func (c *Config) Validate() error {
	if len(c.AccountPool) == 0 {
		return fmt.Errorf("ACCOUNT_POOL is required")
	}
	seen := make(map[string]bool, len(c.AccountPool))
	for _, a := range c.AccountPool {
		key := strings.ToLower(a)
		if seen[key] {
			return fmt.Errorf("ACCOUNT_POOL: duplicate account %q", a)
		}
		seen[key] = true
	}

	if !c.TestMode {
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required unless TEST_MODE is set")
		}
		if c.XBearerToken == "" {
			return fmt.Errorf("X_BEARER_TOKEN is required unless TEST_MODE is set")
		}
		if strings.HasPrefix(c.XBearerToken, appOnlyTokenPrefix) {
			return fmt.Errorf("X_BEARER_TOKEN looks like an app-only bearer token; " +
				"posting replies needs an OAuth 2.0 user access token with tweet.write")
		}
	}

	for _, q := range []struct {
		name string
		val  int
	}{
		{"POLL_LIMIT_PER_DAY", c.PollLimitPerDay},
		{"REPLY_LIMIT_PER_DAY", c.ReplyLimitPerDay},
		{"REPLY_LIMIT_PER_MONTH", c.ReplyLimitPerMonth},
	} {
		if q.val < 0 {
			return fmt.Errorf("%s must be >= 0; got %d", q.name, q.val)
		}
	}
	if c.ReplyLimitPerDay > c.ReplyLimitPerMonth {
		return fmt.Errorf("REPLY_LIMIT_PER_DAY (%d) must not exceed REPLY_LIMIT_PER_MONTH (%d)",
			c.ReplyLimitPerDay, c.ReplyLimitPerMonth)
	}

	if c.AccountsPerCycle < 1 {
		return fmt.Errorf("ACCOUNTS_PER_CYCLE must be >= 1; got %d", c.AccountsPerCycle)
	}

	validPolicies := map[string]bool{"random": true, "round_robin": true}
	if !validPolicies[c.SelectionPolicy] {
		return fmt.Errorf("SELECTION_POLICY must be random or round_robin; got %q", c.SelectionPolicy)
	}

	if c.MinInterval <= 0 {
		return fmt.Errorf("MIN_INTERVAL must be > 0; got %s", c.MinInterval)
	}
	if c.JitterRange < 0 || c.JitterRange >= 1 {
		return fmt.Errorf("JITTER_RANGE must be in [0, 1); got %v", c.JitterRange)
	}
	if c.AccountDelayMin < 0 || c.AccountDelayMax < c.AccountDelayMin {
		return fmt.Errorf("ACCOUNT_DELAY_MIN (%s) must be >= 0 and <= ACCOUNT_DELAY_MAX (%s)",
			c.AccountDelayMin, c.AccountDelayMax)
	}

	if !strings.Contains(c.FeedURLTemplate, "{{") {
		return fmt.Errorf("FEED_URL_TEMPLATE must reference {{.Account}}; got %q", c.FeedURLTemplate)
	}
	for _, u := range []struct{ name, val string }{
		{"FEED_URL_TEMPLATE", c.FeedURLTemplate},
		{"ANTHROPIC_BASE_URL", c.AnthropicBaseURL},
		{"X_API_BASE_URL", c.XAPIBaseURL},
	} {
		if !strings.HasPrefix(u.val, "http://") && !strings.HasPrefix(u.val, "https://") {
			return fmt.Errorf("%s must start with http:// or https://; got %q", u.name, u.val)
		}
	}

	if c.AnthropicMaxTokens < 1 {
		return fmt.Errorf("ANTHROPIC_MAX_TOKENS must be >= 1; got %d", c.AnthropicMaxTokens)
	}
	if c.AnthropicTemperature < 0 || c.AnthropicTemperature > 1 {
		return fmt.Errorf("ANTHROPIC_TEMPERATURE must be in [0, 1]; got %v", c.AnthropicTemperature)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	if c.SeenRetention < 0 {
		return fmt.Errorf("SEEN_RETENTION must be >= 0; got %s", c.SeenRetention)
	}

	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)
	}

	return nil
}

// fileSecretKeys may be supplied as KEY_FILE pointing at a mounted secret.
var fileSecretKeys = []string{
	"anthropic_api_key",
	"x_bearer_token",
}

func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		fileKey := key + "_file"
		filePath := k.String(fileKey)
		if filePath == "" {
			envKey := strings.ToUpper(key) + "_FILE"
			filePath = os.Getenv(envKey)
		}
		if filePath == "" {
			continue
		}
		filePath = stripEnvQuotes(filePath)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading secret file for %s (%s): %w", key, filePath, err)
		}
		val := strings.TrimSpace(string(content))
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("setting %s from file: %w", key, err)
		}
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
