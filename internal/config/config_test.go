package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setEnv(t *testing.T, key, val string) {
	t.Helper()
	t.Setenv(key, val)
}

// baseEnv sets the minimum required fields for a valid config and clears
// fields that might cause spurious validation failures between test cases.
func baseEnv(t *testing.T) {
	t.Helper()
	prev := DotEnvPath
	t.Cleanup(func() { DotEnvPath = prev })
	DotEnvPath = filepath.Join(t.TempDir(), "absent.env")
	setEnv(t, "ACCOUNT_POOL", "acct1")
	setEnv(t, "ANTHROPIC_API_KEY", "sk-ant-test")
	setEnv(t, "X_BEARER_TOKEN", "x-token")
	for _, k := range []string{
		"TEST_MODE", "LOG_LEVEL", "LOG_FORMAT", "SELECTION_POLICY", "JITTER_RANGE",
		"ACCOUNT_DELAY_MIN", "ACCOUNT_DELAY_MAX", "POLL_LIMIT_PER_DAY", "REPLY_LIMIT_PER_DAY",
		"REPLY_LIMIT_PER_MONTH", "ACCOUNTS_PER_CYCLE", "MIN_INTERVAL", "FEED_URL_TEMPLATE",
		"ANTHROPIC_BASE_URL", "X_API_BASE_URL", "JANITOR_INTERVAL", "SEEN_RETENTION",
		"ANTHROPIC_API_KEY_FILE", "X_BEARER_TOKEN_FILE", "ANTHROPIC_TEMPERATURE",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	baseEnv(t)
	os.Unsetenv("ACCOUNT_POOL")

	_, err := Load()
	if err == nil {
		t.Error("expected error when ACCOUNT_POOL missing")
	}
}

func TestLoadMinimalValid(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.AccountPool) != 1 || cfg.AccountPool[0] != "acct1" {
		t.Errorf("AccountPool: got %v", cfg.AccountPool)
	}
	if cfg.AnthropicAPIKey != "sk-ant-test" {
		t.Errorf("AnthropicAPIKey: got %q", cfg.AnthropicAPIKey)
	}
}

func TestDefaults(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"PollLimitPerDay", cfg.PollLimitPerDay, 100},
		{"ReplyLimitPerDay", cfg.ReplyLimitPerDay, 17},
		{"ReplyLimitPerMonth", cfg.ReplyLimitPerMonth, 500},
		{"AccountsPerCycle", cfg.AccountsPerCycle, 3},
		{"SelectionPolicy", cfg.SelectionPolicy, "random"},
		{"MinInterval", cfg.MinInterval, 5 * time.Minute},
		{"JitterRange", cfg.JitterRange, 0.15},
		{"AccountDelayMin", cfg.AccountDelayMin, 30 * time.Second},
		{"AccountDelayMax", cfg.AccountDelayMax, 120 * time.Second},
		{"FeedURLTemplate", cfg.FeedURLTemplate, "https://rsshub.app/twitter/user/{{.Account}}"},
		{"AnthropicModel", cfg.AnthropicModel, "claude-3-7-sonnet-20250219"},
		{"AnthropicMaxTokens", cfg.AnthropicMaxTokens, 60},
		{"AnthropicTemperature", cfg.AnthropicTemperature, 1.0},
		{"SeenRetention", cfg.SeenRetention, 2160 * time.Hour},
		{"DataDir", cfg.DataDir, "/data"},
		{"TestMode", cfg.TestMode, false},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("default %s: got %v want %v", c.name, c.got, c.want)
		}
	}
}

func TestAccountPoolParsing(t *testing.T) {
	baseEnv(t)
	setEnv(t, "ACCOUNT_POOL", ` acct1, "@acct2" ,,acct3 `)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"acct1", "acct2", "acct3"}
	if len(cfg.AccountPool) != len(want) {
		t.Fatalf("AccountPool: got %v", cfg.AccountPool)
	}
	for i := range want {
		if cfg.AccountPool[i] != want[i] {
			t.Errorf("AccountPool[%d]: got %q want %q", i, cfg.AccountPool[i], want[i])
		}
	}
}

func TestTestModeRelaxesCredentials(t *testing.T) {
	baseEnv(t)
	os.Unsetenv("ANTHROPIC_API_KEY")
	os.Unsetenv("X_BEARER_TOKEN")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without credentials")
	}

	setEnv(t, "TEST_MODE", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load in test mode: %v", err)
	}
	if !cfg.TestMode {
		t.Error("TestMode should be true")
	}
}

func TestFileSecretInjection(t *testing.T) {
	baseEnv(t)
	os.Unsetenv("X_BEARER_TOKEN")

	dir := t.TempDir()
	secretFile := filepath.Join(dir, "x_token")
	if err := os.WriteFile(secretFile, []byte("file-token\n"), 0600); err != nil {
		t.Fatal(err)
	}
	setEnv(t, "X_BEARER_TOKEN_FILE", secretFile)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.XBearerToken != "file-token" {
		t.Errorf("expected file-token, got %q", cfg.XBearerToken)
	}
}

func TestFileSecretMissingFile(t *testing.T) {
	baseEnv(t)
	setEnv(t, "ANTHROPIC_API_KEY_FILE", filepath.Join(t.TempDir(), "nope"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unreadable secret file")
	}
}

func TestDotEnvFile(t *testing.T) {
	baseEnv(t)
	os.Unsetenv("ACCOUNT_POOL")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("ACCOUNT_POOL=fromfile\nREPLY_LIMIT_PER_DAY=5\n"), 0600); err != nil {
		t.Fatal(err)
	}
	DotEnvPath = path
	// godotenv sets process env directly; clean up after the test.
	t.Cleanup(func() {
		os.Unsetenv("ACCOUNT_POOL")
		os.Unsetenv("REPLY_LIMIT_PER_DAY")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.AccountPool) != 1 || cfg.AccountPool[0] != "fromfile" {
		t.Errorf("AccountPool: got %v", cfg.AccountPool)
	}
	if cfg.ReplyLimitPerDay != 5 {
		t.Errorf("ReplyLimitPerDay: got %d", cfg.ReplyLimitPerDay)
	}
}

func TestDotEnvDoesNotOverrideEnv(t *testing.T) {
	baseEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("ACCOUNT_POOL=fromfile\n"), 0600); err != nil {
		t.Fatal(err)
	}
	DotEnvPath = path

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccountPool[0] != "acct1" {
		t.Errorf("environment should win over .env; got %v", cfg.AccountPool)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(t *testing.T)
		wantErr bool
	}{
		{"valid_minimal", func(t *testing.T) {}, false},
		{"invalid_log_level", func(t *testing.T) { setEnv(t, "LOG_LEVEL", "invalid") }, true},
		{"valid_log_level_debug", func(t *testing.T) { setEnv(t, "LOG_LEVEL", "debug") }, false},
		{"invalid_log_format", func(t *testing.T) { setEnv(t, "LOG_FORMAT", "yaml") }, true},
		{"valid_log_format_text", func(t *testing.T) { setEnv(t, "LOG_FORMAT", "text") }, false},
		{"invalid_policy", func(t *testing.T) { setEnv(t, "SELECTION_POLICY", "weighted") }, true},
		{"valid_round_robin", func(t *testing.T) { setEnv(t, "SELECTION_POLICY", "round_robin") }, false},
		{"jitter_too_large", func(t *testing.T) { setEnv(t, "JITTER_RANGE", "1") }, true},
		{"jitter_negative", func(t *testing.T) { setEnv(t, "JITTER_RANGE", "-0.1") }, true},
		{"jitter_zero", func(t *testing.T) { setEnv(t, "JITTER_RANGE", "0") }, false},
		{"delay_min_above_max", func(t *testing.T) {
			setEnv(t, "ACCOUNT_DELAY_MIN", "3m")
			setEnv(t, "ACCOUNT_DELAY_MAX", "1m")
		}, true},
		{"negative_poll_limit", func(t *testing.T) { setEnv(t, "POLL_LIMIT_PER_DAY", "-1") }, true},
		{"zero_poll_limit", func(t *testing.T) { setEnv(t, "POLL_LIMIT_PER_DAY", "0") }, false},
		{"daily_above_monthly", func(t *testing.T) {
			setEnv(t, "REPLY_LIMIT_PER_DAY", "50")
			setEnv(t, "REPLY_LIMIT_PER_MONTH", "10")
		}, true},
		{"zero_accounts_per_cycle", func(t *testing.T) { setEnv(t, "ACCOUNTS_PER_CYCLE", "0") }, true},
		{"zero_min_interval", func(t *testing.T) { setEnv(t, "MIN_INTERVAL", "0s") }, true},
		{"feed_template_no_placeholder", func(t *testing.T) { setEnv(t, "FEED_URL_TEMPLATE", "https://x/feed") }, true},
		{"feed_template_bad_scheme", func(t *testing.T) { setEnv(t, "FEED_URL_TEMPLATE", "ftp://x/{{.Account}}") }, true},
		{"anthropic_url_bad_scheme", func(t *testing.T) { setEnv(t, "ANTHROPIC_BASE_URL", "api.anthropic.com") }, true},
		{"temperature_too_high", func(t *testing.T) { setEnv(t, "ANTHROPIC_TEMPERATURE", "1.5") }, true},
		{"duplicate_account", func(t *testing.T) { setEnv(t, "ACCOUNT_POOL", "acct1,ACCT1") }, true},
		{"negative_retention", func(t *testing.T) { setEnv(t, "SEEN_RETENTION", "-1h") }, true},
		{"retention_disabled", func(t *testing.T) { setEnv(t, "SEEN_RETENTION", "0s") }, false},
		{"zero_janitor_interval", func(t *testing.T) { setEnv(t, "JANITOR_INTERVAL", "0s") }, true},
		{"app_only_x_token", func(t *testing.T) {
			setEnv(t, "X_BEARER_TOKEN", "AAAAAAAAAAAAAAAAAAAAAMLheAAAAAAA0%2BuSeid%2BULvsea4JtiGRiSDSJSI")
		}, true},
		{"app_only_x_token_test_mode", func(t *testing.T) {
			setEnv(t, "TEST_MODE", "true")
			setEnv(t, "X_BEARER_TOKEN", "AAAAAAAAAAAAAAAAAAAAAMLheAAAAAAA0%2BuSeid%2BULvsea4JtiGRiSDSJSI")
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			baseEnv(t)
			tc.setup(t)
			_, err := Load()
			if tc.wantErr && err == nil {
				t.Errorf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestStripEnvQuotes(t *testing.T) {
	cases := map[string]string{
		`"quoted"`: "quoted",
		`'single'`: "single",
		`"mixed'`:  `"mixed'`,
		`x`:        "x",
		``:         "",
	}
	for in, want := range cases {
		if got := stripEnvQuotes(in); got != want {
			t.Errorf("stripEnvQuotes(%q): got %q want %q", in, got, want)
		}
	}
}

func TestQuotedValuesSanitised(t *testing.T) {
	baseEnv(t)
	setEnv(t, "X_BEARER_TOKEN", `"quoted-token"`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.XBearerToken != "quoted-token" {
		t.Errorf("XBearerToken: got %q", cfg.XBearerToken)
	}
}
