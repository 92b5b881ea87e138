package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearProviderEnv keeps host variables from leaking into Load.
func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LLM_PROVIDER", "OPENAI_MODEL_NAME", "GOOGLE_MODEL_NAME",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY",
		"DQ_URL", "DQ_USERNAME", "DQ_CREDENTIAL", "DQ_TENANT",
		"ROUNDTABLE_GATEWAY_PORT", "ROUNDTABLE_GATEWAY_BIND", "ROUNDTABLE_GATEWAY_TOKEN",
		"ROUNDTABLE_LOG_LEVEL", "ROUNDTABLE_SESSION_STORE",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 1234, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "token", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.Equal(t, 4096, cfg.Provider.MaxTokens)
	require.NotNil(t, cfg.Provider.Temperature)
	assert.Equal(t, 0.0, *cfg.Provider.Temperature)
	assert.Equal(t, 7, cfg.Orchestrator.MaxRounds)
	assert.Equal(t, 5, cfg.Orchestrator.RoundChatMaxRounds)
	assert.Equal(t, 11, cfg.Orchestrator.WindowSize)
	assert.Equal(t, 2, *cfg.Orchestrator.RetryBudget)
	assert.Equal(t, 2, *cfg.Orchestrator.RepromptBudget)
	assert.Equal(t, "serialize", cfg.Orchestrator.BusyPolicy)
	assert.Equal(t, "memory", cfg.Session.Store)
	assert.Zero(t, cfg.Session.IdleMinutes, "no implicit expiry")
	assert.Zero(t, cfg.Session.MaxSessions)
	assert.Equal(t, 15, cfg.Tools.SQLRowLimit)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	clearProviderEnv(t)
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	clearProviderEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
gateway:
  port: 9999
  bind: lan
  auth:
    mode: password
    password: secret123
provider:
  name: Claude
  model: claude-3-5-haiku-latest
  fallbacks: [openai]
agents:
  reviewer:
    name: Critic
    directive: Be brief.
policy:
  transitions:
    coordinator: [sql_specialist]
orchestrator:
  maxRounds: 4
  retryBudget: 0
session:
  store: sqlite
  idleMinutes: 60
tools:
  metadataCsv: /data/meta.csv
  dq:
    url: https://dq.example.com
    username: svc
    credential: pw
logging:
  level: debug
  consoleStyle: json
hooks:
  exchangeEnd:
    - command: echo done
      timeout: 500
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "password", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "secret123", cfg.Gateway.Auth.Password)
	assert.Equal(t, "anthropic", cfg.Provider.Name, "aliases are normalized")
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.Provider.ModelFor("anthropic"))
	assert.Equal(t, "gpt-4o-mini", cfg.Provider.ModelFor("openai"))
	assert.Equal(t, []string{"openai"}, cfg.Provider.Fallbacks)
	assert.Equal(t, "Critic", cfg.Agents["reviewer"].Name)
	assert.Equal(t, []string{"sql_specialist"}, cfg.Policy.Transitions["coordinator"])
	assert.Equal(t, 4, cfg.Orchestrator.MaxRounds)
	assert.Equal(t, 5, cfg.Orchestrator.RoundChatMaxRounds, "unset fields keep defaults")
	assert.Equal(t, 0, *cfg.Orchestrator.RetryBudget, "explicit zero is kept")
	assert.Equal(t, 2, *cfg.Orchestrator.RepromptBudget)
	assert.Equal(t, "sqlite", cfg.Session.Store)
	assert.Equal(t, 60, cfg.Session.IdleMinutes)
	assert.Equal(t, "/data/meta.csv", cfg.Tools.MetadataCSV)
	assert.True(t, cfg.Tools.DQ.Enabled())
	assert.Equal(t, 60, cfg.Tools.DQ.TimeoutSeconds)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)

	hooks := cfg.Hooks.ByEvent()
	require.Len(t, hooks["exchange_end"], 1)
	assert.Equal(t, "echo done", hooks["exchange_end"][0].Command)
	assert.Equal(t, 500, hooks["exchange_end"][0].Timeout)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ROUNDTABLE_GATEWAY_PORT", "12345")
	t.Setenv("ROUNDTABLE_LOG_LEVEL", "TRACE")
	t.Setenv("ROUNDTABLE_SESSION_STORE", "SQLite")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Session.Store)
}

func TestLoadProviderEnv(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("LLM_PROVIDER", "google")
	t.Setenv("GOOGLE_MODEL_NAME", "gemini-1.5-pro")
	t.Setenv("OPENAI_MODEL_NAME", "ignored-for-gemini")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("OPENAI_API_KEY", "o-key")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.Provider.Name)
	assert.Equal(t, "gemini-1.5-pro", cfg.Provider.ModelFor("gemini"))
	assert.Equal(t, "g-key", cfg.Provider.KeyFor("gemini"))
	assert.Equal(t, "o-key", cfg.Provider.KeyFor("openai"))
	assert.Empty(t, cfg.Provider.KeyFor("anthropic"))
}

func TestLoadDQEnv(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("DQ_URL", "https://dq.local")
	t.Setenv("DQ_USERNAME", "admin")
	t.Setenv("DQ_CREDENTIAL", "pw")
	t.Setenv("DQ_TENANT", "public")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, DQConfig{
		URL:            "https://dq.local",
		Username:       "admin",
		Credential:     "pw",
		Tenant:         "public",
		TimeoutSeconds: 60,
	}, cfg.Tools.DQ)
}

func TestLoadExpandsSecrets(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("MY_TOKEN", "tok-123")
	t.Setenv("MY_KEY", "sk-abc")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
gateway:
  auth:
    token: ${MY_TOKEN}
provider:
  apiKey: ${MY_KEY}
tools:
  dq:
    credential: ${UNSET_VAR_FOR_TEST}
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cfg.Gateway.Auth.Token)
	assert.Equal(t, "sk-abc", cfg.Provider.KeyFor("openai"))
	assert.Equal(t, "${UNSET_VAR_FOR_TEST}", cfg.Tools.DQ.Credential, "unset variables are left alone")
}

func TestNormalizeProvider(t *testing.T) {
	tests := map[string]string{
		"openai":    "openai",
		" OpenAI ":  "openai",
		"google":    "gemini",
		"vertex":    "gemini",
		"claude":    "anthropic",
		"anthropic": "anthropic",
		"scripted":  "scripted",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeProvider(in), in)
	}
}

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		input   string
		want    []string
		wantErr bool
	}{
		{"gateway.port", []string{"gateway", "port"}, false},
		{"tools.dq.url", []string{"tools", "dq", "url"}, false},
		{"", nil, true},
		{"a..b", nil, true},
		{"__proto__.x", nil, true},
		{"x.constructor", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestGetSetValueAtPath(t *testing.T) {
	root := map[string]any{
		"gateway": map[string]any{
			"port": 1234,
		},
	}

	val, ok := GetValueAtPath(root, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 1234, val)

	_, ok = GetValueAtPath(root, []string{"gateway", "missing"})
	assert.False(t, ok)

	SetValueAtPath(root, []string{"gateway", "port"}, 9999)
	val, ok = GetValueAtPath(root, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9999, val)

	SetValueAtPath(root, []string{"tools", "dq", "url"}, "https://dq.local")
	val, ok = GetValueAtPath(root, []string{"tools", "dq", "url"})
	assert.True(t, ok)
	assert.Equal(t, "https://dq.local", val)
}

func TestUnsetValueAtPath(t *testing.T) {
	root := map[string]any{
		"gateway": map[string]any{
			"port": 1234,
			"bind": "loopback",
		},
	}

	assert.True(t, UnsetValueAtPath(root, []string{"gateway", "port"}))

	_, exists := GetValueAtPath(root, []string{"gateway", "port"})
	assert.False(t, exists)

	val, exists := GetValueAtPath(root, []string{"gateway", "bind"})
	assert.True(t, exists)
	assert.Equal(t, "loopback", val)

	assert.False(t, UnsetValueAtPath(root, []string{"gateway", "nonexistent"}))
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw := map[string]any{
		"gateway": map[string]any{
			"port": 9999,
		},
	}

	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)

	val, ok := GetValueAtPath(loaded, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9999, val)
}

func TestLoadRawEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.NotNil(t, raw)
	assert.Empty(t, raw)
}
