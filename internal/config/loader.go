package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path over the defaults, then applies
// environment overrides and ${VAR} references in credential fields. A
// missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		applyEnvOverrides(&cfg)
		return cfg, nil
	case err != nil:
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSecrets(&cfg)
	return cfg, nil
}

// LoadRaw reads the file as an untyped map for "config get/set". A missing
// file yields an empty map.
func LoadRaw(path string) (map[string]any, error) {
	raw := map[string]any{}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return raw, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes raw to path as YAML, readable by the owner only.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func orDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// applyDefaults restores defaults for fields the file left at zero.
func applyDefaults(cfg *Config) {
	d := Defaults()

	orDefault(&cfg.Gateway.Port, d.Gateway.Port)
	orDefault(&cfg.Gateway.Bind, d.Gateway.Bind)
	orDefault(&cfg.Gateway.Auth.Mode, d.Gateway.Auth.Mode)

	orDefault(&cfg.Provider.Name, d.Provider.Name)
	cfg.Provider.Name = NormalizeProvider(cfg.Provider.Name)
	orDefault(&cfg.Provider.MaxTokens, d.Provider.MaxTokens)
	orDefault(&cfg.Provider.Temperature, d.Provider.Temperature)

	o, do := &cfg.Orchestrator, d.Orchestrator
	orDefault(&o.MaxRounds, do.MaxRounds)
	orDefault(&o.RoundChatMaxRounds, do.RoundChatMaxRounds)
	orDefault(&o.WindowSize, do.WindowSize)
	orDefault(&o.CallTimeoutSeconds, do.CallTimeoutSeconds)
	orDefault(&o.RetryBudget, do.RetryBudget)
	orDefault(&o.RepromptBudget, do.RepromptBudget)
	orDefault(&o.BusyPolicy, do.BusyPolicy)

	orDefault(&cfg.Session.Store, d.Session.Store)
	orDefault(&cfg.Tools.SQLRowLimit, d.Tools.SQLRowLimit)
	orDefault(&cfg.Tools.DQ.TimeoutSeconds, d.Tools.DQ.TimeoutSeconds)
	orDefault(&cfg.Logging.Level, d.Logging.Level)
	orDefault(&cfg.Logging.ConsoleStyle, d.Logging.ConsoleStyle)
}

// envOverrides are applied in order; later entries see earlier changes.
// Besides ROUNDTABLE_*, the provider and DQ variables deployments already
// export are honoured.
var envOverrides = []struct {
	name  string
	apply func(cfg *Config, v string)
}{
	{"ROUNDTABLE_GATEWAY_PORT", func(c *Config, v string) {
		if port, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = port
		}
	}},
	{"ROUNDTABLE_GATEWAY_BIND", func(c *Config, v string) { c.Gateway.Bind = v }},
	{"ROUNDTABLE_GATEWAY_TOKEN", func(c *Config, v string) { c.Gateway.Auth.Token = v }},
	{"ROUNDTABLE_LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = strings.ToLower(v) }},
	{"ROUNDTABLE_SESSION_STORE", func(c *Config, v string) { c.Session.Store = strings.ToLower(v) }},

	{"LLM_PROVIDER", func(c *Config, v string) { c.Provider.Name = NormalizeProvider(v) }},
	{"OPENAI_MODEL_NAME", func(c *Config, v string) {
		if c.Provider.Name == ProviderOpenAI {
			c.Provider.Model = v
		}
	}},
	{"GOOGLE_MODEL_NAME", func(c *Config, v string) {
		if c.Provider.Name == ProviderGemini {
			c.Provider.Model = v
		}
	}},
	{"OPENAI_API_KEY", func(c *Config, v string) { c.Provider.OpenAIKey = v }},
	{"ANTHROPIC_API_KEY", func(c *Config, v string) { c.Provider.AnthropicKey = v }},
	{"GOOGLE_API_KEY", func(c *Config, v string) { c.Provider.GoogleKey = v }},

	{"DQ_URL", func(c *Config, v string) { c.Tools.DQ.URL = v }},
	{"DQ_USERNAME", func(c *Config, v string) { c.Tools.DQ.Username = v }},
	{"DQ_CREDENTIAL", func(c *Config, v string) { c.Tools.DQ.Credential = v }},
	{"DQ_TENANT", func(c *Config, v string) { c.Tools.DQ.Tenant = v }},
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars substitutes ${NAME} with the variable's value. References
// to unset variables stay as written.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		if v, ok := os.LookupEnv(ref[2 : len(ref)-1]); ok {
			return v
		}
		return ref
	})
}

// expandSecrets resolves ${NAME} references in the credential fields so
// secrets can stay out of the file.
func expandSecrets(cfg *Config) {
	for _, f := range []*string{
		&cfg.Gateway.Auth.Token,
		&cfg.Gateway.Auth.Password,
		&cfg.Provider.APIKey,
		&cfg.Provider.OpenAIKey,
		&cfg.Provider.AnthropicKey,
		&cfg.Provider.GoogleKey,
		&cfg.Tools.DQ.URL,
		&cfg.Tools.DQ.Username,
		&cfg.Tools.DQ.Credential,
		&cfg.Tools.DQ.Tenant,
	} {
		*f = expandEnvVars(*f)
	}
}
