package config

import (
	"fmt"
	"strings"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderScripted  = "scripted"
)

// DefaultModels is the model used per provider when none is configured.
var DefaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-sonnet-20240620",
	ProviderGemini:    "gemini-2.0-flash-exp",
	ProviderScripted:  "sql-demo",
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	retry, reprompt := 2, 2
	temp := 0.0
	return Config{
		Gateway: GatewayConfig{
			Port: 1234,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		Provider: ProviderConfig{
			Name:        ProviderOpenAI,
			MaxTokens:   4096,
			Temperature: &temp,
		},
		Orchestrator: OrchestratorConfig{
			MaxRounds:          7,
			RoundChatMaxRounds: 5,
			WindowSize:         11,
			CallTimeoutSeconds: 120,
			RetryBudget:        &retry,
			RepromptBudget:     &reprompt,
			BusyPolicy:         "serialize",
		},
		Session: SessionConfig{
			Store: "memory",
		},
		Tools: ToolsConfig{
			SQLRowLimit: 15,
			DQ: DQConfig{
				TimeoutSeconds: 60,
			},
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}

// NormalizeProvider maps provider aliases to their canonical name.
func NormalizeProvider(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "google", "vertex":
		return ProviderGemini
	case "claude":
		return ProviderAnthropic
	}
	return name
}

// ModelFor returns the model to use for the named provider.
func (p ProviderConfig) ModelFor(name string) string {
	if name == p.Name && p.Model != "" {
		return p.Model
	}
	return DefaultModels[name]
}

// KeyFor returns the API key for the named provider.
func (p ProviderConfig) KeyFor(name string) string {
	if name == p.Name && p.APIKey != "" {
		return p.APIKey
	}
	switch name {
	case ProviderOpenAI:
		return p.OpenAIKey
	case ProviderAnthropic:
		return p.AnthropicKey
	case ProviderGemini:
		return p.GoogleKey
	}
	return ""
}
