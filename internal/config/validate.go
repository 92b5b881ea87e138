package config

import (
	"fmt"
	"slices"
	"sort"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var (
	validBinds         = []string{"loopback", "lan", "custom"}
	validAuthModes     = []string{"token", "password"}
	validProviders     = []string{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderScripted}
	validBusyPolicies  = []string{"serialize", "reject"}
	validStores        = []string{"memory", "sqlite"}
	validLogLevels     = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	validConsoleStyles = []string{"pretty", "json"}
	validRoles         = []string{"coordinator", "sql_specialist", "job_specialist", "executor", "reviewer"}
)

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			add(path, "must be one of %v, got %q", valid, value)
		}
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	oneOf("gateway.bind", cfg.Gateway.Bind, validBinds)
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	oneOf("gateway.auth.mode", cfg.Gateway.Auth.Mode, validAuthModes)
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when tls is enabled")
	}

	// Provider
	oneOf("provider.name", cfg.Provider.Name, validProviders)
	for i, fb := range cfg.Provider.Fallbacks {
		if !slices.Contains(validProviders, NormalizeProvider(fb)) {
			add(fmt.Sprintf("provider.fallbacks[%d]", i), "must be one of %v, got %q", validProviders, fb)
		}
	}
	if cfg.Provider.MaxTokens < 0 {
		add("provider.maxTokens", "must not be negative")
	}
	if t := cfg.Provider.Temperature; t != nil && (*t < 0 || *t > 2) {
		add("provider.temperature", "must be between 0 and 2, got %v", *t)
	}

	// Agents
	for _, role := range sortedKeys(cfg.Agents) {
		if !slices.Contains(validRoles, role) {
			add("agents."+role, "unknown role, must be one of %v", validRoles)
		}
	}

	// Policy
	for _, from := range sortedKeys(cfg.Policy.Transitions) {
		if !slices.Contains(validRoles, from) {
			add("policy.transitions."+from, "unknown role")
			continue
		}
		for _, to := range cfg.Policy.Transitions[from] {
			if !slices.Contains(validRoles, to) {
				add("policy.transitions."+from, "unknown successor role %q", to)
			}
		}
	}

	// Orchestrator
	o := cfg.Orchestrator
	if o.MaxRounds < 0 {
		add("orchestrator.maxRounds", "must not be negative")
	}
	if o.RoundChatMaxRounds < 0 {
		add("orchestrator.roundChatMaxRounds", "must not be negative")
	}
	if o.WindowSize < 0 {
		add("orchestrator.windowSize", "must not be negative")
	}
	if o.CallTimeoutSeconds < 0 {
		add("orchestrator.callTimeoutSeconds", "must not be negative")
	}
	if o.RetryBudget != nil && *o.RetryBudget < 0 {
		add("orchestrator.retryBudget", "must not be negative")
	}
	if o.RepromptBudget != nil && *o.RepromptBudget < 0 {
		add("orchestrator.repromptBudget", "must not be negative")
	}
	oneOf("orchestrator.busyPolicy", o.BusyPolicy, validBusyPolicies)

	// Session
	oneOf("session.store", cfg.Session.Store, validStores)
	if cfg.Session.IdleMinutes < 0 {
		add("session.idleMinutes", "must not be negative")
	}
	if cfg.Session.MaxSessions < 0 {
		add("session.maxSessions", "must not be negative")
	}

	// Tools
	if cfg.Tools.SQLRowLimit < 0 {
		add("tools.sqlRowLimit", "must not be negative")
	}
	if dq := cfg.Tools.DQ; dq.Enabled() && (dq.Username == "" || dq.Credential == "") {
		add("tools.dq", "username and credential are required when url is set")
	}

	// Logging
	oneOf("logging.level", cfg.Logging.Level, validLogLevels)
	oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, validConsoleStyles)

	// Hooks
	for event, entries := range cfg.Hooks.ByEvent() {
		for i, h := range entries {
			if h.Command == "" {
				add(fmt.Sprintf("hooks.%s[%d].command", event, i), "command is required")
			}
			if h.Timeout < 0 {
				add(fmt.Sprintf("hooks.%s[%d].timeout", event, i), "must not be negative")
			}
		}
	}

	return issues
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
