package config

// Config is the root configuration for roundtable.
type Config struct {
	Gateway      GatewayConfig      `yaml:"gateway,omitempty"`
	Provider     ProviderConfig     `yaml:"provider,omitempty"`
	Agents       AgentsConfig       `yaml:"agents,omitempty"`
	Policy       PolicyConfig       `yaml:"policy,omitempty"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator,omitempty"`
	Session      SessionConfig      `yaml:"session,omitempty"`
	Tools        ToolsConfig        `yaml:"tools,omitempty"`
	Logging      LoggingConfig      `yaml:"logging,omitempty"`
	Hooks        HooksConfig        `yaml:"hooks,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// ProviderConfig selects the completion provider.
type ProviderConfig struct {
	Name        string   `yaml:"name,omitempty"` // "openai" | "anthropic" | "gemini" | "scripted"
	Model       string   `yaml:"model,omitempty"`
	APIKey      string   `yaml:"apiKey,omitempty"`
	BaseURL     string   `yaml:"baseUrl,omitempty"`
	Fallbacks   []string `yaml:"fallbacks,omitempty"`
	MaxTokens   int      `yaml:"maxTokens,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`

	// Per-provider credentials, used for fallbacks.
	OpenAIKey    string `yaml:"openaiKey,omitempty"`
	AnthropicKey string `yaml:"anthropicKey,omitempty"`
	GoogleKey    string `yaml:"googleKey,omitempty"`

	MaxContextChars int `yaml:"maxContextChars,omitempty"`
}

// AgentsConfig overrides agent names and directives, keyed by role
// (coordinator, sql_specialist, job_specialist, executor, reviewer).
type AgentsConfig map[string]AgentEntry

// AgentEntry overrides one agent.
type AgentEntry struct {
	Name      string `yaml:"name,omitempty"`
	Directive string `yaml:"directive,omitempty"`
}

// PolicyConfig overrides the transition graph and the tool policy.
type PolicyConfig struct {
	Transitions map[string][]string `yaml:"transitions,omitempty"`
	ToolPolicy  string              `yaml:"toolPolicy,omitempty"` // path to a rego module
}

// OrchestratorConfig bounds the round loop.
type OrchestratorConfig struct {
	MaxRounds          int    `yaml:"maxRounds,omitempty"`
	RoundChatMaxRounds int    `yaml:"roundChatMaxRounds,omitempty"`
	WindowSize         int    `yaml:"windowSize,omitempty"`
	CallTimeoutSeconds int    `yaml:"callTimeoutSeconds,omitempty"`
	RetryBudget        *int   `yaml:"retryBudget,omitempty"`
	RepromptBudget     *int   `yaml:"repromptBudget,omitempty"`
	BusyPolicy         string `yaml:"busyPolicy,omitempty"` // "serialize" | "reject"
}

// SessionConfig defines session behavior.
type SessionConfig struct {
	Store       string `yaml:"store,omitempty"` // "memory" | "sqlite"
	IdleMinutes int    `yaml:"idleMinutes,omitempty"`
	MaxSessions int    `yaml:"maxSessions,omitempty"`
}

// ToolsConfig configures the tool backends.
type ToolsConfig struct {
	MetadataCSV string   `yaml:"metadataCsv,omitempty"`
	SQLRowLimit int      `yaml:"sqlRowLimit,omitempty"`
	DQ          DQConfig `yaml:"dq,omitempty"`
}

// DQConfig points at the data quality job API.
type DQConfig struct {
	URL                string `yaml:"url,omitempty"`
	Username           string `yaml:"username,omitempty"`
	Credential         string `yaml:"credential,omitempty"`
	Tenant             string `yaml:"tenant,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify,omitempty"`
	TimeoutSeconds     int    `yaml:"timeoutSeconds,omitempty"`
}

// Enabled reports whether the DQ API is configured.
func (d DQConfig) Enabled() bool {
	return d.URL != ""
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// HooksConfig maps lifecycle events to shell commands.
type HooksConfig struct {
	SessionCreated []HookEntry `yaml:"sessionCreated,omitempty"`
	SessionCleared []HookEntry `yaml:"sessionCleared,omitempty"`
	ExchangeStart  []HookEntry `yaml:"exchangeStart,omitempty"`
	ExchangeEnd    []HookEntry `yaml:"exchangeEnd,omitempty"`
	GatewayStart   []HookEntry `yaml:"gatewayStart,omitempty"`
	GatewayStop    []HookEntry `yaml:"gatewayStop,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}

// ByEvent returns the configured commands keyed by hook event name.
func (h HooksConfig) ByEvent() map[string][]HookEntry {
	out := map[string][]HookEntry{}
	add := func(event string, entries []HookEntry) {
		if len(entries) > 0 {
			out[event] = entries
		}
	}
	add("session_created", h.SessionCreated)
	add("session_cleared", h.SessionCleared)
	add("exchange_start", h.ExchangeStart)
	add("exchange_end", h.ExchangeEnd)
	add("gateway_start", h.GatewayStart)
	add("gateway_stop", h.GatewayStop)
	return out
}
