package domain

import "time"

// Mode selects the round budget for an exchange.
type Mode string

const (
	ModeExchange  Mode = "exchange"
	ModeRoundChat Mode = "roundchat"
)

// ParseMode maps a request value to a Mode. Empty input is ModeExchange.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case "", ModeExchange:
		return ModeExchange, true
	case ModeRoundChat:
		return ModeRoundChat, true
	}
	return ModeExchange, false
}

// StopReason explains why an exchange ended.
type StopReason string

const (
	StopSentinel StopReason = "sentinel"
	StopBudget   StopReason = "budget"
	StopFailure  StopReason = "failure"
)

// DisplayMessage is one entry of the recent view returned to callers.
type DisplayMessage struct {
	ID        int         `json:"id"`
	Role      MessageRole `json:"role"`
	Name      string      `json:"name"`
	Content   string      `json:"content"`
	Kind      Kind        `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
}

// OrchestrationResult is the unit returned across the transport boundary.
// A degraded result has no messages, no participants and Error set.
type OrchestrationResult struct {
	SessionID     string           `json:"sessionId"`
	Messages      []DisplayMessage `json:"messages"`
	Participants  []string         `json:"participants"`
	Terminated    bool             `json:"terminated"`
	Error         bool             `json:"error"`
	ErrorMessage  string           `json:"errorMessage,omitempty"`
	Reason        StopReason       `json:"reason,omitempty"`
	Rounds        int              `json:"rounds"`
	Mode          Mode             `json:"mode"`
	CleanedPrompt bool             `json:"cleanedPrompt"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Degraded builds the error-shaped result for a session.
func Degraded(sessionID string, mode Mode, err error) OrchestrationResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return OrchestrationResult{
		SessionID:    sessionID,
		Messages:     []DisplayMessage{},
		Participants: []string{},
		Error:        true,
		ErrorMessage: msg,
		Reason:       StopFailure,
		Mode:         mode,
		Timestamp:    time.Now(),
	}
}
