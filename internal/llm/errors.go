package llm

import "fmt"

// ProviderError is a failed call to a provider. Code is the HTTP status
// when the provider answered, and 0 when it could not be reached.
type ProviderError struct {
	Provider string
	Message  string
	Code     int
}

func (e *ProviderError) Error() string {
	if e.Code == 0 {
		return e.Provider + ": " + e.Message
	}
	return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
}

// Temporary reports whether the same call may succeed later: unreachable
// providers, timeouts, rate limits and server errors.
func (e *ProviderError) Temporary() bool {
	return e.Code == 0 || e.Code == 408 || e.Code == 429 || e.Code >= 500
}
