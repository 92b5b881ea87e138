package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/soyeahso/roundtable/internal/llm"
	"github.com/soyeahso/roundtable/internal/logging"
)

// FailoverClient tries a chain of models in order, moving to the next one
// on errors another provider may not share.
type FailoverClient struct {
	registry *llm.Registry
	chain    []string
	log      *logging.Logger
}

// NewFailoverClient creates a client that tries primary first, then each
// fallback. Entries may be model names or provider names.
func NewFailoverClient(registry *llm.Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry: registry,
		chain:    append([]string{primary}, fallbacks...),
		log:      log.Sub("failover"),
	}
}

// Name reports the primary model.
func (f *FailoverClient) Name() string {
	return "failover:" + f.chain[0]
}

// each calls try for every distinct client in the chain until one
// succeeds or fails with an error that should not be retried elsewhere.
func (f *FailoverClient) each(try func(client llm.Client, model string) error) error {
	tried := make(map[llm.Client]bool)
	var lastErr error
	for _, model := range f.chain {
		client, err := f.registry.Resolve(model)
		if err != nil {
			f.log.Debug().Str("model", model).Err(err).Msg("no provider for model, skipping")
			lastErr = err
			continue
		}
		if tried[client] {
			continue
		}
		tried[client] = true

		err = try(client, model)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		f.log.Warn().Str("model", model).Str("provider", client.Name()).Err(err).Msg("retryable error, trying next provider")
	}
	return lastErr
}

// Complete tries each provider in turn.
func (f *FailoverClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := f.each(func(client llm.Client, model string) error {
		r := req
		r.Model = modelFor(client, model)
		var cerr error
		resp, cerr = client.Complete(ctx, r)
		return cerr
	})
	return resp, err
}

// Stream tries each provider in turn. Only the opening of the stream fails
// over; errors mid-stream are delivered as events.
func (f *FailoverClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	var ch <-chan llm.StreamEvent
	err := f.each(func(client llm.Client, model string) error {
		r := req
		r.Model = modelFor(client, model)
		var serr error
		ch, serr = client.Stream(ctx, r)
		return serr
	})
	return ch, err
}

// modelFor leaves the model empty when the chain entry names the provider
// itself, so the client uses its configured model.
func modelFor(client llm.Client, entry string) string {
	if entry == client.Name() {
		return ""
	}
	return entry
}

// isRetryable checks if the error suggests trying another provider.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		// a bad key on one provider says nothing about the next
		if provErr.Code == 401 || provErr.Code == 403 {
			return true
		}
		return provErr.Temporary()
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout")
}
