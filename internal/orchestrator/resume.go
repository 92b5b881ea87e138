package orchestrator

import (
	"context"
	"fmt"

	"github.com/soyeahso/roundtable/internal/domain"
	"github.com/soyeahso/roundtable/internal/redact"
)

// ResumeOutcome is the result of the resume step: Resumed or Fresh.
type ResumeOutcome interface {
	resumeOutcome()
}

// Resumed carries the intro turn followed by the redacted recent tail.
type Resumed struct {
	Context []domain.Message
}

// Fresh carries only the intro turn. Cause is nil for an empty log.
type Fresh struct {
	Context []domain.Message
	Cause   error
}

func (Resumed) resumeOutcome() {}
func (Fresh) resumeOutcome()   {}

// resume builds the working context for a new exchange. It never fails;
// every problem degrades to Fresh.
func (o *Orchestrator) resume(ctx context.Context) ResumeOutcome {
	intro := o.introMessage()
	fresh := func(cause error) ResumeOutcome {
		return Fresh{Context: []domain.Message{intro}, Cause: cause}
	}

	if o.window.Len() == 0 {
		return fresh(nil)
	}

	tail := o.window.Tail(o.cfg.WindowSize)
	for _, m := range tail {
		if err := m.Validate(); err != nil {
			return fresh(fmt.Errorf("%w: seq %d: %w", ErrResumeFailure, m.SequenceID, err))
		}
	}
	if len(tail) == 0 {
		return fresh(nil)
	}

	redacted := o.pipeline.Apply(tail)
	if line, ok := redact.Report(tail, redacted); ok {
		o.log.Info().Msg(line)
	}

	prefix := make([]domain.Message, 0, len(redacted)+1)
	prefix = append(prefix, intro)
	prefix = append(prefix, redacted...)

	if r, ok := o.deps.Provider.(Rehydrator); ok {
		err := o.withTimeout(ctx, func(cctx context.Context) error {
			return r.Rehydrate(cctx, domain.CloneMessages(prefix))
		})
		if err != nil {
			return fresh(fmt.Errorf("%w: %w", ErrResumeFailure, err))
		}
	}

	return Resumed{Context: prefix}
}

// withTimeout runs fn under the per-call timeout, if one is configured.
func (o *Orchestrator) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	if o.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return fn(cctx)
}
