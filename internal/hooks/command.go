package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"
)

const defaultCommandTimeout = 10 * time.Second

// Command is a shell command run for an event. The JSON payload is written
// to its stdin and the event name is exported as ROUNDTABLE_EVENT.
type Command struct {
	Command string
	Timeout time.Duration
}

// CommandHandler wraps c as a Handler.
func CommandHandler(c Command) Handler {
	return func(ctx context.Context, p Payload) error {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultCommandTimeout
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}

		cmd := exec.CommandContext(ctx, "sh", "-c", c.Command)
		cmd.Stdin = bytes.NewReader(body)
		cmd.Env = append(os.Environ(), "ROUNDTABLE_EVENT="+p.Event)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		cmd.WaitDelay = time.Second

		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				return fmt.Errorf("hook command %q: %w: %s", c.Command, err, msg)
			}
			return fmt.Errorf("hook command %q: %w", c.Command, err)
		}
		return nil
	}
}

// RegisterCommands registers one handler per command, keyed by event.
// Unknown event names are rejected.
func (m *Manager) RegisterCommands(commands map[string][]Command) error {
	for event, cmds := range commands {
		if !slices.Contains(AllEvents, event) {
			return fmt.Errorf("unknown hook event %q", event)
		}
		for i, c := range cmds {
			if strings.TrimSpace(c.Command) == "" {
				return fmt.Errorf("hooks.%s[%d]: empty command", event, i)
			}
			m.On(event, fmt.Sprintf("command:%d", i), CommandHandler(c))
		}
	}
	return nil
}
