package hooks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandHandler_ReceivesPayload(t *testing.T) {
	out := filepath.Join(t.TempDir(), "payload.json")
	h := CommandHandler(Command{Command: "cat > " + out + " && printf %s \"$ROUNDTABLE_EVENT\" >> " + out})

	err := h(context.Background(), Payload{Event: EventSessionCleared, Data: map[string]any{"session_id": "s1"}})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"s1"`)
	assert.True(t, strings.HasSuffix(string(data), EventSessionCleared))
}

func TestCommandHandler_Failure(t *testing.T) {
	h := CommandHandler(Command{Command: "echo nope >&2; exit 3"})
	err := h(context.Background(), Payload{Event: EventGatewayStop})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestCommandHandler_Timeout(t *testing.T) {
	h := CommandHandler(Command{Command: "exec sleep 5", Timeout: 50 * time.Millisecond})
	start := time.Now()
	err := h(context.Background(), Payload{Event: EventGatewayStop})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRegisterCommands(t *testing.T) {
	m := testManager()
	err := m.RegisterCommands(map[string][]Command{
		EventExchangeEnd: {{Command: "true"}, {Command: "true"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Count(EventExchangeEnd))

	err = m.RegisterCommands(map[string][]Command{"message_received": {{Command: "true"}}})
	assert.Error(t, err)

	err = m.RegisterCommands(map[string][]Command{EventExchangeEnd: {{Command: " "}}})
	assert.Error(t, err)
}
