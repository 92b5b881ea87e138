package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/roundtable/internal/config"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"WARN":    zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"silent":  zerolog.Disabled,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "%q", in)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")
	assert.Equal(t, zerolog.WarnLevel, log.Level())

	log.Debug().Msg("dropped")
	log.Info().Msg("dropped")
	log.Warn().Msg("kept")
	log.Error().Msg("kept too")

	entries := lines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "error", entries[1]["level"])
	assert.Contains(t, entries[0], "time")
}

func TestSilentDropsEverything(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "silent")
	log.Trace().Msg("x")
	log.Error().Msg("x")
	assert.Zero(t, buf.Len())
}

func TestChildFields(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "debug").Sub("orchestrator").With("session", "s-42").Info().Msg("round")

	entries := lines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "orchestrator", entries[0]["subsystem"])
	assert.Equal(t, "s-42", entries[0]["session"])
	assert.Equal(t, "round", entries[0]["message"])
}

func TestNilWriterUsesStderr(t *testing.T) {
	assert.NotNil(t, New(nil, "info"))
}

func TestNewFromConfigConsoleStyles(t *testing.T) {
	var jsonOut bytes.Buffer
	log, closer, err := NewFromConfig(config.LoggingConfig{Level: "debug", ConsoleStyle: "json"}, &jsonOut)
	require.NoError(t, err)
	log.Debug().Str("k", "v").Msg("structured")
	require.NoError(t, closer.Close())
	assert.Equal(t, "v", lines(t, &jsonOut)[0]["k"])

	var pretty bytes.Buffer
	log, closer, err = NewFromConfig(config.LoggingConfig{Level: "info", ConsoleStyle: "pretty"}, &pretty)
	require.NoError(t, err)
	log.Info().Msg("human")
	require.NoError(t, closer.Close())
	assert.Contains(t, pretty.String(), "human")
	assert.False(t, json.Valid(bytes.TrimSpace(pretty.Bytes())))
}

func TestNewFromConfigTeesToFile(t *testing.T) {
	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "roundtable.log")

	log, closer, err := NewFromConfig(config.LoggingConfig{Level: "info", File: path}, &stderr)
	require.NoError(t, err)
	log.Info().Msg("to both")
	log.Debug().Msg("below level")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"to both"`)
	assert.NotContains(t, string(data), "below level")
	assert.Contains(t, stderr.String(), "to both")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
