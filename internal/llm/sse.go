package llm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// maxSSELine bounds one server-sent event line; a Gemini candidate chunk
// fits comfortably.
const maxSSELine = 1 << 20

// eachSSEData calls fn with the payload of every "data:" line in r until r
// is exhausted. Comments, event names and blank keep-alive lines are skipped.
func eachSSEData(r io.Reader, fn func(data []byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	for sc.Scan() {
		data, ok := bytes.CutPrefix(bytes.TrimSpace(sc.Bytes()), []byte("data:"))
		if !ok {
			continue
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) {
			continue
		}
		fn(data)
	}
	return sc.Err()
}

// parseJSONSchema decodes a tool's input schema. Malformed or empty
// schemas yield nil and the provider reports the problem.
func parseJSONSchema(schema string) map[string]any {
	if schema == "" {
		return nil
	}
	var out map[string]any
	if json.Unmarshal([]byte(schema), &out) != nil {
		return nil
	}
	return out
}
