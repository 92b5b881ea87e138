package config

import (
	"fmt"
	"slices"
	"strings"
)

// reservedSegments may not be addressed by a dotted config key.
var reservedSegments = []string{"__proto__", "prototype", "constructor"}

// ParseConfigPath splits a dotted key such as "gateway.auth.mode".
func ParseConfigPath(key string) ([]string, error) {
	if key == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	segs := strings.Split(key, ".")
	for i, s := range segs {
		switch {
		case s == "":
			return nil, &ConfigError{Message: fmt.Sprintf("config path %q: empty segment at position %d", key, i)}
		case slices.Contains(reservedSegments, s):
			return nil, &ConfigError{Message: "config path contains blocked key: " + s}
		}
	}
	return segs, nil
}

// parent walks to the map holding the last segment of path. With create set
// it replaces missing or scalar intermediates with empty maps.
func parent(root map[string]any, path []string, create bool) (map[string]any, bool) {
	node := root
	for _, seg := range path[:len(path)-1] {
		child, isMap := node[seg].(map[string]any)
		if !isMap {
			if !create {
				return nil, false
			}
			child = map[string]any{}
			node[seg] = child
		}
		node = child
	}
	return node, true
}

// GetValueAtPath reads the value at path.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	node, ok := parent(root, path, false)
	if !ok {
		return nil, false
	}
	v, ok := node[path[len(path)-1]]
	return v, ok
}

// SetValueAtPath writes value at path, creating maps along the way.
func SetValueAtPath(root map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	node, _ := parent(root, path, true)
	node[path[len(path)-1]] = value
}

// UnsetValueAtPath deletes the value at path and reports whether it existed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	if len(path) == 0 {
		return false
	}
	node, ok := parent(root, path, false)
	if !ok {
		return false
	}
	last := path[len(path)-1]
	if _, ok := node[last]; !ok {
		return false
	}
	delete(node, last)
	return true
}
