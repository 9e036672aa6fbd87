package mailbox

import (
	"encoding/json"
	"fmt"
)

// normalize converts an arbitrary Go value into the JSON data model
// (map[string]any, []any, string, float64, bool, nil) stored in the tree.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if raw, ok := value.(json.RawMessage); ok {
		return decodeRaw(raw)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return decodeRaw(data)
}

func decodeRaw(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

// lookup returns the value at segments, or nil when absent.
func lookup(root map[string]any, segments []string) any {
	var node any = root
	for _, segment := range segments {
		object, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = object[segment]
		if !ok {
			return nil
		}
	}
	if object, ok := node.(map[string]any); ok && len(object) == 0 {
		return nil
	}
	return node
}

// assign stores value at segments, creating intermediate objects and
// replacing scalars that stand in the way. A nil value deletes the entry and
// prunes objects left empty.
func assign(root map[string]any, segments []string, value any) {
	if len(segments) == 0 {
		for key := range root {
			delete(root, key)
		}
		if object, ok := value.(map[string]any); ok {
			for key, child := range object {
				root[key] = child
			}
		}
		return
	}

	key, rest := segments[0], segments[1:]
	if len(rest) == 0 {
		if value == nil || isEmptyObject(value) {
			delete(root, key)
		} else {
			root[key] = value
		}
		return
	}

	child, ok := root[key].(map[string]any)
	if !ok {
		if value == nil {
			return
		}
		child = make(map[string]any)
		root[key] = child
	}
	assign(child, rest, value)
	if len(child) == 0 {
		delete(root, key)
	}
}

func isEmptyObject(value any) bool {
	object, ok := value.(map[string]any)
	return ok && len(object) == 0
}

// encode renders a tree value as JSON. encoding/json sorts object keys, so
// equal values always encode to equal bytes.
func encode(value any) json.RawMessage {
	if value == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return data
}
