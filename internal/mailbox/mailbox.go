// Package mailbox is the shared key-value store used to relay signaling
// between the two peers of a room.
//
// Values live in a tree addressed by slash-separated paths. A [Mailbox]
// offers the six operations the session layer needs: Watch, Set, Push,
// Update, Remove and OnDisconnectRemove. [Store] is the in-memory tree with
// subscriptions and disconnect hooks; [Store.Connect] hands out a [Conn]
// per client. [Server] exposes a Store over websocket (msgpack frames) and
// server-sent events, and [Client] is the matching websocket Mailbox.
package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidPath  = errors.New("invalid path")
	ErrClosed       = errors.New("mailbox closed")
	ErrDisconnected = errors.New("mailbox disconnected")
)

// Mailbox is the client view of the store. Implementations must be safe for
// concurrent use. Watch callbacks for one subscription are delivered in
// order, never concurrently, and never while the implementation holds its
// own locks.
type Mailbox interface {
	// Watch calls fn with the current value at path and again every time
	// the value at or below path changes. An absent value is delivered as a
	// Snapshot whose Exists reports false.
	Watch(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error)

	// Set replaces the value at path. A nil value removes it.
	Set(ctx context.Context, path string, value any) error

	// Push appends value under path with a new, time-ordered child key and
	// returns that key.
	Push(ctx context.Context, path string, value any) (string, error)

	// Update merges fields into the object at path. Keys may themselves be
	// relative paths; nil values remove the field.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Remove deletes the value at path and everything below it.
	Remove(ctx context.Context, path string) error

	// OnDisconnectRemove asks the store to remove path when this client's
	// connection ends, whether it ends cleanly or not.
	OnDisconnectRemove(ctx context.Context, path string) error
}

// Unsubscribe stops a Watch. It is safe to call more than once.
type Unsubscribe func()

// Snapshot is the JSON value found at Path when a watch fired.
type Snapshot struct {
	Path string
	Raw  json.RawMessage
}

// Exists reports whether a value was present.
func (s Snapshot) Exists() bool {
	return len(s.Raw) > 0 && string(s.Raw) != "null"
}

// Decode unmarshals the value into v.
func (s Snapshot) Decode(v any) error {
	if !s.Exists() {
		return fmt.Errorf("decode %s: no value", s.Path)
	}
	return json.Unmarshal(s.Raw, v)
}

// Children returns the immediate children of an object value ordered by key.
// Push keys sort in insertion order, so for collections written with Push
// this is the append order.
func (s Snapshot) Children() ([]Child, error) {
	if !s.Exists() {
		return nil, nil
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(s.Raw, &object); err != nil {
		return nil, fmt.Errorf("children of %s: %w", s.Path, err)
	}
	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	children := make([]Child, len(keys))
	for i, key := range keys {
		children[i] = Child{Key: key, Raw: object[key]}
	}
	return children, nil
}

// Child is one entry of an object snapshot.
type Child struct {
	Key string
	Raw json.RawMessage
}

// Decode unmarshals the child value into v.
func (c Child) Decode(v any) error {
	return json.Unmarshal(c.Raw, v)
}

// Join builds a path from segments, ignoring empty ones.
func Join(parts ...string) string {
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		for _, segment := range strings.Split(part, "/") {
			if segment != "" {
				segments = append(segments, segment)
			}
		}
	}
	return strings.Join(segments, "/")
}

// splitPath validates path and returns its segments. The empty path names
// the root.
func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}
	segments := strings.Split(path, "/")
	for _, segment := range segments {
		if segment == "" || strings.ContainsAny(segment, ".#$[]") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segments, nil
}

// isPrefix reports whether prefix is an ancestor of, or equal to, path.
func isPrefix(prefix, path []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if prefix[i] != path[i] {
			return false
		}
	}
	return true
}
