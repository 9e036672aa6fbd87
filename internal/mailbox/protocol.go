package mailbox

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame operations. Requests carry an ID that the matching result echoes.
const (
	OpSet                = "set"
	OpPush               = "push"
	OpUpdate             = "update"
	OpRemove             = "remove"
	OpOnDisconnectRemove = "on_disconnect_remove"
	OpWatch              = "watch"
	OpUnwatch            = "unwatch"

	// Server to client.
	OpResult = "result"
	OpValue  = "value"
)

// Frame is one websocket message, encoded with msgpack. Values travel as
// JSON inside Data so the tree keeps its JSON data model end to end.
type Frame struct {
	Op     string            `msgpack:"op"`
	ID     uint64            `msgpack:"id,omitempty"`
	Watch  uint64            `msgpack:"watch,omitempty"`
	Path   string            `msgpack:"path,omitempty"`
	Data   []byte            `msgpack:"data,omitempty"`
	Fields map[string][]byte `msgpack:"fields,omitempty"`
	Key    string            `msgpack:"key,omitempty"`
	Error  string            `msgpack:"error,omitempty"`
}

func encodeFrame(f *Frame) ([]byte, error) {
	data, err := msgpack.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Op, err)
	}
	return data, nil
}

func decodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

// RemoteError is an error reported by the mailbox server.
type RemoteError struct {
	Op      string
	Path    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("mailbox %s %s: %s", e.Op, e.Path, e.Message)
}
