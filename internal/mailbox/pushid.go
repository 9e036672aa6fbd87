package mailbox

import "github.com/google/uuid"

// NewPushID returns a child key for Push. Version 7 UUIDs start with a
// millisecond timestamp and are monotonic within a process, so keys sort
// lexically in the order they were generated.
func NewPushID() string {
	return uuid.Must(uuid.NewV7()).String()
}
