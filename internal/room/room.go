// Package room defines the mailbox layout of a camera room and the
// role-specific handles used to read and write it.
//
// Every room lives under rooms/<id>. Each child has exactly one writer:
//
//	offer                  Broadcaster
//	answer                 Watcher
//	iceCandidates/caller   Broadcaster
//	iceCandidates/callee   Watcher
//	controls               Watcher
//	status                 Broadcaster
//
// The write side of that contract is enforced by construction:
// [BroadcasterChannel] and [WatcherChannel] only expose writes to the
// children their role owns.
package room

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kalkanci/guvenlikkamerasi/internal/mailbox"
)

const (
	// Root is the mailbox path holding every room.
	Root = "rooms"

	// MinIDLength is the shortest accepted room id after trimming.
	MinIDLength = 3
)

// Child paths relative to a room.
const (
	OfferPath           = "offer"
	AnswerPath          = "answer"
	CallerCandidatePath = "iceCandidates/caller"
	CalleeCandidatePath = "iceCandidates/callee"
	ControlsPath        = "controls"
	StatusPath          = "status"
)

var ErrInvalidID = errors.New("invalid room id")

// ID is a validated room identifier.
type ID string

// ParseID trims raw and validates it as a room id. Ids must be at least
// MinIDLength characters and usable as a single mailbox path segment.
func ParseID(raw string) (ID, error) {
	id := strings.TrimSpace(raw)
	if len([]rune(id)) < MinIDLength {
		return "", fmt.Errorf("%w: %q must be at least %d characters", ErrInvalidID, raw, MinIDLength)
	}
	if strings.ContainsAny(id, "/.#$[]") {
		return "", fmt.Errorf("%w: %q contains a reserved character", ErrInvalidID, raw)
	}
	return ID(id), nil
}

func (id ID) String() string { return string(id) }

// Path returns the mailbox path of the room, or of a child when rel is set.
func (id ID) Path(rel ...string) string {
	return mailbox.Join(append([]string{Root, string(id)}, rel...)...)
}
