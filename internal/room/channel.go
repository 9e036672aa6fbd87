package room

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalkanci/guvenlikkamerasi/internal/mailbox"
)

// channel holds the read side shared by both roles.
type channel struct {
	mb     mailbox.Mailbox
	id     ID
	logger *slog.Logger
}

func (c channel) ID() ID { return c.id }

// watchValue decodes the value at rel into a fresh T for every change. fn
// receives nil when the value is absent or cannot be decoded.
func watchValue[T any](ctx context.Context, c channel, rel string, fn func(*T)) (mailbox.Unsubscribe, error) {
	path := c.id.Path(rel)
	return c.mb.Watch(ctx, path, func(s mailbox.Snapshot) {
		if !s.Exists() {
			fn(nil)
			return
		}
		v := new(T)
		if err := s.Decode(v); err != nil {
			c.logger.Warn("Ignoring malformed room value", "path", path, "error", err)
			fn(nil)
			return
		}
		fn(v)
	})
}

// watchCandidates calls fn once for every candidate appended under rel, in
// append order. Entries already delivered are skipped when the collection
// is redelivered.
func (c channel) watchCandidates(ctx context.Context, rel string, fn func(Candidate)) (mailbox.Unsubscribe, error) {
	path := c.id.Path(rel)
	seen := make(map[string]struct{})
	return c.mb.Watch(ctx, path, func(s mailbox.Snapshot) {
		children, err := s.Children()
		if err != nil {
			c.logger.Warn("Ignoring malformed candidate collection", "path", path, "error", err)
			return
		}
		for _, child := range children {
			if _, ok := seen[child.Key]; ok {
				continue
			}
			seen[child.Key] = struct{}{}

			var candidate Candidate
			if err := child.Decode(&candidate); err != nil {
				c.logger.Warn("Ignoring malformed candidate", "path", path, "key", child.Key, "error", err)
				continue
			}
			fn(candidate)
		}
	})
}

// BroadcasterChannel is the Broadcaster's handle on a room. It writes only
// offer, iceCandidates/caller and status, and may reset the whole room.
type BroadcasterChannel struct {
	channel
}

func NewBroadcasterChannel(mb mailbox.Mailbox, id ID, logger *slog.Logger) *BroadcasterChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &BroadcasterChannel{channel{mb: mb, id: id, logger: logger}}
}

// Reset clears everything under the room and arms its removal for when the
// Broadcaster's mailbox connection drops.
func (c *BroadcasterChannel) Reset(ctx context.Context) error {
	if err := c.mb.Remove(ctx, c.id.Path()); err != nil {
		return fmt.Errorf("reset room %s: %w", c.id, err)
	}
	if err := c.mb.OnDisconnectRemove(ctx, c.id.Path()); err != nil {
		return fmt.Errorf("arm cleanup for room %s: %w", c.id, err)
	}
	return nil
}

func (c *BroadcasterChannel) PublishOffer(ctx context.Context, offer Offer) error {
	return c.mb.Set(ctx, c.id.Path(OfferPath), offer)
}

func (c *BroadcasterChannel) PushCandidate(ctx context.Context, candidate Candidate) error {
	_, err := c.mb.Push(ctx, c.id.Path(CallerCandidatePath), candidate)
	return err
}

// PublishStatus writes the whole telemetry record.
func (c *BroadcasterChannel) PublishStatus(ctx context.Context, status DeviceStatus) error {
	return c.mb.Update(ctx, c.id.Path(StatusPath), status.Fields())
}

// Heartbeat refreshes only lastOnline.
func (c *BroadcasterChannel) Heartbeat(ctx context.Context, lastOnline int64) error {
	return c.mb.Update(ctx, c.id.Path(StatusPath), map[string]any{"lastOnline": lastOnline})
}

// Cleanup deletes the room.
func (c *BroadcasterChannel) Cleanup(ctx context.Context) error {
	return c.mb.Remove(ctx, c.id.Path())
}

func (c *BroadcasterChannel) WatchAnswer(ctx context.Context, fn func(*AnswerEnvelope)) (mailbox.Unsubscribe, error) {
	return watchValue(ctx, c.channel, AnswerPath, fn)
}

func (c *BroadcasterChannel) WatchCandidates(ctx context.Context, fn func(Candidate)) (mailbox.Unsubscribe, error) {
	return c.watchCandidates(ctx, CalleeCandidatePath, fn)
}

func (c *BroadcasterChannel) WatchControls(ctx context.Context, fn func(*Controls)) (mailbox.Unsubscribe, error) {
	return watchValue(ctx, c.channel, ControlsPath, fn)
}

// WatcherChannel is the Watcher's handle on a room. It writes only answer,
// iceCandidates/callee and controls.
type WatcherChannel struct {
	channel
}

func NewWatcherChannel(mb mailbox.Mailbox, id ID, logger *slog.Logger) *WatcherChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatcherChannel{channel{mb: mb, id: id, logger: logger}}
}

func (c *WatcherChannel) PublishAnswer(ctx context.Context, answer Answer) error {
	return c.mb.Set(ctx, c.id.Path(AnswerPath), AnswerEnvelope{Answer: answer})
}

func (c *WatcherChannel) PushCandidate(ctx context.Context, candidate Candidate) error {
	_, err := c.mb.Push(ctx, c.id.Path(CalleeCandidatePath), candidate)
	return err
}

// PublishControls replaces the controls record.
func (c *WatcherChannel) PublishControls(ctx context.Context, controls Controls) error {
	return c.mb.Set(ctx, c.id.Path(ControlsPath), controls)
}

// Cleanup deletes the controls record, the only child the Watcher owns
// beyond its negotiation messages.
func (c *WatcherChannel) Cleanup(ctx context.Context) error {
	return c.mb.Remove(ctx, c.id.Path(ControlsPath))
}

func (c *WatcherChannel) WatchOffer(ctx context.Context, fn func(*Offer)) (mailbox.Unsubscribe, error) {
	return watchValue(ctx, c.channel, OfferPath, fn)
}

func (c *WatcherChannel) WatchCandidates(ctx context.Context, fn func(Candidate)) (mailbox.Unsubscribe, error) {
	return c.watchCandidates(ctx, CallerCandidatePath, fn)
}

func (c *WatcherChannel) WatchStatus(ctx context.Context, fn func(*DeviceStatus)) (mailbox.Unsubscribe, error) {
	return watchValue(ctx, c.channel, StatusPath, fn)
}

// List returns a summary of every room currently present under Root.
func List(ctx context.Context, mb mailbox.Mailbox) ([]Summary, error) {
	summaries := make(chan []Summary, 1)
	unsubscribe, err := mb.Watch(ctx, Root, func(s mailbox.Snapshot) {
		select {
		case summaries <- summarize(s):
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer unsubscribe()

	select {
	case list := <-summaries:
		return list, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
