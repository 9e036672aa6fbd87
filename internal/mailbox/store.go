package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type subscription struct {
	id       uint64
	owner    string
	segments []string
	path     string
	last     []byte
	dispatch *dispatcher
}

// Store is an in-memory mailbox tree. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	root    map[string]any
	subs    map[uint64]*subscription
	nextSub uint64
	hooks   map[string][]string
	conns   map[string]*Conn
	touched map[string]time.Time

	now    func() time.Time
	logger *slog.Logger
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:    make(map[string]any),
		subs:    make(map[uint64]*subscription),
		hooks:   make(map[string][]string),
		conns:   make(map[string]*Conn),
		touched: make(map[string]time.Time),
		now:     time.Now,
		logger:  logger,
	}
}

// Connect opens a client connection to the store. owner names the
// connection in logs; it is made unique if already taken, and an empty
// owner gets a random id.
func (s *Store) Connect(owner string) *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner == "" {
		owner = uuid.NewString()
	}
	if _, taken := s.conns[owner]; taken {
		owner = owner + "-" + uuid.NewString()[:8]
	}
	c := &Conn{store: s, owner: owner}
	s.conns[owner] = c
	return c
}

// Get returns the current value at path.
func (s *Store) Get(path string) (Snapshot, error) {
	segments, err := splitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Path: strings.Join(segments, "/"), Raw: encode(lookup(s.root, segments))}, nil
}

// Connections returns the number of open connections.
func (s *Store) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Store) watch(owner, path string, fn func(Snapshot)) (Unsubscribe, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextSub++
	sub := &subscription{
		id:       s.nextSub,
		owner:    owner,
		segments: segments,
		path:     strings.Join(segments, "/"),
		dispatch: newDispatcher(fn),
	}
	s.subs[sub.id] = sub
	current := encode(lookup(s.root, segments))
	sub.last = current
	sub.dispatch.enqueue(Snapshot{Path: sub.path, Raw: current})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.unwatch(sub.id) })
	}, nil
}

func (s *Store) unwatch(id uint64) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()
	if ok {
		sub.dispatch.stop()
	}
}

// mutate applies fn to the tree under the lock and then notifies every
// subscription whose value may have changed.
func (s *Store) mutate(segments []string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn()
	s.touch(segments)

	for _, sub := range s.subs {
		if !isPrefix(sub.segments, segments) && !isPrefix(segments, sub.segments) {
			continue
		}
		current := encode(lookup(s.root, sub.segments))
		if bytes.Equal(current, sub.last) {
			continue
		}
		sub.last = current
		sub.dispatch.enqueue(Snapshot{Path: sub.path, Raw: current})
	}
}

// touch records a write against the top-level entry it falls under, e.g.
// rooms/cam-1 for rooms/cam-1/status. The reaper uses these times.
func (s *Store) touch(segments []string) {
	if len(segments) < 2 {
		return
	}
	s.touched[segments[0]+"/"+segments[1]] = s.now()
}

func (s *Store) set(path string, value any) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	normalized, err := normalize(value)
	if err != nil {
		return err
	}
	s.mutate(segments, func() { assign(s.root, segments, normalized) })
	return nil
}

func (s *Store) update(path string, fields map[string]any) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}

	type change struct {
		segments []string
		value    any
	}
	changes := make([]change, 0, len(fields))
	for key, value := range fields {
		rel, err := splitPath(key)
		if err != nil {
			return err
		}
		if len(rel) == 0 {
			return fmt.Errorf("%w: empty update key", ErrInvalidPath)
		}
		normalized, err := normalize(value)
		if err != nil {
			return err
		}
		full := append(append([]string{}, segments...), rel...)
		changes = append(changes, change{segments: full, value: normalized})
	}

	s.mutate(segments, func() {
		for _, c := range changes {
			assign(s.root, c.segments, c.value)
		}
	})
	return nil
}

func (s *Store) addHook(owner, path string) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return fmt.Errorf("%w: refusing disconnect hook on the root", ErrInvalidPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[owner] = append(s.hooks[owner], strings.Join(segments, "/"))
	return nil
}

// disconnect runs owner's hooks and drops its subscriptions.
func (s *Store) disconnect(c *Conn) {
	s.mu.Lock()
	if s.conns[c.owner] == c {
		delete(s.conns, c.owner)
	}
	paths := s.hooks[c.owner]
	delete(s.hooks, c.owner)
	var dropped []*subscription
	for id, sub := range s.subs {
		if sub.owner == c.owner {
			dropped = append(dropped, sub)
			delete(s.subs, id)
		}
	}
	s.mu.Unlock()

	for _, sub := range dropped {
		sub.dispatch.stop()
	}
	for _, path := range paths {
		s.logger.Debug("Running disconnect hook", "owner", c.owner, "path", path)
		if err := s.set(path, nil); err != nil {
			s.logger.Error("Disconnect hook failed", "owner", c.owner, "path", path, "error", err)
		}
	}
}

// expire removes every top-level entry whose last write is older than
// before and returns their paths.
func (s *Store) expire(before time.Time) []string {
	s.mu.Lock()
	var stale []string
	for key, at := range s.touched {
		segments := strings.Split(key, "/")
		if lookup(s.root, segments) == nil {
			delete(s.touched, key)
			continue
		}
		if at.Before(before) {
			stale = append(stale, key)
		}
	}
	s.mu.Unlock()

	for _, key := range stale {
		if err := s.set(key, nil); err != nil {
			s.logger.Error("Failed to expire entry", "path", key, "error", err)
		}
		s.mu.Lock()
		delete(s.touched, key)
		s.mu.Unlock()
	}
	return stale
}

// Conn is one client's connection to a Store. It implements Mailbox.
type Conn struct {
	store *Store
	owner string

	mu     sync.Mutex
	closed bool
}

var _ Mailbox = (*Conn)(nil)

// Owner returns the connection id.
func (c *Conn) Owner() string { return c.owner }

func (c *Conn) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Conn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *Conn) Watch(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	return c.store.watch(c.owner, path, fn)
}

func (c *Conn) Set(ctx context.Context, path string, value any) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.store.set(path, value)
}

func (c *Conn) Push(ctx context.Context, path string, value any) (string, error) {
	if err := c.check(ctx); err != nil {
		return "", err
	}
	key := NewPushID()
	if err := c.store.set(Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (c *Conn) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.store.update(path, fields)
}

func (c *Conn) Remove(ctx context.Context, path string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.store.set(path, nil)
}

func (c *Conn) OnDisconnectRemove(ctx context.Context, path string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.store.addHook(c.owner, path)
}

// Close ends the connection: its watches stop and its disconnect hooks run.
func (c *Conn) Close() error {
	if !c.markClosed() {
		return nil
	}
	c.store.disconnect(c)
	return nil
}
