package mailbox

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Hub tracks the websocket peers attached to a Store. Registration and
// teardown go through a single goroutine so a peer's disconnect hooks run
// exactly once and in the order peers leave.
type Hub struct {
	store  *Store
	logger *slog.Logger

	peers map[*peer]struct{}
	count atomic.Int64
	done  chan struct{}

	// register is a channel for newly connected peers.
	register chan *peer

	// unregister is a channel for peers whose read loop ended.
	unregister chan *peer
}

// NewHub creates a hub serving store.
func NewHub(store *Store, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:      store,
		logger:     logger,
		peers:      make(map[*peer]struct{}),
		done:       make(chan struct{}),
		register:   make(chan *peer),
		unregister: make(chan *peer),
	}
}

// Peers returns the number of connected websocket peers.
func (h *Hub) Peers() int {
	return int(h.count.Load())
}

// Run processes registrations until ctx is done, then drops every peer.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for p := range h.peers {
				h.drop(p)
			}
			return

		case p := <-h.register:
			h.peers[p] = struct{}{}
			h.count.Store(int64(len(h.peers)))
			h.logger.Info("Peer connected", "peer", p.mailbox.Owner(), "addr", p.conn.RemoteAddr().String())

		case p := <-h.unregister:
			h.drop(p)
			h.logger.Info("Peer disconnected", "peer", p.mailbox.Owner())
		}
	}
}

// leave hands p to the hub for teardown, or tears it down directly once the
// hub has stopped.
func (h *Hub) leave(p *peer) {
	select {
	case h.unregister <- p:
	case <-h.done:
		p.shutdown()
	}
}

// join hands a new peer to the hub. It reports false once the hub stopped.
func (h *Hub) join(p *peer) bool {
	select {
	case h.register <- p:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) drop(p *peer) {
	delete(h.peers, p)
	h.count.Store(int64(len(h.peers)))
	p.shutdown()
}
