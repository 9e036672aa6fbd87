package mailbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer. Session descriptions with many
	// candidates stay well below this.
	maxMessageSize = 64 * 1024
)

// peer is one websocket connection on the server side, backed by its own
// store connection so its disconnect hooks fire when the socket goes away.
type peer struct {
	hub     *Hub
	conn    *websocket.Conn
	mailbox *Conn

	// send is the outbound queue drained by writePump.
	send chan *Frame
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	watches map[uint64]Unsubscribe
}

func newPeer(hub *Hub, conn *websocket.Conn) *peer {
	return &peer{
		hub:     hub,
		conn:    conn,
		mailbox: hub.store.Connect(""),
		send:    make(chan *Frame, 256),
		done:    make(chan struct{}),
		watches: make(map[uint64]Unsubscribe),
	}
}

// shutdown stops the peer's watches, runs its disconnect hooks and closes
// the socket. It is idempotent.
func (p *peer) shutdown() {
	p.once.Do(func() {
		close(p.done)

		p.mu.Lock()
		for id, unsubscribe := range p.watches {
			unsubscribe()
			delete(p.watches, id)
		}
		p.mu.Unlock()

		p.mailbox.Close()
		p.conn.Close()
	})
}

func (p *peer) enqueue(f *Frame) {
	select {
	case p.send <- f:
	case <-p.done:
	}
}

// readPump decodes request frames and applies them to the store.
//
// At most one reader runs per connection.
func (p *peer) readPump() {
	defer p.hub.leave(p)

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				p.hub.logger.Warn("Peer read failed", "peer", p.mailbox.Owner(), "error", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		req, err := decodeFrame(data)
		if err != nil {
			p.hub.logger.Warn("Dropping malformed frame", "peer", p.mailbox.Owner(), "error", err)
			continue
		}
		p.enqueue(p.handle(req))
	}
}

// handle applies one request and builds its result frame.
func (p *peer) handle(req *Frame) *Frame {
	ctx := context.Background()
	res := &Frame{Op: OpResult, ID: req.ID, Path: req.Path}

	var err error
	switch req.Op {
	case OpSet:
		err = p.mailbox.Set(ctx, req.Path, rawValue(req.Data))
	case OpPush:
		res.Key, err = p.mailbox.Push(ctx, req.Path, rawValue(req.Data))
	case OpUpdate:
		fields := make(map[string]any, len(req.Fields))
		for key, data := range req.Fields {
			fields[key] = rawValue(data)
		}
		err = p.mailbox.Update(ctx, req.Path, fields)
	case OpRemove:
		err = p.mailbox.Remove(ctx, req.Path)
	case OpOnDisconnectRemove:
		err = p.mailbox.OnDisconnectRemove(ctx, req.Path)
	case OpWatch:
		err = p.watch(ctx, req)
	case OpUnwatch:
		p.unwatch(req.Watch)
	default:
		res.Error = "unknown op " + req.Op
	}
	if err != nil {
		res.Error = err.Error()
	}

	p.hub.logger.Debug("Handled frame", "peer", p.mailbox.Owner(), "op", req.Op, "path", req.Path, "error", res.Error)
	return res
}

func (p *peer) watch(ctx context.Context, req *Frame) error {
	id := req.ID
	unsubscribe, err := p.mailbox.Watch(ctx, req.Path, func(s Snapshot) {
		p.enqueue(&Frame{Op: OpValue, Watch: id, Path: s.Path, Data: s.Raw})
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.watches[id] = unsubscribe
	p.mu.Unlock()
	return nil
}

func (p *peer) unwatch(id uint64) {
	p.mu.Lock()
	unsubscribe, ok := p.watches[id]
	delete(p.watches, id)
	p.mu.Unlock()
	if ok {
		unsubscribe()
	}
}

// writePump serializes frames and pings onto the socket.
//
// At most one writer runs per connection.
func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case <-p.done:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			p.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case f := <-p.send:
			data, err := encodeFrame(f)
			if err != nil {
				p.hub.logger.Error("Failed to encode frame", "peer", p.mailbox.Owner(), "error", err)
				continue
			}
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				p.hub.logger.Warn("Peer write failed", "peer", p.mailbox.Owner(), "error", err)
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// rawValue turns frame data into a store value; empty data means null.
func rawValue(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}
