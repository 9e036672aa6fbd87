package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalkanci/guvenlikkamerasi/internal/dns"
)

// Client is a Mailbox backed by a remote Server over websocket.
//
// A Client does not reconnect. When the socket drops, pending and future
// calls fail with ErrDisconnected, Done is closed and the server runs this
// client's disconnect hooks.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	outgoing chan *Frame
	closing  chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	doneOnce  sync.Once

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan *Frame
	watches map[uint64]*dispatcher
	err     error
}

var _ Mailbox = (*Client)(nil)

// Dial connects to the mailbox server at serverURL. Both ws(s):// and
// http(s):// forms are accepted; a missing path defaults to /v1/ws.
func Dial(ctx context.Context, serverURL string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := WebsocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = dns.DialContext
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u, err)
	}

	c := &Client{
		conn:     conn,
		logger:   logger,
		outgoing: make(chan *Frame, 64),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		pending:  make(map[uint64]chan *Frame),
		watches:  make(map[uint64]*dispatcher),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	logger.Debug("Connected to mailbox", "url", u)
	return c, nil
}

// WebsocketURL normalizes a server address into the websocket endpoint.
func WebsocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid mailbox URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid mailbox URL %q: unsupported scheme", serverURL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/ws"
	}
	return u.String(), nil
}

// HTTPURL returns the http(s) base address of a mailbox server, used for
// server-sent events and the health check.
func HTTPURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid mailbox URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid mailbox URL %q: unsupported scheme", serverURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/v1/ws")
	return strings.TrimSuffix(u.String(), "/"), nil
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, if it has.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection. It returns once the socket is closed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	select {
	case <-c.done:
	case <-time.After(writeWait):
		c.conn.Close()
		<-c.done
	}
	return nil
}

func (c *Client) finish(err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		watches := c.watches
		c.watches = make(map[uint64]*dispatcher)
		c.mu.Unlock()

		for _, d := range watches {
			d.stop()
		}
		close(c.done)
	})
}

func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
				c.finish(ErrClosed)
			default:
				c.logger.Warn("Mailbox connection lost", "error", err)
				c.finish(fmt.Errorf("%w: %v", ErrDisconnected, err))
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		f, err := decodeFrame(data)
		if err != nil {
			c.logger.Warn("Dropping malformed frame", "error", err)
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f *Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch f.Op {
	case OpResult:
		if ch, ok := c.pending[f.ID]; ok {
			delete(c.pending, f.ID)
			ch <- f
		}
	case OpValue:
		if d, ok := c.watches[f.Watch]; ok {
			d.enqueue(Snapshot{Path: f.Path, Raw: f.Data})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f := <-c.outgoing:
			data, err := encodeFrame(f)
			if err != nil {
				c.logger.Error("Failed to encode frame", "error", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			// Give the server a moment to answer the close before the
			// read side gives up.
			select {
			case <-c.done:
			case <-time.After(time.Second):
			}
			return

		case <-c.done:
			return
		}
	}
}

// request sends f and waits for its result. f gets the next request id
// unless it already carries one.
func (c *Client) request(ctx context.Context, f *Frame) (*Frame, error) {
	reply := make(chan *Frame, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	if f.ID == 0 {
		c.nextID++
		f.ID = c.nextID
	}
	c.pending[f.ID] = reply
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}

	select {
	case c.outgoing <- f:
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-c.done:
		forget()
		return nil, c.Err()
	}

	select {
	case res := <-reply:
		if res.Error != "" {
			return nil, &RemoteError{Op: f.Op, Path: f.Path, Message: res.Error}
		}
		return res, nil
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-c.done:
		forget()
		return nil, c.Err()
	}
}

func (c *Client) Watch(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	if _, err := splitPath(path); err != nil {
		return nil, err
	}

	// Values can arrive before the result frame, so the dispatcher is
	// registered under the request id before the request goes out.
	d := newDispatcher(fn)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		d.stop()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	c.watches[id] = d
	c.mu.Unlock()

	if _, err := c.request(ctx, &Frame{Op: OpWatch, ID: id, Path: path}); err != nil {
		c.dropWatch(id)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.dropWatch(id)
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			defer cancel()
			if _, err := c.request(ctx, &Frame{Op: OpUnwatch, Watch: id}); err != nil {
				c.logger.Debug("Unwatch failed", "path", path, "error", err)
			}
		})
	}, nil
}

func (c *Client) dropWatch(id uint64) {
	c.mu.Lock()
	d, ok := c.watches[id]
	delete(c.watches, id)
	c.mu.Unlock()
	if ok {
		d.stop()
	}
}

func (c *Client) Set(ctx context.Context, path string, value any) error {
	data, err := marshalValue(value)
	if err != nil {
		return err
	}
	_, err = c.request(ctx, &Frame{Op: OpSet, Path: path, Data: data})
	return err
}

func (c *Client) Push(ctx context.Context, path string, value any) (string, error) {
	data, err := marshalValue(value)
	if err != nil {
		return "", err
	}
	res, err := c.request(ctx, &Frame{Op: OpPush, Path: path, Data: data})
	if err != nil {
		return "", err
	}
	return res.Key, nil
}

func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	encoded := make(map[string][]byte, len(fields))
	for key, value := range fields {
		data, err := marshalValue(value)
		if err != nil {
			return err
		}
		encoded[key] = data
	}
	_, err := c.request(ctx, &Frame{Op: OpUpdate, Path: path, Fields: encoded})
	return err
}

func (c *Client) Remove(ctx context.Context, path string) error {
	_, err := c.request(ctx, &Frame{Op: OpRemove, Path: path})
	return err
}

func (c *Client) OnDisconnectRemove(ctx context.Context, path string) error {
	_, err := c.request(ctx, &Frame{Op: OpOnDisconnectRemove, Path: path})
	return err
}

func marshalValue(value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}
