package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/donovanhide/eventsource"
)

// EventsPrefix is the URL prefix of the server-sent events endpoint. The
// rest of the URL path names the watched mailbox path.
const EventsPrefix = "/v1/events/"

// putEvent carries the full value at a path, in the same shape as the
// streaming REST API of hosted realtime databases: {"path":"/","data":...}.
type putEvent struct {
	id   string
	data string
}

func (e putEvent) Id() string    { return e.id }
func (e putEvent) Event() string { return "put" }
func (e putEvent) Data() string  { return e.data }

func newPutEvent(id string, raw json.RawMessage) putEvent {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	body, _ := json.Marshal(struct {
		Path string          `json:"path"`
		Data json.RawMessage `json:"data"`
	}{Path: "/", Data: raw})
	return putEvent{id: id, data: string(body)}
}

type feed struct {
	refs        int
	unsubscribe Unsubscribe
}

// eventStream publishes store changes as server-sent events. Each watched
// path gets one store subscription shared by all of its HTTP listeners.
type eventStream struct {
	store  *Store
	conn   *Conn
	srv    *eventsource.Server
	logger *slog.Logger
	seq    atomic.Uint64

	mu    sync.Mutex
	feeds map[string]*feed
}

func newEventStream(store *Store, logger *slog.Logger) *eventStream {
	srv := eventsource.NewServer()
	srv.ReplayAll = true
	srv.AllowCORS = true
	return &eventStream{
		store:  store,
		conn:   store.Connect("events"),
		srv:    srv,
		logger: logger,
		feeds:  make(map[string]*feed),
	}
}

// Replay implements eventsource.Repository: a new listener first receives
// the current value.
func (e *eventStream) Replay(channel, _ string) chan eventsource.Event {
	out := make(chan eventsource.Event, 1)
	if snapshot, err := e.store.Get(channel); err == nil {
		out <- newPutEvent(e.nextID(), snapshot.Raw)
	}
	close(out)
	return out
}

func (e *eventStream) nextID() string {
	return strconv.FormatUint(e.seq.Add(1), 10)
}

func (e *eventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segments, err := splitPath(strings.TrimPrefix(r.URL.Path, EventsPrefix))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	channel := strings.Join(segments, "/")

	if err := e.acquire(channel); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer e.release(channel)

	e.logger.Debug("Event listener attached", "path", channel, "addr", r.RemoteAddr)
	e.srv.Handler(channel)(w, r)
	e.logger.Debug("Event listener detached", "path", channel, "addr", r.RemoteAddr)
}

func (e *eventStream) acquire(channel string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if f, ok := e.feeds[channel]; ok {
		f.refs++
		return nil
	}

	e.srv.Register(channel, e)
	var initial atomic.Bool
	initial.Store(true)
	unsubscribe, err := e.conn.Watch(context.Background(), channel, func(s Snapshot) {
		if initial.Swap(false) {
			return
		}
		e.srv.Publish([]string{channel}, newPutEvent(e.nextID(), s.Raw))
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", channel, err)
	}
	e.feeds[channel] = &feed{refs: 1, unsubscribe: unsubscribe}
	return nil
}

func (e *eventStream) release(channel string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.feeds[channel]
	if !ok {
		return
	}
	f.refs--
	if f.refs > 0 {
		return
	}
	f.unsubscribe()
	delete(e.feeds, channel)
}

func (e *eventStream) close() {
	e.mu.Lock()
	for channel, f := range e.feeds {
		f.unsubscribe()
		delete(e.feeds, channel)
	}
	e.mu.Unlock()
	e.srv.Close()
	if err := e.conn.Close(); err != nil {
		e.logger.Debug("Event stream connection close", "error", err)
	}
}

// Tail follows the server-sent events for path on the mailbox at baseURL
// and calls fn with every value until ctx is done. baseURL is the http(s)
// form of the server address.
func Tail(ctx context.Context, baseURL, path string, fn func(Snapshot)) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	url := strings.TrimSuffix(baseURL, "/") + EventsPrefix + strings.Join(segments, "/")

	// The request outlives ctx on purpose: the stream is closed first so its
	// reader sees the closed flag before the body read fails.
	reqCtx, cancelReq := context.WithCancel(context.Background())
	defer cancelReq()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", url, err)
	}
	stream, err := eventsource.SubscribeWithRequest("", req)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", url, err)
	}
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-stream.Errors:
			slog.Warn("Event stream error", "url", url, "error", err)
		case ev, ok := <-stream.Events:
			if !ok {
				return nil
			}
			if ev.Event() != "put" {
				continue
			}
			var body struct {
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal([]byte(ev.Data()), &body); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			raw := body.Data
			if string(raw) == "null" {
				raw = nil
			}
			fn(Snapshot{Path: strings.Join(segments, "/"), Raw: raw})
		}
	}
}
