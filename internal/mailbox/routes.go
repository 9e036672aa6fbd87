package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Server exposes a Store to remote peers: websocket clients on /v1/ws,
// server-sent event listeners under EventsPrefix and a health check on
// /health.
type Server struct {
	store    *Store
	hub      *Hub
	events   *eventStream
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer wires a server around store. Call Run before serving requests.
func NewServer(store *Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    store,
		hub:      NewHub(store, logger),
		events:   newEventStream(store, logger),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,

			// Peers are native clients and browsers on other origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run drives the peer hub until ctx is done and then closes every peer and
// event stream.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
	s.events.close()
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.health)
	mux.HandleFunc("/v1/ws", s.serveWs)
	mux.Handle(EventsPrefix, s.events)
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Mailbox is healthy. peers=%d connections=%d\n", s.hub.Peers(), s.store.Connections())
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", "addr", r.RemoteAddr, "error", err)
		return
	}

	p := newPeer(s.hub, conn)
	if !s.hub.join(p) {
		p.shutdown()
		return
	}

	go p.writePump()
	go p.readPump()
}
