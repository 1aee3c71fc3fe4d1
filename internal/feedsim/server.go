package feedsim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"patternboard/internal/feed"
	"patternboard/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// envelope is one wire message: {"event": name, "data": payload}.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func encode(event string, data any) []byte {
	b, _ := json.Marshal(envelope{Event: event, Data: data})
	return b
}

// Server serves the simulated feed over HTTP and WebSocket. It is a Sink:
// every update passed to it is broadcast to connected clients.
type Server struct {
	gen *Generator
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

// NewServer creates a feed server backed by gen.
func NewServer(gen *Generator) *Server {
	return &Server{
		gen:     gen,
		log:     slog.Default().With(slog.String("component", "feedsim")),
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// Handler returns the feed routes:
//
//	/ws        envelope stream (seed first, then candles and signals)
//	/api/seed  closed candle history as a JSON array
//	/health    liveness
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc(feed.SeedPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.gen.History())
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"feedsim","clients":%d}`+"\n", s.ClientCount())
	})
	return mux
}

// ClientCount returns the number of connected feed clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// PublishCandle broadcasts a candle update envelope.
func (s *Server) PublishCandle(_ context.Context, c model.Candle, closed bool) error {
	s.broadcast(encode(feed.WireCandle, model.CandleUpdate{Candle: c, Closed: closed}))
	return nil
}

// PublishSignal broadcasts a signal envelope.
func (s *Server) PublishSignal(_ context.Context, sig *model.Signal) error {
	s.broadcast(encode(feed.WireSignal, sig))
	return nil
}

func (s *Server) broadcast(msg []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.clients {
		select {
		case ch <- msg:
		default: // slow client, drop
		}
	}
}

func (s *Server) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	// The seed is queued under the lock so no live update can precede it.
	s.mu.Lock()
	ch <- encode(feed.WireSeed, s.gen.History())
	s.clients[conn] = ch
	s.mu.Unlock()
	return ch
}

func (s *Server) unregister(conn *websocket.Conn) {
	s.mu.Lock()
	if ch, ok := s.clients[conn]; ok {
		close(ch)
		delete(s.clients, conn)
	}
	s.mu.Unlock()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade error", slog.Any("err", err))
		return
	}
	s.log.Info("client connected", slog.String("remote", r.RemoteAddr))

	ch := s.register(conn)
	defer func() {
		s.unregister(conn)
		conn.Close()
		s.log.Info("client disconnected", slog.String("remote", r.RemoteAddr))
	}()

	// Reader: only needed to notice the peer going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.unregister(conn)
				return
			}
		}
	}()

	for msg := range ch {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
