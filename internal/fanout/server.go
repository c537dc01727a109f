package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/albapepper/ingestd/internal/model"
	"github.com/albapepper/ingestd/internal/telemetry"
)

const (
	writeDeadline = 5 * time.Second
	pongWait      = 30 * time.Second
	pingInterval  = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Server is the websocket transport for the fan-out bridge: one
// connection can subscribe to several fixtures, send {action:
// subscribe|unsubscribe|catchup, fixture_id, from_seq?}, and receives a
// Message stream in return.
type Server struct {
	bridge *Bridge
}

func NewServer(bridge *Bridge) *Server {
	return &Server{bridge: bridge}
}

type conn struct {
	ws *websocket.Conn

	mu   sync.Mutex
	subs map[int]*Subscriber // fixture_id -> this connection's handle
}

// HandleWS upgrades the request and runs the connection's read/write
// pumps until it disconnects.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.Warnf("fanout: upgrade failed: %v", err)
		return
	}

	c := &conn{ws: ws, subs: make(map[int]*Subscriber)}
	out := make(chan Message, 256)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.writePump(ctx, c, out)
	s.readPump(ctx, c, out)

	c.mu.Lock()
	for fixtureID, sub := range c.subs {
		s.bridge.Unsubscribe(fixtureID, sub)
	}
	c.mu.Unlock()
}

func (s *Server) readPump(ctx context.Context, c *conn, out chan<- Message) {
	defer c.ws.Close()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var act Action
		if err := json.Unmarshal(data, &act); err != nil {
			telemetry.Warnf("fanout: malformed action: %v", err)
			continue
		}

		switch act.Action {
		case ActionSubscribe:
			s.handleSubscribe(ctx, c, act, out)
		case ActionUnsubscribe:
			s.handleUnsubscribe(c, act)
		case ActionCatchup:
			s.handleCatchup(ctx, c, act, out)
		default:
			telemetry.Warnf("fanout: unknown action %q", act.Action)
		}
	}
}

func (s *Server) handleSubscribe(ctx context.Context, c *conn, act Action, out chan<- Message) {
	c.mu.Lock()
	if _, ok := c.subs[act.FixtureID]; ok {
		c.mu.Unlock()
		return
	}
	sub := s.bridge.Subscribe(act.FixtureID)
	c.subs[act.FixtureID] = sub
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done:
				return
			case msg := <-sub.Send:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (s *Server) handleUnsubscribe(c *conn, act Action) {
	c.mu.Lock()
	sub, ok := c.subs[act.FixtureID]
	delete(c.subs, act.FixtureID)
	c.mu.Unlock()
	if ok {
		s.bridge.Unsubscribe(act.FixtureID, sub)
	}
}

func (s *Server) handleCatchup(ctx context.Context, c *conn, act Action, out chan<- Message) {
	msgs, err := s.bridge.Catchup(ctx, act.FixtureID, model.NoteType(act.Type), act.FromSeq)
	if err != nil {
		c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
		if werr := c.ws.WriteMessage(websocket.TextMessage, catchupUnavailable(act.FixtureID)); werr != nil {
			telemetry.Warnf("fanout: write catchup-unavailable: %v", werr)
		}
		return
	}
	for _, m := range msgs {
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writePump(ctx context.Context, c *conn, out <-chan Message) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-out:
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteJSON(msg); err != nil {
				telemetry.Warnf("fanout: write error: %v", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ListenAndServe starts the fan-out bridge's websocket listener.
func (s *Server) ListenAndServe(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)

	addr := fmt.Sprintf(":%d", port)
	telemetry.Infof("fanout: server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
