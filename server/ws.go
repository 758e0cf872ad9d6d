package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/kevinxiao27/seqcrdt/host"
	"github.com/kevinxiao27/seqcrdt/wire"
)

// WSMessage is the websocket frame in both directions. Clients send insert,
// delete and merge; the server sends init, update and error.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) send(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(WSMessage{Type: kind, Data: data})
}

// Notify pushes the current state of the named document to its websocket
// clients.
func (s *Server) Notify(name string) {
	s.clientsMu.Lock()
	clients := slices.Clone(s.clients[name])
	s.clientsMu.Unlock()
	if len(clients) == 0 {
		return
	}
	doc, ok := s.reg.Lookup(name)
	if !ok {
		return
	}
	view := s.view(doc)
	glog.V(1).Infof("BROADCAST: doc=%s version=%d clients=%d", name, view.Version, len(clients))
	for _, c := range clients {
		if err := c.send("update", view); err != nil {
			glog.V(1).Infof("BROADCAST: doc=%s: %v", name, err)
		}
	}
}

func (s *Server) join(name string, c *client) int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[name] = append(s.clients[name], c)
	s.metrics.clientJoined()
	return len(s.clients[name])
}

func (s *Server) leave(name string, c *client) int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[name] = slices.DeleteFunc(s.clients[name], func(o *client) bool { return o == c })
	if len(s.clients[name]) == 0 {
		delete(s.clients, name)
	}
	s.metrics.clientLeft()
	return len(s.clients[name])
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("doc")
	doc, err := s.reg.Open(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("UPGRADE: doc=%s: %v", name, err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	if err := c.send("init", s.view(doc)); err != nil {
		return
	}
	glog.Infof("CLIENT CONNECTED: doc=%s total=%d", name, s.join(name, c))
	defer func() {
		glog.Infof("CLIENT DISCONNECTED: doc=%s remaining=%d", name, s.leave(name, c))
	}()

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		glog.V(1).Infof("MESSAGE: doc=%s type=%s", name, msg.Type)

		if err := s.dispatch(r.Context(), doc, msg); err != nil {
			_ = c.send("error", errorResponse{err.Error()})
		}
	}
}

func (s *Server) dispatch(ctx context.Context, doc *host.Replica, msg WSMessage) error {
	switch msg.Type {
	case "insert":
		var req InsertRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return err
		}
		_, err := s.insert(ctx, doc, req)
		return err
	case "delete":
		var req DeleteRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return err
		}
		return s.delete(ctx, doc, req)
	case "merge":
		env, err := wire.Unmarshal(msg.Data)
		if err != nil {
			return err
		}
		return s.merge(ctx, doc, env)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}
