// Package gateway holds the transient session with the real-time gateway.
// The bot's import path only needs it for one thing: connect, wait until the
// gateway signals readiness, expose the entity cache it was primed with, and
// disconnect.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	opIdentify = "identify"
	opReady    = "ready"

	readyTimeout = 30 * time.Second
)

// Entity is a cached identity object, resolvable by its numeric identifier.
type Entity struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

type frame struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
}

type identifyPayload struct {
	Token string `json:"token"`
}

type readyPayload struct {
	SessionID string   `json:"session_id"`
	Entities  []Entity `json:"entities"`
}

// Session is a live gateway connection whose entity cache has been
// populated. The cache is read-only; the session holds no write access.
type Session struct {
	conn      *websocket.Conn
	sessionID string
	entities  map[uint64]Entity
}

// Dial connects to the gateway with the given credentials and blocks until
// the ready signal arrives with the populated entity cache. The caller owns
// closing the session.
func Dial(ctx context.Context, url, token string) (*Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: readyTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	deadline := time.Now().Add(readyTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}

	identify, err := json.Marshal(identifyPayload{Token: token})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(frame{Op: opIdentify, Data: identify}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("identify: %w", err)
	}

	// The gateway may interleave other frames before ready; skip them.
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			conn.Close()
			return nil, fmt.Errorf("await ready: %w", err)
		}
		if f.Op != opReady {
			continue
		}
		var ready readyPayload
		if err := json.Unmarshal(f.Data, &ready); err != nil {
			conn.Close()
			return nil, fmt.Errorf("decode ready: %w", err)
		}
		entities := make(map[uint64]Entity, len(ready.Entities))
		for _, e := range ready.Entities {
			entities[e.ID] = e
		}
		conn.SetReadDeadline(time.Time{})
		return &Session{conn: conn, sessionID: ready.SessionID, entities: entities}, nil
	}
}

// SessionID returns the identifier assigned by the gateway at ready time.
func (s *Session) SessionID() string {
	return s.sessionID
}

// Entity resolves a cached entity by identifier.
func (s *Session) Entity(id uint64) (Entity, bool) {
	e, ok := s.entities[id]
	return e, ok
}

// EntityCount reports how many entities the ready payload carried.
func (s *Session) EntityCount() int {
	return len(s.entities)
}

// Close sends a normal closure frame and tears down the connection.
func (s *Session) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}
