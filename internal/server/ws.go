package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/basilica-network/term-executor/internal/session"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// handleWS upgrades the connection and streams one batch's event bus (C9):
// a synthesized snapshot event first, then every incremental event the
// executor publishes, terminated by a stream_closed frame when the bus
// closes. An unknown batch_id never upgrades — it gets a plain 404.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.registry.Get(r.URL.Query().Get("batch_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "batch not found")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := batch.Events.Subscribe()
	defer batch.Events.Unsubscribe(ch)

	snapshot, err := json.Marshal(batch.Snapshot())
	if err != nil {
		return
	}
	if err := conn.WriteJSON(session.Event{Kind: "snapshot", Data: snapshot}); err != nil {
		return
	}

	go drainClientFrames(conn)

	for ev := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteJSON(map[string]string{"kind": "stream_closed"})
}

// drainClientFrames discards any frames the client sends (the stream is
// one-directional) so gorilla observes close frames and control pings; the
// connection has no reader otherwise and a client-initiated close would
// never be noticed.
func drainClientFrames(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
