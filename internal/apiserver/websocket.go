package apiserver

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ttyfwd/ttyfwd/internal/protocol"
	"github.com/ttyfwd/ttyfwd/internal/registry"
	"github.com/ttyfwd/ttyfwd/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RegisterWebSocket adds a /api/sessions/{id}/ws route that runs a
// replay-then-tail streamer for the connection's lifetime, forwarding each
// StreamEvent as a text frame. The follower subprocess is killed the
// moment the socket closes.
func (s *Server) RegisterWebSocket() {
	s.router.HandleFunc("/api/sessions/{id}/ws", s.handleWebSocket)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, err := registry.Get(s.cfg.ControlRoot, id)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ttyfwd: websocket upgrade for %s: %v", id, err)
		return
	}
	defer conn.Close()

	streamer := stream.New(entry.StreamOutPath)
	defer streamer.Close()

	// A reader goroutine drains client control frames (pings, close) so
	// the connection's read deadline logic keeps working; we don't expect
	// any application-level messages from the browser on this socket.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				streamer.Close()
				return
			}
		}
	}()

	for {
		ev, ok := streamer.Next()
		if !ok {
			return
		}
		b, err := ev.MarshalJSON()
		if err != nil {
			log.Printf("ttyfwd: marshal stream event for %s: %v", id, err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
		if ev.Kind == protocol.StreamEnd || ev.Kind == protocol.StreamError {
			return
		}
	}
}
