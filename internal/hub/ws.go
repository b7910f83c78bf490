package hub

import (
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"slate/collab/internal/gate"
)

// Origin enforcement happens at the perimeter proxy, the same place the
// trusted headers are injected.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request, doc string) {
	// Admission decision is made once, before any state is exchanged, and
	// stays immutable for the connection's lifetime.
	grant := gate.Authorize(r.Header)

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade for %s: %v", doc, err)
		return
	}

	conn, err := s.hub.Join(r.Context(), doc, grant)
	if err != nil {
		if !errors.Is(err, errShuttingDown) {
			log.Printf("hub: join %s: %v", doc, err)
		}
		_ = sock.WriteJSON(errorFrame(doc, codeStorageUnavailable, "document unavailable"))
		_ = sock.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-conn.Done():
				// Condemned as a slow consumer; closing the socket forces a
				// reconnect, which resyncs the client from a fresh init.
				_ = sock.Close()
				return
			case frame := <-conn.Frames():
				if err := sock.WriteJSON(frame); err != nil {
					return
				}
			}
		}
	}()

	for {
		var frame Frame
		if err := sock.ReadJSON(&frame); err != nil {
			break
		}
		s.hub.Deliver(conn, frame)
	}

	close(done)
	s.hub.Leave(conn)
	_ = sock.Close()
}
