package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/mintlabs/engagemint/internal/bus"
)

// handleLive streams bus events to a websocket client as JSON text
// frames. An optional ?session= filter restricts the stream to one
// session; without it the client sees every watched session.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[server] websocket accept error: %v", err)
		return
	}
	defer conn.CloseNow()

	sessionFilter := r.URL.Query().Get("session")
	events, cancel := s.bus.Subscribe()
	defer cancel()

	log.Printf("[server] live client connected (session=%q)", sessionFilter)
	defer log.Printf("[server] live client disconnected")

	// Reads are discarded; the read loop only notices the client going
	// away so the subscription gets torn down.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readDone:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if sessionFilter != "" && eventSessionID(e) != sessionFilter {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			writeCtx, cancelWrite := context.WithTimeout(r.Context(), 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}

func eventSessionID(e bus.Event) string {
	if e.Tick != nil {
		return e.Tick.SessionID
	}
	if e.Alert != nil {
		return e.Alert.SessionID
	}
	return ""
}
