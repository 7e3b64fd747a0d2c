package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/emotionsim/engine/internal/events"
)

const keepAliveInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type clientMessage struct {
	Type string `json:"type"`
}

// handleSubscribe implements the Event Stream from SPEC_FULL.md §6.2: an
// envelope-per-event websocket feed, replying to client {type: ping} with a
// pong event and {type: get_status} with a run_status event, with a 30s
// server-driven keep-alive ping independent of client traffic.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	live, ok := s.liveRun(runID)
	if !ok {
		http.Error(w, fmt.Sprintf("run %s is not live", runID), http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sink := events.NewBufferedSink(256)
	token := live.emit.Subscribe(sink)
	defer live.emit.Unsubscribe(token)

	writeCh := make(chan events.Event, 4)
	done := make(chan struct{})
	go s.pumpWrites(conn, sink, writeCh, done)

	writeCh <- events.Event{RunID: runID, Type: events.TypeConnected, Timestamp: time.Now()}

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			close(done)
			return
		}
		var reply *events.Event
		switch msg.Type {
		case "ping":
			reply = &events.Event{RunID: runID, Type: events.TypePong, Timestamp: time.Now()}
		case "get_status":
			reply = &events.Event{RunID: runID, Type: events.TypeRunStatus, Data: live.eng.Run().Status, Timestamp: time.Now()}
		}
		if reply != nil {
			select {
			case writeCh <- *reply:
			case <-done:
				return
			}
		}
	}
}

// pumpWrites serializes every write to conn: events fanned out from the
// engine, replies to client control messages, and the periodic keep-alive
// ping, all funneled through one goroutine since gorilla/websocket
// connections support at most one concurrent writer.
func (s *Server) pumpWrites(conn *websocket.Conn, sink *events.BufferedSink, extra <-chan events.Event, done <-chan struct{}) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case evt := <-sink.Events():
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case evt := <-extra:
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteJSON(events.Event{Type: events.TypePing, Timestamp: time.Now()}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
