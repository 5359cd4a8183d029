package webserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/agusx1211/corral/internal/debug"
	"github.com/agusx1211/corral/internal/events"
)

const (
	wsWriteTimeout = 15 * time.Second
	wsEventBuffer  = 512
)

// terminalWSMessage is the frame format on /ws/sessions/{agent}. Data is
// base64 so arbitrary terminal bytes survive JSON.
type terminalWSMessage struct {
	Type string `json:"type"` // snapshot, output, exit from the server; input, resize from the client
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Code int    `json:"code,omitempty"`
}

func (srv *Server) handleSessionWebSocket(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	if !srv.deps.Sessions.Has(agentID) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the snapshot so nothing written in between is lost.
	sub := srv.deps.Bus.Subscribe(wsEventBuffer, events.SessionOutput, events.SessionExit)
	defer sub.Close()

	var writeMu sync.Mutex
	send := func(msg terminalWSMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		writeCtx, writeCancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer writeCancel()
		return wsjson.Write(writeCtx, ws, msg)
	}

	snapshot := srv.deps.Sessions.Scrollback(agentID)
	if err := send(terminalWSMessage{Type: "snapshot", Data: base64.StdEncoding.EncodeToString([]byte(snapshot))}); err != nil {
		return
	}

	go func() {
		defer cancel()
		for {
			var msg terminalWSMessage
			if err := wsjson.Read(ctx, ws, &msg); err != nil {
				return
			}
			switch msg.Type {
			case "input":
				decoded, err := base64.StdEncoding.DecodeString(msg.Data)
				if err != nil || len(decoded) == 0 {
					continue
				}
				if err := srv.deps.Sessions.Write(agentID, decoded); err != nil {
					debug.LogKV("webserver", "session input failed", "agent", agentID, "error", err)
					return
				}
			case "resize":
				if msg.Cols <= 0 || msg.Rows <= 0 {
					continue
				}
				_ = srv.deps.Sessions.Resize(agentID, msg.Cols, msg.Rows)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.AgentID != agentID {
				continue
			}
			switch data := ev.Data.(type) {
			case events.SessionChunk:
				if err := send(terminalWSMessage{Type: "output", Data: base64.StdEncoding.EncodeToString([]byte(data.Data))}); err != nil {
					return
				}
			case events.SessionEnded:
				_ = send(terminalWSMessage{
					Type: "exit",
					Code: data.ExitCode,
					Data: base64.StdEncoding.EncodeToString([]byte(data.Tail)),
				})
				ws.Close(websocket.StatusNormalClosure, "process exited")
				return
			}
		}
	}
}

// handleEventsWebSocket streams bus events as JSON. ?topic= narrows the
// stream and may repeat or hold a comma-separated list.
func (srv *Server) handleEventsWebSocket(w http.ResponseWriter, r *http.Request) {
	var topics []events.Topic
	for _, raw := range r.URL.Query()["topic"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, events.Topic(t))
			}
		}
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	sub := srv.deps.Bus.Subscribe(wsEventBuffer, topics...)
	defer sub.Close()

	ctx := ws.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				debug.LogKV("webserver", "event encode failed", "topic", ev.Topic, "error", err)
				continue
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = ws.Write(writeCtx, websocket.MessageText, data)
			writeCancel()
			if err != nil {
				return
			}
		}
	}
}
