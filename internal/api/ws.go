package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/dazzy/internal/assistant"
	"github.com/nugget/dazzy/internal/events"
	"github.com/nugget/dazzy/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = wsPingPeriod + 10*time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSMessage is one websocket frame in either direction. Clients send
// {"type":"message","content":"..."}; the server sends "reply" frames
// and, when subscribed, "event" frames for bus traffic.
type WSMessage struct {
	Type           string           `json:"type"`
	Content        string           `json:"content,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Reply          *assistant.Reply `json:"reply,omitempty"`
	Event          *events.Event    `json:"event,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// handleWebSocket runs one client connection. All writes go through a
// single writer goroutine; the handler goroutine reads.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	convID := r.URL.Query().Get("conversation_id")
	if convID == "" {
		convID = session.DefaultID
	}

	out := make(chan WSMessage, 16)
	done := make(chan struct{})

	var sub <-chan events.Event
	if s.cfg.Bus != nil && r.URL.Query().Get("events") != "false" {
		sub = s.cfg.Bus.Subscribe(64)
		defer s.cfg.Bus.Unsubscribe(sub)
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.wsWriter(conn, out, sub, done)
	}()
	defer func() {
		close(done)
		<-writerDone
	}()

	conn.SetReadLimit(maxBody)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	s.logger.Debug("websocket connected", "conversation_id", convID)
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		if msg.Type != "message" {
			continue
		}
		id := msg.ConversationID
		if id == "" {
			id = convID
		}

		resp := WSMessage{Type: "reply", ConversationID: id}
		reply, err := s.cfg.Assistant.HandleIn(r.Context(), id, assistant.ChannelAPI, msg.Content)
		if err != nil {
			resp.Type = "error"
			resp.Error = "assistant unavailable"
		} else {
			resp.Reply = &reply
		}
		select {
		case out <- resp:
		case <-writerDone:
			return
		}
	}
}

func (s *Server) wsWriter(conn *websocket.Conn, out <-chan WSMessage, sub <-chan events.Event, done <-chan struct{}) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	write := func(msg WSMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case <-done:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-out:
			if !write(msg) {
				return
			}
		case e, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			if !write(WSMessage{Type: "event", Event: &e}) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
