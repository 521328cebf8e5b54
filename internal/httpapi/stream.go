package httpapi

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/cratequiet/internal/monitor"
	"github.com/MrWong99/cratequiet/internal/observe"
)

// Message types sent on /v1/stream.
const (
	MessageStatus = "status"
	MessageLevel  = "level"
	MessageBark   = "bark"
	MessageState  = "state"
)

// Message is one frame of the observer stream. Exactly one payload field is
// set, matching Type.
type Message struct {
	Type   string                    `json:"type"`
	Status *monitor.Status           `json:"status,omitempty"`
	Level  *monitor.Level            `json:"level,omitempty"`
	Bark   *monitor.BarkNotification `json:"bark,omitempty"`
	State  *monitor.StateChange      `json:"state,omitempty"`
}

// handleStream upgrades to a WebSocket and forwards controller updates until
// the client goes away. The first frame is the current status. Clients that
// only care about events pass ?levels=false to skip the per-tick levels.
// Frames a slow client cannot keep up with are dropped by the subscription.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		// Accept has already written the error response.
		return
	}
	defer conn.CloseNow()

	log := observe.Logger(r.Context())
	sub := s.mon.Subscribe(s.streamBuffer)
	defer sub.Close()

	ctx := conn.CloseRead(r.Context())
	levels := sub.Levels
	if r.URL.Query().Get("levels") == "false" {
		levels = nil
	}

	write := func(m Message) error {
		wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
		return wsjson.Write(wctx, conn, m)
	}

	st := s.mon.Status()
	if err := write(Message{Type: MessageStatus, Status: &st}); err != nil {
		log.Debug("httpapi: stream write", "err", err)
		return
	}

	for {
		var m Message
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case l, ok := <-levels:
			if !ok {
				return
			}
			m = Message{Type: MessageLevel, Level: &l}
		case b, ok := <-sub.Barks:
			if !ok {
				return
			}
			m = Message{Type: MessageBark, Bark: &b}
		case sc, ok := <-sub.States:
			if !ok {
				return
			}
			m = Message{Type: MessageState, State: &sc}
		}
		if err := write(m); err != nil {
			log.Debug("httpapi: stream write", "err", err)
			return
		}
	}
}
