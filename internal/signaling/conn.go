package signaling

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/codestudio/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Serve registers the upgraded connection and pumps frames until either side
// goes away. It blocks for the lifetime of the connection. When registration
// is refused the connection is closed with a policy-violation frame.
func (h *Hub) Serve(ws *websocket.Conn, sessionID, userID string, verified bool) error {
	p, err := h.Register(sessionID, userID, verified)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = ws.Close()
		return err
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ws, p)
	}()

	h.readPump(ws, p)
	h.Unregister(p)
	<-writerDone
	return nil
}

func (h *Hub) readPump(ws *websocket.Conn, p *Peer) {
	defer ws.Close()

	ws.SetReadLimit(h.opts.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("session_id", p.SessionID).Str("user_id", p.UserID).Msg("signaling read failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			h.metrics.ObserveSignalDrop("invalid")
			h.SendError(p, CodeInvalidClientFrame, err.Error())
			continue
		}
		if sig, ok := parsed.(protocol.WebRTCSignal); ok {
			h.metrics.ObserveSignal("inbound", string(sig.Type))
			h.Relay(p, sig)
		}
	}
}

func (h *Hub) writePump(ws *websocket.Conn, p *Peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame, ok := <-p.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.metrics.ObserveSignalDrop("write_error")
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
