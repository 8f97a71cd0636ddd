// ABOUTME: WebSocket endpoint that attaches a browser to a conversation session
// ABOUTME: Sends a snapshot then forwards session updates; reads send, typing and mark_read frames

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/chatdesk/internal/auth"
	"github.com/2389/chatdesk/internal/conversation"
	"github.com/2389/chatdesk/internal/session"
)

const (
	wsReadLimit    = 64 << 10
	wsPongWait     = 60 * time.Second
	wsPingInterval = 25 * time.Second
	wsWriteWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Access is decided by the token, not the origin.
		return true
	},
}

// Client frame types.
const (
	frameSend     = "send"
	frameTyping   = "typing"
	frameMarkRead = "mark_read"
)

// Server frame types.
const (
	frameSnapshot       = "snapshot"
	frameMessage        = "message"
	frameMessageUpdated = "message_updated"
	framePresence       = "presence"
	frameTypingState    = "typing"
	frameSendFailed     = "send_failed"
	frameDegraded       = "degraded"
	frameError          = "error"
)

// clientFrame is a frame read from the browser.
type clientFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// SnapshotPayload is the first frame sent on every connection.
type SnapshotPayload struct {
	ConversationID string            `json:"conversation_id"`
	Role           string            `json:"role"`
	Messages       []MessageResponse `json:"messages"`
	OtherOnline    bool              `json:"other_online"`
	OtherTyping    bool              `json:"other_typing"`
	Degraded       bool              `json:"degraded"`
}

// ServerFrame is a frame written to the browser. Which fields are set
// depends on Type.
type ServerFrame struct {
	Type     string           `json:"type"`
	Snapshot *SnapshotPayload `json:"snapshot,omitempty"`
	Message  *MessageResponse `json:"message,omitempty"`
	Online   *bool            `json:"online,omitempty"`
	Active   *bool            `json:"active,omitempty"`
	Text     string           `json:"text,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleSessionWS handles GET /ws/conversations/{id}.
//
// Protocol (JSON frames):
//
//	-> {type: "send", text: string}
//	-> {type: "typing"}
//	-> {type: "mark_read"}
//	<- {type: "snapshot", snapshot: {...}}
//	<- {type: "message" | "message_updated", message: {...}}
//	<- {type: "presence", online: bool}
//	<- {type: "typing", active: bool}
//	<- {type: "send_failed", text: string, error: string}
//	<- {type: "degraded"}
func (g *Gateway) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	p := auth.MustFromContext(r.Context())
	convID := r.PathValue("id")

	// Open before upgrading so access errors are plain HTTP responses.
	sess, release, err := g.sessions.Acquire(r.Context(), p, convID)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	defer release()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	c := &wsConn{conn: conn}

	// Watch before taking the snapshot so nothing falls between them;
	// clients dedup messages by id.
	updates, stopWatch := sess.Watch()
	defer stopWatch()

	if err := c.writeJSON(ServerFrame{Type: frameSnapshot, Snapshot: g.snapshot(sess.View())}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		g.readFrames(ctx, c, sess)
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := c.writeJSON(g.updateFrame(u)); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		case <-readDone:
			return
		case <-g.closing:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}

// readFrames handles client frames until the connection fails.
func (g *Gateway) readFrames(ctx context.Context, c *wsConn, sess *session.Session) {
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = c.writeJSON(ServerFrame{Type: frameError, Error: "invalid frame"})
			continue
		}

		switch frame.Type {
		case frameSend:
			if _, err := sess.SendMessage(ctx, frame.Text); err != nil {
				_ = c.writeJSON(sendFailedFrame(frame.Text, err))
			}
		case frameTyping:
			sess.NotifyTyping()
		case frameMarkRead:
			sess.MarkAllRead()
		default:
			_ = c.writeJSON(ServerFrame{Type: frameError, Error: "unknown frame type"})
		}
	}
}

func sendFailedFrame(text string, err error) ServerFrame {
	frame := ServerFrame{Type: frameSendFailed, Text: text, Error: "message could not be sent"}
	var se *session.SendError
	if errors.As(err, &se) {
		frame.Text = se.Text
		if errors.Is(se.Err, session.ErrClosed) {
			frame.Error = "session closed"
		} else if errors.Is(se.Err, conversation.ErrValidation) {
			frame.Error = se.Err.Error()
		}
	}
	return frame
}

func (g *Gateway) snapshot(v session.View) *SnapshotPayload {
	msgs := g.renderer.messages(v.Messages)
	for _, p := range v.Pending {
		msgs = append(msgs, g.renderer.pending(v.ConversationID, v.Role, p))
	}
	return &SnapshotPayload{
		ConversationID: v.ConversationID,
		Role:           string(v.Role),
		Messages:       msgs,
		OtherOnline:    v.OtherOnline,
		OtherTyping:    v.OtherTyping,
		Degraded:       v.Degraded,
	}
}

func (g *Gateway) updateFrame(u session.Update) ServerFrame {
	switch u.Kind {
	case session.UpdateMessage:
		m := g.renderer.message(u.Message)
		return ServerFrame{Type: frameMessage, Message: &m}
	case session.UpdateMessageUpdated:
		m := g.renderer.message(u.Message)
		return ServerFrame{Type: frameMessageUpdated, Message: &m}
	case session.UpdatePresence:
		online := u.Online
		return ServerFrame{Type: framePresence, Online: &online}
	case session.UpdateTyping:
		active := u.Typing
		return ServerFrame{Type: frameTypingState, Active: &active}
	default:
		return ServerFrame{Type: frameDegraded}
	}
}
