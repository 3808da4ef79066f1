package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"tapit-auth/internal/livefield"
	"tapit-auth/internal/logger"
	"tapit-auth/internal/middleware"
	"tapit-auth/internal/profile"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxMessageSize = 64 << 10
	sendBuffer     = 16
)

// fieldMessage is the frame exchanged on a field socket.
//
//	server -> client  {"type":"value","field":f,"value":v}
//	client -> server  {"type":"edit","value":v}
//	server -> client  {"type":"error","error":msg}
type fieldMessage struct {
	Type  string          `json:"type"`
	Field string          `json:"field,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

type fieldConn struct {
	conn  *websocket.Conn
	send  chan fieldMessage
	field string
}

// FieldSocket binds one profile field of the signed-in user to a
// websocket. The socket receives every value applied to the field and
// sends edits, which are written after the debounce window.
func (h *Handler) FieldSocket(c *gin.Context) {
	if _, ok := readyState(c); !ok {
		return
	}
	cl, _ := middleware.ClientFromContext(c.Request.Context())
	field := c.Param("field")

	helper, err := livefield.New[json.RawMessage](h.profiles, field, livefield.Options{Debounce: h.debounce})
	if err != nil {
		writeProfileError(c, err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered the request.
		logger.Warn("websocket upgrade failed", map[string]any{"error": err})
		return
	}

	fc := &fieldConn{
		conn:  conn,
		send:  make(chan fieldMessage, sendBuffer),
		field: field,
	}
	h.track(fc, true)
	defer h.track(fc, false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		fc.writePump()
	}()

	helper.OnChange(func(v json.RawMessage) {
		fc.enqueue(fieldMessage{Type: "value", Field: field, Value: v})
	})
	helper.OnError(func(err error) {
		fc.enqueue(fieldMessage{Type: "error", Field: field, Error: writeErrorMessage(err)})
	})
	helper.Bind(cl.Machine)

	fc.readPump(helper)

	helper.Close(true)
	close(fc.send)
	<-done
}

func (h *Handler) track(fc *fieldConn, live bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if live {
		h.sockets[fc] = struct{}{}
		if h.closed {
			fc.conn.Close()
		}
		return
	}
	delete(h.sockets, fc)
}

func writeErrorMessage(err error) string {
	if errors.Is(err, profile.ErrUnavailable) {
		return "save failed, retrying"
	}
	return "save rejected"
}

// readPump applies edits until the connection fails or is closed.
func (fc *fieldConn) readPump(helper *livefield.Helper[json.RawMessage]) {
	fc.conn.SetReadLimit(maxMessageSize)
	fc.conn.SetReadDeadline(time.Now().Add(pongWait))
	fc.conn.SetPongHandler(func(string) error {
		fc.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg fieldMessage
		if err := fc.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("field socket read failed", map[string]any{
					"field": fc.field,
					"error": err,
				})
			}
			return
		}

		if msg.Type != "edit" || !json.Valid(msg.Value) {
			fc.enqueue(fieldMessage{Type: "error", Field: fc.field, Error: "expected an edit with a JSON value"})
			continue
		}

		switch err := helper.Edit(msg.Value); {
		case errors.Is(err, livefield.ErrNotReady):
			fc.enqueue(fieldMessage{Type: "error", Field: fc.field, Error: "session not ready"})
		case err != nil:
			return
		}
	}
}

// writePump sends queued messages and keeps the connection alive. It
// closes the connection when send is closed or a write fails.
func (fc *fieldConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		fc.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-fc.send:
			fc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				fc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := fc.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			fc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := fc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue drops the message when the client is not keeping up.
func (fc *fieldConn) enqueue(msg fieldMessage) {
	select {
	case fc.send <- msg:
	default:
		logger.Warn("field socket send buffer full", map[string]any{"field": fc.field})
	}
}
