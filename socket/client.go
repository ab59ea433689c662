package socket

import (
	"encoding/json"
	"net/http"
	"time"

	"collabdoc/pkg/apperr"
	"collabdoc/pkg/logger"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CheckOrigin allows connections from the frontend dev server.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one live connection bound to one authenticated user. A user may
// hold several clients at once (multiple tabs); each is independent.
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	UserID   string
	UserName string

	handler EventHandler
	docID   string // room currently joined; owned by the read loop
}

// ServeWs upgrades the connection and starts the read/write pumps. The user
// identity comes from the auth middleware, never from the client.
func ServeWs(hub *Hub, handler EventHandler, w http.ResponseWriter, r *http.Request, userID, userName string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		Hub:      hub,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		UserID:   userID,
		UserName: userName,
		handler:  handler,
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		// Disconnect tears down only this session: leave the joined room,
		// if any, and drop the connection.
		if c.docID != "" {
			c.Hub.Leave(c.docID, c)
		}
		c.Conn.Close()
	}()

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(apperr.New(apperr.KindInvalid, "malformed message"))
			continue
		}

		// Server-authoritative identity: never trust the user id on the wire.
		msg.UserID = c.UserID
		c.dispatch(msg)
	}
}

// dispatch routes one inbound event. Failures are reported to this client
// only; they never close the connection or touch other room members.
func (c *Client) dispatch(msg WSMessage) {
	switch msg.Type {
	case JoinDocumentType:
		if msg.DocID == "" {
			c.sendError(apperr.New(apperr.KindInvalid, "document_id is required"))
			return
		}
		if c.docID != "" && c.docID != msg.DocID {
			// One room at a time: switching documents leaves the old room.
			c.Hub.Leave(c.docID, c)
			c.docID = ""
		}
		if err := c.Hub.Join(msg.DocID, c); err != nil {
			c.sendError(err)
			return
		}
		c.docID = msg.DocID

	case LeaveDocumentType:
		if c.docID != "" {
			c.Hub.Leave(c.docID, c)
			c.docID = ""
		}

	case EditDocumentType:
		if c.docID == "" {
			c.sendError(apperr.New(apperr.KindInvalid, "join a document first"))
			return
		}
		var p EditPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || len(p.Content) == 0 {
			c.sendError(apperr.New(apperr.KindInvalid, "content is required"))
			return
		}
		if err := c.handler.SubmitEdit(c.docID, c, p.Content); err != nil {
			c.sendError(err)
		}

	case SaveVersionType:
		if c.docID == "" {
			c.sendError(apperr.New(apperr.KindInvalid, "join a document first"))
			return
		}
		if _, _, err := c.handler.SaveVersion(c.docID, c.UserID); err != nil {
			c.sendError(err)
		}

	case CursorPositionType:
		// Cursor events are advisory; anything off is dropped silently.
		if c.docID == "" {
			return
		}
		var p CursorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		name := c.UserName
		if name == "" {
			name = p.UserName
		}
		c.handler.ShareCursor(c.docID, c, name, p.Position)

	default:
		c.sendError(apperr.New(apperr.KindInvalid, "unknown event type: "+msg.Type))
	}
}

// sendError reports a failure to this client alone as an error event.
func (c *Client) sendError(err error) {
	msg := NewMessage(ErrorType, c.docID, "", ErrorPayload{
		Kind:    string(apperr.KindOf(err)),
		Message: err.Error(),
	})
	data, merr := json.Marshal(msg)
	if merr != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second) // ping to detect dead peers
	defer ticker.Stop()

	for {
		select {
		case message := <-c.Send:
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
