package socket

import (
	"encoding/json"
	"sync"

	"collabdoc/internal/document/model"
	"collabdoc/pkg/logger"
)

// DocumentLoader is the slice of the repository the hub needs: resolving a
// document on join.
type DocumentLoader interface {
	GetDocument(docID string) (*model.Document, error)
}

// EventHandler processes inbound room events. Implemented by the collab
// service; the hub and clients only see this interface.
type EventHandler interface {
	SubmitEdit(docID string, sender *Client, content json.RawMessage) error
	ShareCursor(docID string, sender *Client, userName string, position int)
	SaveVersion(docID, userID string) (*model.Version, int, error)
}

// room holds the member set for one document. Its mutex serializes
// membership changes against broadcast enumeration for that document only;
// rooms for different documents never contend with each other.
type room struct {
	mu      sync.Mutex
	members map[*Client]bool
}

// Hub is the room registry: it maps document ids to live rooms and fans
// events out to their members. Rooms are in-memory only; one exists exactly
// while at least one client is attached.
type Hub struct {
	loader DocumentLoader

	mu    sync.RWMutex // guards the rooms map, not room contents
	rooms map[string]*room
}

func NewHub(loader DocumentLoader) *Hub {
	return &Hub{
		loader: loader,
		rooms:  make(map[string]*room),
	}
}

// Join attaches the client to the document's room, creating the room on
// first join, and delivers the current content to the joining client alone.
// The document is loaded on every join so a re-join refreshes the client's
// view. If the document does not exist no room is created.
func (h *Hub) Join(docID string, c *Client) error {
	doc, err := h.loader.GetDocument(docID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	rm, ok := h.rooms[docID]
	if !ok {
		rm = &room{members: make(map[*Client]bool)}
		h.rooms[docID] = rm
		logger.Sugar.Infof("Opened room %s", docID)
	}
	rm.mu.Lock()
	rm.members[c] = true
	count := len(rm.members)
	rm.mu.Unlock()
	h.mu.Unlock()

	logger.Sugar.Infof("Client %s joined room %s (members: %d)", c.UserID, docID, count)

	h.deliver(c, NewMessage(DocumentLoadedType, docID, "", DocumentLoadedPayload{Content: doc.Content}))
	return nil
}

// Leave detaches the client from the room. The last member out destroys the
// room; there is no persistence side effect.
func (h *Hub) Leave(docID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[docID]
	if !ok {
		return
	}
	rm.mu.Lock()
	delete(rm.members, c)
	empty := len(rm.members) == 0
	rm.mu.Unlock()
	if empty {
		delete(h.rooms, docID)
		logger.Sugar.Infof("Closed empty room %s", docID)
	}
}

// BroadcastToRoom delivers the event to every room member except the
// sender. A missing room or an otherwise empty one is a no-op.
func (h *Hub) BroadcastToRoom(docID string, sender *Client, msg WSMessage) {
	h.fanOut(h.snapshot(docID, sender), msg)
}

// BroadcastToAll delivers to every member including the sender. Used for
// version-saved events so all tabs observe the new history length.
func (h *Hub) BroadcastToAll(docID string, msg WSMessage) {
	h.fanOut(h.snapshot(docID, nil), msg)
}

// RemoveDocument force-closes a live room, disconnecting its members. Called
// when a document is deleted through the API.
func (h *Hub) RemoveDocument(docID string) {
	h.mu.Lock()
	rm, ok := h.rooms[docID]
	if ok {
		delete(h.rooms, docID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	for c := range rm.members {
		if c.Conn != nil {
			c.Conn.Close()
		}
	}
	rm.members = make(map[*Client]bool)
	rm.mu.Unlock()
	logger.Sugar.Infof("Removed room %s (document deleted)", docID)
}

// snapshot copies the member list under the room lock so sends happen
// outside of it.
func (h *Hub) snapshot(docID string, exclude *Client) []*Client {
	h.mu.RLock()
	rm, ok := h.rooms[docID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	members := make([]*Client, 0, len(rm.members))
	for m := range rm.members {
		if m != exclude {
			members = append(members, m)
		}
	}
	return members
}

func (h *Hub) fanOut(clients []*Client, msg WSMessage) {
	if len(clients) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
		return
	}
	for _, c := range clients {
		h.send(c, data)
	}
}

func (h *Hub) deliver(c *Client, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling message: %v", err)
		return
	}
	h.send(c, data)
}

// send enqueues without blocking. A full buffer means the client stopped
// draining; that client is cut loose so it degrades only itself.
func (h *Hub) send(c *Client, data []byte) {
	select {
	case c.Send <- data:
	default:
		logger.Sugar.Warnf("Client %s's send buffer is full, disconnecting", c.UserID)
		if c.Conn != nil {
			c.Conn.Close()
		}
	}
}
