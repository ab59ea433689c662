package socket

import (
	"encoding/json"
	"time"

	"collabdoc/internal/document/model"
)

// Wire event names. The inbound set is closed: dispatch handles every type
// here and answers anything else with an error event.
const (
	// Client -> server
	JoinDocumentType   = "join-document"
	LeaveDocumentType  = "leave-document"
	EditDocumentType   = "edit-document"
	SaveVersionType    = "save-version"
	CursorPositionType = "cursor-position"

	// Server -> client
	DocumentLoadedType  = "document-loaded"
	DocumentUpdatedType = "document-updated"
	VersionSavedType    = "version-saved"
	UserCursorType      = "user-cursor"
	ErrorType           = "error"
)

type WSMessage struct {
	Type    string          `json:"type"`
	DocID   string          `json:"document_id,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type DocumentLoadedPayload struct {
	Content json.RawMessage `json:"content"`
}

type EditPayload struct {
	Content json.RawMessage `json:"content"`
}

type DocumentUpdatedPayload struct {
	Content   json.RawMessage `json:"content"`
	UpdatedBy string          `json:"updated_by"`
	Timestamp time.Time       `json:"timestamp"`
}

// CursorPayload is the inbound cursor event. Position is a character offset
// into the document content.
type CursorPayload struct {
	Position int    `json:"position"`
	UserName string `json:"user_name,omitempty"`
}

type UserCursorPayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Position int    `json:"position"`
}

type VersionSavedPayload struct {
	Version       model.Version `json:"version"`
	TotalVersions int           `json:"total_versions"`
}

type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewMessage builds a WSMessage with the payload marshalled in place. The
// payload types above always marshal cleanly.
func NewMessage(msgType, docID, userID string, payload any) WSMessage {
	data, _ := json.Marshal(payload)
	return WSMessage{Type: msgType, DocID: docID, UserID: userID, Payload: data}
}
