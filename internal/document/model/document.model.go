package model

import (
	"encoding/json"
	"time"
)

// EmptyContent is the default payload for a document with nothing in it.
// Content is opaque to this service; it is stored and relayed as-is.
var EmptyContent = json.RawMessage(`{}`)

// Version is an immutable snapshot of a document's content. Once appended
// to a document's history it is never changed or removed.
type Version struct {
	ID      string          `json:"id"`
	Content json.RawMessage `json:"content"`
	SavedBy string          `json:"saved_by"`
	SavedAt time.Time       `json:"saved_at"`
}

type Document struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Content       json.RawMessage `json:"content"`
	OwnerID       string          `json:"owner_id"`
	Collaborators []string        `json:"collaborators"`
	IsPublic      bool            `json:"is_public"`
	Versions      []Version       `json:"versions"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (d *Document) HasCollaborator(userID string) bool {
	for _, id := range d.Collaborators {
		if id == userID {
			return true
		}
	}
	return false
}

// FindVersion returns the version with the given id, or nil.
func (d *Document) FindVersion(versionID string) *Version {
	for i := range d.Versions {
		if d.Versions[i].ID == versionID {
			return &d.Versions[i]
		}
	}
	return nil
}

// DocumentSummary is the listing shape: metadata without content or the
// full version history.
type DocumentSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	OwnerID      string    `json:"owner_id"`
	IsOwner      bool      `json:"is_owner"`
	IsPublic     bool      `json:"is_public"`
	VersionCount int       `json:"version_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreateDocRequest struct {
	Title string `json:"title"`
}

type UpdateDocRequest struct {
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
}

type InviteRequest struct {
	DocID string `json:"document_id"`
	Email string `json:"email"`
}

type SaveVersionRequest struct {
	DocID string `json:"document_id"`
}

type RestoreVersionRequest struct {
	DocID     string `json:"document_id"`
	VersionID string `json:"version_id"`
}

type SaveVersionResponse struct {
	Version       Version `json:"version"`
	TotalVersions int     `json:"total_versions"`
}
