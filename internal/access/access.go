package access

import "collabdoc/internal/document/model"

// Capability names a permission checked against a document's sharing state.
type Capability int

const (
	Read Capability = iota
	Write
	ManageCollaborators
	Delete
)

// Allowed reports whether userID may exercise the capability on doc.
//
// The owner has every capability unconditionally. Collaborators may read
// and write. A public document is readable by anyone, but public read never
// implies write. Managing collaborators and deleting are owner-only.
func Allowed(doc *model.Document, userID string, capability Capability) bool {
	if userID == doc.OwnerID {
		return true
	}
	switch capability {
	case Read:
		return doc.HasCollaborator(userID) || doc.IsPublic
	case Write:
		return doc.HasCollaborator(userID)
	default:
		return false
	}
}
