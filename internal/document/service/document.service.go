package service

import (
	"encoding/json"
	"time"

	"collabdoc/internal/access"
	"collabdoc/internal/document/model"
	"collabdoc/internal/document/repository"
	"collabdoc/pkg/apperr"
	"collabdoc/pkg/logger"
	"collabdoc/socket"

	"github.com/google/uuid"
)

// CollabService routes edits, cursor events and version operations between
// the repository and the room hub. Authorization is evaluated against a
// fresh load of the document on every call; nothing is cached.
type CollabService struct {
	Repo *repository.DocumentRepository
	Hub  *socket.Hub

	// BroadcastOnRestore pushes a document-updated event to the room when a
	// version is restored. Off by default: upstream, room peers only see a
	// restore on their next round-trip.
	BroadcastOnRestore bool
}

func NewCollabService(repo *repository.DocumentRepository, hub *socket.Hub) *CollabService {
	return &CollabService{Repo: repo, Hub: hub}
}

// SubmitEdit replaces the document's content in full and fans the new
// content out to the sender's room peers. Last writer wins: concurrent
// edits are not merged or detected, the later persist overwrites.
func (s *CollabService) SubmitEdit(docID string, sender *socket.Client, content json.RawMessage) error {
	doc, err := s.Repo.GetDocument(docID)
	if err != nil {
		return err
	}
	if !access.Allowed(doc, sender.UserID, access.Write) {
		logger.Sugar.Warnf("Edit denied: user %s has no write access to doc %s", sender.UserID, docID)
		return apperr.New(apperr.KindForbidden, "write access denied")
	}

	if err := s.Repo.ReplaceContent(docID, content); err != nil {
		return err
	}

	s.Hub.BroadcastToRoom(docID, sender, socket.NewMessage(socket.DocumentUpdatedType, docID, sender.UserID,
		socket.DocumentUpdatedPayload{
			Content:   content,
			UpdatedBy: sender.UserID,
			Timestamp: time.Now().UTC(),
		}))
	return nil
}

// ShareCursor relays a cursor position to the sender's room peers. Nothing
// is persisted and delivery is best-effort; receivers keep only the latest
// position per user.
func (s *CollabService) ShareCursor(docID string, sender *socket.Client, userName string, position int) {
	s.Hub.BroadcastToRoom(docID, sender, socket.NewMessage(socket.UserCursorType, docID, sender.UserID,
		socket.UserCursorPayload{
			UserID:   sender.UserID,
			UserName: userName,
			Position: position,
		}))
}

// SaveVersion appends a snapshot of the current content to the document's
// history and notifies every room member, the requester included, so all
// open history panels agree on the new count.
func (s *CollabService) SaveVersion(docID, userID string) (*model.Version, int, error) {
	doc, err := s.Repo.GetDocument(docID)
	if err != nil {
		return nil, 0, err
	}
	if !access.Allowed(doc, userID, access.Write) {
		return nil, 0, apperr.New(apperr.KindForbidden, "write access denied")
	}

	v := model.Version{
		ID:      uuid.NewString(),
		Content: append(json.RawMessage(nil), doc.Content...),
		SavedBy: userID,
		SavedAt: time.Now().UTC(),
	}
	if err := s.Repo.AppendVersion(docID, v); err != nil {
		return nil, 0, err
	}
	total := len(doc.Versions) + 1

	s.Hub.BroadcastToAll(docID, socket.NewMessage(socket.VersionSavedType, docID, userID,
		socket.VersionSavedPayload{Version: v, TotalVersions: total}))

	logger.Sugar.Infof("Version saved for doc %s by %s (total: %d)", docID, userID, total)
	return &v, total, nil
}

// RestoreVersion copies a stored snapshot back as the current content. The
// history is left untouched; snapshotting the restored state takes another
// explicit save.
func (s *CollabService) RestoreVersion(docID, userID, versionID string) (*model.Document, error) {
	doc, err := s.Repo.GetDocument(docID)
	if err != nil {
		return nil, err
	}
	if !access.Allowed(doc, userID, access.Write) {
		return nil, apperr.New(apperr.KindForbidden, "write access denied")
	}
	if doc.FindVersion(versionID) == nil {
		return nil, apperr.New(apperr.KindNotFound, "version not found")
	}

	updated, err := s.Repo.SetCurrentContentFromVersion(docID, versionID)
	if err != nil {
		return nil, err
	}

	if s.BroadcastOnRestore {
		s.Hub.BroadcastToAll(docID, socket.NewMessage(socket.DocumentUpdatedType, docID, userID,
			socket.DocumentUpdatedPayload{
				Content:   updated.Content,
				UpdatedBy: userID,
				Timestamp: time.Now().UTC(),
			}))
	}

	logger.Sugar.Infof("Doc %s restored to version %s by %s", docID, versionID, userID)
	return updated, nil
}

// CreateDocument creates a document with empty content and its automatic
// first version attributed to the owner.
func (s *CollabService) CreateDocument(ownerID, title string) (*model.Document, error) {
	if title == "" {
		title = "Untitled Document"
	}
	return s.Repo.Create(ownerID, title)
}

func (s *CollabService) ListDocuments(userID string) ([]model.DocumentSummary, error) {
	return s.Repo.ListByUser(userID)
}

func (s *CollabService) GetDocument(docID, userID string) (*model.Document, error) {
	doc, err := s.Repo.GetDocument(docID)
	if err != nil {
		return nil, err
	}
	if !access.Allowed(doc, userID, access.Read) {
		return nil, apperr.New(apperr.KindForbidden, "read access denied")
	}
	return doc, nil
}

// UpdateDocument changes the title and/or content over the REST surface.
// This path does not broadcast; live rooms are updated via SubmitEdit.
func (s *CollabService) UpdateDocument(docID, userID, title string, content json.RawMessage) (*model.Document, error) {
	doc, err := s.Repo.GetDocument(docID)
	if err != nil {
		return nil, err
	}
	if !access.Allowed(doc, userID, access.Write) {
		return nil, apperr.New(apperr.KindForbidden, "write access denied")
	}
	if title == "" && len(content) == 0 {
		return nil, apperr.New(apperr.KindInvalid, "nothing to update")
	}

	if title != "" {
		if err := s.Repo.UpdateTitle(docID, title); err != nil {
			return nil, err
		}
	}
	if len(content) > 0 {
		if err := s.Repo.ReplaceContent(docID, content); err != nil {
			return nil, err
		}
	}
	return s.Repo.GetDocument(docID)
}

// DeleteDocument removes the document and force-closes its live room.
func (s *CollabService) DeleteDocument(docID, userID string) error {
	doc, err := s.Repo.GetDocument(docID)
	if err != nil {
		return err
	}
	if !access.Allowed(doc, userID, access.Delete) {
		return apperr.New(apperr.KindForbidden, "only the owner can delete")
	}
	if err := s.Repo.Delete(docID); err != nil {
		return err
	}
	s.Hub.RemoveDocument(docID)
	return nil
}

// InviteCollaborator grants another user write access, resolved by email.
// Owner-only. The owner never appears in the collaborator list; their
// access is implicit and unrevocable.
func (s *CollabService) InviteCollaborator(docID, requesterID, email string) error {
	doc, err := s.Repo.GetDocument(docID)
	if err != nil {
		return err
	}
	if !access.Allowed(doc, requesterID, access.ManageCollaborators) {
		return apperr.New(apperr.KindForbidden, "only the owner can invite collaborators")
	}

	userID, _, err := s.Repo.GetUserByEmail(email)
	if err != nil {
		return err
	}
	if userID == doc.OwnerID {
		return apperr.New(apperr.KindInvalid, "owner already has full access")
	}
	if doc.HasCollaborator(userID) {
		return apperr.New(apperr.KindInvalid, "user is already a collaborator")
	}
	return s.Repo.AddCollaborator(docID, userID)
}
