package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"collabdoc/internal/document/model"
	"collabdoc/pkg/apperr"
	"collabdoc/pkg/logger"

	"github.com/google/uuid"
)

// DocumentRepository is the durable store for documents, collaborator lists
// and version history. All content writes are single-statement replaces;
// there is no optimistic-concurrency token, so the last writer wins.
type DocumentRepository struct {
	DB *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{DB: db}
}

// Create inserts a new document together with its first version, which
// snapshots the initial content and is attributed to the owner.
func (r *DocumentRepository) Create(ownerID, title string) (*model.Document, error) {
	now := time.Now().UTC()
	doc := &model.Document{
		ID:            uuid.NewString(),
		Title:         title,
		Content:       model.EmptyContent,
		OwnerID:       ownerID,
		Collaborators: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	first := model.Version{
		ID:      uuid.NewString(),
		Content: doc.Content,
		SavedBy: ownerID,
		SavedAt: now,
	}

	tx, err := r.DB.Begin()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to create document", err)
	}
	if _, err := tx.Exec(`INSERT INTO documents (id, title, content, owner_id, is_public, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		doc.ID, doc.Title, []byte(doc.Content), doc.OwnerID, doc.IsPublic, now); err != nil {
		tx.Rollback()
		logger.Sugar.Errorf("Failed to create document: %v", err)
		return nil, apperr.Wrap(apperr.KindTransient, "failed to create document", err)
	}
	if _, err := tx.Exec(`INSERT INTO versions (id, document_id, content, saved_by, saved_at) VALUES ($1, $2, $3, $4, $5)`,
		first.ID, doc.ID, []byte(first.Content), first.SavedBy, first.SavedAt); err != nil {
		tx.Rollback()
		logger.Sugar.Errorf("Failed to create initial version for doc %s: %v", doc.ID, err)
		return nil, apperr.Wrap(apperr.KindTransient, "failed to create document", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to create document", err)
	}

	doc.Versions = []model.Version{first}
	return doc, nil
}

// GetDocument loads a document with its collaborator list and full version
// history, oldest version first.
func (r *DocumentRepository) GetDocument(docID string) (*model.Document, error) {
	doc := &model.Document{ID: docID}
	var content []byte
	err := r.DB.QueryRow(`SELECT title, content, owner_id, is_public, created_at, updated_at FROM documents WHERE id = $1`, docID).
		Scan(&doc.Title, &content, &doc.OwnerID, &doc.IsPublic, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.KindNotFound, "document not found")
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to load document %s: %v", docID, err)
		return nil, apperr.Wrap(apperr.KindTransient, "failed to load document", err)
	}
	doc.Content = json.RawMessage(content)
	if len(doc.Content) == 0 {
		doc.Content = model.EmptyContent
	}

	doc.Collaborators = []string{}
	rows, err := r.DB.Query(`SELECT user_id FROM collaborators WHERE document_id = $1`, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to load collaborators for doc %s: %v", docID, err)
		return nil, apperr.Wrap(apperr.KindTransient, "failed to load document", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "failed to load document", err)
		}
		doc.Collaborators = append(doc.Collaborators, userID)
	}

	vrows, err := r.DB.Query(`SELECT id, content, saved_by, saved_at FROM versions WHERE document_id = $1 ORDER BY seq ASC`, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to load versions for doc %s: %v", docID, err)
		return nil, apperr.Wrap(apperr.KindTransient, "failed to load document", err)
	}
	defer vrows.Close()
	for vrows.Next() {
		var v model.Version
		var vcontent []byte
		if err := vrows.Scan(&v.ID, &vcontent, &v.SavedBy, &v.SavedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "failed to load document", err)
		}
		v.Content = json.RawMessage(vcontent)
		doc.Versions = append(doc.Versions, v)
	}

	return doc, nil
}

// ReplaceContent overwrites the document's current content in full.
func (r *DocumentRepository) ReplaceContent(docID string, content json.RawMessage) error {
	res, err := r.DB.Exec(`UPDATE documents SET content = $1, updated_at = NOW() WHERE id = $2`, []byte(content), docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to update content for doc %s: %v", docID, err)
		return apperr.Wrap(apperr.KindTransient, "failed to update content", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "document not found")
	}
	return nil
}

// AppendVersion adds a snapshot to the end of the document's history.
// Versions are never updated or deleted.
func (r *DocumentRepository) AppendVersion(docID string, v model.Version) error {
	_, err := r.DB.Exec(`INSERT INTO versions (id, document_id, content, saved_by, saved_at) VALUES ($1, $2, $3, $4, $5)`,
		v.ID, docID, []byte(v.Content), v.SavedBy, v.SavedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to append version to doc %s: %v", docID, err)
		return apperr.Wrap(apperr.KindTransient, "failed to save version", err)
	}
	return nil
}

// SetCurrentContentFromVersion copies a stored snapshot back into the
// document's current content. The version row itself is untouched and no
// new version is appended. Returns the updated document.
func (r *DocumentRepository) SetCurrentContentFromVersion(docID, versionID string) (*model.Document, error) {
	res, err := r.DB.Exec(`UPDATE documents SET content = v.content, updated_at = NOW() FROM versions v WHERE documents.id = $1 AND v.id = $2 AND v.document_id = $1`,
		docID, versionID)
	if err != nil {
		logger.Sugar.Errorf("Failed to restore version %s for doc %s: %v", versionID, docID, err)
		return nil, apperr.Wrap(apperr.KindTransient, "failed to restore version", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.New(apperr.KindNotFound, "version not found")
	}
	return r.GetDocument(docID)
}

func (r *DocumentRepository) UpdateTitle(docID, title string) error {
	res, err := r.DB.Exec(`UPDATE documents SET title = $1, updated_at = NOW() WHERE id = $2`, title, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to update title for doc %s: %v", docID, err)
		return apperr.Wrap(apperr.KindTransient, "failed to update title", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "document not found")
	}
	return nil
}

func (r *DocumentRepository) Delete(docID string) error {
	res, err := r.DB.Exec(`DELETE FROM documents WHERE id = $1`, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete doc %s: %v", docID, err)
		return apperr.Wrap(apperr.KindTransient, "failed to delete document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "document not found")
	}
	return nil
}

func (r *DocumentRepository) AddCollaborator(docID, userID string) error {
	_, err := r.DB.Exec(`INSERT INTO collaborators (document_id, user_id) VALUES ($1, $2) ON CONFLICT (document_id, user_id) DO NOTHING`,
		docID, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to add collaborator %s to doc %s: %v", userID, docID, err)
		return apperr.Wrap(apperr.KindTransient, "failed to add collaborator", err)
	}
	return nil
}

// ListByUser returns summaries of every document the user owns or
// collaborates on, most recently updated first.
func (r *DocumentRepository) ListByUser(userID string) ([]model.DocumentSummary, error) {
	rows, err := r.DB.Query(`SELECT d.id, d.title, d.owner_id, d.is_public, d.updated_at, (SELECT COUNT(*) FROM versions v WHERE v.document_id = d.id) FROM documents d WHERE d.owner_id = $1 OR EXISTS (SELECT 1 FROM collaborators c WHERE c.document_id = d.id AND c.user_id = $1) ORDER BY d.updated_at DESC`, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list documents for user %s: %v", userID, err)
		return nil, apperr.Wrap(apperr.KindTransient, "failed to list documents", err)
	}
	defer rows.Close()

	docs := []model.DocumentSummary{}
	for rows.Next() {
		var d model.DocumentSummary
		if err := rows.Scan(&d.ID, &d.Title, &d.OwnerID, &d.IsPublic, &d.UpdatedAt, &d.VersionCount); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, "failed to list documents", err)
		}
		d.IsOwner = d.OwnerID == userID
		docs = append(docs, d)
	}
	return docs, nil
}

// GetUserByEmail resolves a user id and display name for collaborator
// invites. The users table is read-only to this service.
func (r *DocumentRepository) GetUserByEmail(email string) (string, string, error) {
	var id, name string
	err := r.DB.QueryRow(`SELECT id, name FROM users WHERE email = $1`, email).Scan(&id, &name)
	if err == sql.ErrNoRows {
		return "", "", apperr.New(apperr.KindNotFound, "user not found")
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get user by email %s: %v", email, err)
		return "", "", apperr.Wrap(apperr.KindTransient, "failed to look up user", err)
	}
	return id, name, nil
}
