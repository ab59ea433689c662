package service

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"collabdoc/internal/document/model"
	"collabdoc/internal/document/repository"
	"collabdoc/pkg/apperr"
	"collabdoc/pkg/logger"
	"collabdoc/socket"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Init()
}

var fixedTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*CollabService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := repository.NewDocumentRepository(db)
	hub := socket.NewHub(repo)
	return NewCollabService(repo, hub), mock
}

func newTestClient(userID string) *socket.Client {
	return &socket.Client{Send: make(chan []byte, 16), UserID: userID}
}

func testDoc() *model.Document {
	return &model.Document{
		ID:            "doc-1",
		Title:         "Spec",
		Content:       json.RawMessage(`{"ops":[]}`),
		OwnerID:       "alice",
		Collaborators: []string{"bob"},
		Versions: []model.Version{
			{ID: "v-1", Content: json.RawMessage(`{"ops":[]}`), SavedBy: "alice", SavedAt: fixedTime},
		},
		CreatedAt: fixedTime,
		UpdatedAt: fixedTime,
	}
}

func expectGetDocument(mock sqlmock.Sqlmock, doc *model.Document) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT title, content, owner_id, is_public, created_at, updated_at FROM documents WHERE id = $1")).
		WithArgs(doc.ID).
		WillReturnRows(sqlmock.NewRows([]string{"title", "content", "owner_id", "is_public", "created_at", "updated_at"}).
			AddRow(doc.Title, []byte(doc.Content), doc.OwnerID, doc.IsPublic, doc.CreatedAt, doc.UpdatedAt))

	collabRows := sqlmock.NewRows([]string{"user_id"})
	for _, u := range doc.Collaborators {
		collabRows.AddRow(u)
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM collaborators WHERE document_id = $1")).
		WithArgs(doc.ID).
		WillReturnRows(collabRows)

	versionRows := sqlmock.NewRows([]string{"id", "content", "saved_by", "saved_at"})
	for _, v := range doc.Versions {
		versionRows.AddRow(v.ID, []byte(v.Content), v.SavedBy, v.SavedAt)
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, content, saved_by, saved_at FROM versions WHERE document_id = $1 ORDER BY seq ASC")).
		WithArgs(doc.ID).
		WillReturnRows(versionRows)
}

func readEvent(t *testing.T, c *socket.Client) socket.WSMessage {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg socket.WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return socket.WSMessage{}
	}
}

func assertNoEvent(t *testing.T, c *socket.Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected event: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubmitEditForbidden(t *testing.T) {
	svc, mock := newTestService(t)

	doc := testDoc() // carol is neither owner nor collaborator
	expectGetDocument(mock, doc)

	err := svc.SubmitEdit("doc-1", newTestClient("carol"), json.RawMessage(`{"ops":[{"insert":"x"}]}`))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	// No write reached the repository: the edit was dropped, not queued.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitEditBroadcastExcludesSender(t *testing.T) {
	svc, mock := newTestService(t)
	doc := testDoc()

	alice := newTestClient("alice")
	bob := newTestClient("bob")

	expectGetDocument(mock, doc)
	require.NoError(t, svc.Hub.Join("doc-1", alice))
	expectGetDocument(mock, doc)
	require.NoError(t, svc.Hub.Join("doc-1", bob))

	// Drain the document-loaded deliveries from joining.
	readEvent(t, alice)
	readEvent(t, bob)

	newContent := json.RawMessage(`{"ops":[{"insert":"hello"}]}`)
	expectGetDocument(mock, doc)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET content = $1, updated_at = NOW() WHERE id = $2")).
		WithArgs([]byte(newContent), "doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.SubmitEdit("doc-1", bob, newContent))

	msg := readEvent(t, alice)
	assert.Equal(t, socket.DocumentUpdatedType, msg.Type)
	assert.Equal(t, "bob", msg.UserID)
	var p socket.DocumentUpdatedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.JSONEq(t, string(newContent), string(p.Content))
	assert.Equal(t, "bob", p.UpdatedBy)

	assertNoEvent(t, bob)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitEditLastWriterWins(t *testing.T) {
	svc, mock := newTestService(t)
	doc := testDoc()
	tab1 := newTestClient("bob")
	tab2 := newTestClient("bob")

	foo := json.RawMessage(`{"ops":[{"insert":"foo"}]}`)
	bar := json.RawMessage(`{"ops":[{"insert":"bar"}]}`)

	expectGetDocument(mock, doc)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET content = $1, updated_at = NOW() WHERE id = $2")).
		WithArgs([]byte(foo), "doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectGetDocument(mock, doc)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET content = $1, updated_at = NOW() WHERE id = $2")).
		WithArgs([]byte(bar), "doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Two sessions of the same user in quick succession: both replaces
	// succeed, no merge, no error; whichever ran last owns the content.
	require.NoError(t, svc.SubmitEdit("doc-1", tab1, foo))
	require.NoError(t, svc.SubmitEdit("doc-1", tab2, bar))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveVersionBroadcastIncludesSender(t *testing.T) {
	svc, mock := newTestService(t)
	doc := testDoc()

	alice := newTestClient("alice")
	bob := newTestClient("bob")

	expectGetDocument(mock, doc)
	require.NoError(t, svc.Hub.Join("doc-1", alice))
	expectGetDocument(mock, doc)
	require.NoError(t, svc.Hub.Join("doc-1", bob))
	readEvent(t, alice)
	readEvent(t, bob)

	expectGetDocument(mock, doc)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO versions")).
		WithArgs(sqlmock.AnyArg(), "doc-1", []byte(doc.Content), "alice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	version, total, err := svc.SaveVersion("doc-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.JSONEq(t, string(doc.Content), string(version.Content))
	assert.Equal(t, "alice", version.SavedBy)

	// version-saved reaches every member, the requester included.
	for _, c := range []*socket.Client{alice, bob} {
		msg := readEvent(t, c)
		assert.Equal(t, socket.VersionSavedType, msg.Type)
		var p socket.VersionSavedPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		assert.Equal(t, 2, p.TotalVersions)
		assert.Equal(t, version.ID, p.Version.ID)
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveVersionForbidden(t *testing.T) {
	svc, mock := newTestService(t)
	doc := testDoc()
	expectGetDocument(mock, doc)

	_, _, err := svc.SaveVersion("doc-1", "carol")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreVersion(t *testing.T) {
	svc, mock := newTestService(t)
	doc := testDoc()

	alice := newTestClient("alice")
	expectGetDocument(mock, doc)
	require.NoError(t, svc.Hub.Join("doc-1", alice))
	readEvent(t, alice)

	restored := testDoc()
	restored.Content = doc.Versions[0].Content

	expectGetDocument(mock, doc)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET content = v.content")).
		WithArgs("doc-1", "v-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectGetDocument(mock, restored)

	got, err := svc.RestoreVersion("doc-1", "alice", "v-1")
	require.NoError(t, err)
	assert.JSONEq(t, string(doc.Versions[0].Content), string(got.Content))
	assert.Len(t, got.Versions, 1)

	// Restores are not broadcast by default; peers find out on their next
	// round-trip.
	assertNoEvent(t, alice)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreVersionBroadcastToggle(t *testing.T) {
	svc, mock := newTestService(t)
	svc.BroadcastOnRestore = true
	doc := testDoc()

	alice := newTestClient("alice")
	expectGetDocument(mock, doc)
	require.NoError(t, svc.Hub.Join("doc-1", alice))
	readEvent(t, alice)

	restored := testDoc()

	expectGetDocument(mock, doc)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET content = v.content")).
		WithArgs("doc-1", "v-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectGetDocument(mock, restored)

	_, err := svc.RestoreVersion("doc-1", "alice", "v-1")
	require.NoError(t, err)

	msg := readEvent(t, alice)
	assert.Equal(t, socket.DocumentUpdatedType, msg.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreVersionNotFound(t *testing.T) {
	svc, mock := newTestService(t)
	doc := testDoc()
	expectGetDocument(mock, doc)

	_, err := svc.RestoreVersion("doc-1", "alice", "no-such-version")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShareCursorExcludesSender(t *testing.T) {
	svc, mock := newTestService(t)
	doc := testDoc()

	alice := newTestClient("alice")
	bob := newTestClient("bob")

	expectGetDocument(mock, doc)
	require.NoError(t, svc.Hub.Join("doc-1", alice))
	expectGetDocument(mock, doc)
	require.NoError(t, svc.Hub.Join("doc-1", bob))
	readEvent(t, alice)
	readEvent(t, bob)

	svc.ShareCursor("doc-1", bob, "Bob", 42)

	msg := readEvent(t, alice)
	assert.Equal(t, socket.UserCursorType, msg.Type)
	var p socket.UserCursorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "bob", p.UserID)
	assert.Equal(t, "Bob", p.UserName)
	assert.Equal(t, 42, p.Position)

	assertNoEvent(t, bob)
}

func TestInviteCollaborator(t *testing.T) {
	svc, mock := newTestService(t)
	doc := testDoc()

	expectGetDocument(mock, doc)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM users WHERE email = $1")).
		WithArgs("carol@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("carol", "Carol"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO collaborators")).
		WithArgs("doc-1", "carol").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, svc.InviteCollaborator("doc-1", "alice", "carol@example.com"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInviteCollaboratorOwnerOnly(t *testing.T) {
	svc, mock := newTestService(t)
	doc := testDoc()
	expectGetDocument(mock, doc)

	err := svc.InviteCollaborator("doc-1", "bob", "carol@example.com")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInviteCollaboratorDuplicate(t *testing.T) {
	svc, mock := newTestService(t)
	doc := testDoc()

	expectGetDocument(mock, doc)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM users WHERE email = $1")).
		WithArgs("bob@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("bob", "Bob"))

	err := svc.InviteCollaborator("doc-1", "alice", "bob@example.com")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalid))
	assert.NoError(t, mock.ExpectationsWereMet())
}
