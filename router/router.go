package router

import (
	"database/sql"
	"net/http"

	docHandler "collabdoc/internal/document"
	"collabdoc/internal/document/repository"
	"collabdoc/internal/document/service"
	"collabdoc/middleware"
	"collabdoc/socket"
)

// Setup wires the repository, hub and service and returns the HTTP handler.
func Setup(db *sql.DB) http.Handler {
	docRepo := repository.NewDocumentRepository(db)
	hub := socket.NewHub(docRepo)
	docService := service.NewCollabService(docRepo, hub)
	handler := docHandler.NewDocumentHandler(docService)

	mux := http.NewServeMux()

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(middleware.UserIDKey).(string)
		userName, _ := r.Context().Value(middleware.UserNameKey).(string)
		socket.ServeWs(hub, docService, w, r, userID, userName)
	})
	mux.Handle("/ws", middleware.AuthMiddleware(wsHandler))

	// REST API
	auth := middleware.AuthMiddleware

	mux.Handle("/api/documents/create", auth(http.HandlerFunc(handler.CreateDocument)))
	mux.Handle("/api/documents", auth(http.HandlerFunc(handler.GetDocuments)))
	mux.Handle("/api/documents/get", auth(http.HandlerFunc(handler.GetDocument)))
	mux.Handle("/api/documents/update", auth(http.HandlerFunc(handler.UpdateDocument)))
	mux.Handle("/api/documents/delete", auth(http.HandlerFunc(handler.DeleteDocument)))
	mux.Handle("/api/documents/save-version", auth(http.HandlerFunc(handler.SaveVersion)))
	mux.Handle("/api/documents/restore-version", auth(http.HandlerFunc(handler.RestoreVersion)))
	mux.Handle("/api/documents/invite", auth(http.HandlerFunc(handler.AddCollaborator)))

	return middleware.CORSMiddleware(mux)
}
