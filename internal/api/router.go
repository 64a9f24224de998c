package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/resultbox/internal/fileservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *fileservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/dropbox", func(r chi.Router) {
		r.Get("/", h.ListDropbox)
		r.Post("/", h.Upload)
		r.Get("/{id}", h.GetDropboxFile)
		r.Delete("/{id}", h.DeleteDropboxFile)
		r.Get("/{id}/rows", h.DropboxRows)
	})

	r.Get("/processes", h.ListJobs)
	r.Route("/processes/{job}/files", func(r chi.Router) {
		r.Get("/", h.ListJobFiles)
		r.Get("/{id}", h.GetJobFile)
		r.Get("/{id}/rows", h.JobFileRows)
	})

	r.Get("/filetypes", h.FileTypes)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
