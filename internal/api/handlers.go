package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/starford/resultbox/internal/fileservice"
	"github.com/starford/resultbox/internal/manifest"
	"github.com/starford/resultbox/internal/models"
	"github.com/starford/resultbox/internal/query"
)

// Handler holds API route handlers.
type Handler struct {
	svc *fileservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *fileservice.Service) *Handler {
	return &Handler{svc: svc}
}

// listParams reads the filter contract parameters. Missing values mean no
// filter, no sort, page 1 and every row.
type listParams struct {
	filters []string
	sorting []string
	page    int
	count   int
}

func parseListParams(r *http.Request) (listParams, error) {
	q := r.URL.Query()
	p := listParams{
		filters: query.ParseList(q.Get("filter")),
		sorting: query.ParseList(q.Get("sort")),
		page:    1,
		count:   -1,
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, &query.Error{Code: http.StatusBadRequest, Message: "page must be a positive integer", Fields: "page"}
		}
		p.page = n
	}
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < -1 {
			return p, &query.Error{Code: http.StatusBadRequest, Message: "count must be -1 or a non-negative integer", Fields: "count"}
		}
		p.count = n
	}
	return p, nil
}

func (h *Handler) writePage(w http.ResponseWriter, r *http.Request, op string, rows []map[string]any) {
	p, err := parseListParams(r)
	if err != nil {
		writeError(w, op, err)
		return
	}
	page, err := query.FilterData(rows, p.filters, p.sorting, p.page, p.count)
	if err != nil {
		writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// entryRows flattens records so the filter contract can address every field.
func entryRows(entries []models.FileEntry) []map[string]any {
	rows := make([]map[string]any, len(entries))
	for i, e := range entries {
		var vt any
		if e.VisualizationType != models.VisualizationNone {
			vt = string(e.VisualizationType)
		}
		rows[i] = map[string]any{
			"id":                 e.ID,
			"fullname":           e.Fullname,
			"display_name":       e.DisplayName,
			"description":        e.Description,
			"is_visualizable":    e.Visualizable,
			"visualization_type": vt,
		}
	}
	return rows
}

func jobSection(r *http.Request) (string, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "job"))
	if err != nil || n < 0 {
		return "", false
	}
	return manifest.JobKey(n), true
}

// ListDropbox handles GET /api/dropbox.
//
//	@Summary		List dropbox files through the filter contract
//	@Tags			dropbox
//	@Produce		json
//	@Param			filter	query		string	false	"Comma separated filters, e.g. description==Unprocessed input VCF"
//	@Param			sort	query		string	false	"Comma separated sort directives, e.g. +display_name"
//	@Param			page	query		int		false	"1-based page"
//	@Param			count	query		int		false	"Page size, -1 for all"
//	@Success		200		{object}	query.Page
//	@Failure		400		{object}	query.Error
//	@Security		BearerAuth
//	@Router			/dropbox [get]
func (h *Handler) ListDropbox(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListDropbox(r.Context())
	if err != nil {
		writeError(w, "list dropbox", err)
		return
	}
	h.writePage(w, r, "list dropbox", entryRows(entries))
}

// GetDropboxFile handles GET /api/dropbox/{id}.
//
//	@Summary		Get a dropbox record
//	@Tags			dropbox
//	@Produce		json
//	@Param			id	path		string	true	"Record id"
//	@Success		200	{object}	FileEntry
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/dropbox/{id} [get]
func (h *Handler) GetDropboxFile(w http.ResponseWriter, r *http.Request) {
	h.getFile(w, r, manifest.KeyDropbox)
}

// DeleteDropboxFile handles DELETE /api/dropbox/{id}.
//
//	@Summary		Delete a dropbox file from disk
//	@Tags			dropbox
//	@Param			id	path	string	true	"Record id"
//	@Success		204	"File deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/dropbox/{id} [delete]
func (h *Handler) DeleteDropboxFile(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDropbox(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete dropbox file", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DropboxRows handles GET /api/dropbox/{id}/rows.
//
//	@Summary		Rows of a visualizable dropbox file
//	@Tags			dropbox
//	@Produce		json
//	@Param			id		path		string	true	"Record id"
//	@Param			filter	query		string	false	"Comma separated filters"
//	@Param			sort	query		string	false	"Comma separated sort directives"
//	@Param			page	query		int		false	"1-based page"
//	@Param			count	query		int		false	"Page size, -1 for all"
//	@Success		200		{object}	query.Page
//	@Failure		400		{object}	query.Error
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/dropbox/{id}/rows [get]
func (h *Handler) DropboxRows(w http.ResponseWriter, r *http.Request) {
	h.rows(w, r, manifest.KeyDropbox)
}

// ListJobs handles GET /api/processes.
//
//	@Summary		List jobs
//	@Tags			processes
//	@Produce		json
//	@Success		200	{object}	JobListResponse
//	@Security		BearerAuth
//	@Router			/processes [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.Jobs(r.Context())
	if err != nil {
		writeError(w, "list jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processes": jobs})
}

// ListJobFiles handles GET /api/processes/{job}/files.
//
//	@Summary		List the files of a job through the filter contract
//	@Tags			processes
//	@Produce		json
//	@Param			job		path		int		true	"Job number"
//	@Param			filter	query		string	false	"Comma separated filters"
//	@Param			sort	query		string	false	"Comma separated sort directives"
//	@Param			page	query		int		false	"1-based page"
//	@Param			count	query		int		false	"Page size, -1 for all"
//	@Success		200		{object}	query.Page
//	@Failure		400		{object}	query.Error
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/processes/{job}/files [get]
func (h *Handler) ListJobFiles(w http.ResponseWriter, r *http.Request) {
	section, ok := jobSection(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("job must be a non-negative integer"))
		return
	}
	entries, err := h.svc.List(r.Context(), section)
	if err != nil {
		writeError(w, "list job files", err)
		return
	}
	h.writePage(w, r, "list job files", entryRows(entries))
}

// GetJobFile handles GET /api/processes/{job}/files/{id}.
//
//	@Summary		Get a job file record
//	@Tags			processes
//	@Produce		json
//	@Param			job	path		int		true	"Job number"
//	@Param			id	path		string	true	"Record id"
//	@Success		200	{object}	FileEntry
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/processes/{job}/files/{id} [get]
func (h *Handler) GetJobFile(w http.ResponseWriter, r *http.Request) {
	section, ok := jobSection(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("job must be a non-negative integer"))
		return
	}
	h.getFile(w, r, section)
}

// JobFileRows handles GET /api/processes/{job}/files/{id}/rows.
//
//	@Summary		Rows of a visualizable job file
//	@Tags			processes
//	@Produce		json
//	@Param			job		path		int		true	"Job number"
//	@Param			id		path		string	true	"Record id"
//	@Success		200		{object}	query.Page
//	@Failure		400		{object}	query.Error
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/processes/{job}/files/{id}/rows [get]
func (h *Handler) JobFileRows(w http.ResponseWriter, r *http.Request) {
	section, ok := jobSection(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("job must be a non-negative integer"))
		return
	}
	h.rows(w, r, section)
}

// FileTypes handles GET /api/filetypes.
//
//	@Summary		Known file types and their viewers
//	@Tags			files
//	@Produce		json
//	@Success		200	{object}	FileTypesResponse
//	@Router			/filetypes [get]
func (h *Handler) FileTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"filetypes": h.svc.FileTypes()})
}

func (h *Handler) getFile(w http.ResponseWriter, r *http.Request, section string) {
	entry, err := h.svc.Get(r.Context(), section, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get file", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) rows(w http.ResponseWriter, r *http.Request, section string) {
	rows, err := h.svc.Rows(r.Context(), section, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "file rows", err)
		return
	}
	h.writePage(w, r, "file rows", rows)
}
