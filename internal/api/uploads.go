package api

import (
	"net/http"
)

const maxUploadBytes = 512 << 20 // 512 MB

// Upload handles POST /api/dropbox (multipart/form-data, field "file").
//
//	@Summary		Upload a file into the dropbox
//	@Tags			dropbox
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"File to upload"
//	@Success		201		{object}	UploadResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/dropbox [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	// Parts beyond 32 MB spill to temporary files.
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	path, written, err := h.svc.Upload(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, "upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, UploadResponse{
		Filename: header.Filename,
		Path:     path,
		Size:     written,
	})
}
