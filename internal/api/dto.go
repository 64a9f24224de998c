package api

import (
	"github.com/starford/resultbox/internal/classify"
	"github.com/starford/resultbox/internal/fileservice"
	"github.com/starford/resultbox/internal/models"
)

// FileEntry is a record with its id (aliased from the domain layer).
type FileEntry = models.FileEntry

// JobSummary is a job in the process listing (aliased from the domain layer).
type JobSummary = fileservice.JobSummary

// JobListResponse wraps the job listing.
type JobListResponse struct {
	Processes []JobSummary `json:"processes" validate:"required"`
}

// FileTypesResponse wraps the classifier table.
type FileTypesResponse struct {
	FileTypes []classify.Entry `json:"filetypes" validate:"required"`
}

// UploadResponse is returned after a successful dropbox upload. The record
// appears once the watcher has seen the file.
type UploadResponse struct {
	Filename string `json:"filename" example:"sample.vcf" validate:"required"`
	Path     string `json:"path" example:"/data/dropbox/sample.vcf" validate:"required"`
	Size     int64  `json:"size" example:"12345" validate:"required"`
}
