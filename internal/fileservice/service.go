// Package fileservice answers requests about recorded files: listings, single
// records, tabular rows and dropbox uploads.
package fileservice

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/resultbox/internal/apperr"
	"github.com/starford/resultbox/internal/checksum"
	"github.com/starford/resultbox/internal/classify"
	"github.com/starford/resultbox/internal/manifest"
	"github.com/starford/resultbox/internal/models"
	"github.com/starford/resultbox/internal/storage"
	"github.com/starford/resultbox/internal/tables"
)

// JobSummary is a job in the process listing.
type JobSummary struct {
	ID     int    `json:"id"`
	Output string `json:"output"`
	Files  int    `json:"files"`
}

// Service coordinates the manifest, shadow tables and the dropbox directory.
type Service struct {
	store   *manifest.Store
	db      *tables.DB
	dropbox *storage.FS
	logger  *slog.Logger
	refresh bool
}

// Option configures a Service.
type Option func(*Service)

// WithRefresh re-reads manifest files rewritten by another process before
// every read. Use it when this process does not run the watchers itself.
func WithRefresh() Option {
	return func(s *Service) { s.refresh = true }
}

// NewService creates a new file service.
func NewService(store *manifest.Store, db *tables.DB, dropbox *storage.FS, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store, db: db, dropbox: dropbox, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// view runs fn against the manifest, refreshing it first when configured.
func (s *Service) view(fn func(doc *manifest.Document) error) error {
	if s.refresh {
		if err := s.store.Refresh(); err != nil {
			return fmt.Errorf("fileservice: refresh manifest: %w", err)
		}
	}
	return s.store.View(fn)
}

// ListDropbox returns every dropbox record in id order.
func (s *Service) ListDropbox(ctx context.Context) ([]models.FileEntry, error) {
	return s.List(ctx, manifest.KeyDropbox)
}

// ListJob returns every record of job n in id order.
func (s *Service) ListJob(ctx context.Context, n int) ([]models.FileEntry, error) {
	return s.List(ctx, manifest.JobKey(n))
}

// List returns the records of a section ("dropbox" or "process-<N>").
func (s *Service) List(_ context.Context, section string) ([]models.FileEntry, error) {
	var out []models.FileEntry
	err := s.view(func(doc *manifest.Document) error {
		files, ok := doc.Section(section)
		if !ok {
			return fmt.Errorf("section %s: %w", section, apperr.ErrNotFound)
		}
		out = files.Entries()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.FileEntry{}
	}
	return out, nil
}

// Jobs summarizes every job in order.
func (s *Service) Jobs(_ context.Context) ([]JobSummary, error) {
	out := []JobSummary{}
	err := s.view(func(doc *manifest.Document) error {
		for _, ref := range doc.Jobs() {
			out = append(out, JobSummary{ID: ref.ID, Output: ref.Job.Output, Files: len(ref.Job.Files)})
		}
		return nil
	})
	return out, err
}

// Get returns one record.
func (s *Service) Get(_ context.Context, section, id string) (*models.FileEntry, error) {
	var out *models.FileEntry
	err := s.view(func(doc *manifest.Document) error {
		files, ok := doc.Section(section)
		if !ok {
			return fmt.Errorf("section %s: %w", section, apperr.ErrNotFound)
		}
		rec, ok := files[id]
		if !ok {
			return fmt.Errorf("%s/%s: %w", section, id, apperr.ErrNotFound)
		}
		out = &models.FileEntry{ID: id, FileRecord: rec}
		return nil
	})
	return out, err
}

// Rows returns the rows of a visualizable record. The file is loaded into its
// shadow table on first use and again whenever its content changes.
func (s *Service) Rows(ctx context.Context, section, id string) ([]map[string]any, error) {
	entry, err := s.Get(ctx, section, id)
	if err != nil {
		return nil, err
	}
	if !entry.Visualizable {
		return nil, fmt.Errorf("%s/%s: %w", section, id, apperr.ErrNotVisualizable)
	}
	name, err := TableName(section, id)
	if err != nil {
		return nil, err
	}

	sum, err := checksum.File(entry.Fullname)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", entry.Fullname, apperr.ErrNotFound)
		}
		return nil, err
	}
	stored, err := s.db.Checksum(ctx, name)
	if err != nil {
		return nil, err
	}
	if stored != sum {
		if err := s.materialize(ctx, name, sum, entry.Fullname); err != nil {
			return nil, err
		}
		s.logger.Info("fileservice: table loaded", slog.String("table", name), slog.String("path", entry.Fullname))
	}
	rows, err := s.db.Rows(ctx, name)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}

func (s *Service) materialize(ctx context.Context, name, sum, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header, rows, err := ReadTSV(f)
	if err != nil {
		return fmt.Errorf("fileservice: read %s: %w", path, err)
	}
	return s.db.Materialize(ctx, name, sum, header, rows)
}

// ReadTSV reads a tab separated file with a header line. Rows may be ragged.
func ReadTSV(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("empty file")
		}
		return nil, nil, err
	}
	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, rec)
	}
	return header, rows, nil
}

// TableName is the shadow table of record id in section.
func TableName(section, id string) (string, error) {
	if section == manifest.KeyDropbox {
		return tables.DropboxName(id), nil
	}
	n, ok := manifest.ParseJobKey(section)
	if !ok {
		return "", fmt.Errorf("section %s: %w", section, apperr.ErrNotFound)
	}
	return tables.JobName(n, id), nil
}

// Upload stores r as name in the dropbox. The watcher records the new file.
func (s *Service) Upload(_ context.Context, name string, r io.Reader) (string, int64, error) {
	clean, err := safeName(name)
	if err != nil {
		return "", 0, err
	}
	if s.dropbox.Exists(clean) {
		return "", 0, fmt.Errorf("%s: %w", clean, apperr.ErrAlreadyExists)
	}
	n, err := s.dropbox.Write(clean, r)
	if err != nil {
		return "", 0, err
	}
	abs, _ := s.dropbox.Resolve(clean)
	s.logger.Info("fileservice: uploaded", slog.String("path", abs), slog.Int64("size", n))
	return abs, n, nil
}

// DeleteDropbox removes the file behind a dropbox record. The watcher
// forgets the record.
func (s *Service) DeleteDropbox(ctx context.Context, id string) error {
	entry, err := s.Get(ctx, manifest.KeyDropbox, id)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(s.dropbox.Root(), entry.Fullname)
	if err != nil {
		return err
	}
	if err := s.dropbox.Delete(rel); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", entry.Fullname, apperr.ErrNotFound)
		}
		return err
	}
	return nil
}

// FileTypes lists every known extension with its classification.
func (s *Service) FileTypes() []classify.Entry {
	return classify.Table()
}

// safeName accepts plain file names only.
func safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required: %w", apperr.ErrInvalidInput)
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") || strings.HasPrefix(cleaned, ".") {
		return "", fmt.Errorf("invalid filename %s: %w", name, apperr.ErrInvalidInput)
	}
	return cleaned, nil
}
