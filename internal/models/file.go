// Package models defines the domain types for resultbox.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// VisualizationType tells the frontend which viewer a visualizable file needs.
// The zero value means the file has no viewer and is encoded as JSON null.
type VisualizationType string

const (
	VisualizationNone      VisualizationType = ""
	VisualizationFull      VisualizationType = "full"
	VisualizationCondensed VisualizationType = "condensed"
)

// MarshalJSON encodes the empty type as null.
func (v VisualizationType) MarshalJSON() ([]byte, error) {
	if v == VisualizationNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(v))
}

// UnmarshalJSON accepts null, "full" and "condensed".
func (v *VisualizationType) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = VisualizationNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("visualization_type: %w", err)
	}
	switch VisualizationType(s) {
	case VisualizationNone, VisualizationFull, VisualizationCondensed:
		*v = VisualizationType(s)
		return nil
	}
	return fmt.Errorf("visualization_type: unknown value %q", s)
}

// Info is the classifier output for a file extension.
type Info struct {
	Description       string            `json:"description"`
	Visualizable      bool              `json:"is_visualizable"`
	VisualizationType VisualizationType `json:"visualization_type"`
}

// FileRecord is one known file inside a manifest section.
type FileRecord struct {
	Fullname          string            `json:"fullname"`
	DisplayName       string            `json:"display_name"`
	Description       string            `json:"description"`
	Visualizable      bool              `json:"is_visualizable"`
	VisualizationType VisualizationType `json:"visualization_type"`
}

// Classified reports whether the record carries classifier output.
// Records written by older releases only stored the path.
func (r FileRecord) Classified() bool {
	return r.Description != ""
}

// Apply copies classifier output onto the record.
func (r *FileRecord) Apply(info Info) {
	r.Description = info.Description
	r.Visualizable = info.Visualizable
	r.VisualizationType = info.VisualizationType
}

// FileEntry pairs a record with its id for list responses.
type FileEntry struct {
	ID string `json:"id"`
	FileRecord
}
