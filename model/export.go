package model

import (
	"time"

	"github.com/uptrace/bun"
)

// ExportType distinguishes full from filtered exports.
type ExportType string

const (
	ExportAll      ExportType = "all"
	ExportFiltered ExportType = "filtered"
)

// Format is the serialization used for an export artifact.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

func (f Format) Valid() bool {
	switch f {
	case FormatCSV, FormatXLSX, FormatJSON:
		return true
	}
	return false
}

// Extension returns the file extension without a leading dot.
func (f Format) Extension() string { return string(f) }

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatJSON:
		return "application/json"
	default:
		return "text/csv"
	}
}

// Export is one batch extraction job.
type Export struct {
	bun.BaseModel `bun:"table:exports,alias:e" msgpack:"-" json:"-"`

	ID              int64          `bun:"id,pk,autoincrement" json:"id"`
	UserID          int64          `bun:"user_id,notnull" json:"user_id"`
	Filename        string         `bun:"filename,notnull" json:"filename"`
	Type            ExportType     `bun:"type,notnull" json:"type"`
	Filters         CustomerFilter `bun:"filters" json:"filters"`
	Format          Format         `bun:"format,notnull" json:"format"`
	IncludeNotes    bool           `bun:"include_notes,notnull" json:"include_notes"`
	IncludeActivity bool           `bun:"include_activity,notnull" json:"include_activity"`
	Status          Status         `bun:"status,notnull" json:"status"`
	TotalRecords    int            `bun:"total_records,notnull" json:"total_records"`
	FilePath        *string        `bun:"file_path" json:"file_path"`
	DownloadURL     *string        `bun:"download_url" json:"download_url"`
	FileSize        int64          `bun:"file_size,notnull" json:"file_size"`
	ErrorMessage    string         `bun:"error_message" json:"error_message,omitempty"`
	Attempts        int            `bun:"attempts,notnull" json:"attempts"`
	ExpiresAt       *time.Time     `bun:"expires_at,nullzero" json:"expires_at,omitempty"`
	StartedAt       *time.Time     `bun:"started_at,nullzero" json:"started_at,omitempty"`
	CompletedAt     *time.Time     `bun:"completed_at,nullzero" json:"completed_at,omitempty"`
	CreatedAt       time.Time      `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       time.Time      `bun:"updated_at,notnull" json:"updated_at"`
}

// HasFile reports whether a stored artifact reference is set.
func (e *Export) HasFile() bool {
	return e.FilePath != nil && *e.FilePath != ""
}

// ExpiredAt reports whether the expiry passed at now. An export without an
// expiry never expires.
func (e *Export) ExpiredAt(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// Path returns the stored artifact path or "".
func (e *Export) Path() string {
	if e.FilePath == nil {
		return ""
	}
	return *e.FilePath
}

// ClearFile drops the artifact and download references.
func (e *Export) ClearFile() {
	e.FilePath = nil
	e.DownloadURL = nil
}
