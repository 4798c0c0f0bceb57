package model

import (
	"strconv"
	"time"

	"github.com/uptrace/bun"
)

// Supported import delimiters and encodings.
const (
	DelimiterComma     = ","
	DelimiterSemicolon = ";"
	DelimiterPipe      = "|"

	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "iso-8859-1"
)

// Import is one batch ingestion job.
type Import struct {
	bun.BaseModel `bun:"table:imports,alias:i" msgpack:"-" json:"-"`

	ID               int64               `bun:"id,pk,autoincrement" json:"id"`
	UserID           int64               `bun:"user_id,notnull" json:"user_id"`
	Filename         string              `bun:"filename,notnull" json:"filename"`
	OriginalFilename string              `bun:"original_filename,notnull" json:"original_filename"`
	Status           Status              `bun:"status,notnull" json:"status"`
	TotalRows        int                 `bun:"total_rows,notnull" json:"total_rows"`
	ProcessedRows    int                 `bun:"processed_rows,notnull" json:"processed_rows"`
	SuccessfulRows   int                 `bun:"successful_rows,notnull" json:"successful_rows"`
	FailedRows       int                 `bun:"failed_rows,notnull" json:"failed_rows"`
	ValidationErrors []string            `bun:"validation_errors" json:"validation_errors"`
	RowErrors        map[string][]string `bun:"row_errors" json:"row_errors"`
	FilePath         string              `bun:"file_path,notnull" json:"file_path"`
	Delimiter        string              `bun:"delimiter,notnull" json:"delimiter"`
	Encoding         string              `bun:"encoding,notnull" json:"encoding"`
	HasHeader        bool                `bun:"has_header,notnull" json:"has_header"`
	ErrorMessage     string              `bun:"error_message" json:"error_message,omitempty"`
	Attempts         int                 `bun:"attempts,notnull" json:"attempts"`
	StartedAt        *time.Time          `bun:"started_at,nullzero" json:"started_at,omitempty"`
	CompletedAt      *time.Time          `bun:"completed_at,nullzero" json:"completed_at,omitempty"`
	CreatedAt        time.Time           `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt        time.Time           `bun:"updated_at,notnull" json:"updated_at"`
}

// ResetProgress clears counters and error detail before a (re)run.
func (i *Import) ResetProgress() {
	i.TotalRows = 0
	i.ProcessedRows = 0
	i.SuccessfulRows = 0
	i.FailedRows = 0
	i.ValidationErrors = []string{}
	i.RowErrors = map[string][]string{}
	i.ErrorMessage = ""
	i.CompletedAt = nil
}

// RecordSuccess counts one imported row.
func (i *Import) RecordSuccess() {
	i.ProcessedRows++
	i.SuccessfulRows++
}

// RecordFailure counts one rejected row and keeps its messages under the
// 1-based data row index.
func (i *Import) RecordFailure(row int, messages ...string) {
	i.ProcessedRows++
	i.FailedRows++
	if i.RowErrors == nil {
		i.RowErrors = map[string][]string{}
	}
	key := strconv.Itoa(row)
	i.RowErrors[key] = append(i.RowErrors[key], messages...)
}

// Consistent reports whether the processed counter matches its parts.
func (i *Import) Consistent() bool {
	return i.ProcessedRows == i.SuccessfulRows+i.FailedRows
}

// Progress returns the processed share in [0, 100].
func (i *Import) Progress() float64 {
	if i.TotalRows == 0 {
		if i.Status == StatusCompleted {
			return 100
		}
		return 0
	}
	return float64(i.ProcessedRows) / float64(i.TotalRows) * 100
}
