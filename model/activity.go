package model

import (
	"time"

	"github.com/uptrace/bun"
)

// Activity event names.
const (
	EventCreated   = "created"
	EventUpdated   = "updated"
	EventDeleted   = "deleted"
	EventImported  = "imported"
	EventExported  = "exported"
	EventCancelled = "cancelled"
)

// Subject types recorded on activities.
const (
	SubjectCustomer = "customer"
	SubjectImport   = "import"
	SubjectExport   = "export"
)

// Activity is an immutable audit log entry.
type Activity struct {
	bun.BaseModel `bun:"table:activity_log,alias:a" msgpack:"-" json:"-"`

	ID          int64          `bun:"id,pk,autoincrement" json:"id"`
	Event       string         `bun:"event,notnull" json:"event"`
	Description string         `bun:"description,notnull" json:"description"`
	SubjectType string         `bun:"subject_type,notnull" json:"subject_type"`
	SubjectID   int64          `bun:"subject_id,notnull" json:"subject_id"`
	CauserID    int64          `bun:"causer_id,notnull" json:"causer_id"`
	Properties  map[string]any `bun:"properties" json:"properties,omitempty"`
	CreatedAt   time.Time      `bun:"created_at,notnull" json:"created_at"`
}

// ArchivedActivity is an Activity moved out of the live log.
type ArchivedActivity struct {
	bun.BaseModel `bun:"table:activity_archive,alias:aa" msgpack:"-" json:"-"`

	ID          int64          `bun:"id,pk" json:"id"`
	Event       string         `bun:"event,notnull" json:"event"`
	Description string         `bun:"description,notnull" json:"description"`
	SubjectType string         `bun:"subject_type,notnull" json:"subject_type"`
	SubjectID   int64          `bun:"subject_id,notnull" json:"subject_id"`
	CauserID    int64          `bun:"causer_id,notnull" json:"causer_id"`
	Properties  map[string]any `bun:"properties" json:"properties,omitempty"`
	CreatedAt   time.Time      `bun:"created_at,notnull" json:"created_at"`
	ArchivedAt  time.Time      `bun:"archived_at,notnull" json:"archived_at"`
}

// Archive copies the entry into its archived form.
func (a Activity) Archive(at time.Time) ArchivedActivity {
	return ArchivedActivity{
		ID:          a.ID,
		Event:       a.Event,
		Description: a.Description,
		SubjectType: a.SubjectType,
		SubjectID:   a.SubjectID,
		CauserID:    a.CauserID,
		Properties:  a.Properties,
		CreatedAt:   a.CreatedAt,
		ArchivedAt:  at,
	}
}
