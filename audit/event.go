// Package audit turns customer and job domain events into activity log
// entries.
//
// Event is a closed set: only the variants declared here implement it, and
// ToActivity matches them exhaustively.
package audit

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-crm-batch/model"
)

// Event is a domain event that produces an activity entry.
type Event interface {
	// Causer is the user the event is attributed to.
	Causer() int64
	sealed()
}

// Meta describes the request that triggered an event.
type Meta struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

func (m Meta) properties() map[string]any {
	props := map[string]any{}
	if m.IP != "" {
		props["ip"] = m.IP
	}
	if m.UserAgent != "" {
		props["user_agent"] = m.UserAgent
	}
	return props
}

// Change is one field difference.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

type CustomerCreated struct {
	UserID   int64
	Customer model.Customer
	Meta     Meta
}

type CustomerUpdated struct {
	UserID   int64
	Customer model.Customer
	Changes  map[string]Change
	Meta     Meta
}

type CustomerDeleted struct {
	UserID     int64
	CustomerID int64
	Name       string
	Meta       Meta
}

// ImportFinished is raised when an import reaches completed, failed or cancelled.
type ImportFinished struct {
	UserID int64
	Import model.Import
}

// ExportFinished is raised when an export reaches completed, failed or cancelled.
type ExportFinished struct {
	UserID int64
	Export model.Export
}

func (e CustomerCreated) Causer() int64 { return e.UserID }
func (e CustomerUpdated) Causer() int64 { return e.UserID }
func (e CustomerDeleted) Causer() int64 { return e.UserID }
func (e ImportFinished) Causer() int64  { return e.UserID }
func (e ExportFinished) Causer() int64  { return e.UserID }

func (CustomerCreated) sealed() {}
func (CustomerUpdated) sealed() {}
func (CustomerDeleted) sealed() {}
func (ImportFinished) sealed()  {}
func (ExportFinished) sealed()  {}

// ToActivity maps e to the entry recorded for it.
func ToActivity(e Event, now time.Time) (*model.Activity, error) {
	a := &model.Activity{CauserID: e.Causer(), CreatedAt: now.UTC()}

	switch ev := e.(type) {
	case CustomerCreated:
		a.Event = model.EventCreated
		a.SubjectType, a.SubjectID = model.SubjectCustomer, ev.Customer.ID
		a.Description = fmt.Sprintf("Customer %s was created", ev.Customer.FullName())
		a.Properties = ev.Meta.properties()
		a.Properties["attributes"] = map[string]any{
			"email":        ev.Customer.Email,
			"organization": ev.Customer.Organization,
		}
	case CustomerUpdated:
		a.Event = model.EventUpdated
		a.SubjectType, a.SubjectID = model.SubjectCustomer, ev.Customer.ID
		a.Description = fmt.Sprintf("Customer %s was updated", ev.Customer.FullName())
		a.Properties = ev.Meta.properties()
		a.Properties["changes"] = ev.Changes
	case CustomerDeleted:
		a.Event = model.EventDeleted
		a.SubjectType, a.SubjectID = model.SubjectCustomer, ev.CustomerID
		a.Description = fmt.Sprintf("Customer %s was deleted", ev.Name)
		a.Properties = ev.Meta.properties()
	case ImportFinished:
		a.Event = jobEvent(ev.Import.Status, model.EventImported)
		a.SubjectType, a.SubjectID = model.SubjectImport, ev.Import.ID
		a.Description = fmt.Sprintf("Import %s %s: %d of %d rows imported",
			ev.Import.OriginalFilename, ev.Import.Status, ev.Import.SuccessfulRows, ev.Import.TotalRows)
		a.Properties = map[string]any{
			"status":          string(ev.Import.Status),
			"total_rows":      ev.Import.TotalRows,
			"successful_rows": ev.Import.SuccessfulRows,
			"failed_rows":     ev.Import.FailedRows,
		}
	case ExportFinished:
		a.Event = jobEvent(ev.Export.Status, model.EventExported)
		a.SubjectType, a.SubjectID = model.SubjectExport, ev.Export.ID
		a.Description = fmt.Sprintf("Export %s %s: %d records", ev.Export.Filename, ev.Export.Status, ev.Export.TotalRecords)
		a.Properties = map[string]any{
			"status":        string(ev.Export.Status),
			"format":        string(ev.Export.Format),
			"total_records": ev.Export.TotalRecords,
		}
	default:
		return nil, goerrors.New(fmt.Sprintf("unknown audit event %T", e), goerrors.CategoryInternal)
	}
	return a, nil
}

func jobEvent(status model.Status, done string) string {
	if status == model.StatusCancelled {
		return model.EventCancelled
	}
	if status == model.StatusFailed {
		return done + "_failed"
	}
	return done
}

// Diff returns the exported customer fields that differ between before and
// after, keyed by snake case name. Bookkeeping fields are ignored.
func Diff(before, after model.Customer) map[string]Change {
	changes := map[string]Change{}
	bv, av := reflect.ValueOf(before), reflect.ValueOf(after)
	t := bv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Anonymous {
			continue
		}
		switch f.Name {
		case "ID", "UserID", "CreatedAt", "UpdatedAt", "ImportID":
			continue
		}
		old, cur := bv.Field(i).Interface(), av.Field(i).Interface()
		if reflect.DeepEqual(old, cur) {
			continue
		}
		changes[jsonName(f)] = Change{Old: deref(old), New: deref(cur)}
	}
	return changes
}

func jsonName(f reflect.StructField) string {
	if tag := f.Tag.Get("json"); tag != "" {
		if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return rv.Elem().Interface()
	}
	return v
}
