package importer

import (
	"errors"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/goliatone/go-crm-batch/model"
)

// BirthdateLayouts are the accepted birthdate formats, tried in order.
var BirthdateLayouts = []string{"2006-01-02", "01/02/2006", "02.01.2006", "2006/01/02"}

// row is one data record mapped onto canonical columns.
type row struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Organization string `json:"organization"`
	JobTitle     string `json:"job_title"`
	Birthdate    string `json:"birthdate"`
	Notes        string `json:"notes"`

	birthdate *time.Time
}

func newRow(cols columns, record []string) row {
	r := row{
		FirstName:    cols.value(record, colFirstName),
		LastName:     cols.value(record, colLastName),
		Email:        strings.ToLower(cols.value(record, colEmail)),
		Phone:        cols.value(record, colPhone),
		Organization: cols.value(record, colOrganization),
		JobTitle:     cols.value(record, colJobTitle),
		Birthdate:    cols.value(record, colBirthdate),
		Notes:        cols.value(record, colNotes),
	}
	if r.FirstName == "" {
		if full := cols.value(record, colName); full != "" {
			first, last, _ := strings.Cut(full, " ")
			r.FirstName = first
			if r.LastName == "" {
				r.LastName = strings.TrimSpace(last)
			}
		}
	}
	return r
}

// validate checks the row and parses its birthdate. Messages come back
// sorted by field so row errors read the same on every run.
func (r *row) validate(now time.Time) []string {
	err := validation.ValidateStruct(r,
		validation.Field(&r.FirstName,
			validation.Required.Error("first name is required"),
			validation.RuneLength(1, 100)),
		validation.Field(&r.LastName, validation.RuneLength(0, 100)),
		validation.Field(&r.Email,
			validation.Required.Error("email is required"),
			validation.RuneLength(0, 255),
			is.EmailFormat.Error("email must be a valid email address")),
		validation.Field(&r.Phone, validation.RuneLength(0, 50)),
		validation.Field(&r.Organization, validation.RuneLength(0, 255)),
		validation.Field(&r.JobTitle, validation.RuneLength(0, 255)),
		validation.Field(&r.Birthdate, validation.By(r.checkBirthdate(now))),
	)
	if err == nil {
		return nil
	}
	var fields validation.Errors
	if !errors.As(err, &fields) {
		return []string{err.Error()}
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+": "+fields[k].Error())
	}
	return out
}

func (r *row) checkBirthdate(now time.Time) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		t, ok := parseBirthdate(s)
		if !ok {
			return errors.New("birthdate must be a valid date")
		}
		if t.After(now) {
			return errors.New("birthdate cannot be in the future")
		}
		r.birthdate = &t
		return nil
	}
}

func parseBirthdate(s string) (time.Time, bool) {
	for _, layout := range BirthdateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (r *row) customer(importID int64) *model.Customer {
	id := importID
	return &model.Customer{
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Email:        r.Email,
		Phone:        r.Phone,
		Organization: r.Organization,
		JobTitle:     r.JobTitle,
		Birthdate:    r.birthdate,
		Notes:        r.Notes,
		ImportID:     &id,
	}
}
