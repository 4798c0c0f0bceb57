package importer

import (
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Canonical column names.
const (
	colFirstName    = "first_name"
	colLastName     = "last_name"
	colName         = "name"
	colEmail        = "email"
	colPhone        = "phone"
	colOrganization = "organization"
	colJobTitle     = "job_title"
	colBirthdate    = "birthdate"
	colNotes        = "notes"
)

// StandardColumns is the column order assumed for files without a header row.
var StandardColumns = []string{
	colFirstName, colLastName, colEmail, colPhone,
	colOrganization, colJobTitle, colBirthdate, colNotes,
}

var aliases = map[string]string{
	"first_name":    colFirstName,
	"firstname":     colFirstName,
	"first":         colFirstName,
	"given_name":    colFirstName,
	"last_name":     colLastName,
	"lastname":      colLastName,
	"last":          colLastName,
	"surname":       colLastName,
	"family_name":   colLastName,
	"name":          colName,
	"full_name":     colName,
	"fullname":      colName,
	"email":         colEmail,
	"e_mail":        colEmail,
	"email_address": colEmail,
	"mail":          colEmail,
	"phone":         colPhone,
	"phone_number":  colPhone,
	"telephone":     colPhone,
	"mobile":        colPhone,
	"organization":  colOrganization,
	"organisation":  colOrganization,
	"company":       colOrganization,
	"job_title":     colJobTitle,
	"title":         colJobTitle,
	"position":      colJobTitle,
	"birthdate":     colBirthdate,
	"birthday":      colBirthdate,
	"date_of_birth": colBirthdate,
	"dob":           colBirthdate,
	"notes":         colNotes,
	"note":          colNotes,
	"comments":      colNotes,
}

// columns maps canonical names to field positions.
type columns map[string]int

// normalizeColumn folds a raw header cell into alias lookup form.
func normalizeColumn(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "\"'")
	var b strings.Builder
	sep := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
		default:
			sep = true
		}
	}
	return b.String()
}

// parseHeader resolves header cells to canonical columns. Unknown columns
// are ignored; the first occurrence of a repeated column wins.
func parseHeader(header []string) (columns, []string) {
	cols := columns{}
	for i, raw := range header {
		name, ok := aliases[normalizeColumn(raw)]
		if !ok {
			continue
		}
		if _, seen := cols[name]; !seen {
			cols[name] = i
		}
	}
	return cols, cols.missing()
}

func standardColumns() columns {
	cols := columns{}
	for i, name := range StandardColumns {
		cols[name] = i
	}
	return cols
}

func (c columns) missing() []string {
	var out []string
	if _, ok := c[colEmail]; !ok {
		out = append(out, "missing required column: email")
	}
	_, first := c[colFirstName]
	_, full := c[colName]
	if !first && !full {
		out = append(out, "missing required column: first_name or name")
	}
	return out
}

func (c columns) value(record []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// headerError is the job level failure for an unusable header.
func headerError(problems []string) error {
	return goerrors.New(fmt.Sprintf("invalid header: %s", strings.Join(problems, "; ")), goerrors.CategoryValidation).
		WithTextCode("INVALID_HEADER").
		WithMetadata(map[string]any{"problems": problems})
}
