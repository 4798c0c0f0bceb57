package importer

import (
	"reflect"
	"testing"
	"time"
)

func TestNormalizeColumn(t *testing.T) {
	cases := map[string]string{
		"Email":            "email",
		" E-Mail ":         "e_mail",
		"First Name":       "first_name",
		"\"Date of Birth\"": "date_of_birth",
		"job__title":       "job_title",
	}
	for in, want := range cases {
		if got := normalizeColumn(in); got != want {
			t.Errorf("normalizeColumn(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  []string
		want    columns
		missing int
	}{
		{
			name:   "aliases in any order",
			header: []string{"Company", "E-Mail", "Full Name", "unknown", "DOB"},
			want:   columns{colOrganization: 0, colEmail: 1, colName: 2, colBirthdate: 4},
		},
		{
			name:   "first occurrence wins",
			header: []string{"email", "first_name", "mail"},
			want:   columns{colEmail: 0, colFirstName: 1},
		},
		{
			name:    "missing email and name",
			header:  []string{"phone", "notes"},
			want:    columns{colPhone: 0, colNotes: 1},
			missing: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols, problems := parseHeader(tt.header)
			if !reflect.DeepEqual(cols, tt.want) {
				t.Errorf("columns: got %v, want %v", cols, tt.want)
			}
			if len(problems) != tt.missing {
				t.Errorf("problems: got %v", problems)
			}
		})
	}
}

func TestRowValidate(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cols := standardColumns()

	tests := []struct {
		name   string
		record []string
		errs   []string
	}{
		{"valid", []string{"Ann", "Lee", "ann@example.com", "", "", "", "15.01.1990", ""}, nil},
		{"short record", []string{"Ann", "Lee", "ann@example.com"}, nil},
		{"bad email", []string{"Ann", "Lee", "not-an-email"}, []string{"email: email must be a valid email address"}},
		{"missing both", []string{"", "", ""}, []string{"email: email is required", "first_name: first name is required"}},
		{"future birthdate", []string{"Ann", "", "a@b.co", "", "", "", "2999-01-01"}, []string{"birthdate: birthdate cannot be in the future"}},
		{"bad birthdate", []string{"Ann", "", "a@b.co", "", "", "", "31/31/1990"}, []string{"birthdate: birthdate must be a valid date"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRow(cols, tt.record)
			if got := r.validate(now); !reflect.DeepEqual(got, tt.errs) {
				t.Errorf("got %q, want %q", got, tt.errs)
			}
		})
	}
}

func TestNewRow_SplitsFullName(t *testing.T) {
	cols, _ := parseHeader([]string{"name", "email"})
	r := newRow(cols, []string{"Ann Marie Lee", "ANN@EXAMPLE.COM"})
	if r.FirstName != "Ann" || r.LastName != "Marie Lee" || r.Email != "ann@example.com" {
		t.Errorf("unexpected row %+v", r)
	}
}

func TestParseBirthdate(t *testing.T) {
	want := time.Date(1990, 1, 15, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"1990-01-15", "01/15/1990", "15.01.1990", "1990/01/15"} {
		got, ok := parseBirthdate(s)
		if !ok || !got.Equal(want) {
			t.Errorf("parseBirthdate(%q) = %v %v", s, got, ok)
		}
	}
}
