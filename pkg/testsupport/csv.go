package testsupport

import (
	"fmt"
	"strings"
)

// CSVBuilder assembles import files row by row.
type CSVBuilder struct {
	delimiter string
	lines     []string
}

// NewCSV starts a file with the given header. An empty header produces a
// headerless file.
func NewCSV(header ...string) *CSVBuilder {
	b := &CSVBuilder{delimiter: ","}
	if len(header) > 0 {
		b.lines = append(b.lines, strings.Join(header, b.delimiter))
	}
	return b
}

// Delimiter switches the separator. Call it before adding rows.
func (b *CSVBuilder) Delimiter(d string) *CSVBuilder {
	if len(b.lines) > 0 {
		b.lines[0] = strings.ReplaceAll(b.lines[0], b.delimiter, d)
	}
	b.delimiter = d
	return b
}

// Row appends one record. Fields are written verbatim.
func (b *CSVBuilder) Row(fields ...string) *CSVBuilder {
	b.lines = append(b.lines, strings.Join(fields, b.delimiter))
	return b
}

// Customers appends n valid customer rows in the standard column order.
func (b *CSVBuilder) Customers(n int) *CSVBuilder {
	for i := 1; i <= n; i++ {
		b.Row(
			fmt.Sprintf("First%d", i),
			fmt.Sprintf("Last%d", i),
			fmt.Sprintf("customer%d@example.com", i),
			fmt.Sprintf("+1 555 %04d", i),
			"Acme",
			"Buyer",
			"1990-01-15",
			"",
		)
	}
	return b
}

func (b *CSVBuilder) String() string {
	return strings.Join(b.lines, "\n") + "\n"
}

func (b *CSVBuilder) Bytes() []byte {
	return []byte(b.String())
}

// StandardHeader is the column order of a headerless import file.
var StandardHeader = []string{
	"first_name", "last_name", "email", "phone", "organization", "job_title", "birthdate", "notes",
}
