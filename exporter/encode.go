package exporter

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/xuri/excelize/v2"

	"github.com/goliatone/go-crm-batch/model"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
	sheetName      = "Customers"
)

// Header is the fixed column order of tabular exports.
var Header = []string{
	"ID", "First Name", "Last Name", "Email", "Phone",
	"Organization", "Job Title", "Birthdate", "Created At",
}

// record is one customer as written to an artifact.
type record struct {
	Customer      *model.Customer
	ActivityCount int
}

// encoder serializes records into one artifact.
type encoder interface {
	begin() error
	write(r record) error
	end(total int, exportedAt time.Time) error
}

func newEncoder(exp *model.Export, w io.Writer) (encoder, error) {
	switch exp.Format {
	case model.FormatCSV:
		return &csvEncoder{exp: exp, w: csv.NewWriter(w)}, nil
	case model.FormatJSON:
		return &jsonEncoder{exp: exp, w: bufio.NewWriter(w)}, nil
	case model.FormatXLSX:
		return &xlsxEncoder{exp: exp, out: w}, nil
	}
	return nil, goerrors.New(fmt.Sprintf("unsupported export format %q", exp.Format), goerrors.CategoryValidation)
}

func header(exp *model.Export) []string {
	out := append([]string(nil), Header...)
	if exp.IncludeNotes {
		out = append(out, "Notes")
	}
	if exp.IncludeActivity {
		out = append(out, "Activity Count")
	}
	return out
}

func fields(exp *model.Export, r record) []string {
	c := r.Customer
	birthdate := ""
	if c.Birthdate != nil {
		birthdate = c.Birthdate.Format(dateLayout)
	}
	out := []string{
		strconv.FormatInt(c.ID, 10),
		c.FirstName,
		c.LastName,
		c.Email,
		c.Phone,
		c.Organization,
		c.JobTitle,
		birthdate,
		c.CreatedAt.UTC().Format(dateTimeLayout),
	}
	if exp.IncludeNotes {
		out = append(out, c.Notes)
	}
	if exp.IncludeActivity {
		out = append(out, strconv.Itoa(r.ActivityCount))
	}
	return out
}

type csvEncoder struct {
	exp *model.Export
	w   *csv.Writer
}

func (e *csvEncoder) begin() error {
	return e.w.Write(header(e.exp))
}

func (e *csvEncoder) write(r record) error {
	return e.w.Write(fields(e.exp, r))
}

func (e *csvEncoder) end(int, time.Time) error {
	e.w.Flush()
	return e.w.Error()
}

// jsonCustomer is the JSON shape of one exported customer.
type jsonCustomer struct {
	ID            int64   `json:"id"`
	FirstName     string  `json:"first_name"`
	LastName      string  `json:"last_name"`
	Email         string  `json:"email"`
	Phone         string  `json:"phone"`
	Organization  string  `json:"organization"`
	JobTitle      string  `json:"job_title"`
	Birthdate     *string `json:"birthdate"`
	CreatedAt     string  `json:"created_at"`
	Notes         *string `json:"notes,omitempty"`
	ActivityCount *int    `json:"activity_count,omitempty"`
}

// jsonEncoder streams {"export_date", "customers", "total_records"}.
type jsonEncoder struct {
	exp   *model.Export
	w     *bufio.Writer
	count int
}

func (e *jsonEncoder) begin() error {
	_, err := e.w.WriteString(`{"customers":[`)
	return err
}

func (e *jsonEncoder) write(r record) error {
	c := r.Customer
	out := jsonCustomer{
		ID:           c.ID,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		Email:        c.Email,
		Phone:        c.Phone,
		Organization: c.Organization,
		JobTitle:     c.JobTitle,
		CreatedAt:    c.CreatedAt.UTC().Format(time.RFC3339),
	}
	if c.Birthdate != nil {
		b := c.Birthdate.Format(dateLayout)
		out.Birthdate = &b
	}
	if e.exp.IncludeNotes {
		notes := c.Notes
		out.Notes = &notes
	}
	if e.exp.IncludeActivity {
		n := r.ActivityCount
		out.ActivityCount = &n
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	if e.count > 0 {
		if err := e.w.WriteByte(','); err != nil {
			return err
		}
	}
	e.count++
	_, err = e.w.Write(data)
	return err
}

func (e *jsonEncoder) end(total int, exportedAt time.Time) error {
	if _, err := fmt.Fprintf(e.w, `],"export_date":%q,"total_records":%d}`, exportedAt.UTC().Format(time.RFC3339), total); err != nil {
		return err
	}
	return e.w.Flush()
}

// xlsxEncoder writes a single sheet through the excelize stream writer. The
// workbook is only serialized to out once every row is written.
type xlsxEncoder struct {
	exp  *model.Export
	out  io.Writer
	file *excelize.File
	sw   *excelize.StreamWriter
	row  int
}

func (e *xlsxEncoder) begin() error {
	e.file = excelize.NewFile()
	if err := e.file.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	bold, err := e.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if e.sw, err = e.file.NewStreamWriter(sheetName); err != nil {
		return err
	}
	cols := header(e.exp)
	if err := e.sw.SetColWidth(1, len(cols), 18); err != nil {
		return err
	}
	e.row = 1
	return e.sw.SetRow("A1", toCells(cols), excelize.RowOpts{StyleID: bold})
}

func (e *xlsxEncoder) write(r record) error {
	e.row++
	cell, err := excelize.CoordinatesToCellName(1, e.row)
	if err != nil {
		return err
	}
	values := toCells(fields(e.exp, r))
	values[0] = r.Customer.ID
	return e.sw.SetRow(cell, values)
}

func (e *xlsxEncoder) end(int, time.Time) error {
	defer e.file.Close()
	if err := e.sw.Flush(); err != nil {
		return err
	}
	return e.file.Write(e.out)
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
