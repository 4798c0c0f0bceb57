package model

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Customer is a contact record owned by exactly one user.
type Customer struct {
	bun.BaseModel `bun:"table:customers,alias:c" msgpack:"-" json:"-"`

	ID           int64      `bun:"id,pk,autoincrement" json:"id"`
	UserID       int64      `bun:"user_id,notnull" json:"user_id"`
	FirstName    string     `bun:"first_name,notnull" json:"first_name"`
	LastName     string     `bun:"last_name" json:"last_name"`
	Email        string     `bun:"email,notnull" json:"email"`
	Phone        string     `bun:"phone" json:"phone"`
	Organization string     `bun:"organization" json:"organization"`
	JobTitle     string     `bun:"job_title" json:"job_title"`
	Birthdate    *time.Time `bun:"birthdate,nullzero" json:"birthdate,omitempty"`
	Notes        string     `bun:"notes" json:"notes,omitempty"`
	Slug         string     `bun:"slug,notnull" json:"slug"`
	ImportID     *int64     `bun:"import_id,nullzero" json:"import_id,omitempty"`
	CreatedAt    time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// FullName joins first and last name.
func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// ImportedBy reports whether the record was created by the given import.
func (c *Customer) ImportedBy(importID int64) bool {
	return c.ImportID != nil && *c.ImportID == importID
}

// CustomerFilter is shared by interactive search and filtered exports so
// both resolve the same customer set.
type CustomerFilter struct {
	Search       string     `json:"search,omitempty"`
	Organization string     `json:"organization,omitempty"`
	JobTitle     string     `json:"job_title,omitempty"`
	CreatedFrom  *time.Time `json:"created_from,omitempty"`
	CreatedTo    *time.Time `json:"created_to,omitempty"`
}

// Empty reports whether the filter selects every customer.
func (f CustomerFilter) Empty() bool {
	return strings.TrimSpace(f.Search) == "" &&
		f.Organization == "" &&
		f.JobTitle == "" &&
		f.CreatedFrom == nil &&
		f.CreatedTo == nil
}

// Page selects a window of a listing. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 15
	MaxPageSize     = 100
)

// Normalize clamps the page into valid bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

// PageResult is a single page of records plus the total match count.
type PageResult[T any] struct {
	Items []T
	Total int
	Page  Page
}

// LastPage returns the number of the final page.
func (r PageResult[T]) LastPage() int {
	if r.Page.Size == 0 || r.Total == 0 {
		return 1
	}
	return (r.Total + r.Page.Size - 1) / r.Page.Size
}
