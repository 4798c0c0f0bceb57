package repository

import (
	"database/sql"
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/goliatone/go-crm-batch/model"
)

// Text codes attached to repository errors.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeOwnership         = "OWNERSHIP_VIOLATION"
	CodeDuplicateEmail    = "DUPLICATE_EMAIL"
	CodeDuplicateSlug     = "DUPLICATE_SLUG"
	CodeInvalidTransition = "INVALID_TRANSITION"
)

// NotFound reports a missing record.
func NotFound(entity string, id any) error {
	return goerrors.New(fmt.Sprintf("%s %v not found", entity, id), goerrors.CategoryNotFound).
		WithTextCode(CodeNotFound).
		WithMetadata(map[string]any{"entity": entity, "id": id})
}

// OwnershipViolation reports an attempt to touch a record owned by another user.
func OwnershipViolation(entity string, id, userID int64) error {
	return goerrors.New(fmt.Sprintf("%s %d is not owned by user %d", entity, id, userID), goerrors.CategoryAuthz).
		WithTextCode(CodeOwnership).
		WithMetadata(map[string]any{"entity": entity, "id": id, "user_id": userID})
}

// InvalidTransition reports a status change the state machine forbids.
func InvalidTransition(entity string, id int64, from, to model.Status) error {
	return goerrors.New(fmt.Sprintf("%s %d cannot move from %s to %s", entity, id, from, to), goerrors.CategoryConflict).
		WithTextCode(CodeInvalidTransition)
}

func duplicate(code, field, value string) error {
	return goerrors.New(fmt.Sprintf("%s %q has already been taken", field, value), goerrors.CategoryConflict).
		WithTextCode(code).
		WithMetadata(map[string]any{"field": field})
}

// IsNotFound reports whether err marks a missing record.
func IsNotFound(err error) bool {
	return goerrors.HasCategory(err, goerrors.CategoryNotFound)
}

// IsOwnershipViolation reports whether err is an ownership failure.
func IsOwnershipViolation(err error) bool {
	return hasTextCode(err, CodeOwnership)
}

// IsDuplicate reports whether err is a uniqueness conflict.
func IsDuplicate(err error) bool {
	return hasTextCode(err, CodeDuplicateEmail) || hasTextCode(err, CodeDuplicateSlug)
}

func hasTextCode(err error, code string) bool {
	var e *goerrors.Error
	if errors.As(err, &e) {
		return e.TextCode == code
	}
	return false
}

// isUniqueViolation recognizes sqlite and postgres unique constraint errors.
func isUniqueViolation(err error) bool {
	var lite sqlite3.Error
	if errors.As(err, &lite) {
		return lite.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pg *pq.Error
	if errors.As(err, &pg) {
		return pg.Code == pgUniqueViolation
	}
	return false
}

const pgUniqueViolation = "23505"

func noRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
