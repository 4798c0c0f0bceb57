// Package storage stores import uploads and export artifacts and signs
// time limited download references for them.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// Storage is a flat, slash separated object namespace.
type Storage interface {
	Exists(ctx context.Context, name string) (bool, error)
	Get(ctx context.Context, name string) ([]byte, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Put(ctx context.Context, name string, data []byte) error
	// PutStream copies r into name and returns the number of bytes written.
	PutStream(ctx context.Context, name string, r io.Reader) (int64, error)
	// Delete is a no-op for missing objects.
	Delete(ctx context.Context, name string) error
	// Files lists objects below prefix.
	Files(ctx context.Context, prefix string) ([]string, error)
}

// Signer issues download references valid until expires.
type Signer interface {
	SignedURL(ctx context.Context, name string, expires time.Time) (string, error)
}

// ErrNotFound is returned, wrapped, when an object is missing.
var ErrNotFound = goerrors.New("object not found", goerrors.CategoryNotFound).WithTextCode("OBJECT_NOT_FOUND")

func notFound(name string) error {
	return goerrors.Wrap(ErrNotFound, goerrors.CategoryNotFound, fmt.Sprintf("object %s not found", name))
}

// IsNotFound reports whether err marks a missing object.
func IsNotFound(err error) bool {
	return goerrors.HasCategory(err, goerrors.CategoryNotFound)
}

func external(err error, op, name string) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, fmt.Sprintf("storage %s %s", op, name))
}

// cleanName normalizes name and rejects anything escaping the root.
func cleanName(name string) (string, error) {
	cleaned := path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || hasParentRef(name) {
		return "", goerrors.New(fmt.Sprintf("invalid object name %q", name), goerrors.CategoryBadInput)
	}
	return cleaned, nil
}

func hasParentRef(name string) bool {
	for _, seg := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// ImportPath is where an uploaded file for userID is stored.
func ImportPath(userID int64, original string, now time.Time) string {
	ext := strings.ToLower(path.Ext(original))
	if ext == "" {
		ext = ".csv"
	}
	base := slug.Make(strings.TrimSuffix(path.Base(original), path.Ext(original)))
	if base == "" {
		base = "upload"
	}
	now = now.UTC()
	return fmt.Sprintf("imports/user_%d/%04d/%02d/%s_%s_%s%s",
		userID, now.Year(), int(now.Month()), now.Format("20060102T150405"), base, shortID(), ext)
}

// ExportPath is where an export artifact with extension ext is written:
// exports/user_{id}/{yyyy}/{mm}/{timestamp}_{suffix}.{ext}.
func ExportPath(userID int64, ext string, now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("exports/user_%d/%04d/%02d/%s_%s.%s",
		userID, now.Year(), int(now.Month()), now.Format("20060102T150405"), shortID(), strings.TrimPrefix(ext, "."))
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
