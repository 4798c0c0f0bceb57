package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local keeps objects as files below a root directory.
type Local struct {
	root string
}

var _ Storage = (*Local)(nil)

// NewLocal creates root if needed.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, external(err, "init", root)
	}
	return &Local{root: root}, nil
}

func (l *Local) Root() string { return l.root }

func (l *Local) resolve(name string) (string, string, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

func (l *Local) Exists(_ context.Context, name string) (bool, error) {
	_, full, err := l.resolve(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, external(err, "stat", name)
	}
	return !info.IsDir(), nil
}

func (l *Local) Get(ctx context.Context, name string) ([]byte, error) {
	rc, err := l.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (l *Local) Open(_ context.Context, name string) (io.ReadCloser, error) {
	_, full, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, external(err, "open", name)
	}
	return f, nil
}

func (l *Local) Put(ctx context.Context, name string, data []byte) error {
	_, err := l.PutStream(ctx, name, bytes.NewReader(data))
	return err
}

// PutStream writes to a temp file in the target directory and renames it
// into place, so readers never observe a partial object.
func (l *Local) PutStream(ctx context.Context, name string, r io.Reader) (int64, error) {
	_, full, err := l.resolve(name)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, external(err, "mkdir", name)
	}
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return 0, external(err, "create", name)
	}
	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, external(err, "write", name)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return 0, external(err, "rename", name)
	}
	return n, nil
}

func (l *Local) Delete(_ context.Context, name string) error {
	_, full, err := l.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return external(err, "delete", name)
	}
	return nil
}

func (l *Local) Files(_ context.Context, prefix string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".partial-") {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, external(err, "list", prefix)
	}
	sort.Strings(out)
	return out, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
