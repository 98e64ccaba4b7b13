package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dontdude/testgen/internal/domain"
	"github.com/google/uuid"
)

const (
	dataExt = ".upload"
	metaExt = ".json"
)

// Dir implements domain.Stager on top of a local directory.
// Every upload is stored under a generated UUID, so concurrent uploads sharing a filename never collide.
type Dir struct {
	root     string
	maxBytes int64
	now      func() time.Time
}

// Ensure Dir satisfies the interface
var _ domain.Stager = (*Dir)(nil)

// New returns a Dir rooted at root, creating it if missing.
// maxBytes <= 0 disables the size limit.
func New(root string, maxBytes int64) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create staging dir: %v", domain.ErrStorage, err)
	}
	return &Dir{
		root:     root,
		maxBytes: maxBytes,
		now:      time.Now,
	}, nil
}

// Root returns the staging directory path.
func (d *Dir) Root() string {
	return d.root
}

// Stage copies r to <root>/<uuid>.upload and writes a metadata sidecar next to it.
func (d *Dir) Stage(ctx context.Context, name string, r io.Reader) (domain.StagedFile, error) {
	if err := ctx.Err(); err != nil {
		return domain.StagedFile{}, err
	}

	id := uuid.New().String()
	f := domain.StagedFile{
		ID:           id,
		OriginalName: cleanName(name),
		Path:         filepath.Join(d.root, id+dataExt),
		CreatedAt:    d.now().UTC(),
	}

	out, err := os.OpenFile(f.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.StagedFile{}, fmt.Errorf("%w: create %s: %v", domain.ErrStorage, f.ID, err)
	}

	src := r
	if d.maxBytes > 0 {
		// One extra byte tells an exact-size upload apart from an oversized one.
		src = io.LimitReader(r, d.maxBytes+1)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Path)
		return domain.StagedFile{}, fmt.Errorf("%w: write %s: %v", domain.ErrStorage, f.ID, err)
	}
	if d.maxBytes > 0 && n > d.maxBytes {
		os.Remove(f.Path)
		return domain.StagedFile{}, domain.ErrUploadTooLarge
	}
	f.Size = n

	meta, err := json.Marshal(f)
	if err != nil {
		os.Remove(f.Path)
		return domain.StagedFile{}, fmt.Errorf("%w: marshal metadata: %v", domain.ErrStorage, err)
	}
	if err := os.WriteFile(d.metaPath(f.ID), meta, 0o644); err != nil {
		os.Remove(f.Path)
		return domain.StagedFile{}, fmt.Errorf("%w: write metadata %s: %v", domain.ErrStorage, f.ID, err)
	}

	return f, nil
}

// Read returns the staged content as text.
func (d *Dir) Read(ctx context.Context, f domain.StagedFile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", domain.ErrStorage, f.ID, err)
	}
	return string(data), nil
}

// Remove deletes the staged content and its metadata. Missing files are not an error.
func (d *Dir) Remove(_ context.Context, f domain.StagedFile) error {
	var errs []error
	for _, p := range []string{d.dataPath(f.ID), d.metaPath(f.ID)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: remove %s: %v", domain.ErrStorage, f.ID, errors.Join(errs...))
	}
	return nil
}

// Lookup loads the metadata of a staged upload.
func (d *Dir) Lookup(id string) (domain.StagedFile, error) {
	data, err := os.ReadFile(d.metaPath(id))
	if err != nil {
		return domain.StagedFile{}, fmt.Errorf("%w: lookup %s: %v", domain.ErrStorage, id, err)
	}
	var f domain.StagedFile
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.StagedFile{}, fmt.Errorf("%w: decode metadata %s: %v", domain.ErrStorage, id, err)
	}
	f.Path = d.dataPath(f.ID)
	return f, nil
}

func (d *Dir) dataPath(id string) string { return filepath.Join(d.root, id+dataExt) }
func (d *Dir) metaPath(id string) string { return filepath.Join(d.root, id+metaExt) }

// cleanName strips any directory components a client put into the filename.
func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
