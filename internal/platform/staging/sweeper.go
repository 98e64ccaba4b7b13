package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dontdude/testgen/internal/domain"
)

// Sweep removes staged entries whose files are older than retention and returns how many uploads were dropped.
// Orphaned metadata files are removed as well.
func (d *Dir) Sweep(retention time.Duration) (int, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return 0, fmt.Errorf("%w: list staging dir: %v", domain.ErrStorage, err)
	}

	cutoff := d.now().Add(-retention)
	removed := 0
	var errs []error

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != dataExt && ext != metaExt {
			continue
		}

		info, err := e.Info()
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		id := strings.TrimSuffix(name, ext)
		if ext == metaExt {
			// Metadata is dropped together with its data file; only orphans are handled here.
			if _, err := os.Stat(d.dataPath(id)); err == nil {
				continue
			}
		}

		if err := d.Remove(context.Background(), domain.StagedFile{ID: id}); err != nil {
			errs = append(errs, err)
			continue
		}
		if ext == dataExt {
			removed++
		}
	}

	return removed, errors.Join(errs...)
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (d *Dir) RunSweeper(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Starting staging sweeper", "dir", d.root, "interval", interval, "retention", retention)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.Sweep(retention)
			if err != nil {
				slog.Error("Staging sweep failed", "error", err)
			}
			if n > 0 {
				slog.Info("Removed expired uploads", "count", n)
			}
		}
	}
}
