// Package catalog discovers readable documents under a directory tree.
//
// A scan only classifies files by name. Containers are never opened, so
// scanning a library of thousands of archives costs one directory walk. Cover
// images are fetched separately, per entry, by the caller.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/metcalfc/panels/internal/natord"
)

// ErrNotADirectory is returned when the scan root is missing or not a directory.
var ErrNotADirectory = errors.New("not a directory")

// Entry is one document found by a scan.
type Entry struct {
	// DisplayName is the path relative to the scanned root.
	DisplayName string `json:"display_name"`
	Path        string `json:"path"`
	Kind        Kind   `json:"file_type"`
	// Cover is left empty by Scan.
	Cover string `json:"cover,omitempty"`
}

// SkippedPath records a path the scan could not read.
type SkippedPath struct {
	Path string
	Err  error
}

// Result is the outcome of a scan: the sorted catalog plus the paths that
// were skipped because they could not be read.
type Result struct {
	Entries []Entry
	Skipped []SkippedPath
}

// Option configures Scan and NewWatcher.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	epub     bool
	exclude  map[string]struct{}
	debounce time.Duration
}

// WithLogger sets the logger used for skipped paths and watch events.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEPUB enables recognition of .epub files.
func WithEPUB(enabled bool) Option {
	return func(o *options) { o.epub = enabled }
}

// WithExcludeDirs skips directories with these base names (case-insensitive).
func WithExcludeDirs(names ...string) Option {
	return func(o *options) {
		for _, n := range names {
			n = strings.Trim(n, `/\`)
			if n != "" {
				o.exclude[strings.ToLower(n)] = struct{}{}
			}
		}
	}
}

// WithDebounce sets how long a Watcher waits for a burst of events to settle.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:   zap.NewNop(),
		exclude:  make(map[string]struct{}),
		debounce: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) excluded(name string) bool {
	_, ok := o.exclude[strings.ToLower(name)]
	return ok
}

// Scan walks root and returns every recognized document, sorted naturally by
// display name.
//
// Subdirectories that cannot be read are skipped and listed in
// Result.Skipped; a partial catalog is returned rather than an error.
// Symlinked directories are not followed.
func Scan(root string, opts ...Option) (Result, error) {
	o := newOptions(opts)

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s", ErrNotADirectory, root)
	}

	// Walk the resolved directory so a symlinked root still descends, but
	// report paths under the root the caller gave.
	walkRoot := root
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		walkRoot = resolved
	}

	var res Result
	err = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == walkRoot {
				return err
			}
			o.logger.Debug("skipping unreadable path", zap.String("path", path), zap.Error(err))
			res.Skipped = append(res.Skipped, SkippedPath{Path: path, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != walkRoot && o.excluded(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}

		kind, ok := Classify(d.Name(), o.epub)
		if !ok {
			return nil
		}
		if !d.Type().IsRegular() && !isFileLink(path, d) {
			return nil
		}

		rel, relErr := filepath.Rel(walkRoot, path)
		full := filepath.Join(root, rel)
		if relErr != nil {
			rel, full = path, path
		}
		res.Entries = append(res.Entries, Entry{
			DisplayName: rel,
			Path:        full,
			Kind:        kind,
		})
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("scan %s: %w", root, err)
	}

	natord.SortFunc(res.Entries, func(e Entry) string { return e.DisplayName })
	o.logger.Debug("scan complete",
		zap.String("root", root),
		zap.Int("entries", len(res.Entries)),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// isFileLink reports whether d is a symlink to a regular file.
func isFileLink(path string, d fs.DirEntry) bool {
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
