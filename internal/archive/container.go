// Package archive opens zip containers of page images, indexes their pages
// in natural name order and decodes single pages on demand.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/metcalfc/panels/internal/datauri"
	"github.com/metcalfc/panels/internal/natord"
)

var (
	// ErrNotFound means the container path does not exist.
	ErrNotFound = errors.New("container not found")
	// ErrUnreadable means the container exists but cannot be read.
	ErrUnreadable = errors.New("container unreadable")
	// ErrCorrupt means the file is not a valid zip container.
	ErrCorrupt = errors.New("corrupt archive")
	// ErrDecode means a page entry could not be read from an otherwise valid container.
	ErrDecode = errors.New("page decode failed")
	// ErrOutOfRange means a page index is outside [0, PageCount).
	ErrOutOfRange = errors.New("out of range")
)

// PageRef identifies one page image inside a container.
type PageRef struct {
	// Index is the position of the entry in the zip central directory.
	Index int
	Name  string
	Kind  ImageKind
}

// Container is an open zip archive together with its page index. It is owned
// by a single caller and must be closed.
type Container struct {
	path  string
	file  *os.File
	zr    *zip.Reader
	pages []PageRef
}

// Open opens the container at path and indexes its pages. Only entry names
// are read; no entry is decompressed.
func Open(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnreadable, path)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}

	return &Container{
		path:  path,
		file:  f,
		zr:    zr,
		pages: indexPages(zr.File),
	}, nil
}

// indexPages keeps the image entries and sorts them by full entry name.
func indexPages(files []*zip.File) []PageRef {
	pages := make([]PageRef, 0, len(files))
	for i, f := range files {
		if isDirEntry(f) {
			continue
		}
		kind, ok := ClassifyImage(f.Name)
		if !ok {
			continue
		}
		pages = append(pages, PageRef{Index: i, Name: f.Name, Kind: kind})
	}
	natord.SortFunc(pages, func(p PageRef) string { return p.Name })
	return pages
}

func isDirEntry(f *zip.File) bool {
	return strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir()
}

// Pages returns the page index in reading order. The slice is a copy.
func (c *Container) Pages() []PageRef {
	out := make([]PageRef, len(c.pages))
	copy(out, c.pages)
	return out
}

// PageCount returns the number of pages.
func (c *Container) PageCount() int { return len(c.pages) }

// Page returns the i-th page in reading order.
func (c *Container) Page(i int) (PageRef, error) {
	if i < 0 || i >= len(c.pages) {
		return PageRef{}, OutOfRange(i, len(c.pages))
	}
	return c.pages[i], nil
}

// OutOfRange builds the error reported for a page index outside [0, total).
func OutOfRange(index, total int) error {
	return fmt.Errorf("page index %d %w (total: %d)", index, ErrOutOfRange, total)
}

// ReadPage reads the whole entry for ref into memory.
func (c *Container) ReadPage(ref PageRef) ([]byte, error) {
	if ref.Index < 0 || ref.Index >= len(c.zr.File) {
		return nil, fmt.Errorf("%w: %s: no entry %d", ErrDecode, c.path, ref.Index)
	}
	zf := c.zr.File[ref.Index]
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, zf.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, zf.Name, err)
	}
	return data, nil
}

// DecodePage reads ref and wraps it as an inline asset tagged with the
// page's mime type.
func (c *Container) DecodePage(ref PageRef) (datauri.Asset, error) {
	data, err := c.ReadPage(ref)
	if err != nil {
		return datauri.Asset{}, err
	}
	return datauri.New(ref.Kind.Mime(), data), nil
}

// Close releases the underlying file.
func (c *Container) Close() error {
	return c.file.Close()
}
