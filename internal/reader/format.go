// Package reader loads text documents (plain text, Markdown and EPUB),
// computes their statistics and pages them for display.
package reader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/metcalfc/panels/internal/natord"
)

// ErrInvalidText is returned when a file's bytes are not valid UTF-8.
var ErrInvalidText = errors.New("not valid UTF-8 text")

// Format defines a file format reader for extracting text.
type Format interface {
	Name() string
	Extensions() []string
	Extract(filename string) (string, error)
}

var registry []Format

// Register adds a format reader to the registry.
func Register(f Format) {
	registry = append(registry, f)
}

// Lookup returns the registered format for filename's extension.
func Lookup(filename string) (Format, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, f := range registry {
		for _, e := range f.Extensions() {
			if ext == e {
				return f, true
			}
		}
	}
	return nil, false
}

// ExtractText extracts text from a file, using a registered format or plain text fallback.
func ExtractText(filename string) (string, error) {
	if f, ok := Lookup(filename); ok {
		return f.Extract(filename)
	}
	return LoadText(filename)
}

// LoadText returns the file's content unchanged. It fails if the content is
// not valid UTF-8.
func LoadText(filename string) (string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s", ErrInvalidText, filename)
	}
	return string(data), nil
}

// SupportedFormats returns registered format names with their extensions,
// sorted by name.
func SupportedFormats() []string {
	var out []string
	for _, f := range registry {
		out = append(out, f.Name()+" ("+strings.Join(f.Extensions(), ", ")+")")
	}
	natord.Sort(out)
	return out
}

// TextFormat implements Format for plain text files.
type TextFormat struct{}

func init() {
	Register(&TextFormat{})
}

func (f *TextFormat) Name() string         { return "Text" }
func (f *TextFormat) Extensions() []string { return []string{".txt"} }

func (f *TextFormat) Extract(filename string) (string, error) {
	return LoadText(filename)
}
