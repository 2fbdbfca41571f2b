package catalog

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind is the closed set of document types the catalog recognizes.
type Kind int

const (
	Zip Kind = iota
	Markdown
	Text
	EPUB
)

var kindNames = map[Kind]string{
	Zip:      "zip",
	Markdown: "md",
	Text:     "txt",
	EPUB:     "epub",
}

// Classify resolves the document kind of a file name from its extension,
// ignoring case. EPUB is only reported when epub is true.
func Classify(name string, epub bool) (Kind, bool) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "zip":
		return Zip, true
	case "md":
		return Markdown, true
	case "txt":
		return Text, true
	case "epub":
		if epub {
			return EPUB, true
		}
	}
	return 0, false
}

// IsText reports whether documents of this kind are read as text.
func (k Kind) IsText() bool { return k == Markdown || k == Text || k == EPUB }

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	s, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown document kind %d", int(k))
	}
	return []byte(s), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, s := range kindNames {
		if s == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown document kind %q", b)
}
