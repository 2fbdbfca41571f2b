package reader

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Stats summarizes a text document.
type Stats struct {
	Filename  string `json:"filename"`
	FileType  string `json:"file_type"`
	CharCount int    `json:"char_count"`
	LineCount int    `json:"line_count"`
}

// ReadStats reads filename and counts its characters and lines.
func ReadStats(filename string) (Stats, error) {
	text, err := ExtractText(filename)
	if err != nil {
		return Stats{}, err
	}
	fileType := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if fileType == "" {
		fileType = "txt"
	}
	return Stats{
		Filename:  filepath.Base(filename),
		FileType:  fileType,
		CharCount: utf8.RuneCountInString(text),
		LineCount: CountLines(text),
	}, nil
}

// CountLines counts newline-terminated lines. A final line without a newline
// still counts; an empty string has no lines.
func CountLines(text string) int {
	n := strings.Count(text, "\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// splitLines splits text into lines without their terminators. A trailing
// newline does not produce an extra empty line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
