package reader

import (
	"regexp"
	"strings"
)

// MarkdownFormat implements Format for Markdown files.
type MarkdownFormat struct{}

func init() {
	Register(&MarkdownFormat{})
}

func (f *MarkdownFormat) Name() string         { return "Markdown" }
func (f *MarkdownFormat) Extensions() []string { return []string{".md", ".markdown"} }

func (f *MarkdownFormat) Extract(filename string) (string, error) {
	return LoadText(filename)
}

// headerRegex matches ATX headers (# to ######).
var headerRegex = regexp.MustCompile(`^ {0,3}(#{1,6})\s+(.+?)(?:\s+#+)?\s*$`)

// Headings parses the ATX headers of a Markdown file. Lines inside fenced
// code blocks are ignored.
func (f *MarkdownFormat) Headings(filename string) ([]Heading, error) {
	text, err := LoadText(filename)
	if err != nil {
		return nil, err
	}
	return ParseHeadings(text), nil
}

// ParseHeadings extracts the ATX headers of Markdown source.
func ParseHeadings(text string) []Heading {
	var (
		out   []Heading
		fence string
	)
	for i, line := range splitLines(text) {
		trimmed := strings.TrimSpace(line)
		if fence != "" {
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
			continue
		}
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			fence = trimmed[:3]
			continue
		}
		if m := headerRegex.FindStringSubmatch(line); m != nil {
			out = append(out, Heading{
				Title: strings.TrimSpace(m[2]),
				Level: len(m[1]) - 1,
				Line:  i,
			})
		}
	}
	return out
}
