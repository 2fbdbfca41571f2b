package reader

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Pager holds the scroll state for reading a text document a screen at a
// time. Source lines are wrapped to the display width; positions survive
// resizes because they are tracked by source line.
type Pager struct {
	lines    []string
	headings []Heading

	rows      []string
	rowOfLine []int
	lineOfRow []int

	width  int
	height int
	top    int
}

// NewPager creates a Pager for text. headings may be nil.
func NewPager(text string, headings []Heading) *Pager {
	p := &Pager{
		lines:    splitLines(text),
		headings: headings,
		width:    80,
		height:   24,
	}
	p.wrap()
	return p
}

// SetSize re-wraps the document for a new display size, keeping the current
// source line at the top.
func (p *Pager) SetSize(width, height int) {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	line := p.CurrentLine()
	p.width, p.height = width, height
	p.wrap()
	p.JumpToLine(line)
}

func (p *Pager) wrap() {
	p.rows = p.rows[:0]
	p.rowOfLine = make([]int, len(p.lines))
	p.lineOfRow = p.lineOfRow[:0]
	for i, line := range p.lines {
		p.rowOfLine[i] = len(p.rows)
		wrapped := strings.Split(runewidth.Wrap(expandTabs(line), p.width), "\n")
		for _, r := range wrapped {
			p.rows = append(p.rows, r)
			p.lineOfRow = append(p.lineOfRow, i)
		}
	}
	p.clamp()
}

func expandTabs(s string) string {
	return strings.ReplaceAll(s, "\t", "    ")
}

func (p *Pager) maxTop() int {
	if m := len(p.rows) - p.height; m > 0 {
		return m
	}
	return 0
}

func (p *Pager) clamp() {
	if p.top > p.maxTop() {
		p.top = p.maxTop()
	}
	if p.top < 0 {
		p.top = 0
	}
}

// View returns the rows currently on screen.
func (p *Pager) View() []string {
	end := p.top + p.height
	if end > len(p.rows) {
		end = len(p.rows)
	}
	return p.rows[p.top:end]
}

// ScrollDown moves n rows towards the end.
func (p *Pager) ScrollDown(n int) {
	p.top += n
	p.clamp()
}

// ScrollUp moves n rows towards the start.
func (p *Pager) ScrollUp(n int) {
	p.top -= n
	p.clamp()
}

// PageDown moves one screen towards the end.
func (p *Pager) PageDown() { p.ScrollDown(p.height) }

// PageUp moves one screen towards the start.
func (p *Pager) PageUp() { p.ScrollUp(p.height) }

// Home jumps to the start of the document.
func (p *Pager) Home() { p.top = 0 }

// End jumps so the last screen is visible.
func (p *Pager) End() { p.top = p.maxTop() }

// JumpToLine puts source line n at the top of the screen.
func (p *Pager) JumpToLine(n int) {
	if n < 0 || len(p.lines) == 0 {
		p.top = 0
		return
	}
	if n >= len(p.lines) {
		n = len(p.lines) - 1
	}
	p.top = p.rowOfLine[n]
	p.clamp()
}

// CurrentLine returns the source line shown at the top of the screen.
func (p *Pager) CurrentLine() int {
	if p.top < len(p.lineOfRow) {
		return p.lineOfRow[p.top]
	}
	return 0
}

// NextHeading jumps to the first heading below the current line.
func (p *Pager) NextHeading() bool {
	cur := p.CurrentLine()
	for _, h := range p.headings {
		if h.Line > cur {
			p.JumpToLine(h.Line)
			return true
		}
	}
	return false
}

// PrevHeading jumps to the last heading above the current line.
func (p *Pager) PrevHeading() bool {
	cur := p.CurrentLine()
	for i := len(p.headings) - 1; i >= 0; i-- {
		if p.headings[i].Line < cur {
			p.JumpToLine(p.headings[i].Line)
			return true
		}
	}
	return false
}

// CurrentHeading returns the title of the section containing the top line.
func (p *Pager) CurrentHeading() string {
	cur := p.CurrentLine()
	title := ""
	for _, h := range p.headings {
		if h.Line > cur {
			break
		}
		title = h.Title
	}
	return title
}

// Headings returns the document outline.
func (p *Pager) Headings() []Heading { return p.headings }

// Progress returns the 1-based top source line and the number of lines.
func (p *Pager) Progress() (current, total int) {
	if len(p.lines) == 0 {
		return 0, 0
	}
	return p.CurrentLine() + 1, len(p.lines)
}

// AtEnd reports whether the last row is on screen.
func (p *Pager) AtEnd() bool {
	return p.top >= p.maxTop()
}
