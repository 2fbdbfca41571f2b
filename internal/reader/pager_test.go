package reader

import (
	"fmt"
	"strings"
	"testing"
)

func numberedText(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	return sb.String()
}

func TestPagerScrolling(t *testing.T) {
	p := NewPager(numberedText(50), nil)
	p.SetSize(80, 10)

	if got := p.View(); len(got) != 10 || got[0] != "line 0" {
		t.Fatalf("View() = %v", got)
	}

	p.PageDown()
	if cur, total := p.Progress(); cur != 11 || total != 50 {
		t.Errorf("Progress() = %d/%d, want 11/50", cur, total)
	}

	p.ScrollUp(3)
	if p.CurrentLine() != 7 {
		t.Errorf("CurrentLine() = %d, want 7", p.CurrentLine())
	}

	p.End()
	if !p.AtEnd() || p.View()[9] != "line 49" {
		t.Errorf("End() view = %v", p.View())
	}
	p.ScrollDown(5)
	if p.CurrentLine() != 40 {
		t.Errorf("scrolling past end moved top to %d", p.CurrentLine())
	}

	p.Home()
	p.ScrollUp(1)
	if p.CurrentLine() != 0 {
		t.Errorf("scrolling before start moved top to %d", p.CurrentLine())
	}
}

func TestPagerWrapKeepsPosition(t *testing.T) {
	text := strings.Repeat("x", 30) + "\n" + "second\n" + "third\n"
	p := NewPager(text, nil)
	p.SetSize(10, 2)

	// 30 cells wrap into 3 rows at width 10.
	if got := p.View(); got[0] != strings.Repeat("x", 10) {
		t.Fatalf("View() = %q", got)
	}
	p.JumpToLine(1)
	if got := p.View()[0]; got != "second" {
		t.Errorf("JumpToLine(1) view = %q", got)
	}

	p.SetSize(40, 2)
	if p.CurrentLine() != 1 {
		t.Errorf("resize lost position: line %d", p.CurrentLine())
	}
}

func TestPagerHeadings(t *testing.T) {
	text := "# One\na\nb\n## Two\nc\nd\n# Three\ne\nf\ng\nh\n"
	p := NewPager(text, ParseHeadings(text))
	p.SetSize(80, 3)

	if p.CurrentHeading() != "One" {
		t.Errorf("CurrentHeading() = %q, want One", p.CurrentHeading())
	}
	if !p.NextHeading() || p.CurrentLine() != 3 {
		t.Errorf("NextHeading() line = %d, want 3", p.CurrentLine())
	}
	if p.CurrentHeading() != "Two" {
		t.Errorf("CurrentHeading() = %q, want Two", p.CurrentHeading())
	}
	p.NextHeading()
	if p.CurrentLine() != 6 {
		t.Errorf("NextHeading() line = %d, want 6", p.CurrentLine())
	}
	if p.NextHeading() {
		t.Error("NextHeading() past last heading should report false")
	}
	if !p.PrevHeading() || p.CurrentLine() != 3 {
		t.Errorf("PrevHeading() line = %d, want 3", p.CurrentLine())
	}
}

func TestPagerEmpty(t *testing.T) {
	p := NewPager("", nil)
	if len(p.View()) != 0 {
		t.Errorf("View() = %v, want empty", p.View())
	}
	if cur, total := p.Progress(); cur != 0 || total != 0 {
		t.Errorf("Progress() = %d/%d", cur, total)
	}
	p.PageDown()
	p.JumpToLine(5)
	if !p.AtEnd() {
		t.Error("empty pager should be at end")
	}
}
