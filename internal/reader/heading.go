package reader

// Heading is one entry of a document outline.
type Heading struct {
	Title string
	// Level is 0 for a top-level heading.
	Level int
	// Line is the 0-based source line the heading starts on.
	Line int
}

// Outliner is an optional interface for formats that expose an outline.
type Outliner interface {
	Headings(filename string) ([]Heading, error)
}

// Headings returns the outline of filename if its format provides one.
func Headings(filename string) ([]Heading, error) {
	f, ok := Lookup(filename)
	if !ok {
		return nil, nil
	}
	o, ok := f.(Outliner)
	if !ok {
		return nil, nil
	}
	return o.Headings(filename)
}
