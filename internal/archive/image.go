package archive

import (
	"path"
	"strings"
)

// ImageKind is the closed set of page image formats recognized inside a
// container.
type ImageKind int

const (
	Jpeg ImageKind = iota
	Png
	Gif
	Bmp
	Webp
)

var imageExtensions = map[string]ImageKind{
	".jpg":  Jpeg,
	".jpeg": Jpeg,
	".png":  Png,
	".gif":  Gif,
	".bmp":  Bmp,
	".webp": Webp,
}

// ClassifyImage resolves the image kind of an entry name from its final
// extension, ignoring case.
func ClassifyImage(name string) (ImageKind, bool) {
	k, ok := imageExtensions[strings.ToLower(path.Ext(name))]
	return k, ok
}

// Mime returns the media type for the kind.
func (k ImageKind) Mime() string {
	switch k {
	case Png:
		return "image/png"
	case Gif:
		return "image/gif"
	case Bmp:
		return "image/bmp"
	case Webp:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func (k ImageKind) String() string {
	switch k {
	case Png:
		return "png"
	case Gif:
		return "gif"
	case Bmp:
		return "bmp"
	case Webp:
		return "webp"
	default:
		return "jpeg"
	}
}
