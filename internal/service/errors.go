package service

import (
	"errors"
	"io/fs"

	"github.com/metcalfc/panels/internal/archive"
	"github.com/metcalfc/panels/internal/catalog"
	"github.com/metcalfc/panels/internal/datauri"
	"github.com/metcalfc/panels/internal/reader"
)

// ErrorKind classifies failures reported by the service.
type ErrorKind int

const (
	Unknown ErrorKind = iota
	NotADirectory
	NotFound
	IoError
	CorruptArchive
	OutOfRange
	DecodeFailure
	InvalidText
)

func (k ErrorKind) String() string {
	switch k {
	case NotADirectory:
		return "not_a_directory"
	case NotFound:
		return "not_found"
	case IoError:
		return "io_error"
	case CorruptArchive:
		return "corrupt_archive"
	case OutOfRange:
		return "out_of_range"
	case DecodeFailure:
		return "decode_failure"
	case InvalidText:
		return "invalid_text"
	default:
		return "unknown"
	}
}

// Kind classifies err. A nil error has kind Unknown.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return Unknown
	case errors.Is(err, catalog.ErrNotADirectory):
		return NotADirectory
	case errors.Is(err, archive.ErrOutOfRange):
		return OutOfRange
	case errors.Is(err, archive.ErrCorrupt):
		return CorruptArchive
	case errors.Is(err, archive.ErrDecode), errors.Is(err, datauri.ErrMalformed):
		return DecodeFailure
	case errors.Is(err, reader.ErrInvalidText):
		return InvalidText
	case errors.Is(err, archive.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return NotFound
	case errors.Is(err, archive.ErrUnreadable), errors.Is(err, fs.ErrPermission):
		return IoError
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return IoError
	}
	return Unknown
}

// Message returns the caller-visible description of err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
