// Package datauri builds and parses self-describing inline assets of the form
// "data:<mime>;base64,<payload>".
package datauri

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	scheme = "data:"
	marker = ";base64,"
)

// ErrMalformed is returned by Parse for strings that are not base64 data URIs.
var ErrMalformed = errors.New("malformed data uri")

// Asset is a mime-tagged, base64-encoded payload.
type Asset struct {
	Mime    string
	Payload string
}

// New encodes data as an asset of the given mime type.
func New(mime string, data []byte) Asset {
	return Asset{Mime: mime, Payload: base64.StdEncoding.EncodeToString(data)}
}

// String renders the asset as a data URI.
func (a Asset) String() string {
	var sb strings.Builder
	sb.Grow(len(scheme) + len(a.Mime) + len(marker) + len(a.Payload))
	sb.WriteString(scheme)
	sb.WriteString(a.Mime)
	sb.WriteString(marker)
	sb.WriteString(a.Payload)
	return sb.String()
}

// Bytes decodes the payload.
func (a Asset) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(a.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", a.Mime, err)
	}
	return data, nil
}

// Parse splits a data URI into its mime type and payload. The payload is not
// decoded.
func Parse(s string) (Asset, error) {
	rest, ok := strings.CutPrefix(s, scheme)
	if !ok {
		return Asset{}, fmt.Errorf("%w: missing %q prefix", ErrMalformed, scheme)
	}
	mime, payload, ok := strings.Cut(rest, marker)
	if !ok {
		return Asset{}, fmt.Errorf("%w: missing %q marker", ErrMalformed, marker)
	}
	if mime == "" {
		return Asset{}, fmt.Errorf("%w: empty mime type", ErrMalformed)
	}
	return Asset{Mime: mime, Payload: payload}, nil
}
