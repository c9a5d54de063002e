// Package docstore provides a path-addressed document store with merge writes.
//
// Documents live at slash-separated paths with an even number of segments
// (collection/id/collection/id...). A document is a flat set of top-level
// fields, each holding a JSON value. Set merges: supplied fields replace the
// stored ones, fields absent from the write are kept.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
)

var (
	// ErrNotFound is returned by Get when no document exists at the path.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidPath is returned for malformed document or collection paths.
	ErrInvalidPath = errors.New("invalid document path")
)

// Fields holds the top-level fields of a document as raw JSON values.
type Fields map[string]json.RawMessage

// Clone returns a deep copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Merge returns base with every field of update applied on top.
func Merge(base, update Fields) Fields {
	out := base.Clone()
	maps.Copy(out, update.Clone())
	return out
}

// Path is a slash-separated document or collection path.
type Path string

// Join builds a path from segments, rejecting empty segments and segments
// containing '/'.
func Join(segments ...string) (Path, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: no segments", ErrInvalidPath)
	}
	for _, s := range segments {
		if s == "" || strings.Contains(s, "/") {
			return "", fmt.Errorf("%w: bad segment %q", ErrInvalidPath, s)
		}
	}
	return Path(strings.Join(segments, "/")), nil
}

func (p Path) segments() []string {
	return strings.Split(string(p), "/")
}

// IsDocument reports whether p names a document (even segment count).
func (p Path) IsDocument() bool {
	if p == "" {
		return false
	}
	return len(p.segments())%2 == 0
}

// Collection returns the collection containing the document at p.
func (p Path) Collection() Path {
	i := strings.LastIndex(string(p), "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// ID returns the last segment of p.
func (p Path) ID() string {
	i := strings.LastIndex(string(p), "/")
	return string(p[i+1:])
}

func (p Path) validDocument() error {
	if !p.IsDocument() {
		return fmt.Errorf("%w: %q is not a document path", ErrInvalidPath, p)
	}
	return nil
}

func (p Path) validCollection() error {
	if p == "" || p.IsDocument() {
		return fmt.Errorf("%w: %q is not a collection path", ErrInvalidPath, p)
	}
	return nil
}

// DocumentStore persists documents addressed by Path.
type DocumentStore interface {
	// Get returns the document fields, or ErrNotFound.
	Get(ctx context.Context, path Path) (Fields, error)
	// Set merges fields into the document, creating it when missing.
	Set(ctx context.Context, path Path, fields Fields) error
	// List returns every document directly inside collection, keyed by ID.
	List(ctx context.Context, collection Path) (map[string]Fields, error)
}
