package model

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var ErrInvalidPath = errors.New("invalid resource path")

const pathSeparator = "/"

// ResourcePath is a slash separated hierarchical path such as "rooms/eros/messages".
type ResourcePath struct {
	segments []string
}

// ParsePath splits a canonical "a/b/c" string into a ResourcePath.
// Leading and trailing separators are ignored; empty inner segments are rejected.
func ParsePath(s string) (ResourcePath, error) {
	s = strings.Trim(s, pathSeparator)
	if s == "" {
		return ResourcePath{}, nil
	}
	parts := strings.Split(s, pathSeparator)
	for _, p := range parts {
		if p == "" {
			return ResourcePath{}, errors.Wrapf(ErrInvalidPath, "empty segment in %q", s)
		}
	}
	return ResourcePath{segments: parts}, nil
}

// MustPath is ParsePath for literals; it panics on invalid input.
func MustPath(s string) ResourcePath {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PathFromSegments copies segments into a new ResourcePath.
func PathFromSegments(segments []string) (ResourcePath, error) {
	for _, s := range segments {
		if s == "" {
			return ResourcePath{}, errors.Wrap(ErrInvalidPath, "empty segment")
		}
	}
	if len(segments) == 0 {
		return ResourcePath{}, nil
	}
	return ResourcePath{segments: append([]string(nil), segments...)}, nil
}

func (p ResourcePath) Len() int { return len(p.segments) }

func (p ResourcePath) IsEmpty() bool { return len(p.segments) == 0 }

// Segment returns the i-th segment.
func (p ResourcePath) Segment(i int) string { return p.segments[i] }

// Segments returns a copy of the path segments.
func (p ResourcePath) Segments() []string {
	return append([]string(nil), p.segments...)
}

// LastSegment returns the final segment or "" for the empty path.
func (p ResourcePath) LastSegment() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path without its last segment.
func (p ResourcePath) Parent() ResourcePath {
	if len(p.segments) <= 1 {
		return ResourcePath{}
	}
	return ResourcePath{segments: p.segments[:len(p.segments)-1]}
}

// Child appends a segment.
func (p ResourcePath) Child(segment string) ResourcePath {
	out := make([]string, 0, len(p.segments)+1)
	out = append(out, p.segments...)
	out = append(out, segment)
	return ResourcePath{segments: out}
}

// IsPrefixOf reports whether every segment of p leads other.
func (p ResourcePath) IsPrefixOf(other ResourcePath) bool {
	if len(p.segments) > len(other.segments) {
		return false
	}
	for i, s := range p.segments {
		if other.segments[i] != s {
			return false
		}
	}
	return true
}

// IsImmediateParentOf reports whether other is exactly one segment below p.
func (p ResourcePath) IsImmediateParentOf(other ResourcePath) bool {
	return len(p.segments)+1 == len(other.segments) && p.IsPrefixOf(other)
}

// Compare orders paths segment by segment.
func (p ResourcePath) Compare(other ResourcePath) int {
	n := min(len(p.segments), len(other.segments))
	for i := 0; i < n; i++ {
		if c := strings.Compare(p.segments[i], other.segments[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p.segments) < len(other.segments):
		return -1
	case len(p.segments) > len(other.segments):
		return 1
	default:
		return 0
	}
}

func (p ResourcePath) Equal(other ResourcePath) bool { return p.Compare(other) == 0 }

// CanonicalString joins the segments with "/".
func (p ResourcePath) CanonicalString() string {
	return strings.Join(p.segments, pathSeparator)
}

func (p ResourcePath) String() string { return p.CanonicalString() }
