package model

import (
	"sort"

	"github.com/cockroachdb/errors"
)

// DocumentKey names a single document: a path with an even number of segments
// alternating collection id and document id.
type DocumentKey struct {
	path ResourcePath
}

// NewDocumentKey parses "collection/doc[/collection/doc...]".
func NewDocumentKey(s string) (DocumentKey, error) {
	p, err := ParsePath(s)
	if err != nil {
		return DocumentKey{}, err
	}
	return DocumentKeyFromPath(p)
}

// MustDocumentKey is NewDocumentKey for literals; it panics on invalid input.
func MustDocumentKey(s string) DocumentKey {
	k, err := NewDocumentKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// DocumentKeyFromPath validates that p addresses a document.
func DocumentKeyFromPath(p ResourcePath) (DocumentKey, error) {
	if p.IsEmpty() || p.Len()%2 != 0 {
		return DocumentKey{}, errors.Wrapf(ErrInvalidPath, "%q is not a document path", p.CanonicalString())
	}
	return DocumentKey{path: p}, nil
}

func (k DocumentKey) Path() ResourcePath { return k.path }

// CollectionPath is the path of the collection holding the document.
func (k DocumentKey) CollectionPath() ResourcePath { return k.path.Parent() }

func (k DocumentKey) Compare(other DocumentKey) int { return k.path.Compare(other.path) }

func (k DocumentKey) Equal(other DocumentKey) bool { return k.path.Equal(other.path) }

func (k DocumentKey) String() string { return k.path.CanonicalString() }

// SortDocumentKeys orders keys in place and returns them without duplicates.
func SortDocumentKeys(keys []DocumentKey) []DocumentKey {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	out := keys[:0]
	for i, k := range keys {
		if i > 0 && k.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, k)
	}
	return out
}
