package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	t.Parallel()

	p, err := ParsePath("/rooms/eros/messages/")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, "rooms/eros/messages", p.CanonicalString())
	assert.Equal(t, "messages", p.LastSegment())

	empty, err := ParsePath("")
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())

	_, err = ParsePath("rooms//messages")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestResourcePath_Relations(t *testing.T) {
	t.Parallel()

	foo := MustPath("foo")
	fooBar := MustPath("foo/bar")
	deep := MustPath("foo/bar/suffix/key")
	food := MustPath("food/bar")

	assert.True(t, foo.IsImmediateParentOf(fooBar))
	assert.False(t, foo.IsImmediateParentOf(deep))
	assert.False(t, foo.IsImmediateParentOf(food))
	assert.True(t, foo.IsPrefixOf(deep))
	assert.True(t, fooBar.Parent().Equal(foo))
	assert.True(t, foo.Child("bar").Equal(fooBar))
	assert.True(t, ResourcePath{}.Equal(foo.Parent()))
}

func TestResourcePath_Compare(t *testing.T) {
	t.Parallel()

	ordered := []string{"a", "a/b", "a/b/c", "a/c", "ab", "b"}
	for i := range ordered {
		for j := range ordered {
			got := MustPath(ordered[i]).Compare(MustPath(ordered[j]))
			switch {
			case i < j:
				assert.Negative(t, got, "%s < %s", ordered[i], ordered[j])
			case i > j:
				assert.Positive(t, got, "%s > %s", ordered[i], ordered[j])
			default:
				assert.Zero(t, got)
			}
		}
	}
}

func TestNewDocumentKey(t *testing.T) {
	t.Parallel()

	k, err := NewDocumentKey("foo/bar")
	require.NoError(t, err)
	assert.Equal(t, "foo", k.CollectionPath().CanonicalString())

	_, err = NewDocumentKey("foo")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = NewDocumentKey("")
	assert.ErrorIs(t, err, ErrInvalidPath)

	assert.Panics(t, func() { MustDocumentKey("foo/bar/baz") })
}

func TestSortDocumentKeys(t *testing.T) {
	t.Parallel()

	keys := []DocumentKey{
		MustDocumentKey("foo/baz"),
		MustDocumentKey("foo/bar"),
		MustDocumentKey("foo/baz"),
		MustDocumentKey("a/b"),
	}
	got := SortDocumentKeys(keys)
	require.Len(t, got, 3)
	assert.Equal(t, "a/b", got[0].String())
	assert.Equal(t, "foo/bar", got[1].String())
	assert.Equal(t, "foo/baz", got[2].String())
}

func TestQuery(t *testing.T) {
	t.Parallel()

	assert.False(t, QueryAtPath(MustPath("foo")).IsDocumentQuery())
	assert.True(t, QueryAtPath(MustPath("foo/bar")).IsDocumentQuery())
	assert.True(t, Query{CollectionGroup: "messages"}.IsCollectionGroupQuery())
}
