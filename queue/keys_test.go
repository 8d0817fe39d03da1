package queue

import (
	"bytes"
	"testing"

	"github.com/bootjp/pendingq/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func pathGen() *rapid.Generator[model.ResourcePath] {
	segment := rapid.StringOfN(rapid.RuneFrom([]rune{0x00, 0x01, 0x02, 'a', 'b', '/'}), 1, 4, -1)
	return rapid.Custom(func(t *rapid.T) model.ResourcePath {
		segs := rapid.SliceOfN(segment, 0, 4).Draw(t, "segments")
		p, err := model.PathFromSegments(segs)
		if err != nil {
			t.Fatalf("path: %v", err)
		}
		return p
	})
}

func TestEncodePath_PreservesOrder(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		a := pathGen().Draw(t, "a")
		b := pathGen().Draw(t, "b")
		if got, want := bytes.Compare(encodePath(a), encodePath(b)), a.Compare(b); got != want {
			t.Fatalf("compare(%q, %q) = %d, want %d", a, b, got, want)
		}
	})
}

func TestEncodePath_RoundTrip(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		p := pathGen().Draw(t, "p")
		got, err := decodePath(encodePath(p))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !got.Equal(p) {
			t.Fatalf("decoded %q, want %q", got, p)
		}
	})
}

func TestEncodePath_PrefixMatchesDescendantsOnly(t *testing.T) {
	t.Parallel()
	foo := encodePath(model.MustPath("foo"))
	assert.True(t, bytes.HasPrefix(encodePath(model.MustPath("foo/bar")), foo))
	assert.True(t, bytes.HasPrefix(encodePath(model.MustPath("foo/bar/baz/qux")), foo))
	assert.False(t, bytes.HasPrefix(encodePath(model.MustPath("food/bar")), foo))
	assert.False(t, bytes.HasPrefix(encodePath(model.MustPath("fo/bar")), foo))
}

func TestDecodePath_RejectsMalformed(t *testing.T) {
	t.Parallel()
	for _, raw := range [][]byte{
		{'a'},
		{'a', escapeByte},
		{'a', escapeByte, 0x7f},
	} {
		_, err := decodePath(raw)
		assert.ErrorIs(t, err, ErrCorruptBatch, "%x", raw)
	}
}

func TestSortableBatchID_Order(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		a := model.BatchID(rapid.Int64().Draw(t, "a"))
		b := model.BatchID(rapid.Int64().Draw(t, "b"))
		ka, kb := batchKey("u", a), batchKey("u", b)
		want := 0
		switch {
		case a < b:
			want = -1
		case a > b:
			want = 1
		}
		if got := bytes.Compare(ka, kb); got != want {
			t.Fatalf("compare(%d, %d) = %d, want %d", a, b, got, want)
		}
		id, err := batchIDFromKey(batchKeyPrefix("u"), ka)
		if err != nil || id != a {
			t.Fatalf("decoded %d (%v), want %d", id, err, a)
		}
	})
}

func TestKeys_NamespacesDoNotOverlap(t *testing.T) {
	t.Parallel()
	// A uid that is a prefix of another must not share its key range.
	a := batchKeyPrefix("user")
	b := batchKeyPrefix("user2")
	assert.False(t, bytes.HasPrefix(b, a))

	key := model.MustDocumentKey("foo/bar")
	assert.False(t, bytes.HasPrefix(indexKey("user2", key, 1), indexKeyPrefix("user")))
}

func TestSplitIndexKey(t *testing.T) {
	t.Parallel()
	key := model.MustDocumentKey("rooms/eros/messages/1")
	prefix := indexKeyPrefix("u")

	raw, id, err := splitIndexKey(prefix, indexKey("u", key, 42))
	require.NoError(t, err)
	assert.Equal(t, model.BatchID(42), id)
	assert.Equal(t, encodePath(key.Path()), raw)

	_, _, err = splitIndexKey(prefix, []byte("short"))
	assert.ErrorIs(t, err, ErrIndexInconsistent)
}
