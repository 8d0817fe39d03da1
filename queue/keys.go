package queue

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/bootjp/pendingq/model"
	"github.com/cockroachdb/errors"
)

// Keyspace layout (byte-wise, lexicographically sortable):
//
//	!mq|meta|{uid_len_be4}{uid}                         -> queue metadata (JSON)
//	!mq|batch|{uid_len_be4}{uid}{batch_id}              -> encoded mutation batch
//	!mq|docidx|{uid_len_be4}{uid}{path}{batch_id}       -> index marker
//
// batch_id is a sign-flipped big-endian int64. path is the document path with
// every segment escaped and terminated by segmentTerminator, so that the
// encoding of "foo" is a byte prefix of "foo/bar" but not of "food/bar".
const (
	metaPrefix  = "!mq|meta|"
	batchPrefix = "!mq|batch|"
	indexPrefix = "!mq|docidx|"
)

const (
	escapeByte        byte = 0x01
	separatorMarker   byte = 0x01
	escapedNul        byte = 0x10
	escapedEscapeByte byte = 0x11

	sortableInt64Bytes = 8
)

var indexEntryValue = []byte{0x00}

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendNamespace(dst []byte, prefix string, uid string) []byte {
	dst = append(dst, prefix...)
	//nolint:gosec
	dst = appendBE4(dst, uint32(len(uid)))
	return append(dst, uid...)
}

func appendSortableBatchID(dst []byte, id model.BatchID) []byte {
	var raw [sortableInt64Bytes]byte
	binary.BigEndian.PutUint64(raw[:], uint64(int64(id)^math.MinInt64))
	return append(dst, raw[:]...)
}

func decodeSortableBatchID(b []byte) (model.BatchID, error) {
	if len(b) != sortableInt64Bytes {
		return 0, errors.Wrapf(ErrCorruptBatch, "batch id has %d bytes", len(b))
	}
	//nolint:gosec
	return model.BatchID(int64(binary.BigEndian.Uint64(b)) ^ math.MinInt64), nil
}

func metaKey(uid string) []byte {
	return appendNamespace(nil, metaPrefix, uid)
}

func batchKeyPrefix(uid string) []byte {
	return appendNamespace(nil, batchPrefix, uid)
}

func batchKey(uid string, id model.BatchID) []byte {
	return appendSortableBatchID(batchKeyPrefix(uid), id)
}

// batchKeyAfter is the exclusive upper bound for ids <= id.
func batchKeyAfter(uid string, id model.BatchID) []byte {
	if id == math.MaxInt64 {
		return nil
	}
	return batchKey(uid, id+1)
}

func batchIDFromKey(prefix, key []byte) (model.BatchID, error) {
	if !bytes.HasPrefix(key, prefix) {
		return 0, errors.Wrap(ErrCorruptBatch, "batch key outside namespace")
	}
	return decodeSortableBatchID(key[len(prefix):])
}

func indexKeyPrefix(uid string) []byte {
	return appendNamespace(nil, indexPrefix, uid)
}

func indexPathPrefix(uid string, path model.ResourcePath) []byte {
	return appendEncodedPath(indexKeyPrefix(uid), path)
}

func indexKey(uid string, key model.DocumentKey, id model.BatchID) []byte {
	return appendSortableBatchID(indexPathPrefix(uid, key.Path()), id)
}

// splitIndexKey returns the encoded path and batch id of an index entry.
func splitIndexKey(prefix, key []byte) ([]byte, model.BatchID, error) {
	if !bytes.HasPrefix(key, prefix) || len(key)-len(prefix) < sortableInt64Bytes {
		return nil, 0, errors.Wrap(ErrIndexInconsistent, "malformed index key")
	}
	rest := key[len(prefix):]
	encoded := rest[:len(rest)-sortableInt64Bytes]
	id, err := decodeSortableBatchID(rest[len(rest)-sortableInt64Bytes:])
	if err != nil {
		return nil, 0, err
	}
	return encoded, id, nil
}

func appendEncodedPath(dst []byte, path model.ResourcePath) []byte {
	for i := 0; i < path.Len(); i++ {
		dst = appendEncodedSegment(dst, path.Segment(i))
	}
	return dst
}

func appendEncodedSegment(dst []byte, segment string) []byte {
	for i := 0; i < len(segment); i++ {
		switch c := segment[i]; c {
		case 0x00:
			dst = append(dst, escapeByte, escapedNul)
		case escapeByte:
			dst = append(dst, escapeByte, escapedEscapeByte)
		default:
			dst = append(dst, c)
		}
	}
	return append(dst, escapeByte, separatorMarker)
}

func encodePath(path model.ResourcePath) []byte {
	return appendEncodedPath(nil, path)
}

func decodePath(b []byte) (model.ResourcePath, error) {
	var segments []string
	var seg []byte
	for i := 0; i < len(b); i++ {
		if b[i] != escapeByte {
			seg = append(seg, b[i])
			continue
		}
		if i+1 >= len(b) {
			return model.ResourcePath{}, errors.Wrap(ErrCorruptBatch, "truncated path escape")
		}
		i++
		switch b[i] {
		case separatorMarker:
			segments = append(segments, string(seg))
			seg = seg[:0]
		case escapedNul:
			seg = append(seg, 0x00)
		case escapedEscapeByte:
			seg = append(seg, escapeByte)
		default:
			return model.ResourcePath{}, errors.Wrapf(ErrCorruptBatch, "invalid path escape 0x%02x", b[i])
		}
	}
	if len(seg) > 0 {
		return model.ResourcePath{}, errors.Wrap(ErrCorruptBatch, "unterminated path segment")
	}
	p, err := model.PathFromSegments(segments)
	return p, errors.WithStack(err)
}
