package queue

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/bootjp/pendingq/internal"
	"github.com/bootjp/pendingq/model"
	"github.com/cockroachdb/errors"
	"github.com/spaolacci/murmur3"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const batchRecordVersion byte = 1

const (
	mutationFlagValue byte = 0x01
	checksumSize           = 4
)

var marshalOptions = proto.MarshalOptions{Deterministic: true}

// Record layout:
//
//	version(1) batch_id(8) write_time(len4 + Timestamp proto)
//	count(4) { type(1) path(len4 + encoded path) flags(1)
//	           [value(len4 + Struct proto)] mask_count(4) { field(len4) } }
//	murmur3_32(4) over everything before it
func encodeBatch(b *model.MutationBatch) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(batchRecordVersion)
	_ = binary.Write(&buf, binary.BigEndian, int64(b.BatchID))

	ts, err := marshalOptions.Marshal(timestamppb.New(b.LocalWriteTime))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := writeBytes(&buf, ts); err != nil {
		return nil, err
	}

	if err := writeLen(&buf, len(b.Mutations)); err != nil {
		return nil, err
	}
	for _, m := range b.Mutations {
		if err := encodeMutation(&buf, m); err != nil {
			return nil, err
		}
	}

	_ = binary.Write(&buf, binary.BigEndian, murmur3.Sum32(buf.Bytes()))
	return buf.Bytes(), nil
}

func encodeMutation(buf *bytes.Buffer, m model.Mutation) error {
	buf.WriteByte(byte(m.Type))
	if err := writeBytes(buf, encodePath(m.Key.Path())); err != nil {
		return err
	}

	var flags byte
	if m.Value != nil {
		flags |= mutationFlagValue
	}
	buf.WriteByte(flags)
	if m.Value != nil {
		s, err := structpb.NewStruct(m.Value)
		if err != nil {
			return errors.WithStack(err)
		}
		v, err := marshalOptions.Marshal(s)
		if err != nil {
			return errors.WithStack(err)
		}
		if err := writeBytes(buf, v); err != nil {
			return err
		}
	}

	if err := writeLen(buf, len(m.FieldMask)); err != nil {
		return err
	}
	for _, f := range m.FieldMask {
		if err := writeBytes(buf, []byte(f)); err != nil {
			return err
		}
	}
	return nil
}

func decodeBatch(data []byte) (*model.MutationBatch, error) {
	if len(data) < 1+checksumSize {
		return nil, errors.Wrap(ErrCorruptBatch, "record too short")
	}
	payload := data[:len(data)-checksumSize]
	expected := binary.BigEndian.Uint32(data[len(data)-checksumSize:])
	if murmur3.Sum32(payload) != expected {
		return nil, errors.Wrap(ErrCorruptBatch, "checksum mismatch")
	}
	if payload[0] != batchRecordVersion {
		return nil, errors.Wrapf(ErrCorruptBatch, "unsupported version %d", payload[0])
	}

	r := bytes.NewReader(payload[1:])
	var id int64
	if err := binary.Read(r, binary.BigEndian, &id); err != nil {
		return nil, corrupt(err)
	}

	rawTS, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	var ts timestamppb.Timestamp
	if err := proto.Unmarshal(rawTS, &ts); err != nil {
		return nil, corrupt(err)
	}
	if err := ts.CheckValid(); err != nil {
		return nil, corrupt(err)
	}

	n, err := readLen(r)
	if err != nil {
		return nil, err
	}
	if n > r.Len() {
		return nil, errors.Wrap(ErrCorruptBatch, "mutation count exceeds record")
	}
	mutations := make([]model.Mutation, 0, n)
	for i := 0; i < n; i++ {
		m, err := decodeMutation(r)
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, m)
	}
	if r.Len() != 0 {
		return nil, errors.Wrap(ErrCorruptBatch, "trailing bytes")
	}

	return model.NewMutationBatch(model.BatchID(id), ts.AsTime(), mutations), nil
}

func decodeMutation(r *bytes.Reader) (model.Mutation, error) {
	typ, err := r.ReadByte()
	if err != nil {
		return model.Mutation{}, corrupt(err)
	}
	rawPath, err := readBytes(r)
	if err != nil {
		return model.Mutation{}, err
	}
	path, err := decodePath(rawPath)
	if err != nil {
		return model.Mutation{}, err
	}
	key, err := model.DocumentKeyFromPath(path)
	if err != nil {
		return model.Mutation{}, corrupt(err)
	}

	m := model.Mutation{Type: model.MutationType(typ), Key: key}

	flags, err := r.ReadByte()
	if err != nil {
		return model.Mutation{}, corrupt(err)
	}
	if flags&mutationFlagValue != 0 {
		raw, err := readBytes(r)
		if err != nil {
			return model.Mutation{}, err
		}
		var s structpb.Struct
		if err := proto.Unmarshal(raw, &s); err != nil {
			return model.Mutation{}, corrupt(err)
		}
		m.Value = s.AsMap()
	}

	count, err := readLen(r)
	if err != nil {
		return model.Mutation{}, err
	}
	for i := 0; i < count; i++ {
		f, err := readBytes(r)
		if err != nil {
			return model.Mutation{}, err
		}
		m.FieldMask = append(m.FieldMask, string(f))
	}

	if err := m.Validate(); err != nil {
		return model.Mutation{}, corrupt(err)
	}
	return m, nil
}

func corrupt(err error) error {
	return errors.Wrap(ErrCorruptBatch, err.Error())
}

func writeLen(buf *bytes.Buffer, n int) error {
	u, err := internal.IntToUint32(n)
	if err != nil {
		return err
	}
	_ = binary.Write(buf, binary.BigEndian, u)
	return nil
}

func writeBytes(buf *bytes.Buffer, b []byte) error {
	if err := writeLen(buf, len(b)); err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func readLen(r *bytes.Reader) (int, error) {
	var u uint32
	if err := binary.Read(r, binary.BigEndian, &u); err != nil {
		return 0, corrupt(err)
	}
	n, err := internal.Uint32ToInt(u)
	if err != nil {
		return 0, corrupt(err)
	}
	return n, nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readLen(r)
	if err != nil {
		return nil, err
	}
	if n > r.Len() {
		return nil, errors.Wrap(ErrCorruptBatch, "field truncated")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, corrupt(err)
	}
	return b, nil
}
