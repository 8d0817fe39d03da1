package adapter

import (
	"encoding/json"
	"time"

	"github.com/bootjp/pendingq/model"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// JSON shapes used on the wire. Document values go through protojson so they
// match the structpb form the queue stores.

type mutationJSON struct {
	Op    string          `json:"op"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
	Mask  []string        `json:"mask,omitempty"`
}

type batchJSON struct {
	ID             int64          `json:"id"`
	LocalWriteTime time.Time      `json:"local_write_time"`
	Mutations      []mutationJSON `json:"mutations"`
}

func encodeBatchJSON(b *model.MutationBatch) (string, error) {
	out := batchJSON{
		ID:             int64(b.BatchID),
		LocalWriteTime: b.LocalWriteTime,
		Mutations:      make([]mutationJSON, 0, len(b.Mutations)),
	}
	for _, m := range b.Mutations {
		mj := mutationJSON{Op: m.Type.String(), Key: m.Key.String(), Mask: m.FieldMask}
		if m.Value != nil {
			s, err := structpb.NewStruct(m.Value)
			if err != nil {
				return "", errors.WithStack(err)
			}
			raw, err := protojson.Marshal(s)
			if err != nil {
				return "", errors.WithStack(err)
			}
			mj.Value = raw
		}
		out.Mutations = append(out.Mutations, mj)
	}
	raw, err := json.Marshal(out)
	return string(raw), errors.WithStack(err)
}

func encodeBatchesJSON(batches []*model.MutationBatch) ([]string, error) {
	out := make([]string, 0, len(batches))
	for _, b := range batches {
		s, err := encodeBatchJSON(b)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// decodeValue parses a JSON object into a document value.
func decodeValue(raw []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(raw, &s); err != nil {
		return nil, errors.Wrap(model.ErrInvalidMutation, err.Error())
	}
	return s.AsMap(), nil
}

func decodeMutation(in mutationJSON) (model.Mutation, error) {
	typ, err := model.ParseMutationType(in.Op)
	if err != nil {
		return model.Mutation{}, errors.WithStack(err)
	}
	key, err := model.NewDocumentKey(in.Key)
	if err != nil {
		return model.Mutation{}, errors.WithStack(err)
	}
	if typ == model.MutationTypeDelete {
		return model.NewDeleteMutation(key), nil
	}

	value := map[string]any{}
	if len(in.Value) > 0 {
		if value, err = decodeValue(in.Value); err != nil {
			return model.Mutation{}, err
		}
	}
	if typ == model.MutationTypePatch {
		m, err := model.NewPatchMutation(key, value, in.Mask)
		return m, errors.WithStack(err)
	}
	m, err := model.NewSetMutation(key, value)
	return m, errors.WithStack(err)
}

// decodeMutations parses a JSON array of {"op","key","value","mask"} objects.
func decodeMutations(raw []byte) ([]model.Mutation, error) {
	var in []mutationJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, errors.Wrap(model.ErrInvalidMutation, err.Error())
	}
	out := make([]model.Mutation, 0, len(in))
	for _, mj := range in {
		m, err := decodeMutation(mj)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
