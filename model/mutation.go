package model

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// MutationType describes what a mutation does to its target document.
type MutationType byte

const (
	MutationTypeSet MutationType = iota + 1
	MutationTypePatch
	MutationTypeDelete
)

func (t MutationType) String() string {
	switch t {
	case MutationTypeSet:
		return "set"
	case MutationTypePatch:
		return "patch"
	case MutationTypeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseMutationType is the inverse of MutationType.String.
func ParseMutationType(s string) (MutationType, error) {
	switch s {
	case "set":
		return MutationTypeSet, nil
	case "patch":
		return MutationTypePatch, nil
	case "delete":
		return MutationTypeDelete, nil
	default:
		return 0, errors.Wrapf(ErrInvalidMutation, "unknown mutation type %q", s)
	}
}

var ErrInvalidMutation = errors.New("invalid mutation")

// Mutation is a single-document write. The field-level contents are carried
// verbatim; the queue only cares about Key.
type Mutation struct {
	Type      MutationType
	Key       DocumentKey
	Value     map[string]any
	FieldMask []string
}

// NewSetMutation overwrites the document at key with value.
func NewSetMutation(key DocumentKey, value map[string]any) (Mutation, error) {
	v, err := normalizeValue(value)
	if err != nil {
		return Mutation{}, err
	}
	return Mutation{Type: MutationTypeSet, Key: key, Value: v}, nil
}

// NewPatchMutation merges value into the document at key, restricted to mask when given.
func NewPatchMutation(key DocumentKey, value map[string]any, mask []string) (Mutation, error) {
	v, err := normalizeValue(value)
	if err != nil {
		return Mutation{}, err
	}
	var m []string
	if len(mask) > 0 {
		m = append([]string(nil), mask...)
	}
	return Mutation{Type: MutationTypePatch, Key: key, Value: v, FieldMask: m}, nil
}

// NewDeleteMutation removes the document at key.
func NewDeleteMutation(key DocumentKey) Mutation {
	return Mutation{Type: MutationTypeDelete, Key: key}
}

// normalizeValue passes value through structpb so that in-memory values and
// values decoded from storage share one representation (numbers become float64).
func normalizeValue(value map[string]any) (map[string]any, error) {
	s, err := structpb.NewStruct(value)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidMutation, err.Error())
	}
	return s.AsMap(), nil
}

// Validate checks the structural requirements of a mutation.
func (m Mutation) Validate() error {
	if m.Key.Path().IsEmpty() {
		return errors.Wrap(ErrInvalidMutation, "missing key")
	}
	switch m.Type {
	case MutationTypeSet, MutationTypePatch:
		return nil
	case MutationTypeDelete:
		if m.Value != nil || m.FieldMask != nil {
			return errors.Wrap(ErrInvalidMutation, "delete carries a value")
		}
		return nil
	default:
		return errors.Wrapf(ErrInvalidMutation, "unknown type %d", m.Type)
	}
}
