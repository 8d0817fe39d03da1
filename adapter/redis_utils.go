package adapter

import (
	"strconv"

	"github.com/bootjp/pendingq/internal"
	"github.com/bootjp/pendingq/model"
	"github.com/cockroachdb/errors"
)

func parseBatchID(b []byte) (model.BatchID, error) {
	i, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "ERR invalid batch id %q", b)
	}
	return model.BatchID(i), nil
}

func parseDocumentKey(b []byte) (model.DocumentKey, error) {
	return internal.WithStacks(model.NewDocumentKey(string(b)))
}
