package expense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"spendings/internal/blob"
	"spendings/internal/core"
	"spendings/internal/log"
)

type failure string

const (
	failureNone   failure = ""
	failureRead   failure = "read"
	failureDecode failure = "decode"
	failureEncode failure = "encode"
	failureWrite  failure = "write"
)

// result records how a load or save went. The public API swallows
// persistence failures, so this is the only place they remain visible.
type result struct {
	failure failure
	err     error
	// found is false when a load found no blob under the key.
	found bool
	bytes int
}

func (r result) ok() bool {
	return r.failure == failureNone
}

func (s *Store) load(ctx context.Context) ([]core.Expense, result) {
	data, err := s.blobs.Get(ctx, s.key)
	if errors.Is(err, blob.ErrNotFound) {
		s.logger.InfoContext(ctx, "No saved expenses, starting empty", log.FieldKey, s.key)
		return nil, result{}
	}
	if err != nil {
		s.logger.WarnContext(ctx, "Reading saved expenses failed, starting empty",
			log.NewFields().WithKey(s.key).WithOperation(log.OpLoad).WithError(err).ToSlice()...)
		return nil, result{failure: failureRead, err: err}
	}

	items, err := decode(data)
	if err != nil {
		s.logger.WarnContext(ctx, "Decoding saved expenses failed, starting empty",
			log.NewFields().WithKey(s.key).WithOperation(log.OpLoad).WithError(err).ToSlice()...)
		return nil, result{failure: failureDecode, err: err, found: true, bytes: len(data)}
	}

	s.logger.InfoContext(ctx, "Loaded saved expenses",
		log.FieldKey, s.key, log.FieldCount, len(items), log.FieldBytes, len(data))
	return items, result{found: true, bytes: len(data)}
}

// save rewrites the whole collection under the key. Failures are logged and
// returned as a result; the in-memory collection is kept either way.
func (s *Store) save(ctx context.Context) result {
	data, err := encode(s.items)
	if err != nil {
		s.logger.ErrorContext(ctx, "Encoding expenses failed, changes not persisted",
			log.NewFields().WithKey(s.key).WithOperation(log.OpSave).WithError(err).ToSlice()...)
		return result{failure: failureEncode, err: err}
	}
	if err := s.blobs.Set(ctx, s.key, data); err != nil {
		s.logger.ErrorContext(ctx, "Writing expenses failed, changes not persisted",
			log.NewFields().WithKey(s.key).WithOperation(log.OpSave).WithError(err).ToSlice()...)
		return result{failure: failureWrite, err: err, bytes: len(data)}
	}
	s.logger.DebugContext(ctx, "Expenses persisted",
		log.FieldKey, s.key, log.FieldCount, len(s.items), log.FieldBytes, len(data))
	return result{bytes: len(data)}
}

func encode(items []core.Expense) ([]byte, error) {
	if items == nil {
		items = []core.Expense{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode expenses: %w", err)
	}
	return data, nil
}

func decode(data []byte) ([]core.Expense, error) {
	var items []core.Expense
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode expenses: %w", err)
	}
	return items, nil
}
