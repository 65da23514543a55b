package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Trail writes one record per cycle. Every cycle is recorded, including the
// ones that erred before producing a decision.
type Trail struct {
	store Store
}

// NewTrail wraps a store.
func NewTrail(store Store) (*Trail, error) {
	if store == nil {
		return nil, errors.New("audit: nil store")
	}
	return &Trail{store: store}, nil
}

// Store exposes the underlying store for read surfaces.
func (t *Trail) Store() Store {
	return t.store
}

// RecordCycle finalizes and persists the record. A persistence failure is a
// serious condition; it is logged loudly and returned.
func (t *Trail) RecordCycle(ctx context.Context, record Record) (Record, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CycleID == "" {
		record.CycleID = record.Inputs.CycleID
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if record.Symbol == "" {
		record.Symbol = record.Inputs.Symbol
	}
	if record.InputHash == "" {
		hash, err := record.Inputs.Hash()
		if err != nil {
			logs.Errorf("hash cycle inputs %s, err: %+v", record.CycleID, err)
			record.Error = joinErrors(record.Error, "hash inputs: "+err.Error())
		} else {
			record.InputHash = hash
		}
	}

	if err := t.store.Save(ctx, record); err != nil {
		logs.Errorf("AUDIT WRITE FAILED for cycle %s: %+v", record.CycleID, err)
		return record, errors.Wrap(err, "record cycle")
	}
	return record, nil
}

func joinErrors(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
