// Package simple implements a validation service that executes the
// transactions of the block one by one, in order.
//
// Beyond standalone usage, it is the reference the parallel service must be
// equivalent to, and the safety net it falls back to when it cannot trust its
// own speculative run.
package simple

import (
	"sort"

	"go.dedis.ch/parex/core"
	"go.dedis.ch/parex/core/delta"
	"go.dedis.ch/parex/core/execution"
	"go.dedis.ch/parex/core/store"
	"go.dedis.ch/parex/core/store/mem"
	"go.dedis.ch/parex/core/txn"
	"go.dedis.ch/parex/core/validation"
	"golang.org/x/xerrors"
)

// Service is a standard validation service that processes the transactions
// strictly in order while staging the updates on an overlay of the base
// state.
//
// - implements validation.Service
type Service struct {
	execution execution.Service
	config    validation.Config
	watcher   core.Observable
}

// ServiceOption is the type of options to create a service.
type ServiceOption func(*Service)

// WithConfig is an option to set the block policies.
func WithConfig(config validation.Config) ServiceOption {
	return func(srvc *Service) {
		srvc.config = config
	}
}

// WithWatcher is an option to set the observable notified of the commits.
func WithWatcher(watcher core.Observable) ServiceOption {
	return func(srvc *Service) {
		srvc.watcher = watcher
	}
}

// NewService creates a new validation service.
func NewService(exec execution.Service, opts ...ServiceOption) Service {
	srvc := Service{
		execution: exec,
		watcher:   core.NewWatcher(),
	}

	for _, opt := range opts {
		opt(&srvc)
	}

	return srvc
}

// Validate implements validation.Service. It processes the list of
// transactions in order and returns the result of the block.
func (s Service) Validate(base store.Readable, txs []txn.Transaction) (validation.Data, error) {
	overlay := mem.NewOverlay(base)

	data := validation.Data{
		Results: make([]validation.TransactionResult, len(txs)),
	}

	effective := make(map[string]execution.Write)

	committed := 0
	halted := false

	for i, tx := range txs {
		if halted {
			data.Results[i] = validation.TransactionResult{Status: execution.Skipped}
			continue
		}

		out, err := s.executeOne(overlay, execution.Step{Current: tx, Index: i})
		if err != nil {
			// This is a critical error unrelated to the transaction itself.
			return data, xerrors.Errorf("failed to execute tx: %v", err)
		}

		for _, w := range out.Writes {
			effective[string(w.Key)] = w

			if w.Deleted {
				overlay.Delete(w.Key)
			} else {
				overlay.Set(w.Key, w.Value)
			}
		}

		data.Events = append(data.Events, out.Events...)
		data.GasUsed += out.Gas

		data.Results[i] = validation.TransactionResult{
			Status:  out.Status,
			Message: out.Message,
			Gas:     out.Gas,
		}

		committed++

		s.watcher.Notify(validation.CommitEvent{Index: i, Status: out.Status})

		if out.Status == execution.SkipRest || s.config.Exceeded(data.GasUsed, committed) {
			halted = true
		}
	}

	data.Writes = flatten(effective)

	return data, nil
}

// executeOne runs a single transaction against the overlay and materializes
// its deltas, so that the returned output only contains concrete writes. A
// delta that fails to apply aborts the transaction, like it would have if the
// execution had read the value.
func (s Service) executeOne(overlay *mem.Overlay, step execution.Step) (execution.Output, error) {
	collector := validation.NewCollector(overlay)

	res, err := s.execution.Execute(collector, step)
	if err != nil {
		return execution.Output{}, err
	}

	out := collector.Output(res)
	if out.Status == execution.Aborted {
		return out, nil
	}

	for _, d := range out.Deltas {
		current, err := overlay.Get(d.Key)
		if err != nil {
			return execution.Output{}, xerrors.Errorf("failed to read aggregator: %v", err)
		}

		value, err := d.Op.ApplyTo(delta.FromBytes(current))
		if err != nil {
			return execution.Output{
				Status:  execution.Aborted,
				Message: err.Error(),
				Gas:     out.Gas,
			}, nil
		}

		out.Writes = append(out.Writes, execution.Write{
			Key:   d.Key,
			Value: delta.Bytes(value),
		})
	}

	out.Deltas = nil

	sort.Slice(out.Writes, func(i, j int) bool {
		return string(out.Writes[i].Key) < string(out.Writes[j].Key)
	})

	return out, nil
}

// flatten returns the updates ordered by key.
func flatten(effective map[string]execution.Write) []execution.Write {
	writes := make([]execution.Write, 0, len(effective))
	for _, w := range effective {
		writes = append(writes, w)
	}

	sort.Slice(writes, func(i, j int) bool {
		return string(writes[i].Key) < string(writes[j].Key)
	})

	return writes
}
