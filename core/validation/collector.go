package validation

import (
	"sort"

	"go.dedis.ch/parex/core/delta"
	"go.dedis.ch/parex/core/execution"
	"go.dedis.ch/parex/core/store"
	"golang.org/x/xerrors"
)

// Collector is a snapshot that collects the effects of a single execution
// instead of applying them. Reads that are not answered by the local updates
// are delegated to the reader, so the same collector serves the sequential
// service, where the reader is the staging overlay of the block, and the
// parallel engine, where the reader goes through the multi-version store.
//
// The collector defines the semantics shared by both services:
//   - an execution reads its own writes;
//   - a partial update on a key the execution has written itself is folded
//     into the written value right away;
//   - a write to a key discards the pending partial updates of that key;
//   - reading a key with a pending partial update resolves it against the
//     underlying value.
//
// - implements execution.Snapshot
type Collector struct {
	reader store.Readable

	writes map[string]execution.Write
	deltas map[string]delta.Op
	events []execution.Event
}

// NewCollector creates a new collector reading through the given store.
func NewCollector(reader store.Readable) *Collector {
	return &Collector{
		reader: reader,
		writes: make(map[string]execution.Write),
		deltas: make(map[string]delta.Op),
	}
}

// Get implements store.Readable. It returns the value as the execution sees
// it, local updates included.
func (c *Collector) Get(key []byte) ([]byte, error) {
	if w, found := c.writes[string(key)]; found {
		if w.Deleted {
			return nil, nil
		}

		return w.Value, nil
	}

	value, err := c.reader.Get(key)
	if err != nil {
		return nil, err
	}

	op, found := c.deltas[string(key)]
	if !found {
		return value, nil
	}

	resolved, err := op.ApplyTo(delta.FromBytes(value))
	if err != nil {
		return nil, xerrors.Errorf("failed to resolve delta: %v", err)
	}

	return delta.Bytes(resolved), nil
}

// Set implements store.Writable. It stages the value for the key.
func (c *Collector) Set(key, value []byte) error {
	c.writes[string(key)] = execution.Write{Key: key, Value: value}
	delete(c.deltas, string(key))

	return nil
}

// Delete implements store.Writable. It stages a tombstone for the key.
func (c *Collector) Delete(key []byte) error {
	c.writes[string(key)] = execution.Write{Key: key, Deleted: true}
	delete(c.deltas, string(key))

	return nil
}

// AddDelta implements execution.Snapshot. It accumulates the partial update
// for the key, or folds it into the value if the execution has written the
// key itself.
func (c *Collector) AddDelta(key []byte, op delta.Op) error {
	if w, found := c.writes[string(key)]; found {
		base := delta.FromBytes(w.Value)
		if w.Deleted {
			base = delta.FromBytes(nil)
		}

		value, err := op.ApplyTo(base)
		if err != nil {
			return xerrors.Errorf("failed to fold delta: %v", err)
		}

		c.writes[string(key)] = execution.Write{Key: key, Value: delta.Bytes(value)}

		return nil
	}

	prev, found := c.deltas[string(key)]
	if found {
		merged, err := prev.Merge(op)
		if err != nil {
			return xerrors.Errorf("failed to merge delta: %v", err)
		}

		c.deltas[string(key)] = merged

		return nil
	}

	c.deltas[string(key)] = op

	return nil
}

// EmitEvent implements execution.Snapshot. It appends the event to the output
// of the transaction.
func (c *Collector) EmitEvent(event execution.Event) {
	c.events = append(c.events, event)
}

// Output assembles the output of the execution attempt. An aborted execution
// keeps its gas and its message but none of its effects.
func (c *Collector) Output(res execution.Result) execution.Output {
	out := execution.Output{
		Status:  execution.Success,
		Message: res.Message,
		Gas:     res.Gas,
	}

	if !res.Accepted {
		out.Status = execution.Aborted

		return out
	}

	if res.Halting {
		out.Status = execution.SkipRest
	}

	out.Writes = make([]execution.Write, 0, len(c.writes))
	for _, w := range c.writes {
		out.Writes = append(out.Writes, w)
	}

	sort.Slice(out.Writes, func(i, j int) bool {
		return string(out.Writes[i].Key) < string(out.Writes[j].Key)
	})

	keys := make([]string, 0, len(c.deltas))
	for key := range c.deltas {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	out.Deltas = make([]execution.Delta, 0, len(keys))
	for _, key := range keys {
		out.Deltas = append(out.Deltas, execution.Delta{
			Key: []byte(key),
			Op:  c.deltas[key],
		})
	}

	out.Events = c.events

	return out
}

// make sure the collector can be handed to an execution service.
var _ execution.Snapshot = (*Collector)(nil)
