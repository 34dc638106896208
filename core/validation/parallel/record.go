package parallel

import (
	"sync/atomic"

	"go.dedis.ch/parex/core/execution"
	"golang.org/x/xerrors"
)

// readKind tags where the answer of a speculative read came from, which
// decides how the read is validated afterwards.
type readKind byte

const (
	// readVersion is a read answered by the write of another transaction. It
	// stays valid as long as the exact same incarnation answers it.
	readVersion readKind = iota

	// readStorage is a read that fell through to the base state. It stays
	// valid as long as no smaller transaction writes the key.
	readStorage

	// readResolved is a read of an aggregator resolved through pending
	// partial updates. It is validated by value, so that a different mix of
	// updates producing the same value does not force a re-execution.
	readResolved
)

// version identifies one execution attempt of a transaction.
type version struct {
	index       int
	incarnation int
}

// readDesc describes a single speculative read, with enough information to
// check later whether the same read would get the same answer.
type readDesc struct {
	key     string
	kind    readKind
	version version
	value   []byte
}

// record keeps, for every transaction of the block, the read set and the
// output of its latest execution attempt. The slots are replaced wholesale on
// re-execution so that a validator always sees a consistent pair.
type record struct {
	reads   []atomic.Pointer[[]readDesc]
	outputs []atomic.Pointer[execution.Output]
	errs    []atomic.Pointer[error]
	taken   []atomic.Bool
}

func newRecord(size int) *record {
	return &record{
		reads:   make([]atomic.Pointer[[]readDesc], size),
		outputs: make([]atomic.Pointer[execution.Output], size),
		errs:    make([]atomic.Pointer[error], size),
		taken:   make([]atomic.Bool, size),
	}
}

// save stores the result of an execution attempt of the transaction. The
// error of the virtual machine, if any, is kept alongside the reads: it only
// counts if the attempt survives validation, as it may exist solely because
// the attempt ran on inputs a smaller transaction has since overwritten.
func (r *record) save(index int, reads []readDesc, out execution.Output, err error) {
	r.reads[index].Store(&reads)
	r.outputs[index].Store(&out)
	r.errs[index].Store(&err)
}

// execError returns the error of the latest execution attempt, or nil.
func (r *record) execError(index int) error {
	err := r.errs[index].Load()
	if err == nil {
		return nil
	}

	return *err
}

// readSet returns the read set of the latest attempt, or nil when the
// transaction has never completed an execution.
func (r *record) readSet(index int) []readDesc {
	reads := r.reads[index].Load()
	if reads == nil {
		return nil
	}

	return *reads
}

// output returns the output of the latest attempt, or nil.
func (r *record) output(index int) *execution.Output {
	return r.outputs[index].Load()
}

// replaceOutput swaps the output of the transaction, which the committer uses
// to store the materialized, or demoted, final output.
func (r *record) replaceOutput(index int, out execution.Output) {
	r.outputs[index].Store(&out)
}

// takeOutput consumes the final output of a committed transaction. Every
// committed output must be taken exactly once.
func (r *record) takeOutput(index int) (execution.Output, error) {
	out := r.outputs[index].Load()
	if out == nil {
		return execution.Output{}, xerrors.Errorf("no output for tx %d", index)
	}

	if r.taken[index].Swap(true) {
		return execution.Output{}, xerrors.Errorf("output of tx %d already taken", index)
	}

	return *out, nil
}
