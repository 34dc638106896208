package parallel

import (
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"go.dedis.ch/parex/core/delta"
	"go.dedis.ch/parex/core/execution"
	"go.dedis.ch/parex/core/store"
	"golang.org/x/xerrors"
)

// entryKind is the nature of the entry a transaction left on a key.
type entryKind byte

const (
	// entryValue is a concrete value, or a tombstone.
	entryValue entryKind = iota

	// entryDelta is a partial update that has not been materialized yet.
	entryDelta

	// entryEstimate is the placeholder left while the transaction that wrote
	// the key last time is being re-executed. Readers block on it instead of
	// consuming a value that is likely to change.
	entryEstimate
)

// entry is what one incarnation of a transaction wrote on a key.
type entry struct {
	incarnation int
	kind        entryKind
	value       []byte
	deleted     bool
	op          delta.Op

	// resolved memoizes the value of the aggregator after this partial
	// update, so that readers of a long chain do not fold it again. Any
	// mutation of the chain clears the memos.
	resolved    []byte
	hasResolved bool
}

// chain is the per-key history of the block: a map from transaction index to
// the entry that transaction wrote, ordered so that a reader can find the
// closest entry below its own index.
type chain struct {
	sync.Mutex

	entries *treemap.Map
}

func newChain() *chain {
	return &chain{
		entries: treemap.NewWithIntComparator(),
	}
}

// readStatus is the outcome of a speculative read.
type readStatus byte

const (
	// readFound means a concrete write of a smaller transaction answered.
	readFound readStatus = iota

	// readBase means no smaller transaction wrote the key, the answer comes
	// from the state before the block.
	readBase

	// readOk means the key holds pending partial updates that were resolved
	// into a concrete value.
	readOk

	// readBlocked means a smaller transaction is about to write the key
	// again. The reader must wait for it instead of guessing.
	readBlocked
)

// readResult is the answer of the multi-version store to a speculative read.
type readResult struct {
	status  readStatus
	version version
	value   []byte
	deleted bool
	dep     int
}

// observable returns the bytes a transaction reading the key actually sees.
func (r readResult) observable() []byte {
	if r.deleted {
		return nil
	}

	return r.value
}

// mvStore is the multi-version data store of one block: for every key it
// keeps the entries of all the transactions that wrote it, so that a
// transaction reads the latest write of a smaller transaction, and falls
// through to the base state when there is none.
type mvStore struct {
	base store.Readable

	chains sync.Map // string -> *chain

	// lastWrites remembers the locations written by the latest incarnation
	// of every transaction, to prune the locations it does not write anymore
	// and to turn them into estimates before a re-execution.
	lastWrites []map[string]struct{}
}

func newMVStore(base store.Readable, size int) *mvStore {
	return &mvStore{
		base:       base,
		lastWrites: make([]map[string]struct{}, size),
	}
}

func (s *mvStore) getChain(key string) *chain {
	c, found := s.chains.Load(key)
	if !found {
		return nil
	}

	return c.(*chain)
}

func (s *mvStore) getOrCreateChain(key string) *chain {
	c, _ := s.chains.LoadOrStore(key, newChain())

	return c.(*chain)
}

// read answers a speculative read of the key on behalf of the transaction at
// the index: the latest entry of a smaller transaction, the base state when
// there is none, or a resolved value when the latest entries are partial
// updates.
func (s *mvStore) read(key string, index int) (readResult, error) {
	c := s.getChain(key)
	if c == nil {
		return s.readBase(key)
	}

	c.Lock()
	defer c.Unlock()

	k, v := c.entries.Floor(index - 1)
	if k == nil {
		return s.readBase(key)
	}

	e := v.(*entry)

	switch e.kind {
	case entryEstimate:
		return readResult{status: readBlocked, dep: k.(int)}, nil

	case entryValue:
		return readResult{
			status:  readFound,
			version: version{index: k.(int), incarnation: e.incarnation},
			value:   e.value,
			deleted: e.deleted,
		}, nil

	default:
		return s.resolve(c, key, k.(int))
	}
}

// readBase reads the key from the state before the block.
func (s *mvStore) readBase(key string) (readResult, error) {
	value, err := s.base.Get([]byte(key))
	if err != nil {
		return readResult{}, xerrors.Errorf("failed to read base: %v", err)
	}

	return readResult{status: readBase, value: value}, nil
}

// resolve folds the chain of partial updates ending at the entry of the given
// index into a concrete value. A partial update that does not apply is
// skipped: its transaction is going to be aborted when it commits, so it
// contributes nothing to the value, exactly like a sequential run. The chain
// must be locked.
func (s *mvStore) resolve(c *chain, key string, index int) (readResult, error) {
	pending := []*entry{}

	cursor := index
	base := (*readResult)(nil)

	for {
		k, v := c.entries.Floor(cursor)
		if k == nil {
			break
		}

		e := v.(*entry)

		if e.kind == entryEstimate {
			return readResult{status: readBlocked, dep: k.(int)}, nil
		}

		if e.kind == entryValue {
			res := readResult{status: readFound, value: e.value, deleted: e.deleted}
			base = &res

			break
		}

		if e.hasResolved {
			res := readResult{status: readOk, value: e.resolved}
			base = &res

			break
		}

		pending = append(pending, e)
		cursor = k.(int) - 1
	}

	if base == nil {
		res, err := s.readBase(key)
		if err != nil {
			return readResult{}, err
		}

		base = &res
	}

	value := delta.FromBytes(base.observable())

	// An absent key stays absent until a partial update actually applies, so
	// that a reader sees exactly what the sequential materialization leaves.
	exists := base.observable() != nil

	for i := len(pending) - 1; i >= 0; i-- {
		e := pending[i]

		next, err := e.op.ApplyTo(value)
		if err == nil {
			value = next
			exists = true
		}

		if exists {
			e.resolved = delta.Bytes(value)
		} else {
			e.resolved = nil
		}

		e.hasResolved = true
	}

	if !exists {
		return readResult{status: readOk}, nil
	}

	return readResult{status: readOk, value: delta.Bytes(value)}, nil
}

// apply publishes the writes and the partial updates of an execution attempt,
// and prunes the locations the previous incarnation wrote but this one does
// not. It returns true when the attempt wrote a location the previous one did
// not, which means the transactions already validated above may have missed
// it.
func (s *mvStore) apply(ver version, out execution.Output) (bool, error) {
	locations := make(map[string]struct{}, len(out.Writes)+len(out.Deltas))

	for _, w := range out.Writes {
		locations[string(w.Key)] = struct{}{}

		err := s.publish(ver, string(w.Key), &entry{
			incarnation: ver.incarnation,
			kind:        entryValue,
			value:       w.Value,
			deleted:     w.Deleted,
		})
		if err != nil {
			return false, err
		}
	}

	for _, d := range out.Deltas {
		locations[string(d.Key)] = struct{}{}

		err := s.publish(ver, string(d.Key), &entry{
			incarnation: ver.incarnation,
			kind:        entryDelta,
			op:          d.Op,
		})
		if err != nil {
			return false, err
		}
	}

	prev := s.lastWrites[ver.index]

	for loc := range prev {
		if _, found := locations[loc]; !found {
			s.remove(ver.index, loc)
		}
	}

	wroteNew := false
	for loc := range locations {
		if _, found := prev[loc]; !found {
			wroteNew = true

			break
		}
	}

	s.lastWrites[ver.index] = locations

	return wroteNew, nil
}

func (s *mvStore) publish(ver version, key string, e *entry) error {
	c := s.getOrCreateChain(key)

	c.Lock()
	defer c.Unlock()

	if v, found := c.entries.Get(ver.index); found {
		existing := v.(*entry)
		if existing.incarnation > ver.incarnation {
			return xerrors.Errorf("stale write of tx %d: incarnation %d behind %d",
				ver.index, ver.incarnation, existing.incarnation)
		}
	}

	c.entries.Put(ver.index, e)
	c.clearMemos()

	return nil
}

func (s *mvStore) remove(index int, key string) {
	c := s.getChain(key)
	if c == nil {
		return
	}

	c.Lock()
	c.entries.Remove(index)
	c.clearMemos()
	c.Unlock()
}

// markEstimates replaces the entries of the transaction with estimates before
// it is re-executed, so that the transactions reading them wait instead of
// reading values that are about to change.
func (s *mvStore) markEstimates(index int) {
	for loc := range s.lastWrites[index] {
		c := s.getChain(loc)
		if c == nil {
			continue
		}

		c.Lock()

		if v, found := c.entries.Get(index); found {
			v.(*entry).kind = entryEstimate
		}

		c.clearMemos()
		c.Unlock()
	}
}

// purge removes every entry of the transaction, which the committer uses when
// the transaction is demoted at commit time and must leave no effect.
func (s *mvStore) purge(index int) {
	for loc := range s.lastWrites[index] {
		s.remove(index, loc)
	}

	s.lastWrites[index] = nil
}

// materialize replaces the partial update of the transaction on the key with
// the concrete value it resolved to at commit time.
func (s *mvStore) materialize(index int, key []byte, value []byte) error {
	c := s.getChain(string(key))
	if c == nil {
		return xerrors.Errorf("no entry to materialize for tx %d", index)
	}

	c.Lock()
	defer c.Unlock()

	v, found := c.entries.Get(index)
	if !found || v.(*entry).kind != entryDelta {
		return xerrors.Errorf("no delta to materialize for tx %d", index)
	}

	e := v.(*entry)
	e.kind = entryValue
	e.value = value
	e.op = delta.Op{}

	c.clearMemos()

	return nil
}

// clearMemos drops the memoized resolutions of the chain. The chain must be
// locked.
func (c *chain) clearMemos() {
	c.entries.Each(func(_ interface{}, v interface{}) {
		e := v.(*entry)
		e.resolved = nil
		e.hasResolved = false
	})
}
