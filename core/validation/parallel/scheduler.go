package parallel

import (
	"sync"
	"sync/atomic"

	"golang.org/x/xerrors"
)

// txnStatus is the lifecycle state of a transaction inside the engine.
type txnStatus byte

const (
	// statusReady means the next incarnation can be picked up by a worker.
	statusReady txnStatus = iota

	// statusExecuting means a worker is running an incarnation.
	statusExecuting

	// statusExecuted means the latest incarnation has completed and its
	// output is published.
	statusExecuted

	// statusSuspended means the transaction hit the estimate of another
	// transaction and waits for it to finish.
	statusSuspended

	// statusAborting means a validation has invalidated the latest
	// incarnation and the transaction is about to be rescheduled.
	statusAborting
)

type txnState struct {
	sync.Mutex

	status      txnStatus
	incarnation int
	validated   bool

	// clearedWave is the wave at which the validated flag was last reset.
	// Only a validation from that wave onwards can set it again.
	clearedWave int32
}

type depList struct {
	sync.Mutex

	list []int
}

// taskKind tells a worker what to do with the transaction of the task.
type taskKind byte

const (
	taskExecute taskKind = iota
	taskValidate
)

type task struct {
	kind    taskKind
	version version
	wave    int32
}

// scheduler coordinates the workers over one block. It sweeps two frontiers
// over the transactions, one scheduling executions and one scheduling
// validations, moving them back whenever a transaction publishes writes the
// transactions above may have missed. Transactions commit strictly in order,
// as soon as they are executed and validated against their final inputs.
type scheduler struct {
	size            int
	maxIncarnations int

	execIdx atomic.Int32

	// validIdx packs a wave counter in its upper 32 bits, bumped every time
	// the frontier moves back, so that a validation that started before the
	// move cannot mark its transaction validated with a stale result.
	validIdx atomic.Int64

	statuses   []*txnState
	dependents []*depList

	commit struct {
		sync.Mutex

		next int
		halt int
	}

	// onCommit settles the transaction at the index: it materializes its
	// partial updates and applies the block policies. It returns true when
	// the block must not commit any more transactions.
	onCommit func(index int) (bool, error)

	done  atomic.Bool
	fatal struct {
		sync.Mutex

		err error
	}
}

func newScheduler(size, maxIncarnations int, onCommit func(int) (bool, error)) *scheduler {
	sched := &scheduler{
		size:            size,
		maxIncarnations: maxIncarnations,
		statuses:        make([]*txnState, size),
		dependents:      make([]*depList, size),
		onCommit:        onCommit,
	}

	for i := 0; i < size; i++ {
		sched.statuses[i] = &txnState{}
		sched.dependents[i] = &depList{}
	}

	sched.commit.halt = size

	return sched
}

func packValidIdx(index int, wave int32) int64 {
	return int64(wave)<<32 | int64(index)
}

func unpackValidIdx(v int64) (int, int32) {
	return int(v & 0xffffffff), int32(v >> 32)
}

// nextTask hands out the next unit of work, validations first so that the
// commit frontier keeps moving. It returns nil when there is nothing to do
// right now, which is not the same as the block being done.
func (s *scheduler) nextTask() *task {
	if s.done.Load() {
		return nil
	}

	index, _ := unpackValidIdx(s.validIdx.Load())
	if index < int(s.execIdx.Load()) {
		return s.nextValidation()
	}

	return s.nextExecution()
}

func (s *scheduler) isDone() bool {
	return s.done.Load()
}

func (s *scheduler) nextValidation() *task {
	index, _ := unpackValidIdx(s.validIdx.Load())
	if index >= s.size {
		return nil
	}

	index, wave := unpackValidIdx(s.validIdx.Add(1))
	index--

	if index >= s.size {
		return nil
	}

	st := s.statuses[index]
	st.Lock()
	defer st.Unlock()

	if st.status != statusExecuted {
		return nil
	}

	return &task{
		kind:    taskValidate,
		version: version{index: index, incarnation: st.incarnation},
		wave:    wave,
	}
}

func (s *scheduler) nextExecution() *task {
	if int(s.execIdx.Load()) >= s.size {
		return nil
	}

	index := int(s.execIdx.Add(1)) - 1

	return s.tryExecute(index)
}

// tryExecute claims the next incarnation of the transaction when it is ready
// to run.
func (s *scheduler) tryExecute(index int) *task {
	if index >= s.size {
		return nil
	}

	st := s.statuses[index]
	st.Lock()
	defer st.Unlock()

	if st.status != statusReady {
		return nil
	}

	if st.incarnation > s.maxIncarnations {
		s.setFatal(xerrors.Errorf("tx %d is past %d incarnations, giving up on the run",
			index, s.maxIncarnations))

		return nil
	}

	st.status = statusExecuting

	return &task{
		kind:    taskExecute,
		version: version{index: index, incarnation: st.incarnation},
	}
}

// suspend parks the transaction until the one it depends on has executed. It
// returns false when the dependency has resolved in the meantime, in which
// case the caller simply retries the execution.
func (s *scheduler) suspend(index, blockedOn int) bool {
	dep := s.dependents[blockedOn]
	dep.Lock()
	defer dep.Unlock()

	blocker := s.statuses[blockedOn]
	blocker.Lock()
	resolved := blocker.status == statusExecuted
	blocker.Unlock()

	if resolved {
		return false
	}

	st := s.statuses[index]
	st.Lock()
	st.status = statusSuspended
	st.Unlock()

	dep.list = append(dep.list, index)

	return true
}

// setReady schedules the next incarnation of the transaction.
func (s *scheduler) setReady(index int) {
	st := s.statuses[index]
	st.Lock()
	st.incarnation++
	st.status = statusReady
	st.validated = false
	st.Unlock()
}

// finishExecution publishes the completion of an incarnation: it wakes up the
// transactions suspended on it and decides what needs to be validated again.
// It may return a validation task for the caller to run right away.
func (s *scheduler) finishExecution(t task, wroteNew bool) *task {
	st := s.statuses[t.version.index]
	st.Lock()

	if st.status != statusExecuting || st.incarnation != t.version.incarnation {
		st.Unlock()
		s.setFatal(xerrors.Errorf("execution of tx %d finished out of order", t.version.index))

		return nil
	}

	st.status = statusExecuted
	st.Unlock()

	dep := s.dependents[t.version.index]
	dep.Lock()
	resumed := dep.list
	dep.list = nil
	dep.Unlock()

	min := -1
	for _, d := range resumed {
		s.setReady(d)

		if min == -1 || d < min {
			min = d
		}
	}

	if min != -1 {
		s.decreaseExecutionIndex(min)
	}

	index, wave := unpackValidIdx(s.validIdx.Load())
	if index > t.version.index {
		if wroteNew {
			// The new locations may invalidate reads of the transactions
			// already validated above, all of them must be checked again.
			s.decreaseValidationIndex(t.version.index)

			return nil
		}

		t.kind = taskValidate
		t.wave = wave

		return &t
	}

	return nil
}

// tryValidationAbort claims the right to abort the incarnation after a failed
// validation. Only one validator can win it.
func (s *scheduler) tryValidationAbort(t task) bool {
	st := s.statuses[t.version.index]
	st.Lock()
	defer st.Unlock()

	if st.status == statusExecuted && st.incarnation == t.version.incarnation {
		st.status = statusAborting

		return true
	}

	return false
}

// finishValidation settles the outcome of a validation. A success marks the
// transaction validated and gives the commit frontier a chance to move, an
// abort reschedules the transaction and rolls the validation frontier back
// over everything above it. It may return the re-execution task of the
// aborted transaction for the caller to run right away.
func (s *scheduler) finishValidation(t task, aborted bool) *task {
	if aborted {
		s.setReady(t.version.index)
		s.decreaseValidationIndex(t.version.index + 1)

		if int(s.execIdx.Load()) > t.version.index {
			return s.tryExecute(t.version.index)
		}

		return nil
	}

	st := s.statuses[t.version.index]
	st.Lock()

	if st.status == statusExecuted && st.incarnation == t.version.incarnation &&
		t.wave >= st.clearedWave {

		st.validated = true
	}

	st.Unlock()

	s.tryCommit()

	return nil
}

func (s *scheduler) decreaseExecutionIndex(target int) {
	for {
		cur := s.execIdx.Load()
		if int(cur) <= target {
			return
		}

		if s.execIdx.CompareAndSwap(cur, int32(target)) {
			return
		}
	}
}

// decreaseValidationIndex moves the validation frontier back to the target.
// The wave is bumped before the validated flags are reset, so that a
// validation still in flight either sees the new wave and gives up, or sets
// its flag before the reset wipes it.
func (s *scheduler) decreaseValidationIndex(target int) {
	var wave int32

	for {
		cur := s.validIdx.Load()
		index, curWave := unpackValidIdx(cur)

		if index <= target {
			return
		}

		wave = curWave + 1

		if s.validIdx.CompareAndSwap(cur, packValidIdx(target, wave)) {
			break
		}
	}

	for i := target; i < s.size; i++ {
		st := s.statuses[i]
		st.Lock()
		st.validated = false
		st.clearedWave = wave
		st.Unlock()
	}
}

// tryCommit advances the commit frontier over every transaction that is
// executed and validated, settling them strictly in order.
func (s *scheduler) tryCommit() {
	s.commit.Lock()
	defer s.commit.Unlock()

	for s.commit.next < s.commit.halt {
		index := s.commit.next

		st := s.statuses[index]
		st.Lock()
		ok := st.status == statusExecuted && st.validated
		st.Unlock()

		if !ok {
			return
		}

		halt, err := s.onCommit(index)
		if err != nil {
			s.setFatal(err)

			return
		}

		s.commit.next++

		if halt && s.commit.next < s.commit.halt {
			s.commit.halt = s.commit.next
		}
	}

	s.done.Store(true)
}

// haltedAt returns the index of the first transaction that did not commit.
func (s *scheduler) haltedAt() int {
	s.commit.Lock()
	defer s.commit.Unlock()

	return s.commit.halt
}

func (s *scheduler) setFatal(err error) {
	s.fatal.Lock()
	if s.fatal.err == nil {
		s.fatal.err = err
	}
	s.fatal.Unlock()

	s.done.Store(true)
}

func (s *scheduler) fatalError() error {
	s.fatal.Lock()
	defer s.fatal.Unlock()

	return s.fatal.err
}
