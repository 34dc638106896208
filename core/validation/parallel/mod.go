// Package parallel implements a validation service that executes the
// transactions of the block optimistically on several workers, while
// producing the exact same results, state and events as the sequential
// service.
//
// Every transaction runs against a speculative view of the state: reads are
// answered by the latest write of a smaller transaction, and recorded.
// Whenever a smaller transaction publishes new writes, the transactions above
// are validated again, and the ones whose recorded reads changed are
// re-executed. Transactions commit strictly in the order of the block, as
// soon as they are executed and validated against their final inputs.
//
// When the engine cannot trust its own run, because a transaction keeps
// getting invalidated or an internal invariant broke, it falls back to the
// sequential service, so a block is always validated.
package parallel

import (
	"runtime"
	"sort"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/parex"
	"go.dedis.ch/parex/core"
	"go.dedis.ch/parex/core/delta"
	"go.dedis.ch/parex/core/execution"
	"go.dedis.ch/parex/core/store"
	"go.dedis.ch/parex/core/txn"
	"go.dedis.ch/parex/core/validation"
	"go.dedis.ch/parex/core/validation/simple"
	"golang.org/x/xerrors"
)

var (
	promExecutions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parex_parallel_executions",
		Help: "total number of execution attempts",
	})

	promAborts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parex_parallel_aborts",
		Help: "total number of execution attempts invalidated by a validation",
	})

	promFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parex_parallel_fallbacks",
		Help: "total number of blocks that fell back to the sequential service",
	})

	promTxs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "parex_parallel_txs",
		Help:    "histogram of the number of transactions per block",
		Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
	})
)

func init() {
	parex.PromCollectors = append(parex.PromCollectors,
		promExecutions, promAborts, promFallbacks, promTxs)
}

// Service is a validation service that processes the transactions of the
// block concurrently.
//
// - implements validation.Service
type Service struct {
	execution       execution.Service
	config          validation.Config
	watcher         core.Observable
	workers         int
	maxIncarnations int
	fallback        validation.Service
	logger          zerolog.Logger
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

// WithWorkers is an option to set the number of workers processing the block.
// It defaults to the number of usable CPUs.
func WithWorkers(workers int) ServiceOption {
	return func(srvc *Service) {
		srvc.workers = workers
	}
}

// WithMaxIncarnations is an option to set how many times a single transaction
// can be re-executed before the engine gives up on the concurrent run. It
// defaults to a value proportional to the size of the block.
func WithMaxIncarnations(max int) ServiceOption {
	return func(srvc *Service) {
		srvc.maxIncarnations = max
	}
}

// NewService creates a new validation service.
func NewService(exec execution.Service, opts ...ServiceOption) Service {
	srvc := Service{
		execution: exec,
		watcher:   core.NewWatcher(),
		workers:   runtime.GOMAXPROCS(0),
		logger:    parex.Logger.With().Str("service", "parallel").Logger(),
	}

	for _, opt := range opts {
		opt(&srvc)
	}

	srvc.fallback = simple.NewService(exec,
		simple.WithConfig(srvc.config),
		simple.WithWatcher(srvc.watcher),
	)

	return srvc
}

// Validate implements validation.Service. It processes the list of
// transactions concurrently and returns the result of the block, which is
// identical to the result of a sequential processing.
func (s Service) Validate(base store.Readable, txs []txn.Transaction) (validation.Data, error) {
	if len(txs) == 0 {
		return validation.Data{
			Results: make([]validation.TransactionResult, 0),
			Writes:  make([]execution.Write, 0),
		}, nil
	}

	span := opentracing.StartSpan("parallel.validate")
	span.SetTag("txs", len(txs))
	defer span.Finish()

	promTxs.Observe(float64(len(txs)))

	logger := s.logger.With().Str("run", xid.New().String()).Logger()

	data, err, fatal := s.run(base, txs)
	if err != nil {
		return data, err
	}

	if fatal != nil {
		logger.Warn().Err(fatal).Msg("falling back to sequential validation")
		promFallbacks.Inc()

		return s.fallback.Validate(base, txs)
	}

	return data, nil
}

// blockRun gathers the state of one concurrent run.
type blockRun struct {
	txs   []txn.Transaction
	store *mvStore
	rec   *record
	sched *scheduler

	// commit-side accumulators, only touched by the commit callback which
	// runs under the commit lock of the scheduler. The commit events are
	// buffered until the run is known to be the one producing the result of
	// the block, so that a fallback does not announce an index twice.
	gasUsed       uint64
	committed     int
	notifications []validation.CommitEvent

	critical struct {
		sync.Mutex

		err error
	}
}

// setCritical records an error of the underlying virtual machine or store.
// Unlike an internal failure of the engine, it must not trigger the fallback:
// a sequential run would hit it too.
func (b *blockRun) setCritical(err error) {
	b.critical.Lock()
	if b.critical.err == nil {
		b.critical.err = err
	}
	b.critical.Unlock()

	b.sched.setFatal(err)
}

func (b *blockRun) criticalError() error {
	b.critical.Lock()
	defer b.critical.Unlock()

	return b.critical.err
}

// run processes the block and assembles the result. It returns the critical
// error of the virtual machine if any, or the internal failure that requires
// the caller to fall back to the sequential service.
func (s Service) run(base store.Readable, txs []txn.Transaction) (validation.Data, error, error) {
	maxIncarnations := s.maxIncarnations
	if maxIncarnations <= 0 {
		maxIncarnations = 10 + len(txs)
	}

	b := &blockRun{
		txs:   txs,
		store: newMVStore(base, len(txs)),
		rec:   newRecord(len(txs)),
	}

	b.sched = newScheduler(len(txs), maxIncarnations, func(index int) (bool, error) {
		return s.commitOne(b, index)
	})

	workers := s.workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(txs) {
		workers = len(txs)
	}

	wg := sync.WaitGroup{}
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go s.worker(b, &wg)
	}

	wg.Wait()

	if err := b.criticalError(); err != nil {
		// The transactions committed before the error are announced, like a
		// sequential run failing at the same point would have done.
		s.notifyCommits(b)

		return validation.Data{}, xerrors.Errorf("failed to execute tx: %v", err), nil
	}

	if err := b.sched.fatalError(); err != nil {
		return validation.Data{}, nil, err
	}

	s.notifyCommits(b)

	return s.assemble(b)
}

func (s Service) notifyCommits(b *blockRun) {
	for _, event := range b.notifications {
		s.watcher.Notify(event)
	}
}

// worker processes tasks until the block is done. It carries the task the
// previous step returned, if any, before asking the scheduler for more work.
func (s Service) worker(b *blockRun, wg *sync.WaitGroup) {
	defer wg.Done()

	defer func() {
		if r := recover(); r != nil {
			b.sched.setFatal(xerrors.Errorf("worker panic: %v", r))
		}
	}()

	var t *task

	for {
		if t == nil {
			t = b.sched.nextTask()
		}

		if t == nil {
			if b.sched.isDone() {
				return
			}

			runtime.Gosched()

			continue
		}

		if t.kind == taskExecute {
			t = s.execute(b, *t)
		} else {
			t = s.validate(b, *t)
		}
	}
}

// execute runs one incarnation of a transaction against its speculative view
// and publishes the result.
func (s Service) execute(b *blockRun, t task) *task {
	v := newView(b.store, t.version.index)
	collector := validation.NewCollector(v)

	step := execution.Step{Current: b.txs[t.version.index], Index: t.version.index}

	res, err := s.execution.Execute(collector, step)

	if v.blockedOn >= 0 {
		if b.sched.suspend(t.version.index, v.blockedOn) {
			return nil
		}

		// The dependency has resolved in the meantime, the same incarnation
		// can run right away.
		return &t
	}

	// An error of the virtual machine is not trusted yet: the attempt may
	// have read values a smaller transaction has since overwritten, and the
	// error with them. The attempt is published without effects, and the
	// error surfaces only if its reads survive until the commit, where they
	// are final and a sequential run would fail the same way.
	out := execution.Output{}
	if err == nil {
		out = collector.Output(res)
	}

	wroteNew, applyErr := b.store.apply(t.version, out)
	if applyErr != nil {
		b.sched.setFatal(applyErr)

		return nil
	}

	b.rec.save(t.version.index, v.reads, out, err)

	promExecutions.Inc()

	return b.sched.finishExecution(t, wroteNew)
}

// validate checks the reads of the latest attempt of a transaction and aborts
// the attempt when they are stale.
func (s Service) validate(b *blockRun, t task) *task {
	valid, err := validateReadSet(b.store, t.version.index, b.rec.readSet(t.version.index))
	if err != nil {
		b.setCritical(err)

		return nil
	}

	if valid {
		return b.sched.finishValidation(t, false)
	}

	if !b.sched.tryValidationAbort(t) {
		return nil
	}

	promAborts.Inc()

	// Readers must wait for the next incarnation instead of consuming the
	// stale writes.
	b.store.markEstimates(t.version.index)

	return b.sched.finishValidation(t, true)
}

// commitOne settles the transaction at the index: its partial updates are
// materialized against the now final values below it, exactly like the
// sequential service does, and the block policies are applied. It runs under
// the commit lock of the scheduler.
func (s Service) commitOne(b *blockRun, index int) (bool, error) {
	if err := b.rec.execError(index); err != nil {
		// The reads of the attempt are now final, so a sequential run would
		// hit the exact same error.
		b.setCritical(err)

		return true, nil
	}

	out := b.rec.output(index)
	if out == nil {
		return false, xerrors.Errorf("no output for tx %d", index)
	}

	final := *out

	if final.Status != execution.Aborted && len(final.Deltas) > 0 {
		demoted, err := s.materializeDeltas(b, index, &final)
		if err != nil {
			return false, err
		}

		b.rec.replaceOutput(index, final)

		if demoted {
			// The entries of the transaction are gone, everything above must
			// be validated against the state without them.
			b.sched.decreaseValidationIndex(index + 1)
		}
	}

	b.gasUsed += final.Gas
	b.committed++

	b.notifications = append(b.notifications,
		validation.CommitEvent{Index: index, Status: final.Status})

	halt := final.Status == execution.SkipRest || s.config.Exceeded(b.gasUsed, b.committed)

	return halt, nil
}

// materializeDeltas resolves the partial updates of the committing
// transaction into concrete writes. A partial update that does not apply
// demotes the whole transaction to aborted, it keeps its gas and its message
// but none of its effects.
func (s Service) materializeDeltas(b *blockRun, index int, final *execution.Output) (bool, error) {
	writes := make([]execution.Write, 0, len(final.Writes)+len(final.Deltas))
	writes = append(writes, final.Writes...)

	for _, d := range final.Deltas {
		res, err := b.store.read(string(d.Key), index)
		if err != nil {
			return false, err
		}

		if res.status == readBlocked {
			return false, xerrors.Errorf("aggregator %x still pending at commit", d.Key)
		}

		value, err := d.Op.ApplyTo(delta.FromBytes(res.observable()))
		if err != nil {
			*final = execution.Output{
				Status:  execution.Aborted,
				Message: err.Error(),
				Gas:     final.Gas,
			}

			b.store.purge(index)

			return true, nil
		}

		buffer := delta.Bytes(value)

		err = b.store.materialize(index, d.Key, buffer)
		if err != nil {
			return false, err
		}

		writes = append(writes, execution.Write{Key: d.Key, Value: buffer})
	}

	sort.Slice(writes, func(i, j int) bool {
		return string(writes[i].Key) < string(writes[j].Key)
	})

	final.Writes = writes
	final.Deltas = nil

	return false, nil
}

// assemble builds the result of the block from the committed outputs.
func (s Service) assemble(b *blockRun) (validation.Data, error, error) {
	haltedAt := b.sched.haltedAt()

	data := validation.Data{
		Results: make([]validation.TransactionResult, len(b.txs)),
	}

	effective := make(map[string]execution.Write)

	for i := range b.txs {
		if i >= haltedAt {
			data.Results[i] = validation.TransactionResult{Status: execution.Skipped}

			continue
		}

		out, err := b.rec.takeOutput(i)
		if err != nil {
			return validation.Data{}, nil, err
		}

		for _, w := range out.Writes {
			effective[string(w.Key)] = w
		}

		data.Events = append(data.Events, out.Events...)
		data.GasUsed += out.Gas

		data.Results[i] = validation.TransactionResult{
			Status:  out.Status,
			Message: out.Message,
			Gas:     out.Gas,
		}
	}

	data.Writes = make([]execution.Write, 0, len(effective))
	for _, w := range effective {
		data.Writes = append(data.Writes, w)
	}

	sort.Slice(data.Writes, func(i, j int) bool {
		return string(data.Writes[i].Key) < string(data.Writes[j].Key)
	})

	return data, nil, nil
}
