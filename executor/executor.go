// Package executor is the bounded-concurrency background task pool used
// to run filesystem and network I/O outside the Catalogue's lock. See
// spec §4.3.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/threadgroup"

	datamanager "github.com/skecskes/data-manager"
	"github.com/skecskes/data-manager/internal/build"
	"github.com/skecskes/data-manager/internal/persist"
)

// Result is the terminal outcome of one task run.
type Result int

const (
	// Completed means work returned normally and was not cancelled.
	Completed Result = iota
	// Cancelled means the task's context was cancelled — either by
	// Cancel, or by the Executor shutting down — and work honored it.
	Cancelled
	// Failed means work returned an error, or panicked.
	Failed
)

// Work is the unit of background execution. It must observe ctx
// cooperatively; the Executor cannot forcibly interrupt it.
type Work func(ctx context.Context) (Result, error)

// Callback is invoked exactly once per Submit that returns nil, after work
// finishes for any reason, with the terminal Result. It is not invoked when
// Submit returns an error. It runs without the Executor's
// internal lock held, so it may itself call Submit or Cancel.
type Callback func(Result, error)

type job struct {
	key      datamanager.ChunkId
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	work     Work
	callback Callback
}

// Executor is a bounded worker pool with per-key single-flight and
// cooperative cancellation, keyed by ChunkId.
type Executor struct {
	log *persist.Logger
	tg  threadgroup.ThreadGroup

	parentCtx context.Context

	sem     chan struct{}
	queueCh chan *job

	mu      sync.Mutex
	current map[datamanager.ChunkId]*job
	nextGen uint64
	closed  bool

	statsMu   sync.Mutex
	durations []float64
}

const maxTrackedDurations = 512

// New returns a running Executor with the given concurrency limit.
func New(concurrency int, log *persist.Logger) *Executor {
	if concurrency <= 0 {
		concurrency = 4
	}
	e := &Executor{
		log:       log,
		parentCtx: context.Background(),
		sem:       make(chan struct{}, concurrency),
		queueCh:   make(chan *job, 4096),
		current:   make(map[datamanager.ChunkId]*job),
	}
	go e.dispatch()
	return e
}

// dispatch pulls queued jobs FIFO and, once a concurrency slot is free,
// hands each to its own goroutine. This is what gives submissions beyond
// the concurrency limit FIFO ordering.
func (e *Executor) dispatch() {
	for j := range e.queueCh {
		select {
		case e.sem <- struct{}{}:
		case <-e.tg.StopChan():
			e.finish(j, Cancelled, nil)
			continue
		}
		if err := e.tg.Add(); err != nil {
			<-e.sem
			e.finish(j, Cancelled, nil)
			continue
		}
		go e.run(j)
	}
}

// Submit schedules work on the next available worker under key. If key
// already has a task registered (queued or running), that task is
// superseded: its context is cancelled, and when it finishes it reports
// Cancelled through its own callback. The new task is queued independently
// and will run once a slot is free.
func (e *Executor) Submit(key datamanager.ChunkId, work Work, callback Callback) error {
	if err := e.tg.Add(); err != nil {
		return errors.AddContext(err, "executor is shutting down")
	}
	defer e.tg.Done()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.New("executor is closed")
	}
	if existing, ok := e.current[key]; ok {
		existing.cancel()
	}
	e.nextGen++
	ctx, cancel := context.WithCancel(e.parentCtx)
	j := &job{key: key, gen: e.nextGen, ctx: ctx, cancel: cancel, work: work, callback: callback}
	e.current[key] = j
	e.mu.Unlock()

	select {
	case e.queueCh <- j:
		return nil
	case <-e.tg.StopChan():
		cancel()
		return errors.New("executor is shutting down")
	}
}

// Cancel signals the task currently registered under key, if any. It is a
// no-op if key has no active or queued task. The task's completion
// callback still runs, reporting Cancelled, once work notices ctx is done.
func (e *Executor) Cancel(key datamanager.ChunkId) {
	e.mu.Lock()
	j, ok := e.current[key]
	e.mu.Unlock()
	if ok {
		j.cancel()
	}
}

// run executes one job's work, recovering from panics per the Failure
// model in spec §4.3, then reports the result and frees the worker slot.
func (e *Executor) run(j *job) {
	defer func() { <-e.sem }()
	defer e.tg.Done()

	start := time.Now()
	result, err := e.safeRun(j)
	e.recordDuration(time.Since(start))
	e.finish(j, result, err)
}

// safeRun invokes j.work, converting a panic into a Failed result the way
// a thrown exception would be treated in the source system.
func (e *Executor) safeRun(j *job) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			build.Critical("task panicked", j.key, r)
			result, err = Failed, errors.New("task panicked")
		}
	}()
	return j.work(j.ctx)
}

func (e *Executor) finish(j *job, result Result, err error) {
	e.mu.Lock()
	if current, ok := e.current[j.key]; ok && current.gen == j.gen {
		delete(e.current, j.key)
	}
	e.mu.Unlock()
	if j.callback != nil {
		j.callback(result, err)
	}
}

func (e *Executor) recordDuration(d time.Duration) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.durations = append(e.durations, d.Seconds())
	if len(e.durations) > maxTrackedDurations {
		e.durations = e.durations[len(e.durations)-maxTrackedDurations:]
	}
}

// Stats summarizes recent task durations.
type Stats struct {
	Count       int
	MeanSeconds float64
	P50Seconds  float64
	P95Seconds  float64
}

// Stats returns rolling latency statistics over the most recent tasks.
func (e *Executor) Stats() Stats {
	e.statsMu.Lock()
	data := append([]float64(nil), e.durations...)
	e.statsMu.Unlock()

	if len(data) == 0 {
		return Stats{}
	}
	mean, _ := stats.Mean(data)
	p50, _ := stats.Median(data)
	p95, _ := stats.Percentile(data, 95)
	return Stats{Count: len(data), MeanSeconds: mean, P50Seconds: p50, P95Seconds: p95}
}

// Close cancels every outstanding task and blocks until all of their
// completion callbacks have run.
func (e *Executor) Close() error {
	e.mu.Lock()
	e.closed = true
	for _, j := range e.current {
		j.cancel()
	}
	e.mu.Unlock()
	err := e.tg.Stop()
	close(e.queueCh)
	return err
}
