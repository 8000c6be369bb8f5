package worker

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Handler processes one job input.
type Handler[In, Out any] func(ctx context.Context, in In) (Out, error)

// Job is a unit of work submitted to the pool.
type Job[In any] struct {
	// ID identifies the job in results (usually a canonical URL).
	ID string
	// Index is the caller's position for the job; Process uses it to
	// restore submission order.
	Index int
	Input In
}

// Result is the outcome of one job.
type Result[Out any] struct {
	ID       string
	Index    int
	Output   Out
	Err      error
	Duration time.Duration
}

// Pool manages a fixed set of worker goroutines.
type Pool[In, Out any] struct {
	workers    int
	handler    Handler[In, Out]
	jobsChan   chan submission[In]
	resultChan chan Result[Out]
	wg         sync.WaitGroup
	closeOnce  sync.Once
	mu         sync.RWMutex // guards closed against concurrent Submit
	closed     bool

	// Metrics
	jobsSubmitted atomic.Uint64
	jobsCompleted atomic.Uint64
	jobsFailed    atomic.Uint64
	totalDuration atomic.Int64
}

type submission[In any] struct {
	ctx context.Context
	job Job[In]
}

// NewPool creates a pool with the specified number of workers.
// If workers <= 0, it defaults to runtime.NumCPU().
func NewPool[In, Out any](handler Handler[In, Out], workers int) *Pool[In, Out] {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool[In, Out]{
		workers:    workers,
		handler:    handler,
		jobsChan:   make(chan submission[In]),
		resultChan: make(chan Result[Out], workers),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit hands job to a free worker, blocking until one is available.
// It returns false without submitting when ctx is done or the pool is
// closed. The handler receives ctx without its cancellation, so a job
// that was accepted is never interrupted.
func (p *Pool[In, Out]) Submit(ctx context.Context, job Job[In]) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case p.jobsChan <- submission[In]{ctx: context.WithoutCancel(ctx), job: job}:
		p.jobsSubmitted.Add(1)
		return true
	}
}

// Results returns the channel of job results. It is closed once Close
// has been called and every accepted job has finished. Callers must
// drain it.
func (p *Pool[In, Out]) Results() <-chan Result[Out] {
	return p.resultChan
}

// Close stops accepting jobs. Workers finish the jobs they hold, then the
// results channel is closed. Close does not wait; drain Results to wait.
func (p *Pool[In, Out]) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobsChan)
		p.mu.Unlock()
		go func() {
			p.wg.Wait()
			close(p.resultChan)
		}()
	})
}

func (p *Pool[In, Out]) worker() {
	defer p.wg.Done()
	for s := range p.jobsChan {
		start := time.Now()
		out, err := p.handler(s.ctx, s.job.Input)
		d := time.Since(start)

		p.jobsCompleted.Add(1)
		p.totalDuration.Add(int64(d))
		if err != nil {
			p.jobsFailed.Add(1)
		}
		p.resultChan <- Result[Out]{ID: s.job.ID, Index: s.job.Index, Output: out, Err: err, Duration: d}
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Workers       int
	JobsSubmitted uint64
	JobsCompleted uint64
	JobsFailed    uint64
	AvgDuration   time.Duration
}

// Stats returns current pool statistics.
func (p *Pool[In, Out]) Stats() PoolStats {
	return PoolStats{
		Workers:       p.workers,
		JobsSubmitted: p.jobsSubmitted.Load(),
		JobsCompleted: p.jobsCompleted.Load(),
		JobsFailed:    p.jobsFailed.Load(),
		AvgDuration:   p.averageDuration(),
	}
}

func (p *Pool[In, Out]) averageDuration() time.Duration {
	completed := p.jobsCompleted.Load()
	if completed == 0 {
		return 0
	}
	return time.Duration(p.totalDuration.Load() / int64(completed)) //nolint:gosec // count fits
}

// Batch is the outcome of Process.
type Batch[In, Out any] struct {
	// Results holds the finished jobs in submission order.
	Results []Result[Out]
	// Unsubmitted holds the jobs that were never started because ctx was
	// cancelled, in their original order.
	Unsubmitted []Job[In]
}

// Process runs handler over jobs on a pool of the given size. Cancelling
// ctx stops submission; jobs already accepted finish.
func Process[In, Out any](ctx context.Context, handler Handler[In, Out], workers int, jobs []Job[In]) *Batch[In, Out] {
	batch := &Batch[In, Out]{}
	if len(jobs) == 0 {
		return batch
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	pool := NewPool(handler, workers)
	var unsubmitted []Job[In]
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer pool.Close()
		for i, job := range jobs {
			if !pool.Submit(ctx, job) {
				unsubmitted = append(unsubmitted, jobs[i:]...)
				return
			}
		}
	}()

	results := make([]Result[Out], 0, len(jobs))
	for r := range pool.Results() {
		results = append(results, r)
	}
	<-done

	pos := make(map[int]int, len(jobs))
	for i, job := range jobs {
		pos[job.Index] = i
	}
	sortByPosition(results, pos)
	batch.Results = results
	batch.Unsubmitted = unsubmitted
	return batch
}

func sortByPosition[Out any](results []Result[Out], pos map[int]int) {
	sort.SliceStable(results, func(a, b int) bool {
		return pos[results[a].Index] < pos[results[b].Index]
	})
}
