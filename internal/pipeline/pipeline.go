package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"log/slog"

	"eyeline/internal/logging"
	"eyeline/internal/storage"
)

// ErrQueueFull is returned by Submit when no worker can take the job.
var ErrQueueFull = errors.New("job queue is full")

// JobType enumerates supported processing categories.
type JobType string

const (
	JobStabilize JobType = "stabilize"
	JobDetect    JobType = "detect"
)

// Job represents a single processing request.
type Job struct {
	ID        string         `json:"id"`
	Type      JobType        `json:"type"`
	InputPath string         `json:"input_path"`
	Output    string         `json:"output"`
	Options   map[string]any `json:"options,omitempty"`
}

// Result captures the outcome of a Job.
type Result struct {
	Job   Job
	Error error
	Meta  map[string]any
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	stopped   bool
	subs      map[int]chan Result
	nextSubID int
}

// New starts concurrency workers feeding jobs to processor. queueSize bounds
// how many jobs may wait; zero means twice the concurrency.
func New(ctx context.Context, concurrency, queueSize int, logger *slog.Logger, store *storage.Store, processor Processor) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 1 {
		queueSize = concurrency * 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: processor,
		log:       logger,
		jobs:      make(chan Job, queueSize),
		cancel:    cancel,
		store:     store,
		subs:      make(map[int]chan Result),
	}
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

// Submit adds a job to the processing queue.
func (p *Pipeline) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return errors.New("pipeline stopped")
	}

	if p.store != nil {
		optsJSON, _ := json.Marshal(job.Options)
		if err := p.store.RecordJobQueued(storage.JobRecord{
			ID:          job.ID,
			JobType:     string(job.Type),
			Status:      "queued",
			InputPath:   job.InputPath,
			OutputPath:  job.Output,
			OptionsJSON: string(optsJSON),
		}); err != nil {
			p.log.Warn("failed to record queued job", "id", job.ID, "error", err)
		}
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		if p.store != nil {
			_ = p.store.RecordJobResult(job.ID, "failed", nil, ErrQueueFull.Error())
		}
		return ErrQueueFull
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.broadcast(p.run(ctx, job))
		}
	}
}

func (p *Pipeline) run(ctx context.Context, job Job) Result {
	start := time.Now()
	logging.LogJobStart(p.log, string(job.Type), job.ID, job.InputPath, job.Output, job.Options)

	if p.store != nil {
		_ = p.store.RecordJobStart(job.ID)
	}
	res := p.processor.Process(ctx, job)
	res.Job = job
	duration := time.Since(start)

	status := "completed"
	if res.Error != nil {
		status = "failed"
		logging.LogJobError(p.log, string(job.Type), job.ID, duration, res.Error, map[string]any{
			"input":   job.InputPath,
			"output":  job.Output,
			"options": job.Options,
		})
	} else {
		logging.LogJobComplete(p.log, string(job.Type), job.ID, duration, res.Meta)
	}
	if p.store != nil {
		if err := p.store.RecordJobResult(job.ID, status, res.Meta, errString(res.Error)); err != nil {
			p.log.Warn("failed to record job result", "id", job.ID, "error", err)
		}
	}
	return res
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
