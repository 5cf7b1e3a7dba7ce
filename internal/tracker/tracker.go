// Package tracker follows a remote detection job from submission to result.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eyeline/internal/detect"
	"eyeline/internal/landmark"
)

// ErrJobFailed means the detection service reported the job as failed.
var ErrJobFailed = errors.New("detection job failed")

// State is a job's lifecycle position.
type State string

const (
	Queued     State = "queued"
	Processing State = "processing"
	Done       State = "done"
	Failed     State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Done || s == Failed }

// Job is a snapshot of a tracked detection job.
type Job struct {
	ID       string
	State    State
	Progress int
	Result   []landmark.Record
}

// Update is one observation published on a Track channel. Err is set only
// on a Failed update.
type Update struct {
	Job
	Err error
}

// Poller is the slice of detect.Client the tracker needs.
type Poller interface {
	Poll(ctx context.Context, jobID string) (detect.Progress, error)
	Fetch(ctx context.Context, jobID string) ([]landmark.Record, error)
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Tracker runs at most one polling loop per job id.
type Tracker struct {
	client Poller
	logger *slog.Logger

	mu    sync.Mutex
	loops map[string]*loop
}

func New(client Poller, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{client: client, logger: logger, loops: make(map[string]*loop)}
}

// Track starts polling jobID every interval and returns the update stream.
// The stream starts with a Queued update and always ends with exactly one
// Done or Failed update before it is closed; callers must drain it. A
// cancelled loop may replace one unread update with the terminal one, so it
// never blocks on a reader that has gone. Progress is clamped to [0,100].
// If jobID is already tracked, the old loop is cancelled and has stopped
// polling before Track returns.
func (t *Tracker) Track(ctx context.Context, jobID string, interval time.Duration) <-chan Update {
	if interval <= 0 {
		interval = time.Second
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l := &loop{cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	old := t.loops[jobID]
	t.loops[jobID] = l
	t.mu.Unlock()

	if old != nil {
		old.cancel()
		<-old.done
	}

	out := make(chan Update, 1)
	go t.run(loopCtx, l, jobID, interval, out)
	return out
}

// Cancel stops the loop for jobID. Unknown or finished ids are ignored.
func (t *Tracker) Cancel(jobID string) {
	t.mu.Lock()
	l := t.loops[jobID]
	t.mu.Unlock()
	if l != nil {
		l.cancel()
	}
}

// Active lists the job ids with a running loop.
func (t *Tracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.loops))
	for id := range t.loops {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels every loop and waits for them to stop polling.
func (t *Tracker) Close() {
	t.mu.Lock()
	loops := make([]*loop, 0, len(t.loops))
	for _, l := range t.loops {
		loops = append(loops, l)
	}
	t.mu.Unlock()

	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
}

func (t *Tracker) run(ctx context.Context, l *loop, jobID string, interval time.Duration, out chan Update) {
	job := Job{ID: jobID, State: Queued}
	final := t.poll(ctx, &job, interval, out)
	cancelled := ctx.Err() != nil

	t.mu.Lock()
	if t.loops[jobID] == l {
		delete(t.loops, jobID)
	}
	t.mu.Unlock()
	l.cancel()
	close(l.done)

	if final.Err != nil {
		t.logger.Warn("detection job failed", "job_id", jobID, "progress", final.Progress, "error", final.Err)
	} else {
		t.logger.Info("detection job complete", "job_id", jobID, "records", len(final.Result))
	}
	if cancelled {
		// the reader may have gone; never block on a full buffer
		select {
		case out <- final:
		default:
			select {
			case <-out:
			default:
			}
			out <- final
		}
	} else {
		out <- final
	}
	close(out)
}

// poll drives the state machine and returns the terminal update.
func (t *Tracker) poll(ctx context.Context, job *Job, interval time.Duration, out chan<- Update) Update {
	fail := func(err error) Update {
		job.State = Failed
		return Update{Job: *job, Err: err}
	}
	emit := func() bool {
		select {
		case out <- Update{Job: *job}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit() {
		return fail(ctx.Err())
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case <-ticker.C:
		}

		p, err := t.client.Poll(ctx, job.ID)
		if err != nil {
			if ctx.Err() != nil {
				return fail(ctx.Err())
			}
			if !errors.Is(err, detect.ErrTransport) {
				err = fmt.Errorf("%w: %v", detect.ErrTransport, err)
			}
			return fail(err)
		}
		if p.Failed() {
			return fail(fmt.Errorf("%w: %s", ErrJobFailed, p.Error))
		}

		job.State = Processing
		job.Progress = min(max(p.Progress, 0), 100)
		t.logger.Debug("detection progress", "job_id", job.ID, "progress", p.Progress)

		if p.Progress >= 100 {
			recs, err := t.client.Fetch(ctx, job.ID)
			if err != nil {
				if ctx.Err() != nil {
					return fail(ctx.Err())
				}
				return fail(fmt.Errorf("fetch results: %w", err))
			}
			job.State = Done
			job.Result = recs
			return Update{Job: *job}
		}
		if !emit() {
			return fail(ctx.Err())
		}
	}
}

// Wait drains updates until the terminal one and returns the final job.
func Wait(updates <-chan Update, onUpdate func(Update)) (Job, error) {
	var last Update
	for u := range updates {
		if onUpdate != nil {
			onUpdate(u)
		}
		last = u
	}
	if last.State != Done {
		if last.Err == nil {
			last.Err = errors.New("tracker stream closed without a result")
		}
		return last.Job, last.Err
	}
	return last.Job, nil
}
