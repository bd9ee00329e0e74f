// Package queue runs the in-process worker pools. Each pool bounds
// concurrency with a weighted semaphore and throttles job starts with a
// token-bucket rate limiter; jobs for different conversations run in
// parallel while per-conversation exclusivity stays with the window
// coordinator.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Job is one unit of routed work.
type Job struct {
	ID             string `json:"jobId"`
	ConversationID string `json:"conversationId"`
	ClientID       string `json:"clientId"`
	WorkflowID     string `json:"workflowId,omitempty"`
	WorkflowKey    string `json:"workflowKey"`
	TargetID       string `json:"targetId"`
	CredentialID   string `json:"credentialId"`
	MessageID      string `json:"messageId,omitempty"`
	Text           string `json:"text,omitempty"`
}

// NewJob assigns a fresh idempotency key.
func NewJob(conversationID, clientID, workflowID, targetID, credentialID string) Job {
	return Job{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		ClientID:       clientID,
		WorkflowID:     workflowID,
		TargetID:       targetID,
		CredentialID:   credentialID,
	}
}

// record keeps a finished job around briefly for inspection and duplicate
// detection.
type record struct {
	job        Job
	err        error
	finishedAt time.Time
}

// Pool executes jobs with bounded concurrency and a start-rate limit.
type Pool struct {
	name    string
	log     *slog.Logger
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu       sync.Mutex
	inflight map[string]bool
	done     map[string]record
	wg       sync.WaitGroup

	retention time.Duration
}

// completedJobRetention mirrors the short keep-then-discard policy for
// finished jobs.
const completedJobRetention = 60 * time.Second

func NewPool(name string, log *slog.Logger, workers int, perSecond float64) *Pool {
	return &Pool{
		name:      name,
		log:       log,
		sem:       semaphore.NewWeighted(int64(workers)),
		limiter:   rate.NewLimiter(rate.Limit(perSecond), workers),
		inflight:  make(map[string]bool),
		done:      make(map[string]record),
		retention: completedJobRetention,
	}
}

// Submit schedules the job. Duplicate job ids (in flight or recently
// finished) are dropped. The call returns once the job is admitted; fn runs
// on a pool goroutine.
func (p *Pool) Submit(ctx context.Context, job Job, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.inflight[job.ID] {
		p.mu.Unlock()
		p.log.Warn("duplicate job dropped", "pool", p.name, "job", job.ID)
		return nil
	}
	if _, seen := p.done[job.ID]; seen {
		p.mu.Unlock()
		p.log.Warn("finished job resubmitted, dropped", "pool", p.name, "job", job.ID)
		return nil
	}
	p.inflight[job.ID] = true
	p.mu.Unlock()

	if err := p.limiter.Wait(ctx); err != nil {
		p.forget(job.ID)
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.forget(job.ID)
		return fmt.Errorf("acquire worker: %w", err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		err := p.run(ctx, job, fn)
		p.finish(job, err)
	}()
	return nil
}

// run executes fn with panic containment.
func (p *Pool) run(ctx context.Context, job Job, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
			p.log.Error("job panicked",
				"pool", p.name, "job", job.ID, "conversation", job.ConversationID,
				"panic", r, "stack", string(debug.Stack()))
		}
	}()
	return fn(ctx)
}

func (p *Pool) finish(job Job, err error) {
	if err != nil {
		p.log.Error("job failed",
			"pool", p.name, "job", job.ID, "conversation", job.ConversationID, "error", err)
	} else {
		p.log.Debug("job done", "pool", p.name, "job", job.ID)
	}
	p.mu.Lock()
	delete(p.inflight, job.ID)
	p.done[job.ID] = record{job: job, err: err, finishedAt: time.Now()}
	p.mu.Unlock()
}

func (p *Pool) forget(jobID string) {
	p.mu.Lock()
	delete(p.inflight, jobID)
	p.mu.Unlock()
}

// SetRate adjusts the job start rate at runtime, for config reloads.
func (p *Pool) SetRate(perSecond float64) {
	if perSecond <= 0 {
		return
	}
	p.limiter.SetLimit(rate.Limit(perSecond))
	p.log.Info("pool rate updated", "pool", p.name, "per_second", perSecond)
}

// Sweep drops finished-job records older than the retention period and
// returns how many were removed.
func (p *Pool) Sweep() int {
	cutoff := time.Now().Add(-p.retention)
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, rec := range p.done {
		if rec.finishedAt.Before(cutoff) {
			delete(p.done, id)
			n++
		}
	}
	return n
}

// Inflight reports the number of running jobs.
func (p *Pool) Inflight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// Wait blocks until all submitted jobs finish.
func (p *Pool) Wait() { p.wg.Wait() }
