package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"igmetrics/pkg/logger"
	"igmetrics/pkg/models"
)

// JobState describes where a refresh job sits in its lifecycle.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Priority orders jobs within the queue. Background refreshes run at
// PriorityLow so explicit requests are picked up first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// Options control how a job is scheduled and executed.
type Options struct {
	Priority    Priority
	SkipBrowser bool
}

// Job is a single refresh request for a linked account.
type Job struct {
	ID          string
	SubjectID   string
	Username    string
	Priority    Priority
	SkipBrowser bool
	State       JobState
	Attempts    int
	Error       string
	CreatedAt   time.Time
	StartedAt   time.Time
	EndedAt     time.Time
}

// Fetcher produces fresh profile data for a job. The service layer
// supplies an implementation backed by the scrape orchestrator.
type Fetcher interface {
	Fetch(ctx context.Context, job Job) (*models.ProfileData, error)
}

// Sink receives successfully fetched data for persistence.
type Sink interface {
	Persist(ctx context.Context, subjectID string, data *models.ProfileData) error
}

// Stats is a point-in-time snapshot of queue activity.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Config tunes worker count, retry behavior and retention.
type Config struct {
	Workers       int
	MaxAttempts   int
	BackoffBase   time.Duration
	KeepCompleted int
	KeepFailed    int
}

// Queue runs refresh jobs on a fixed pool of workers. Each job is retried
// up to MaxAttempts times with doubling delays before it is marked failed.
type Queue struct {
	cfg     Config
	fetcher Fetcher
	sink    Sink
	log     logger.Logger

	mu        sync.Mutex
	highWait  []string
	lowWait   []string
	jobs      map[string]*Job
	bySubject map[string]string
	completed []string
	failed    []string

	wake chan struct{}

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	started bool
}

// New creates a queue. Jobs are not processed until Start is called.
func New(cfg Config, fetcher Fetcher, sink Sink, log logger.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 10 * time.Second
	}
	if cfg.KeepCompleted <= 0 {
		cfg.KeepCompleted = 100
	}
	if cfg.KeepFailed <= 0 {
		cfg.KeepFailed = 50
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		cfg:       cfg,
		fetcher:   fetcher,
		sink:      sink,
		log:       log,
		jobs:      make(map[string]*Job),
		bySubject: make(map[string]string),
		wake:      make(chan struct{}, cfg.Workers),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker goroutines.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.log.InfoWithFields("Starting refresh queue", map[string]interface{}{
		"workers": q.cfg.Workers,
	})

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

// Stop cancels in-flight work and waits for the workers to exit.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
	q.log.Info("Refresh queue stopped")
}

// Enqueue adds a refresh job for the subject and returns without waiting
// for a worker, regardless of backlog size. If a job for the same subject
// is already waiting or active, its ID is returned instead of queuing a
// duplicate.
func (q *Queue) Enqueue(subjectID, username string, opts Options) (string, error) {
	if q.ctx.Err() != nil {
		return "", fmt.Errorf("queue is shutting down")
	}

	q.mu.Lock()

	if id, ok := q.bySubject[subjectID]; ok {
		q.mu.Unlock()
		return id, nil
	}

	job := &Job{
		ID:          fmt.Sprintf("%s-%s", subjectID, uuid.NewString()),
		SubjectID:   subjectID,
		Username:    username,
		Priority:    opts.Priority,
		SkipBrowser: opts.SkipBrowser,
		State:       StateWaiting,
		CreatedAt:   time.Now().UTC(),
	}
	q.jobs[job.ID] = job
	q.bySubject[subjectID] = job.ID
	if opts.Priority == PriorityHigh {
		q.highWait = append(q.highWait, job.ID)
	} else {
		q.lowWait = append(q.lowWait, job.ID)
	}
	q.mu.Unlock()

	// Nudge an idle worker. Workers re-check the waiting lists after every
	// job, so a dropped signal only matters when all of them are busy.
	select {
	case q.wake <- struct{}{}:
	default:
	}

	q.log.DebugWithFields("Job enqueued", map[string]interface{}{
		"job_id":   job.ID,
		"username": username,
		"priority": int(opts.Priority),
	})

	return job.ID, nil
}

// Job returns a copy of the job with the given ID.
func (q *Queue) Job(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Jobs returns copies of all tracked jobs, newest first.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Stats reports how many jobs sit in each state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, job := range q.jobs {
		switch job.State {
		case StateWaiting:
			s.Waiting++
		case StateActive:
			s.Active++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
	}
	return s
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	q.log.DebugWithFields("Queue worker started", map[string]interface{}{
		"worker_id": id,
	})

	for {
		if jobID, ok := q.dequeue(); ok {
			q.process(jobID, id)
			continue
		}

		select {
		case <-q.ctx.Done():
			q.log.DebugWithFields("Queue worker stopping", map[string]interface{}{
				"worker_id": id,
			})
			return
		case <-q.wake:
		}
	}
}

// dequeue pops the next waiting job ID, draining high-priority work
// before touching the low list.
func (q *Queue) dequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.highWait) > 0 {
		id := q.highWait[0]
		q.highWait = q.highWait[1:]
		return id, true
	}
	if len(q.lowWait) > 0 {
		id := q.lowWait[0]
		q.lowWait = q.lowWait[1:]
		return id, true
	}
	return "", false
}

func (q *Queue) process(jobID string, workerID int) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.State = StateActive
	job.StartedAt = time.Now().UTC()
	snapshot := *job
	q.mu.Unlock()

	q.log.DebugWithFields("Worker processing job", map[string]interface{}{
		"worker_id": workerID,
		"job_id":    jobID,
		"username":  snapshot.Username,
	})

	var lastErr error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		q.mu.Lock()
		job.Attempts = attempt
		q.mu.Unlock()

		lastErr = q.runOnce(snapshot)
		if lastErr == nil {
			q.finish(jobID, StateCompleted, "")
			return
		}
		if q.ctx.Err() != nil {
			break
		}

		if attempt < q.cfg.MaxAttempts {
			delay := q.cfg.BackoffBase * time.Duration(1<<(attempt-1))
			q.log.DebugWithFields("Job attempt failed, backing off", map[string]interface{}{
				"job_id":  jobID,
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   lastErr.Error(),
			})
			timer := time.NewTimer(delay)
			select {
			case <-q.ctx.Done():
				timer.Stop()
				q.finish(jobID, StateFailed, lastErr.Error())
				return
			case <-timer.C:
			}
		}
	}

	msg := "cancelled"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	q.finish(jobID, StateFailed, msg)
}

func (q *Queue) runOnce(job Job) error {
	data, err := q.fetcher.Fetch(q.ctx, job)
	if err != nil {
		return err
	}
	return q.sink.Persist(q.ctx, job.SubjectID, data)
}

func (q *Queue) finish(jobID string, state JobState, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return
	}
	job.State = state
	job.Error = errMsg
	job.EndedAt = time.Now().UTC()
	delete(q.bySubject, job.SubjectID)

	if state == StateCompleted {
		q.completed = append(q.completed, jobID)
		q.trimLocked(&q.completed, q.cfg.KeepCompleted)
	} else {
		q.failed = append(q.failed, jobID)
		q.trimLocked(&q.failed, q.cfg.KeepFailed)

		q.log.WarnWithFields("Refresh job failed", map[string]interface{}{
			"job_id":   jobID,
			"username": job.Username,
			"attempts": job.Attempts,
			"error":    errMsg,
		})
	}
}

// trimLocked drops the oldest finished jobs beyond the retention limit.
// Callers must hold q.mu.
func (q *Queue) trimLocked(ids *[]string, keep int) {
	for len(*ids) > keep {
		old := (*ids)[0]
		*ids = (*ids)[1:]
		delete(q.jobs, old)
	}
}
