package scheduler

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mini-maxit/grader/internal/lease"
	"github.com/mini-maxit/grader/internal/logger"
	"github.com/mini-maxit/grader/internal/pipeline"
	"github.com/mini-maxit/grader/pkg/constants"
	"github.com/mini-maxit/grader/pkg/errors"
	"github.com/mini-maxit/grader/pkg/messages"
	"github.com/mini-maxit/grader/pkg/solution"
)

//go:generate mockgen -destination=../../tests/mocks/mock_scheduler.go -package=mocks . Scheduler,ResultSink

const leaseReleaseTimeout = 5 * time.Second

type Admission int

const (
	AdmissionQueued Admission = iota + 1
	AdmissionAlreadyInProgress
)

func (a Admission) String() string {
	switch a {
	case AdmissionQueued:
		return "queued"
	case AdmissionAlreadyInProgress:
		return "already_in_progress"
	default:
		return "unknown"
	}
}

// Job is one delivery of a grading request.
type Job struct {
	MessageID string
	ReplyTo   string
	Request   *messages.GradingRequest
	// Done is called once the scheduler is finished with an admitted job. requeue
	// reports that the job was not completed here and should be delivered again.
	Done func(requeue bool)
}

func (j Job) submissionID() string {
	return j.Request.SubmissionID
}

// ResultSink receives the outcome of every admitted job.
type ResultSink interface {
	PublishResult(ctx context.Context, job Job, result *solution.GradingResult) error
	// PublishFailure reports a job that could not be graded after every retry.
	PublishFailure(ctx context.Context, job Job, cause error) error
}

type Config struct {
	MaxWorkers int
	// InstanceID identifies this process in lease holders.
	InstanceID   string
	LeaseTTL     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

type Scheduler interface {
	// Submit queues job unless its submission is already queued or running.
	Submit(ctx context.Context, job Job) (Admission, error)
	// Run starts the worker pool and blocks until ctx is done and every worker returned.
	Run(ctx context.Context) error
	Status() messages.StatusResponsePayload
	// State returns the local state of a submission that is queued or running.
	State(submissionID string) (solution.Verdict, bool)
}

type task struct {
	job      Job
	attempts int
}

// outcome tells the worker loop what to do with a job once its lease is released.
type outcome int

const (
	outcomeDone outcome = iota
	outcomeHandBack
	outcomeRetry
)

type scheduler struct {
	cfg    Config
	grader pipeline.Grader
	leases lease.Store
	sink   ResultSink
	logger *zap.SugaredLogger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*task
	states  map[string]solution.Verdict
	working map[int]string
	closed  bool
}

func NewScheduler(cfg Config, grader pipeline.Grader, leases lease.Store, sink ResultSink) Scheduler {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = constants.DefaultMaxWorkers
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = constants.DefaultLeaseTTLMs * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	s := &scheduler{
		cfg:     cfg,
		grader:  grader,
		leases:  leases,
		sink:    sink,
		logger:  logger.NewNamedLogger("scheduler"),
		states:  make(map[string]solution.Verdict),
		working: make(map[int]string, cfg.MaxWorkers),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *scheduler) Submit(ctx context.Context, job Job) (Admission, error) {
	if job.Request == nil || job.Request.SubmissionID == "" {
		return 0, errors.ErrSubmissionIDRequired
	}
	id := job.submissionID()

	// A live lease means another process is grading this submission.
	holder, err := s.leases.Holder(ctx, id)
	if err != nil {
		s.logger.Warnf("Failed to check lease [ID: %s]: %s", id, err)
	} else if holder != "" {
		s.logger.Infof("Submission already claimed [ID: %s, holder: %s]", id, holder)
		return AdmissionAlreadyInProgress, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.ErrSchedulerClosed
	}
	if state, ok := s.states[id]; ok && !state.IsTerminal() {
		return AdmissionAlreadyInProgress, nil
	}
	s.states[id] = solution.Pending
	s.queue = append(s.queue, &task{job: job})
	s.cond.Signal()

	s.logger.Infof("Queued submission [ID: %s, MsgID: %s, queue length: %d]", id, job.MessageID, len(s.queue))
	return AdmissionQueued, nil
}

func (s *scheduler) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.MaxWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.work(ctx, workerID)
		}(i)
	}
	s.logger.Infof("Started %d workers", s.cfg.MaxWorkers)

	wg.Wait()
	s.drain()
	s.logger.Info("All workers stopped")
	return nil
}

func (s *scheduler) Status() messages.StatusResponsePayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[int]string, s.cfg.MaxWorkers)
	busy := 0
	for i := 0; i < s.cfg.MaxWorkers; i++ {
		if id, ok := s.working[i]; ok {
			statuses[i] = constants.WorkerStatusBusy.String() + " processing submission: " + id
			busy++
			continue
		}
		statuses[i] = constants.WorkerStatusIdle.String()
	}

	return messages.StatusResponsePayload{
		BusyWorkers:  busy,
		TotalWorkers: s.cfg.MaxWorkers,
		QueueLength:  len(s.queue),
		WorkerStatus: statuses,
	}
}

func (s *scheduler) State(submissionID string) (solution.Verdict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[submissionID]
	return state, ok
}

func (s *scheduler) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// drain hands every job still queued at shutdown back for redelivery.
func (s *scheduler) drain() {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	for _, t := range pending {
		delete(s.states, t.job.submissionID())
	}
	s.mu.Unlock()

	for _, t := range pending {
		finish(t.job, true)
	}
}

func (s *scheduler) work(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}
		t, ok := s.next(workerID)
		if !ok {
			return
		}
		result := s.process(ctx, workerID, t)
		s.markIdle(workerID)

		switch result {
		case outcomeRetry:
			s.requeue(t)
		case outcomeHandBack:
			finish(t.job, true)
		default:
			finish(t.job, false)
		}
	}
}

func (s *scheduler) next(workerID int) (*task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	// Jobs left in the queue are handed back by drain.
	if s.closed {
		return nil, false
	}
	t := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.working[workerID] = t.job.submissionID()
	return t, true
}

func (s *scheduler) markIdle(workerID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.working, workerID)
}

// process claims and grades one job. The job is completed by the caller, after the
// lease has been released.
func (s *scheduler) process(ctx context.Context, workerID int, t *task) outcome {
	id := t.job.submissionID()
	holder := fmt.Sprintf("%s-%d", s.cfg.InstanceID, workerID)

	claimed, err := s.leases.Acquire(ctx, id, holder, s.cfg.LeaseTTL)
	if err != nil || !claimed {
		s.logger.Warnf("Failed to claim submission, handing it back [ID: %s, claimed: %t, err: %v]", id, claimed, err)
		s.handBack(t.job, solution.Pending)
		return outcomeHandBack
	}
	defer s.releaseLease(ctx, id, holder)

	if err := s.transition(id, solution.Pending, solution.Running); err != nil {
		s.logger.Errorf("Cannot start submission [ID: %s]: %s", id, err)
		s.handBack(t.job, solution.Pending)
		return outcomeHandBack
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopRenewal := s.keepAlive(runCtx, cancel, id, holder)
	defer stopRenewal()

	for {
		err := s.attempt(runCtx, t.job)
		if err == nil {
			return outcomeDone
		}

		if cause := context.Cause(runCtx); cause != nil {
			s.logger.Warnf("Grading interrupted, handing submission back [ID: %s]: %s", id, cause)
			s.handBack(t.job, solution.Running)
			return outcomeHandBack
		}

		t.attempts++
		if t.attempts > s.cfg.MaxRetries {
			s.giveUp(runCtx, t.job, err)
			return outcomeDone
		}

		var pErr *panicError
		if stdErrors.As(err, &pErr) {
			return outcomeRetry
		}

		delay := retryBackoff(t.attempts, s.cfg.RetryBackoff, constants.MaxRetryBackoffMs*time.Millisecond)
		s.logger.Warnf("Grading failed, retrying in %s [ID: %s, attempt: %d/%d]: %s",
			delay, id, t.attempts, s.cfg.MaxRetries, err)
		if !sleep(runCtx, delay) {
			s.handBack(t.job, solution.Running)
			return outcomeHandBack
		}
	}
}

// attempt grades the job once and publishes the verdict.
func (s *scheduler) attempt(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("Worker panicked while grading [ID: %s]: %v", job.submissionID(), r)
			err = &panicError{value: r}
		}
	}()

	result, err := s.grader.Grade(ctx, job.Request)
	if err != nil {
		return err
	}
	// A result produced after the lease was lost must not be published.
	if context.Cause(ctx) != nil {
		return context.Cause(ctx)
	}
	if err := s.sink.PublishResult(ctx, job, result); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrFailedToStoreResult, err)
	}
	if err := s.transition(job.submissionID(), solution.Running, result.Verdict); err != nil {
		s.logger.Errorf("Unexpected verdict transition [ID: %s]: %s", job.submissionID(), err)
	}
	return nil
}

func (s *scheduler) keepAlive(ctx context.Context, cancel context.CancelCauseFunc, id, holder string) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.cfg.LeaseTTL / 3)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := s.leases.Renew(ctx, id, holder, s.cfg.LeaseTTL)
				if err == nil {
					continue
				}
				if stdErrors.Is(err, errors.ErrLeaseNotHeld) {
					s.logger.Errorf("Lease lost while grading [ID: %s, holder: %s]", id, holder)
					cancel(errors.ErrLeaseLost)
					return
				}
				s.logger.Warnf("Failed to renew lease [ID: %s]: %s", id, err)
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *scheduler) releaseLease(ctx context.Context, id, holder string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaseReleaseTimeout)
	defer cancel()
	if err := s.leases.Release(releaseCtx, id, holder); err != nil {
		s.logger.Warnf("Failed to release lease [ID: %s]: %s", id, err)
	}
}

// handBack forgets a submission whose job is going to be delivered again.
func (s *scheduler) handBack(job Job, from solution.Verdict) {
	if from == solution.Running {
		if err := s.transition(job.submissionID(), solution.Running, solution.Pending); err != nil {
			s.logger.Errorf("Failed to return submission to pending [ID: %s]: %s", job.submissionID(), err)
		}
	}
	s.forget(job.submissionID())
}

// requeue puts a job whose worker crashed at the back of the queue.
func (s *scheduler) requeue(t *task) {
	id := t.job.submissionID()
	if err := s.transition(id, solution.Running, solution.Pending); err != nil {
		s.logger.Errorf("Failed to return submission to pending [ID: %s]: %s", id, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.forget(id)
		finish(t.job, true)
		return
	}
	s.queue = append(s.queue, t)
	s.mu.Unlock()
	s.cond.Signal()

	s.logger.Warnf("Re-queued submission after worker crash [ID: %s, attempt: %d]", id, t.attempts)
}

func (s *scheduler) giveUp(ctx context.Context, job Job, cause error) {
	id := job.submissionID()
	s.logger.Errorf("Giving up on submission after %d retries [ID: %s]: %s", s.cfg.MaxRetries, id, cause)

	if err := s.sink.PublishFailure(ctx, job, cause); err != nil {
		s.logger.Errorf("Failed to publish grading failure [ID: %s]: %s", id, err)
	}
	if err := s.transition(id, solution.Running, solution.Pending); err != nil {
		s.logger.Errorf("Failed to return submission to pending [ID: %s]: %s", id, err)
	}
	s.forget(id)
}

func (s *scheduler) transition(id string, from, to solution.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.states[id]
	if !ok || current != from || !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s (current: %q)", errors.ErrInvalidTransition, from, to, current)
	}
	if to.IsTerminal() {
		// Terminal verdicts live with the result store.
		delete(s.states, id)
		return nil
	}
	s.states[id] = to
	return nil
}

func (s *scheduler) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
}

// CanTransition reports whether a submission may move from one state to another.
// Terminal verdicts only move back to pending, for a re-grade.
func CanTransition(from, to solution.Verdict) bool {
	switch {
	case from == solution.Pending:
		return to == solution.Running
	case from == solution.Running:
		return to == solution.Pending || to.IsTerminal()
	case from.IsTerminal():
		return to == solution.Pending
	default:
		return false
	}
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("worker panic: %v", e.value)
}

func finish(job Job, requeue bool) {
	if job.Done != nil {
		job.Done(requeue)
	}
}

// retryBackoff doubles base for every attempt after the first, capped at limit.
func retryBackoff(attempt int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= limit/2 {
			return limit
		}
		delay *= 2
	}
	if delay > limit {
		return limit
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
