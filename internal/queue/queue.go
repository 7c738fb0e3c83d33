package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"gorm.io/gorm"

	"contralock/internal/logger"
	"contralock/internal/models"
)

// HandlerFunc processes one job. It must be idempotent: a redelivered job has
// to produce the same ledger end-state as a single successful run.
type HandlerFunc func(ctx context.Context, job *models.Job) error

// Service is the named-queue abstraction over the jobs table. The table is
// the durable broker: Enqueue writes a row, the poller claims due rows with a
// guarded update and hands them to that queue's worker pool. Constructed
// explicitly and passed by reference; there is no package-level instance.
type Service struct {
	db           *gorm.DB
	log          *logger.Logger
	pollInterval time.Duration

	mu       sync.RWMutex
	pools    map[string]*ants.Pool
	handlers map[string]HandlerFunc

	stop    chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup
	started bool
}

// Option tunes a single enqueued job.
type Option func(*models.Job)

func WithPriority(p int) Option         { return func(j *models.Job) { j.Priority = p } }
func WithMaxAttempts(n int) Option      { return func(j *models.Job) { j.MaxAttempts = n } }
func WithTimeout(d time.Duration) Option { return func(j *models.Job) { j.TimeoutSecs = int(d.Seconds()) } }
func WithBackoff(d time.Duration) Option { return func(j *models.Job) { j.BackoffSecs = int(d.Seconds()) } }
func WithDelay(d time.Duration) Option   { return func(j *models.Job) { j.RunAt = time.Now().Add(d) } }

func NewService(db *gorm.DB, log *logger.Logger, pollInterval time.Duration) *Service {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Service{
		db:           db,
		log:          log,
		pollInterval: pollInterval,
		pools:        make(map[string]*ants.Pool),
		handlers:     make(map[string]HandlerFunc),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// CreateQueue registers a named queue with its own concurrency-limited pool.
func (s *Service) CreateQueue(name string, concurrency int) error {
	if concurrency <= 0 {
		return fmt.Errorf("queue %s: concurrency must be positive", name)
	}
	pool, err := ants.NewPool(concurrency, ants.WithNonblocking(false))
	if err != nil {
		return fmt.Errorf("queue %s: failed to create pool: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pools[name]; exists {
		pool.Release()
		return fmt.Errorf("queue %s already exists", name)
	}
	s.pools[name] = pool
	return nil
}

// Register binds a handler to a job type.
func (s *Service) Register(jobType string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = handler
}

// Enqueue persists a job on its own connection.
func (s *Service) Enqueue(ctx context.Context, queueName, jobType string, payload interface{}, opts ...Option) (*models.Job, error) {
	return s.enqueue(s.db.WithContext(ctx), queueName, jobType, payload, opts...)
}

// EnqueueTx persists a job inside the caller's transaction, so a state
// transition and its settlement job commit or roll back together.
func (s *Service) EnqueueTx(tx *gorm.DB, queueName, jobType string, payload interface{}, opts ...Option) (*models.Job, error) {
	return s.enqueue(tx, queueName, jobType, payload, opts...)
}

func (s *Service) enqueue(tx *gorm.DB, queueName, jobType string, payload interface{}, opts ...Option) (*models.Job, error) {
	s.mu.RLock()
	_, ok := s.pools[queueName]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown queue: %s", queueName)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job := &models.Job{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Type:        jobType,
		Payload:     string(data),
		Status:      models.JobQueued,
		MaxAttempts: 3,
		TimeoutSecs: 30,
		BackoffSecs: 5,
		RunAt:       time.Now(),
	}
	for _, opt := range opts {
		opt(job)
	}

	if err := tx.Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// Start launches the polling loop. Jobs left in running state by a previous
// crash are requeued first so they get redelivered.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("queue service already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.recoverOrphans(); err != nil {
		return err
	}

	go s.pollLoop(ctx)
	return nil
}

func (s *Service) recoverOrphans() error {
	return s.db.Model(&models.Job{}).
		Where("status = ?", models.JobRunning).
		Updates(map[string]interface{}{
			"status":     models.JobQueued,
			"run_at":     time.Now(),
			"last_error": "requeued after restart",
		}).Error
}

func (s *Service) pollLoop(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

func (s *Service) dispatchDue(ctx context.Context) {
	s.mu.RLock()
	queues := make(map[string]*ants.Pool, len(s.pools))
	for name, pool := range s.pools {
		queues[name] = pool
	}
	s.mu.RUnlock()

	for name, pool := range queues {
		free := pool.Free()
		if free <= 0 {
			continue
		}

		var candidates []models.Job
		err := s.db.
			Where("queue = ? AND status = ? AND run_at <= ?", name, models.JobQueued, time.Now()).
			Order("priority DESC, run_at ASC").
			Limit(free).
			Find(&candidates).Error
		if err != nil {
			s.log.Error("queue %s: failed to load due jobs: %v", name, err)
			continue
		}

		for i := range candidates {
			job := candidates[i]
			if !s.claim(&job) {
				continue
			}
			s.wg.Add(1)
			submitErr := pool.Submit(func() {
				defer s.wg.Done()
				s.execute(ctx, &job)
			})
			if submitErr != nil {
				s.wg.Done()
				s.release(&job, fmt.Sprintf("pool submit failed: %v", submitErr))
			}
		}
	}
}

// claim flips queued -> running with a guarded update; only one worker wins.
func (s *Service) claim(job *models.Job) bool {
	now := time.Now()
	res := s.db.Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, models.JobQueued).
		Updates(map[string]interface{}{
			"status":     models.JobRunning,
			"started_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		s.log.Error("failed to claim job %s: %v", job.ID, res.Error)
		return false
	}
	if res.RowsAffected == 0 {
		return false
	}
	job.Status = models.JobRunning
	job.StartedAt = &now
	job.Attempts++
	return true
}

func (s *Service) release(job *models.Job, reason string) {
	err := s.db.Model(&models.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":     models.JobQueued,
			"last_error": reason,
		}).Error
	if err != nil {
		s.log.Error("failed to release job %s: %v", job.ID, err)
	}
}

func (s *Service) execute(ctx context.Context, job *models.Job) {
	s.mu.RLock()
	handler, ok := s.handlers[job.Type]
	s.mu.RUnlock()
	if !ok {
		s.fail(job, fmt.Sprintf("no handler registered for job type %s", job.Type))
		return
	}

	timeout := time.Duration(job.TimeoutSecs) * time.Second
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- handler(jobCtx, job)
	}()

	var err error
	select {
	case err = <-done:
	case <-jobCtx.Done():
		err = fmt.Errorf("job exceeded %s timeout", timeout)
	}

	if err != nil {
		s.fail(job, err.Error())
		return
	}

	now := time.Now()
	updateErr := s.db.Model(&models.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":      models.JobCompleted,
			"finished_at": now,
			"last_error":  "",
		}).Error
	if updateErr != nil {
		s.log.Error("failed to mark job %s completed: %v", job.ID, updateErr)
	}
}

// fail either reschedules with exponential backoff or dead-letters the job.
// Dead-lettered jobs stay in the table and emit an operator event; they are
// never dropped.
func (s *Service) fail(job *models.Job, reason string) {
	s.log.Warn("job %s (%s) attempt %d/%d failed: %s", job.ID, job.Type, job.Attempts, job.MaxAttempts, reason)

	if job.Attempts >= job.MaxAttempts {
		now := time.Now()
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.Job{}).
				Where("id = ?", job.ID).
				Updates(map[string]interface{}{
					"status":      models.JobDeadLetter,
					"finished_at": now,
					"last_error":  reason,
				}).Error; err != nil {
				return err
			}
			payload, _ := json.Marshal(map[string]interface{}{
				"job_id":     job.ID,
				"queue":      job.Queue,
				"type":       job.Type,
				"attempts":   job.Attempts,
				"last_error": reason,
			})
			return tx.Create(&models.DomainEvent{
				EventType: "job.dead_lettered",
				Payload:   string(payload),
				TraceID:   job.ID,
			}).Error
		})
		if err != nil {
			s.log.Error("failed to dead-letter job %s: %v", job.ID, err)
		}
		return
	}

	delay := s.backoff(job)
	err := s.db.Model(&models.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":     models.JobQueued,
			"run_at":     time.Now().Add(delay),
			"last_error": reason,
		}).Error
	if err != nil {
		s.log.Error("failed to reschedule job %s: %v", job.ID, err)
	}
}

// backoff doubles the base delay per prior attempt, capped at five minutes.
func (s *Service) backoff(job *models.Job) time.Duration {
	base := time.Duration(job.BackoffSecs) * time.Second
	if base <= 0 {
		base = 5 * time.Second
	}
	delay := base << uint(job.Attempts-1)
	if delay > 5*time.Minute {
		delay = 5 * time.Minute
	}
	return delay
}

// RequeueDeadLetter resets a dead-lettered job for another full retry budget.
// Operator surface for remediation after a manual fix.
func (s *Service) RequeueDeadLetter(ctx context.Context, jobID string) error {
	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, models.JobDeadLetter).
		Updates(map[string]interface{}{
			"status":     models.JobQueued,
			"attempts":   0,
			"run_at":     time.Now(),
			"last_error": "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s is not dead-lettered", jobID)
	}
	return nil
}

// DeadLetters lists dead-lettered jobs for the admin surface.
func (s *Service) DeadLetters(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []models.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", models.JobDeadLetter).
		Order("finished_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// Shutdown stops polling, waits for in-flight jobs to drain, and releases
// the pools.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	close(s.stop)
	select {
	case <-s.stopped:
	case <-ctx.Done():
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pool := range s.pools {
		pool.Release()
	}
	return nil
}

// DispatchOnce runs one polling pass synchronously. Used by tests and by
// callers that want deterministic draining instead of waiting for the ticker.
func (s *Service) DispatchOnce(ctx context.Context) {
	s.dispatchDue(ctx)
}

// WaitIdle blocks until no claimed job is still executing and every worker
// is back in its pool, so a following DispatchOnce sees full capacity.
func (s *Service) WaitIdle() {
	s.wg.Wait()
	for {
		s.mu.RLock()
		running := 0
		for _, pool := range s.pools {
			running += pool.Running()
		}
		s.mu.RUnlock()
		if running == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
}
