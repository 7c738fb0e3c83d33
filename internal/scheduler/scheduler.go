package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"contralock/internal/lifecycle"
	"contralock/internal/logger"
	"contralock/internal/outbox"
)

// Manager owns the periodic jobs: the milestone auto-approve sweep and the
// outbox dispatch. Both run in singleton mode so a slow pass never overlaps
// the next one.
type Manager struct {
	scheduler  gocron.Scheduler
	log        *logger.Logger
	milestones *lifecycle.MilestoneController
	dispatcher *outbox.Dispatcher
}

func NewManager(log *logger.Logger, milestones *lifecycle.MilestoneController, dispatcher *outbox.Dispatcher) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Manager{
		scheduler:  s,
		log:        log,
		milestones: milestones,
		dispatcher: dispatcher,
	}, nil
}

// Start registers the jobs and launches the scheduler.
func (m *Manager) Start() error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(m.runAutoApprove),
		gocron.WithName("milestone-auto-approve"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	_, err = m.scheduler.NewJob(
		gocron.DurationJob(2*time.Second),
		gocron.NewTask(m.runOutboxDispatch),
		gocron.WithName("outbox-dispatch"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	m.scheduler.Start()
	m.log.Info("scheduler started")
	return nil
}

func (m *Manager) runAutoApprove() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	approved, err := m.milestones.AutoApproveDue(ctx)
	if err != nil {
		m.log.Error("auto-approve sweep failed: %v", err)
		return
	}
	if approved > 0 {
		m.log.Info("auto-approve sweep promoted %d milestone(s)", approved)
	}
}

func (m *Manager) runOutboxDispatch() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := m.dispatcher.DispatchPending(ctx); err != nil {
		m.log.Error("outbox dispatch failed: %v", err)
	}
}

// Shutdown stops the scheduler and waits for running jobs.
func (m *Manager) Shutdown() error {
	return m.scheduler.Shutdown()
}
