package workers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"contralock/internal/config"
	"contralock/internal/database"
	"contralock/internal/ledger"
	"contralock/internal/lifecycle"
	"contralock/internal/logger"
	"contralock/internal/models"
	"contralock/internal/money"
	"contralock/internal/queue"
	"contralock/internal/services"
)

type testEnv struct {
	db         *gorm.DB
	jobs       *queue.Service
	ledger     *ledger.Service
	milestones *lifecycle.MilestoneController
	disputes   *lifecycle.DisputeController
	rail       *services.StubRail
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	policy := config.PolicyConfig{
		AutoApproveDays:        7,
		ArbitrationConfidence:  0.70,
		ArbitrationAmountFloor: 500000,
		MinMilestoneAmount:     1000,
		PlatformFeeRate:        "0.05",
		ProcessorFeeRate:       "0.015",
	}
	queueCfg := config.QueueConfig{
		DefaultMaxAttempts: 3,
		PaymentMaxAttempts: 3,
		NotifyMaxAttempts:  5,
	}

	fees, err := money.NewFeeSchedule(policy.PlatformFeeRate, policy.ProcessorFeeRate)
	require.NoError(t, err)
	log := logger.Default()

	jobs := queue.NewService(db, log, time.Second)
	for _, name := range []string{lifecycle.EmailQueue, lifecycle.PaymentQueue, lifecycle.DisputeQueue} {
		require.NoError(t, jobs.CreateQueue(name, 2))
	}

	ledgerSvc := ledger.NewService(db, log, fees)
	rail := &services.StubRail{}
	notifier := services.NewNotificationService(db, log, "", "no-reply@test.dev")

	RegisterAll(jobs,
		NewPaymentWorker(ledgerSvc, rail, log),
		NewDisputeWorker(db, log, policy, notifier),
	)

	return &testEnv{
		db:         db,
		jobs:       jobs,
		ledger:     ledgerSvc,
		milestones: lifecycle.NewMilestoneController(db, log, jobs, policy, queueCfg),
		disputes:   lifecycle.NewDisputeController(db, log, jobs, policy, queueCfg),
		rail:       rail,
	}
}

func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, e.db.Model(&models.Job{}).
			Where("status = ?", models.JobQueued).
			Update("run_at", time.Now().Add(-time.Second)).Error)
		e.jobs.DispatchOnce(ctx)
		e.jobs.WaitIdle()
	}
}

func (e *testEnv) seedUser(t *testing.T, email string, balance int64) *models.User {
	t.Helper()
	user := &models.User{FullName: email, Email: email, UserTag: email}
	require.NoError(t, e.db.Create(user).Error)
	wallet := &models.Wallet{UserID: user.ID, Balance: balance, Status: models.WalletActive, Currency: "NGN"}
	require.NoError(t, e.db.Create(wallet).Error)
	return user
}

func (e *testEnv) wallet(t *testing.T, userID uint) *models.Wallet {
	t.Helper()
	var w models.Wallet
	require.NoError(t, e.db.Where("user_id = ?", userID).First(&w).Error)
	return &w
}

// fundedProject creates, funds, and activates a project with one milestone
// per amount.
func (e *testEnv) fundedProject(t *testing.T, clientID, freelancerID uint, amounts ...int64) (*models.Project, []models.Milestone) {
	t.Helper()
	ctx := context.Background()
	var budget int64
	inputs := make([]lifecycle.MilestoneInput, 0, len(amounts))
	for i, a := range amounts {
		budget += a
		inputs = append(inputs, lifecycle.MilestoneInput{Title: fmt.Sprintf("m%d", i+1), Amount: a})
	}
	project, err := e.milestones.CreateProject(ctx, lifecycle.CreateProjectParams{
		ClientID:     clientID,
		FreelancerID: freelancerID,
		Title:        "app build",
		Budget:       budget,
		Milestones:   inputs,
	})
	require.NoError(t, err)
	_, err = e.ledger.FundProject(ctx, project.ID, clientID, budget)
	require.NoError(t, err)
	require.NoError(t, e.milestones.MarkFunded(ctx, project.ID))

	var rows []models.Milestone
	require.NoError(t, e.db.Where("project_id = ?", project.ID).Order("id ASC").Find(&rows).Error)
	return project, rows
}

func TestApproveSettlesThroughWorker(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	client := e.seedUser(t, "client@test.dev", 20000)
	freelancer := e.seedUser(t, "dev@test.dev", 0)
	_, milestones := e.fundedProject(t, client.ID, freelancer.ID, 6000, 4000)
	m := milestones[0]

	require.NoError(t, e.milestones.Submit(ctx, m.ID, freelancer.ID, nil, "done"))
	require.NoError(t, e.milestones.Approve(ctx, m.ID, &client.ID))

	e.drain(t)

	// Exactly one completed settlement under the milestone's key.
	var txns []models.Transaction
	require.NoError(t, e.db.
		Where("idempotency_key = ?", ledger.MilestoneReleaseKey(m.ID)).
		Find(&txns).Error)
	require.Len(t, txns, 1)
	require.Equal(t, models.TransactionCompleted, txns[0].Status)
	require.EqualValues(t, 6000, txns[0].Amount)

	// Client escrow shrank, freelancer got the net amount.
	require.EqualValues(t, 4000, e.wallet(t, client.ID).LockedBalance)
	require.EqualValues(t, 6000-390, e.wallet(t, freelancer.ID).Balance)

	var job models.Job
	require.NoError(t, e.db.Where("type = ?", lifecycle.JobMilestoneRelease).First(&job).Error)
	require.Equal(t, models.JobCompleted, job.Status)
}

func TestRailOutageRetriesWithoutDoublePay(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	client := e.seedUser(t, "client@test.dev", 20000)
	freelancer := e.seedUser(t, "dev@test.dev", 0)
	_, milestones := e.fundedProject(t, client.ID, freelancer.ID, 6000)
	m := milestones[0]

	require.NoError(t, e.milestones.Submit(ctx, m.ID, freelancer.ID, nil, "done"))

	// The rail is down when the approval's settlement job first runs.
	e.rail.Err = errors.New("rail unavailable")
	require.NoError(t, e.milestones.Approve(ctx, m.ID, &client.ID))

	e.jobs.DispatchOnce(ctx)
	e.jobs.WaitIdle()

	// The failure is visible as a failed transaction; no money moved and the
	// milestone stays approved.
	key := ledger.MilestoneReleaseKey(m.ID)
	var failed models.Transaction
	require.NoError(t, e.db.Where("idempotency_key = ?", key).First(&failed).Error)
	require.Equal(t, models.TransactionFailed, failed.Status)
	require.EqualValues(t, 0, e.wallet(t, freelancer.ID).Balance)
	require.EqualValues(t, 6000, e.wallet(t, client.ID).LockedBalance)

	var got models.Milestone
	require.NoError(t, e.db.First(&got, m.ID).Error)
	require.Equal(t, models.MilestoneApproved, got.Status)

	var job models.Job
	require.NoError(t, e.db.Where("type = ?", lifecycle.JobMilestoneRelease).First(&job).Error)
	require.Equal(t, models.JobQueued, job.Status)
	require.EqualValues(t, 1, job.Attempts)

	// Rail recovers; the retried job completes the same transaction row.
	e.rail.Err = nil
	e.drain(t)

	var rows []models.Transaction
	require.NoError(t, e.db.Where("idempotency_key = ?", key).Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, models.TransactionCompleted, rows[0].Status)
	require.EqualValues(t, 6000-390, e.wallet(t, freelancer.ID).Balance)
	require.EqualValues(t, 0, e.wallet(t, client.ID).LockedBalance)
}

// countingRail tracks how many times the external rail was charged.
type countingRail struct {
	calls atomic.Int32
}

func (r *countingRail) Capture(ctx context.Context, amount int64, currency, method string) (string, error) {
	r.calls.Add(1)
	return fmt.Sprintf("count-%d", r.calls.Load()), nil
}

func TestRetryAfterCaptureDoesNotChargeRailAgain(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	client := e.seedUser(t, "client@test.dev", 20000)
	freelancer := e.seedUser(t, "dev@test.dev", 0)
	project, milestones := e.fundedProject(t, client.ID, freelancer.ID, 6000)
	m := milestones[0]

	// A previous attempt captured on the rail, then lost its ledger write.
	key := ledger.MilestoneReleaseKey(m.ID)
	require.NoError(t, e.ledger.RecordSettlementFailure(ctx, project.ID, &m.ID, nil,
		models.TransactionMilestoneRelease, 6000, key, "paystack", "capture-7", "db connection reset"))

	rail := &countingRail{}
	worker := NewPaymentWorker(e.ledger, rail, logger.Default())
	payload := fmt.Sprintf(`{"project_id":%d,"milestone_id":%d,"to_user_id":%d,"from_user_id":%d,"amount":6000,"trace_id":"t"}`,
		project.ID, m.ID, freelancer.ID, client.ID)
	require.NoError(t, worker.HandleMilestoneRelease(ctx, &models.Job{Payload: payload}))

	// The stored capture was reused; the rail was never called.
	require.EqualValues(t, 0, rail.calls.Load())

	var done models.Transaction
	require.NoError(t, e.db.Where("idempotency_key = ?", key).First(&done).Error)
	require.Equal(t, models.TransactionCompleted, done.Status)
	require.Equal(t, "capture-7", done.ProviderRef)
	require.EqualValues(t, 6000-390, e.wallet(t, freelancer.ID).Balance)
}

func TestPersistentRailOutageDeadLetters(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	client := e.seedUser(t, "client@test.dev", 20000)
	freelancer := e.seedUser(t, "dev@test.dev", 0)
	_, milestones := e.fundedProject(t, client.ID, freelancer.ID, 6000)
	m := milestones[0]

	require.NoError(t, e.milestones.Submit(ctx, m.ID, freelancer.ID, nil, "done"))
	e.rail.Err = errors.New("rail down hard")
	require.NoError(t, e.milestones.Approve(ctx, m.ID, &client.ID))

	e.drain(t) // exhausts the 3-attempt budget

	var job models.Job
	require.NoError(t, e.db.Where("type = ?", lifecycle.JobMilestoneRelease).First(&job).Error)
	require.Equal(t, models.JobDeadLetter, job.Status)
	require.EqualValues(t, 3, job.Attempts)

	// Escrow is untouched; the operator event is on record.
	require.EqualValues(t, 6000, e.wallet(t, client.ID).LockedBalance)
	var events int64
	require.NoError(t, e.db.Model(&models.DomainEvent{}).
		Where("event_type = ?", "job.dead_lettered").Count(&events).Error)
	require.EqualValues(t, 1, events)

	// After the fix, requeueing settles normally.
	e.rail.Err = nil
	require.NoError(t, e.jobs.RequeueDeadLetter(ctx, job.ID))
	e.drain(t)
	require.EqualValues(t, 6000-390, e.wallet(t, freelancer.ID).Balance)
}

func TestDisputeResolutionSettlesSplit(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	client := e.seedUser(t, "client@test.dev", 20000)
	freelancer := e.seedUser(t, "dev@test.dev", 0)
	mediator := e.seedUser(t, "mediator@test.dev", 0)
	_, milestones := e.fundedProject(t, client.ID, freelancer.ID, 10000)
	m := milestones[0]

	require.NoError(t, e.milestones.Submit(ctx, m.ID, freelancer.ID, nil, "done"))
	dispute, err := e.disputes.Open(ctx, lifecycle.OpenParams{
		MilestoneID: m.ID,
		RaisedBy:    client.ID,
		Reason:      models.ReasonIncomplete,
		Description: "half the features are missing from the delivered build",
	})
	require.NoError(t, err)

	// Triage and the opening notification run first.
	e.drain(t)
	var triaged models.Dispute
	require.NoError(t, e.db.First(&triaged, dispute.ID).Error)
	require.NotEqual(t, models.DisputePendingReview, triaged.Status)

	require.NoError(t, e.disputes.Resolve(ctx, lifecycle.ResolveParams{
		DisputeID:          dispute.ID,
		Decision:           "60/40 split on partial delivery",
		AmountToFreelancer: 6000,
		AmountToClient:     4000,
		DecidedBy:          mediator.ID,
	}))

	e.drain(t)

	// Escrow fully unwound: 6000 net to the freelancer, 4000 back to the
	// client's available balance.
	cw := e.wallet(t, client.ID)
	require.EqualValues(t, 0, cw.LockedBalance)
	require.EqualValues(t, 10000+4000, cw.Balance) // 20000 - 10000 funded + 4000 refund
	require.EqualValues(t, 6000-390, e.wallet(t, freelancer.ID).Balance)

	// Both parties were notified.
	var notifications int64
	require.NoError(t, e.db.Model(&models.Notification{}).
		Where("type = ?", models.NotificationDisputeResolved).
		Count(&notifications).Error)
	require.EqualValues(t, 2, notifications)
}

func TestTriageRoutesToMediation(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	client := e.seedUser(t, "client@test.dev", 20000)
	freelancer := e.seedUser(t, "dev@test.dev", 0)
	_, milestones := e.fundedProject(t, client.ID, freelancer.ID, 10000)
	m := milestones[0]

	require.NoError(t, e.milestones.Submit(ctx, m.ID, freelancer.ID, nil, "done"))
	dispute, err := e.disputes.Open(ctx, lifecycle.OpenParams{
		MilestoneID: m.ID,
		RaisedBy:    client.ID,
		Reason:      models.ReasonLate,
		Description: "delivered a week past the agreed deadline",
		Evidence: []lifecycle.EvidenceInput{
			{URL: "https://files.test/timeline.png"},
			{URL: "https://files.test/chat-log.txt"},
		},
	})
	require.NoError(t, err)

	e.drain(t)

	var got models.Dispute
	require.NoError(t, e.db.First(&got, dispute.ID).Error)
	require.Equal(t, models.DisputeInMediation, got.Status)
	require.Equal(t, models.PhaseMediation, got.ResolutionPhase)
	require.GreaterOrEqual(t, got.AiAnalysis.Confidence, 0.70)
	require.NotNil(t, got.AiAnalysis.AnalyzedAt)
	require.EqualValues(t, 1, got.AiAnalysis.SchemaVersion)
}

func TestTriageRoutesLowConfidenceToArbitration(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	client := e.seedUser(t, "client@test.dev", 20000)
	freelancer := e.seedUser(t, "dev@test.dev", 0)
	_, milestones := e.fundedProject(t, client.ID, freelancer.ID, 10000)
	m := milestones[0]

	require.NoError(t, e.milestones.Submit(ctx, m.ID, freelancer.ID, nil, "done"))
	// Subjective claim, no evidence: low confidence.
	dispute, err := e.disputes.Open(ctx, lifecycle.OpenParams{
		MilestoneID: m.ID,
		RaisedBy:    client.ID,
		Reason:      models.ReasonQuality,
		Description: "bad work",
	})
	require.NoError(t, err)

	e.drain(t)

	var got models.Dispute
	require.NoError(t, e.db.First(&got, dispute.ID).Error)
	require.Equal(t, models.DisputeInArbitration, got.Status)
	require.Equal(t, models.PhaseArbitration, got.ResolutionPhase)
	require.Less(t, got.AiAnalysis.Confidence, 0.70)
}

func TestTriageRoutesLargeAmountToArbitration(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	client := e.seedUser(t, "client@test.dev", 2_000_000)
	freelancer := e.seedUser(t, "dev@test.dev", 0)
	_, milestones := e.fundedProject(t, client.ID, freelancer.ID, 600000)
	m := milestones[0]

	require.NoError(t, e.milestones.Submit(ctx, m.ID, freelancer.ID, nil, "done"))
	// Strong evidence, verifiable claim, but the amount is above the floor.
	dispute, err := e.disputes.Open(ctx, lifecycle.OpenParams{
		MilestoneID: m.ID,
		RaisedBy:    client.ID,
		Reason:      models.ReasonLate,
		Description: "missed the launch date",
		Evidence: []lifecycle.EvidenceInput{
			{URL: "https://files.test/a"},
			{URL: "https://files.test/b"},
			{URL: "https://files.test/c"},
		},
	})
	require.NoError(t, err)

	e.drain(t)

	var got models.Dispute
	require.NoError(t, e.db.First(&got, dispute.ID).Error)
	require.Equal(t, models.DisputeInArbitration, got.Status)
}

func TestTriageRedeliveryIsIdempotent(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	client := e.seedUser(t, "client@test.dev", 20000)
	freelancer := e.seedUser(t, "dev@test.dev", 0)
	_, milestones := e.fundedProject(t, client.ID, freelancer.ID, 10000)
	m := milestones[0]

	require.NoError(t, e.milestones.Submit(ctx, m.ID, freelancer.ID, nil, "done"))
	dispute, err := e.disputes.Open(ctx, lifecycle.OpenParams{
		MilestoneID: m.ID,
		RaisedBy:    client.ID,
		Reason:      models.ReasonLate,
		Description: "late",
		Evidence:    []lifecycle.EvidenceInput{{URL: "https://files.test/x"}},
	})
	require.NoError(t, err)
	e.drain(t)

	var first models.Dispute
	require.NoError(t, e.db.First(&first, dispute.ID).Error)

	// Rerunning the triage handler directly changes nothing.
	worker := NewDisputeWorker(e.db, logger.Default(), config.PolicyConfig{
		ArbitrationConfidence: 0.70, ArbitrationAmountFloor: 500000,
	}, services.NewNotificationService(e.db, logger.Default(), "", "no-reply@test.dev"))
	require.NoError(t, worker.HandleAiAnalysis(ctx, &models.Job{
		Payload: fmt.Sprintf(`{"dispute_id":%d,"trace_id":"t"}`, dispute.ID),
	}))

	var second models.Dispute
	require.NoError(t, e.db.First(&second, dispute.ID).Error)
	require.Equal(t, first.Status, second.Status)
	require.Equal(t, first.AiAnalysis.Confidence, second.AiAnalysis.Confidence)
}
