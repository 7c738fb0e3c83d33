package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"contralock/internal/ledger"
	"contralock/internal/models"
)

func TestOpenDisputeFreezesMilestone(t *testing.T) {
	mc, dc, _, db := setupControllers(t)
	client := seedUser(t, db, "client@test.dev")
	freelancer := seedUser(t, db, "dev@test.dev")
	_, milestones := seedProject(t, db, mc, client.ID, freelancer.ID, 6000)
	ctx := context.Background()
	m := milestones[0]

	require.NoError(t, mc.Submit(ctx, m.ID, freelancer.ID, nil, "done"))

	dispute, err := dc.Open(ctx, OpenParams{
		MilestoneID: m.ID,
		RaisedBy:    client.ID,
		Reason:      models.ReasonQuality,
		Description: "not what we agreed",
		Evidence:    []EvidenceInput{{URL: "https://files.test/diff.png"}},
	})
	require.NoError(t, err)
	require.Equal(t, models.DisputePendingReview, dispute.Status)
	require.Equal(t, models.PhaseAutoReview, dispute.ResolutionPhase)

	var got models.Milestone
	require.NoError(t, db.First(&got, m.ID).Error)
	require.Equal(t, models.MilestoneDisputed, got.Status)

	// Opening a dispute leaves escrow alone but queues triage and notification.
	require.EqualValues(t, 1, countJobs(t, db, JobAiAnalysis))
	require.EqualValues(t, 1, countJobs(t, db, JobNotifyParties))
	var txns int64
	require.NoError(t, db.Model(&models.Transaction{}).Count(&txns).Error)
	require.EqualValues(t, 0, txns)

	// A disputed milestone cannot be approved.
	require.ErrorIs(t, mc.Approve(ctx, m.ID, &client.ID), ErrInvalidTransition)

	// The same raiser cannot stack a second active dispute.
	_, err = dc.Open(ctx, OpenParams{
		MilestoneID: m.ID,
		RaisedBy:    client.ID,
		Reason:      models.ReasonQuality,
		Description: "still unhappy",
	})
	require.ErrorIs(t, err, ErrDisputeExists)
}

func TestOpenDisputeChargesFilingFee(t *testing.T) {
	mc, dc, _, db := setupControllers(t)
	client := seedUser(t, db, "client@test.dev")
	freelancer := seedUser(t, db, "dev@test.dev")
	_, milestones := seedProject(t, db, mc, client.ID, freelancer.ID, 6000)
	ctx := context.Background()

	require.NoError(t, mc.Submit(ctx, milestones[0].ID, freelancer.ID, nil, "done"))
	dispute, err := dc.Open(ctx, OpenParams{
		MilestoneID: milestones[0].ID,
		RaisedBy:    client.ID,
		Reason:      models.ReasonQuality,
		Description: "contested",
	})
	require.NoError(t, err)
	require.True(t, dispute.DisputeFeePaid)

	var wallet models.Wallet
	require.NoError(t, db.Where("user_id = ?", client.ID).First(&wallet).Error)
	require.EqualValues(t, 1_000_000-2500, wallet.Balance)

	var fee models.WalletTransaction
	require.NoError(t, db.Where("type = ? AND dispute_id = ?", models.WalletTxFee, dispute.ID).First(&fee).Error)
	require.Equal(t, models.WalletTxCompleted, fee.Status)
	require.EqualValues(t, 2500, fee.Amount)
}

func TestOpenDisputeFailsWhenFeeUnaffordable(t *testing.T) {
	mc, dc, _, db := setupControllers(t)
	client := seedUser(t, db, "client@test.dev")
	freelancer := seedUser(t, db, "dev@test.dev")
	_, milestones := seedProject(t, db, mc, client.ID, freelancer.ID, 6000)
	ctx := context.Background()

	require.NoError(t, mc.Submit(ctx, milestones[0].ID, freelancer.ID, nil, "done"))
	require.NoError(t, db.Model(&models.Wallet{}).
		Where("user_id = ?", freelancer.ID).Update("balance", 100).Error)

	_, err := dc.Open(ctx, OpenParams{
		MilestoneID: milestones[0].ID,
		RaisedBy:    freelancer.ID,
		Reason:      models.ReasonNonPayment,
		Description: "approved work left unpaid",
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	// The whole open rolled back: no dispute row, milestone still submitted.
	var disputes int64
	require.NoError(t, db.Model(&models.Dispute{}).Count(&disputes).Error)
	require.EqualValues(t, 0, disputes)
	var m models.Milestone
	require.NoError(t, db.First(&m, milestones[0].ID).Error)
	require.Equal(t, models.MilestoneSubmitted, m.Status)
}

func TestOpenDisputeRejectsOutsiders(t *testing.T) {
	mc, dc, _, db := setupControllers(t)
	client := seedUser(t, db, "client@test.dev")
	freelancer := seedUser(t, db, "dev@test.dev")
	stranger := seedUser(t, db, "stranger@test.dev")
	_, milestones := seedProject(t, db, mc, client.ID, freelancer.ID, 6000)
	ctx := context.Background()

	require.NoError(t, mc.Submit(ctx, milestones[0].ID, freelancer.ID, nil, "done"))

	_, err := dc.Open(ctx, OpenParams{
		MilestoneID: milestones[0].ID,
		RaisedBy:    stranger.ID,
		Reason:      models.ReasonOther,
		Description: "I object",
	})
	require.ErrorIs(t, err, ErrForbidden)
}

func openDispute(t *testing.T, mc *MilestoneController, dc *DisputeController, milestoneID, clientID, freelancerID uint) *models.Dispute {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mc.Submit(ctx, milestoneID, freelancerID, nil, "done"))
	dispute, err := dc.Open(ctx, OpenParams{
		MilestoneID: milestoneID,
		RaisedBy:    clientID,
		Reason:      models.ReasonQuality,
		Description: "contested",
	})
	require.NoError(t, err)
	return dispute
}

func TestResolveValidatesSplitBeforeEnqueue(t *testing.T) {
	mc, dc, _, db := setupControllers(t)
	client := seedUser(t, db, "client@test.dev")
	freelancer := seedUser(t, db, "dev@test.dev")
	mediator := seedUser(t, db, "mediator@test.dev")
	_, milestones := seedProject(t, db, mc, client.ID, freelancer.ID, 10000)
	ctx := context.Background()

	dispute := openDispute(t, mc, dc, milestones[0].ID, client.ID, freelancer.ID)
	require.NoError(t, db.Model(&models.Dispute{}).Where("id = ?", dispute.ID).
		Update("status", models.DisputeInMediation).Error)

	// Split does not sum to the milestone amount: rejected synchronously.
	err := dc.Resolve(ctx, ResolveParams{
		DisputeID:          dispute.ID,
		Decision:           "partial refund",
		AmountToFreelancer: 6000,
		AmountToClient:     3000,
		DecidedBy:          mediator.ID,
	})
	require.ErrorIs(t, err, ErrValidation)
	require.EqualValues(t, 0, countJobs(t, db, JobDisputePayment))
	require.EqualValues(t, 0, countJobs(t, db, JobDisputeRefund))

	var got models.Dispute
	require.NoError(t, db.First(&got, dispute.ID).Error)
	require.Equal(t, models.DisputeInMediation, got.Status)
}

func TestResolveEnqueuesBothSettlementLegs(t *testing.T) {
	mc, dc, _, db := setupControllers(t)
	client := seedUser(t, db, "client@test.dev")
	freelancer := seedUser(t, db, "dev@test.dev")
	mediator := seedUser(t, db, "mediator@test.dev")
	_, milestones := seedProject(t, db, mc, client.ID, freelancer.ID, 10000)
	ctx := context.Background()

	dispute := openDispute(t, mc, dc, milestones[0].ID, client.ID, freelancer.ID)
	require.NoError(t, db.Model(&models.Dispute{}).Where("id = ?", dispute.ID).
		Update("status", models.DisputeInMediation).Error)

	require.NoError(t, dc.Resolve(ctx, ResolveParams{
		DisputeID:          dispute.ID,
		Decision:           "60/40 split on partial delivery",
		AmountToFreelancer: 6000,
		AmountToClient:     4000,
		DecidedBy:          mediator.ID,
	}))

	var got models.Dispute
	require.NoError(t, db.First(&got, dispute.ID).Error)
	require.Equal(t, models.DisputeResolved, got.Status)
	require.Equal(t, models.PhaseClosed, got.ResolutionPhase)
	require.EqualValues(t, 6000, got.Resolution.AmountToFreelancer)
	require.EqualValues(t, 4000, got.Resolution.AmountToClient)
	require.NotNil(t, got.ResolvedAt)

	require.EqualValues(t, 1, countJobs(t, db, JobDisputePayment))
	require.EqualValues(t, 1, countJobs(t, db, JobDisputeRefund))
	require.EqualValues(t, 2, countJobs(t, db, JobNotifyParties)) // open + resolve

	// A resolved dispute cannot be resolved again.
	err := dc.Resolve(ctx, ResolveParams{
		DisputeID:          dispute.ID,
		Decision:           "changed my mind",
		AmountToFreelancer: 10000,
		AmountToClient:     0,
		DecidedBy:          mediator.ID,
	})
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.EqualValues(t, 1, countJobs(t, db, JobDisputePayment))
}

func TestResolveFullAwardEnqueuesOneLeg(t *testing.T) {
	mc, dc, _, db := setupControllers(t)
	client := seedUser(t, db, "client@test.dev")
	freelancer := seedUser(t, db, "dev@test.dev")
	mediator := seedUser(t, db, "mediator@test.dev")
	_, milestones := seedProject(t, db, mc, client.ID, freelancer.ID, 10000)

	dispute := openDispute(t, mc, dc, milestones[0].ID, client.ID, freelancer.ID)
	require.NoError(t, db.Model(&models.Dispute{}).Where("id = ?", dispute.ID).
		Update("status", models.DisputeInMediation).Error)

	require.NoError(t, dc.Resolve(context.Background(), ResolveParams{
		DisputeID:          dispute.ID,
		Decision:           "full award to freelancer",
		AmountToFreelancer: 10000,
		AmountToClient:     0,
		DecidedBy:          mediator.ID,
	}))

	require.EqualValues(t, 1, countJobs(t, db, JobDisputePayment))
	require.EqualValues(t, 0, countJobs(t, db, JobDisputeRefund))
}

func TestEscalatedDisputeNeedsAssignment(t *testing.T) {
	mc, dc, _, db := setupControllers(t)
	client := seedUser(t, db, "client@test.dev")
	freelancer := seedUser(t, db, "dev@test.dev")
	arbitrator := seedUser(t, db, "arb@test.dev")
	_, milestones := seedProject(t, db, mc, client.ID, freelancer.ID, 10000)
	ctx := context.Background()

	dispute := openDispute(t, mc, dc, milestones[0].ID, client.ID, freelancer.ID)
	require.NoError(t, db.Model(&models.Dispute{}).Where("id = ?", dispute.ID).
		Update("status", models.DisputeInArbitration).Error)

	require.NoError(t, dc.Escalate(ctx, dispute.ID, client.ID, "cannot agree"))

	// Escalating twice fails; the first transition won.
	require.ErrorIs(t, dc.Escalate(ctx, dispute.ID, client.ID, "again"), ErrInvalidTransition)

	// Resolution is blocked until a human is assigned.
	err := dc.Resolve(ctx, ResolveParams{
		DisputeID:          dispute.ID,
		Decision:           "split",
		AmountToFreelancer: 5000,
		AmountToClient:     5000,
		DecidedBy:          arbitrator.ID,
	})
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.ErrorIs(t, dc.Assign(ctx, dispute.ID, arbitrator.ID, "judge"), ErrValidation)
	require.NoError(t, dc.Assign(ctx, dispute.ID, arbitrator.ID, "arbitrator"))

	require.NoError(t, dc.Resolve(ctx, ResolveParams{
		DisputeID:          dispute.ID,
		Decision:           "split",
		AmountToFreelancer: 5000,
		AmountToClient:     5000,
		DecidedBy:          arbitrator.ID,
	}))
}

func TestDisputeConversationClosesWithDispute(t *testing.T) {
	mc, dc, _, db := setupControllers(t)
	client := seedUser(t, db, "client@test.dev")
	freelancer := seedUser(t, db, "dev@test.dev")
	_, milestones := seedProject(t, db, mc, client.ID, freelancer.ID, 10000)
	ctx := context.Background()

	dispute := openDispute(t, mc, dc, milestones[0].ID, client.ID, freelancer.ID)

	require.NoError(t, dc.AddMessage(ctx, dispute.ID, freelancer.ID, "the work matches the brief"))
	require.NoError(t, dc.AddEvidence(ctx, dispute.ID, freelancer.ID, EvidenceInput{URL: "https://files.test/brief.pdf"}))
	require.ErrorIs(t, dc.AddMessage(ctx, dispute.ID, freelancer.ID, ""), ErrValidation)

	require.NoError(t, db.Model(&models.Dispute{}).Where("id = ?", dispute.ID).
		Update("status", models.DisputeResolved).Error)

	require.ErrorIs(t, dc.AddMessage(ctx, dispute.ID, client.ID, "too late"), ErrInvalidTransition)
	require.ErrorIs(t, dc.AddEvidence(ctx, dispute.ID, client.ID, EvidenceInput{URL: "https://x"}), ErrInvalidTransition)
}
