package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"contralock/internal/database"
	"contralock/internal/logger"
	"contralock/internal/models"
	"contralock/internal/money"
)

func setupLedger(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	fees, err := money.NewFeeSchedule("0.05", "0.015")
	require.NoError(t, err)
	return NewService(db, logger.Default(), fees), db
}

func seedUserWithWallet(t *testing.T, db *gorm.DB, email string, balance int64) *models.User {
	t.Helper()
	user := &models.User{FullName: email, Email: email, UserTag: email}
	require.NoError(t, db.Create(user).Error)
	wallet := &models.Wallet{UserID: user.ID, Balance: balance, Status: models.WalletActive, Currency: "NGN"}
	require.NoError(t, db.Create(wallet).Error)
	return user
}

func walletOf(t *testing.T, db *gorm.DB, userID uint) *models.Wallet {
	t.Helper()
	var w models.Wallet
	require.NoError(t, db.Where("user_id = ?", userID).First(&w).Error)
	return &w
}

func TestDepositAndWithdraw(t *testing.T) {
	svc, db := setupLedger(t)
	user := seedUserWithWallet(t, db, "alice@test.dev", 0)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, user.ID, 10000, "paystack", "ref-1")
	require.NoError(t, err)

	w := walletOf(t, db, user.ID)
	require.EqualValues(t, 10000, w.Balance)
	require.EqualValues(t, 10000, w.TotalDeposited)

	_, err = svc.Withdraw(ctx, user.ID, 4000, "bank:0001")
	require.NoError(t, err)

	w = walletOf(t, db, user.ID)
	require.EqualValues(t, 6000, w.Balance)
	require.EqualValues(t, 4000, w.TotalWithdrawn)

	// Overdraw is rejected and the balance is untouched.
	_, err = svc.Withdraw(ctx, user.ID, 7000, "bank:0001")
	require.ErrorIs(t, err, ErrInsufficientBalance)
	w = walletOf(t, db, user.ID)
	require.EqualValues(t, 6000, w.Balance)
}

func TestWithdrawNeverTouchesLockedBalance(t *testing.T) {
	svc, db := setupLedger(t)
	client := seedUserWithWallet(t, db, "client@test.dev", 10000)
	ctx := context.Background()

	_, err := svc.FundProject(ctx, 1, client.ID, 8000)
	require.NoError(t, err)

	w := walletOf(t, db, client.ID)
	require.EqualValues(t, 2000, w.Balance)
	require.EqualValues(t, 8000, w.LockedBalance)

	// Available balance is 2000; the escrow is not withdrawable.
	_, err = svc.Withdraw(ctx, client.ID, 5000, "bank:0001")
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestFundProjectIsIdempotentPerProject(t *testing.T) {
	svc, db := setupLedger(t)
	client := seedUserWithWallet(t, db, "client@test.dev", 20000)
	ctx := context.Background()

	_, err := svc.FundProject(ctx, 7, client.ID, 8000)
	require.NoError(t, err)

	_, err = svc.FundProject(ctx, 7, client.ID, 8000)
	require.ErrorIs(t, err, ErrDuplicateSettlement)

	w := walletOf(t, db, client.ID)
	require.EqualValues(t, 8000, w.LockedBalance)
}

func TestReleaseMilestoneMovesEscrowOnce(t *testing.T) {
	svc, db := setupLedger(t)
	client := seedUserWithWallet(t, db, "client@test.dev", 10000)
	freelancer := seedUserWithWallet(t, db, "dev@test.dev", 0)
	ctx := context.Background()

	_, err := svc.FundProject(ctx, 1, client.ID, 10000)
	require.NoError(t, err)

	params := ReleaseParams{
		ProjectID:   1,
		MilestoneID: 11,
		FromUserID:  client.ID,
		ToUserID:    freelancer.ID,
		Amount:      6000,
	}
	_, err = svc.ReleaseMilestone(ctx, params)
	require.NoError(t, err)

	// Redelivery of the same settlement is a no-op.
	_, err = svc.ReleaseMilestone(ctx, params)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).
		Where("idempotency_key = ? AND status = ?", MilestoneReleaseKey(11), models.TransactionCompleted).
		Count(&count).Error)
	require.EqualValues(t, 1, count)

	cw := walletOf(t, db, client.ID)
	require.EqualValues(t, 4000, cw.LockedBalance)

	// 5% platform + 1.5% processor on 6000 = 300 + 90.
	fw := walletOf(t, db, freelancer.ID)
	require.EqualValues(t, 6000-390, fw.Balance)

	escrow, err := ProjectEscrowBalance(db, 1)
	require.NoError(t, err)
	require.EqualValues(t, 4000, escrow)
}

func TestReleaseMilestoneRejectsOverdraw(t *testing.T) {
	svc, db := setupLedger(t)
	client := seedUserWithWallet(t, db, "client@test.dev", 5000)
	freelancer := seedUserWithWallet(t, db, "dev@test.dev", 0)
	ctx := context.Background()

	_, err := svc.FundProject(ctx, 1, client.ID, 5000)
	require.NoError(t, err)

	_, err = svc.ReleaseMilestone(ctx, ReleaseParams{
		ProjectID:   1,
		MilestoneID: 11,
		FromUserID:  client.ID,
		ToUserID:    freelancer.ID,
		Amount:      6000,
	})
	require.ErrorIs(t, err, ErrInsufficientEscrow)

	// Nothing moved.
	fw := walletOf(t, db, freelancer.ID)
	require.EqualValues(t, 0, fw.Balance)
	cw := walletOf(t, db, client.ID)
	require.EqualValues(t, 5000, cw.LockedBalance)
}

func TestSettleDisputeSplitConservesEscrow(t *testing.T) {
	svc, db := setupLedger(t)
	client := seedUserWithWallet(t, db, "client@test.dev", 10000)
	freelancer := seedUserWithWallet(t, db, "dev@test.dev", 0)
	ctx := context.Background()

	project := &models.Project{ClientID: client.ID, FreelancerID: freelancer.ID, Title: "p", Budget: 10000, Status: models.ProjectActive}
	require.NoError(t, db.Create(project).Error)

	_, err := svc.FundProject(ctx, project.ID, client.ID, 10000)
	require.NoError(t, err)

	// 6000 to the freelancer, 4000 back to the client.
	_, err = svc.SettleDispute(ctx, DisputeSettleParams{
		DisputeID: 3, ProjectID: project.ID, MilestoneID: 11,
		Recipient: "freelancer", UserID: freelancer.ID, Amount: 6000,
	})
	require.NoError(t, err)
	_, err = svc.SettleDispute(ctx, DisputeSettleParams{
		DisputeID: 3, ProjectID: project.ID, MilestoneID: 11,
		Recipient: "client", UserID: client.ID, Amount: 4000,
	})
	require.NoError(t, err)

	cw := walletOf(t, db, client.ID)
	require.EqualValues(t, 0, cw.LockedBalance)
	require.EqualValues(t, 4000, cw.Balance) // refund carries no fee

	fw := walletOf(t, db, freelancer.ID)
	require.EqualValues(t, 6000-390, fw.Balance)

	// Replaying either leg changes nothing.
	_, err = svc.SettleDispute(ctx, DisputeSettleParams{
		DisputeID: 3, ProjectID: project.ID, MilestoneID: 11,
		Recipient: "client", UserID: client.ID, Amount: 4000,
	})
	require.NoError(t, err)
	cw = walletOf(t, db, client.ID)
	require.EqualValues(t, 4000, cw.Balance)
}

func TestSettleDisputeZeroLegIsNoop(t *testing.T) {
	svc, _ := setupLedger(t)
	txn, err := svc.SettleDispute(context.Background(), DisputeSettleParams{
		DisputeID: 3, ProjectID: 1, MilestoneID: 11,
		Recipient: "client", UserID: 1, Amount: 0,
	})
	require.NoError(t, err)
	require.Nil(t, txn)
}

func TestRecordedFailureCompletesOnRetry(t *testing.T) {
	svc, db := setupLedger(t)
	client := seedUserWithWallet(t, db, "client@test.dev", 10000)
	freelancer := seedUserWithWallet(t, db, "dev@test.dev", 0)
	ctx := context.Background()

	_, err := svc.FundProject(ctx, 1, client.ID, 10000)
	require.NoError(t, err)

	milestoneID := uint(11)
	key := MilestoneReleaseKey(milestoneID)
	require.NoError(t, svc.RecordSettlementFailure(ctx, 1, &milestoneID, nil,
		models.TransactionMilestoneRelease, 6000, key, "", "", "rail timeout"))

	var failed models.Transaction
	require.NoError(t, db.Where("idempotency_key = ?", key).First(&failed).Error)
	require.Equal(t, models.TransactionFailed, failed.Status)

	// The retry completes the same row instead of colliding on the key.
	_, err = svc.ReleaseMilestone(ctx, ReleaseParams{
		ProjectID:   1,
		MilestoneID: milestoneID,
		FromUserID:  client.ID,
		ToUserID:    freelancer.ID,
		Amount:      6000,
	})
	require.NoError(t, err)

	var rows []models.Transaction
	require.NoError(t, db.Where("idempotency_key = ?", key).Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, models.TransactionCompleted, rows[0].Status)

	// A late failure report cannot downgrade the completed settlement.
	require.NoError(t, svc.RecordSettlementFailure(ctx, 1, &milestoneID, nil,
		models.TransactionMilestoneRelease, 6000, key, "", "", "late report"))
	var after models.Transaction
	require.NoError(t, db.Where("idempotency_key = ?", key).First(&after).Error)
	require.Equal(t, models.TransactionCompleted, after.Status)
}

func TestUnkeyedWalletRowsCoexist(t *testing.T) {
	svc, db := setupLedger(t)
	user := seedUserWithWallet(t, db, "alice@test.dev", 0)
	ctx := context.Background()

	// Deposits and withdrawals carry no settlement key; several of them must
	// not trip the unique index on the key column.
	_, err := svc.Deposit(ctx, user.ID, 5000, "paystack", "ref-1")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, user.ID, 3000, "paystack", "ref-2")
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, user.ID, 1000, "bank:0001")
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, user.ID, 1000, "bank:0001")
	require.NoError(t, err)

	var rows int64
	require.NoError(t, db.Model(&models.WalletTransaction{}).
		Where("idempotency_key IS NULL").Count(&rows).Error)
	require.EqualValues(t, 4, rows)
	require.EqualValues(t, 6000, walletOf(t, db, user.ID).Balance)
}

func TestReleaseRecordsFeeLeg(t *testing.T) {
	svc, db := setupLedger(t)
	client := seedUserWithWallet(t, db, "client@test.dev", 10000)
	freelancer := seedUserWithWallet(t, db, "dev@test.dev", 0)
	ctx := context.Background()

	_, err := svc.FundProject(ctx, 1, client.ID, 10000)
	require.NoError(t, err)

	txn, err := svc.ReleaseMilestone(ctx, ReleaseParams{
		ProjectID:   1,
		MilestoneID: 11,
		FromUserID:  client.ID,
		ToUserID:    freelancer.ID,
		Amount:      6000,
	})
	require.NoError(t, err)

	// The gross income and the fee are separate completed rows, and together
	// they net to what the freelancer keeps.
	var income, fee models.WalletTransaction
	require.NoError(t, db.Where("reference = ?", txn.Reference+"-IN").First(&income).Error)
	require.NoError(t, db.Where("reference = ?", txn.Reference+"-FEE").First(&fee).Error)
	require.EqualValues(t, 6000, income.Amount)
	require.Equal(t, models.WalletTxFee, fee.Type)
	require.Equal(t, models.WalletTxCompleted, fee.Status)
	require.EqualValues(t, 390, fee.Amount)
	require.EqualValues(t, 300, fee.PlatformFee)
	require.EqualValues(t, 90, fee.ProcessorFee)

	fw := walletOf(t, db, freelancer.ID)
	require.EqualValues(t, income.Amount-fee.Amount, fw.Balance)
}

func TestFailedSettlementKeepsRailReference(t *testing.T) {
	svc, db := setupLedger(t)
	client := seedUserWithWallet(t, db, "client@test.dev", 10000)
	freelancer := seedUserWithWallet(t, db, "dev@test.dev", 0)
	ctx := context.Background()

	_, err := svc.FundProject(ctx, 1, client.ID, 10000)
	require.NoError(t, err)

	milestoneID := uint(11)
	key := MilestoneReleaseKey(milestoneID)

	// The rail was charged but the ledger write failed afterward.
	require.NoError(t, svc.RecordSettlementFailure(ctx, 1, &milestoneID, nil,
		models.TransactionMilestoneRelease, 6000, key, "paystack", "capture-1", "db write failed"))

	provider, ref, err := SettlementProviderRef(db, key)
	require.NoError(t, err)
	require.Equal(t, "paystack", provider)
	require.Equal(t, "capture-1", ref)

	// A later failure report without a reference does not wipe the stored one.
	require.NoError(t, svc.RecordSettlementFailure(ctx, 1, &milestoneID, nil,
		models.TransactionMilestoneRelease, 6000, key, "", "", "still failing"))
	_, ref, err = SettlementProviderRef(db, key)
	require.NoError(t, err)
	require.Equal(t, "capture-1", ref)

	// The retry completes the row carrying the original capture.
	_, err = svc.ReleaseMilestone(ctx, ReleaseParams{
		ProjectID:   1,
		MilestoneID: milestoneID,
		FromUserID:  client.ID,
		ToUserID:    freelancer.ID,
		Amount:      6000,
		Provider:    "paystack",
		ProviderRef: "capture-1",
	})
	require.NoError(t, err)

	var done models.Transaction
	require.NoError(t, db.Where("idempotency_key = ?", key).First(&done).Error)
	require.Equal(t, models.TransactionCompleted, done.Status)
	require.Equal(t, "capture-1", done.ProviderRef)
}

func TestAdminAdjustRequiresReason(t *testing.T) {
	svc, db := setupLedger(t)
	user := seedUserWithWallet(t, db, "user@test.dev", 0)
	ctx := context.Background()

	_, err := svc.AdminAdjust(ctx, 99, user.ID, 500, true, "", nil)
	require.Error(t, err)

	_, err = svc.AdminAdjust(ctx, 99, user.ID, 500, true, "dead-letter repair", nil)
	require.NoError(t, err)
	require.EqualValues(t, 500, walletOf(t, db, user.ID).Balance)

	var audits int64
	require.NoError(t, db.Model(&models.AuditTrail{}).
		Where("action = ?", "wallet.admin_adjust").
		Count(&audits).Error)
	require.EqualValues(t, 1, audits)
}

func TestAuditAndEventsWrittenWithLedger(t *testing.T) {
	svc, db := setupLedger(t)
	user := seedUserWithWallet(t, db, "user@test.dev", 0)

	_, err := svc.Deposit(context.Background(), user.ID, 1000, "paystack", "ref-9")
	require.NoError(t, err)

	var events []models.DomainEvent
	require.NoError(t, db.Where("event_type = ?", "wallet.deposited").Find(&events).Error)
	require.Len(t, events, 1)
	require.False(t, events[0].Published)
	require.NotEmpty(t, events[0].TraceID)

	var audit models.AuditTrail
	require.NoError(t, db.Where("action = ?", "wallet.deposit").First(&audit).Error)
	require.Equal(t, events[0].TraceID, audit.TraceID)
}
