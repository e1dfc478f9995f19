package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
)

type mockEscrowStore struct {
	mock.Mock
}

func (m *mockEscrowStore) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *mockEscrowStore) GetTransactionByJob(ctx context.Context, jobID uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockEscrowStore) PinReleaseRate(ctx context.Context, jobID uuid.UUID, refundPortion float64) (*models.Transaction, error) {
	args := m.Called(ctx, jobID, refundPortion)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockEscrowStore) FinalizeRelease(ctx context.Context, jobID uuid.UUID, actorRole string, actorID *uuid.UUID) (*models.Job, *models.Transaction, error) {
	args := m.Called(ctx, jobID, actorRole, actorID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Job), args.Get(1).(*models.Transaction), args.Error(2)
}

func (m *mockEscrowStore) Refund(ctx context.Context, jobID uuid.UUID, kind models.ResolutionKind, actorRole string, actorID *uuid.UUID) (*models.Job, *models.Transaction, error) {
	args := m.Called(ctx, jobID, kind, actorRole, actorID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Job), args.Get(1).(*models.Transaction), args.Error(2)
}

func (m *mockEscrowStore) ListReleasePending(ctx context.Context, limit int) ([]models.Job, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.Job), args.Error(1)
}

func (m *mockEscrowStore) ListJobs(ctx context.Context, state *models.JobState, userID *uuid.UUID, limit, offset int) ([]models.Job, error) {
	args := m.Called(ctx, state, userID, limit, offset)
	return args.Get(0).([]models.Job), args.Error(1)
}

func (m *mockEscrowStore) ListEvents(ctx context.Context, jobID uuid.UUID) ([]models.JobEvent, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).([]models.JobEvent), args.Error(1)
}

func (m *mockEscrowStore) ListLedger(ctx context.Context, jobID uuid.UUID) ([]models.LedgerEntry, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).([]models.LedgerEntry), args.Error(1)
}

type mockRail struct {
	mock.Mock
}

func (m *mockRail) Payout(ctx context.Context, recipientID, jobID uuid.UUID, amount float64) error {
	args := m.Called(ctx, recipientID, jobID, amount)
	return args.Error(0)
}

func (m *mockRail) Refund(ctx context.Context, reference string, amount float64) error {
	args := m.Called(ctx, reference, amount)
	return args.Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyTransition(job *models.Job, from models.JobState, actorRole string) {
	m.Called(job, from, actorRole)
}

func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func escrowFixture(state models.JobState) (*models.Job, *models.Transaction) {
	job := &models.Job{
		ID:             uuid.New(),
		ClientID:       uuid.New(),
		ProfessionalID: uuid.New(),
		Amount:         10000,
		State:          state,
	}
	t := &models.Transaction{
		ID:          uuid.New(),
		JobID:       job.ID,
		GrossAmount: 10000,
	}
	return job, t
}

func TestEscrowService_Release_BronzeRate(t *testing.T) {
	store := new(mockEscrowStore)
	rail := new(mockRail)
	notifier := new(mockNotifier)
	svc := NewEscrowService(store, rail, notifier)
	ctx := context.Background()

	job, tx := escrowFixture(models.JobStateInEscrow)
	tx.CommissionRate = floatPtr(0.15)
	tx.NetAmount = floatPtr(8500)
	tx.ReleasePending = true

	released := *job
	released.State = models.JobStateReleased
	resolvedTx := *tx
	resolvedTx.ReleasePending = false

	store.On("GetJob", ctx, job.ID).Return(job, nil)
	store.On("PinReleaseRate", ctx, job.ID, float64(0)).Return(tx, nil)
	rail.On("Payout", ctx, job.ProfessionalID, job.ID, float64(8500)).Return(nil)
	store.On("FinalizeRelease", ctx, job.ID, models.ActorClient, &job.ClientID).Return(&released, &resolvedTx, nil)
	notifier.On("NotifyTransition", &released, models.JobStateInEscrow, models.ActorClient).Return()

	got, gotTx, err := svc.Release(ctx, job.ID, job.ClientID)
	assert.NoError(t, err)
	assert.Equal(t, models.JobStateReleased, got.State)
	assert.Equal(t, float64(8500), *gotTx.NetAmount)
	store.AssertExpectations(t)
	rail.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestEscrowService_Release_OnlyClient(t *testing.T) {
	store := new(mockEscrowStore)
	svc := NewEscrowService(store, new(mockRail), nil)
	ctx := context.Background()

	job, _ := escrowFixture(models.JobStateInEscrow)
	store.On("GetJob", ctx, job.ID).Return(job, nil)

	_, _, err := svc.Release(ctx, job.ID, job.ProfessionalID)
	assert.Error(t, err)
	assert.True(t, apperror.IsForbidden(err))
	store.AssertNotCalled(t, "PinReleaseRate", mock.Anything, mock.Anything, mock.Anything)
}

func TestEscrowService_Release_RailDown_StaysPending(t *testing.T) {
	store := new(mockEscrowStore)
	rail := new(mockRail)
	svc := NewEscrowService(store, rail, nil)
	ctx := context.Background()

	job, tx := escrowFixture(models.JobStateInEscrow)
	tx.CommissionRate = floatPtr(0.15)
	tx.NetAmount = floatPtr(8500)
	tx.ReleasePending = true

	store.On("GetJob", ctx, job.ID).Return(job, nil)
	store.On("PinReleaseRate", ctx, job.ID, float64(0)).Return(tx, nil)
	rail.On("Payout", ctx, job.ProfessionalID, job.ID, float64(8500)).
		Return(apperror.New(apperror.ErrCodeGateway, "рельс недоступен"))

	_, _, err := svc.Release(ctx, job.ID, job.ClientID)
	assert.Error(t, err)
	assert.True(t, apperror.IsGatewayTransient(err))
	// Переход не завершается: сделка остаётся в custody с зафиксированной ставкой.
	store.AssertNotCalled(t, "FinalizeRelease", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEscrowService_RetryPendingReleases_UsesPinnedRate(t *testing.T) {
	store := new(mockEscrowStore)
	rail := new(mockRail)
	notifier := new(mockNotifier)
	svc := NewEscrowService(store, rail, notifier)
	ctx := context.Background()

	job, tx := escrowFixture(models.JobStateInEscrow)
	tx.CommissionRate = floatPtr(0.15)
	tx.NetAmount = floatPtr(8500)
	tx.ReleasePending = true

	released := *job
	released.State = models.JobStateReleased

	store.On("ListReleasePending", ctx, 50).Return([]models.Job{*job}, nil)
	store.On("GetTransactionByJob", ctx, job.ID).Return(tx, nil)
	rail.On("Payout", ctx, job.ProfessionalID, job.ID, float64(8500)).Return(nil)
	store.On("FinalizeRelease", ctx, job.ID, models.ActorSystem, (*uuid.UUID)(nil)).Return(&released, tx, nil)
	notifier.On("NotifyTransition", &released, models.JobStateInEscrow, models.ActorSystem).Return()

	svc.RetryPendingReleases(ctx)
	store.AssertExpectations(t)
	rail.AssertExpectations(t)
}

func TestEscrowService_SplitForDispute_PortionBounds(t *testing.T) {
	store := new(mockEscrowStore)
	svc := NewEscrowService(store, new(mockRail), nil)
	ctx := context.Background()

	_, tx := escrowFixture(models.JobStateInEscrow)
	store.On("GetTransactionByJob", ctx, tx.JobID).Return(tx, nil)

	_, _, err := svc.SplitForDispute(ctx, tx.JobID, 10000, uuid.New())
	assert.Error(t, err)
	assert.True(t, apperror.IsValidation(err))

	_, _, err = svc.SplitForDispute(ctx, tx.JobID, 0, uuid.New())
	assert.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
}

func TestEscrowService_SplitForDispute_BothLegs(t *testing.T) {
	store := new(mockEscrowStore)
	rail := new(mockRail)
	svc := NewEscrowService(store, rail, nil)
	ctx := context.Background()
	adminID := uuid.New()

	job, tx := escrowFixture(models.JobStateInEscrow)
	// Сплит 4000/6000: комиссия 15% только с релизной доли.
	tx.CommissionRate = floatPtr(0.15)
	tx.RefundPortion = floatPtr(4000)
	tx.ReleasePortion = floatPtr(6000)
	tx.NetAmount = floatPtr(5100)
	tx.GatewayReference = strPtr("pay_123")
	tx.ReleasePending = true

	released := *job
	released.State = models.JobStateReleased

	store.On("GetTransactionByJob", ctx, job.ID).Return(tx, nil)
	store.On("GetJob", ctx, job.ID).Return(job, nil)
	store.On("PinReleaseRate", ctx, job.ID, float64(4000)).Return(tx, nil)
	rail.On("Payout", ctx, job.ProfessionalID, job.ID, float64(5100)).Return(nil)
	rail.On("Refund", ctx, "pay_123", float64(4000)).Return(nil)
	store.On("FinalizeRelease", ctx, job.ID, models.ActorAdmin, &adminID).Return(&released, tx, nil)

	_, gotTx, err := svc.SplitForDispute(ctx, job.ID, 4000, adminID)
	assert.NoError(t, err)
	// Обе доли в сумме дают ровно gross.
	assert.Equal(t, tx.GrossAmount, *gotTx.RefundPortion+*gotTx.ReleasePortion)
	rail.AssertExpectations(t)
}

func TestEscrowService_RefundForDispute(t *testing.T) {
	store := new(mockEscrowStore)
	rail := new(mockRail)
	notifier := new(mockNotifier)
	svc := NewEscrowService(store, rail, notifier)
	ctx := context.Background()
	adminID := uuid.New()

	job, tx := escrowFixture(models.JobStateInEscrow)
	tx.GatewayReference = strPtr("pay_777")

	refunded := *job
	refunded.State = models.JobStateRefunded

	store.On("GetJob", ctx, job.ID).Return(job, nil)
	store.On("Refund", ctx, job.ID, models.ResolutionRefunded, models.ActorAdmin, &adminID).Return(&refunded, tx, nil)
	rail.On("Refund", ctx, "pay_777", float64(10000)).Return(nil)
	notifier.On("NotifyTransition", &refunded, models.JobStateInEscrow, models.ActorAdmin).Return()

	got, _, err := svc.RefundForDispute(ctx, job.ID, adminID)
	assert.NoError(t, err)
	assert.Equal(t, models.JobStateRefunded, got.State)
	rail.AssertExpectations(t)
}

func TestEscrowService_RefundByProfessional_OwnJobOnly(t *testing.T) {
	store := new(mockEscrowStore)
	rail := new(mockRail)
	svc := NewEscrowService(store, rail, nil)
	ctx := context.Background()

	job, tx := escrowFixture(models.JobStateInEscrow)
	refunded := *job
	refunded.State = models.JobStateRefunded

	store.On("GetJob", ctx, job.ID).Return(job, nil)

	_, _, err := svc.RefundByProfessional(ctx, job.ID, job.ClientID)
	assert.True(t, apperror.IsForbidden(err))

	store.On("Refund", ctx, job.ID, models.ResolutionRefunded, models.ActorProfessional, &job.ProfessionalID).
		Return(&refunded, tx, nil)

	got, _, err := svc.RefundByProfessional(ctx, job.ID, job.ProfessionalID)
	assert.NoError(t, err)
	assert.Equal(t, models.JobStateRefunded, got.State)
}

func TestEscrowService_AdminCancel_MarkedAsCancellation(t *testing.T) {
	store := new(mockEscrowStore)
	rail := new(mockRail)
	svc := NewEscrowService(store, rail, nil)
	ctx := context.Background()
	adminID := uuid.New()

	job, tx := escrowFixture(models.JobStateInEscrow)
	cancelled := *job
	cancelled.State = models.JobStateCancelled

	store.On("GetJob", ctx, job.ID).Return(job, nil)
	store.On("Refund", ctx, job.ID, models.ResolutionCancelled, models.ActorAdmin, &adminID).Return(&cancelled, tx, nil)

	got, _, err := svc.AdminCancel(ctx, job.ID, adminID)
	assert.NoError(t, err)
	assert.Equal(t, models.JobStateCancelled, got.State)
	store.AssertExpectations(t)
}

func TestEscrowService_ListJobs_UnknownState(t *testing.T) {
	svc := NewEscrowService(new(mockEscrowStore), new(mockRail), nil)
	ctx := context.Background()

	bad := models.JobState("EN_PROCESO")
	_, err := svc.ListJobs(ctx, &bad, nil, 20, 0)
	assert.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
}

func TestEscrowService_ListEvents_PartiesOnly(t *testing.T) {
	store := new(mockEscrowStore)
	svc := NewEscrowService(store, new(mockRail), nil)
	ctx := context.Background()

	job, _ := escrowFixture(models.JobStateInEscrow)
	store.On("GetJob", ctx, job.ID).Return(job, nil)

	_, err := svc.ListEvents(ctx, job.ID, uuid.New(), false)
	assert.True(t, apperror.IsForbidden(err))

	store.On("ListEvents", ctx, job.ID).Return([]models.JobEvent{}, nil)
	_, err = svc.ListEvents(ctx, job.ID, uuid.New(), true)
	assert.NoError(t, err)
}
