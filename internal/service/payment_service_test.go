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

type mockPaymentStore struct {
	mock.Mock
}

func (m *mockPaymentStore) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *mockPaymentStore) GetIntentByJob(ctx context.Context, jobID uuid.UUID) (*models.PaymentIntent, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentIntent), args.Error(1)
}

func (m *mockPaymentStore) SaveIntent(ctx context.Context, job *models.Job, reference string) (*models.PaymentIntent, error) {
	args := m.Called(ctx, job, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentIntent), args.Error(1)
}

func (m *mockPaymentStore) ConfirmCapture(ctx context.Context, reference string) (*models.Job, bool, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Job), args.Bool(1), args.Error(2)
}

type mockInitiator struct {
	mock.Mock
}

func (m *mockInitiator) CreateIntent(ctx context.Context, jobID uuid.UUID, amount float64) (string, error) {
	args := m.Called(ctx, jobID, amount)
	return args.String(0), args.Error(1)
}

func TestPaymentService_InitiateCapture_Success(t *testing.T) {
	store := new(mockPaymentStore)
	initiator := new(mockInitiator)
	svc := NewPaymentService(store, initiator, nil)
	ctx := context.Background()

	job, _ := escrowFixture(models.JobStatePendingPayment)
	intent := &models.PaymentIntent{JobID: job.ID, Reference: "pay_abc", Amount: job.Amount}

	store.On("GetJob", ctx, job.ID).Return(job, nil)
	store.On("GetIntentByJob", ctx, job.ID).Return(nil, nil)
	initiator.On("CreateIntent", ctx, job.ID, float64(10000)).Return("pay_abc", nil)
	store.On("SaveIntent", ctx, job, "pay_abc").Return(intent, nil)

	got, err := svc.InitiateCapture(ctx, job.ID, job.ClientID)
	assert.NoError(t, err)
	assert.Equal(t, "pay_abc", got.Reference)
	store.AssertExpectations(t)
	initiator.AssertExpectations(t)
}

func TestPaymentService_InitiateCapture_RepeatReturnsSameIntent(t *testing.T) {
	store := new(mockPaymentStore)
	initiator := new(mockInitiator)
	svc := NewPaymentService(store, initiator, nil)
	ctx := context.Background()

	job, _ := escrowFixture(models.JobStatePendingPayment)
	existing := &models.PaymentIntent{JobID: job.ID, Reference: "pay_first", Amount: job.Amount}

	store.On("GetJob", ctx, job.ID).Return(job, nil)
	store.On("GetIntentByJob", ctx, job.ID).Return(existing, nil)

	got, err := svc.InitiateCapture(ctx, job.ID, job.ClientID)
	assert.NoError(t, err)
	assert.Equal(t, "pay_first", got.Reference)
	// Новое намерение в шлюзе не открывается.
	initiator.AssertNotCalled(t, "CreateIntent", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_InitiateCapture_OnlyClient(t *testing.T) {
	store := new(mockPaymentStore)
	svc := NewPaymentService(store, new(mockInitiator), nil)
	ctx := context.Background()

	job, _ := escrowFixture(models.JobStatePendingPayment)
	store.On("GetJob", ctx, job.ID).Return(job, nil)

	_, err := svc.InitiateCapture(ctx, job.ID, job.ProfessionalID)
	assert.True(t, apperror.IsForbidden(err))
}

func TestPaymentService_InitiateCapture_WrongState(t *testing.T) {
	store := new(mockPaymentStore)
	svc := NewPaymentService(store, new(mockInitiator), nil)
	ctx := context.Background()

	job, _ := escrowFixture(models.JobStateInEscrow)
	store.On("GetJob", ctx, job.ID).Return(job, nil)

	_, err := svc.InitiateCapture(ctx, job.ID, job.ClientID)
	assert.True(t, apperror.IsStateConflict(err))
}

func TestPaymentService_InitiateCapture_GatewayRejects(t *testing.T) {
	store := new(mockPaymentStore)
	initiator := new(mockInitiator)
	svc := NewPaymentService(store, initiator, nil)
	ctx := context.Background()

	job, _ := escrowFixture(models.JobStatePendingPayment)
	store.On("GetJob", ctx, job.ID).Return(job, nil)
	store.On("GetIntentByJob", ctx, job.ID).Return(nil, nil)
	initiator.On("CreateIntent", ctx, job.ID, float64(10000)).
		Return("", apperror.New(apperror.ErrCodeGateway, "шлюз недоступен"))

	_, err := svc.InitiateCapture(ctx, job.ID, job.ClientID)
	assert.Error(t, err)
	// Состояние сделки не меняется, намерение не сохраняется.
	store.AssertNotCalled(t, "SaveIntent", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_HandleCallback_Succeeded(t *testing.T) {
	store := new(mockPaymentStore)
	notifier := new(mockNotifier)
	svc := NewPaymentService(store, new(mockInitiator), notifier)
	ctx := context.Background()

	job, _ := escrowFixture(models.JobStateInEscrow)
	store.On("ConfirmCapture", ctx, "pay_abc").Return(job, true, nil)
	notifier.On("NotifyTransition", job, models.JobStatePendingPayment, models.ActorGateway).Return()

	err := svc.HandleCallback(ctx, "pay_abc", CaptureOutcomeSucceeded)
	assert.NoError(t, err)
	notifier.AssertExpectations(t)
}

func TestPaymentService_HandleCallback_ReplayIsNoop(t *testing.T) {
	store := new(mockPaymentStore)
	notifier := new(mockNotifier)
	svc := NewPaymentService(store, new(mockInitiator), notifier)
	ctx := context.Background()

	job, _ := escrowFixture(models.JobStateInEscrow)
	store.On("ConfirmCapture", ctx, "pay_abc").Return(job, false, nil)

	err := svc.HandleCallback(ctx, "pay_abc", CaptureOutcomeSucceeded)
	assert.NoError(t, err)
	// Повтор вебхука подтверждается без повторного эффекта.
	notifier.AssertNotCalled(t, "NotifyTransition", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_HandleCallback_Failed(t *testing.T) {
	store := new(mockPaymentStore)
	svc := NewPaymentService(store, new(mockInitiator), nil)
	ctx := context.Background()

	err := svc.HandleCallback(ctx, "pay_abc", CaptureOutcomeFailed)
	assert.NoError(t, err)
	// Неуспешная оплата не трогает состояние.
	store.AssertNotCalled(t, "ConfirmCapture", mock.Anything, mock.Anything)
}

func TestPaymentService_HandleCallback_UnknownOutcome(t *testing.T) {
	svc := NewPaymentService(new(mockPaymentStore), new(mockInitiator), nil)

	err := svc.HandleCallback(context.Background(), "pay_abc", "maybe")
	assert.True(t, apperror.IsValidation(err))
}

func TestPaymentService_HandleCallback_UnknownReference(t *testing.T) {
	store := new(mockPaymentStore)
	svc := NewPaymentService(store, new(mockInitiator), nil)
	ctx := context.Background()

	store.On("ConfirmCapture", ctx, "pay_ghost").Return(nil, false, apperror.ErrTransactionNotFound)

	err := svc.HandleCallback(ctx, "pay_ghost", CaptureOutcomeSucceeded)
	assert.True(t, apperror.IsNotFound(err))
}
