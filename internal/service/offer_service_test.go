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

type mockOfferRepo struct {
	mock.Mock
}

func (m *mockOfferRepo) Create(ctx context.Context, offer *models.Offer) error {
	args := m.Called(ctx, offer)
	return args.Error(0)
}

func (m *mockOfferRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Offer), args.Error(1)
}

func (m *mockOfferRepo) Accept(ctx context.Context, offerID, clientID uuid.UUID) (*models.Offer, *models.Job, error) {
	args := m.Called(ctx, offerID, clientID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Offer), args.Get(1).(*models.Job), args.Error(2)
}

func (m *mockOfferRepo) Reject(ctx context.Context, offerID, clientID uuid.UUID) (*models.Offer, error) {
	args := m.Called(ctx, offerID, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Offer), args.Error(1)
}

func (m *mockOfferRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Offer, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Offer), args.Error(1)
}

func TestOfferService_Propose_Success(t *testing.T) {
	repo := new(mockOfferRepo)
	svc := NewOfferService(repo)
	ctx := context.Background()

	professionalID := uuid.New()
	clientID := uuid.New()

	repo.On("Create", ctx, mock.MatchedBy(func(o *models.Offer) bool {
		return o.ProfessionalID == professionalID &&
			o.ClientID == clientID &&
			o.Description == "ремонт смесителя" &&
			o.FinalPrice == 3500
	})).Return(nil)

	offer, err := svc.Propose(ctx, professionalID, clientID, nil, "  ремонт смесителя  ", 3500)
	assert.NoError(t, err)
	assert.Equal(t, 3500.0, offer.FinalPrice)
	repo.AssertExpectations(t)
}

func TestOfferService_Propose_Validation(t *testing.T) {
	repo := new(mockOfferRepo)
	svc := NewOfferService(repo)
	ctx := context.Background()
	professionalID := uuid.New()

	_, err := svc.Propose(ctx, professionalID, uuid.New(), nil, "описание", 0)
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.Propose(ctx, professionalID, uuid.New(), nil, "   ", 1000)
	assert.True(t, apperror.IsValidation(err))

	_, err = svc.Propose(ctx, professionalID, professionalID, nil, "самому себе", 1000)
	assert.True(t, apperror.IsValidation(err))

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestOfferService_Accept_CreatesJob(t *testing.T) {
	repo := new(mockOfferRepo)
	svc := NewOfferService(repo)
	ctx := context.Background()

	offerID := uuid.New()
	clientID := uuid.New()
	accepted := &models.Offer{ID: offerID, ClientID: clientID, Status: models.OfferStatusAccepted}
	job := &models.Job{ID: uuid.New(), OfferID: offerID, ClientID: clientID, State: models.JobStatePendingPayment}

	repo.On("Accept", ctx, offerID, clientID).Return(accepted, job, nil)

	gotOffer, gotJob, err := svc.Accept(ctx, offerID, clientID)
	assert.NoError(t, err)
	assert.Equal(t, models.OfferStatusAccepted, gotOffer.Status)
	assert.Equal(t, models.JobStatePendingPayment, gotJob.State)
}

func TestOfferService_Accept_AlreadyDecided(t *testing.T) {
	repo := new(mockOfferRepo)
	svc := NewOfferService(repo)
	ctx := context.Background()

	offerID := uuid.New()
	clientID := uuid.New()
	repo.On("Accept", ctx, offerID, clientID).Return(nil, nil, apperror.ErrOfferAlreadyDecided)

	_, _, err := svc.Accept(ctx, offerID, clientID)
	assert.True(t, apperror.IsStateConflict(err))
}

func TestOfferService_GetOffer_PartiesOnly(t *testing.T) {
	repo := new(mockOfferRepo)
	svc := NewOfferService(repo)
	ctx := context.Background()

	offer := &models.Offer{ID: uuid.New(), ClientID: uuid.New(), ProfessionalID: uuid.New()}
	repo.On("GetByID", ctx, offer.ID).Return(offer, nil)

	_, err := svc.GetOffer(ctx, offer.ID, offer.ProfessionalID)
	assert.NoError(t, err)

	_, err = svc.GetOffer(ctx, offer.ID, uuid.New())
	assert.True(t, apperror.IsForbidden(err))
}

func TestOfferService_ListMyOffers_ClampsLimit(t *testing.T) {
	repo := new(mockOfferRepo)
	svc := NewOfferService(repo)
	ctx := context.Background()
	userID := uuid.New()

	repo.On("ListByUser", ctx, userID, 20, 0).Return([]models.Offer{}, nil)

	_, err := svc.ListMyOffers(ctx, userID, 500, -3)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}
