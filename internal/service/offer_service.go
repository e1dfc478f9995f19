package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
)

// OfferRepository описывает взаимодействие сервиса с хранилищем предложений.
type OfferRepository interface {
	Create(ctx context.Context, offer *models.Offer) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error)
	Accept(ctx context.Context, offerID, clientID uuid.UUID) (*models.Offer, *models.Job, error)
	Reject(ctx context.Context, offerID, clientID uuid.UUID) (*models.Offer, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Offer, error)
}

// OfferService — реестр предложений: создание и фиксация решения клиента.
type OfferService struct {
	repo OfferRepository
}

func NewOfferService(repo OfferRepository) *OfferService {
	return &OfferService{repo: repo}
}

// Propose создаёт предложение исполнителя клиенту с фиксированной ценой.
func (s *OfferService) Propose(ctx context.Context, professionalID, clientID uuid.UUID, conversationRef *uuid.UUID, description string, finalPrice float64) (*models.Offer, error) {
	if finalPrice <= 0 {
		return nil, apperror.Validationf("цена должна быть положительной")
	}
	if strings.TrimSpace(description) == "" {
		return nil, apperror.Validationf("описание работ обязательно")
	}
	if professionalID == clientID {
		return nil, apperror.Validationf("нельзя отправить предложение самому себе")
	}

	offer := &models.Offer{
		ProfessionalID:  professionalID,
		ClientID:        clientID,
		ConversationRef: conversationRef,
		Description:     strings.TrimSpace(description),
		FinalPrice:      finalPrice,
	}
	if err := s.repo.Create(ctx, offer); err != nil {
		return nil, err
	}
	return offer, nil
}

// Accept принимает предложение от имени клиента. Единственный путь
// создания сделки: вместе с принятием появляется Job в PendingPayment.
func (s *OfferService) Accept(ctx context.Context, offerID, clientID uuid.UUID) (*models.Offer, *models.Job, error) {
	return s.repo.Accept(ctx, offerID, clientID)
}

// Reject отклоняет предложение от имени клиента.
func (s *OfferService) Reject(ctx context.Context, offerID, clientID uuid.UUID) (*models.Offer, error) {
	return s.repo.Reject(ctx, offerID, clientID)
}

// GetOffer возвращает предложение, доступ только сторонам.
func (s *OfferService) GetOffer(ctx context.Context, offerID, userID uuid.UUID) (*models.Offer, error) {
	offer, err := s.repo.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.ClientID != userID && offer.ProfessionalID != userID {
		return nil, apperror.ErrForbidden
	}
	return offer, nil
}

// ListMyOffers возвращает предложения пользователя.
func (s *OfferService) ListMyOffers(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Offer, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}
