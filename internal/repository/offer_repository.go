package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
)

type OfferRepository struct {
	db *sqlx.DB
}

func NewOfferRepository(db *sqlx.DB) *OfferRepository {
	return &OfferRepository{db: db}
}

// Create сохраняет новое предложение в статусе proposed.
func (r *OfferRepository) Create(ctx context.Context, offer *models.Offer) error {
	query := `
		INSERT INTO offers (professional_id, client_id, conversation_ref, description, final_price, status)
		VALUES ($1, $2, $3, $4, $5, 'proposed')
		RETURNING id, status, created_at, updated_at
	`
	row := r.db.QueryRowxContext(ctx, query,
		offer.ProfessionalID, offer.ClientID, offer.ConversationRef, offer.Description, offer.FinalPrice)
	if err := row.Scan(&offer.ID, &offer.Status, &offer.CreatedAt, &offer.UpdatedAt); err != nil {
		return fmt.Errorf("offer repository: create %w", err)
	}
	return nil
}

// GetByID возвращает предложение по идентификатору.
func (r *OfferRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	var offer models.Offer
	if err := r.db.GetContext(ctx, &offer, `SELECT * FROM offers WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrOfferNotFound
		}
		return nil, fmt.Errorf("offer repository: get by id %w", err)
	}
	return &offer, nil
}

// Accept принимает предложение и в той же транзакции БД создаёт ровно один
// Job в состоянии PendingPayment. Других путей создания Job нет: custody
// запись не может появиться без принятого предложения.
func (r *OfferRepository) Accept(ctx context.Context, offerID, clientID uuid.UUID) (*models.Offer, *models.Job, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	offer, err := lockOffer(ctx, tx, offerID, clientID)
	if err != nil {
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE offers SET status = 'accepted', updated_at = NOW() WHERE id = $1`, offerID); err != nil {
		return nil, nil, fmt.Errorf("offer repository: accept %w", err)
	}
	offer.Status = models.OfferStatusAccepted

	var job models.Job
	err = tx.GetContext(ctx, &job, `
		INSERT INTO jobs (offer_id, client_id, professional_id, amount, state)
		VALUES ($1, $2, $3, $4, 'pending_payment')
		RETURNING id, offer_id, client_id, professional_id, amount, state, created_at, state_changed_at
	`, offer.ID, offer.ClientID, offer.ProfessionalID, offer.FinalPrice)
	if err != nil {
		return nil, nil, fmt.Errorf("offer repository: create job %w", err)
	}

	// Счётчик завершённых сделок исполнителя заводится заранее,
	// чтобы релиз всегда находил строку для блокировки.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO professional_stats (user_id, completed_jobs)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, offer.ProfessionalID); err != nil {
		return nil, nil, fmt.Errorf("offer repository: ensure stats %w", err)
	}

	return offer, &job, tx.Commit()
}

// Reject отклоняет предложение. Job не создаётся.
func (r *OfferRepository) Reject(ctx context.Context, offerID, clientID uuid.UUID) (*models.Offer, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	offer, err := lockOffer(ctx, tx, offerID, clientID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE offers SET status = 'rejected', updated_at = NOW() WHERE id = $1`, offerID); err != nil {
		return nil, fmt.Errorf("offer repository: reject %w", err)
	}
	offer.Status = models.OfferStatusRejected

	return offer, tx.Commit()
}

// lockOffer берёт строку предложения под замок и проверяет право клиента
// решать. Проверка прав идёт до проверки статуса.
func lockOffer(ctx context.Context, tx *sqlx.Tx, offerID, clientID uuid.UUID) (*models.Offer, error) {
	var offer models.Offer
	if err := tx.GetContext(ctx, &offer, `SELECT * FROM offers WHERE id = $1 FOR UPDATE`, offerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrOfferNotFound
		}
		return nil, fmt.Errorf("offer repository: lock %w", err)
	}
	if offer.ClientID != clientID {
		return nil, apperror.ErrForbidden
	}
	if offer.Decided() {
		return nil, apperror.ErrOfferAlreadyDecided
	}
	return &offer, nil
}

// ListByUser возвращает предложения, где пользователь — клиент или исполнитель.
func (r *OfferRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Offer, error) {
	var offers []models.Offer
	err := r.db.SelectContext(ctx, &offers, `
		SELECT * FROM offers
		WHERE client_id = $1 OR professional_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("offer repository: list %w", err)
	}
	return offers, nil
}
