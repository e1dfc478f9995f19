package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
)

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create сохраняет новый спор. Частичный уникальный индекс по job_id
// гарантирует не более одного незакрытого спора на сделку даже при гонке.
func (r *DisputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	query := `
		INSERT INTO disputes (job_id, opened_by, opener_role, kind, description, status)
		VALUES ($1, $2, $3, $4, $5, 'open')
		RETURNING id, status, created_at
	`
	row := r.db.QueryRowxContext(ctx, query, d.JobID, d.OpenedBy, d.OpenerRole, d.Kind, d.Description)
	if err := row.Scan(&d.ID, &d.Status, &d.CreatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperror.StateConflictf("по сделке уже открыт спор")
		}
		return fmt.Errorf("dispute repository: create %w", err)
	}
	return nil
}

// GetByID возвращает спор по идентификатору.
func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	if err := r.db.GetContext(ctx, &d, `SELECT * FROM disputes WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, fmt.Errorf("dispute repository: get by id %w", err)
	}
	return &d, nil
}

// GetActiveByJob возвращает незакрытый спор по сделке, если он есть.
func (r *DisputeRepository) GetActiveByJob(ctx context.Context, jobID uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := r.db.GetContext(ctx, &d, `
		SELECT * FROM disputes WHERE job_id = $1 AND status IN ('open', 'in_review')
	`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("dispute repository: get active %w", err)
	}
	return &d, nil
}

// AddEntry добавляет запись в ленту спора (append-only) под замком строки
// спора, чтобы запись не проскочила мимо закрытия.
func (r *DisputeRepository) AddEntry(ctx context.Context, entry *models.DisputeEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status models.DisputeStatus
	if err := tx.GetContext(ctx, &status,
		`SELECT status FROM disputes WHERE id = $1 FOR UPDATE`, entry.DisputeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.ErrDisputeNotFound
		}
		return fmt.Errorf("dispute repository: lock dispute %w", err)
	}
	if status.Terminal() {
		return apperror.StateConflictf("спор закрыт, записи больше не принимаются")
	}

	row := tx.QueryRowxContext(ctx, `
		INSERT INTO dispute_entries (dispute_id, author_id, type, body, filename, content_type, storage_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, entry.DisputeID, entry.AuthorID, entry.Type, entry.Body, entry.Filename, entry.ContentType, entry.StoragePath)
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return fmt.Errorf("dispute repository: add entry %w", err)
	}

	return tx.Commit()
}

// GetEntry возвращает запись ленты по идентификатору.
func (r *DisputeRepository) GetEntry(ctx context.Context, entryID uuid.UUID) (*models.DisputeEntry, error) {
	var entry models.DisputeEntry
	if err := r.db.GetContext(ctx, &entry, `SELECT * FROM dispute_entries WHERE id = $1`, entryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrEvidenceNotFound
		}
		return nil, fmt.Errorf("dispute repository: get entry %w", err)
	}
	return &entry, nil
}

// ListEntries возвращает ленту спора в хронологическом порядке.
func (r *DisputeRepository) ListEntries(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeEntry, error) {
	var entries []models.DisputeEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM dispute_entries WHERE dispute_id = $1 ORDER BY created_at ASC
	`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list entries %w", err)
	}
	return entries, nil
}

// MarkInReview переводит спор Open → InReview.
func (r *DisputeRepository) MarkInReview(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	return r.close(ctx, disputeID, func(d *models.Dispute) (string, []interface{}, error) {
		if d.Status != models.DisputeStatusOpen {
			return "", nil, apperror.StateConflictf("спор в состоянии %s, взять в работу нельзя", d.Status)
		}
		d.Status = models.DisputeStatusInReview
		return `UPDATE disputes SET status = 'in_review' WHERE id = $1`, []interface{}{d.ID}, nil
	})
}

// Resolve закрывает спор решением администратора.
func (r *DisputeRepository) Resolve(ctx context.Context, disputeID uuid.UUID, favors, note string, resolvedBy uuid.UUID) (*models.Dispute, error) {
	return r.close(ctx, disputeID, func(d *models.Dispute) (string, []interface{}, error) {
		if d.Status.Terminal() {
			return "", nil, apperror.StateConflictf("спор уже закрыт (%s)", d.Status)
		}
		now := time.Now()
		d.Status = models.DisputeStatusResolved
		d.Favors = &favors
		d.ResolutionNote = &note
		d.ResolvedBy = &resolvedBy
		d.ResolvedAt = &now
		return `
			UPDATE disputes
			SET status = 'resolved', favors = $2, resolution_note = $3, resolved_by = $4, resolved_at = $5
			WHERE id = $1
		`, []interface{}{d.ID, favors, note, resolvedBy, now}, nil
	})
}

// Reject закрывает спор отказом: претензия отклонена, деньги не двигаются.
func (r *DisputeRepository) Reject(ctx context.Context, disputeID uuid.UUID, note string, resolvedBy uuid.UUID) (*models.Dispute, error) {
	return r.close(ctx, disputeID, func(d *models.Dispute) (string, []interface{}, error) {
		if d.Status.Terminal() {
			return "", nil, apperror.StateConflictf("спор уже закрыт (%s)", d.Status)
		}
		now := time.Now()
		favors := models.FavorsRejected
		d.Status = models.DisputeStatusRejected
		d.Favors = &favors
		d.ResolutionNote = &note
		d.ResolvedBy = &resolvedBy
		d.ResolvedAt = &now
		return `
			UPDATE disputes
			SET status = 'rejected', favors = $2, resolution_note = $3, resolved_by = $4, resolved_at = $5
			WHERE id = $1
		`, []interface{}{d.ID, favors, note, resolvedBy, now}, nil
	})
}

// Cancel отзывает спор. Право инициатора проверяет сервис; здесь только
// гарантия, что закрытый спор не отзывается повторно.
func (r *DisputeRepository) Cancel(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	return r.close(ctx, disputeID, func(d *models.Dispute) (string, []interface{}, error) {
		if d.Status.Terminal() {
			return "", nil, apperror.StateConflictf("спор уже закрыт (%s)", d.Status)
		}
		now := time.Now()
		d.Status = models.DisputeStatusCancelled
		d.ResolvedAt = &now
		return `UPDATE disputes SET status = 'cancelled', resolved_at = $2 WHERE id = $1`,
			[]interface{}{d.ID, now}, nil
	})
}

// close выполняет закрывающее обновление под замком строки спора.
func (r *DisputeRepository) close(ctx context.Context, disputeID uuid.UUID, build func(*models.Dispute) (string, []interface{}, error)) (*models.Dispute, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var d models.Dispute
	if err := tx.GetContext(ctx, &d, `SELECT * FROM disputes WHERE id = $1 FOR UPDATE`, disputeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, fmt.Errorf("dispute repository: lock dispute %w", err)
	}

	query, args, err := build(&d)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("dispute repository: update %w", err)
	}

	return &d, tx.Commit()
}

// ListByStatus возвращает очередь споров для арбитража.
func (r *DisputeRepository) ListByStatus(ctx context.Context, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.SelectContext(ctx, &disputes, `
		SELECT * FROM disputes WHERE status = $1
		ORDER BY created_at ASC LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list by status %w", err)
	}
	return disputes, nil
}

// ListByUser возвращает споры по сделкам, где пользователь — сторона.
func (r *DisputeRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.SelectContext(ctx, &disputes, `
		SELECT d.* FROM disputes d
		JOIN jobs j ON j.id = d.job_id
		WHERE j.client_id = $1 OR j.professional_id = $1
		ORDER BY d.created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list by user %w", err)
	}
	return disputes, nil
}
