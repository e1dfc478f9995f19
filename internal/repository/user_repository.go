package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
)

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create сохраняет нового пользователя.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, password_hash, name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	row := r.db.QueryRowxContext(ctx, query, user.Email, user.PasswordHash, user.Name, user.Role)
	if err := row.Scan(&user.ID, &user.CreatedAt); err != nil {
		return fmt.Errorf("user repository: create %w", err)
	}
	return nil
}

// GetByID возвращает пользователя по идентификатору.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: get by id %w", err)
	}
	return &user, nil
}

// GetByEmail возвращает пользователя по email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = $1`, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: get by email %w", err)
	}
	return &user, nil
}

// GetStats возвращает снимок статистики исполнителя. Снимок производный:
// считается заново при каждом обращении и никогда не кэшируется.
func (r *UserRepository) GetStats(ctx context.Context, userID uuid.UUID) (*models.ProfessionalStats, error) {
	var stats models.ProfessionalStats
	err := r.db.GetContext(ctx, &stats,
		`SELECT * FROM professional_stats WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.ProfessionalStats{UserID: userID}, nil
		}
		return nil, fmt.Errorf("user repository: get stats %w", err)
	}
	return &stats, nil
}

// SaveRefreshSession сохраняет хэш refresh токена.
func (r *UserRepository) SaveRefreshSession(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`, userID, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("user repository: save session %w", err)
	}
	return nil
}

// HasRefreshSession проверяет, что refresh токен выпускался и не истёк.
func (r *UserRepository) HasRefreshSession(ctx context.Context, userID uuid.UUID, tokenHash string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM refresh_sessions
		WHERE user_id = $1 AND token_hash = $2 AND expires_at > NOW()
	`, userID, tokenHash)
	if err != nil {
		return false, fmt.Errorf("user repository: check session %w", err)
	}
	return count > 0, nil
}

// DeleteRefreshSessions удаляет все сессии пользователя.
func (r *UserRepository) DeleteRefreshSessions(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("user repository: delete sessions %w", err)
	}
	return nil
}
