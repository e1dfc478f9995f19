package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли пользователей.
const (
	RoleClient       = "client"
	RoleProfessional = "professional"
	RoleAdmin        = "admin"
)

// ValidRoles — допустимые роли при регистрации (admin назначается вручную).
var ValidRoles = map[string]struct{}{
	RoleClient:       {},
	RoleProfessional: {},
}

// User — учётная запись участника площадки.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Name         string    `db:"name" json:"name"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ProfessionalStats — счётчик завершённых сделок исполнителя.
// Источник истины для расчёта комиссии; обновляется в той же транзакции БД,
// что и фиксация ставки релиза, чтобы два параллельных релиза не прочитали
// один и тот же устаревший уровень.
type ProfessionalStats struct {
	UserID        uuid.UUID `db:"user_id" json:"user_id"`
	CompletedJobs int       `db:"completed_jobs" json:"completed_jobs"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
