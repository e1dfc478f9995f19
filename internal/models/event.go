package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли инициаторов переходов для аудита.
const (
	ActorClient       = "client"
	ActorProfessional = "professional"
	ActorAdmin        = "admin"
	ActorGateway      = "gateway"
	ActorSystem       = "system"
)

// JobEvent — доменное событие перехода состояния сделки.
// Пишется в той же транзакции БД, что и сам переход; потребители
// (уведомления, аналитика) читают события и не могут влиять на состояние.
type JobEvent struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	JobID     uuid.UUID  `db:"job_id" json:"job_id"`
	FromState JobState   `db:"from_state" json:"from_state"`
	ToState   JobState   `db:"to_state" json:"to_state"`
	ActorRole string     `db:"actor_role" json:"actor_role"`
	ActorID   *uuid.UUID `db:"actor_id" json:"actor_id,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
