package models

import (
	"time"

	"github.com/google/uuid"
)

// JobState — каноническое состояние сделки. Переходы выполняются только
// через EscrowService/EscrowRepository, прямого изменения поля нет.
type JobState string

const (
	JobStatePendingPayment JobState = "pending_payment"
	JobStateInEscrow       JobState = "in_escrow"
	JobStateReleased       JobState = "released"
	JobStateRefunded       JobState = "refunded"
	JobStateCancelled      JobState = "cancelled"
)

// ValidJobStates используется для валидации фильтров списков.
var ValidJobStates = map[JobState]struct{}{
	JobStatePendingPayment: {},
	JobStateInEscrow:       {},
	JobStateReleased:       {},
	JobStateRefunded:       {},
	JobStateCancelled:      {},
}

// Terminal сообщает, является ли состояние конечным.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateReleased, JobStateRefunded, JobStateCancelled:
		return true
	}
	return false
}

// DisplayLabel возвращает витринную подпись состояния.
// Исторически веб-клиент использовал отдельный словарь этапов работы
// (EN_PROCESO/COMPLETADO и т.д.); он сохранён только как подпись для
// отображения и никогда не пишется в базу и не сравнивается в коде.
func (s JobState) DisplayLabel() string {
	switch s {
	case JobStatePendingPayment:
		return "PENDIENTE_PAGO"
	case JobStateInEscrow:
		return "PAGADO_EN_ESCROW"
	case JobStateReleased:
		return "LIBERADO"
	case JobStateRefunded:
		return "REEMBOLSADO"
	case JobStateCancelled:
		return "CANCELADO"
	}
	return string(s)
}

// Job — единица работы, привязанная 1:1 к принятому предложению.
// Сумма копируется из предложения при создании и больше не меняется.
type Job struct {
	ID             uuid.UUID `db:"id" json:"id"`
	OfferID        uuid.UUID `db:"offer_id" json:"offer_id"`
	ClientID       uuid.UUID `db:"client_id" json:"client_id"`
	ProfessionalID uuid.UUID `db:"professional_id" json:"professional_id"`
	Amount         float64   `db:"amount" json:"amount"`
	State          JobState  `db:"state" json:"state"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	StateChangedAt time.Time `db:"state_changed_at" json:"state_changed_at"`
}

// Party сообщает, является ли пользователь стороной сделки.
func (j *Job) Party(userID uuid.UUID) bool {
	return j.ClientID == userID || j.ProfessionalID == userID
}

// RoleOf возвращает роль пользователя в сделке ("client", "professional" или "").
func (j *Job) RoleOf(userID uuid.UUID) string {
	switch userID {
	case j.ClientID:
		return RoleClient
	case j.ProfessionalID:
		return RoleProfessional
	}
	return ""
}
