package models

import (
	"time"

	"github.com/google/uuid"
)

// ResolutionKind — итог транзакции. Cancelled по движению денег идентичен
// Refunded, но хранится отдельно для аудита и отчётности.
type ResolutionKind string

const (
	ResolutionReleased  ResolutionKind = "released"
	ResolutionRefunded  ResolutionKind = "refunded"
	ResolutionCancelled ResolutionKind = "cancelled"
)

// Transaction — денежная запись сделки, одна на Job.
// GrossAmount всегда равен Job.Amount. CommissionRate остаётся NULL до
// момента резолюции: ставка фиксируется один раз и не пересчитывается.
type Transaction struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	JobID            uuid.UUID       `db:"job_id" json:"job_id"`
	GrossAmount      float64         `db:"gross_amount" json:"gross_amount"`
	CommissionRate   *float64        `db:"commission_rate" json:"commission_rate,omitempty"`
	NetAmount        *float64        `db:"net_amount" json:"net_amount,omitempty"`
	RefundPortion    *float64        `db:"refund_portion" json:"refund_portion,omitempty"`
	ReleasePortion   *float64        `db:"release_portion" json:"release_portion,omitempty"`
	GatewayReference *string         `db:"gateway_reference" json:"gateway_reference,omitempty"`
	ReleasePending   bool            `db:"release_pending" json:"release_pending"`
	CapturedAt       *time.Time      `db:"captured_at" json:"captured_at,omitempty"`
	ResolvedAt       *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolutionKind   *ResolutionKind `db:"resolution_kind" json:"resolution_kind,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// Resolved сообщает, закрыта ли транзакция.
func (t *Transaction) Resolved() bool {
	return t.ResolvedAt != nil
}

// Типы записей внутреннего леджера. Каждое движение денег оставляет строку.
const (
	LedgerEscrowCapture = "escrow_capture"
	LedgerEscrowRelease = "escrow_release"
	LedgerEscrowRefund  = "escrow_refund"
	LedgerCommissionFee = "commission_fee"
)

// LedgerEntry — строка внутреннего леджера платформы.
type LedgerEntry struct {
	ID        uuid.UUID `db:"id" json:"id"`
	JobID     uuid.UUID `db:"job_id" json:"job_id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Type      string    `db:"type" json:"type"`
	Amount    float64   `db:"amount" json:"amount"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PaymentIntent — намерение оплаты во внешнем шлюзе. Уникальность по job_id
// гарантирует, что повторный вызов initiate вернёт тот же reference.
type PaymentIntent struct {
	ID        uuid.UUID `db:"id" json:"id"`
	JobID     uuid.UUID `db:"job_id" json:"job_id"`
	Reference string    `db:"reference" json:"reference"`
	Amount    float64   `db:"amount" json:"amount"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
