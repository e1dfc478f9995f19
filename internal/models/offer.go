package models

import (
	"time"

	"github.com/google/uuid"
)

// OfferStatus — статус предложения. После Accepted или Rejected предложение неизменяемо.
type OfferStatus string

const (
	OfferStatusProposed OfferStatus = "proposed"
	OfferStatusAccepted OfferStatus = "accepted"
	OfferStatusRejected OfferStatus = "rejected"
)

// Offer представляет предложение исполнителя клиенту: описание работ и фиксированная цена.
// Из одного принятого предложения создаётся ровно один Job.
type Offer struct {
	ID              uuid.UUID   `db:"id" json:"id"`
	ProfessionalID  uuid.UUID   `db:"professional_id" json:"professional_id"`
	ClientID        uuid.UUID   `db:"client_id" json:"client_id"`
	ConversationRef *uuid.UUID  `db:"conversation_ref" json:"conversation_ref,omitempty"`
	Description     string      `db:"description" json:"description"`
	FinalPrice      float64     `db:"final_price" json:"final_price"`
	Status          OfferStatus `db:"status" json:"status"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// Decided сообщает, принято ли уже решение по предложению.
func (o *Offer) Decided() bool {
	return o.Status != OfferStatusProposed
}
