package models

import (
	"time"

	"github.com/google/uuid"
)

// DisputeStatus — состояние спора. Cancelled означает, что инициатор
// отозвал спор до резолюции.
type DisputeStatus string

const (
	DisputeStatusOpen      DisputeStatus = "open"
	DisputeStatusInReview  DisputeStatus = "in_review"
	DisputeStatusResolved  DisputeStatus = "resolved"
	DisputeStatusRejected  DisputeStatus = "rejected"
	DisputeStatusCancelled DisputeStatus = "cancelled"
)

// Terminal сообщает, закрыт ли спор.
func (s DisputeStatus) Terminal() bool {
	switch s {
	case DisputeStatusResolved, DisputeStatusRejected, DisputeStatusCancelled:
		return true
	}
	return false
}

// DisputeKind — тип претензии.
type DisputeKind string

const (
	DisputeKindRefund       DisputeKind = "refund"
	DisputeKindQuality      DisputeKind = "quality"
	DisputeKindCancellation DisputeKind = "cancellation"
	DisputeKindOther        DisputeKind = "other"
)

// ValidDisputeKinds — допустимые типы претензий.
var ValidDisputeKinds = map[DisputeKind]struct{}{
	DisputeKindRefund:       {},
	DisputeKindQuality:      {},
	DisputeKindCancellation: {},
	DisputeKindOther:        {},
}

// Кого резолюция признаёт правым. None означает частичный сплит:
// никто не прав целиком, сумма делится между возвратом и релизом.
// Rejected — претензия отклонена, деньги не двигаются.
const (
	FavorsClient       = "client"
	FavorsProfessional = "professional"
	FavorsNone         = "none"
	FavorsRejected     = "rejected"
)

// Dispute — арбитражное дело по сделке, средства которой находятся в custody.
// У одной сделки может быть не более одного незакрытого спора.
type Dispute struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	JobID          uuid.UUID     `db:"job_id" json:"job_id"`
	OpenedBy       uuid.UUID     `db:"opened_by" json:"opened_by"`
	OpenerRole     string        `db:"opener_role" json:"opener_role"`
	Kind           DisputeKind   `db:"kind" json:"kind"`
	Description    string        `db:"description" json:"description"`
	Status         DisputeStatus `db:"status" json:"status"`
	Favors         *string       `db:"favors" json:"favors,omitempty"`
	ResolutionNote *string       `db:"resolution_note" json:"resolution_note,omitempty"`
	ResolvedBy     *uuid.UUID    `db:"resolved_by" json:"resolved_by,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	ResolvedAt     *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Типы записей в ленте спора.
const (
	DisputeEntryEvidence = "evidence"
	DisputeEntryMessage  = "message"
)

// DisputeEntry — запись в ленте спора: сообщение или доказательство.
// Лента append-only, записи не редактируются и не удаляются.
type DisputeEntry struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DisputeID   uuid.UUID `db:"dispute_id" json:"dispute_id"`
	AuthorID    uuid.UUID `db:"author_id" json:"author_id"`
	Type        string    `db:"type" json:"type"`
	Body        string    `db:"body" json:"body"`
	Filename    *string   `db:"filename" json:"filename,omitempty"`
	ContentType *string   `db:"content_type" json:"content_type,omitempty"`
	StoragePath *string   `db:"storage_path" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
