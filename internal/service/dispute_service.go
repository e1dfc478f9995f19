package service

import (
	"context"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/serviapp/escrow-backend/internal/logger"
	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
)

// DisputeStore описывает взаимодействие арбитража с хранилищем споров.
type DisputeStore interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetActiveByJob(ctx context.Context, jobID uuid.UUID) (*models.Dispute, error)
	AddEntry(ctx context.Context, entry *models.DisputeEntry) error
	GetEntry(ctx context.Context, entryID uuid.UUID) (*models.DisputeEntry, error)
	ListEntries(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeEntry, error)
	MarkInReview(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error)
	Resolve(ctx context.Context, disputeID uuid.UUID, favors, note string, resolvedBy uuid.UUID) (*models.Dispute, error)
	Reject(ctx context.Context, disputeID uuid.UUID, note string, resolvedBy uuid.UUID) (*models.Dispute, error)
	Cancel(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error)
	ListByStatus(ctx context.Context, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error)
}

// JobLoader читает сделки для проверок доступа и состояния.
type JobLoader interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
}

// EscrowResolver — денежные ходы, которые арбитраж может назначить.
type EscrowResolver interface {
	ReleaseForDispute(ctx context.Context, jobID, adminID uuid.UUID) (*models.Job, *models.Transaction, error)
	RefundForDispute(ctx context.Context, jobID, adminID uuid.UUID) (*models.Job, *models.Transaction, error)
	SplitForDispute(ctx context.Context, jobID uuid.UUID, refundPortion float64, adminID uuid.UUID) (*models.Job, *models.Transaction, error)
}

// EvidenceVault хранит файлы доказательств.
type EvidenceVault interface {
	Save(ctx context.Context, disputeID uuid.UUID, originalName string, r io.Reader) (string, int64, error)
	Open(ctx context.Context, relativePath string) (io.ReadCloser, error)
}

// DisputeService — арбитраж: открытие споров по сделкам в custody,
// лента доказательств и резолюция с денежным ходом.
type DisputeService struct {
	store  DisputeStore
	jobs   JobLoader
	escrow EscrowResolver
	vault  EvidenceVault
}

func NewDisputeService(store DisputeStore, jobs JobLoader, escrow EscrowResolver, vault EvidenceVault) *DisputeService {
	return &DisputeService{store: store, jobs: jobs, escrow: escrow, vault: vault}
}

// Open открывает спор по сделке. Разрешено только сторонам и только пока
// средства в custody.
func (s *DisputeService) Open(ctx context.Context, jobID, openerID uuid.UUID, kind models.DisputeKind, description string) (*models.Dispute, error) {
	if _, ok := models.ValidDisputeKinds[kind]; !ok {
		return nil, apperror.Validationf("неизвестный тип претензии: %s", kind)
	}
	if strings.TrimSpace(description) == "" {
		return nil, apperror.Validationf("описание претензии обязательно")
	}

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	role := job.RoleOf(openerID)
	if role == "" {
		return nil, apperror.ErrForbidden
	}
	if job.State != models.JobStateInEscrow {
		return nil, apperror.StateConflictf("спор можно открыть только пока средства в custody, сделка в состоянии %s", job.State)
	}

	// Ранняя проверка; гонку закрывает частичный уникальный индекс в базе.
	if existing, err := s.store.GetActiveByJob(ctx, jobID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, apperror.StateConflictf("по сделке уже открыт спор")
	}

	d := &models.Dispute{
		JobID:       jobID,
		OpenedBy:    openerID,
		OpenerRole:  role,
		Kind:        kind,
		Description: strings.TrimSpace(description),
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"dispute_id": d.ID,
		"job_id":     jobID,
		"kind":       kind,
	}).Info("dispute opened")
	return d, nil
}

// GetDispute возвращает спор, доступ сторонам сделки и администраторам.
func (s *DisputeService) GetDispute(ctx context.Context, disputeID, userID uuid.UUID, isAdmin bool) (*models.Dispute, error) {
	d, err := s.store.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, d, userID, isAdmin); err != nil {
		return nil, err
	}
	return d, nil
}

// PostMessage добавляет сообщение в ленту спора.
func (s *DisputeService) PostMessage(ctx context.Context, disputeID, authorID uuid.UUID, isAdmin bool, body string) (*models.DisputeEntry, error) {
	if strings.TrimSpace(body) == "" {
		return nil, apperror.Validationf("сообщение не может быть пустым")
	}

	d, err := s.store.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, d, authorID, isAdmin); err != nil {
		return nil, err
	}
	if d.Status.Terminal() {
		return nil, apperror.StateConflictf("спор закрыт, лента доступна только для чтения")
	}

	entry := &models.DisputeEntry{
		DisputeID: disputeID,
		AuthorID:  authorID,
		Type:      models.DisputeEntryMessage,
		Body:      strings.TrimSpace(body),
	}
	if err := s.store.AddEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// AddEvidence сохраняет файл доказательства и запись о нём в ленте.
// Тип содержимого проверяется по магическим байтам до вызова сервиса.
func (s *DisputeService) AddEvidence(ctx context.Context, disputeID, authorID uuid.UUID, isAdmin bool, filename, contentType, caption string, r io.Reader) (*models.DisputeEntry, error) {
	d, err := s.store.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, d, authorID, isAdmin); err != nil {
		return nil, err
	}
	if d.Status.Terminal() {
		return nil, apperror.StateConflictf("спор закрыт, доказательства больше не принимаются")
	}

	path, size, err := s.vault.Save(ctx, disputeID, filename, r)
	if err != nil {
		return nil, err
	}

	entry := &models.DisputeEntry{
		DisputeID:   disputeID,
		AuthorID:    authorID,
		Type:        models.DisputeEntryEvidence,
		Body:        strings.TrimSpace(caption),
		Filename:    &filename,
		ContentType: &contentType,
		StoragePath: &path,
	}
	if err := s.store.AddEntry(ctx, entry); err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"dispute_id": disputeID,
		"size":       size,
	}).Info("dispute evidence stored")
	return entry, nil
}

// GetEvidence открывает сохранённый файл доказательства для отдачи.
// Вызывающий обязан закрыть io.ReadCloser.
func (s *DisputeService) GetEvidence(ctx context.Context, disputeID, entryID, userID uuid.UUID, isAdmin bool) (*models.DisputeEntry, io.ReadCloser, error) {
	d, err := s.store.GetByID(ctx, disputeID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.authorize(ctx, d, userID, isAdmin); err != nil {
		return nil, nil, err
	}

	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, nil, err
	}
	// Запись из чужого спора не раскрывается даже администратору.
	if entry.DisputeID != disputeID || entry.Type != models.DisputeEntryEvidence || entry.StoragePath == nil {
		return nil, nil, apperror.ErrEvidenceNotFound
	}

	rc, err := s.vault.Open(ctx, *entry.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return entry, rc, nil
}

// ListEntries возвращает ленту спора.
func (s *DisputeService) ListEntries(ctx context.Context, disputeID, userID uuid.UUID, isAdmin bool) ([]models.DisputeEntry, error) {
	d, err := s.store.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, d, userID, isAdmin); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, disputeID)
}

// Review берёт спор в работу (Open → InReview).
func (s *DisputeService) Review(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	return s.store.MarkInReview(ctx, disputeID)
}

// Resolve закрывает спор решением администратора. Сначала выполняется
// денежный ход, затем фиксируется резолюция: если выплата не прошла,
// спор остаётся открытым и решение можно повторить.
func (s *DisputeService) Resolve(ctx context.Context, disputeID, adminID uuid.UUID, favors, note string, refundPortion *float64) (*models.Dispute, error) {
	d, err := s.store.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status.Terminal() {
		return nil, apperror.StateConflictf("спор уже закрыт (%s)", d.Status)
	}

	job, err := s.jobs.GetJob(ctx, d.JobID)
	if err != nil {
		return nil, err
	}

	// Сделка уже могла уйти в терминал отдельным административным ходом.
	// Тогда деньги не двигаются, фиксируется только резолюция.
	if job.State == models.JobStateInEscrow {
		if err := s.settle(ctx, d.JobID, adminID, favors, refundPortion); err != nil {
			return nil, err
		}
	}

	if favors == models.FavorsRejected {
		return s.store.Reject(ctx, disputeID, note, adminID)
	}
	return s.store.Resolve(ctx, disputeID, favors, note, adminID)
}

// settle выполняет денежный ход резолюции. favors=none — частичный сплит:
// refundPortion возвращается клиенту, остаток уходит исполнителю за вычетом
// комиссии. Полные исходы долю не принимают.
func (s *DisputeService) settle(ctx context.Context, jobID, adminID uuid.UUID, favors string, refundPortion *float64) error {
	switch favors {
	case models.FavorsClient:
		if refundPortion != nil {
			return apperror.Validationf("доля возврата задаётся только при решении none")
		}
		_, _, err := s.escrow.RefundForDispute(ctx, jobID, adminID)
		return err
	case models.FavorsProfessional:
		if refundPortion != nil {
			return apperror.Validationf("доля возврата задаётся только при решении none")
		}
		_, _, err := s.escrow.ReleaseForDispute(ctx, jobID, adminID)
		return err
	case models.FavorsNone:
		if refundPortion == nil {
			return apperror.Validationf("решение none требует долю возврата для сплита")
		}
		_, _, err := s.escrow.SplitForDispute(ctx, jobID, *refundPortion, adminID)
		return err
	case models.FavorsRejected:
		// Претензия отклонена, средства остаются в custody.
		return nil
	default:
		return apperror.Validationf("неизвестное решение: %s", favors)
	}
}

// Withdraw отзывает спор. Доступно только инициатору.
func (s *DisputeService) Withdraw(ctx context.Context, disputeID, userID uuid.UUID) (*models.Dispute, error) {
	d, err := s.store.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.OpenedBy != userID {
		return nil, apperror.ErrForbidden
	}
	return s.store.Cancel(ctx, disputeID)
}

// ListMyDisputes возвращает споры по сделкам пользователя.
func (s *DisputeService) ListMyDisputes(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByUser(ctx, userID, limit, offset)
}

// ListQueue возвращает очередь споров для арбитража.
func (s *DisputeService) ListQueue(ctx context.Context, status models.DisputeStatus, limit, offset int) ([]models.Dispute, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	switch status {
	case models.DisputeStatusOpen, models.DisputeStatusInReview, models.DisputeStatusResolved,
		models.DisputeStatusRejected, models.DisputeStatusCancelled:
	default:
		return nil, apperror.Validationf("неизвестный статус спора: %s", status)
	}
	return s.store.ListByStatus(ctx, status, limit, offset)
}

func (s *DisputeService) authorize(ctx context.Context, d *models.Dispute, userID uuid.UUID, isAdmin bool) error {
	if isAdmin {
		return nil
	}
	job, err := s.jobs.GetJob(ctx, d.JobID)
	if err != nil {
		return err
	}
	if !job.Party(userID) {
		return apperror.ErrForbidden
	}
	return nil
}
