package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/serviapp/escrow-backend/internal/commission"
	"github.com/serviapp/escrow-backend/internal/logger"
	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
)

// EscrowStore описывает взаимодействие движка с хранилищем сделок.
type EscrowStore interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	GetTransactionByJob(ctx context.Context, jobID uuid.UUID) (*models.Transaction, error)
	PinReleaseRate(ctx context.Context, jobID uuid.UUID, refundPortion float64) (*models.Transaction, error)
	FinalizeRelease(ctx context.Context, jobID uuid.UUID, actorRole string, actorID *uuid.UUID) (*models.Job, *models.Transaction, error)
	Refund(ctx context.Context, jobID uuid.UUID, kind models.ResolutionKind, actorRole string, actorID *uuid.UUID) (*models.Job, *models.Transaction, error)
	ListReleasePending(ctx context.Context, limit int) ([]models.Job, error)
	ListJobs(ctx context.Context, state *models.JobState, userID *uuid.UUID, limit, offset int) ([]models.Job, error)
	ListEvents(ctx context.Context, jobID uuid.UUID) ([]models.JobEvent, error)
	ListLedger(ctx context.Context, jobID uuid.UUID) ([]models.LedgerEntry, error)
}

// PaymentRail — инструкции внешнему платёжному рельсу.
type PaymentRail interface {
	Payout(ctx context.Context, recipientID, jobID uuid.UUID, amount float64) error
	Refund(ctx context.Context, reference string, amount float64) error
}

// TransitionNotifier получает доменные события переходов после фиксации.
// Потребители не могут влиять на состояние движка.
type TransitionNotifier interface {
	NotifyTransition(job *models.Job, from models.JobState, actorRole string)
}

// EscrowService — движок custody: владеет переходами сделки из InEscrow
// в терминальные состояния и выплатами.
type EscrowService struct {
	store    EscrowStore
	rail     PaymentRail
	notifier TransitionNotifier
}

func NewEscrowService(store EscrowStore, rail PaymentRail, notifier TransitionNotifier) *EscrowService {
	return &EscrowService{store: store, rail: rail, notifier: notifier}
}

// Release — подтверждение клиентом: средства уходят исполнителю за вычетом
// комиссии по его текущему уровню.
func (s *EscrowService) Release(ctx context.Context, jobID, clientID uuid.UUID) (*models.Job, *models.Transaction, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.ClientID != clientID {
		return nil, nil, apperror.ErrForbidden
	}
	return s.release(ctx, jobID, 0, models.ActorClient, &clientID)
}

// ReleaseForDispute — релиз по решению арбитража в пользу исполнителя.
func (s *EscrowService) ReleaseForDispute(ctx context.Context, jobID, adminID uuid.UUID) (*models.Job, *models.Transaction, error) {
	return s.release(ctx, jobID, 0, models.ActorAdmin, &adminID)
}

// SplitForDispute — частичный сплит: refundPortion возвращается клиенту,
// остаток уходит исполнителю за вычетом комиссии. Обе доли фиксируются
// одним атомарным шагом и в сумме дают ровно gross.
func (s *EscrowService) SplitForDispute(ctx context.Context, jobID uuid.UUID, refundPortion float64, adminID uuid.UUID) (*models.Job, *models.Transaction, error) {
	t, err := s.store.GetTransactionByJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	refundPortion = commission.RoundMoney(refundPortion)
	if refundPortion <= 0 || refundPortion >= t.GrossAmount {
		return nil, nil, apperror.Validationf("доля возврата должна быть в пределах (0, %.2f)", t.GrossAmount)
	}
	return s.release(ctx, jobID, refundPortion, models.ActorAdmin, &adminID)
}

// RefundForDispute — возврат всей суммы клиенту по решению арбитража.
// Комиссия не удерживается.
func (s *EscrowService) RefundForDispute(ctx context.Context, jobID, adminID uuid.UUID) (*models.Job, *models.Transaction, error) {
	return s.refund(ctx, jobID, models.ResolutionRefunded, models.ActorAdmin, &adminID)
}

// RefundByProfessional — добровольный возврат: исполнитель возвращает клиенту
// всю сумму из custody. Комиссия не удерживается, счётчик сделок не растёт.
func (s *EscrowService) RefundByProfessional(ctx context.Context, jobID, professionalID uuid.UUID) (*models.Job, *models.Transaction, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.ProfessionalID != professionalID {
		return nil, nil, apperror.ErrForbidden
	}
	return s.refund(ctx, jobID, models.ResolutionRefunded, models.ActorProfessional, &professionalID)
}

// AdminCancel — административная отмена сделки в custody. По движению денег
// идентична возврату, но в аудите помечена как отмена.
func (s *EscrowService) AdminCancel(ctx context.Context, jobID, adminID uuid.UUID) (*models.Job, *models.Transaction, error) {
	return s.refund(ctx, jobID, models.ResolutionCancelled, models.ActorAdmin, &adminID)
}

// release выполняет двухфазный релиз. Фаза 1 атомарно фиксирует ставку
// комиссии, счётчик завершённых сделок и флаг release_pending; фаза 2 после
// подтверждения рельса завершает переход.
// Если рельс недоступен, сделка остаётся InEscrow с уже зафиксированной
// ставкой, и фоновый повтор завершает релиз той же ставкой.
func (s *EscrowService) release(ctx context.Context, jobID uuid.UUID, refundPortion float64, actorRole string, actorID *uuid.UUID) (*models.Job, *models.Transaction, error) {
	t, err := s.store.PinReleaseRate(ctx, jobID, refundPortion)
	if err != nil {
		return nil, nil, err
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.settleRail(ctx, job, t); err != nil {
		return nil, nil, err
	}

	from := job.State
	job, t, err = s.store.FinalizeRelease(ctx, jobID, actorRole, actorID)
	if err != nil {
		return nil, nil, err
	}

	s.notify(job, from, actorRole)
	return job, t, nil
}

// settleRail отправляет рельсу выплату и, для сплита, возврат.
func (s *EscrowService) settleRail(ctx context.Context, job *models.Job, t *models.Transaction) error {
	if err := s.rail.Payout(ctx, job.ProfessionalID, job.ID, *t.NetAmount); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"job_id": job.ID,
			"error":  err.Error(),
		}).Warn("payout instruction failed, release stays pending")
		return err
	}

	if t.RefundPortion != nil && t.GatewayReference != nil {
		if err := s.rail.Refund(ctx, *t.GatewayReference, *t.RefundPortion); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"job_id": job.ID,
				"error":  err.Error(),
			}).Warn("refund leg failed, release stays pending")
			return err
		}
	}

	return nil
}

func (s *EscrowService) refund(ctx context.Context, jobID uuid.UUID, kind models.ResolutionKind, actorRole string, actorID *uuid.UUID) (*models.Job, *models.Transaction, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	from := job.State

	job, t, err := s.store.Refund(ctx, jobID, kind, actorRole, actorID)
	if err != nil {
		return nil, nil, err
	}

	// Инструкция рельсу после фиксации: сбой не откатывает возврат,
	// он повторяется операционно по строке леджера.
	if t.GatewayReference != nil {
		if err := s.rail.Refund(ctx, *t.GatewayReference, t.GrossAmount); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"job_id": job.ID,
				"error":  err.Error(),
			}).Error("refund instruction failed after state commit")
		}
	}

	s.notify(job, from, actorRole)
	return job, t, nil
}

// RetryPendingReleases завершает релизы, зависшие после сбоя рельса.
// Ставка комиссии не пересчитывается: используется зафиксированная.
func (s *EscrowService) RetryPendingReleases(ctx context.Context) {
	jobs, err := s.store.ListReleasePending(ctx, 50)
	if err != nil {
		logger.Log.WithError(err).Error("payout retry: list pending failed")
		return
	}

	for i := range jobs {
		job := &jobs[i]
		t, err := s.store.GetTransactionByJob(ctx, job.ID)
		if err != nil {
			logger.Log.WithError(err).WithField("job_id", job.ID).Error("payout retry: load transaction failed")
			continue
		}
		if err := s.settleRail(ctx, job, t); err != nil {
			continue
		}
		from := job.State
		finalized, _, err := s.store.FinalizeRelease(ctx, job.ID, models.ActorSystem, nil)
		if err != nil {
			logger.Log.WithError(err).WithField("job_id", job.ID).Error("payout retry: finalize failed")
			continue
		}
		s.notify(finalized, from, models.ActorSystem)
		logger.Log.WithField("job_id", job.ID).Info("payout retry: release finalized")
	}
}

// RunPayoutRetrier запускает периодический повтор зависших выплат.
func (s *EscrowService) RunPayoutRetrier(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RetryPendingReleases(ctx)
		}
	}
}

// GetJobForUser возвращает сделку, доступ только сторонам.
func (s *EscrowService) GetJobForUser(ctx context.Context, jobID, userID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Party(userID) {
		return nil, apperror.ErrForbidden
	}
	return job, nil
}

// ListJobs возвращает сделки пользователя с фильтром по состоянию.
func (s *EscrowService) ListJobs(ctx context.Context, state *models.JobState, userID *uuid.UUID, limit, offset int) ([]models.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if state != nil {
		if _, ok := models.ValidJobStates[*state]; !ok {
			return nil, apperror.Validationf("неизвестное состояние: %s", *state)
		}
	}
	return s.store.ListJobs(ctx, state, userID, limit, offset)
}

// ListEvents возвращает журнал переходов сделки, доступ только сторонам.
func (s *EscrowService) ListEvents(ctx context.Context, jobID, userID uuid.UUID, isAdmin bool) ([]models.JobEvent, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !job.Party(userID) {
		return nil, apperror.ErrForbidden
	}
	return s.store.ListEvents(ctx, jobID)
}

// ListLedger возвращает строки леджера по сделке, доступ только сторонам.
func (s *EscrowService) ListLedger(ctx context.Context, jobID, userID uuid.UUID, isAdmin bool) ([]models.LedgerEntry, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !job.Party(userID) {
		return nil, apperror.ErrForbidden
	}
	return s.store.ListLedger(ctx, jobID)
}

func (s *EscrowService) notify(job *models.Job, from models.JobState, actorRole string) {
	if s.notifier != nil {
		s.notifier.NotifyTransition(job, from, actorRole)
	}
}
