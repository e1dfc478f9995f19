package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/serviapp/escrow-backend/internal/logger"
	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
)

// Итоги платежа, которые присылает вебхук шлюза.
const (
	CaptureOutcomeSucceeded = "succeeded"
	CaptureOutcomeFailed    = "failed"
)

// PaymentStore описывает взаимодействие адаптера оплаты с хранилищем.
type PaymentStore interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	GetIntentByJob(ctx context.Context, jobID uuid.UUID) (*models.PaymentIntent, error)
	SaveIntent(ctx context.Context, job *models.Job, reference string) (*models.PaymentIntent, error)
	ConfirmCapture(ctx context.Context, reference string) (*models.Job, bool, error)
}

// PaymentInitiator открывает платёжные намерения во внешнем шлюзе.
type PaymentInitiator interface {
	CreateIntent(ctx context.Context, jobID uuid.UUID, amount float64) (string, error)
}

// PaymentService — адаптер платёжного шлюза: инициирует захват средств и
// принимает подтверждения вебхуком.
type PaymentService struct {
	store     PaymentStore
	initiator PaymentInitiator
	notifier  TransitionNotifier
}

func NewPaymentService(store PaymentStore, initiator PaymentInitiator, notifier TransitionNotifier) *PaymentService {
	return &PaymentService{store: store, initiator: initiator, notifier: notifier}
}

// InitiateCapture запускает оплату сделки клиентом. Повторный вызов до
// подтверждения возвращает уже открытое намерение, а не создаёт новое.
func (s *PaymentService) InitiateCapture(ctx context.Context, jobID, clientID uuid.UUID) (*models.PaymentIntent, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ClientID != clientID {
		return nil, apperror.ErrForbidden
	}
	if job.State != models.JobStatePendingPayment {
		return nil, apperror.StateConflictf("сделка в состоянии %s, оплата не ожидается", job.State)
	}

	existing, err := s.store.GetIntentByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	reference, err := s.initiator.CreateIntent(ctx, jobID, job.Amount)
	if err != nil {
		// Состояние не меняется, клиент может повторить попытку.
		return nil, err
	}

	intent, err := s.store.SaveIntent(ctx, job, reference)
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// HandleCallback обрабатывает вебхук шлюза. Шлюз доставляет at-least-once,
// поэтому повтор по уже обработанному reference подтверждается без
// повторного эффекта.
func (s *PaymentService) HandleCallback(ctx context.Context, reference, outcome string) error {
	switch outcome {
	case CaptureOutcomeSucceeded:
		job, applied, err := s.store.ConfirmCapture(ctx, reference)
		if err != nil {
			return err
		}
		if !applied {
			logger.Log.WithField("reference", reference).Info("payment callback replayed, no-op")
			return nil
		}
		logger.Log.WithFields(logrus.Fields{
			"job_id":    job.ID,
			"reference": reference,
		}).Info("payment captured, job moved to escrow")
		if s.notifier != nil {
			s.notifier.NotifyTransition(job, models.JobStatePendingPayment, models.ActorGateway)
		}
		return nil
	case CaptureOutcomeFailed:
		// Неуспех не меняет состояние: сделка остаётся в PendingPayment.
		logger.Log.WithField("reference", reference).Warn("payment capture failed at gateway")
		return nil
	default:
		return apperror.Validationf("неизвестный итог платежа: %s", outcome)
	}
}
