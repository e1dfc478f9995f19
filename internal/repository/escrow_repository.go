package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/serviapp/escrow-backend/internal/commission"
	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
)

// EscrowRepository владеет переходами машины состояний сделки.
// Каждый переход выполняется в одной транзакции БД под блокировкой строки
// jobs (SELECT ... FOR UPDATE): это и есть эксклюзивный замок на сделку.
// Переходы по разным сделкам идут полностью параллельно.
type EscrowRepository struct {
	db *sqlx.DB
}

func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// GetJob возвращает сделку по идентификатору.
func (r *EscrowRepository) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := r.db.GetContext(ctx, &job, `SELECT * FROM jobs WHERE id = $1`, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrJobNotFound
		}
		return nil, fmt.Errorf("escrow repository: get job %w", err)
	}
	return &job, nil
}

// GetTransactionByJob возвращает денежную запись сделки.
func (r *EscrowRepository) GetTransactionByJob(ctx context.Context, jobID uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.GetContext(ctx, &t, `SELECT * FROM transactions WHERE job_id = $1`, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("escrow repository: get transaction %w", err)
	}
	return &t, nil
}

// GetIntentByJob возвращает платёжное намерение сделки, если оно уже открыто.
func (r *EscrowRepository) GetIntentByJob(ctx context.Context, jobID uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.GetContext(ctx, &intent, `SELECT * FROM payment_intents WHERE job_id = $1`, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("escrow repository: get intent %w", err)
	}
	return &intent, nil
}

// SaveIntent сохраняет платёжное намерение и открывает денежную запись
// сделки. Уникальность job_id гарантирует единственную активную транзакцию:
// при гонке двух инициаций выигрывает первая, вторая получает её reference.
func (r *EscrowRepository) SaveIntent(ctx context.Context, job *models.Job, reference string) (*models.PaymentIntent, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO payment_intents (job_id, reference, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO NOTHING
	`, job.ID, reference, job.Amount)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: save intent %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("escrow repository: save intent %w", err)
	}
	if inserted > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (job_id, gross_amount, gateway_reference)
			VALUES ($1, $2, $3)
			ON CONFLICT (job_id) DO NOTHING
		`, job.ID, job.Amount, reference); err != nil {
			return nil, fmt.Errorf("escrow repository: open transaction %w", err)
		}
	}

	var intent models.PaymentIntent
	if err := tx.GetContext(ctx, &intent, `SELECT * FROM payment_intents WHERE job_id = $1`, job.ID); err != nil {
		return nil, fmt.Errorf("escrow repository: reread intent %w", err)
	}

	return &intent, tx.Commit()
}

// ConfirmCapture переводит сделку PendingPayment → InEscrow по подтверждению
// шлюза. Повторная доставка того же вебхука — идемпотентный no-op: applied
// будет false, состояние не меняется, движения денег не дублируются.
func (r *EscrowRepository) ConfirmCapture(ctx context.Context, reference string) (*models.Job, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var jobID uuid.UUID
	if err := tx.GetContext(ctx, &jobID,
		`SELECT job_id FROM transactions WHERE gateway_reference = $1`, reference); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, apperror.ErrTransactionNotFound
		}
		return nil, false, fmt.Errorf("escrow repository: capture lookup %w", err)
	}

	job, err := lockJob(ctx, tx, jobID)
	if err != nil {
		return nil, false, err
	}

	if job.State != models.JobStatePendingPayment {
		// Уже в custody или в терминальном состоянии: дубликат вебхука.
		return job, false, tx.Commit()
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET captured_at = $2 WHERE job_id = $1`, job.ID, now); err != nil {
		return nil, false, fmt.Errorf("escrow repository: capture transaction %w", err)
	}

	if err := insertLedger(ctx, tx, job.ID, job.ClientID, models.LedgerEscrowCapture, job.Amount); err != nil {
		return nil, false, err
	}

	if err := transitionJob(ctx, tx, job, models.JobStateInEscrow, models.ActorGateway, nil); err != nil {
		return nil, false, err
	}

	return job, true, tx.Commit()
}

// PinReleaseRate фиксирует ставку комиссии перед выплатой. Ставка
// вычисляется по ТЕКУЩЕМУ числу завершённых сделок исполнителя и больше
// никогда не пересчитывается: повтор после сбоя рельса использует её же,
// поэтому уровнем нельзя манипулировать через тайминг повторов.
// Счётчик завершённых сделок увеличивается здесь же, в одной транзакции
// БД с чтением и фиксацией ставки.
// refundPortion > 0 задаёт частичный сплит; обе доли фиксируются так, что
// refund + release в точности равны gross.
func (r *EscrowRepository) PinReleaseRate(ctx context.Context, jobID uuid.UUID, refundPortion float64) (*models.Transaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	job, err := lockJob(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != models.JobStateInEscrow {
		return nil, apperror.StateConflictf("сделка в состоянии %s, релиз невозможен", job.State)
	}

	t, err := lockTransaction(ctx, tx, job.ID)
	if err != nil {
		return nil, err
	}

	if t.CommissionRate == nil {
		var completed int
		if err := tx.GetContext(ctx, &completed,
			`SELECT completed_jobs FROM professional_stats WHERE user_id = $1 FOR UPDATE`,
			job.ProfessionalID); err != nil {
			return nil, fmt.Errorf("escrow repository: read stats %w", err)
		}

		_, rate := commission.RateFor(completed)
		releasePortion := t.GrossAmount - refundPortion
		net := commission.Net(releasePortion, rate)

		if _, err := tx.ExecContext(ctx, `
			UPDATE transactions
			SET commission_rate = $2, net_amount = $3, refund_portion = $4,
			    release_portion = $5, release_pending = TRUE
			WHERE job_id = $1
		`, job.ID, rate, net, nullablePortion(refundPortion), releasePortion); err != nil {
			return nil, fmt.Errorf("escrow repository: pin rate %w", err)
		}

		// Счётчик растёт атомарно с чтением: параллельный релиз другой
		// сделки того же исполнителя увидит уже обновлённое значение и не
		// зафиксирует устаревший уровень. Зафиксированный релиз необратим
		// (Refund отвергает release_pending), поэтому откат не нужен.
		if _, err := tx.ExecContext(ctx, `
			UPDATE professional_stats
			SET completed_jobs = completed_jobs + 1, updated_at = NOW()
			WHERE user_id = $1
		`, job.ProfessionalID); err != nil {
			return nil, fmt.Errorf("escrow repository: increment stats %w", err)
		}

		t.CommissionRate = &rate
		t.NetAmount = &net
		t.ReleasePortion = &releasePortion
		if refundPortion > 0 {
			t.RefundPortion = &refundPortion
		}
		t.ReleasePending = true
	}

	return t, tx.Commit()
}

// FinalizeRelease завершает переход InEscrow → Released: в одной транзакции
// БД терминальное состояние, строки леджера и доменное событие. Вызывается
// только после подтверждения выплаты рельсом; ставка и счётчик к этому
// моменту уже зафиксированы PinReleaseRate.
func (r *EscrowRepository) FinalizeRelease(ctx context.Context, jobID uuid.UUID, actorRole string, actorID *uuid.UUID) (*models.Job, *models.Transaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	job, err := lockJob(ctx, tx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.State != models.JobStateInEscrow {
		return nil, nil, apperror.StateConflictf("сделка в состоянии %s, релиз невозможен", job.State)
	}

	t, err := lockTransaction(ctx, tx, job.ID)
	if err != nil {
		return nil, nil, err
	}
	if t.CommissionRate == nil || !t.ReleasePending {
		return nil, nil, apperror.StateConflictf("ставка комиссии не зафиксирована для сделки %s", job.ID)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET resolved_at = $2, resolution_kind = 'released', release_pending = FALSE
		WHERE job_id = $1
	`, job.ID, now); err != nil {
		return nil, nil, fmt.Errorf("escrow repository: resolve transaction %w", err)
	}
	t.ResolvedAt = &now
	kind := models.ResolutionReleased
	t.ResolutionKind = &kind
	t.ReleasePending = false

	if err := insertLedger(ctx, tx, job.ID, job.ProfessionalID, models.LedgerEscrowRelease, *t.NetAmount); err != nil {
		return nil, nil, err
	}
	releasePortion := t.GrossAmount
	if t.ReleasePortion != nil {
		releasePortion = *t.ReleasePortion
	}
	fee := commission.RoundMoney(releasePortion - *t.NetAmount)
	if err := insertLedger(ctx, tx, job.ID, job.ProfessionalID, models.LedgerCommissionFee, fee); err != nil {
		return nil, nil, err
	}
	if t.RefundPortion != nil {
		if err := insertLedger(ctx, tx, job.ID, job.ClientID, models.LedgerEscrowRefund, *t.RefundPortion); err != nil {
			return nil, nil, err
		}
	}

	if err := transitionJob(ctx, tx, job, models.JobStateReleased, actorRole, actorID); err != nil {
		return nil, nil, err
	}

	return job, t, tx.Commit()
}

// Refund переводит сделку InEscrow → Refunded (kind = cancelled для
// административной отмены): полный gross возвращается клиенту, комиссия
// не удерживается. Денежная отмена и возврат отличаются только пометкой
// для аудита.
func (r *EscrowRepository) Refund(ctx context.Context, jobID uuid.UUID, kind models.ResolutionKind, actorRole string, actorID *uuid.UUID) (*models.Job, *models.Transaction, error) {
	if kind != models.ResolutionRefunded && kind != models.ResolutionCancelled {
		return nil, nil, apperror.Validationf("недопустимый итог возврата: %s", kind)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	job, err := lockJob(ctx, tx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.State != models.JobStateInEscrow {
		return nil, nil, apperror.StateConflictf("сделка в состоянии %s, возврат невозможен", job.State)
	}

	t, err := lockTransaction(ctx, tx, job.ID)
	if err != nil {
		return nil, nil, err
	}
	if t.ReleasePending {
		return nil, nil, apperror.StateConflictf("по сделке %s уже зафиксирован релиз", job.ID)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE transactions SET resolved_at = $2, resolution_kind = $3 WHERE job_id = $1
	`, job.ID, now, string(kind)); err != nil {
		return nil, nil, fmt.Errorf("escrow repository: resolve transaction %w", err)
	}
	t.ResolvedAt = &now
	t.ResolutionKind = &kind

	if err := insertLedger(ctx, tx, job.ID, job.ClientID, models.LedgerEscrowRefund, t.GrossAmount); err != nil {
		return nil, nil, err
	}

	target := models.JobStateRefunded
	if kind == models.ResolutionCancelled {
		target = models.JobStateCancelled
	}
	if err := transitionJob(ctx, tx, job, target, actorRole, actorID); err != nil {
		return nil, nil, err
	}

	return job, t, tx.Commit()
}

// ListReleasePending возвращает сделки с зафиксированной, но не
// завершённой выплатой — вход фонового повтора после сбоя рельса.
func (r *EscrowRepository) ListReleasePending(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []models.Job
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT j.* FROM jobs j
		JOIN transactions t ON t.job_id = j.id
		WHERE t.release_pending AND j.state = 'in_escrow'
		ORDER BY j.state_changed_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: list release pending %w", err)
	}
	return jobs, nil
}

// ListJobs возвращает сделки с фильтрами по состоянию и участнику.
func (r *EscrowRepository) ListJobs(ctx context.Context, state *models.JobState, userID *uuid.UUID, limit, offset int) ([]models.Job, error) {
	query := `SELECT * FROM jobs WHERE 1=1`
	args := []interface{}{}
	n := 0

	if state != nil {
		n++
		query += fmt.Sprintf(" AND state = $%d", n)
		args = append(args, string(*state))
	}
	if userID != nil {
		n++
		query += fmt.Sprintf(" AND (client_id = $%d OR professional_id = $%d)", n, n)
		args = append(args, *userID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, limit, offset)

	var jobs []models.Job
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("escrow repository: list jobs %w", err)
	}
	return jobs, nil
}

// ListEvents возвращает журнал переходов сделки.
func (r *EscrowRepository) ListEvents(ctx context.Context, jobID uuid.UUID) ([]models.JobEvent, error) {
	var events []models.JobEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM job_events WHERE job_id = $1 ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: list events %w", err)
	}
	return events, nil
}

// ListLedger возвращает строки леджера по сделке.
func (r *EscrowRepository) ListLedger(ctx context.Context, jobID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM ledger_entries WHERE job_id = $1 ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: list ledger %w", err)
	}
	return entries, nil
}

// lockJob берёт строку сделки под эксклюзивный замок.
func lockJob(ctx context.Context, tx *sqlx.Tx, jobID uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := tx.GetContext(ctx, &job, `SELECT * FROM jobs WHERE id = $1 FOR UPDATE`, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrJobNotFound
		}
		return nil, fmt.Errorf("escrow repository: lock job %w", err)
	}
	return &job, nil
}

// lockTransaction берёт денежную запись под замок. Порядок блокировок
// всегда job → transaction, чтобы исключить взаимные блокировки.
func lockTransaction(ctx context.Context, tx *sqlx.Tx, jobID uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	if err := tx.GetContext(ctx, &t, `SELECT * FROM transactions WHERE job_id = $1 FOR UPDATE`, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("escrow repository: lock transaction %w", err)
	}
	return &t, nil
}

// transitionJob меняет состояние сделки и пишет доменное событие в той же
// транзакции БД: либо фиксируется весь переход, либо ничего.
func transitionJob(ctx context.Context, tx *sqlx.Tx, job *models.Job, to models.JobState, actorRole string, actorID *uuid.UUID) error {
	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = $2, state_changed_at = $3 WHERE id = $1`,
		job.ID, string(to), now); err != nil {
		return fmt.Errorf("escrow repository: transition job %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_events (job_id, from_state, to_state, actor_role, actor_id)
		VALUES ($1, $2, $3, $4, $5)
	`, job.ID, string(job.State), string(to), actorRole, actorID); err != nil {
		return fmt.Errorf("escrow repository: insert event %w", err)
	}

	job.State = to
	job.StateChangedAt = now
	return nil
}

func insertLedger(ctx context.Context, tx *sqlx.Tx, jobID, userID uuid.UUID, entryType string, amount float64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (job_id, user_id, type, amount)
		VALUES ($1, $2, $3, $4)
	`, jobID, userID, entryType, amount); err != nil {
		return fmt.Errorf("escrow repository: ledger %s %w", entryType, err)
	}
	return nil
}

func nullablePortion(v float64) interface{} {
	if v <= 0 {
		return nil
	}
	return v
}
