package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/serviapp/escrow-backend/internal/http/handlers/common"
	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
	"github.com/serviapp/escrow-backend/internal/service"
)

// JobHandler обслуживает сделки: оплату, custody и релиз средств.
type JobHandler struct {
	escrow   *service.EscrowService
	payments *service.PaymentService
}

func NewJobHandler(escrow *service.EscrowService, payments *service.PaymentService) *JobHandler {
	return &JobHandler{escrow: escrow, payments: payments}
}

// Get обрабатывает GET /api/jobs/:id.
func (h *JobHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	job, err := h.escrow.GetJobForUser(c.Request.Context(), jobID, userID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, jobView(job))
}

// List обрабатывает GET /api/jobs?state=... для текущего пользователя.
func (h *JobHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	var state *models.JobState
	if raw := c.Query("state"); raw != "" {
		s := models.JobState(raw)
		state = &s
	}

	limit, offset := common.GetPagination(c)
	jobs, err := h.escrow.ListJobs(c.Request.Context(), state, &userID, limit, offset)
	if err != nil {
		common.Fail(c, err)
		return
	}

	views := make([]gin.H, 0, len(jobs))
	for i := range jobs {
		views = append(views, jobView(&jobs[i]))
	}
	c.JSON(http.StatusOK, views)
}

// Events обрабатывает GET /api/jobs/:id/events.
func (h *JobHandler) Events(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	events, err := h.escrow.ListEvents(c.Request.Context(), jobID, userID, common.IsAdmin(c))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// Ledger обрабатывает GET /api/jobs/:id/ledger.
func (h *JobHandler) Ledger(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	entries, err := h.escrow.ListLedger(c.Request.Context(), jobID, userID, common.IsAdmin(c))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Capture обрабатывает POST /api/jobs/:id/capture: клиент инициирует оплату.
// Повторный вызов до подтверждения возвращает то же платёжное намерение.
func (h *JobHandler) Capture(c *gin.Context) {
	clientID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	intent, err := h.payments.InitiateCapture(c.Request.Context(), jobID, clientID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, intent)
}

// Release обрабатывает POST /api/jobs/:id/release: клиент подтверждает
// выполнение работы, средства уходят исполнителю за вычетом комиссии.
func (h *JobHandler) Release(c *gin.Context) {
	clientID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	job, t, err := h.escrow.Release(c.Request.Context(), jobID, clientID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": jobView(job), "transaction": t})
}

// Refund обрабатывает POST /api/jobs/:id/refund: исполнитель добровольно
// возвращает средства клиенту.
func (h *JobHandler) Refund(c *gin.Context) {
	professionalID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	job, t, err := h.escrow.RefundByProfessional(c.Request.Context(), jobID, professionalID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": jobView(job), "transaction": t})
}

// jobView дополняет сделку витринной подписью состояния.
func jobView(job *models.Job) gin.H {
	return gin.H{
		"id":               job.ID,
		"offer_id":         job.OfferID,
		"client_id":        job.ClientID,
		"professional_id":  job.ProfessionalID,
		"amount":           job.Amount,
		"state":            job.State,
		"state_label":      job.State.DisplayLabel(),
		"created_at":       job.CreatedAt,
		"state_changed_at": job.StateChangedAt,
	}
}
