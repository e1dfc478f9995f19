package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/serviapp/escrow-backend/internal/http/handlers/common"
	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
	"github.com/serviapp/escrow-backend/internal/service"
)

// AdminHandler обслуживает административные ходы: принудительную отмену
// сделок и резолюцию споров. Все маршруты закрыты RequireRole("admin").
type AdminHandler struct {
	escrow   *service.EscrowService
	disputes *service.DisputeService
}

func NewAdminHandler(escrow *service.EscrowService, disputes *service.DisputeService) *AdminHandler {
	return &AdminHandler{escrow: escrow, disputes: disputes}
}

// CancelJob обрабатывает POST /api/admin/jobs/:id/cancel.
// Средства возвращаются клиенту, в аудите ход помечен как отмена.
func (h *AdminHandler) CancelJob(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	jobID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	job, t, err := h.escrow.AdminCancel(c.Request.Context(), jobID, adminID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job, "transaction": t})
}

// ListJobs обрабатывает GET /api/admin/jobs?state=... по всем пользователям.
func (h *AdminHandler) ListJobs(c *gin.Context) {
	var state *models.JobState
	if raw := c.Query("state"); raw != "" {
		s := models.JobState(raw)
		state = &s
	}

	limit, offset := common.GetPagination(c)
	jobs, err := h.escrow.ListJobs(c.Request.Context(), state, nil, limit, offset)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// DisputeQueue обрабатывает GET /api/admin/disputes?status=...
func (h *AdminHandler) DisputeQueue(c *gin.Context) {
	status := models.DisputeStatus(c.DefaultQuery("status", string(models.DisputeStatusOpen)))

	limit, offset := common.GetPagination(c)
	disputes, err := h.disputes.ListQueue(c.Request.Context(), status, limit, offset)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, disputes)
}

// ReviewDispute обрабатывает POST /api/admin/disputes/:id/review.
func (h *AdminHandler) ReviewDispute(c *gin.Context) {
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	dispute, err := h.disputes.Review(c.Request.Context(), disputeID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// ResolveDispute обрабатывает POST /api/admin/disputes/:id/resolve.
// favors: client (полный возврат), professional (релиз), none (частичный
// сплит: refund_portion возвращается клиенту, остаток уходит исполнителю
// за вычетом комиссии), rejected (отказ, деньги не двигаются).
func (h *AdminHandler) ResolveDispute(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	var req struct {
		Favors        string   `json:"favors" binding:"required"`
		Note          string   `json:"note"`
		RefundPortion *float64 `json:"refund_portion"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, apperror.Validationf("некорректное тело запроса: %v", err))
		return
	}

	dispute, err := h.disputes.Resolve(c.Request.Context(), disputeID, adminID, req.Favors, req.Note, req.RefundPortion)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}
