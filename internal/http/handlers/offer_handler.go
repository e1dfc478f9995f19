package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/serviapp/escrow-backend/internal/http/handlers/common"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
	"github.com/serviapp/escrow-backend/internal/service"
)

// OfferHandler обслуживает реестр предложений.
type OfferHandler struct {
	svc *service.OfferService
}

func NewOfferHandler(svc *service.OfferService) *OfferHandler {
	return &OfferHandler{svc: svc}
}

// Create обрабатывает POST /api/offers. Доступно только исполнителям.
func (h *OfferHandler) Create(c *gin.Context) {
	professionalID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	var req struct {
		ClientID        uuid.UUID  `json:"client_id" binding:"required"`
		ConversationRef *uuid.UUID `json:"conversation_ref"`
		Description     string     `json:"description" binding:"required"`
		FinalPrice      float64    `json:"final_price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, apperror.Validationf("некорректное тело запроса: %v", err))
		return
	}

	offer, err := h.svc.Propose(c.Request.Context(), professionalID, req.ClientID, req.ConversationRef, req.Description, req.FinalPrice)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

// Accept обрабатывает POST /api/offers/:id/accept. Вместе с принятием
// создаётся сделка в состоянии ожидания оплаты.
func (h *OfferHandler) Accept(c *gin.Context) {
	clientID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	offerID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	offer, job, err := h.svc.Accept(c.Request.Context(), offerID, clientID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer": offer, "job": job})
}

// Reject обрабатывает POST /api/offers/:id/reject.
func (h *OfferHandler) Reject(c *gin.Context) {
	clientID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	offerID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	offer, err := h.svc.Reject(c.Request.Context(), offerID, clientID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

// Get обрабатывает GET /api/offers/:id.
func (h *OfferHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	offerID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	offer, err := h.svc.GetOffer(c.Request.Context(), offerID, userID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

// ListMy обрабатывает GET /api/offers.
func (h *OfferHandler) ListMy(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	limit, offset := common.GetPagination(c)
	offers, err := h.svc.ListMyOffers(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, offers)
}
