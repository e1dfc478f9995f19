package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/serviapp/escrow-backend/internal/http/handlers/common"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
	"github.com/serviapp/escrow-backend/internal/service"
)

// WebhookHandler принимает асинхронные подтверждения платёжного шлюза.
type WebhookHandler struct {
	payments *service.PaymentService
	secret   string
}

func NewWebhookHandler(payments *service.PaymentService, secret string) *WebhookHandler {
	return &WebhookHandler{payments: payments, secret: secret}
}

// HandlePayment обрабатывает POST /api/webhooks/payment.
// Шлюз доставляет at-least-once: повтор по обработанному reference
// подтверждается 200 без повторного эффекта.
func (h *WebhookHandler) HandlePayment(c *gin.Context) {
	got := c.GetHeader("X-Webhook-Secret")
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "невалидная подпись вебхука"})
		return
	}

	var req struct {
		Reference string `json:"reference" binding:"required"`
		Outcome   string `json:"outcome" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, apperror.Validationf("некорректное тело запроса: %v", err))
		return
	}

	if err := h.payments.HandleCallback(c.Request.Context(), req.Reference, req.Outcome); err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
