package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/serviapp/escrow-backend/internal/http/middleware"
)

func TestWebhookHandler_HandlePayment_BadSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewWebhookHandler(nil, "topsecret")
	r.POST("/webhooks/payment", handler.HandlePayment)

	req, _ := http.NewRequest("POST", "/webhooks/payment", strings.NewReader(`{"reference":"pay_abc","outcome":"succeeded"}`))
	req.Header.Set("X-Webhook-Secret", "wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookHandler_HandlePayment_EmptyConfiguredSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewWebhookHandler(nil, "")
	r.POST("/webhooks/payment", handler.HandlePayment)

	req, _ := http.NewRequest("POST", "/webhooks/payment", strings.NewReader(`{"reference":"pay_abc","outcome":"succeeded"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// Пустой секрет в конфигурации не превращается в открытый эндпоинт.
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookHandler_HandlePayment_MalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	handler := NewWebhookHandler(nil, "topsecret")
	r.POST("/webhooks/payment", handler.HandlePayment)

	req, _ := http.NewRequest("POST", "/webhooks/payment", strings.NewReader(`{"reference":""}`))
	req.Header.Set("X-Webhook-Secret", "topsecret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobHandler_Get_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	handler := &JobHandler{escrow: nil, payments: nil}
	r.GET("/jobs/:id", handler.Get)

	req, _ := http.NewRequest("GET", "/jobs/7f1de1c0-0000-0000-0000-000000000000", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJobHandler_Capture_InvalidJobID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	handler := &JobHandler{escrow: nil, payments: nil}
	r.POST("/jobs/:id/capture", func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, uuid.New())
		handler.Capture(c)
	})

	req, _ := http.NewRequest("POST", "/jobs/not-a-uuid/capture", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
