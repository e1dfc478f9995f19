package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/serviapp/escrow-backend/internal/commission"
	"github.com/serviapp/escrow-backend/internal/http/handlers/common"
	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
	"github.com/serviapp/escrow-backend/internal/service"
)

// AuthHandler обслуживает регистрацию и аутентификацию.
type AuthHandler struct {
	svc *service.AuthService
}

func NewAuthHandler(svc *service.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Register обрабатывает POST /api/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Name     string `json:"name"`
		Role     string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, apperror.Validationf("некорректное тело запроса: %v", err))
		return
	}

	result, err := h.svc.Register(c.Request.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     req.Role,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Login обрабатывает POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, apperror.Validationf("некорректное тело запроса: %v", err))
		return
	}

	result, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Refresh обрабатывает POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, apperror.Validationf("некорректное тело запроса: %v", err))
		return
	}

	pair, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Logout обрабатывает POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	if err := h.svc.Logout(c.Request.Context(), userID); err != nil {
		common.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Me обрабатывает GET /api/auth/me. Для исполнителя в ответ добавляются
// счётчик завершённых сделок, уровень и текущая ставка комиссии.
func (h *AuthHandler) Me(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	user, stats, err := h.svc.Me(c.Request.Context(), userID)
	if err != nil {
		common.Fail(c, err)
		return
	}

	resp := gin.H{"user": user}
	if user.Role == models.RoleProfessional && stats != nil {
		tier, rate := commission.RateFor(stats.CompletedJobs)
		resp["stats"] = gin.H{
			"completed_jobs":  stats.CompletedJobs,
			"tier":            tier,
			"commission_rate": rate,
		}
	}
	c.JSON(http.StatusOK, resp)
}
