package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/h2non/filetype"

	"github.com/serviapp/escrow-backend/internal/http/handlers/common"
	"github.com/serviapp/escrow-backend/internal/logger"
	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
	"github.com/serviapp/escrow-backend/internal/service"
)

// Разрешённые типы файлов доказательств.
var allowedEvidenceMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// DisputeHandler обслуживает арбитраж споров.
type DisputeHandler struct {
	svc *service.DisputeService
}

func NewDisputeHandler(svc *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{svc: svc}
}

// Open обрабатывает POST /api/jobs/:id/disputes.
func (h *DisputeHandler) Open(c *gin.Context) {
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

	var req struct {
		Kind        string `json:"kind" binding:"required"`
		Description string `json:"description" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, apperror.Validationf("некорректное тело запроса: %v", err))
		return
	}

	dispute, err := h.svc.Open(c.Request.Context(), jobID, userID, models.DisputeKind(req.Kind), req.Description)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dispute)
}

// Get обрабатывает GET /api/disputes/:id.
func (h *DisputeHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	dispute, err := h.svc.GetDispute(c.Request.Context(), disputeID, userID, common.IsAdmin(c))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// ListEntries обрабатывает GET /api/disputes/:id/entries.
func (h *DisputeHandler) ListEntries(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	entries, err := h.svc.ListEntries(c.Request.Context(), disputeID, userID, common.IsAdmin(c))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// PostMessage обрабатывает POST /api/disputes/:id/messages.
func (h *DisputeHandler) PostMessage(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
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
		Body string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, apperror.Validationf("некорректное тело запроса: %v", err))
		return
	}

	entry, err := h.svc.PostMessage(c.Request.Context(), disputeID, userID, common.IsAdmin(c), req.Body)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// AddEvidence обрабатывает POST /api/disputes/:id/evidence (multipart).
// Реальный тип файла проверяется по магическим байтам, расширению не верим.
func (h *DisputeHandler) AddEvidence(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, apperror.Validationf("поле file обязательно"))
		return
	}
	if file.Size == 0 {
		common.Fail(c, apperror.Validationf("файл не может быть пустым"))
		return
	}

	src, err := file.Open()
	if err != nil {
		common.Fail(c, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось открыть файл"))
		return
	}
	defer src.Close()

	buffer := make([]byte, 512)
	n, err := src.Read(buffer)
	if err != nil && err != io.EOF {
		common.Fail(c, apperror.Validationf("не удалось прочитать файл"))
		return
	}

	kind, err := filetype.Match(buffer[:n])
	if err != nil || kind == filetype.Unknown {
		common.Fail(c, apperror.Validationf("не удалось определить тип файла"))
		return
	}

	contentType := kind.MIME.Value
	if !allowedEvidenceMimeTypes[contentType] {
		common.Fail(c, apperror.Validationf("неподдерживаемый тип файла (%s), разрешены изображения и PDF", contentType))
		return
	}

	if seeker, ok := src.(io.Seeker); ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			common.Fail(c, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сбросить позицию файла"))
			return
		}
	}

	entry, err := h.svc.AddEvidence(c.Request.Context(), disputeID, userID, common.IsAdmin(c),
		file.Filename, contentType, c.PostForm("caption"), src)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// DownloadEvidence обрабатывает GET /api/disputes/:id/evidence/:entryId.
// Файл отдаётся потоково из хранилища доказательств.
func (h *DisputeHandler) DownloadEvidence(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}
	entryID, err := common.ParseUUIDParam(c, "entryId")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	entry, rc, err := h.svc.GetEvidence(c.Request.Context(), disputeID, entryID, userID, common.IsAdmin(c))
	if err != nil {
		common.Fail(c, err)
		return
	}
	defer rc.Close()

	contentType := "application/octet-stream"
	if entry.ContentType != nil {
		contentType = *entry.ContentType
	}
	filename := "evidence"
	if entry.Filename != nil {
		filename = *entry.Filename
	}

	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		logger.Log.WithError(err).WithField("entry_id", entryID).Warn("evidence stream interrupted")
	}
}

// Withdraw обрабатывает POST /api/disputes/:id/withdraw.
func (h *DisputeHandler) Withdraw(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.Fail(c, apperror.Validationf("%v", err))
		return
	}

	dispute, err := h.svc.Withdraw(c.Request.Context(), disputeID, userID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// ListMy обрабатывает GET /api/disputes.
func (h *DisputeHandler) ListMy(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.Fail(c, apperror.ErrUnauthorized)
		return
	}

	limit, offset := common.GetPagination(c)
	disputes, err := h.svc.ListMyDisputes(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, disputes)
}
