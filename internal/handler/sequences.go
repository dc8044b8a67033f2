package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dream-server/internal/config"
	"dream-server/internal/middleware"
	"dream-server/internal/models"
	"dream-server/internal/repository"
	"dream-server/internal/service"
)

// SequenceHandler exposes the sequence pipeline over HTTP.
type SequenceHandler struct {
	cfg          *config.Config
	orchestrator *service.Orchestrator
	imageRefRepo repository.ImageReferenceRepository
	logger       *zap.Logger
}

// NewSequenceHandler creates the handler.
func NewSequenceHandler(cfg *config.Config, orchestrator *service.Orchestrator, imageRefRepo repository.ImageReferenceRepository, logger *zap.Logger) *SequenceHandler {
	return &SequenceHandler{
		cfg:          cfg,
		orchestrator: orchestrator,
		imageRefRepo: imageRefRepo,
		logger:       logger.Named("SequenceHandler"),
	}
}

// RegisterRoutes mounts the API under /api/v1. All sequence routes require
// the authenticated user; image serving is public because refs are
// unguessable UUID handles.
func (h *SequenceHandler) RegisterRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	api := router.Group("/api/v1")
	api.GET("/images/:ref", h.serveImage)
	api.GET("/styles", h.listStyles)

	authed := api.Group("")
	authed.Use(auth)
	authed.POST("/sequences", h.submitSequence)
	authed.POST("/sequences/preview", h.previewCharacter)
	authed.POST("/sequences/:id/cancel", h.cancelSequence)
	authed.GET("/sequences/:id", h.getSequence)
}

// submitSequence accepts the multipart submission, normalizes the lenient
// fields and hands the request to the orchestrator. A 202 means the job was
// accepted; progress streams over the user's WebSocket.
func (h *SequenceHandler) submitSequence(c *gin.Context) {
	userID := middleware.UserID(c)

	req := &models.GenerationRequest{
		UserID:       userID,
		SubjectLabel: c.PostForm("subject_label"),
		DreamerLabel: c.PostForm("dreamer_label"),
		StyleKey:     c.PostForm("style_key"),
		PreviewID:    c.PostForm("preview_id"),
		Scenes:       normalizeScenes(c.PostFormArray("scenes")),
	}

	data, mimeType, err := h.readReferenceImage(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	req.ReferenceImage = data
	req.ReferenceMIME = mimeType

	jobID, err := h.orchestrator.Submit(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID.String()})
}

// previewCharacter runs the synchronous character-image-only sub-operation.
func (h *SequenceHandler) previewCharacter(c *gin.Context) {
	userID := middleware.UserID(c)

	data, mimeType, err := h.readReferenceImage(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	preview, err := h.orchestrator.Preview(c.Request.Context(), userID,
		c.PostForm("subject_label"), c.PostForm("style_key"), data, mimeType)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, preview)
}

func (h *SequenceHandler) cancelSequence(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	if err := h.orchestrator.Cancel(jobID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

func (h *SequenceHandler) getSequence(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sequence id"})
		return
	}

	seq, err := h.orchestrator.GetSequence(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, seq)
}

func (h *SequenceHandler) listStyles(c *gin.Context) {
	styles, err := h.orchestrator.ListStyles(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"styles": styles})
}

// serveImage redirects the stable reference to the hosted file.
func (h *SequenceHandler) serveImage(c *gin.Context) {
	imageURL, err := h.imageRefRepo.GetURLByRef(c.Request.Context(), c.Param("ref"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Redirect(http.StatusFound, imageURL)
}

// readReferenceImage reads the uploaded file, bounded by the configured
// size limit. The MIME type is sniffed from the bytes rather than trusted
// from the part header.
func (h *SequenceHandler) readReferenceImage(c *gin.Context) ([]byte, string, error) {
	fileHeader, err := c.FormFile("reference_image")
	if err != nil {
		// Missing file is legal when a preview is being reused; the
		// orchestrator decides.
		return nil, "", nil
	}
	if fileHeader.Size > h.cfg.MaxImageBytes {
		return nil, "", models.ErrReferenceImageTooBig
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxImageBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > h.cfg.MaxImageBytes {
		return nil, "", models.ErrReferenceImageTooBig
	}

	return data, http.DetectContentType(data), nil
}

// respondError maps domain errors to HTTP statuses.
func (h *SequenceHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrStyleNotFound),
		errors.Is(err, models.ErrReferenceImageMissing),
		errors.Is(err, models.ErrReferenceImageTooBig),
		errors.Is(err, models.ErrUnsupportedImageType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrJobNotFound),
		errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrImageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrJobAlreadyDone):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrAllProvidersFailed),
		errors.Is(err, models.ErrImageGenerationFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "image generation is currently unavailable"})
	default:
		h.logger.Error("Unhandled handler error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// normalizeScenes turns whatever the client sent in the 'scenes' field into
// a plain ordered list. Accepted shapes: repeated form fields, a JSON array,
// a JSON-encoded string, or a bare string. Nothing here rejects: empty or
// malformed input just degrades to fewer scenes, and the orchestrator owns
// the semantic rules.
func normalizeScenes(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	if len(values) > 1 {
		return values
	}

	raw := strings.TrimSpace(values[0])
	if raw == "" {
		return nil
	}

	if strings.HasPrefix(raw, "[") {
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return list
		}
		// Arrays with mixed element types still deserve a try.
		var anyList []any
		if err := json.Unmarshal([]byte(raw), &anyList); err == nil {
			list = make([]string, 0, len(anyList))
			for _, item := range anyList {
				if s, ok := item.(string); ok {
					list = append(list, s)
				}
			}
			return list
		}
		// Malformed JSON: treat the whole value as one scene text.
		return []string{raw}
	}

	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return normalizeScenes([]string{s})
		}
	}

	return []string{raw}
}
