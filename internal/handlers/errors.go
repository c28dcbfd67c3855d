package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/harentsoaR/medlab-api/internal/middleware"
	"github.com/harentsoaR/medlab-api/internal/models"
	"github.com/harentsoaR/medlab-api/internal/services"
)

type validationErrorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

func (h *Handler) respondServiceError(c *gin.Context, err error) {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, validationErrorResponse{Error: "validation failed", Fields: verr.Fields})
		return
	}

	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, services.ErrUpstream):
		h.Log.Warn("upstream failure", zap.Error(err), zap.String("request_id", middleware.RequestIDFrom(c)))
		c.JSON(http.StatusBadGateway, gin.H{"error": "a dependent service is unavailable"})
	default:
		h.Log.Error("unhandled service error",
			zap.Error(err),
			zap.String("request_id", middleware.RequestIDFrom(c)),
			zap.String("path", c.FullPath()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// caller reads the authenticated identity; it aborts with 401 when absent.
func caller(c *gin.Context) (services.Caller, bool) {
	who, ok := middleware.CallerFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
	}
	return who, ok
}

// formAttachment reads an optional multipart file. A nil attachment and nil
// error mean the field was not sent.
func formAttachment(c *gin.Context, field string) (*models.Attachment, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return readFileHeader(fh)
}

func readFileHeader(fh *multipart.FileHeader) (*models.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &models.Attachment{Data: data, ContentType: contentType, Filename: fh.Filename}, nil
}
