package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/medlab-api/internal/models"
	"github.com/harentsoaR/medlab-api/internal/services"
)

func (h *Handler) ListLabs(c *gin.Context) {
	labs, err := h.LabTests.ListLabs(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, labs)
}

func (h *Handler) GetLabCatalog(c *gin.Context) {
	tests, err := h.LabTests.LabCatalog(c.Request.Context(), c.Param("labId"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, tests)
}

// --- BOOK A TEST ---
func (h *Handler) CreateLabTest(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req services.CreateLabTestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.PatientID == "" && who.Role == models.RolePatient {
		req.PatientID = who.ID
	}

	test, err := h.LabTests.CreateRequest(c.Request.Context(), who, req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Test booked successfully", "test": test})
}

// GetLabTests lists the calling lab's incoming requests.
func (h *Handler) GetLabTests(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	list, err := h.LabTests.ListForLab(c.Request.Context(), who.ID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetPatientLabTests(c *gin.Context) {
	list, err := h.LabTests.ListForPatient(c.Request.Context(), c.Param("patientId"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) UpdateLabTest(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req services.UpdateLabTestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	test, err := h.LabTests.UpdateStatus(c.Request.Context(), who, c.Param("id"), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, test)
}

// --- RESULT FILES ---
func (h *Handler) UploadLabResult(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	blob, err := readFileHeader(fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read uploaded file"})
		return
	}
	test, err := h.LabTests.UploadResult(c.Request.Context(), who, c.Param("id"), blob)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Result uploaded successfully", "test": test})
}

func (h *Handler) DownloadLabResult(c *gin.Context) {
	blob, err := h.LabTests.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", blob.Filename))
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}
