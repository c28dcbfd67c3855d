package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/medlab-api/internal/models"
	"github.com/harentsoaR/medlab-api/internal/services"
)

// createAppointmentRequest accepts both multipart forms (with an optional
// "document" file) and JSON bodies.
type createAppointmentRequest struct {
	DoctorID    string `json:"doctorId" form:"doctorId"`
	PatientID   string `json:"patientId" form:"patientId"`
	PatientName string `json:"patientName" form:"patientName"`
	Email       string `json:"email" form:"email"`
	Phone       string `json:"phone" form:"phone"`
	Gender      string `json:"gender" form:"gender"`
	Date        string `json:"date" form:"date"`
	Time        string `json:"time" form:"time"`
	Symptoms    string `json:"symptoms" form:"symptoms"`
}

// --- CREATE APPOINTMENT ---
func (h *Handler) CreateAppointment(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req createAppointmentRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	// Patients book for themselves unless the form says otherwise.
	if req.PatientID == "" && who.Role == models.RolePatient {
		req.PatientID = who.ID
	}

	document, err := formAttachment(c, "document")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read uploaded document"})
		return
	}

	apt, err := h.Appointments.Create(c.Request.Context(), who, services.CreateAppointmentInput{
		DoctorID:    req.DoctorID,
		PatientID:   req.PatientID,
		PatientName: req.PatientName,
		Email:       req.Email,
		Phone:       req.Phone,
		Gender:      req.Gender,
		Date:        req.Date,
		Time:        req.Time,
		Symptoms:    req.Symptoms,
	}, document)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Appointment booked successfully", "appointment": apt})
}

// --- DOCTOR LISTS ---
func (h *Handler) GetPendingAppointments(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	list, err := h.Appointments.ListPendingForDoctor(c.Request.Context(), who.ID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetMyAppointments(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	list, err := h.Appointments.ListActiveForDoctor(c.Request.Context(), who.ID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetAppointmentsByStatus(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	list, err := h.Appointments.ListByDoctorStatus(c.Request.Context(), who.ID, c.Param("status"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// --- PATIENT LISTS ---
func (h *Handler) GetPatientAppointments(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	list, err := h.Appointments.ListForPatient(c.Request.Context(), who.ID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetPatientPendingAppointments(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	list, err := h.Appointments.ListPendingForPatient(c.Request.Context(), who.ID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// patientAppointmentView adds a link to the report when one is attached.
type patientAppointmentView struct {
	*models.Appointment
	ReportURL string `json:"reportUrl,omitempty"`
}

func (h *Handler) GetAppointmentsForPatient(c *gin.Context) {
	list, err := h.Appointments.ListForPatient(c.Request.Context(), c.Param("patientId"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	out := make([]patientAppointmentView, 0, len(list))
	for _, a := range list {
		v := patientAppointmentView{Appointment: a}
		if !a.ReportFile.IsEmpty() {
			v.ReportURL = "/api/appointments/" + a.ID.Hex() + "/report"
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetBookedSlots(c *gin.Context) {
	slots, err := h.Appointments.BookedSlots(c.Request.Context(), c.Param("doctorId"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, slots)
}

// --- UPDATE APPOINTMENT STATUS ---
func (h *Handler) UpdateAppointmentStatus(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req services.TransitionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	apt, err := h.Appointments.Transition(c.Request.Context(), who, c.Param("id"), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Status updated successfully", "appointment": apt})
}

// --- REPORTS ---
func (h *Handler) UploadReport(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("reportFile")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	blob, err := readFileHeader(fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read uploaded file"})
		return
	}
	if err := h.Appointments.UploadReport(c.Request.Context(), who, c.Param("id"), blob); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Report uploaded successfully"})
}

func (h *Handler) ViewReport(c *gin.Context) {
	blob, err := h.Appointments.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}
