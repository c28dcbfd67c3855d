package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/medlab-api/internal/middleware"
	"github.com/harentsoaR/medlab-api/internal/models"
)

// RegisterRoutes mounts the public auth routes and the JWT-protected /api
// group on r.
func (h *Handler) RegisterRoutes(r gin.IRouter, tokens middleware.TokenValidator) {
	auth := r.Group("/auth")
	{
		auth.POST("/register", h.RegisterUser)
		auth.POST("/login", h.Login)
	}

	api := r.Group("/api", middleware.AuthMiddleware(tokens))
	doctor := middleware.RequireRole(models.RoleDoctor)
	patient := middleware.RequireRole(models.RolePatient)
	lab := middleware.RequireRole(models.RoleLab)

	api.GET("/users/me", h.GetCurrentUser)

	appointments := api.Group("/appointments")
	{
		appointments.POST("", h.CreateAppointment)
		appointments.GET("/pending", doctor, h.GetPendingAppointments)
		appointments.GET("/my", doctor, h.GetMyAppointments)
		appointments.GET("/status/:status", doctor, h.GetAppointmentsByStatus)
		appointments.GET("/patient", patient, h.GetPatientAppointments)
		appointments.GET("/patient/pending", patient, h.GetPatientPendingAppointments)
		appointments.GET("/patient/:patientId", h.GetAppointmentsForPatient)
		appointments.GET("/booked-slots/:doctorId", h.GetBookedSlots)
		appointments.PATCH("/:id/status", doctor, h.UpdateAppointmentStatus)
		appointments.POST("/:id/report", h.UploadReport)
		appointments.GET("/:id/report", h.ViewReport)
	}

	labs := api.Group("/labs")
	{
		labs.GET("", h.ListLabs)
		labs.GET("/:labId/tests", h.GetLabCatalog)
	}

	labTests := api.Group("/lab-tests")
	{
		labTests.POST("", h.CreateLabTest)
		labTests.GET("", lab, h.GetLabTests)
		labTests.GET("/patient/:patientId", h.GetPatientLabTests)
		labTests.PUT("/:id", lab, h.UpdateLabTest)
		labTests.POST("/:id/result", lab, h.UploadLabResult)
		labTests.GET("/:id/result", h.DownloadLabResult)
	}
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
