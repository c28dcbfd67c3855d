package handlers

import (
	"go.uber.org/zap"

	"github.com/harentsoaR/medlab-api/internal/services"
	"github.com/harentsoaR/medlab-api/internal/store"
	"github.com/harentsoaR/medlab-api/internal/utils"
)

// Handler carries the services every route needs. It holds no request state.
type Handler struct {
	Appointments *services.AppointmentService
	LabTests     *services.LabTestService
	Users        store.UserStore
	Tokens       *utils.TokenManager
	Log          *zap.Logger
}

func NewHandler(
	appointments *services.AppointmentService,
	labTests *services.LabTestService,
	users store.UserStore,
	tokens *utils.TokenManager,
	log *zap.Logger,
) *Handler {
	return &Handler{
		Appointments: appointments,
		LabTests:     labTests,
		Users:        users,
		Tokens:       tokens,
		Log:          log,
	}
}
