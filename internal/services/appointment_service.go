package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/harentsoaR/medlab-api/internal/metrics"
	"github.com/harentsoaR/medlab-api/internal/models"
	"github.com/harentsoaR/medlab-api/internal/store"
)

var tracer = otel.Tracer("github.com/harentsoaR/medlab-api/internal/services")

type CreateAppointmentInput struct {
	DoctorID    string `json:"doctorId" validate:"required,mongodb"`
	PatientID   string `json:"patientId" validate:"required,mongodb"`
	PatientName string `json:"patientName"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone"`
	Gender      string `json:"gender"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Symptoms    string `json:"symptoms"`
}

type TransitionInput struct {
	Status       string            `json:"status"`
	Prescription string            `json:"prescription"`
	Medicines    []models.Medicine `json:"medicines"`
}

type AppointmentService struct {
	appointments store.AppointmentStore
	doctors      DoctorDirectory
	attachments  *AttachmentManager
	notifier     Notifier
	metrics      *metrics.Collector
	log          *zap.Logger
	validate     *validator.Validate
	now          func() time.Time
}

func NewAppointmentService(
	appointments store.AppointmentStore,
	doctors DoctorDirectory,
	attachments *AttachmentManager,
	notifier Notifier,
	m *metrics.Collector,
	log *zap.Logger,
) *AppointmentService {
	return &AppointmentService{
		appointments: appointments,
		doctors:      doctors,
		attachments:  attachments,
		notifier:     notifier,
		metrics:      m,
		log:          log,
		validate:     newValidator(),
		now:          time.Now,
	}
}

// Create books a new Pending appointment. document is optional; when given it
// must carry bytes.
func (s *AppointmentService) Create(ctx context.Context, caller Caller, in CreateAppointmentInput, document *models.Attachment) (*models.Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.Create")
	defer span.End()

	if err := validateInput(s.validate, in); err != nil {
		return nil, err
	}
	if caller.Role == models.RolePatient && caller.ID != in.PatientID {
		return nil, fmt.Errorf("booking for another patient: %w", ErrForbidden)
	}
	if document != nil && document.IsEmpty() {
		return nil, invalid("document: must not be empty")
	}

	doctorID, _ := parseID(in.DoctorID)
	patientID, _ := parseID(in.PatientID)
	a := &models.Appointment{
		DoctorID:    doctorID,
		PatientID:   patientID,
		PatientName: strings.TrimSpace(in.PatientName),
		Email:       strings.TrimSpace(in.Email),
		Phone:       in.Phone,
		Gender:      in.Gender,
		Date:        in.Date,
		Time:        in.Time,
		Symptoms:    in.Symptoms,
		Status:      models.StatusPending,
		Medicines:   []models.Medicine{},
		CreatedAt:   s.now().UTC(),
	}
	if document != nil {
		a.ReportFile = copyBlob(document)
	}

	if err := s.appointments.Insert(ctx, a); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return nil, fmt.Errorf("saving appointment: %w", err)
	}
	span.SetAttributes(attribute.String("appointment.id", a.ID.Hex()))
	s.metrics.AppointmentsBooked.Inc()
	s.log.Info("appointment booked",
		zap.String("appointment_id", a.ID.Hex()),
		zap.String("doctor_id", in.DoctorID),
		zap.String("patient_id", in.PatientID),
	)

	if a.Email != "" {
		msg, err := bookingMessage(a, s.doctorName(ctx, doctorID))
		if err != nil {
			s.log.Error("rendering booking mail", zap.Error(err), zap.String("appointment_id", a.ID.Hex()))
		} else {
			s.notifier.Enqueue(msg)
		}
	}
	return a, nil
}

func (s *AppointmentService) doctorName(ctx context.Context, doctorID primitive.ObjectID) string {
	doc, err := s.doctors.FindDoctorByID(ctx, doctorID)
	if err != nil || doc.FullName == "" {
		s.log.Debug("doctor name lookup failed", zap.String("doctor_id", doctorID.Hex()), zap.Error(err))
		return "your doctor"
	}
	return "Dr. " + doc.FullName
}

// Transition moves an appointment along its status graph. Requesting the
// current status returns the record untouched.
func (s *AppointmentService) Transition(ctx context.Context, caller Caller, appointmentID string, in TransitionInput) (*models.Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.Transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("appointment.id", appointmentID),
		attribute.String("appointment.requested_status", in.Status),
	)

	a, err := s.load(ctx, appointmentID)
	if err != nil {
		s.log.Warn("appointment transition failed",
			zap.Error(err),
			zap.String("appointment_id", appointmentID),
			zap.String("to", in.Status),
		)
		return nil, err
	}
	requested := models.AppointmentStatus(strings.TrimSpace(in.Status))
	if requested == "" {
		s.log.Warn("appointment transition without status", zap.String("appointment_id", appointmentID))
		return nil, invalid("status: is required")
	}
	if caller.Role != models.RoleDoctor || caller.ID != a.DoctorID.Hex() {
		s.log.Warn("appointment transition refused",
			zap.String("appointment_id", appointmentID),
			zap.String("caller_id", caller.ID),
			zap.String("to", string(requested)),
		)
		return nil, fmt.Errorf("appointment %s: %w", appointmentID, ErrForbidden)
	}

	from := a.Status
	if requested == from {
		return a, nil
	}
	if !from.CanTransitionTo(requested) {
		s.log.Warn("invalid appointment transition",
			zap.String("appointment_id", appointmentID),
			zap.String("from", string(from)),
			zap.String("to", string(requested)),
		)
		return nil, fmt.Errorf("%s -> %s: %w", from, requested, ErrInvalidTransition)
	}

	if requested == models.StatusCompleted {
		prescription := strings.TrimSpace(in.Prescription)
		if prescription == "" {
			s.log.Warn("completion without prescription",
				zap.String("appointment_id", appointmentID),
				zap.String("from", string(from)),
				zap.String("to", string(requested)),
			)
			return nil, invalid("prescription: is required to complete an appointment")
		}
		a.Prescription = prescription
		a.Medicines = in.Medicines
		if a.Medicines == nil {
			a.Medicines = []models.Medicine{}
		}
	}
	a.Status = requested

	if err := s.appointments.Save(ctx, a); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		s.log.Error("saving appointment transition",
			zap.Error(err),
			zap.String("appointment_id", appointmentID),
			zap.String("from", string(from)),
			zap.String("to", string(requested)),
		)
		return nil, fmt.Errorf("saving appointment: %w", storeErr(err))
	}
	s.metrics.AppointmentTransitions.WithLabelValues(string(from), string(requested)).Inc()
	s.log.Info("appointment transitioned",
		zap.String("appointment_id", appointmentID),
		zap.String("from", string(from)),
		zap.String("to", string(requested)),
	)

	s.notifyStatus(a)
	return a, nil
}

func (s *AppointmentService) notifyStatus(a *models.Appointment) {
	if a.Email == "" {
		return
	}
	msg, ok, err := statusMessage(a)
	if err != nil {
		s.log.Error("rendering status mail", zap.Error(err), zap.String("appointment_id", a.ID.Hex()))
		return
	}
	if ok {
		s.notifier.Enqueue(msg)
	}
}

// UploadReport attaches a report file. Only the appointment's doctor or
// patient may do so.
func (s *AppointmentService) UploadReport(ctx context.Context, caller Caller, appointmentID string, blob *models.Attachment) error {
	if blob.IsEmpty() {
		s.log.Warn("empty report upload", zap.String("appointment_id", appointmentID))
		return invalid("reportFile: must not be empty")
	}
	a, err := s.load(ctx, appointmentID)
	if err != nil {
		s.log.Warn("report upload failed", zap.Error(err), zap.String("appointment_id", appointmentID))
		return err
	}
	if caller.ID != a.DoctorID.Hex() && caller.ID != a.PatientID.Hex() {
		s.log.Warn("report upload refused",
			zap.String("appointment_id", appointmentID),
			zap.String("caller_id", caller.ID),
		)
		return fmt.Errorf("appointment %s: %w", appointmentID, ErrForbidden)
	}
	return s.attachments.Attach(ctx, KindAppointmentReport, appointmentID, blob)
}

func (s *AppointmentService) Report(ctx context.Context, appointmentID string) (*models.Attachment, error) {
	return s.attachments.Retrieve(ctx, KindAppointmentReport, appointmentID)
}

func (s *AppointmentService) load(ctx context.Context, appointmentID string) (*models.Appointment, error) {
	id, ok := parseID(appointmentID)
	if !ok {
		return nil, fmt.Errorf("appointment %q: %w", appointmentID, ErrNotFound)
	}
	a, err := s.appointments.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: %w", appointmentID, storeErr(err))
	}
	return a, nil
}

func (s *AppointmentService) find(ctx context.Context, f store.AppointmentFilter, sort ...store.Sort) ([]*models.Appointment, error) {
	list, err := s.appointments.Find(ctx, f, sort...)
	if err != nil {
		return nil, fmt.Errorf("listing appointments: %w", err)
	}
	if list == nil {
		list = []*models.Appointment{}
	}
	return list, nil
}

func ownerID(id, field string) (store.AppointmentFilter, error) {
	oid, ok := parseID(id)
	if !ok {
		return store.AppointmentFilter{}, invalid(field + ": must be a valid id")
	}
	if field == "doctorId" {
		return store.AppointmentFilter{DoctorID: oid}, nil
	}
	return store.AppointmentFilter{PatientID: oid}, nil
}

// ListPendingForDoctor returns the doctor's Pending requests, newest first.
func (s *AppointmentService) ListPendingForDoctor(ctx context.Context, doctorID string) ([]*models.Appointment, error) {
	f, err := ownerID(doctorID, "doctorId")
	if err != nil {
		return nil, err
	}
	f.Status = models.StatusPending
	return s.find(ctx, f, store.Desc("createdAt"))
}

// ListByDoctorStatus matches status case-insensitively.
func (s *AppointmentService) ListByDoctorStatus(ctx context.Context, doctorID, status string) ([]*models.Appointment, error) {
	f, err := ownerID(doctorID, "doctorId")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(status) == "" {
		return nil, invalid("status: is required")
	}
	f.StatusFold = strings.TrimSpace(status)
	return s.find(ctx, f)
}

// ListActiveForDoctor returns Approved and In Progress appointments in
// calendar order.
func (s *AppointmentService) ListActiveForDoctor(ctx context.Context, doctorID string) ([]*models.Appointment, error) {
	f, err := ownerID(doctorID, "doctorId")
	if err != nil {
		return nil, err
	}
	f.StatusIn = []models.AppointmentStatus{models.StatusApproved, models.StatusInProgress}
	return s.find(ctx, f, store.Asc("date"), store.Asc("time"))
}

func (s *AppointmentService) ListForPatient(ctx context.Context, patientID string) ([]*models.Appointment, error) {
	f, err := ownerID(patientID, "patientId")
	if err != nil {
		return nil, err
	}
	return s.find(ctx, f, store.Desc("createdAt"))
}

func (s *AppointmentService) ListPendingForPatient(ctx context.Context, patientID string) ([]*models.Appointment, error) {
	f, err := ownerID(patientID, "patientId")
	if err != nil {
		return nil, err
	}
	f.Status = models.StatusPending
	return s.find(ctx, f, store.Asc("date"), store.Asc("time"))
}

// BookedSlots lists "date|time" for every appointment the doctor holds,
// whatever its status. Booking does not consult it.
func (s *AppointmentService) BookedSlots(ctx context.Context, doctorID string) ([]string, error) {
	f, err := ownerID(doctorID, "doctorId")
	if err != nil {
		return nil, err
	}
	list, err := s.find(ctx, f)
	if err != nil {
		return nil, err
	}
	slots := make([]string, 0, len(list))
	for _, a := range list {
		slots = append(slots, a.Slot())
	}
	return slots, nil
}
