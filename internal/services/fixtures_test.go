package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/harentsoaR/medlab-api/internal/metrics"
	"github.com/harentsoaR/medlab-api/internal/models"
	"github.com/harentsoaR/medlab-api/internal/store"
)

type sentMail struct {
	To, Subject, Body string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) Sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

// failingLabs simulates an unreachable lab directory.
type failingLabs struct{}

func (failingLabs) FindLabByID(context.Context, primitive.ObjectID) (*models.User, error) {
	return nil, errors.New("connection refused")
}

func (failingLabs) ListLabs(context.Context) ([]*models.User, error) {
	return nil, errors.New("connection refused")
}

type env struct {
	mem          *store.Memory
	mailer       *recordingMailer
	dispatcher   *Dispatcher
	metrics      *metrics.Collector
	attachments  *AttachmentManager
	appointments *AppointmentService
	labTests     *LabTestService

	doctor  *models.User
	patient *models.User
	lab     *models.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop()
	e := &env{
		mem:     store.NewMemory(),
		mailer:  &recordingMailer{},
		metrics: metrics.NewCollector("test"),
	}
	e.dispatcher = NewDispatcher(e.mailer, e.metrics, log, DispatcherOptions{QueueSize: 16, SendTimeout: time.Second})
	t.Cleanup(func() { _ = e.dispatcher.Shutdown(context.Background()) })

	e.doctor = &models.User{FullName: "Rakoto", Email: "doc@example.com", Role: models.RoleDoctor}
	e.patient = &models.User{FullName: "Jane Doe", Email: "jane@example.com", Role: models.RolePatient}
	e.lab = &models.User{FullName: "City Lab", Email: "lab@example.com", Role: models.RoleLab, Tests: []string{"CBC", "Lipid panel"}}
	for _, u := range []*models.User{e.doctor, e.patient, e.lab} {
		require.NoError(t, e.mem.Users.Insert(ctx, u))
	}

	dir := NewUserDirectory(e.mem.Users)
	e.attachments = NewAttachmentManager(e.mem.Appointments, e.mem.LabTests, log)
	e.appointments = NewAppointmentService(e.mem.Appointments, dir, e.attachments, e.dispatcher, e.metrics, log)
	e.labTests = NewLabTestService(e.mem.LabTests, dir, e.attachments, e.metrics, log)
	return e
}

func (e *env) doctorCaller() Caller  { return Caller{ID: e.doctor.ID.Hex(), Role: models.RoleDoctor} }
func (e *env) patientCaller() Caller { return Caller{ID: e.patient.ID.Hex(), Role: models.RolePatient} }
func (e *env) labCaller() Caller     { return Caller{ID: e.lab.ID.Hex(), Role: models.RoleLab} }

// drain waits for every queued notification to be handed to the mailer.
func (e *env) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.dispatcher.Shutdown(ctx))
}

func (e *env) book(t *testing.T, date, clock string) *models.Appointment {
	t.Helper()
	a, err := e.appointments.Create(context.Background(), e.patientCaller(), CreateAppointmentInput{
		DoctorID:    e.doctor.ID.Hex(),
		PatientID:   e.patient.ID.Hex(),
		PatientName: e.patient.FullName,
		Email:       e.patient.Email,
		Date:        date,
		Time:        clock,
		Symptoms:    "headache",
	}, nil)
	require.NoError(t, err)
	return a
}

func (e *env) advance(t *testing.T, id string, statuses ...models.AppointmentStatus) *models.Appointment {
	t.Helper()
	var a *models.Appointment
	for _, s := range statuses {
		in := TransitionInput{Status: string(s)}
		if s == models.StatusCompleted {
			in.Prescription = "Rest"
		}
		var err error
		a, err = e.appointments.Transition(context.Background(), e.doctorCaller(), id, in)
		require.NoError(t, err)
	}
	return a
}

func (e *env) requestTest(t *testing.T) *models.LabTestRequest {
	t.Helper()
	lt, err := e.labTests.CreateRequest(context.Background(), e.patientCaller(), CreateLabTestInput{
		LabID:     e.lab.ID.Hex(),
		PatientID: e.patient.ID.Hex(),
		TestName:  "CBC",
	})
	require.NoError(t, err)
	return lt
}

// observeLogs swaps the service loggers for an in-memory core capturing warnings and above.
func (e *env) observeLogs() *observer.ObservedLogs {
	core, logs := observer.New(zapcore.WarnLevel)
	e.appointments.log = zap.New(core)
	e.labTests.log = zap.New(core)
	return logs
}
