package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/harentsoaR/medlab-api/internal/metrics"
	"github.com/harentsoaR/medlab-api/internal/models"
	"github.com/harentsoaR/medlab-api/internal/services"
	"github.com/harentsoaR/medlab-api/internal/store"
	"github.com/harentsoaR/medlab-api/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.PasswordCost = bcrypt.MinCost
}

type nopMailer struct{}

func (nopMailer) Send(context.Context, string, string, string) error { return nil }

type testServer struct {
	router  *gin.Engine
	mem     *store.Memory
	tokens  *utils.TokenManager
	doctor  *models.User
	patient *models.User
	lab     *models.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zap.NewNop()
	mem := store.NewMemory()
	m := metrics.NewCollector("test")
	tokens, err := utils.NewTokenManager("test-secret", time.Hour)
	require.NoError(t, err)

	dispatcher := services.NewDispatcher(nopMailer{}, m, log, services.DispatcherOptions{QueueSize: 8})
	t.Cleanup(func() { _ = dispatcher.Shutdown(context.Background()) })

	dir := services.NewUserDirectory(mem.Users)
	attachments := services.NewAttachmentManager(mem.Appointments, mem.LabTests, log)
	h := NewHandler(
		services.NewAppointmentService(mem.Appointments, dir, attachments, dispatcher, m, log),
		services.NewLabTestService(mem.LabTests, dir, attachments, m, log),
		mem.Users,
		tokens,
		log,
	)
	r := gin.New()
	r.GET("/health", Health)
	h.RegisterRoutes(r, tokens)

	s := &testServer{router: r, mem: mem, tokens: tokens}
	s.doctor = s.addUser(t, "Rakoto", "doc@example.com", models.RoleDoctor)
	s.patient = s.addUser(t, "Jane Doe", "jane@example.com", models.RolePatient)
	s.lab = s.addUser(t, "City Lab", "lab@example.com", models.RoleLab)
	return s
}

func (s *testServer) addUser(t *testing.T, name, email string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{FullName: name, Email: email, Role: role}
	if role == models.RoleLab {
		u.Tests = []string{"CBC"}
	}
	require.NoError(t, s.mem.Users.Insert(context.Background(), u))
	return u
}

func (s *testServer) token(t *testing.T, u *models.User) string {
	t.Helper()
	tok, err := s.tokens.Generate(u.ID.Hex(), string(u.Role))
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path string, as *models.User, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(t, as))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type formFile struct {
	field, name, contentType string
	data                     []byte
}

func (s *testServer) upload(t *testing.T, path string, as *models.User, fields map[string]string, file *formFile) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.field, file.name))
		hdr.Set("Content-Type", file.contentType)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token(t, as))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) book(t *testing.T, file *formFile) models.Appointment {
	t.Helper()
	w := s.upload(t, "/api/appointments", s.patient, map[string]string{
		"doctorId":    s.doctor.ID.Hex(),
		"patientName": "Jane Doe",
		"email":       "jane@example.com",
		"date":        "2025-03-01",
		"time":        "09:00",
	}, file)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[struct {
		Appointment models.Appointment `json:"appointment"`
	}](t, w).Appointment
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/appointments/pending", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateAppointment_WithDocumentAndViewReport(t *testing.T) {
	s := newTestServer(t)
	scan := []byte{0x89, 'P', 'N', 'G', 0, 1, 2}
	apt := s.book(t, &formFile{field: "document", name: "scan.png", contentType: "image/png", data: scan})

	assert.Equal(t, models.StatusPending, apt.Status)
	assert.Equal(t, s.patient.ID, apt.PatientID)

	w := s.do(t, http.MethodGet, "/api/appointments/"+apt.ID.Hex()+"/report", s.doctor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, scan, w.Body.Bytes())
}

func TestCreateAppointment_ValidationError(t *testing.T) {
	s := newTestServer(t)
	w := s.upload(t, "/api/appointments", s.patient, map[string]string{"date": "2025-03-01"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decode[validationErrorResponse](t, w)
	assert.Equal(t, "validation failed", body.Error)
	assert.NotEmpty(t, body.Fields)
}

func TestAppointmentLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	apt := s.book(t, nil)
	path := "/api/appointments/" + apt.ID.Hex() + "/status"

	w := s.do(t, http.MethodPatch, path, s.patient, gin.H{"status": "Approved"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPatch, path, s.doctor, gin.H{"status": "Completed", "prescription": "Take X"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, status := range []string{"Approved", "In Progress"} {
		w = s.do(t, http.MethodPatch, path, s.doctor, gin.H{"status": status})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPatch, path, s.doctor, gin.H{"status": "Completed"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "prescription")

	w = s.do(t, http.MethodPatch, path, s.doctor, gin.H{
		"status":       "Completed",
		"prescription": "Take X",
		"medicines":    []gin.H{{"name": "X", "dosage": "10mg", "frequency": "1/day", "timing": "morning"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		Appointment models.Appointment `json:"appointment"`
	}](t, w).Appointment
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "Take X", got.Prescription)
	assert.Len(t, got.Medicines, 1)

	w = s.do(t, http.MethodPatch, "/api/appointments/64b7f0c2a1b2c3d4e5f60718/status", s.doctor, gin.H{"status": "Approved"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAppointmentLists(t *testing.T) {
	s := newTestServer(t)
	withReport := s.book(t, &formFile{field: "document", name: "a.pdf", contentType: "application/pdf", data: []byte("%PDF")})
	s.book(t, nil)

	w := s.do(t, http.MethodGet, "/api/appointments/pending", s.doctor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Appointment](t, w), 2)

	w = s.do(t, http.MethodGet, "/api/appointments/status/PENDING", s.doctor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Appointment](t, w), 2)

	w = s.do(t, http.MethodGet, "/api/appointments/my", s.doctor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/appointments/patient/pending", s.patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Appointment](t, w), 2)

	w = s.do(t, http.MethodGet, "/api/appointments/patient/"+s.patient.ID.Hex(), s.doctor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	views := decode[[]struct {
		ID        string `json:"id"`
		ReportURL string `json:"reportUrl"`
	}](t, w)
	require.Len(t, views, 2)
	for _, v := range views {
		if v.ID == withReport.ID.Hex() {
			assert.Equal(t, "/api/appointments/"+v.ID+"/report", v.ReportURL)
		} else {
			assert.Empty(t, v.ReportURL)
		}
	}

	w = s.do(t, http.MethodGet, "/api/appointments/booked-slots/"+s.doctor.ID.Hex(), s.patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"2025-03-01|09:00", "2025-03-01|09:00"}, decode[[]string](t, w))

	w = s.do(t, http.MethodGet, "/api/appointments/pending", s.patient, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUploadReport(t *testing.T) {
	s := newTestServer(t)
	apt := s.book(t, nil)
	path := "/api/appointments/" + apt.ID.Hex() + "/report"

	w := s.do(t, http.MethodGet, path, s.patient, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.upload(t, path, s.doctor, nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.upload(t, path, s.doctor, nil, &formFile{field: "reportFile", name: "r.txt", contentType: "text/plain; charset=utf-8", data: []byte("all good")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, path, s.patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "all good", w.Body.String())
}

func TestLabTestFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/labs", s.patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.User](t, w), 1)

	w = s.do(t, http.MethodGet, "/api/labs/"+s.lab.ID.Hex()+"/tests", s.patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"CBC"}, decode[[]string](t, w))

	w = s.do(t, http.MethodPost, "/api/lab-tests", s.patient, gin.H{"labId": "64b7f0c2a1b2c3d4e5f60718", "testName": "CBC"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/lab-tests", s.patient, gin.H{"labId": s.lab.ID.Hex(), "testName": "CBC"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	test := decode[struct {
		Test models.LabTestRequest `json:"test"`
	}](t, w).Test
	assert.Equal(t, models.LabTestPending, test.Status)
	path := "/api/lab-tests/" + test.ID.Hex()

	w = s.do(t, http.MethodGet, "/api/lab-tests", s.lab, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.LabTestRequest](t, w), 1)

	w = s.do(t, http.MethodPut, path, s.patient, gin.H{"status": "accepted"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPut, path, s.lab, gin.H{"status": "completed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, path, s.lab, gin.H{"status": "Accepted"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.LabTestAccepted, decode[models.LabTestRequest](t, w).Status)

	pdf := []byte("%PDF-1.7 result")
	w = s.upload(t, path+"/result", s.lab, nil, &formFile{field: "file", name: "out.pdf", contentType: "application/pdf", data: pdf})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, path+"/result", s.patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="CBC-result.pdf"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, pdf, w.Body.Bytes())

	w = s.do(t, http.MethodGet, "/api/lab-tests/patient/"+s.patient.ID.Hex(), s.patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]models.LabTestRequest](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, models.LabTestCompleted, list[0].Status)
	assert.NotNil(t, list[0].CompletedAt)
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/auth/register", nil, gin.H{
		"fullName": "Blood Works",
		"email":    "Blood@Example.com",
		"password": "supersecret",
		"role":     "lab",
		"phone":    "+261 34 00 000 00",
		"tests":    []string{"CBC", "HbA1c"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "supersecret")
	assert.NotContains(t, w.Body.String(), "password")

	w = s.do(t, http.MethodPost, "/auth/register", nil, gin.H{
		"fullName": "Dup", "email": "blood@example.com", "password": "supersecret", "phone": "1",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/auth/register", nil, gin.H{
		"fullName": "X", "email": "x@example.com", "password": "supersecret", "phone": "1", "role": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/auth/login", nil, gin.H{"email": "blood@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/auth/login", nil, gin.H{"email": "blood@example.com", "password": "supersecret"})
	require.Equal(t, http.StatusOK, w.Code)
	login := decode[struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}](t, w)
	claims, err := s.tokens.Validate(login.Token)
	require.NoError(t, err)
	assert.Equal(t, "lab", claims.Role)
	assert.Equal(t, []string{"CBC", "HbA1c"}, login.User.Tests)

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Blood Works", decode[models.User](t, rec).FullName)
}

func TestRespondServiceError(t *testing.T) {
	h := &Handler{Log: zap.NewNop()}
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("appointment x: %w", services.ErrNotFound), http.StatusNotFound},
		{&services.ValidationError{Fields: []string{"status: is required"}}, http.StatusBadRequest},
		{fmt.Errorf("Pending -> Completed: %w", services.ErrInvalidTransition), http.StatusBadRequest},
		{services.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("lab lookup: %w", services.ErrUpstream), http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			h.respondServiceError(c, tt.err)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
