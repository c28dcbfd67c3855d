package store

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/harentsoaR/medlab-api/internal/models"
)

// Memory is a process-local store. Records are copied on the way in and out
// so callers never share state with the store, matching the Mongo behavior.
type Memory struct {
	Appointments *MemoryAppointments
	LabTests     *MemoryLabTests
	Users        *MemoryUsers
}

func NewMemory() *Memory {
	return &Memory{
		Appointments: &MemoryAppointments{items: make(map[primitive.ObjectID]*models.Appointment)},
		LabTests:     &MemoryLabTests{items: make(map[primitive.ObjectID]*models.LabTestRequest)},
		Users:        &MemoryUsers{items: make(map[primitive.ObjectID]*models.User)},
	}
}

func cloneAttachment(a *models.Attachment) *models.Attachment {
	if a == nil {
		return nil
	}
	c := *a
	c.Data = slices.Clone(a.Data)
	return &c
}

func cloneAppointment(a *models.Appointment) *models.Appointment {
	c := *a
	c.Medicines = slices.Clone(a.Medicines)
	c.ReportFile = cloneAttachment(a.ReportFile)
	return &c
}

func cloneLabTest(t *models.LabTestRequest) *models.LabTestRequest {
	c := *t
	c.ResultFile = cloneAttachment(t.ResultFile)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.Tests = slices.Clone(u.Tests)
	return &c
}

// fieldGetter extracts a sortable value; ok is false for unknown fields,
// which are skipped.
type fieldGetter[T any] func(item *T, field string) (string, bool)

func sortItems[T any](items []*T, sort []Sort, get fieldGetter[T]) {
	slices.SortStableFunc(items, func(a, b *T) int {
		for _, s := range sort {
			av, ok := get(a, s.Field)
			if !ok {
				continue
			}
			bv, _ := get(b, s.Field)
			c := cmp.Compare(av, bv)
			if s.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

// Fixed width so UTC timestamps order correctly as strings.
const sortTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func appointmentField(a *models.Appointment, field string) (string, bool) {
	switch field {
	case "createdAt":
		return a.CreatedAt.UTC().Format(sortTimeLayout), true
	case "date":
		return a.Date, true
	case "time":
		return a.Time, true
	case "status":
		return string(a.Status), true
	}
	return "", false
}

func labTestField(t *models.LabTestRequest, field string) (string, bool) {
	switch field {
	case "requestedAt":
		return t.RequestedAt.UTC().Format(sortTimeLayout), true
	case "testName":
		return t.TestName, true
	}
	return "", false
}

func userField(u *models.User, field string) (string, bool) {
	switch field {
	case "fullName":
		return u.FullName, true
	case "email":
		return u.Email, true
	}
	return "", false
}

type MemoryAppointments struct {
	mu    sync.RWMutex
	items map[primitive.ObjectID]*models.Appointment
}

func (s *MemoryAppointments) FindByID(_ context.Context, id primitive.ObjectID) (*models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAppointment(a), nil
}

func (s *MemoryAppointments) Insert(_ context.Context, a *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	if _, exists := s.items[a.ID]; exists {
		return ErrDuplicate
	}
	s.items[a.ID] = cloneAppointment(a)
	return nil
}

func (s *MemoryAppointments) Save(_ context.Context, a *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[a.ID]; !ok {
		return ErrNotFound
	}
	s.items[a.ID] = cloneAppointment(a)
	return nil
}

func (s *MemoryAppointments) Find(_ context.Context, f AppointmentFilter, sort ...Sort) ([]*models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Appointment, 0)
	for _, a := range s.items {
		if matchAppointment(a, f) {
			out = append(out, cloneAppointment(a))
		}
	}
	sortItems(out, sort, appointmentField)
	return out, nil
}

func matchAppointment(a *models.Appointment, f AppointmentFilter) bool {
	if !f.DoctorID.IsZero() && a.DoctorID != f.DoctorID {
		return false
	}
	if !f.PatientID.IsZero() && a.PatientID != f.PatientID {
		return false
	}
	switch {
	case f.Status != "":
		return a.Status == f.Status
	case f.StatusFold != "":
		return strings.EqualFold(string(a.Status), f.StatusFold)
	case len(f.StatusIn) > 0:
		return slices.Contains(f.StatusIn, a.Status)
	}
	return true
}

type MemoryLabTests struct {
	mu    sync.RWMutex
	items map[primitive.ObjectID]*models.LabTestRequest
}

func (s *MemoryLabTests) FindByID(_ context.Context, id primitive.ObjectID) (*models.LabTestRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneLabTest(t), nil
}

func (s *MemoryLabTests) Insert(_ context.Context, t *models.LabTestRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	if _, exists := s.items[t.ID]; exists {
		return ErrDuplicate
	}
	s.items[t.ID] = cloneLabTest(t)
	return nil
}

func (s *MemoryLabTests) Save(_ context.Context, t *models.LabTestRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[t.ID]; !ok {
		return ErrNotFound
	}
	s.items[t.ID] = cloneLabTest(t)
	return nil
}

func (s *MemoryLabTests) Find(_ context.Context, f LabTestFilter, sort ...Sort) ([]*models.LabTestRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.LabTestRequest, 0)
	for _, t := range s.items {
		if !f.PatientID.IsZero() && t.PatientID != f.PatientID {
			continue
		}
		if !f.LabID.IsZero() && t.LabID != f.LabID {
			continue
		}
		out = append(out, cloneLabTest(t))
	}
	sortItems(out, sort, labTestField)
	return out, nil
}

type MemoryUsers struct {
	mu    sync.RWMutex
	items map[primitive.ObjectID]*models.User
}

func (s *MemoryUsers) FindByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.items {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryUsers) FindByRole(_ context.Context, role models.Role) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.User, 0)
	for _, u := range s.items {
		if u.Role == role {
			out = append(out, cloneUser(u))
		}
	}
	sortItems(out, []Sort{Asc("fullName")}, userField)
	return out, nil
}

func (s *MemoryUsers) Insert(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.Email == u.Email {
			return ErrDuplicate
		}
	}
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	s.items[u.ID] = cloneUser(u)
	return nil
}
