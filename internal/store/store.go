// Package store holds the persistence contracts for appointments, lab test
// requests and users, with a MongoDB implementation for production and an
// in-memory one for tests and local runs.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/harentsoaR/medlab-api/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Sort orders query results by a document field name ("createdAt", "date",
// "time", "requestedAt"). Multiple Sort values apply left to right.
type Sort struct {
	Field string
	Desc  bool
}

func Asc(field string) Sort  { return Sort{Field: field} }
func Desc(field string) Sort { return Sort{Field: field, Desc: true} }

// AppointmentFilter is a conjunction; zero-valued fields are ignored.
type AppointmentFilter struct {
	DoctorID  primitive.ObjectID
	PatientID primitive.ObjectID
	Status    models.AppointmentStatus
	// StatusFold matches the whole status case-insensitively.
	StatusFold string
	StatusIn   []models.AppointmentStatus
}

type LabTestFilter struct {
	PatientID primitive.ObjectID
	LabID     primitive.ObjectID
}

type AppointmentStore interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Appointment, error)
	// Insert assigns an id when the record has none.
	Insert(ctx context.Context, a *models.Appointment) error
	// Save replaces the whole stored record.
	Save(ctx context.Context, a *models.Appointment) error
	Find(ctx context.Context, f AppointmentFilter, sort ...Sort) ([]*models.Appointment, error)
}

type LabTestStore interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.LabTestRequest, error)
	Insert(ctx context.Context, t *models.LabTestRequest) error
	Save(ctx context.Context, t *models.LabTestRequest) error
	Find(ctx context.Context, f LabTestFilter, sort ...Sort) ([]*models.LabTestRequest, error)
}

type UserStore interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByRole(ctx context.Context, role models.Role) ([]*models.User, error)
	// Insert returns ErrDuplicate when the email is already registered.
	Insert(ctx context.Context, u *models.User) error
}
