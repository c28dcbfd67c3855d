package services

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/harentsoaR/medlab-api/internal/models"
	"github.com/harentsoaR/medlab-api/internal/store"
)

type DoctorDirectory interface {
	FindDoctorByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
}

type LabDirectory interface {
	FindLabByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	ListLabs(ctx context.Context) ([]*models.User, error)
}

// UserDirectory answers doctor and lab lookups from the users collection.
// A user with the wrong role is reported as store.ErrNotFound.
type UserDirectory struct {
	users store.UserStore
}

func NewUserDirectory(users store.UserStore) *UserDirectory {
	return &UserDirectory{users: users}
}

func (d *UserDirectory) findWithRole(ctx context.Context, id primitive.ObjectID, role models.Role) (*models.User, error) {
	u, err := d.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != role {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (d *UserDirectory) FindDoctorByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return d.findWithRole(ctx, id, models.RoleDoctor)
}

func (d *UserDirectory) FindLabByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return d.findWithRole(ctx, id, models.RoleLab)
}

func (d *UserDirectory) ListLabs(ctx context.Context) ([]*models.User, error) {
	return d.users.FindByRole(ctx, models.RoleLab)
}
