package services

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/harentsoaR/medlab-api/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
	ErrForbidden         = errors.New("forbidden: caller does not own this record")
	ErrUpstream          = errors.New("upstream service unavailable")
)

// ValidationError lists the offending fields. It matches ErrValidation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(fields ...string) error {
	return &ValidationError{Fields: fields}
}

// Caller is the identity the auth layer resolved for a request.
type Caller struct {
	ID   string
	Role models.Role
}

// parseID treats a malformed id like an unknown one: nothing can exist under it.
func parseID(id string) (primitive.ObjectID, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, false
	}
	return oid, true
}
