package models

import "go.mongodb.org/mongo-driver/bson/primitive"

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleLab     Role = "lab"
)

func (r Role) IsValid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleLab:
		return true
	}
	return false
}

type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName string             `bson:"fullName" json:"fullName"`
	Email    string             `bson:"email" json:"email"`
	Password string             `bson:"password" json:"-"` // Hide from JSON responses
	Role     Role               `bson:"role" json:"role"`
	Phone    string             `bson:"phone" json:"phone"`
	// Tests is the catalog of tests a lab offers. Empty for other roles.
	Tests []string `bson:"tests,omitempty" json:"tests,omitempty"`
}
