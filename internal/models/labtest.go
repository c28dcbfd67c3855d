package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type LabTestStatus string

const (
	LabTestPending   LabTestStatus = "pending"
	LabTestAccepted  LabTestStatus = "accepted"
	LabTestRejected  LabTestStatus = "rejected"
	LabTestCompleted LabTestStatus = "completed"
)

var labTestTransitions = map[LabTestStatus][]LabTestStatus{
	LabTestPending:  {LabTestAccepted, LabTestRejected},
	LabTestAccepted: {LabTestCompleted},
}

// ParseLabTestStatus normalizes s case-insensitively. ok is false for values
// outside the four known states.
func ParseLabTestStatus(s string) (LabTestStatus, bool) {
	status := LabTestStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case LabTestPending, LabTestAccepted, LabTestRejected, LabTestCompleted:
		return status, true
	}
	return status, false
}

// Normalized lowercases s; records written by older clients may mix case.
func (s LabTestStatus) Normalized() LabTestStatus {
	return LabTestStatus(strings.ToLower(string(s)))
}

func (s LabTestStatus) CanTransitionTo(next LabTestStatus) bool {
	for _, allowed := range labTestTransitions[s.Normalized()] {
		if allowed == next.Normalized() {
			return true
		}
	}
	return false
}

type LabTestRequest struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PatientID   primitive.ObjectID `bson:"patientId" json:"patientId"`
	LabID       primitive.ObjectID `bson:"labId" json:"labId"`
	TestName    string             `bson:"testName" json:"testName"`
	Description string             `bson:"description" json:"description"`
	Status      LabTestStatus      `bson:"status" json:"status"`
	Result      string             `bson:"result,omitempty" json:"result,omitempty"`
	ResultFile  *Attachment        `bson:"resultFile,omitempty" json:"resultFile,omitempty"`
	CompletedAt *time.Time         `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	RequestedAt time.Time          `bson:"requestedAt" json:"requestedAt"`
}
