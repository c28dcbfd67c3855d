package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type AppointmentStatus string

const (
	StatusPending    AppointmentStatus = "Pending"
	StatusApproved   AppointmentStatus = "Approved"
	StatusRejected   AppointmentStatus = "Rejected"
	StatusInProgress AppointmentStatus = "In Progress"
	StatusCompleted  AppointmentStatus = "Completed"
)

// appointmentTransitions is the allowed-next table. Rejected and Completed
// are terminal and have no entry.
var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:    {StatusApproved, StatusRejected},
	StatusApproved:   {StatusInProgress},
	StatusInProgress: {StatusCompleted},
}

func (s AppointmentStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// CanTransitionTo reports whether next is a legal edge out of s.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	for _, allowed := range appointmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Medicine is one line of a prescription.
type Medicine struct {
	Name      string `bson:"name" json:"name"`
	Dosage    string `bson:"dosage" json:"dosage"`
	Frequency string `bson:"frequency" json:"frequency"`
	Timing    string `bson:"timing" json:"timing"`
}

type Appointment struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DoctorID     primitive.ObjectID `bson:"doctorId" json:"doctorId"`
	PatientID    primitive.ObjectID `bson:"patientId" json:"patientId"`
	PatientName  string             `bson:"patientName" json:"patientName"`
	Email        string             `bson:"email" json:"email"`
	Phone        string             `bson:"phone" json:"phone"`
	Gender       string             `bson:"gender" json:"gender"`
	Date         string             `bson:"date" json:"date"`
	Time         string             `bson:"time" json:"time"`
	Symptoms     string             `bson:"symptoms" json:"symptoms"`
	Status       AppointmentStatus  `bson:"status" json:"status"`
	Prescription string             `bson:"prescription" json:"prescription"`
	Medicines    []Medicine         `bson:"medicines" json:"medicines"`
	ReportFile   *Attachment        `bson:"reportFile,omitempty" json:"reportFile,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
}

// Slot is the "date|time" key shown to patients when picking a time.
func (a *Appointment) Slot() string {
	return a.Date + "|" + a.Time
}
