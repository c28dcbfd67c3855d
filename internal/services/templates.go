package services

import (
	"bytes"
	"html/template"

	"github.com/harentsoaR/medlab-api/internal/models"
)

const (
	kindBookingReceived = "appointment.booked"
	kindApproved        = "appointment.approved"
	kindRejected        = "appointment.rejected"
	kindCompleted       = "appointment.completed"
)

var mailTemplates = template.Must(template.New("mail").Parse(`
{{define "booked"}}<p>Dear {{.PatientName}},</p>
<p>Your appointment request has been sent to <b>{{.DoctorName}}</b>.</p>
<p><b>Date:</b> {{.Date}} <br><b>Time:</b> {{.Time}}</p>
<p>You will receive another email once the doctor approves or rejects your appointment.</p>{{end}}
{{define "approved"}}<p>Dear {{.PatientName}},</p>
<p>Your appointment on <b>{{.Date}}</b> at <b>{{.Time}}</b> has been approved by the doctor.</p>{{end}}
{{define "rejected"}}<p>Dear {{.PatientName}},</p>
<p>Unfortunately, your appointment on <b>{{.Date}}</b> at <b>{{.Time}}</b> has been rejected by the doctor.</p>{{end}}
{{define "completed"}}<p>Dear {{.PatientName}},</p>
<p>Your appointment on <b>{{.Date}}</b> at <b>{{.Time}}</b> has been completed.</p>
<p><b>Prescription:</b></p>
<p>{{.Prescription}}</p>
<ul>{{range .Medicines}}<li>{{.Name}} - {{.Dosage}}, {{.Frequency}}, {{.Timing}}</li>{{end}}</ul>{{end}}
`))

type mailView struct {
	PatientName  string
	DoctorName   string
	Date         string
	Time         string
	Prescription string
	Medicines    []models.Medicine
}

func render(name string, view mailView) (string, error) {
	var buf bytes.Buffer
	if err := mailTemplates.ExecuteTemplate(&buf, name, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func viewOf(a *models.Appointment) mailView {
	return mailView{
		PatientName:  a.PatientName,
		Date:         a.Date,
		Time:         a.Time,
		Prescription: a.Prescription,
		Medicines:    a.Medicines,
	}
}

func bookingMessage(a *models.Appointment, doctorName string) (Message, error) {
	v := viewOf(a)
	v.DoctorName = doctorName
	body, err := render("booked", v)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Kind:     kindBookingReceived,
		To:       a.Email,
		Subject:  "Appointment Request Sent",
		Body:     body,
		EntityID: a.ID.Hex(),
	}, nil
}

// statusMessage returns ok=false for statuses that send no mail.
func statusMessage(a *models.Appointment) (msg Message, ok bool, err error) {
	var tmpl, kind, subject string
	switch a.Status {
	case models.StatusApproved:
		tmpl, kind, subject = "approved", kindApproved, "Appointment Approved"
	case models.StatusRejected:
		tmpl, kind, subject = "rejected", kindRejected, "Appointment Rejected"
	case models.StatusCompleted:
		tmpl, kind, subject = "completed", kindCompleted, "Appointment Completed"
	default:
		return Message{}, false, nil
	}
	body, err := render(tmpl, viewOf(a))
	if err != nil {
		return Message{}, false, err
	}
	return Message{Kind: kind, To: a.Email, Subject: subject, Body: body, EntityID: a.ID.Hex()}, true, nil
}
