package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/harentsoaR/medlab-api/internal/models"
	"github.com/harentsoaR/medlab-api/internal/store"
)

// AttachmentKind names the record field a blob is bound to.
type AttachmentKind string

const (
	KindAppointmentReport AttachmentKind = "appointment-report"
	KindLabResult         AttachmentKind = "lab-result"
)

// AttachmentManager stores and serves the inline files on appointments and
// lab test requests. Writes overwrite the whole field. Storing a lab result
// always completes the test.
type AttachmentManager struct {
	appointments store.AppointmentStore
	labTests     store.LabTestStore
	log          *zap.Logger
	now          func() time.Time
}

func NewAttachmentManager(appointments store.AppointmentStore, labTests store.LabTestStore, log *zap.Logger) *AttachmentManager {
	return &AttachmentManager{appointments: appointments, labTests: labTests, log: log, now: time.Now}
}

func (m *AttachmentManager) Attach(ctx context.Context, kind AttachmentKind, entityID string, blob *models.Attachment) error {
	ctx, span := tracer.Start(ctx, "attachments.Attach")
	defer span.End()
	span.SetAttributes(attribute.String("attachment.kind", string(kind)), attribute.String("entity.id", entityID))

	if blob.IsEmpty() {
		return invalid("file: must not be empty")
	}
	id, ok := parseID(entityID)
	if !ok {
		return ErrNotFound
	}

	switch kind {
	case KindAppointmentReport:
		a, err := m.appointments.FindByID(ctx, id)
		if err != nil {
			return storeErr(err)
		}
		a.ReportFile = copyBlob(blob)
		if err := m.appointments.Save(ctx, a); err != nil {
			return fmt.Errorf("saving report: %w", storeErr(err))
		}
	case KindLabResult:
		t, err := m.labTests.FindByID(ctx, id)
		if err != nil {
			return storeErr(err)
		}
		if err := m.saveLabResult(ctx, t, blob, m.now()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown attachment kind %q", kind)
	}

	m.log.Info("attachment stored",
		zap.String("kind", string(kind)),
		zap.String("entity_id", entityID),
		zap.String("content_type", blob.ContentType),
		zap.Int("bytes", len(blob.Data)),
	)
	return nil
}

// saveLabResult binds blob to t, marks it completed and stamps completedAt
// with at. t is updated in place.
func (m *AttachmentManager) saveLabResult(ctx context.Context, t *models.LabTestRequest, blob *models.Attachment, at time.Time) error {
	completedAt := at.UTC()
	t.ResultFile = copyBlob(blob)
	t.Status = models.LabTestCompleted
	t.CompletedAt = &completedAt
	if err := m.labTests.Save(ctx, t); err != nil {
		return fmt.Errorf("saving result file: %w", storeErr(err))
	}
	return nil
}

// Retrieve returns the stored blob. Lab results are always named
// "<testName>-result.pdf" for download.
func (m *AttachmentManager) Retrieve(ctx context.Context, kind AttachmentKind, entityID string) (*models.Attachment, error) {
	id, ok := parseID(entityID)
	if !ok {
		return nil, ErrNotFound
	}

	switch kind {
	case KindAppointmentReport:
		a, err := m.appointments.FindByID(ctx, id)
		if err != nil {
			return nil, storeErr(err)
		}
		if a.ReportFile.IsEmpty() {
			return nil, fmt.Errorf("report: %w", ErrNotFound)
		}
		return a.ReportFile, nil
	case KindLabResult:
		t, err := m.labTests.FindByID(ctx, id)
		if err != nil {
			return nil, storeErr(err)
		}
		if t.ResultFile.IsEmpty() {
			return nil, fmt.Errorf("result file: %w", ErrNotFound)
		}
		blob := *t.ResultFile
		blob.Filename = t.TestName + "-result.pdf"
		return &blob, nil
	}
	return nil, fmt.Errorf("unknown attachment kind %q", kind)
}

func copyBlob(b *models.Attachment) *models.Attachment {
	return &models.Attachment{
		Data:        append([]byte(nil), b.Data...),
		ContentType: b.ContentType,
		Filename:    b.Filename,
	}
}

// storeErr maps store.ErrNotFound onto the service sentinel.
func storeErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
