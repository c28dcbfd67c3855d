package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/harentsoaR/medlab-api/internal/metrics"
	"github.com/harentsoaR/medlab-api/internal/models"
	"github.com/harentsoaR/medlab-api/internal/store"
)

type CreateLabTestInput struct {
	LabID       string `json:"labId" validate:"required,mongodb"`
	PatientID   string `json:"patientId" validate:"required,mongodb"`
	TestName    string `json:"testName" validate:"required"`
	Description string `json:"description"`
}

type UpdateLabTestInput struct {
	Status string `json:"status"`
	Result string `json:"result"`
}

type LabTestService struct {
	labTests    store.LabTestStore
	labs        LabDirectory
	attachments *AttachmentManager
	metrics     *metrics.Collector
	log         *zap.Logger
	validate    *validator.Validate
	now         func() time.Time
}

func NewLabTestService(
	labTests store.LabTestStore,
	labs LabDirectory,
	attachments *AttachmentManager,
	m *metrics.Collector,
	log *zap.Logger,
) *LabTestService {
	return &LabTestService{
		labTests:    labTests,
		labs:        labs,
		attachments: attachments,
		metrics:     m,
		log:         log,
		validate:    newValidator(),
		now:         time.Now,
	}
}

func (s *LabTestService) CreateRequest(ctx context.Context, caller Caller, in CreateLabTestInput) (*models.LabTestRequest, error) {
	ctx, span := tracer.Start(ctx, "labtests.CreateRequest")
	defer span.End()

	in.TestName = strings.TrimSpace(in.TestName)
	if err := validateInput(s.validate, in); err != nil {
		return nil, err
	}
	if caller.Role == models.RolePatient && caller.ID != in.PatientID {
		return nil, fmt.Errorf("requesting a test for another patient: %w", ErrForbidden)
	}

	labID, _ := parseID(in.LabID)
	if _, err := s.labs.FindLabByID(ctx, labID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lab %s: %w", in.LabID, ErrNotFound)
		}
		span.RecordError(err)
		s.log.Error("lab lookup failed", zap.Error(err), zap.String("lab_id", in.LabID))
		return nil, fmt.Errorf("lab lookup: %w", ErrUpstream)
	}

	patientID, _ := parseID(in.PatientID)
	t := &models.LabTestRequest{
		PatientID:   patientID,
		LabID:       labID,
		TestName:    in.TestName,
		Description: in.Description,
		Status:      models.LabTestPending,
		RequestedAt: s.now().UTC(),
	}
	if err := s.labTests.Insert(ctx, t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return nil, fmt.Errorf("saving lab test: %w", err)
	}
	s.metrics.LabTestsRequested.Inc()
	s.log.Info("lab test requested",
		zap.String("lab_test_id", t.ID.Hex()),
		zap.String("lab_id", in.LabID),
		zap.String("test_name", t.TestName),
	)
	return t, nil
}

// UpdateStatus applies a status change and/or a textual result. A result
// stamps completedAt whatever the status is, and so does reaching completed
// when no earlier stamp exists.
func (s *LabTestService) UpdateStatus(ctx context.Context, caller Caller, testID string, in UpdateLabTestInput) (*models.LabTestRequest, error) {
	ctx, span := tracer.Start(ctx, "labtests.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("lab_test.id", testID),
		attribute.String("lab_test.requested_status", in.Status),
	)

	t, err := s.load(ctx, testID)
	if err != nil {
		s.log.Warn("lab test update failed", zap.Error(err), zap.String("lab_test_id", testID))
		return nil, err
	}
	if err := s.authorize(caller, t); err != nil {
		return nil, err
	}
	status := strings.TrimSpace(in.Status)
	result := strings.TrimSpace(in.Result)
	if status == "" && result == "" {
		s.log.Warn("empty lab test update", zap.String("lab_test_id", testID))
		return nil, invalid("status: either status or result is required")
	}

	from := t.Status.Normalized()
	changed := false
	if status != "" {
		to, known := models.ParseLabTestStatus(status)
		switch {
		case known && to == from:
		case known && from.CanTransitionTo(to):
			t.Status = to
			if to == models.LabTestCompleted && t.CompletedAt == nil {
				now := s.now().UTC()
				t.CompletedAt = &now
			}
			changed = true
		default:
			s.log.Warn("invalid lab test transition",
				zap.String("lab_test_id", testID),
				zap.String("from", string(from)),
				zap.String("to", status),
			)
			return nil, fmt.Errorf("%s -> %s: %w", from, status, ErrInvalidTransition)
		}
	}
	if result != "" {
		now := s.now().UTC()
		t.Result = result
		t.CompletedAt = &now
		changed = true
	}
	if !changed {
		return t, nil
	}

	if err := s.labTests.Save(ctx, t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		s.log.Error("saving lab test update",
			zap.Error(err),
			zap.String("lab_test_id", testID),
			zap.String("from", string(from)),
			zap.String("to", string(t.Status)),
		)
		return nil, fmt.Errorf("saving lab test: %w", storeErr(err))
	}
	if t.Status != from {
		s.metrics.LabTestTransitions.WithLabelValues(string(from), string(t.Status)).Inc()
	}
	s.log.Info("lab test updated",
		zap.String("lab_test_id", testID),
		zap.String("from", string(from)),
		zap.String("to", string(t.Status)),
		zap.Bool("result_set", result != ""),
	)
	return t, nil
}

// UploadResult stores the result file and completes the test, whatever its
// current status.
func (s *LabTestService) UploadResult(ctx context.Context, caller Caller, testID string, blob *models.Attachment) (*models.LabTestRequest, error) {
	ctx, span := tracer.Start(ctx, "labtests.UploadResult")
	defer span.End()
	span.SetAttributes(attribute.String("lab_test.id", testID))

	t, err := s.load(ctx, testID)
	if err != nil {
		s.log.Warn("lab result upload failed", zap.Error(err), zap.String("lab_test_id", testID))
		return nil, err
	}
	if blob.IsEmpty() {
		s.log.Warn("empty lab result upload", zap.String("lab_test_id", testID))
		return nil, invalid("file: must not be empty")
	}
	if err := s.authorize(caller, t); err != nil {
		return nil, err
	}

	from := t.Status.Normalized()
	if err := s.attachments.saveLabResult(ctx, t, blob, s.now()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		s.log.Error("saving lab result", zap.Error(err), zap.String("lab_test_id", testID))
		return nil, err
	}
	if from != models.LabTestCompleted {
		s.metrics.LabTestTransitions.WithLabelValues(string(from), string(models.LabTestCompleted)).Inc()
	}
	s.log.Info("lab result uploaded",
		zap.String("lab_test_id", testID),
		zap.String("from", string(from)),
		zap.String("content_type", blob.ContentType),
		zap.Int("bytes", len(blob.Data)),
	)
	return t, nil
}

func (s *LabTestService) Result(ctx context.Context, testID string) (*models.Attachment, error) {
	return s.attachments.Retrieve(ctx, KindLabResult, testID)
}

func (s *LabTestService) authorize(caller Caller, t *models.LabTestRequest) error {
	if caller.Role != models.RoleLab || caller.ID != t.LabID.Hex() {
		s.log.Warn("lab test update refused",
			zap.String("lab_test_id", t.ID.Hex()),
			zap.String("caller_id", caller.ID),
		)
		return fmt.Errorf("lab test %s: %w", t.ID.Hex(), ErrForbidden)
	}
	return nil
}

func (s *LabTestService) load(ctx context.Context, testID string) (*models.LabTestRequest, error) {
	id, ok := parseID(testID)
	if !ok {
		return nil, fmt.Errorf("lab test %q: %w", testID, ErrNotFound)
	}
	t, err := s.labTests.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lab test %s: %w", testID, storeErr(err))
	}
	return t, nil
}

func (s *LabTestService) find(ctx context.Context, f store.LabTestFilter) ([]*models.LabTestRequest, error) {
	list, err := s.labTests.Find(ctx, f, store.Desc("requestedAt"))
	if err != nil {
		return nil, fmt.Errorf("listing lab tests: %w", err)
	}
	if list == nil {
		list = []*models.LabTestRequest{}
	}
	return list, nil
}

// ListForLab returns the lab's incoming requests, newest first.
func (s *LabTestService) ListForLab(ctx context.Context, labID string) ([]*models.LabTestRequest, error) {
	id, ok := parseID(labID)
	if !ok {
		return nil, invalid("labId: must be a valid id")
	}
	return s.find(ctx, store.LabTestFilter{LabID: id})
}

func (s *LabTestService) ListForPatient(ctx context.Context, patientID string) ([]*models.LabTestRequest, error) {
	id, ok := parseID(patientID)
	if !ok {
		return nil, invalid("patientId: must be a valid id")
	}
	return s.find(ctx, store.LabTestFilter{PatientID: id})
}

func (s *LabTestService) ListLabs(ctx context.Context) ([]*models.User, error) {
	labs, err := s.labs.ListLabs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing labs: %w", err)
	}
	if labs == nil {
		labs = []*models.User{}
	}
	return labs, nil
}

// LabCatalog returns the test names a lab offers.
func (s *LabTestService) LabCatalog(ctx context.Context, labID string) ([]string, error) {
	id, ok := parseID(labID)
	if !ok {
		return nil, fmt.Errorf("lab %q: %w", labID, ErrNotFound)
	}
	lab, err := s.labs.FindLabByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lab %s: %w", labID, storeErr(err))
	}
	if lab.Tests == nil {
		return []string{}, nil
	}
	return lab.Tests, nil
}
