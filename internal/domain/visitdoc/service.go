package visitdoc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nidaan/triage/internal/platform/blobstore"
	"github.com/nidaan/triage/internal/platform/queue"
)

var ErrPatientRequired = errors.New("patient_id is required")

const defaultLanguage = "hi-IN"

// Enqueuer accepts pipeline jobs without blocking. *queue.Queue satisfies it.
type Enqueuer interface {
	Enqueue(j queue.Job) bool
}

type Service struct {
	visits   VisitRepository
	blobs    blobstore.BlobStore
	pipeline *Pipeline
	jobs     Enqueuer
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(visits VisitRepository, blobs blobstore.BlobStore, pipeline *Pipeline, jobs Enqueuer, logger zerolog.Logger) *Service {
	return &Service{
		visits:   visits,
		blobs:    blobs,
		pipeline: pipeline,
		jobs:     jobs,
		logger:   logger.With().Str("component", "documentation").Logger(),
		now:      time.Now,
	}
}

// CreateVisit opens a visit in PENDING.
func (s *Service) CreateVisit(ctx context.Context, clinicID string, req CreateRequest) (*Visit, error) {
	if strings.TrimSpace(req.PatientRef) == "" {
		return nil, ErrPatientRequired
	}
	now := s.now().UTC()
	v := &Visit{
		ID:            uuid.New().String(),
		ClinicID:      clinicID,
		PatientRef:    strings.TrimSpace(req.PatientRef),
		DoctorID:      req.DoctorID,
		Language:      req.Language,
		PatientAge:    req.PatientAge,
		PatientGender: req.PatientGender,
		Status:        StatePending,
		History:       []Transition{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if v.Language == "" {
		v.Language = defaultLanguage
	}
	if v.PatientAge <= 0 {
		v.PatientAge = defaultAge
	}
	if v.PatientGender == "" {
		v.PatientGender = defaultGender
	}
	if err := s.visits.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("create visit: %w", err)
	}
	return v, nil
}

// AttachAudio stores the recording and starts processing it.
func (s *Service) AttachAudio(ctx context.Context, clinicID, id, fileName, contentType string, content io.Reader) (*Visit, error) {
	v, err := s.Get(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if v.Status.Terminal() {
		return v, ErrVisitFinished
	}
	if v.Status != StatePending {
		return v, fmt.Errorf("%w: visit is %s", ErrInvalidTransition, v.Status)
	}
	meta, err := s.blobs.Put(ctx, blobstore.BlobMetadata{
		OwnerID:     v.PatientRef,
		ClinicID:    v.ClinicID,
		FileName:    fileName,
		ContentType: contentType,
		Category:    blobstore.CategoryVisitAudio,
	}, content)
	if err != nil {
		return nil, err
	}
	return s.StartProcessing(ctx, clinicID, id, meta.ID)
}

// StartProcessing moves the visit to PROCESSING with audioRef attached and
// hands it to the worker pool. A full pool fails the visit at once.
func (s *Service) StartProcessing(ctx context.Context, clinicID, id, audioRef string) (*Visit, error) {
	if strings.TrimSpace(audioRef) == "" {
		return nil, ErrNoAudio
	}
	meta, err := s.blobs.GetMetadata(ctx, audioRef)
	if err != nil {
		return nil, err
	}

	v, err := s.visits.Mutate(ctx, id, func(v *Visit) error {
		if v.ClinicID != clinicID {
			return ErrNotFound
		}
		if v.Status.Terminal() {
			return ErrVisitFinished
		}
		if meta.ClinicID != "" && meta.ClinicID != v.ClinicID {
			return blobstore.ErrBlobNotFound
		}
		now := s.now().UTC()
		if _, err := v.Advance(StateProcessing, now); err != nil {
			return err
		}
		v.AudioRef = audioRef
		v.ProcessingStartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.pipeline.emitStatus(v)

	ok := s.jobs.Enqueue(queue.Job{
		ID:     v.ID,
		Source: "documentation",
		Work: func(ctx context.Context) error {
			// Runs are never cut short; only the collaborator calls carry deadlines.
			return s.pipeline.Process(context.WithoutCancel(ctx), id)
		},
	})
	if !ok {
		failed := s.pipeline.fail(ctx, id, ErrQueueFull)
		if failed != nil {
			v = failed
		}
		return v, ErrQueueFull
	}
	s.logger.Info().Str("visit_id", v.ID).Str("audio_ref", audioRef).Msg("visit queued for processing")
	return v, nil
}

// Get returns the visit when it belongs to clinicID. Visits of other clinics
// are reported as not found.
func (s *Service) Get(ctx context.Context, clinicID, id string) (*Visit, error) {
	v, err := s.visits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.ClinicID != clinicID {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *Service) List(ctx context.Context, clinicID string, limit, offset int) ([]*Visit, int, error) {
	return s.visits.ListByClinic(ctx, clinicID, limit, offset)
}

// Status reports the progress of a visit.
func (s *Service) Status(ctx context.Context, clinicID, id string) (StatusView, error) {
	v, err := s.Get(ctx, clinicID, id)
	if err != nil {
		return StatusView{}, err
	}
	return v.View(), nil
}
