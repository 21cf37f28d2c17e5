package triage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthcampaign/triage/internal/platform/metrics"
)

// Alerter is notified about records that scored HIGH.
type Alerter interface {
	AlertHighPriority(ctx context.Context, rec *Record) error
}

type Service struct {
	repo    Repository
	alerter Alerter
	logger  zerolog.Logger
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, logger: zerolog.Nop()}
}

// SetAlerter attaches an optional Alerter to the service.
func (s *Service) SetAlerter(a Alerter) {
	s.alerter = a
}

// SetLogger replaces the service logger (a no-op logger by default).
func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l
}

// Preview scores in without persisting anything.
func (s *Service) Preview(in Input) (*Result, error) {
	res, err := Score(in)
	observe(res, err)
	return res, err
}

// Assess scores the record's input, stores the record with its result and
// raises an alert for HIGH priority. Alert failures are logged only.
func (s *Service) Assess(ctx context.Context, rec *Record) error {
	if rec.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	res, err := Score(rec.Input)
	observe(res, err)
	if err != nil {
		return err
	}
	rec.Result = *res

	if err := s.repo.Create(ctx, rec); err != nil {
		return fmt.Errorf("store triage record: %w", err)
	}

	s.logger.Info().
		Str("triage_id", rec.ID.String()).
		Str("patient_id", rec.PatientID.String()).
		Str("priority", string(rec.PriorityLevel)).
		Int("risk_factors", rec.RiskFactorCount).
		Msg("triage assessed")

	if rec.PriorityLevel == PriorityHigh && s.alerter != nil {
		err := s.alerter.AlertHighPriority(ctx, rec)
		metrics.RecordAlert(err == nil)
		if err != nil {
			s.logger.Error().Err(err).Str("triage_id", rec.ID.String()).Msg("high priority alert failed")
		}
	}
	return nil
}

func observe(res *Result, err error) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		recordRejected(ve)
		return
	}
	if res != nil {
		metrics.RecordTriageScored(string(res.PriorityLevel), res.RiskFactorCount)
	}
}

func recordRejected(ve *ValidationError) {
	fields := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		fields = append(fields, f.Field)
	}
	metrics.RecordTriageRejected(fields...)
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListRecords(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListRecordsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) SearchRecords(ctx context.Context, params map[string]string, limit, offset int) ([]*Record, int, error) {
	if p, ok := params["priority_level"]; ok && !Priority(p).Valid() {
		return nil, 0, fmt.Errorf("invalid priority_level %q", p)
	}
	return s.repo.Search(ctx, params, limit, offset)
}

// Queue returns the attention queue, highest priority first.
func (s *Service) Queue(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	return s.repo.Queue(ctx, limit, offset)
}
