package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/healthcampaign/triage/internal/config"
	"github.com/healthcampaign/triage/internal/domain/triage"
	"github.com/healthcampaign/triage/internal/platform/notification"
)

// notificationAlerter sends the HIGH priority templates to the on-call
// email address and phone.
type notificationAlerter struct {
	manager *notification.Manager
	email   string
	phone   string
}

func newAlerter(cfg *config.Config, mgr *notification.Manager) *notificationAlerter {
	if cfg.AlertEmail == "" && cfg.AlertPhone == "" {
		return nil
	}
	return &notificationAlerter{manager: mgr, email: cfg.AlertEmail, phone: cfg.AlertPhone}
}

func (a *notificationAlerter) AlertHighPriority(ctx context.Context, rec *triage.Record) error {
	data := alertData(rec)
	var errs []error
	if a.email != "" {
		if _, err := a.manager.SendFromTemplate(ctx, notification.TemplateHighPriority, data, a.email); err != nil {
			errs = append(errs, fmt.Errorf("email alert: %w", err))
		}
	}
	if a.phone != "" {
		if _, err := a.manager.SendFromTemplate(ctx, notification.TemplateHighPrioritySMS, data, a.phone); err != nil {
			errs = append(errs, fmt.Errorf("sms alert: %w", err))
		}
	}
	return errors.Join(errs...)
}

func alertData(rec *triage.Record) map[string]string {
	triagedBy := "unknown"
	if rec.TriagedBy != nil && *rec.TriagedBy != "" {
		triagedBy = *rec.TriagedBy
	}
	return map[string]string{
		"record_id":                 rec.ID.String(),
		"patient_id":                rec.PatientID.String(),
		"priority_level":            string(rec.PriorityLevel),
		"risk_factor_count":         strconv.Itoa(rec.RiskFactorCount),
		"cardiovascular_risk_score": strconv.FormatFloat(rec.CardiovascularRiskScore, 'f', -1, 64),
		"bmi":                       strconv.FormatFloat(rec.BMI, 'f', 2, 64),
		"triaged_by":                triagedBy,
		"created_at":                rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}
