package triage

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// MaxRiskFactors is the length of the fixed risk factor list.
const MaxRiskFactors = 10

// Priority is the triage urgency bucket.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Rank orders priorities so that LOW < MEDIUM < HIGH. Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Valid reports whether p is one of the three known buckets.
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Input holds the vitals and risk flags collected at intake.
type Input struct {
	Age                 int     `db:"age" json:"age"`
	SystolicPressure    int     `db:"systolic_pressure" json:"systolic_pressure"`
	DiastolicPressure   int     `db:"diastolic_pressure" json:"diastolic_pressure"`
	TotalCholesterol    int     `db:"total_cholesterol" json:"total_cholesterol"`
	HDL                 int     `db:"hdl" json:"hdl"`
	WeightKg            float64 `db:"weight_kg" json:"weight_kg"`
	HeightCm            float64 `db:"height_cm" json:"height_cm"`
	Smoker              bool    `db:"smoker" json:"smoker"`
	HeavyAlcoholUse     bool    `db:"heavy_alcohol_use" json:"heavy_alcohol_use"`
	Diabetes            bool    `db:"diabetes" json:"diabetes"`
	ChestPain           bool    `db:"chest_pain" json:"chest_pain"`
	RadiatingPain       bool    `db:"radiating_pain" json:"radiating_pain"`
	Sweating            bool    `db:"sweating" json:"sweating"`
	Nausea              bool    `db:"nausea" json:"nausea"`
	PriorCardiacHistory bool    `db:"prior_cardiac_history" json:"prior_cardiac_history"`
	Notes               *string `db:"notes" json:"notes,omitempty"`
}

// Result is the derived outcome of scoring one Input.
type Result struct {
	BMI                     float64  `db:"bmi" json:"bmi"`
	RiskFactorCount         int      `db:"risk_factor_count" json:"risk_factor_count"`
	CardiovascularRiskScore float64  `db:"cardiovascular_risk_score" json:"cardiovascular_risk_score"`
	PriorityLevel           Priority `db:"priority_level" json:"priority_level"`
}

// Record maps to the triage_record table: the submitted input and its
// result stored side by side.
type Record struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	PatientID  uuid.UUID  `db:"patient_id" json:"patient_id"`
	CampaignID *uuid.UUID `db:"campaign_id" json:"campaign_id,omitempty"`
	TriagedBy  *string    `db:"triaged_by" json:"triaged_by,omitempty"`
	Input
	Result
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// InputRequest is the wire form of Input. Numeric fields are pointers so a
// missing value can be told apart from zero.
type InputRequest struct {
	Age                 *int     `json:"age"`
	SystolicPressure    *int     `json:"systolic_pressure"`
	DiastolicPressure   *int     `json:"diastolic_pressure"`
	TotalCholesterol    *int     `json:"total_cholesterol"`
	HDL                 *int     `json:"hdl"`
	WeightKg            *float64 `json:"weight_kg"`
	HeightCm            *float64 `json:"height_cm"`
	Smoker              bool     `json:"smoker"`
	HeavyAlcoholUse     bool     `json:"heavy_alcohol_use"`
	Diabetes            bool     `json:"diabetes"`
	ChestPain           bool     `json:"chest_pain"`
	RadiatingPain       bool     `json:"radiating_pain"`
	Sweating            bool     `json:"sweating"`
	Nausea              bool     `json:"nausea"`
	PriorCardiacHistory bool     `json:"prior_cardiac_history"`
	Notes               *string  `json:"notes,omitempty"`
}

// ToInput converts the request into an Input. Missing numeric fields and
// out-of-range values are reported together in one *ValidationError.
func (r *InputRequest) ToInput() (Input, error) {
	in := Input{
		Smoker:              r.Smoker,
		HeavyAlcoholUse:     r.HeavyAlcoholUse,
		Diabetes:            r.Diabetes,
		ChestPain:           r.ChestPain,
		RadiatingPain:       r.RadiatingPain,
		Sweating:            r.Sweating,
		Nausea:              r.Nausea,
		PriorCardiacHistory: r.PriorCardiacHistory,
		Notes:               r.Notes,
	}

	missing := map[string]bool{}
	setInt := func(field string, src *int, dst *int) {
		if src == nil {
			missing[field] = true
			return
		}
		*dst = *src
	}
	setFloat := func(field string, src *float64, dst *float64) {
		if src == nil {
			missing[field] = true
			return
		}
		*dst = *src
	}
	setInt("age", r.Age, &in.Age)
	setInt("systolic_pressure", r.SystolicPressure, &in.SystolicPressure)
	setInt("diastolic_pressure", r.DiastolicPressure, &in.DiastolicPressure)
	setInt("total_cholesterol", r.TotalCholesterol, &in.TotalCholesterol)
	setInt("hdl", r.HDL, &in.HDL)
	setFloat("weight_kg", r.WeightKg, &in.WeightKg)
	setFloat("height_cm", r.HeightCm, &in.HeightCm)

	var ve ValidationError
	for _, b := range bounds {
		if missing[b.field] {
			ve.Fields = append(ve.Fields, FieldError{Field: b.field, Message: "is required"})
			continue
		}
		if fe := b.check(in); fe != nil {
			ve.Fields = append(ve.Fields, *fe)
		}
	}
	if len(ve.Fields) > 0 {
		return in, &ve
	}
	return in, nil
}

// RecordRequest is the body accepted when creating a triage record.
type RecordRequest struct {
	PatientID  uuid.UUID  `json:"patient_id"`
	CampaignID *uuid.UUID `json:"campaign_id,omitempty"`
	InputRequest
}

// SortByPriority orders records for the attention queue: higher priority
// first, then more risk factors, then the oldest record.
func SortByPriority(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if ra, rb := a.PriorityLevel.Rank(), b.PriorityLevel.Rank(); ra != rb {
			return ra > rb
		}
		if a.RiskFactorCount != b.RiskFactorCount {
			return a.RiskFactorCount > b.RiskFactorCount
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
