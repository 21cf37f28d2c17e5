package triage

import (
	"fmt"
	"math"
	"strings"
)

// FieldError describes one input field that failed validation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field violation found in a single pass.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether field is among the violations.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

type bound struct {
	field    string
	min, max float64
	value    func(Input) float64
}

// bounds lists the clinical range of every numeric input, in report order.
var bounds = []bound{
	{"age", 1, 120, func(in Input) float64 { return float64(in.Age) }},
	{"systolic_pressure", 60, 250, func(in Input) float64 { return float64(in.SystolicPressure) }},
	{"diastolic_pressure", 40, 150, func(in Input) float64 { return float64(in.DiastolicPressure) }},
	{"total_cholesterol", 50, 500, func(in Input) float64 { return float64(in.TotalCholesterol) }},
	{"hdl", 10, 120, func(in Input) float64 { return float64(in.HDL) }},
	{"weight_kg", 20, 300, func(in Input) float64 { return in.WeightKg }},
	{"height_cm", 50, 250, func(in Input) float64 { return in.HeightCm }},
}

// Validate checks every numeric field against its bound and returns a
// *ValidationError listing all violations, or nil.
func Validate(in Input) error {
	var ve ValidationError
	for _, b := range bounds {
		if fe := b.check(in); fe != nil {
			ve.Fields = append(ve.Fields, *fe)
		}
	}
	if len(ve.Fields) > 0 {
		return &ve
	}
	return nil
}

func (b bound) check(in Input) *FieldError {
	v := b.value(in)
	if math.IsNaN(v) || v < b.min || v > b.max {
		return &FieldError{
			Field:   b.field,
			Message: fmt.Sprintf("must be between %s and %s", formatBound(b.min), formatBound(b.max)),
		}
	}
	return nil
}

func formatBound(v float64) string {
	return fmt.Sprintf("%g", v)
}

// Score validates in and derives its BMI, risk factor count, risk score and
// priority. It has no side effects.
func Score(in Input) (*Result, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}

	h := in.HeightCm / 100
	bmi := roundHalfUp(in.WeightKg/(h*h), 2)

	factors := [MaxRiskFactors]bool{
		in.Smoker,
		in.HeavyAlcoholUse,
		in.Diabetes,
		in.ChestPain,
		in.PriorCardiacHistory,
		in.SystolicPressure > 140,
		in.DiastolicPressure > 90,
		in.TotalCholesterol > 240,
		in.HDL < 40,
		bmi > 30,
	}
	count := 0
	for _, f := range factors {
		if f {
			count++
		}
	}

	return &Result{
		BMI:                     bmi,
		RiskFactorCount:         count,
		CardiovascularRiskScore: math.Min(float64(count)/MaxRiskFactors, 1),
		PriorityLevel:           PriorityForCount(count),
	}, nil
}

// PriorityForCount maps a risk factor count onto its priority bucket.
func PriorityForCount(count int) Priority {
	switch {
	case count >= 7:
		return PriorityHigh
	case count >= 4:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func roundHalfUp(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Floor(v*p+0.5) / p
}
