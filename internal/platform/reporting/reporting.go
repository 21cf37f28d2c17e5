package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/healthcampaign/triage/internal/platform/auth"
	"github.com/healthcampaign/triage/internal/platform/db"
)

// MeasureDefinition is a named aggregate over triage_record. Every query
// takes the optional campaign filter as $1.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"-"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

const campaignFilter = `($1::uuid IS NULL OR campaign_id = $1::uuid)`

// PredefinedMeasures is the list of available campaign measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "priority-distribution",
		Name:        "Priority Distribution",
		Description: "Triaged patients per priority level with the mean risk score",
		SQL: `SELECT priority_level, COUNT(*) AS total,
			ROUND(AVG(cardiovascular_risk_score)::numeric, 2)::float8 AS avg_risk_score
			FROM triage_record WHERE ` + campaignFilter + `
			GROUP BY priority_level
			ORDER BY CASE priority_level WHEN 'HIGH' THEN 1 WHEN 'MEDIUM' THEN 2 ELSE 3 END`,
		Parameters: []string{"campaign_id"},
	},
	{
		ID:          "risk-factor-histogram",
		Name:        "Risk Factor Histogram",
		Description: "Number of records per risk factor count",
		SQL: `SELECT risk_factor_count, COUNT(*) AS total
			FROM triage_record WHERE ` + campaignFilter + `
			GROUP BY risk_factor_count ORDER BY risk_factor_count`,
		Parameters: []string{"campaign_id"},
	},
	{
		ID:          "reported-conditions",
		Name:        "Reported Conditions",
		Description: "How many triaged patients reported each yes/no risk condition",
		SQL: `SELECT COUNT(*) AS total,
			COUNT(*) FILTER (WHERE smoker) AS smoker,
			COUNT(*) FILTER (WHERE heavy_alcohol_use) AS heavy_alcohol_use,
			COUNT(*) FILTER (WHERE diabetes) AS diabetes,
			COUNT(*) FILTER (WHERE chest_pain) AS chest_pain,
			COUNT(*) FILTER (WHERE radiating_pain) AS radiating_pain,
			COUNT(*) FILTER (WHERE sweating) AS sweating,
			COUNT(*) FILTER (WHERE nausea) AS nausea,
			COUNT(*) FILTER (WHERE prior_cardiac_history) AS prior_cardiac_history
			FROM triage_record WHERE ` + campaignFilter,
		Parameters: []string{"campaign_id"},
	},
	{
		ID:          "daily-volume",
		Name:        "Daily Volume",
		Description: "Records and HIGH priority records per day over the last 30 days",
		SQL: `SELECT created_at::date AS day, COUNT(*) AS total,
			COUNT(*) FILTER (WHERE priority_level = 'HIGH') AS high
			FROM triage_record
			WHERE ` + campaignFilter + ` AND created_at >= now() - interval '30 days'
			GROUP BY day ORDER BY day`,
		Parameters: []string{"campaign_id"},
	},
}

// Runner executes a measure query and returns one map per row.
type Runner interface {
	Run(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	runner Runner
	now    func() time.Time
}

func NewHandler(runner Runner) *Handler {
	return &Handler{runner: runner, now: time.Now}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole(auth.RolePhysician))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	params := map[string]string{}
	var campaign interface{}
	if v := c.QueryParam("campaign_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid campaign_id")
		}
		campaign = id
		params["campaign_id"] = id.String()
	}

	results, err := h.runner.Run(c.Request().Context(), measure.SQL, campaign)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}
	if results == nil {
		results = []map[string]interface{}{}
	}

	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: h.now().UTC(),
		Results:     results,
		Parameters:  params,
	})
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// PGRunner runs measures on the tenant connection set by the tenant
// middleware, or on the pool when there is none.
type PGRunner struct {
	pool *pgxpool.Pool
}

func NewPGRunner(pool *pgxpool.Pool) *PGRunner {
	return &PGRunner{pool: pool}
}

func (r *PGRunner) Run(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if conn := db.ConnFromContext(ctx); conn != nil {
		rows, err = conn.Query(ctx, sql, args...)
	} else {
		rows, err = r.pool.Query(ctx, sql, args...)
	}
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}
