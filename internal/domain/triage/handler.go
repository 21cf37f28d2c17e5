package triage

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthcampaign/triage/internal/platform/auth"
	"github.com/healthcampaign/triage/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Scoring preview, any campaign role
	api.POST("/triage/score", h.Score,
		auth.RequireRole(auth.RolePhysician, auth.RoleAmbassador, auth.RoleAuxiliary, auth.RolePatient))

	readGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleAuxiliary))
	readGroup.GET("/triage-records", h.ListRecords)
	readGroup.GET("/triage-records/queue", h.Queue)
	readGroup.GET("/triage-records/:id", h.GetRecord)

	writeGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleAmbassador))
	writeGroup.POST("/triage-records", h.CreateRecord)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.DELETE("/triage-records/:id", h.DeleteRecord)
}

// validationResponse is the 422 body listing every rejected field.
type validationResponse struct {
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields"`
}

func validationFailed(c echo.Context, ve *ValidationError) error {
	return c.JSON(http.StatusUnprocessableEntity, validationResponse{
		Message: "triage input rejected",
		Fields:  ve.Fields,
	})
}

func (h *Handler) Score(c echo.Context) error {
	var req InputRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in, err := req.ToInput()
	var ve *ValidationError
	if errors.As(err, &ve) {
		recordRejected(ve)
		return validationFailed(c, ve)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Preview(in)
	if errors.As(err, &ve) {
		return validationFailed(c, ve)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CreateRecord(c echo.Context) error {
	var req RecordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in, err := req.ToInput()
	var ve *ValidationError
	if errors.As(err, &ve) {
		recordRejected(ve)
		return validationFailed(c, ve)
	}

	rec := &Record{PatientID: req.PatientID, CampaignID: req.CampaignID, Input: in}
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		rec.TriagedBy = &uid
	}
	if err := h.svc.Assess(c.Request().Context(), rec); err != nil {
		if errors.As(err, &ve) {
			return validationFailed(c, ve)
		}
		if req.PatientID == uuid.Nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetRecord(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "triage record not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListRecords(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		if _, err := uuid.Parse(patientID); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		params["patient_id"] = patientID
	}
	if campaignID := c.QueryParam("campaign_id"); campaignID != "" {
		if _, err := uuid.Parse(campaignID); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid campaign_id")
		}
		params["campaign_id"] = campaignID
	}
	if priority := c.QueryParam("priority_level"); priority != "" {
		if !Priority(priority).Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid priority_level")
		}
		params["priority_level"] = priority
	}
	items, total, err := h.svc.SearchRecords(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.Page(c, items, total, pg))
}

func (h *Handler) Queue(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Queue(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.Page(c, items, total, pg))
}

func (h *Handler) DeleteRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	err = h.svc.DeleteRecord(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "triage record not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
