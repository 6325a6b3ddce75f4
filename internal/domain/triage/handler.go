package triage

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/docai/escalation/internal/platform/metrics"
)

// Flow names the next step a client should take after an assessment.
const (
	FlowEscalate = "emergency"
	FlowTriage   = "triage"
)

type Handler struct {
	pipeline *Pipeline
	logger   zerolog.Logger
}

func NewHandler(pipeline *Pipeline, logger zerolog.Logger) *Handler {
	return &Handler{pipeline: pipeline, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/triage/assess", h.Assess)
}

// AssessResponse is the body returned by POST /triage/assess.
type AssessResponse struct {
	CanContinue    bool     `json:"canContinue"`
	Next           string   `json:"next,omitempty"`
	DisplayReasons []string `json:"displayReasons"`
	Result
}

func (h *Handler) Assess(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	in, err := DecodeSymptomText(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if !CanContinue(in.Text) {
		return c.JSON(http.StatusOK, AssessResponse{
			DisplayReasons: []string{},
			Result:         Result{Assessment: RiskAssessment{Reasons: []string{}}, Computed: RiskAssessment{Reasons: []string{}}},
		})
	}

	res := h.pipeline.Assess(in)
	metrics.RecordAssessment(res.Assessment.IsEmergency)
	if res.Overridden() {
		metrics.RecordOverride(res.OverrideRule)
	}

	next := FlowTriage
	if res.Assessment.IsEmergency {
		next = FlowEscalate
	}
	h.logger.Info().
		Str("language", string(in.Language)).
		Int("risk", res.Assessment.Risk).
		Bool("emergency", res.Assessment.IsEmergency).
		Str("override", res.OverrideRule).
		Msg("symptoms assessed")

	return c.JSON(http.StatusOK, AssessResponse{
		CanContinue:    true,
		Next:           next,
		DisplayReasons: res.Assessment.DisplayReasons(),
		Result:         res,
	})
}
