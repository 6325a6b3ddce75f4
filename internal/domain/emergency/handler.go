package emergency

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docai/escalation/internal/platform/auth"
	"github.com/docai/escalation/pkg/wire"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/emergencies", h.List)
	api.POST("/emergencies", h.Create)
	api.GET("/emergencies/:id", h.Get)
	api.GET("/emergencies/:id/history", h.History)

	doctors := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctors.POST("/emergencies/:id/accept", h.Accept)
	doctors.POST("/emergencies/:id/resolve", h.Resolve)
}

type emergencyResponse struct {
	Emergency *Emergency `json:"emergency"`
}

type listResponse struct {
	Emergencies []*Emergency `json:"emergencies"`
}

type acceptRequest struct {
	DoctorID string `json:"doctorId"`
}

func (h *Handler) Create(c echo.Context) error {
	var n NewEmergency
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.Create(c.Request().Context(), n)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, emergencyResponse{Emergency: e})
}

// List serves the full case list; ?status=active narrows it to the queue.
func (h *Handler) List(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context(), c.QueryParam("status") == "active")
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Emergency{}
	}
	return c.JSON(http.StatusOK, listResponse{Emergencies: items})
}

func (h *Handler) Get(c echo.Context) error {
	e, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, emergencyResponse{Emergency: e})
}

func (h *Handler) History(c echo.Context) error {
	items, err := h.svc.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"history": items})
}

// Accept takes doctorId from the body, falling back to the caller's subject.
// Only an admin may accept on behalf of another doctor.
func (h *Handler) Accept(c echo.Context) error {
	var req acceptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DoctorID == "" {
		req.DoctorID = auth.UserIDFromContext(c.Request().Context())
	}
	if req.DoctorID != "" && !auth.ActsAs(c.Request().Context(), req.DoctorID) {
		return echo.NewHTTPError(http.StatusForbidden, "doctorId does not match the caller")
	}
	e, err := h.svc.Accept(c.Request().Context(), c.Param("id"), req.DoctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, emergencyResponse{Emergency: e})
}

func (h *Handler) Resolve(c echo.Context) error {
	e, err := h.svc.Resolve(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, emergencyResponse{Emergency: e})
}

func httpError(err error) error {
	var decodeErr *wire.DecodeError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "emergency not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrDoctorRequired), errors.As(err, &decodeErr):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
