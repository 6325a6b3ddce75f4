package account

import (
	"errors"
	"net/http"
	"strings"

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
	api.POST("/auth/signup", h.Signup)
	api.POST("/auth/login", h.Login)
}

// Signup registers the caller's own subject. An id in the body must match it
// unless the caller is an admin registering someone else.
func (h *Handler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	uid := auth.UserIDFromContext(ctx)
	if uid == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	switch req.ID = strings.TrimSpace(req.ID); {
	case req.ID == "":
		req.ID = uid
	case !auth.ActsAs(ctx, req.ID):
		return echo.NewHTTPError(http.StatusForbidden, "cannot register another identity")
	}
	a, err := h.svc.Signup(ctx, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"success": true, "user": a})
}

// Login exchanges the verified bearer credential for the registered account.
func (h *Handler) Login(c echo.Context) error {
	a, err := h.svc.Login(c.Request().Context(), auth.ClaimsFromContext(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, LoginResponse{Success: true, UserType: a.Role, User: a, UID: a.ID})
}

func httpError(err error) error {
	var decodeErr *wire.DecodeError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "account not registered")
	case errors.Is(err, ErrExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &decodeErr):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
