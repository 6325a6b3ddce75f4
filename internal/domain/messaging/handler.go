package messaging

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
	api.POST("/messages/send", h.Send)
	api.GET("/messages/conversation", h.Conversation)
	api.GET("/messages/doctor/:doctorId", h.DoctorConversations)
}

func (h *Handler) Send(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !auth.ActsAs(c.Request().Context(), senderID(req)) {
		return echo.NewHTTPError(http.StatusForbidden, "sender does not match the caller")
	}
	m, err := h.svc.Send(c.Request().Context(), req)
	if err != nil {
		var decodeErr *wire.DecodeError
		if errors.As(err, &decodeErr) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"success": true, "message": m})
}

func (h *Handler) Conversation(c echo.Context) error {
	patientID, doctorID := c.QueryParam("patientId"), c.QueryParam("doctorId")
	if patientID == "" || doctorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patientId and doctorId are required")
	}
	ctx := c.Request().Context()
	if !auth.ActsAs(ctx, patientID) && !auth.ActsAs(ctx, doctorID) {
		return echo.NewHTTPError(http.StatusForbidden, "not a participant in this conversation")
	}
	msgs, err := h.svc.Conversation(c.Request().Context(), patientID, doctorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "messages": msgs})
}

func (h *Handler) DoctorConversations(c echo.Context) error {
	doctorID := c.Param("doctorId")
	if !auth.ActsAs(c.Request().Context(), doctorID) {
		return echo.NewHTTPError(http.StatusForbidden, "conversations belong to another doctor")
	}
	convs, err := h.svc.DoctorConversations(c.Request().Context(), doctorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if convs == nil {
		convs = []*Conversation{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "conversations": convs})
}

// senderID is the participant a message claims to come from.
func senderID(req SendRequest) string {
	if req.Sender == SenderDoctor {
		return req.DoctorID
	}
	return req.PatientID
}
