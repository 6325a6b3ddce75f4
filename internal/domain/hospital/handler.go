package hospital

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	matcher         *Matcher
	emergencyNumber string
}

func NewHandler(matcher *Matcher, emergencyNumber string) *Handler {
	return &Handler{matcher: matcher, emergencyNumber: emergencyNumber}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/hospitals/nearby", h.Nearby)
}

// NearbyResponse is the body returned by GET /hospitals/nearby.
type NearbyResponse struct {
	Located         bool             `json:"located"`
	EmergencyNumber string           `json:"emergencyNumber,omitempty"`
	Hospitals       []RankedHospital `json:"hospitals"`
}

// Nearby ranks facilities from the lat/lng query parameters. Missing or
// malformed coordinates take the default-city fallback, never an error.
func (h *Handler) Nearby(c echo.Context) error {
	var loc Locator = NoLocator{}
	if pos, ok := coordinatesFromQuery(c); ok {
		loc = FixedLocator(pos)
	}
	ranked, located := h.matcher.Nearby(c.Request().Context(), loc)
	return c.JSON(http.StatusOK, NearbyResponse{
		Located:         located,
		EmergencyNumber: h.emergencyNumber,
		Hospitals:       ranked,
	})
}

func coordinatesFromQuery(c echo.Context) (Coordinates, bool) {
	latStr, lngStr := c.QueryParam("lat"), c.QueryParam("lng")
	if latStr == "" || lngStr == "" {
		return Coordinates{}, false
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return Coordinates{}, false
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return Coordinates{}, false
	}
	pos := Coordinates{Lat: lat, Lng: lng}
	return pos, pos.Valid()
}
