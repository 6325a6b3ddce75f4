// Package metrics exposes Prometheus counters for the escalation pipeline and
// an Echo middleware recording HTTP request metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	assessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_assessments_total",
			Help: "Symptom assessments by outcome",
		},
		[]string{"emergency"},
	)

	overridesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_overrides_total",
			Help: "Assessments replaced by an override rule",
		},
		[]string{"rule"},
	)

	emergencyTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emergency_transitions_total",
			Help: "Emergency case transitions",
		},
		[]string{"to_status"},
	)

	acceptConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emergency_accept_conflicts_total",
			Help: "Accept requests that lost the first-writer race",
		},
	)

	roomMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_room_messages_total",
			Help: "Frames relayed through emergency chat rooms",
		},
	)

	webhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_webhook_deliveries_total",
			Help: "Outbound dispatch webhook deliveries by result",
		},
		[]string{"result"},
	)

	roomClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_room_clients",
			Help: "Connected chat room clients",
		},
	)
)

// Middleware records request count and latency per route.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// RecordAssessment counts a finished assessment.
func RecordAssessment(emergency bool) {
	assessmentsTotal.WithLabelValues(strconv.FormatBool(emergency)).Inc()
}

// RecordOverride counts an override rule firing.
func RecordOverride(rule string) {
	overridesTotal.WithLabelValues(rule).Inc()
}

// RecordTransition counts an emergency moving to status.
func RecordTransition(status string) {
	emergencyTransitions.WithLabelValues(status).Inc()
}

// RecordAcceptConflict counts an accept that found the case already taken.
func RecordAcceptConflict() {
	acceptConflicts.Inc()
}

// RecordRoomMessage counts one relayed chat frame.
func RecordRoomMessage() {
	roomMessages.Inc()
}

// RoomClientConnected adjusts the connected room client gauge by delta.
func RoomClientConnected(delta int) {
	roomClients.Add(float64(delta))
}

// RecordWebhookDelivery counts one finished webhook delivery.
func RecordWebhookDelivery(ok bool) {
	result := "delivered"
	if !ok {
		result = "failed"
	}
	webhookDeliveries.WithLabelValues(result).Inc()
}
