package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/lottery_layer/services/lottery"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lottery_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lottery_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lottery_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ticketsSold = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lottery",
			Name:      "tickets_sold_total",
			Help:      "Total number of tickets sold across all rounds.",
		},
	)

	roundsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lottery",
			Name:      "rounds_closed_total",
			Help:      "Total number of rounds closed with winners paid.",
		},
	)

	operationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lottery",
			Name:      "operation_errors_total",
			Help:      "Rejected or failed lottery operations.",
		},
		[]string{"operation", "code"},
	)

	currentParticipants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lottery",
			Name:      "current_participants",
			Help:      "Tickets held in the open round.",
		},
	)

	roundPool = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lottery",
			Name:      "round_pool",
			Help:      "Funds pooled in the open round (approximate).",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ticketsSold,
		roundsClosed,
		operationErrors,
		currentParticipants,
		roundPool,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// Lottery records round activity into the package registry. It satisfies
// lottery.Recorder.
type Lottery struct{}

var _ lottery.Recorder = Lottery{}

// TicketSold counts a purchase and refreshes the open round gauges.
func (Lottery) TicketSold(round lottery.Round) {
	ticketsSold.Inc()
	observeRound(round)
}

// RoundClosed counts a closed round and resets the gauges to the next round.
func (Lottery) RoundClosed(_ lottery.RoundResult, next lottery.Round) {
	roundsClosed.Inc()
	observeRound(next)
}

// OperationFailed counts a rejected operation by error code.
func (Lottery) OperationFailed(operation, code string) {
	if operation == "" {
		operation = "unknown"
	}
	operationErrors.WithLabelValues(operation, code).Inc()
}

// ObserveRound sets the open round gauges, typically once at startup.
func ObserveRound(round lottery.Round) {
	observeRound(round)
}

func observeRound(round lottery.Round) {
	currentParticipants.Set(float64(len(round.Participants)))
	roundPool.Set(round.TotalFunds.Amount.Float64())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// canonicalPath collapses path parameters so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" || len(parts) == 1 {
		return "/" + parts[0]
	}
	switch parts[1] {
	case "rounds":
		switch {
		case len(parts) == 2:
			return "/v1/rounds"
		case parts[2] == "current":
			return "/v1/rounds/current"
		default:
			return "/v1/rounds/:id/winners"
		}
	case "tickets":
		return "/v1/tickets/:address"
	case "balances":
		return "/v1/balances/:address/:denom"
	}
	return "/v1/" + parts[1]
}
