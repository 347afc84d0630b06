package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// Tasks (worker)
	TaskDuration  *prometheus.HistogramVec
	TaskResults   *prometheus.CounterVec
	TasksInFlight prometheus.Gauge

	// Banking providers / circuit breakers
	ProviderRequests *prometheus.CounterVec
	CircuitState     *prometheus.GaugeVec
	CircuitOpenTotal *prometheus.CounterVec

	// Real-time fan-out
	WsConnections  prometheus.Gauge
	PubSubMessages *prometheus.CounterVec
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "credithub",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "credithub",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "credithub",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "credithub",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "credithub",
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),

		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "credithub",
				Subsystem: "tasks",
				Name:      "duration_seconds",
				Help:      "Task execution duration by name and result",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"task", "result"}, // result=done|retry|failed|skipped
		),
		TaskResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "credithub",
				Subsystem: "tasks",
				Name:      "results_total",
				Help:      "Task outcomes by name and result.",
			},
			[]string{"task", "result"},
		),
		TasksInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "credithub",
				Subsystem: "tasks",
				Name:      "in_flight",
				Help:      "Current number of executing tasks in this process",
			},
		),

		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "credithub",
				Subsystem: "provider",
				Name:      "requests_total",
				Help:      "Banking provider calls by country, provider and outcome.",
			},
			[]string{"country", "provider", "outcome"}, // outcome=ok|error|fallback
		),
		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "credithub",
				Subsystem: "provider",
				Name:      "circuit_state",
				Help:      "Circuit breaker state per country/provider (0=closed 1=half_open 2=open).",
			},
			[]string{"country", "provider"},
		),
		CircuitOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "credithub",
				Subsystem: "provider",
				Name:      "circuit_open_total",
				Help:      "Times a breaker transitioned to open.",
			},
			[]string{"country", "provider"},
		),

		WsConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "credithub",
				Subsystem: "ws",
				Name:      "connections",
				Help:      "Current number of websocket sessions.",
			},
		),
		PubSubMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "credithub",
				Subsystem: "pubsub",
				Name:      "messages_total",
				Help:      "Pub/sub messages by direction and status.",
			},
			[]string{"direction", "status"}, // direction=publish|receive
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.TaskDuration, p.TaskResults, p.TasksInFlight,
		p.ProviderRequests, p.CircuitState, p.CircuitOpenTotal,
		p.WsConnections, p.PubSubMessages,
	)

	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}
