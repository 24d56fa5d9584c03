package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors are created eagerly so instrumented code works before (or
// without) Register, e.g. in tests.
var (
	SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "markethub_live_sessions_started_total",
		Help: "Broadcast sessions that reached the live state.",
	})
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "markethub_live_sessions_active",
		Help: "Broadcast sessions currently live.",
	})
	CaptureFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "markethub_live_capture_failures_total",
		Help: "Session starts rejected because camera or microphone capture was unavailable.",
	})
	SimulatorTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "markethub_live_simulator_ticks_total",
		Help: "Metric simulator ticks applied to live studios.",
	})
	SimulatedSales = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "markethub_live_sales_total",
		Help: "Simulated sales, by destination.",
	}, []string{"destination"})
	SimulatedRevenue = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "markethub_live_revenue_total",
		Help: "Simulated revenue in store currency, by destination.",
	}, []string{"destination"})
	ScriptFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "markethub_live_script_failures_total",
		Help: "AI script generations that failed and left the script empty.",
	})
	AssistantSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "markethub_live_assistant_sessions_open",
		Help: "Open AI live assistant bridges.",
	})
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "markethub_api_request_duration_seconds",
		Help:    "HTTP request duration in seconds, by route and method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

// Register registers all collectors with reg. Call once at startup.
// pool may be nil; when set, connection pool gauges are added.
func Register(reg prometheus.Registerer, pool *pgxpool.Pool) {
	reg.MustRegister(
		SessionsStarted,
		SessionsActive,
		CaptureFailures,
		SimulatorTicks,
		SimulatedSales,
		SimulatedRevenue,
		ScriptFailures,
		AssistantSessions,
		RequestDuration,
	)
	if pool != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "markethub_db_connection_pool_active",
				Help: "Number of active database connections.",
			}, func() float64 { return float64(pool.Stat().AcquiredConns()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "markethub_db_connection_pool_idle",
				Help: "Number of idle database connections.",
			}, func() float64 { return float64(pool.Stat().IdleConns()) }),
		)
	}
}

// Middleware records request duration per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestDuration.WithLabelValues(route, strings.ToUpper(c.Request.Method), strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus /metrics endpoint.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
