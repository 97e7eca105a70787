package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_runs_total",
			Help: "Total pipeline runs by terminal status",
		},
		[]string{"status", "source"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compliance_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	StageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_stage_failures_total",
			Help: "Total stage failures by error code",
		},
		[]string{"stage", "code"},
	)

	ViolationsFound = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "compliance_violations_found_total",
			Help: "Total violations recorded across runs",
		},
	)

	RiskScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compliance_risk_score",
			Help:    "Risk scores of completed assessments",
			Buckets: []float64{10, 20, 30, 45, 60, 75, 85, 95, 100},
		},
	)

	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_documents_ingested_total",
			Help: "Total raw documents ingested by file type",
		},
		[]string{"file_type"},
	)

	SectionsPerDocument = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compliance_sections_per_document",
			Help:    "Normalized section counts per document",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250},
		},
	)

	RunSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "compliance_run_subscribers",
			Help: "Currently connected live-update subscribers",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	AgentFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_agent_fallbacks_total",
			Help: "Agent attempts that fell back to the deterministic pipeline",
		},
		[]string{"reason"},
	)
)

func Init() {
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(StageFailures)
	prometheus.MustRegister(ViolationsFound)
	prometheus.MustRegister(RiskScore)
	prometheus.MustRegister(DocumentsIngested)
	prometheus.MustRegister(SectionsPerDocument)
	prometheus.MustRegister(RunSubscribers)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(AgentFallbacks)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
