// Package metrics публикует метрики HTTP и брокера заданий в формате Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics реализует jobs.Observer. Методы безопасны для nil-получателя.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	jobsSubmitted     *prometheus.CounterVec
	jobsFinished      *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobsSwept         prometheus.Counter
}

// New создает метрики в собственном реестре вместе со стандартными метриками процесса.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crime_jobs_submitted_total",
			Help: "Jobs accepted by the broker, by work kind.",
		}, []string{"kind"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crime_jobs_finished_total",
			Help: "Jobs that reached a terminal state, by work kind and status.",
		}, []string{"kind", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crime_job_duration_seconds",
			Help:    "Histogram of job execution time by work kind.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
		jobsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crime_jobs_swept_total",
			Help: "Jobs removed by the retention sweep.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.jobsSubmitted,
		m.jobsFinished,
		m.jobDuration,
		m.jobsSwept,
	)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler считает запросы и их длительность для маршрута.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler отдает метрики реестра.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) JobSubmitted(kind string) {
	if m == nil {
		return
	}
	m.jobsSubmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) JobFinished(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(kind, status).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) JobsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.jobsSwept.Add(float64(n))
}
