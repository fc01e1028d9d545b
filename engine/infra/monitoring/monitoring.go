// Package monitoring exposes Prometheus metrics for the engine: case and
// work-item counters plus HTTP request instrumentation for the API server.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service owns the metrics registry and the engine's instruments.
type Service struct {
	registry *prom.Registry

	casesLaunched  prom.Counter
	casesFinished  *prom.CounterVec
	workItems      *prom.CounterVec
	httpRequests   *prom.CounterVec
	httpDuration   *prom.HistogramVec
	announceErrors prom.Counter
}

func NewService() *Service {
	registry := prom.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	s := &Service{
		registry: registry,
		casesLaunched: prom.NewCounter(prom.CounterOpts{
			Name: "caseflow_cases_launched_total",
			Help: "Cases launched since start.",
		}),
		casesFinished: prom.NewCounterVec(prom.CounterOpts{
			Name: "caseflow_cases_finished_total",
			Help: "Cases reaching a terminal status, by status.",
		}, []string{"status"}),
		workItems: prom.NewCounterVec(prom.CounterOpts{
			Name: "caseflow_work_item_transitions_total",
			Help: "Work-item operations served by the API, by operation.",
		}, []string{"operation"}),
		httpRequests: prom.NewCounterVec(prom.CounterOpts{
			Name: "caseflow_http_requests_total",
			Help: "HTTP requests, by route, method and status code.",
		}, []string{"route", "method", "status"}),
		httpDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "caseflow_http_request_duration_seconds",
			Help:    "HTTP request latency, by route and method.",
			Buckets: prom.DefBuckets,
		}, []string{"route", "method"}),
		announceErrors: prom.NewCounter(prom.CounterOpts{
			Name: "caseflow_announce_route_errors_total",
			Help: "Announcements that found no usable handler route.",
		}),
	}
	registry.MustRegister(
		s.casesLaunched, s.casesFinished, s.workItems,
		s.httpRequests, s.httpDuration, s.announceErrors,
	)
	return s
}

func (s *Service) CaseLaunched()              { s.casesLaunched.Inc() }
func (s *Service) CaseFinished(status string) { s.casesFinished.WithLabelValues(status).Inc() }
func (s *Service) WorkItemOp(operation string) {
	s.workItems.WithLabelValues(operation).Inc()
}
func (s *Service) AnnounceRouteError() { s.announceErrors.Inc() }

// GinMiddleware records request counts and latency per route.
func (s *Service) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		s.httpRequests.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		s.httpDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the /metrics endpoint from the service registry.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
