package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Run("Should expose engine counters on the metrics endpoint", func(t *testing.T) {
		s := NewService()
		s.CaseLaunched()
		s.CaseFinished("Completed")
		s.WorkItemOp("start")
		s.AnnounceRouteError()

		recorder := httptest.NewRecorder()
		s.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, recorder.Code)
		body := recorder.Body.String()
		assert.Contains(t, body, "caseflow_cases_launched_total 1")
		assert.Contains(t, body, `caseflow_cases_finished_total{status="Completed"} 1`)
		assert.Contains(t, body, `caseflow_work_item_transitions_total{operation="start"} 1`)
		assert.Contains(t, body, "caseflow_announce_route_errors_total 1")
	})
	t.Run("Should record HTTP requests per route", func(t *testing.T) {
		s := NewService()
		router := gin.New()
		router.Use(s.GinMiddleware())
		router.GET("/api/v1/cases/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/cases/K1", nil))
		require.Equal(t, http.StatusOK, recorder.Code)

		metrics := httptest.NewRecorder()
		s.Handler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Contains(t, metrics.Body.String(),
			`caseflow_http_requests_total{method="GET",route="/api/v1/cases/:id",status="200"} 1`)
	})
}
