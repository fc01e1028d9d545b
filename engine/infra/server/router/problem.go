// Package router holds shared HTTP plumbing for the API server: RFC 7807
// problem responses and the mapping from engine errors to status codes.
package router

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/caseflow/caseflow/pkg/logger"
)

// RespondProblem writes a canonical RFC 7807 error response.
func RespondProblem(c *gin.Context, problem *core.Problem) {
	prepared := core.NormalizeProblem(problem)
	body := core.BuildProblemBody(prepared)
	payload, err := json.Marshal(body)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("marshalling problem response", "error", err)
		fallback := []byte(`{"status":500,"error":"Internal Server Error"}`)
		c.Data(http.StatusInternalServerError, "application/problem+json", fallback)
		c.Abort()
		return
	}
	logProblem(c, prepared)
	c.Data(prepared.Status, "application/problem+json", payload)
	c.Abort()
}

// RespondError maps an engine error onto a problem response.
func RespondError(c *gin.Context, err error) {
	RespondProblem(c, ProblemFromError(err))
}

// ProblemFromError classifies engine errors into HTTP problems. Unknown
// errors become opaque 500s so internals never leak.
func ProblemFromError(err error) *core.Problem {
	var structural *core.StructuralError
	var validation *core.DataValidationError
	var illegal *core.IllegalTransition
	var unavailable *core.HandlerUnavailable
	switch {
	case errors.Is(err, core.ErrNotFound):
		return &core.Problem{Status: http.StatusNotFound, Detail: err.Error()}
	case errors.Is(err, core.ErrInvalidCaseID):
		return &core.Problem{Status: http.StatusBadRequest, Detail: err.Error()}
	case errors.Is(err, core.ErrConflict), errors.Is(err, core.ErrAlreadyStarted),
		errors.Is(err, core.ErrCaseNotRunning):
		return &core.Problem{Status: http.StatusConflict, Detail: err.Error()}
	case errors.As(err, &structural):
		return &core.Problem{Status: http.StatusUnprocessableEntity, Detail: err.Error(), Code: "structural"}
	case errors.As(err, &validation):
		return &core.Problem{Status: http.StatusUnprocessableEntity, Detail: err.Error(), Code: "data-validation"}
	case errors.As(err, &illegal):
		return &core.Problem{Status: http.StatusConflict, Detail: err.Error(), Code: "illegal-transition"}
	case errors.As(err, &unavailable):
		return &core.Problem{Status: http.StatusBadGateway, Detail: err.Error(), Code: "handler-unavailable"}
	default:
		return &core.Problem{Status: http.StatusInternalServerError}
	}
}

func logProblem(c *gin.Context, problem *core.Problem) {
	log := logger.FromContext(c.Request.Context())
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	fields := []any{
		"status", problem.Status,
		"title", problem.Title,
		"detail", problem.Detail,
		"route", route,
	}
	if problem.Status >= http.StatusInternalServerError {
		log.Error("request failed", fields...)
		return
	}
	log.Warn("request failed", fields...)
}
