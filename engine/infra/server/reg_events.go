package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/caseflow/caseflow/engine/eventlog"
	"github.com/caseflow/caseflow/engine/infra/server/router"
	"github.com/caseflow/caseflow/pkg/logger"
)

const defaultEventLimit = 100

func (s *Server) registerEventRoutes(api *gin.RouterGroup) {
	api.GET("/events", s.handleListEvents)
	api.GET("/events/export", s.handleExportEvents)
}

func (s *Server) handleListEvents(c *gin.Context) {
	limit := defaultEventLimit
	if raw, ok := c.GetQuery("limit"); ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			router.RespondProblem(c, problemBadRequest("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	events, err := s.engine.EventLog().List(c.Request.Context(), limit)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleExportEvents streams the full event log as JSON lines, oldest
// first. A case query narrows the export to one case.
func (s *Server) handleExportEvents(c *gin.Context) {
	ctx := c.Request.Context()
	var events []*eventlog.Event
	var err error
	if caseID, ok := c.GetQuery("case"); ok {
		events, err = s.engine.EventLog().ListByCase(ctx, caseID)
	} else {
		events, err = s.engine.EventLog().List(ctx, 0)
	}
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	encoder := json.NewEncoder(c.Writer)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			logger.FromContext(ctx).Error("streaming event export", "error", err)
			return
		}
	}
}
