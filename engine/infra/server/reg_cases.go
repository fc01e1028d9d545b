package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/caseflow/caseflow/engine/infra/server/router"
	"github.com/caseflow/caseflow/engine/runner"
)

func (s *Server) registerCaseRoutes(api *gin.RouterGroup) {
	api.POST("/cases", s.handleLaunchCase)
	api.GET("/cases", s.handleListCases)
	api.GET("/cases/:id", s.handleGetCase)
	api.GET("/cases/:id/data", s.handleGetCaseData)
	api.GET("/cases/:id/workitems", s.handleCaseWorkItems)
	api.GET("/cases/:id/events", s.handleCaseEvents)
	api.POST("/cases/:id/cancel", s.handleCancelCase)
	api.POST("/cases/:id/suspend", s.handleSuspendCase)
	api.POST("/cases/:id/resume", s.handleResumeCase)
	api.POST("/cases/:id/marking", s.handleEditMarking)
}

type launchCaseRequest struct {
	SpecID string        `json:"spec_id" binding:"required"`
	CaseID string        `json:"case_id"`
	Data   core.Document `json:"data"`
}

func (s *Server) handleLaunchCase(c *gin.Context) {
	var req launchCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		router.RespondProblem(c, problemBadRequest(err.Error()))
		return
	}
	state, err := s.engine.LaunchCase(c.Request.Context(), req.SpecID, req.CaseID, req.Data)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	s.metrics.CaseLaunched()
	if state.Status.Terminal() {
		s.metrics.CaseFinished(string(state.Status))
	}
	c.JSON(http.StatusCreated, state)
}

func (s *Server) handleListCases(c *gin.Context) {
	var statuses []runner.Status
	if raw, ok := c.GetQuery("status"); ok {
		statuses = append(statuses, runner.Status(raw))
	}
	states, err := s.engine.ListCases(c.Request.Context(), statuses...)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": states})
}

func (s *Server) handleGetCase(c *gin.Context) {
	state, err := s.engine.GetCaseState(c.Request.Context(), c.Param("id"))
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleGetCaseData(c *gin.Context) {
	data, err := s.engine.GetCaseData(c.Request.Context(), c.Param("id"))
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (s *Server) handleCaseWorkItems(c *gin.Context) {
	items, err := s.engine.LiveWorkItems(c.Param("id"))
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"work_items": items})
}

func (s *Server) handleCaseEvents(c *gin.Context) {
	events, err := s.engine.EventLog().ListByCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleCancelCase(c *gin.Context) {
	caseID := c.Param("id")
	if err := s.engine.CancelCase(c.Request.Context(), caseID); err != nil {
		router.RespondError(c, err)
		return
	}
	s.metrics.CaseFinished(string(runner.StatusCancelled))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSuspendCase(c *gin.Context) {
	if err := s.engine.SuspendCase(c.Request.Context(), c.Param("id")); err != nil {
		router.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleResumeCase(c *gin.Context) {
	if err := s.engine.ResumeCase(c.Request.Context(), c.Param("id")); err != nil {
		router.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type markingEditRequest struct {
	Op        string `json:"op"        binding:"required,oneof=add remove"`
	Condition string `json:"condition" binding:"required"`
}

// handleEditMarking is the administrator escape hatch for deadlocked
// cases: add or remove a case token on a root-net condition.
func (s *Server) handleEditMarking(c *gin.Context) {
	var req markingEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		router.RespondProblem(c, problemBadRequest(err.Error()))
		return
	}
	ctx := c.Request.Context()
	caseID := c.Param("id")
	var err error
	if req.Op == "add" {
		err = s.engine.AdminAddToken(ctx, caseID, req.Condition)
	} else {
		err = s.engine.AdminRemoveToken(ctx, caseID, req.Condition)
	}
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func problemBadRequest(detail string) *core.Problem {
	return &core.Problem{Status: http.StatusBadRequest, Detail: detail}
}
