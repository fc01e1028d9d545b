package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/caseflow/caseflow/engine/infra/server/router"
	"github.com/caseflow/caseflow/engine/workitem"
)

func (s *Server) registerWorkItemRoutes(api *gin.RouterGroup) {
	api.GET("/workitems", s.handleListWorkItems)
	api.POST("/workitems/:id/start", s.handleStartWorkItem)
	api.POST("/workitems/:id/complete", s.handleCompleteWorkItem)
	api.POST("/workitems/:id/suspend", s.handleSuspendWorkItem)
	api.POST("/workitems/:id/resume", s.handleResumeWorkItem)
	api.POST("/workitems/:id/instances", s.handleAddInstance)
}

func (s *Server) handleListWorkItems(c *gin.Context) {
	filter := &workitem.Filter{}
	if caseID, ok := c.GetQuery("case"); ok {
		filter.CaseID = &caseID
	}
	if taskID, ok := c.GetQuery("task"); ok {
		filter.TaskID = &taskID
	}
	if raw, ok := c.GetQuery("status"); ok {
		status := workitem.Status(raw)
		filter.Status = &status
	}
	c.JSON(http.StatusOK, gin.H{"work_items": s.engine.ListWorkItems(filter)})
}

type startWorkItemRequest struct {
	HandlerRef string `json:"handler_ref"`
}

func (s *Server) handleStartWorkItem(c *gin.Context) {
	var req startWorkItemRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			router.RespondProblem(c, problemBadRequest(err.Error()))
			return
		}
	}
	item, err := s.engine.StartWorkItem(c.Request.Context(), c.Param("id"), req.HandlerRef)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	s.metrics.WorkItemOp("start")
	c.JSON(http.StatusOK, item)
}

type completeWorkItemRequest struct {
	Output core.Document `json:"output"`
	Force  bool          `json:"force"`
}

func (s *Server) handleCompleteWorkItem(c *gin.Context) {
	var req completeWorkItemRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			router.RespondProblem(c, problemBadRequest(err.Error()))
			return
		}
	}
	ctx := c.Request.Context()
	itemID := c.Param("id")
	item, err := s.engine.CompleteWorkItem(ctx, itemID, req.Output, req.Force)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	s.metrics.WorkItemOp("complete")
	if state, stateErr := s.engine.GetCaseState(ctx, item.CaseID); stateErr == nil && state.Status.Terminal() {
		s.metrics.CaseFinished(string(state.Status))
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) handleSuspendWorkItem(c *gin.Context) {
	item, err := s.engine.SuspendWorkItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		router.RespondError(c, err)
		return
	}
	s.metrics.WorkItemOp("suspend")
	c.JSON(http.StatusOK, item)
}

func (s *Server) handleResumeWorkItem(c *gin.Context) {
	item, err := s.engine.ResumeWorkItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		router.RespondError(c, err)
		return
	}
	s.metrics.WorkItemOp("resume")
	c.JSON(http.StatusOK, item)
}

// handleAddInstance spawns one more child of a dynamic multi-instance
// task; the path id names the parent work item.
func (s *Server) handleAddInstance(c *gin.Context) {
	item, err := s.engine.AddInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		router.RespondError(c, err)
		return
	}
	s.metrics.WorkItemOp("add-instance")
	c.JSON(http.StatusCreated, item)
}
