package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caseflow/caseflow/engine/infra/server/router"
)

func (s *Server) registerSpecRoutes(api *gin.RouterGroup) {
	api.POST("/specifications", s.handleLoadSpec)
	api.GET("/specifications", s.handleListSpecs)
	api.GET("/specifications/:id", s.handleGetSpec)
	api.DELETE("/specifications/:id", s.handleUnloadSpec)
}

// handleLoadSpec accepts the raw YAML specification document as the
// request body.
func (s *Server) handleLoadSpec(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		router.RespondProblem(c, problemBadRequest("specification document body is required"))
		return
	}
	loaded, warnings, err := s.engine.LoadSpecification(c.Request.Context(), raw)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"spec_id":  loaded.ID,
		"version":  loaded.Version,
		"warnings": warnings,
	})
}

func (s *Server) handleListSpecs(c *gin.Context) {
	summaries, err := s.engine.ListSpecifications(c.Request.Context())
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"specifications": summaries})
}

func (s *Server) handleGetSpec(c *gin.Context) {
	loaded, err := s.engine.GetSpecification(c.Param("id"))
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loaded)
}

func (s *Server) handleUnloadSpec(c *gin.Context) {
	if err := s.engine.UnloadSpecification(c.Request.Context(), c.Param("id")); err != nil {
		router.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
