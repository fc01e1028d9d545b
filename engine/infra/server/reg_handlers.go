package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caseflow/caseflow/engine/announce"
	"github.com/caseflow/caseflow/engine/infra/server/router"
)

func (s *Server) registerHandlerRoutes(api *gin.RouterGroup) {
	api.POST("/handlers", s.handleRegisterHandler)
	api.GET("/handlers", s.handleListHandlers)
	api.DELETE("/handlers/:ref", s.handleUnregisterHandler)
}

type registerHandlerRequest struct {
	Ref      string `json:"ref"      binding:"required"`
	Name     string `json:"name"`
	Kind     string `json:"kind"     binding:"required"`
	Endpoint string `json:"endpoint" binding:"required,url"`
	Token    string `json:"token"`
}

func (s *Server) handleRegisterHandler(c *gin.Context) {
	var req registerHandlerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		router.RespondProblem(c, problemBadRequest(err.Error()))
		return
	}
	h := &announce.Handler{
		Ref:      req.Ref,
		Name:     req.Name,
		Kind:     announce.HandlerKind(req.Kind),
		Endpoint: req.Endpoint,
		Token:    req.Token,
	}
	if err := s.engine.RegisterHandler(c.Request.Context(), h); err != nil {
		router.RespondProblem(c, problemBadRequest(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ref": h.Ref})
}

func (s *Server) handleListHandlers(c *gin.Context) {
	handlers := s.engine.ListHandlers()
	// Tokens are write-only through the API.
	for _, h := range handlers {
		h.Token = ""
	}
	c.JSON(http.StatusOK, gin.H{"handlers": handlers})
}

func (s *Server) handleUnregisterHandler(c *gin.Context) {
	if err := s.engine.UnregisterHandler(c.Request.Context(), c.Param("ref")); err != nil {
		router.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
