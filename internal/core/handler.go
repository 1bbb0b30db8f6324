package core

import (
	"net/http"

	"github.com/amoylab/evalcoach/internal/analyzer"
	"github.com/amoylab/evalcoach/internal/common/errorx"
	"github.com/amoylab/evalcoach/internal/coordinator"
	"github.com/amoylab/evalcoach/pkg/version"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type stopRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// fail hands err to the error middleware
func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func (s *Server) language(r *http.Request) string {
	if s.i18n == nil {
		return ""
	}
	return s.i18n.Language(r)
}

func (s *Server) handleHealth(c *gin.Context) {
	if !s.analyzer.Ready() {
		s.fail(c, errorx.ErrDestroyed)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Health check passed.",
		"version": version.Get(),
		"pool":    s.analyzer.PoolStats(),
	})
}

// handleAnalyze starts a session and answers once an engine is searching
func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzer.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errorx.ErrInvalidInput.WithDetail("reason", err.Error()))
		return
	}

	snap, err := s.analyzer.Analyze(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}

	s.logger.Debug("analysis started",
		zap.String("session_id", snap.ID),
		zap.String("status", string(snap.Status)),
		zap.Bool("cached", snap.Cached))
	c.JSON(http.StatusOK, gin.H{"sessionId": snap.ID})
}

func (s *Server) handleStop(c *gin.Context) {
	var req stopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errorx.ErrInvalidInput.WithDetail("reason", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": s.analyzer.Stop(c.Request.Context(), req.SessionID)})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap, err := s.analyzer.Status(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.coord.Render(snap, s.language(c.Request)))
}

func (s *Server) handleSessions(c *gin.Context) {
	snaps := s.analyzer.Sessions()
	lang := s.language(c.Request)
	out := make([]coordinator.Update, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, s.coord.Render(snap, lang))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) handleEngines(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stats":   s.analyzer.PoolStats(),
		"workers": s.analyzer.Workers(),
	})
}

func (s *Server) handleClearCache(c *gin.Context) {
	if err := s.analyzer.ClearCache(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleStreamAnalyze queues a position change on a debounced stream
func (s *Server) handleStreamAnalyze(c *gin.Context) {
	var req coordinator.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errorx.ErrInvalidInput.WithDetail("reason", err.Error()))
		return
	}
	req.Lang = s.language(c.Request)

	stream := c.Param("stream")
	id := s.coord.Submit(stream, req)
	if id == 0 {
		s.fail(c, errorx.ErrDestroyed)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"streamId": stream, "requestId": id})
}

func (s *Server) handleStreamCancel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": s.coord.Cancel(c.Param("stream"))})
}
