package core

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/amoylab/evalcoach/internal/common/cnst"
	"github.com/amoylab/evalcoach/internal/session"
	"github.com/amoylab/evalcoach/pkg/trace"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func (s *Server) openSSE(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache, no-transform")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
}

func (s *Server) writeEvent(c *gin.Context, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err = fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// handleSessionEvents streams one session's updates and ends after its terminal update
func (s *Server) handleSessionEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.analyzer.Status(id); err != nil {
		s.fail(c, err)
		return
	}

	scope := trace.Tracer(cnst.TraceCore).Start(c.Request.Context(), cnst.SpanSSEConnect).
		WithAttrs(attribute.String(cnst.AttrSessionID, id), attribute.String(cnst.AttrClientAddr, c.ClientIP()))
	defer scope.End()

	buf := s.cfg.Coordinator.Buffer
	if buf <= 0 {
		buf = 64
	}
	queue := make(chan session.Snapshot, buf)
	unsubscribe := s.analyzer.Subscribe(id, func(snap session.Snapshot) {
		for {
			select {
			case queue <- snap:
				return
			default:
			}
			// keep the newest, the terminal snapshot must get through
			select {
			case <-queue:
			default:
			}
		}
	})
	defer unsubscribe()

	lang := s.language(c.Request)
	s.openSSE(c)
	for {
		select {
		case snap := <-queue:
			if err := s.writeEvent(c, "update", s.coord.Render(snap, lang)); err != nil {
				s.logger.Warn("failed to send SSE update", zap.String("session_id", id), zap.Error(err))
				scope.Fail(err)
				return
			}
			if snap.Terminal() {
				return
			}
		case <-c.Request.Context().Done():
			return
		case <-s.shutdownCh:
			return
		}
	}
}

// handleStreamEvents relays coordinator updates for a stream until the client leaves
func (s *Server) handleStreamEvents(c *gin.Context) {
	stream := c.Param("stream")
	scope := trace.Tracer(cnst.TraceCore).Start(c.Request.Context(), cnst.SpanSSEConnect).
		WithAttrs(attribute.String(cnst.AttrStreamID, stream), attribute.String(cnst.AttrClientAddr, c.ClientIP()))
	defer scope.End()

	updates, cancel := s.coord.Watch(stream)
	defer cancel()

	s.openSSE(c)
	if err := s.writeEvent(c, "ready", gin.H{"streamId": stream, "requestId": s.coord.Current(stream)}); err != nil {
		return
	}
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := s.writeEvent(c, "update", u); err != nil {
				s.logger.Warn("failed to send SSE update", zap.String("stream_id", stream), zap.Error(err))
				scope.Fail(err)
				return
			}
		case <-c.Request.Context().Done():
			return
		case <-s.shutdownCh:
			return
		}
	}
}
