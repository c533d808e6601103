package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/ragflow/errors"
	"github.com/kbukum/ragflow/flow"
	"github.com/kbukum/ragflow/observability"
	"github.com/kbukum/ragflow/search"
	"github.com/kbukum/ragflow/sse"
	"github.com/kbukum/ragflow/stream"
)

// SearchRequest is the body of POST /v1/retrieval/search.
type SearchRequest struct {
	Queries  []string         `json:"queries" binding:"required,min=1,dive,required"`
	Settings *search.Settings `json:"settings"`
}

// SearchResponse carries the joined branch results for one run.
type SearchResponse struct {
	RunID   string               `json:"run_id"`
	Results flow.AggregateResult `json:"results"`
}

// RAGRequest is the body of POST /v1/retrieval/rag.
type RAGRequest struct {
	Queries  []string         `json:"queries" binding:"required,min=1,dive,required"`
	Settings *search.Settings `json:"settings"`
	// Stream switches the response to SSE, one event per answer.
	Stream bool `json:"stream"`
}

// RAGResponse carries all answers for a non-streaming run.
type RAGResponse struct {
	RunID   string `json:"run_id"`
	Answers []any  `json:"answers"`
}

// mergeSettings overlays request settings on the server defaults.
func (s *Server) mergeSettings(req *search.Settings) search.Settings {
	settings := s.deps.Defaults
	if req != nil {
		settings = *req
	}
	settings.ApplyDefaults()
	return settings
}

func (s *Server) handleSearch(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperrors.Validation(err.Error()))
		return
	}
	settings := s.mergeSettings(req.Settings)

	rc, release := s.deps.Runs.Acquire(flow.RunTypeSearch, "")
	defer release()
	_ = s.deps.Runs.LogRunInfo(rc, c.ClientIP())

	agg, err := s.deps.Search.Run(c.Request.Context(), toAny(req.Queries), settings.Flow(), flow.WithRunContext(rc))
	if err != nil {
		s.writeError(c, s.asAppError(err))
		return
	}
	c.JSON(http.StatusOK, SearchResponse{RunID: rc.RunID, Results: agg})
}

func (s *Server) handleRAG(c *gin.Context) {
	var req RAGRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, apperrors.Validation(err.Error()))
		return
	}
	settings := s.mergeSettings(req.Settings)

	rc, release := s.deps.Runs.Acquire(flow.RunTypeRAG, "")
	defer release()
	_ = s.deps.Runs.LogRunInfo(rc, c.ClientIP())

	if req.Stream {
		s.streamRAG(c, req, settings, rc)
		return
	}

	answers, err := s.deps.RAG.Run(c.Request.Context(), toAny(req.Queries), settings.Flow(), flow.WithRunContext(rc))
	if err != nil {
		s.writeError(c, s.asAppError(err))
		return
	}
	c.JSON(http.StatusOK, RAGResponse{RunID: rc.RunID, Answers: answers})
}

// streamRAG writes one SSE event per generated answer. Failures before
// the first event map to an error status; failures mid-stream become an
// error event, since the status line is already on the wire.
func (s *Server) streamRAG(c *gin.Context, req RAGRequest, settings search.Settings, rc flow.RunContext) {
	out, err := s.deps.RAG.Stream(c.Request.Context(), toAny(req.Queries), settings.Flow(), flow.WithRunContext(rc))
	if err != nil {
		s.writeError(c, s.asAppError(err))
		return
	}

	w, err := sse.NewWriter(c.Writer)
	if err != nil {
		s.writeError(c, apperrors.Internal(err))
		return
	}
	c.Status(http.StatusOK)

	streamErr := stream.ForEach(c.Request.Context(), out, func(_ context.Context, item any) error {
		return w.Send(sse.EventTypeAnswer, item)
	})
	if streamErr != nil {
		appErr := s.asAppError(streamErr)
		_ = w.Send(sse.EventTypeError, appErr.ToResponse())
		s.log.WithError(streamErr).Error("rag stream aborted", map[string]interface{}{
			"run_id": rc.RunID,
		})
		return
	}
	_ = w.Send(sse.EventTypeDone, gin.H{"run_id": rc.RunID})
}

func (s *Server) handleHealth(c *gin.Context) {
	health := s.collectHealth(c.Request.Context())
	status := http.StatusOK
	if health.Status == observability.HealthStatusDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

func (s *Server) writeError(c *gin.Context, err *apperrors.AppError) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordError(c.Request.Context(), string(err.Code), "server")
	}
	c.JSON(err.HTTPStatus, err.ToResponse())
}

// asAppError maps pipeline failures onto the API error model.
func (s *Server) asAppError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr
	}
	return apperrors.Internal(err)
}

func toAny(queries []string) []any {
	out := make([]any, len(queries))
	for i, q := range queries {
		out[i] = q
	}
	return out
}
