package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	orchestrator "github.com/tanpawarit/chative-lead-dispatch/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	"github.com/tanpawarit/chative-lead-dispatch/agent/ledger"
	"github.com/tanpawarit/chative-lead-dispatch/pkg/metrics"
)

const (
	maxEventBody      = 64 << 10
	defaultOutboxPage = 50
	maxOutboxPage     = 500
)

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.router.Group("/v1")
	v1.POST("/messages", s.handleMessage)
	v1.POST("/advisor-replies", s.handleAdvisorReply)
	v1.GET("/advisors", s.handleAdvisors)
	v1.GET("/outbox", s.handleOutbox)
	v1.POST("/outbox/:id/ack", s.handleOutboxAck)

	s.router.POST("/internal/timeouts", s.handleTimeout)
}

func (s *Server) handleMessage(c *gin.Context) {
	var msg contractx.InboundMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	reply, err := s.opts.Engine.HandleMessage(c.Request.Context(), msg)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) handleAdvisorReply(c *gin.Context) {
	var r contractx.AdvisorReply
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	ack, err := s.opts.Engine.HandleAdvisorReply(c.Request.Context(), r)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

func (s *Server) handleAdvisors(c *gin.Context) {
	advisors, err := s.opts.Directory.ListActiveAdvisors(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if advisors == nil {
		advisors = []contractx.Advisor{}
	}
	c.JSON(http.StatusOK, gin.H{"advisors": advisors})
}

// handleTimeout receives a scheduled dispatch event. Duplicate deliveries are acknowledged
// as ignored by the dispatcher.
func (s *Server) handleTimeout(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if s.opts.Verifier != nil {
		if err := s.opts.Verifier.Verify(c.GetHeader(s.opts.SignatureName), body, s.opts.SignatureURL); err != nil {
			log.Warn().Err(err).Msg("rejected unsigned dispatch event")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	var ev contractx.DispatchEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	ack, err := s.opts.Events.Handle(c.Request.Context(), ev)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

func (s *Server) handleOutbox(c *gin.Context) {
	limit := defaultOutboxPage
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxOutboxPage)
	}
	msgs, err := s.opts.Outbox.PendingOutbox(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if msgs == nil {
		msgs = []contractx.OutboundMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleOutboxAck(c *gin.Context) {
	id := c.Param("id")
	if err := s.opts.Outbox.AckOutbox(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "acked"})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", c.GetString("request_id")).Str("route", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, contractx.ErrValidation),
		errors.Is(err, contractx.ErrInvalidDecision),
		errors.Is(err, orchestrator.ErrInvalidMessage),
		errors.Is(err, orchestrator.ErrInvalidClient):
		return http.StatusBadRequest
	case errors.Is(err, contractx.ErrAssignmentNotFound),
		errors.Is(err, ledger.ErrOutboxNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
