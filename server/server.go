// Package server is the HTTP boundary: inbound customer messages, advisor replies,
// scheduled timeout deliveries and the outbox polled by the transport collaborator.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	"github.com/tanpawarit/chative-lead-dispatch/pkg/metrics"
)

const requestIDHeader = "X-Request-ID"

type Engine interface {
	HandleMessage(ctx context.Context, msg contractx.InboundMessage) (contractx.Reply, error)
	HandleAdvisorReply(ctx context.Context, r contractx.AdvisorReply) (contractx.Ack, error)
}

type EventHandler interface {
	Handle(ctx context.Context, ev contractx.DispatchEvent) (contractx.Ack, error)
}

// Verifier checks the signature of a scheduled delivery.
type Verifier interface {
	Verify(signature string, body []byte, url string) error
}

type Options struct {
	Engine    Engine
	Events    EventHandler
	Directory contractx.Directory
	Outbox    contractx.Outbox

	// Verifier is optional; without it /internal/timeouts accepts unsigned events.
	Verifier      Verifier
	SignatureURL  string
	SignatureName string
}

type Server struct {
	opts   Options
	router *gin.Engine
}

func New(opts Options) (*Server, error) {
	switch {
	case opts.Engine == nil:
		return nil, errors.New("server: engine is required")
	case opts.Events == nil:
		return nil, errors.New("server: dispatch event handler is required")
	case opts.Directory == nil:
		return nil, errors.New("server: advisor directory is required")
	case opts.Outbox == nil:
		return nil, errors.New("server: outbox is required")
	}
	if opts.SignatureName == "" {
		opts.SignatureName = "Upstash-Signature"
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog())

	s := &Server{opts: opts, router: router}
	s.registerRoutes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	if port <= 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	log.Info().Int("port", port).Msg("http server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.HTTPDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())

		event := log.Debug()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("http request")
	}
}
