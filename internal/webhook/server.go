// Package webhook is the inbound HTTP surface: it accepts gateway
// webhook deliveries, maps them onto pipeline events, and hands them to
// the dispatcher before the gateway's delivery timeout expires.
package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quailyquaily/wamorph/internal/pipeline"
)

// Pinger reports reachability of one backing component.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Enqueuer admits an event for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev pipeline.Event) error
}

type Options struct {
	Dispatcher Enqueuer

	// Health probes; a nil probe is reported as skipped.
	KV      Pinger
	DB      Pinger
	Gateway Pinger

	Logger *slog.Logger
}

type Server struct {
	dispatcher Enqueuer
	kv         Pinger
	db         Pinger
	gateway    Pinger
	logger     *slog.Logger
	engine     *gin.Engine
}

const (
	healthProbeTimeout = 3 * time.Second
	maxWebhookBody     = 1 << 20
)

func New(opts Options) (*Server, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		dispatcher: opts.Dispatcher,
		kv:         opts.KV,
		db:         opts.DB,
		gateway:    opts.Gateway,
		logger:     logger,
		engine:     gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestID())
	s.engine.GET("/health", s.handleHealth)
	s.engine.POST("/webhook", s.handleWebhook)
	return s, nil
}

// Handler exposes the routed engine for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

const requestIDKey = "request_id"

// requestID tags each delivery so log lines from the same request can
// be correlated. Gateways do not send one, so it is always generated.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	components := gin.H{}
	healthy := true
	for name, p := range map[string]Pinger{
		"kv":      s.kv,
		"db":      s.db,
		"gateway": s.gateway,
	} {
		if p == nil {
			components[name] = "skipped"
			continue
		}
		if err := p.Ping(ctx); err != nil {
			components[name] = err.Error()
			healthy = false
			continue
		}
		components[name] = "ok"
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "components": components})
}

// handleWebhook acknowledges the delivery as soon as the event is
// queued; the reply itself is produced asynchronously.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "detail": "unreadable body"})
		return
	}

	ev, ok, err := ParseEvent(body)
	if err != nil {
		s.logger.Warn("webhook_decode_error", "error", err.Error(), "request_id", c.GetString(requestIDKey))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "detail": "malformed payload"})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := s.dispatcher.Enqueue(c.Request.Context(), ev); err != nil {
		s.logger.Error("webhook_enqueue_error", "error", err.Error(), "chat_id", ev.ChatID, "request_id", c.GetString(requestIDKey))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "detail": "queue unavailable"})
		return
	}

	s.logger.Debug("webhook_event_queued",
		"message_id", ev.MessageID,
		"chat_id", ev.ChatID,
		"type", string(ev.Type),
		"request_id", c.GetString(requestIDKey),
	)
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
