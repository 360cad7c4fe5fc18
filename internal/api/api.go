// Package api exposes the host over HTTP so external processes can post
// background messages and inspect running agents.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"background-agents/internal/core"
	"background-agents/internal/host"
)

// Host is the part of *host.Host the API needs.
type Host interface {
	Publish(ctx context.Context, msg core.Message) error
	Agents() []host.Descriptor
}

type Config struct {
	// JWTSecret enables bearer auth on message ingress when set.
	JWTSecret   string
	CORSOrigins []string
}

type Server struct {
	host   Host
	cfg    Config
	logger *log.Logger
	engine *gin.Engine
}

func New(h Host, cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{host: h, cfg: cfg, logger: logger, engine: gin.New()}
	s.engine.Use(gin.Recovery())
	s.attachRoutes()
	return s
}

func (s *Server) attachRoutes() {
	r := s.engine
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  s.cfg.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	bg := r.Group("/api/background")
	if s.cfg.JWTSecret != "" {
		bg.Use(JWTMiddleware([]byte(s.cfg.JWTSecret)))
	}
	bg.POST("/message", s.postMessage)
	bg.GET("/agents", s.listAgents)
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) postMessage(c *gin.Context) {
	var msg core.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if msg.Sender == "" {
		if sub := c.GetString(subjectKey); sub != "" {
			msg.Sender = sub
		}
	}
	msg.Normalize()
	if err := msg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if err := s.host.Publish(c.Request.Context(), msg); err != nil {
		s.logger.Printf("api publish %s failed: %v", msg.Type, err)
		c.JSON(http.StatusBadGateway, gin.H{"err": "publish failed"})
		return
	}
	s.logger.Printf("api accepted %s (%s) from %s", msg.Type, msg.ID, msg.Sender)
	c.JSON(http.StatusAccepted, gin.H{"id": msg.ID, "message_type": msg.Type})
}

func (s *Server) listAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.host.Agents()})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("api listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
