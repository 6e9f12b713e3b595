package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trigg3rX/taskmarket/internal/taskmarket/session"
	"github.com/trigg3rX/taskmarket/pkg/logging"
)

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	session    *session.Session
	logger     logging.Logger
}

func NewServer(sess *session.Session, port string, logger logging.Logger) *Server {
	router := gin.New()

	srv := &Server{
		router:  router,
		session: sess,
		logger:  logger,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	h := NewHandler(s.session, s.logger)

	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/status", h.HandleStatus)
	s.router.GET("/snapshot", h.HandleSnapshot)
	s.router.POST("/sync", h.HandleSync)
	s.router.GET("/events", h.HandleEvents)

	tasks := s.router.Group("/tasks")
	{
		tasks.GET("/open", h.HandleOpenTasks)
		tasks.GET("/created", h.HandleCreatedTasks)
		tasks.GET("/submitted", h.HandleSubmittedTasks)
		tasks.GET("/:id/actions", h.HandleTaskActions)
	}

	s.router.GET("/reviews", h.HandleReviews)
	s.router.POST("/actions/:action", h.HandleAction)
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the server is shut down. It returns nil after a
// graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP API listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP API")
	return s.httpServer.Shutdown(ctx)
}
