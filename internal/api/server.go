// Package api exposes the fit service over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"curvefit/app"
)

// Server routes fit requests to the service.
type Server struct {
	router  *gin.Engine
	handler *FitHandler
	log     zerolog.Logger
}

// NewServer creates the HTTP server. Gin's mode is left to the caller.
func NewServer(service *app.FitService, log zerolog.Logger) *Server {
	s := &Server{
		router:  gin.New(),
		handler: NewFitHandler(service, log),
		log:     log,
	}
	s.router.Use(gin.Recovery(), requestLogger(log))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.router.Group("/v1")
	v1.GET("/models", s.handler.ListModels)
	v1.POST("/fits", s.handler.RunJob)
	v1.POST("/predictions", s.handler.Predict)
}

// Handler returns the router for embedding in an http.Server.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves on addr until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("starting fit API")
	return s.router.Run(addr)
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
