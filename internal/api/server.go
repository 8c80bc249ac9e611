package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/devprobe-project/devprobe/internal/cli"
	"github.com/devprobe-project/devprobe/internal/client"
	"github.com/devprobe-project/devprobe/internal/config"
	intnet "github.com/devprobe-project/devprobe/internal/network"
	"github.com/devprobe-project/devprobe/internal/util"
)

// ListenerState reports the listener lifecycle state.
type ListenerState interface {
	State() client.State
}

// Deps are the runtime collaborators the API exposes.
type Deps struct {
	Client   config.ClientConfig
	Sender   cli.Sender
	Stats    cli.StatsSource
	History  cli.HistorySource // nil when the journal is disabled
	Listener ListenerState
}

// Server is the local REST API.
type Server struct {
	cfg    config.APIConfig
	deps   Deps
	host   util.HostInfo
	logger zerolog.Logger

	router     *gin.Engine
	httpServer *http.Server
	ln         net.Listener
}

// NewServer creates the API server and builds its router.
func NewServer(cfg config.APIConfig, deps Deps, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		host:   util.GetHostInfo(),
		logger: util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start binds 127.0.0.1:<port> and serves in the background until Stop.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Port))

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	s.ln = ln

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("REST API server starting")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.cfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/ping", s.handlePing)
		v1.GET("/status", s.handleStatus)
		v1.GET("/messages", s.handleMessages)
		v1.POST("/send/:command", s.handleSend)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
