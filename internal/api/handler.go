package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pair-trader/internal/engine"
	"pair-trader/internal/events"
	"pair-trader/internal/monitor"
)

// Config wires the HTTP surface. An empty Password disables authentication.
type Config struct {
	Engine         engine.Service
	Bus            *events.Bus
	Metrics        *monitor.Metrics
	JWTSecret      string
	Username       string
	Password       string
	TokenTTL       time.Duration
	RateLimit      rate.Limit // per client IP
	RateBurst      int
	RequestTimeout time.Duration
	Log            zerolog.Logger
}

// Server wires HTTP endpoints around the engine facade.
type Server struct {
	Router *gin.Engine

	engine   engine.Service
	bus      *events.Bus
	metrics  *monitor.Metrics
	auth     *authenticator
	limiters *ipLimiters
	log      zerolog.Logger
	srv      *http.Server
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 72 * time.Hour
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit, cfg.RateBurst = 20, 50
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	log := cfg.Log.With().Str("component", "api").Logger()

	auth, err := newAuthenticator(cfg.Username, cfg.Password, cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	if !auth.enabled() {
		log.Warn().Msg("AUTH_PASSWORD not set; API is unauthenticated")
	}

	r := gin.New()
	s := &Server{
		Router:   r,
		engine:   cfg.Engine,
		bus:      cfg.Bus,
		metrics:  cfg.Metrics,
		auth:     auth,
		limiters: newIPLimiters(cfg.RateLimit, cfg.RateBurst),
		log:      log,
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log, cfg.Metrics))
	r.Use(s.limiters.Middleware(log))
	r.Use(TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(CORSMiddleware())

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	if s.metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.Router.Group("/api")
	{
		api.POST("/auth/login", s.login)

		protected := api.Group("")
		protected.Use(s.auth.Middleware())
		{
			protected.GET("/system/status", s.getSystemStatus)

			protected.GET("/pairs", s.getPairs)
			protected.POST("/pairs/:pair", s.triggerPair)

			protected.GET("/orders/:pair", s.getOrders)
			protected.POST("/orders/:pair", s.createOrder)
			protected.DELETE("/orders/:pair", s.cancelAll)
			protected.DELETE("/orders/:pair/:id", s.cancelOrder)
			protected.DELETE("/order/:exchange/:id", s.cancelByID)

			protected.GET("/trades", s.getTrades)
			protected.GET("/exchanges", s.getExchanges)
			protected.GET("/history", s.getHistory)
		}
	}

	// Browsers cannot set headers on websocket upgrades; the token may come as ?token=.
	s.Router.GET("/ws", s.auth.Middleware(), s.websocket)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("api listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
