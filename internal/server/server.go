package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/audit"
	"github.com/aman-churiwal/octra-faucet/internal/captcha"
	"github.com/aman-churiwal/octra-faucet/internal/circuitbreaker"
	"github.com/aman-churiwal/octra-faucet/internal/config"
	"github.com/aman-churiwal/octra-faucet/internal/handler"
	"github.com/aman-churiwal/octra-faucet/internal/metrics"
	"github.com/aman-churiwal/octra-faucet/internal/middleware"
	"github.com/aman-churiwal/octra-faucet/internal/octra"
	"github.com/aman-churiwal/octra-faucet/internal/ratelimit"
	"github.com/aman-churiwal/octra-faucet/internal/repository"
	"github.com/aman-churiwal/octra-faucet/internal/service"
	"github.com/aman-churiwal/octra-faucet/internal/stats"
	"github.com/aman-churiwal/octra-faucet/internal/storage"
	"github.com/aman-churiwal/octra-faucet/internal/transaction"
	"github.com/aman-churiwal/octra-faucet/internal/upstream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const poolMaxFailures = 3

type Server struct {
	router     *gin.Engine
	config     *config.Config
	logger     *zap.Logger
	redis      *storage.RedisClient
	postgres   *storage.Postgres
	pool       *upstream.Pool
	recorder   *audit.Recorder
	limiter    ratelimit.Limiter
	auth       *service.AuthService
	httpServer *http.Server

	faucetHandler    *handler.FaucetHandler
	authHandler      *handler.AuthHandler
	analyticsHandler *handler.AnalyticsHandler
	systemHandler    *handler.SystemHandler
}

// New wires the claim pipeline and the HTTP routes. Background work (node
// health probes) does not begin until Start.
func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres, logger *zap.Logger) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	amount, err := cfg.Faucet.DisbursementAmount()
	if err != nil {
		return nil, err
	}

	signer, err := transaction.NewSigner(cfg.Faucet.PrivateKey, cfg.Faucet.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("faucet keys: %w", err)
	}

	pool, err := upstream.NewPool(upstream.PoolConfig{
		Nodes:       cfg.RPC.URLs,
		Strategy:    cfg.RPC.Strategy,
		ProbePath:   "/address/" + cfg.Faucet.Address,
		Interval:    cfg.RPC.HealthInterval,
		Timeout:     cfg.RPC.ReadTimeout,
		MaxFailures: poolMaxFailures,
	}, logger)
	if err != nil {
		return nil, err
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:          "octra-rpc",
		MaxFailures:   cfg.RPC.MaxFailures,
		Timeout:       cfg.RPC.BreakerTimeout,
		OnStateChange: metrics.BreakerStateChanged,
	})

	node := octra.NewClient(octra.ClientConfig{
		Treasury:      cfg.Faucet.Address,
		ReadTimeout:   cfg.RPC.ReadTimeout,
		SubmitTimeout: cfg.RPC.SubmitTimeout,
	}, pool, breaker, logger)

	verifier := captcha.NewVerifier(cfg.Captcha.Secret, cfg.Captcha.VerifyURL, cfg.Captcha.Timeout, logger)
	statsStore := stats.NewStore(redis)

	attemptRepo := repository.NewClaimAttemptRepository(postgres)
	recorder := audit.NewRecorder(attemptRepo, audit.Options{BufferSize: cfg.Faucet.AuditBuffer}, logger)

	faucetService := service.NewFaucetService(service.FaucetConfig{
		Treasury:        cfg.Faucet.Address,
		Amount:          amount,
		AddressCooldown: cfg.Faucet.AddressCooldown,
		IPCooldown:      cfg.Faucet.IPCooldown,
	}, node, signer, verifier, ratelimit.NewCooldownStore(redis), statsStore, recorder, logger)

	analyticsService := service.NewAnalyticsService(attemptRepo)
	authService := service.NewAuthService(repository.NewUserRepository(postgres), cfg.Admin.JWTSecret, cfg.Admin.JWTExpiryHours)

	limiter, err := ratelimit.NewLimiter(redis, cfg.RateLimit.Algorithm, cfg.RateLimit.RequestsPerMinute, time.Minute)
	if err != nil {
		recorder.Close(context.Background())
		return nil, fmt.Errorf("http rate limiter: %w", err)
	}

	if err := handler.RegisterValidators(); err != nil {
		recorder.Close(context.Background())
		return nil, err
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		recorder.Close(context.Background())
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	switch cfg.Server.TrustedPlatform {
	case "cloudflare":
		router.TrustedPlatform = gin.PlatformCloudflare
	case "google_app_engine":
		router.TrustedPlatform = gin.PlatformGoogleAppEngine
	}

	s := &Server{
		router:           router,
		config:           cfg,
		logger:           logger,
		redis:            redis,
		postgres:         postgres,
		pool:             pool,
		recorder:         recorder,
		limiter:          limiter,
		auth:             authService,
		faucetHandler:    handler.NewFaucetHandler(faucetService),
		authHandler:      handler.NewAuthHandler(authService, cfg.Admin.JWTExpiryHours),
		analyticsHandler: handler.NewAnalyticsHandler(analyticsService),
		systemHandler:    handler.NewSystemHandler(faucetService, analyticsService, statsStore, breaker, pool, redis, postgres, logger),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics())
	s.router.Use(middleware.CORS(s.config.Server.AllowedOrigins))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.systemHandler.Health)
	s.router.GET("/stats", s.faucetHandler.Stats)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := s.router.Group("/", middleware.RateLimit(s.limiter, s.logger))
	{
		limited.POST("/claim", s.faucetHandler.Claim)
		limited.GET("/eligibility/:address", s.faucetHandler.Eligibility)
	}

	s.router.POST("/admin/login", middleware.RateLimit(s.limiter, s.logger), s.authHandler.Login)

	admin := s.router.Group("/admin", middleware.RequireAuth(s.auth))
	{
		admin.GET("/status", s.systemHandler.Status)
		admin.POST("/circuit-breaker/reset", s.systemHandler.ResetCircuitBreaker)
		admin.GET("/claims", s.analyticsHandler.ClaimsForAddress)
		admin.GET("/claims/:hash", s.systemHandler.ClaimByHash)
		admin.GET("/analytics", s.analyticsHandler.GetSummary)
		admin.GET("/analytics/timeseries", s.analyticsHandler.GetTimeSeries)
	}
}

// Start begins background node health checks.
func (s *Server) Start() {
	s.pool.Start()
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.logger.Info("starting faucet",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment),
		zap.String("treasury", s.config.Faucet.Address),
		zap.Strings("rpc_nodes", s.pool.Nodes()))

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, then stops the probes and drains the
// audit queue.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	s.pool.Stop()

	if err := s.recorder.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("audit recorder: %w", err))
	}

	return errors.Join(errs...)
}

// EnsureAdmin creates the configured admin account when it is missing.
func (s *Server) EnsureAdmin(ctx context.Context) error {
	email, password := s.config.Admin.Email, s.config.Admin.Password
	if email == "" || password == "" {
		s.logger.Warn("ADMIN_EMAIL or ADMIN_PASSWORD not set, admin endpoints have no account")
		return nil
	}

	created, err := s.auth.EnsureAdmin(ctx, email, password)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		s.logger.Info("admin account created", zap.String("email", email))
	}
	return nil
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
