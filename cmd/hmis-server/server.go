package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/bristolpark/hmis/internal/config"
	"github.com/bristolpark/hmis/internal/domain/admissions"
	"github.com/bristolpark/hmis/internal/domain/ambulance"
	"github.com/bristolpark/hmis/internal/domain/bloodbank"
	"github.com/bristolpark/hmis/internal/domain/clinical"
	"github.com/bristolpark/hmis/internal/domain/documents"
	"github.com/bristolpark/hmis/internal/domain/pharmacy"
	"github.com/bristolpark/hmis/internal/domain/radiology"
	"github.com/bristolpark/hmis/internal/domain/staff"
	"github.com/bristolpark/hmis/internal/platform/auth"
	"github.com/bristolpark/hmis/internal/platform/blobstore"
	"github.com/bristolpark/hmis/internal/platform/db"
	"github.com/bristolpark/hmis/internal/platform/middleware"
	"github.com/bristolpark/hmis/internal/platform/modules"
	"github.com/bristolpark/hmis/internal/platform/notification"
	"github.com/bristolpark/hmis/internal/platform/reporting"
	"github.com/bristolpark/hmis/internal/platform/sequence"
	"github.com/bristolpark/hmis/internal/platform/telemetry"
	"github.com/bristolpark/hmis/internal/platform/websocket"
)

const (
	// Daily token keys and yearly request/call keys share one TTL.
	sequenceTTL      = 400 * 24 * time.Hour
	revokerSweep     = time.Minute
	toastSweep       = time.Second
	devSigningKey    = "bristol-park-development-only"
	defaultBodyLimit = "2M"
)

// backends holds the optional infrastructure picked from config: Redis or
// memory for counters and logouts, MinIO or memory for documents.
type backends struct {
	sequencer sequence.Sequencer
	revoker   auth.Revoker
	store     blobstore.ObjectStore
	checks    map[string]db.HealthCheck
	closers   []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backends, error) {
	b := &backends{checks: map[string]db.HealthCheck{}}

	if cfg.UseRedis() {
		client, err := sequence.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { client.Close() })
		b.sequencer = sequence.NewRedisSequencer(client, sequenceTTL)
		b.revoker = auth.NewRedisRevoker(client)
		b.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info().Msg("using redis for sequences and token revocation")
	} else {
		mem := auth.NewMemoryRevoker(revokerSweep)
		b.closers = append(b.closers, mem.Close)
		b.sequencer = sequence.NewMemorySequencer()
		b.revoker = mem
		logger.Warn().Msg("REDIS_URL not set, sequences are kept in memory and seeded from the database, logouts are kept in memory")
	}

	if cfg.UseMinio() {
		store, err := blobstore.NewMinioStore(ctx, blobstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			b.close()
			return nil, err
		}
		b.store = store
		b.checks["minio"] = store.Ping
		logger.Info().Str("bucket", cfg.MinioBucket).Msg("using minio for documents")
	} else {
		b.store = blobstore.NewMemoryStore(fmt.Sprintf("http://localhost:%s/files", cfg.Port))
		logger.Warn().Msg("MINIO_ENDPOINT not set, documents are kept in memory")
	}
	return b, nil
}

// signingKey returns the JWT key. Development falls back to a fixed key so
// login works without configuration.
func signingKey(cfg *config.Config) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	if cfg.IsDev() {
		return []byte(devSigningKey), nil
	}
	return nil, errors.New("JWT_SECRET is required")
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	return rl
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stdout)
	if err := cfg.Validate(); err != nil {
		return err
	}
	key, err := signingKey(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBSchema)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	metrics := telemetry.NewMetrics()
	metrics.RegisterPoolStats(func() (int32, int32, int32) {
		s := pool.Stat()
		return s.TotalConns(), s.IdleConns(), s.AcquiredConns()
	})

	hub := websocket.NewHub(logger)
	ambulance.WatchFleet(hub, logger)

	toasts := notification.NewManager(cfg.ToastTTL, notification.NewTemplateEngine(), hub,
		notification.NewLogSMSSender(logger), logger)
	go toasts.Run(ctx, toastSweep)

	e := newEcho(cfg, logger, metrics)
	e.GET("/health", db.HealthHandler(pool, b.checks))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	jwtCfg := auth.JWTConfig{SigningKey: key, Issuer: "bristol-park-hmis", Revoker: b.revoker}
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}
	rateLimit := middleware.RateLimit(rateLimitConfig(cfg))
	scope := db.ScopeMiddleware(pool, cfg.DBSchema, cfg.DefaultBranch)
	audit := middleware.Audit(logger)

	// Login is the only unauthenticated route. The public group is created
	// first so the api group's catch-all wins for unknown paths.
	public := e.Group("/api/v1", rateLimit)
	api := e.Group("/api/v1", rateLimit, authMW, audit)
	scoped := api.Group("", scope)

	websocket.NewWebSocketHandler(hub, cfg.CORSOrigins).RegisterRoutes(api)
	notification.NewHandler(toasts).RegisterRoutes(api, nil)

	d := &deps{
		pool:    pool,
		tx:      db.NewTxManager(pool),
		hub:     hub,
		toasts:  toasts,
		metrics: metrics,
		b:       b,
		logger:  logger,
		tokens: staff.TokenConfig{
			SigningKey: key,
			Issuer:     jwtCfg.Issuer,
			TTL:        cfg.JWTExpiresIn,
		},
	}
	reg := d.buildModules()
	reg.Mount(scoped, public)
	logger.Info().Strs("modules", reg.Names()).Msg("modules mounted")

	adm := e.Group("/api/admissions", rateLimit, authMW, scope, audit)
	admissions.NewHandler(admissions.NewService(admissions.NewRepoPG(pool)), logger).RegisterRoutes(adm)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newEcho(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.BranchHeader, auth.LegacyTokenHeader},
	}))
	e.Use(middleware.BodyLimit(defaultBodyLimit, fmt.Sprintf("%d", blobstore.MaxFileSize+1<<20)))
	return e
}

// deps is everything the domain services share.
type deps struct {
	pool    *pgxpool.Pool
	tx      db.Transactor
	hub     *websocket.Hub
	toasts  *notification.Manager
	metrics telemetry.Recorder
	b       *backends
	logger  zerolog.Logger
	tokens  staff.TokenConfig
}

// buildModules builds every /api/v1 domain module.
func (d *deps) buildModules() *modules.Registry {
	pool := d.pool
	reg := modules.NewRegistry()

	bb := bloodbank.NewService(bloodbank.NewUnitRepoPG(pool), bloodbank.NewDonorRepoPG(pool),
		bloodbank.NewRequestRepoPG(pool), d.b.sequencer)
	bb.SetTransactor(d.tx)
	bb.SetPublisher(d.hub)
	bb.SetNotifier(d.toasts)
	bb.SetRecorder(d.metrics)
	reg.MustRegister("bloodbank", bloodbank.NewHandler(bb))

	amb := ambulance.NewService(ambulance.NewAmbulanceRepoPG(pool), ambulance.NewCrewRepoPG(pool),
		ambulance.NewCallRepoPG(pool), ambulance.NewMaintenanceRepoPG(pool), d.b.sequencer)
	amb.SetTransactor(d.tx)
	amb.SetPublisher(d.hub)
	amb.SetRecorder(d.metrics)
	reg.MustRegister("ambulance", ambulance.NewHandler(amb))

	rad := radiology.NewService(radiology.NewTestRepoPG(pool), radiology.NewRequestRepoPG(pool),
		radiology.NewExternalPatientRepoPG(pool))
	rad.SetTransactor(d.tx)
	rad.SetPublisher(d.hub)
	rad.SetNotifier(d.toasts)
	rad.SetRecorder(d.metrics)
	reg.MustRegister("radiology", radiology.NewHandler(rad))

	cl := clinical.NewService(clinical.NewQueueRepoPG(pool), d.b.sequencer)
	cl.SetTransactor(d.tx)
	cl.SetPublisher(d.hub)
	cl.SetNotifier(d.toasts)
	cl.SetRecorder(d.metrics)
	reg.MustRegister("clinical", clinical.NewHandler(cl))

	ph := pharmacy.NewService(pharmacy.NewPrescriptionRepoPG(pool), pharmacy.NewInventoryRepoPG(pool),
		pharmacy.NewMovementRepoPG(pool), pharmacy.NewStockTakeRepoPG(pool), pharmacy.NewTransferRepoPG(pool))
	ph.SetTransactor(d.tx)
	ph.SetPublisher(d.hub)
	ph.SetNotifier(d.toasts)
	ph.SetRecorder(d.metrics)
	reg.MustRegister("pharmacy", pharmacy.NewHandler(ph))

	docs := documents.NewService(documents.NewRepoPG(pool), d.b.store)
	docs.SetPublisher(d.hub)
	docs.SetLogger(d.logger)
	reg.MustRegister("documents", documents.NewHandler(docs))

	st := staff.NewService(staff.NewRepoPG(pool), d.tokens)
	st.SetRevoker(d.b.revoker)
	reg.MustRegister("staff", staff.NewHandler(st))

	reg.MustRegister("reporting", reporting.NewHandler(pool))
	return reg
}
