package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/aarogya/aarogya/internal/config"
	"github.com/aarogya/aarogya/internal/domain/directory"
	"github.com/aarogya/aarogya/internal/domain/emergency"
	"github.com/aarogya/aarogya/internal/domain/instant"
	"github.com/aarogya/aarogya/internal/domain/specialty"
	"github.com/aarogya/aarogya/internal/platform/ai"
	"github.com/aarogya/aarogya/internal/platform/auth"
	"github.com/aarogya/aarogya/internal/platform/db"
	"github.com/aarogya/aarogya/internal/platform/events"
	"github.com/aarogya/aarogya/internal/platform/meet"
	"github.com/aarogya/aarogya/internal/platform/middleware"
	"github.com/aarogya/aarogya/internal/platform/mongostore"
	"github.com/aarogya/aarogya/internal/platform/notify"
	"github.com/aarogya/aarogya/internal/platform/websocket"
	"github.com/aarogya/aarogya/migrations"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aarogya-server",
		Short: "Instant consultation matching API server",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations (postgres backend only)",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()
			pool, err := migrationPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationSource(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()
			pool, err := migrationPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

// sweepCmd runs a single expiry pass, for cron-driven deployments that do not
// keep a server running.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale instant requests once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			n, err := a.instant.ExpireDue(ctx)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			fmt.Printf("Expired %d request(s).\n", n)
			return nil
		},
	}
}

func migrationPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.StoreBackend != config.BackendPostgres {
		return nil, fmt.Errorf("migrations only apply to STORE_BACKEND=%q", config.BackendPostgres)
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func migrationSource(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds the wired services and the resources that must be closed on
// shutdown.
type app struct {
	echo      *echo.Echo
	instant   *instant.Service
	directory *directory.Service
	emergency *emergency.Service
	health    db.HealthChecker
	closers   []func(context.Context)
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
}

type repositories struct {
	doctors       directory.DoctorRepository
	patients      directory.PatientRepository
	connections   directory.ConnectionRepository
	matches       instant.MatchRepository
	notifications emergency.NotificationRepository
}

// memoryHealth answers /health/db for the in-process backend.
type memoryHealth struct{}

func (memoryHealth) Ping(context.Context) error { return nil }
func (memoryHealth) Stats() interface{}         { return map[string]string{"backend": config.BackendMemory} }

func (a *app) openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*repositories, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) { pool.Close() })
		a.health = db.PoolChecker{Pool: pool}
		logger.Info().Msg("connected to postgres")
		return &repositories{
			doctors:       directory.NewDoctorRepoPG(pool),
			patients:      directory.NewPatientRepoPG(pool),
			connections:   directory.NewConnectionRepoPG(pool),
			matches:       instant.NewMatchRepoPG(pool),
			notifications: emergency.NewNotificationRepoPG(pool),
		}, nil

	case config.BackendMongo:
		store, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(ctx context.Context) { _ = store.Close(ctx) })
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		a.health = store
		logger.Info().Str("database", cfg.MongoDatabase).Msg("connected to mongo")
		return &repositories{
			doctors:       directory.NewDoctorRepoMongo(store),
			patients:      directory.NewPatientRepoMongo(store),
			connections:   directory.NewConnectionRepoMongo(store),
			matches:       instant.NewMatchRepoMongo(store),
			notifications: emergency.NewNotificationRepoMongo(store),
		}, nil
	}

	a.health = memoryHealth{}
	logger.Warn().Msg("using in-memory store; data is lost on restart")
	patients := directory.NewPatientRepoMemory()
	return &repositories{
		doctors:       directory.NewDoctorRepoMemory(),
		patients:      patients,
		connections:   directory.NewConnectionRepoMemory(patients),
		matches:       instant.NewMatchRepoMemory(),
		notifications: emergency.NewNotificationRepoMemory(),
	}, nil
}

// provisioners returns the link source for instant consults and the one for
// emergencies. Emergencies always fall back to a room link.
func provisioners(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (meet.Provisioner, meet.Provisioner) {
	rooms := meet.RoomLink{BaseURL: cfg.MeetingFallbackBaseURL}
	if cfg.GoogleCalendarCredentials == "" {
		logger.Warn().Msg("GOOGLE_CALENDAR_CREDENTIALS not set; issuing room links")
		return rooms, rooms
	}
	google, err := meet.NewGoogleCalendar(ctx, cfg.GoogleCalendarID, option.WithCredentialsFile(cfg.GoogleCalendarCredentials))
	if err != nil {
		logger.Error().Err(err).Msg("google calendar unavailable; issuing room links")
		return rooms, rooms
	}
	return google, meet.Fallback{google, rooms}
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	repos, err := a.openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Event fan-out: websocket subscribers plus Kafka when configured.
	hub := websocket.NewHub(logger)
	publisher := events.Multi{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, func(context.Context) { _ = kafka.Close() })
		publisher = append(publisher, kafka)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
	}

	var textClassifier specialty.TextClassifier
	if cfg.GeminiAPIKey != "" {
		gemini, err := ai.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL)
		if err != nil {
			return nil, err
		}
		textClassifier = gemini
	} else {
		logger.Warn().Msg("GEMINI_API_KEY not set; symptom requests route to " + specialty.Fallback)
	}
	classifier := specialty.NewClassifier(textClassifier, logger)

	instantMeet, emergencyMeet := provisioners(ctx, cfg, logger)

	a.directory = directory.NewService(repos.doctors, repos.patients, repos.connections, logger)

	a.instant = instant.NewService(repos.matches, a.directory, classifier, instantMeet, logger)
	a.instant.SetTimeout(cfg.MatchTimeout)
	a.instant.SetPublisher(publisher)
	a.directory.SetPendingMatchChecker(a.instant)

	a.emergency = emergency.NewService(a.directory, repos.matches, repos.notifications, emergencyMeet, logger)
	a.emergency.SetPublisher(publisher)
	a.emergency.SetFallbackContact(cfg.EmergencyFallbackContact)
	if cfg.EmergencySQSQueue != "" {
		dispatcher, err := notify.NewSQSDispatcher(ctx, cfg.EmergencySQSQueue)
		if err != nil {
			return nil, err
		}
		a.emergency.SetDispatcher(dispatcher)
		logger.Info().Str("queue", cfg.EmergencySQSQueue).Msg("paging emergencies through SQS")
	}

	a.echo = newEcho(cfg, logger, a, hub)
	return a, nil
}

func newEcho(cfg *config.Config, logger zerolog.Logger, a *app, hub *websocket.Hub) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.HeaderUserID, auth.HeaderUserRole},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.health))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1", authMW, middleware.RateLimit(rateLimitCfg))
	directory.NewHandler(a.directory).RegisterRoutes(apiV1)
	instant.NewHandler(a.instant).RegisterRoutes(apiV1)
	emergency.NewHandler(a.emergency).RegisterRoutes(apiV1)

	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group("", authMW))

	return e
}

func runServer() error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise services")
	}
	defer a.close(context.Background())

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go instant.NewSweeper(a.instant, cfg.SweepInterval, logger).Run(sweepCtx)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("backend", cfg.StoreBackend).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
