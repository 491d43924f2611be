package main

import (
	"context"
	"encoding/json"
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
	"github.com/spf13/cobra"

	"github.com/nidaan/triage/internal/config"
	"github.com/nidaan/triage/internal/domain/visitdoc"
	"github.com/nidaan/triage/internal/domain/followup"
	"github.com/nidaan/triage/internal/domain/intake"
	"github.com/nidaan/triage/internal/domain/rules"
	"github.com/nidaan/triage/internal/domain/scheduling"
	"github.com/nidaan/triage/internal/domain/severity"
	"github.com/nidaan/triage/internal/domain/triage"
	"github.com/nidaan/triage/internal/platform/auth"
	"github.com/nidaan/triage/internal/platform/blobstore"
	"github.com/nidaan/triage/internal/platform/db"
	"github.com/nidaan/triage/internal/platform/middleware"
	"github.com/nidaan/triage/internal/platform/notification"
	"github.com/nidaan/triage/internal/platform/queue"
	"github.com/nidaan/triage/internal/platform/textgen"
	"github.com/nidaan/triage/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nidaan-server",
		Short:         "Symptom triage and clinical documentation API server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(classifyCmd())
	root.AddCommand(rulesCmd())
	return root
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

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg == nil || cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		schema, _ := cmd.Flags().GetString("schema")
		if schema == "" {
			schema = cfg.DBSchema
		}
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.MigrationsDir
		}

		ctx := context.Background()
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, os.DirFS(dir), schema))
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Down(ctx)
				if err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reverted %d migration(s).\n", count)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd, downCmd} {
		c.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
		c.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
		cmd.AddCommand(c)
	}
	return cmd
}

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify [symptom...]",
		Short: "Classify symptoms offline and print the analysis as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("rules")
			rs, err := rules.Load(path)
			if err != nil {
				return err
			}
			details, _ := cmd.Flags().GetString("details")
			sev, _ := cmd.Flags().GetString("severity")

			req := intake.CreateRequest{Symptoms: args, Detail: details, Severity: sev}
			if err := req.Validate(); err != nil {
				return err
			}
			analysis := intake.NewAnalyzer(severity.NewClassifier(rs)).Analyze(&intake.Case{
				Symptoms: req.Symptoms,
				Detail:   req.Detail,
				Severity: req.Severity,
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(analysis)
		},
	}
	cmd.Flags().String("details", "", "Free-text symptom details")
	cmd.Flags().String("severity", "", "Self-reported severity, 1-10")
	cmd.Flags().String("rules", "", "Rule catalogue file (defaults to the embedded catalogue)")
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the rule catalogue",
	}
	check := &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a rule catalogue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			rs, err := rules.Load(path)
			if err != nil {
				return err
			}
			name := path
			if name == "" {
				name = "embedded catalogue"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d red flags, %d condition rules, %d departments, %d staff)\n",
				name, len(rs.RedFlags), len(rs.Conditions), len(rs.Departments), len(rs.Roster))
			return nil
		},
	}
	cmd.AddCommand(check)
	return cmd
}

// app holds the wired server and the background workers it owns.
type app struct {
	echo     *echo.Echo
	pool     *pgxpool.Pool
	jobs     *queue.Queue
	notifier *notification.Manager
	cfg      *config.Config
	logger   zerolog.Logger
}

type stores struct {
	tx     db.Transactor
	ledger scheduling.Ledger
	queue  triage.Queue
	plans  followup.PlanRepository
	cases  intake.CaseRepository
	runs   intake.RunRepository
	visits visitdoc.VisitRepository
}

func memoryStores() stores {
	return stores{
		tx:     db.NopTransactor{},
		ledger: scheduling.NewMemoryLedger(),
		queue:  triage.NewMemoryQueue(),
		plans:  followup.NewMemoryRepo(),
		cases:  intake.NewMemoryCaseRepo(),
		runs:   intake.NewMemoryRunRepo(),
		visits: visitdoc.NewMemoryRepo(),
	}
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		tx:     db.NewTransactor(pool),
		ledger: scheduling.NewLedgerPG(pool),
		queue:  triage.NewQueuePG(pool),
		plans:  followup.NewPlanRepoPG(pool),
		cases:  intake.NewCaseRepoPG(pool),
		runs:   intake.NewRunRepoPG(pool),
		visits: visitdoc.NewVisitRepoPG(pool),
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	rs, err := rules.Load(cfg.RulesFile)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	st := memoryStores()
	if cfg.UsesPostgres() {
		a.pool, err = openPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		st = postgresStores(a.pool)
		logger.Info().Msg("connected to database")
	} else {
		logger.Warn().Msg("using in-memory stores; data is lost on restart")
	}

	hub := websocket.NewHub(logger)
	logSender := notification.NewLogSender(logger)
	a.notifier = notification.NewManager(map[notification.Channel]notification.Sender{
		notification.ChannelEmail: logSender,
		notification.ChannelSMS:   logSender,
		notification.ChannelCall:  logSender,
		notification.ChannelPush:  logSender,
	}, nil, logger)
	a.jobs = queue.New(cfg.PipelineQueueSize, cfg.PipelineWorkers, cfg.PipelineJobTimeout, logger)

	// Triage workflow
	classifier := severity.NewClassifier(rs)
	analyzer := intake.NewAnalyzer(classifier)
	schedSvc := scheduling.NewService(rs, st.ledger, a.notifier, loc, logger)
	triageSvc := triage.NewService(rs, st.queue, logger)
	followupSvc := followup.NewService(followup.NewPlanner(rs), st.plans, a.notifier, loc, logger)
	orchestrator := intake.NewOrchestrator(analyzer, schedSvc, triageSvc, followupSvc, hub, logger)
	intakeSvc := intake.NewService(intake.Deps{
		Cases:        st.cases,
		Runs:         st.runs,
		Tx:           st.tx,
		Orchestrator: orchestrator,
		Analyzer:     analyzer,
		Slots:        schedSvc,
		Queue:        triageSvc,
		FollowUps:    followupSvc,
		Logger:       logger,
	})

	// Documentation pipeline
	var next textgen.Generator
	if cfg.TextgenURL != "" {
		next = textgen.NewHTTPClient(&http.Client{}, textgen.Config{
			URL:    cfg.TextgenURL,
			APIKey: cfg.TextgenAPIKey,
			Model:  cfg.TextgenModel,
		})
	}
	gen := textgen.NewBounded(next, cfg.TextgenTimeout, cfg.TextgenFallback, logger)

	var speech visitdoc.Transcriber
	if cfg.SpeechURL != "" {
		speech = visitdoc.NewSpeechClient(&http.Client{}, visitdoc.SpeechConfig{
			URL:     cfg.SpeechURL,
			APIKey:  cfg.SpeechAPIKey,
			Timeout: cfg.TextgenTimeout,
		})
	}
	transcriber := visitdoc.NewFallback(speech, !cfg.TextgenFallback, logger)

	blobs := blobstore.NewInMemoryBlobStore()
	pipeline := visitdoc.NewPipeline(st.visits, blobs, transcriber, gen, classifier, hub, logger)
	docSvc := visitdoc.NewService(st.visits, blobs, pipeline, a.jobs, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Clinic-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(cfg.DefaultClinic))
	} else {
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}
		if cfg.AuthJWTSecret != "" {
			jwtCfg.SigningKey = []byte(cfg.AuthJWTSecret)
		}
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.pool, map[string]db.StatsFunc{
		"queue":         func() interface{} { return a.jobs.Stats() },
		"websocket":     func() interface{} { return hub.Stats() },
		"notifications": func() interface{} { return a.notifier.Stats() },
	}))

	websocket.NewHandler(hub, auth.ClinicOf, cfg.CORSOrigins, logger).RegisterRoutes(e.Group(""))

	apiV1 := e.Group("/api/v1")
	intake.NewHandler(intakeSvc).RegisterRoutes(apiV1)
	scheduling.NewHandler(schedSvc).RegisterRoutes(apiV1)
	triage.NewHandler(triageSvc).RegisterRoutes(apiV1)
	followup.NewHandler(followupSvc).RegisterRoutes(apiV1)
	visitdoc.NewHandler(docSvc).RegisterRoutes(apiV1)

	staff := apiV1.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician, auth.RoleNurse))
	notification.NewHandler(a.notifier).RegisterRoutes(staff)
	blobstore.NewBlobHandler(blobs, auth.ClinicOf).RegisterRoutes(staff)

	a.echo = e
	return a, nil
}

// start launches the pipeline workers and the notification dispatcher.
func (a *app) start(ctx context.Context) {
	a.jobs.Start(ctx)
	go a.notifier.Run(ctx, a.cfg.ReminderInterval)
}

func (a *app) shutdown(ctx context.Context) error {
	err := a.echo.Shutdown(ctx)
	a.jobs.Stop(ctx)
	if a.pool != nil {
		a.pool.Close()
	}
	return err
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()

	a, err := buildApp(workCtx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	a.start(workCtx)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreDriver).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
