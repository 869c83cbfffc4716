package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/medcare-hms/medcare/cmd/medcare/cli"
	"github.com/medcare-hms/medcare/internal/app"
	"github.com/medcare-hms/medcare/internal/billing"
	"github.com/medcare-hms/medcare/internal/catalog"
	"github.com/medcare-hms/medcare/internal/inventory"
	"github.com/medcare-hms/medcare/internal/observability"
	"github.com/medcare-hms/medcare/internal/platform/cache"
	"github.com/medcare-hms/medcare/internal/platform/db"
	"github.com/medcare-hms/medcare/internal/rbac"
	"github.com/medcare-hms/medcare/jobs"
	"github.com/medcare-hms/medcare/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(stop).ExecuteContext(ctx); err != nil {
		var code exitCode
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		var logged loggedError
		if !errors.As(err, &logged) {
			fmt.Fprintf(os.Stderr, "medcare: %v\n", err)
		}
		os.Exit(1)
	}
}

// loggedError marks a command failure that was already written to the logger.
type loggedError struct{ error }

func (e loggedError) Unwrap() error { return e.error }

// exitCode carries a non-default process exit status out of a command.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

// cliEnv is filled by the root pre-run before any command runs.
type cliEnv struct {
	cfg    *app.Config
	logger *slog.Logger
}

func newRootCmd(stop context.CancelFunc) *cobra.Command {
	rt := &cliEnv{}
	root := &cobra.Command{
		Use:           "medcare",
		Short:         "MedCare billing API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rt.cfg = cfg
			rt.logger = app.NewLogger(cfg)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.logged("serve", serve(cmd.Context(), stop, rt.cfg, rt.logger))
		},
	}

	root.AddCommand(serveCmd(rt, stop))
	root.AddCommand(migrateCmd(rt))
	root.AddCommand(tokenCmd(rt))
	root.AddCommand(jobsCmd(rt))
	return root
}

func (rt *cliEnv) logged(op string, err error) error {
	if err == nil || rt.logger == nil {
		return err
	}
	var code exitCode
	if errors.As(err, &code) {
		return err
	}
	rt.logger.Error(op, slog.Any("error", err))
	return loggedError{err}
}

func serveCmd(rt *cliEnv, stop context.CancelFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.logged("serve", serve(cmd.Context(), stop, rt.cfg, rt.logger))
		},
	}
}

func migrateCmd(rt *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.logged("migrate", migrate(cmd.Context(), rt.cfg, rt.logger))
		},
	}
}

func tokenCmd(rt *cliEnv) *cobra.Command {
	var opts cli.TokenOptions
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Out = cmd.OutOrStdout()
			issuer := app.NewAuthenticator(rt.cfg.JWTSecret, rt.cfg.JWTIssuer, rt.logger)
			if code := cli.TokenCommand(issuer, opts); code != 0 {
				return exitCode(code)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&opts.ActorID, "sub", 0, "actor id")
	cmd.Flags().StringVar(&opts.Role, "role", "", "actor role")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 8*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print JSON")
	return cmd
}

func jobsCmd(rt *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}
	redisOpts := func() asynq.RedisClientOpt {
		return asynq.RedisClientOpt{Addr: rt.cfg.RedisAddr, Password: rt.cfg.RedisPassword, DB: rt.cfg.RedisDB}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue a scheduled job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cli.NewJobsCLI(redisOpts())
			defer func() { _ = c.Close() }()
			info, err := c.Trigger(cmd.Context(), args[0])
			if err != nil {
				return rt.logged("jobs trigger", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s\n", info.Type, info.ID)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print default queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := cli.NewJobsCLI(redisOpts())
			defer func() { _ = c.Close() }()
			stats, err := c.InspectQueue()
			if err != nil {
				return rt.logged("jobs stats", err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
		},
	})
	return cmd
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		// Stats are served uncached until redis is reachable again.
		logger.Warn("redis unavailable, stats cache disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services := app.NewServices(app.ServicesParams{
		Config:      cfg,
		Logger:      logger,
		Pool:        pool,
		Redis:       redisClient,
		Metrics:     metrics,
		Integration: jobClient,
	})

	rbacMiddleware := rbac.Middleware{Logger: logger}
	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Authenticator:    app.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, logger),
		RBACMiddleware:   rbacMiddleware,
		BillingHandler:   billing.NewHandler(logger, services.Billing, rbacMiddleware),
		CatalogHandler:   catalog.NewHandler(logger, services.Catalog, rbacMiddleware),
		InventoryHandler: inventory.NewHandler(logger, services.Inventory, rbacMiddleware),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
		RequestLog:       !cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := migrations.Apply(ctx, pool)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		logger.Info("schema up to date")
		return nil
	}
	logger.Info("migrations applied", slog.Any("versions", applied))
	return nil
}
