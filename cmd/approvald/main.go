package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/grckit/approvalflow"
	"github.com/grckit/approvalflow/api"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "approvald",
		Short: "Approval workflow engine daemon",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd)
		},
	}

	root.PersistentFlags().String("database-url", "", "Postgres connection string")
	root.PersistentFlags().String("config", "", "path to config file")

	root.AddCommand(serveCmd())
	root.AddCommand(seedCmd())

	return root
}

func initConfig(cmd *cobra.Command) error {
	viper.SetEnvPrefix("APPROVALD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	viper.SetDefault("listen-addr", ":8080")
	viper.SetDefault("scan-interval", time.Minute)

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the escalation scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().String("listen-addr", ":8080", "HTTP listen address")
	cmd.Flags().Duration("scan-interval", time.Minute, "escalation scan interval")
	cmd.Flags().String("entity-context-url", "", "base URL serving entity attributes as JSON (GET {url}/{type}/{id}) for auto-progression")

	return cmd
}

func runServe(ctx context.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := approvalflow.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	store := approvalflow.NewStore(pool)
	engine := approvalflow.NewEngine(store,
		approvalflow.WithEngineTxManager(approvalflow.NewPgTxManager(pool)),
		approvalflow.WithEngineAuthorizer(authorizerFromConfig()),
	)

	var resolver approvalflow.ContextResolver
	if contextURL := viper.GetString("entity-context-url"); contextURL != "" {
		resolver = approvalflow.NewHTTPContextResolver(contextURL, nil)
		logger.Info("entity context source configured", "url", contextURL)
	} else {
		logger.Warn("no entity-context-url configured; auto-progression rules will not be evaluated during scans")
	}

	scanner := approvalflow.NewEscalationScanner(
		engine, resolver, viper.GetDuration("scan-interval"), logger)
	go scanner.Start(ctx)
	defer scanner.Stop()

	server := &http.Server{
		Addr:         viper.GetString("listen-addr"),
		Handler:      api.NewServer(engine, approvalflow.NewMonitor(store)).Mux(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
			_ = server.Close()
		}
	}

	logger.Info("server stopped")

	return nil
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Register the standard approval chain definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := cmd.Flags().GetString("tenant")
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := approvalflow.RunMigrations(ctx, pool); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}

			engine := approvalflow.NewEngine(approvalflow.NewStore(pool),
				approvalflow.WithEngineTxManager(approvalflow.NewPgTxManager(pool)))

			if err := approvalflow.SeedStandardDefinitions(ctx, engine, tenantID); err != nil {
				return err
			}

			slog.Info("standard definitions seeded", "tenant", tenantID)

			return nil
		},
	}

	cmd.Flags().String("tenant", "default", "tenant to seed definitions for")

	return cmd
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	databaseURL := viper.GetString("database-url")
	if databaseURL == "" {
		return nil, errors.New("database-url is required (flag or APPROVALD_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// authorizerFromConfig builds role grants from the config file:
//
//	grants:
//	  alice: [ROLE_CISO, ROLE_DPO]
//	cancel_admins: [alice]
func authorizerFromConfig() *approvalflow.StaticAuthorizer {
	authorizer := approvalflow.NewStaticAuthorizer()

	for actorID, roles := range viper.GetStringMapStringSlice("grants") {
		authorizer.Grant(actorID, roles...)
	}
	for _, actorID := range viper.GetStringSlice("cancel_admins") {
		authorizer.AllowCancel(actorID)
	}

	return authorizer
}
