package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taskhive/taskhive/internal/app"
	"github.com/taskhive/taskhive/internal/services"
	"github.com/taskhive/taskhive/pkg/logger"
)

const (
	appName         = "taskhive"
	shutdownTimeout = 15 * time.Second
)

// Version is overridden at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Multi-tenant authentication and approval service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration directory or file")

	cmd.AddCommand(
		serveCmd(&configPath),
		cleanupCmd(&configPath),
		createAdminCmd(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, Version)
			},
		},
	)

	return cmd
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := prepare(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() // best effort
			return serve(cmd.Context(), cfg)
		},
	}
}

func cleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge expired tokens, cache entries and old audit logs once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := prepare(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() // best effort

			log := logger.WithModule("bootstrap")
			stack, err := bootstrapRuntime(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer stack.Shutdown(context.Background(), log)

			return stack.Cleaner.RunOnce(cmd.Context())
		},
	}
}

func createAdminCmd(configPath *string) *cobra.Command {
	var account services.AccountInput

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an active system administrator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := prepare(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() // best effort

			if account.Password == "" {
				account.Password = os.Getenv("TASKHIVE_ADMIN_PASSWORD")
			}

			log := logger.WithModule("bootstrap")
			stack, err := bootstrapRuntime(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer stack.Shutdown(context.Background(), log)

			admin, err := stack.Registrations.CreateSystemAdmin(cmd.Context(), account)
			if err != nil {
				return fmt.Errorf("create system admin: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created system admin %s (%s)\n", admin.Email, admin.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&account.Email, "email", "", "Administrator email")
	cmd.Flags().StringVar(&account.Name, "name", "Administrator", "Administrator display name")
	cmd.Flags().StringVar(&account.Password, "password", "", "Administrator password (defaults to $TASKHIVE_ADMIN_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// prepare loads configuration, validates secrets and configures logging.
func prepare(configPath string) (*app.Config, error) {
	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.Auth.ValidateSecrets(); err != nil {
		return nil, err
	}

	if err := app.ConfigureLogging(cfg.Server); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	return cfg, nil
}

func serve(ctx context.Context, cfg *app.Config) error {
	log := logger.WithModule("bootstrap")

	stack, err := bootstrapRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stack.Shutdown(context.Background(), log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           stack.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	if strings.TrimSpace(path) == "" {
		return app.LoadConfig()
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return app.LoadConfig(path)
	case err == nil:
		return app.LoadConfig(filepath.Dir(path))
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config path %q does not exist", path)
	default:
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}
