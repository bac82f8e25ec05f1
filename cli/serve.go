package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/copseworks/forage/invoke"
	forageotel "github.com/copseworks/forage/otel"
	"github.com/copseworks/forage/server"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the forage HTTP API server",
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().String("sqlite-path", "", "Path to SQLite database (default: ~/.forage/forage.db)")
	cmd.Flags().String("tls-cert", "", "TLS certificate file")
	cmd.Flags().String("tls-key", "", "TLS key file")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 5*time.Minute, "HTTP write timeout")
	cmd.Flags().Int64("max-body", 10<<20, "Max request body size in bytes")
	cmd.Flags().Duration("schedule-poll", 5*time.Second, "Fetch schedule poll interval")
	cmd.Flags().Duration("upstream-timeout", 2*time.Minute, "Upstream provider request timeout")
	cmd.Flags().String("otlp-endpoint", "", "OTLP trace exporter endpoint (disables tracing when empty)")
	cmd.Flags().Bool("otlp-insecure", false, "Use plain HTTP for the OTLP exporter")
	cmd.Flags().Bool("auth", true, "Require a login session for the credential and schedule routes")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	corsOrigin, _ := cmd.Flags().GetString("cors-origin")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	maxBody, _ := cmd.Flags().GetInt64("max-body")
	schedulePoll, _ := cmd.Flags().GetDuration("schedule-poll")
	upstreamTimeout, _ := cmd.Flags().GetDuration("upstream-timeout")
	tlsCert, _ := cmd.Flags().GetString("tls-cert")
	tlsKey, _ := cmd.Flags().GetString("tls-key")
	otlpEndpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	otlpInsecure, _ := cmd.Flags().GetBool("otlp-insecure")
	authEnabled, _ := cmd.Flags().GetBool("auth")

	logger := slog.Default()

	// --- Observability ---
	if strings.TrimSpace(otlpEndpoint) != "" {
		shutdown, err := forageotel.Setup(cmd.Context(), forageotel.SetupConfig{
			ServiceName: "forage",
			Endpoint:    otlpEndpoint,
			Insecure:    otlpInsecure,
		})
		if err != nil {
			return fmt.Errorf("initializing observability: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}
	metrics, err := forageotel.NewFetchMetrics(otelapi.GetMeterProvider().Meter("forage/server"))
	if err != nil {
		return fmt.Errorf("initializing fetch metrics: %w", err)
	}

	// --- Stores ---
	sqliteDSN, err := resolveServeSQLiteDSN(cmd)
	if err != nil {
		return err
	}
	db, err := server.OpenSQLite(sqliteDSN)
	if err != nil {
		return fmt.Errorf("opening sqlite database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	credentialStore, err := server.NewCredentialSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	runStore, err := server.NewRunSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	scheduleStore, err := server.NewScheduleSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("opening schedule store: %w", err)
	}

	var authStore server.AuthStore
	if authEnabled {
		store, err := server.NewAuthSQLiteStore(db)
		if err != nil {
			return fmt.Errorf("opening auth store: %w", err)
		}
		authStore = store
	} else {
		logger.Warn("session auth disabled, credential and schedule routes are open")
	}

	// --- API server ---
	invoker := invoke.NewClient(invoke.ClientConfig{Timeout: upstreamTimeout})

	apiServer := server.NewServer(server.ServerConfig{
		Invoker:     invoker,
		Credentials: credentialStore,
		Runs:        runStore,
		Schedules:   scheduleStore,
		Auth:        authStore,
		Metrics:     metrics,
		Tracer:      otelapi.GetTracerProvider().Tracer("forage/server"),
		CORSOrigin:  corsOrigin,
		MaxBody:     maxBody,
		Logger:      logger,
	})

	scheduler, err := server.NewFetchScheduler(server.FetchSchedulerConfig{
		Runner:       apiServer,
		Store:        scheduleStore,
		PollInterval: schedulePoll,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating fetch scheduler: %w", err)
	}
	if err := scheduler.Start(cmd.Context()); err != nil {
		return fmt.Errorf("starting fetch scheduler: %w", err)
	}
	defer func() {
		_ = scheduler.Stop(context.Background())
	}()

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	// Signal handling
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "forage listening on %s\n", addr)
		if tlsCert != "" && tlsKey != "" {
			errCh <- httpServer.ListenAndServeTLS(tlsCert, tlsKey)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

func resolveServeSQLiteDSN(cmd *cobra.Command) (string, error) {
	sqlitePath, _ := cmd.Flags().GetString("sqlite-path")
	dsn := strings.TrimSpace(sqlitePath)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("FORAGE_SQLITE_PATH"))
	}
	if dsn == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving default sqlite path: %w", err)
		}
		dir := filepath.Join(home, ".forage")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dir, "forage.db")
	}

	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = filepath.Clean(dsn)
	}
	return dsn, nil
}
