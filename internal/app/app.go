// Package app wires the conclave control plane's components together:
// directory sync (C1-C5, C8), the job executor fabric (C6/C7), the
// logical-replication event bus (C9-C11), the presence registry (C12), and
// the maintenance HTTP surface, per the CLI contract in cmd/conclave.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/edgemark/conclave/internal/config"
	"github.com/edgemark/conclave/internal/httpserver"
	"github.com/edgemark/conclave/internal/platform"
	"github.com/edgemark/conclave/internal/telemetry"
	"github.com/edgemark/conclave/pkg/account"
	"github.com/edgemark/conclave/pkg/directory"
	"github.com/edgemark/conclave/pkg/directorysync"
	"github.com/edgemark/conclave/pkg/idp"
	"github.com/edgemark/conclave/pkg/idp/entra"
	"github.com/edgemark/conclave/pkg/idp/google"
	"github.com/edgemark/conclave/pkg/idp/okta"
	"github.com/edgemark/conclave/pkg/idp/workos"
	"github.com/edgemark/conclave/pkg/jobs"
	"github.com/edgemark/conclave/pkg/presence"
	"github.com/edgemark/conclave/pkg/replication"
)

// Migrate applies the control plane's schema migrations and exits.
func Migrate(cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}

// Serve runs every long-lived component until ctx is cancelled: the
// directory sync scheduler and token refresher, the replication consumer,
// and the maintenance HTTP server.
func Serve(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting conclave", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	metricsReg := telemetry.NewRegistry(telemetry.All()...)

	accounts := account.NewStore(db)
	providers := directory.NewStore(db)
	clients := idpClients()
	orchestrator := directorysync.NewOrchestrator(db, accounts, providers, clients, logger)
	scheduler := directorysync.NewScheduler(providers, orchestrator, logger)

	refreshers, err := refresherRegistry(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building token refresh registry: %w", err)
	}
	refresher := directorysync.NewTokenRefresher(providers, refreshers, logger)

	syncInterval, err := time.ParseDuration(cfg.SyncTickInterval)
	if err != nil {
		return fmt.Errorf("parsing SYNC_TICK_INTERVAL: %w", err)
	}
	refreshInterval, err := time.ParseDuration(cfg.TokenRefreshInterval)
	if err != nil {
		return fmt.Errorf("parsing TOKEN_REFRESH_INTERVAL: %w", err)
	}

	// The sync scheduler must run exactly once cluster-wide per spec §4.8,
	// so it is hosted under the global (leader-elected) executor. Token
	// refresh is idempotent and safe to run redundantly on every node, so
	// it runs under the plain concurrent executor (spec §4.5).
	syncExecutor := jobs.NewGlobalExecutor("directory-sync-scheduler", db, func(ctx context.Context) error {
		return scheduler.Tick(ctx)
	}, syncInterval, logger)
	refreshExecutor := jobs.NewConcurrentExecutor("token-refresher", func(ctx context.Context) error {
		return refresher.Tick(ctx)
	}, refreshInterval, 0, logger)

	registry := presence.NewRegistry()
	gatewayHook := replication.NewGatewayHook(registry, logger)
	relayHook := replication.NewRelayHook(registry, logger)
	hooks := map[string]replication.Hook{
		"gateways": gatewayHook,
		"relays":   relayHook,
	}
	metricsSink := func(table, op string) {
		telemetry.ReplicationEventsDispatchedTotal.WithLabelValues(table, op).Inc()
	}

	connector := func(ctx context.Context) error {
		return runReplicationConnection(ctx, cfg, hooks, metricsSink, logger)
	}
	lockAcquirer := replication.NewPoolLockAcquirer(db)
	replicationManager := replication.NewManager(lockAcquirer, connector, logger)

	srv := httpserver.NewServer(logger, db, rdb, metricsReg)
	srv.SetLeaderProbe("directory-sync-scheduler", syncExecutor.IsLeader)
	httpSrv := &http.Server{Addr: cfg.ListenAddr(), Handler: srv}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return syncExecutor.Run(gctx) })
	g.Go(func() error { return refreshExecutor.Run(gctx) })
	g.Go(func() error { return runReplicationManagerLoop(gctx, replicationManager, logger) })
	g.Go(func() error {
		logger.Info("maintenance http server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// runReplicationManagerLoop restarts the replication manager after a
// failed connection, per spec §4.10's supervisor expectation, instead of
// letting a single transient disconnect tear down the whole process.
func runReplicationManagerLoop(ctx context.Context, m *replication.Manager, logger *slog.Logger) error {
	for {
		if err := m.Run(ctx); err != nil {
			logger.Error("replication manager exited", "error", err)
			telemetry.ReplicationReconnectsTotal.Inc()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(5 * time.Second):
		}
	}
}

func runReplicationConnection(ctx context.Context, cfg *config.Config, hooks map[string]replication.Hook, metrics replication.MetricsSink, logger *slog.Logger) error {
	conn, err := platform.NewReplicationConn(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening replication connection: %w", err)
	}
	defer conn.Close(context.Background())

	state := replication.NewState(
		cfg.ReplicationSchema, cfg.ReplicationPublicationName, cfg.ReplicationSlotName,
		cfg.ReplicationOutputPlugin, cfg.ReplicationProtoVersion, cfg.ReplicationTables,
	)
	dispatcher := replication.NewDispatcher(state.Relations, hooks, metrics, logger)
	connection := replication.NewConnection(conn, state, dispatcher.Dispatch)
	return connection.Run(ctx)
}

// idpClients builds the adapter registry every directory sync and
// verify-provider call resolves its IdP client from.
func idpClients() map[directory.Adapter]idp.Client {
	return map[directory.Adapter]idp.Client{
		directory.AdapterMicrosoftEntra:  entra.NewClient(),
		directory.AdapterOkta:            okta.NewClient(),
		directory.AdapterGoogleWorkspace: google.NewClient(),
		directory.AdapterJumpCloud:       workos.NewClient(),
	}
}

// refresherRegistry builds the per-adapter OAuth2 refresh registry from the
// operator-configured client registrations. An adapter with no client ID
// configured is left out; its providers simply age out via the sync
// scheduler's consecutive-failure budget once their token goes stale.
func refresherRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (map[directory.Adapter]directorysync.Refresher, error) {
	registry := map[directory.Adapter]directorysync.Refresher{}

	if cfg.EntraClientID != "" {
		fn, err := directorysync.OAuth2RefreshFunc(ctx, cfg.EntraIssuerURL, cfg.EntraClientID, cfg.EntraClientSecret)
		if err != nil {
			return nil, fmt.Errorf("configuring entra token refresh: %w", err)
		}
		registry[directory.AdapterMicrosoftEntra] = fn
	}
	if cfg.OktaClientID != "" {
		fn, err := directorysync.OAuth2RefreshFunc(ctx, cfg.OktaIssuerURL, cfg.OktaClientID, cfg.OktaClientSecret)
		if err != nil {
			return nil, fmt.Errorf("configuring okta token refresh: %w", err)
		}
		registry[directory.AdapterOkta] = fn
	}
	if cfg.WorkOSClientID != "" {
		fn, err := directorysync.OAuth2RefreshFunc(ctx, cfg.WorkOSIssuerURL, cfg.WorkOSClientID, cfg.WorkOSClientSecret)
		if err != nil {
			return nil, fmt.Errorf("configuring workos token refresh: %w", err)
		}
		registry[directory.AdapterJumpCloud] = fn
	}
	if cfg.GoogleServiceAccountFile != "" {
		keyJSON, err := os.ReadFile(cfg.GoogleServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("reading google service account file: %w", err)
		}
		fn, err := directorysync.GoogleServiceAccountRefreshFunc(keyJSON, cfg.GoogleImpersonateSubject)
		if err != nil {
			return nil, fmt.Errorf("configuring google token refresh: %w", err)
		}
		registry[directory.AdapterGoogleWorkspace] = fn
	}

	logger.Info("token refresh registry configured", "adapters", len(registry))
	return registry, nil
}

// VerifyProvider performs a one-shot connectivity check against a single
// configured provider: it fetches the provider's adapter state and makes
// one ListUsers call through its configured IdP client, reporting success
// or the classified failure without touching any local state.
func VerifyProvider(ctx context.Context, cfg *config.Config, accountID, providerID uuid.UUID) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	providers := directory.NewStore(db)
	p, err := providers.Get(ctx, providerID)
	if err != nil {
		return fmt.Errorf("loading provider %s: %w", providerID, err)
	}
	if p.AccountID != accountID {
		return fmt.Errorf("provider %s does not belong to account %s", providerID, accountID)
	}

	client, ok := idpClients()[p.Adapter]
	if !ok {
		return fmt.Errorf("adapter %q has no configured IdP client", p.Adapter)
	}

	endpoint, _ := p.AdapterConfig["endpoint"].(string)
	users, err := client.ListUsers(ctx, endpoint, p.AdapterState.AccessToken)
	if err != nil {
		classification := directorysync.Classify(err)
		logger.Error("verify-provider failed", "provider_id", providerID, "client_error", classification.ClientError, "reason", classification.Message)
		return fmt.Errorf("verifying provider %s: %s", providerID, classification.Message)
	}

	logger.Info("verify-provider succeeded", "provider_id", providerID, "adapter", p.Adapter, "users_seen", len(users))
	return nil
}
