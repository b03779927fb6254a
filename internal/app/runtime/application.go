// Package runtime wires the bot's components and manages their lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/webxdc/storebot/internal/app/bot"
	"github.com/webxdc/storebot/internal/app/httpapi"
	"github.com/webxdc/storebot/internal/app/metrics"
	"github.com/webxdc/storebot/internal/app/services/ingest"
	"github.com/webxdc/storebot/internal/app/services/sync"
	"github.com/webxdc/storebot/internal/app/services/workflow"
	"github.com/webxdc/storebot/internal/app/storage"
	"github.com/webxdc/storebot/internal/app/storage/postgres"
	"github.com/webxdc/storebot/internal/app/transport"
	"github.com/webxdc/storebot/internal/config"
	"github.com/webxdc/storebot/pkg/logger"
)

// Application wires the bot, its stores and the HTTP server.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	bot        *bot.Bot
	ingest     *ingest.Service
	store      storage.Store
	httpServer *http.Server
	db         *sql.DB
}

// NewApplication constructs an application from the given configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	store, db, err := buildStore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure store: %w", err)
	}

	bridge := transport.NewHTTPBridge(cfg.Provider.BaseURL, providerClient(cfg.Provider))
	m := metrics.New()

	ingestSvc := ingest.New(nil, log.WithField("component", "ingest"))
	diffEngine := sync.NewEngine(store, log.WithField("component", "sync"))
	workflowSvc := workflow.New(store, bridge, ingestSvc, workflow.Config{
		GenesisChatID: cfg.Bot.GenesisChatID,
		HelperBundle:  cfg.Bot.HelperBundle,
		TesterCount:   cfg.Bot.TesterCount,
	}, log.WithField("component", "workflow"))

	storeBot := bot.New(bridge, store, diffEngine, workflowSvc, m, bot.Config{
		TagName:        cfg.Bot.TagName,
		CompatibleTags: cfg.Bot.CompatibleTags,
		GenesisChatID:  cfg.Bot.GenesisChatID,
		ShopBundle:     cfg.Bot.ShopBundle,
	}, log.WithField("component", "bot"))

	handler := httpapi.NewHandler(store, m, bridge.WebhookHandler(), log.WithField("component", "httpapi"))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		bot:        storeBot,
		ingest:     ingestSvc,
		store:      store,
		httpServer: httpServer,
		db:         db,
	}, nil
}

// Store exposes the catalog store for operator tooling.
func (a *Application) Store() storage.Store { return a.store }

// Ingest exposes the ingestion service for operator tooling.
func (a *Application) Ingest() *ingest.Service { return a.ingest }

// Run starts the HTTP server and the dispatch loop, blocking until the
// context is cancelled or either of them fails.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go func() {
		if err := a.bot.Run(ctx); err != nil && err != context.Canceled {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server and closes the database.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

// buildStore opens the PostgreSQL store when a DSN is configured and falls
// back to the in-memory store otherwise.
func buildStore(cfg *config.Config, log *logger.Logger) (storage.Store, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("no database configured, catalog state is in-memory only")
		return storage.NewMemory(), nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	store := postgres.New(db)
	if err := store.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// providerClient returns an HTTP client that authenticates against the
// messaging provider when a token is configured.
func providerClient(cfg config.ProviderConfig) *http.Client {
	client := &http.Client{Timeout: 30 * time.Second}
	if cfg.Token != "" {
		client.Transport = &authTransport{token: cfg.Token, base: http.DefaultTransport}
	}
	return client
}

type authTransport struct {
	token string
	base  http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(clone)
}
