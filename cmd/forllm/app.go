package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"forllm/internal/config"
	"forllm/internal/contextwindow"
	"forllm/internal/db"
	"forllm/internal/domain"
	"forllm/internal/gateway"
	"forllm/internal/history"
	"forllm/internal/llm"
	"forllm/internal/logging"
	"forllm/internal/notify"
	"forllm/internal/persona"
	"forllm/internal/prompt"
	"forllm/internal/queue"
	"forllm/internal/scheduler"
	"forllm/internal/settings"
	"forllm/internal/storage"
	"forllm/internal/tokenizer"
	"forllm/internal/worker"
)

// app is the fully wired pipeline.
type app struct {
	cfg      *domain.Config
	loader   *config.Loader
	logger   *zap.Logger
	db       *sql.DB
	store    storage.Store
	clients  *llm.Clients
	counter  *tokenizer.Counter
	settings *settings.Reader
	windows  *contextwindow.Resolver
	schedule *scheduler.Source
	assemble *prompt.Assembler
	hub      *notify.Hub
	worker   *worker.Worker
}

// loaderFor returns the config loader named by --config, then
// FORLLM_CONFIG, then the default path.
func loaderFor(cmd *cobra.Command) *config.Loader {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv(config.PathEnv)
	}
	return config.NewLoader(path)
}

// newApp loads config and builds every component. Callers must Close it.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	loader := loaderFor(cmd)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Infra)

	a := &app{cfg: cfg, loader: loader, logger: logger}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	clients, err := llm.NewClients(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.clients = clients
	a.counter = tokenizer.NewCounter(tokenizer.DefaultEncoding, tokenizer.WithLogger(logger.Named("tokenizer")))
	a.settings = settings.NewReader(a.store, logger.Named("settings"))
	a.windows = contextwindow.NewResolver(a.store, clients.Inspector, a.settings,
		contextwindow.WithLogger(logger.Named("contextwindow")))
	a.schedule = scheduler.NewSource(a.store, logger.Named("scheduler"))
	a.assemble = prompt.NewAssembler(a.counter, prompt.WithSafetyMargin(cfg.Pipeline.SafetyMargin))
	a.hub = notify.NewHub(logger.Named("ws"))

	notifiers := notify.Multi{a.hub}
	tg, err := notify.NewTelegramFromConfig(cfg.Telegram, logger.Named("telegram"))
	if err != nil {
		logger.Warn("telegram notifications disabled", zap.Error(err))
	} else if tg != nil {
		notifiers = append(notifiers, tg)
	}

	personas := persona.NewResolver(a.store, a.settings, logger.Named("persona"))
	reply := worker.NewReplyHandler(worker.ReplyDeps{
		Forum:        a.store,
		Requests:     a.store,
		Personas:     personas,
		Settings:     a.settings,
		Windows:      a.windows,
		Retriever:    history.NewRetriever(a.store, a.store, history.WithLogger(logger.Named("history"))),
		Pruner:       history.NewPruner(a.counter),
		Assembler:    a.assemble,
		Client:       clients.Responder,
		DefaultModel: cfg.Model.Default,
		Logger:       logger.Named("reply"),
	})
	gen := persona.NewGenerator(clients.Direct, persona.WithLogger(logger.Named("persona")))

	a.worker = worker.New(a.store, queue.New(cfg.Worker.QueueSize), a.schedule,
		worker.WithLogger(logger.Named("worker")),
		worker.WithNotifier(notifiers),
		worker.WithIntervals(cfg.Worker.IdleInterval, cfg.Worker.OutsideWindowInterval),
		worker.WithHandler(domain.RequestRespondToPost, reply),
		worker.WithHandler(domain.RequestRespondToPostTag, reply),
		worker.WithHandler(domain.RequestGeneratePersona,
			worker.NewPersonaHandler(gen, a.store, a.settings, cfg.Model.Default, logger.Named("persona"))),
	)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	driver := strings.ToLower(a.cfg.Database.Driver)
	if driver == "memory" {
		a.logger.Warn("using the in-memory store; jobs are lost on exit")
		a.store = storage.NewMemoryStore()
		return nil
	}
	dialect, err := storage.ParseDialect(driver)
	if err != nil {
		return err
	}
	conn, err := db.Open(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	store, err := storage.NewSQLStore(ctx, conn, dialect)
	if err != nil {
		conn.Close()
		return fmt.Errorf("prepare store: %w", err)
	}
	a.db, a.store = conn, store
	return nil
}

// gateway builds the HTTP server over the app's store and worker.
func (a *app) gateway() (*gateway.Server, error) {
	return gateway.NewServer(a.cfg.Gateway, gateway.Deps{
		Forum:    a.store,
		Requests: a.store,
		Jobs:     a.worker,
		Schedule: a.schedule,
		Events:   a.hub,
		Logger:   a.logger.Named("gateway"),
	})
}

// reload applies the settings that may change while serving.
func (a *app) reload(cfg *domain.Config) {
	a.worker.SetIntervals(cfg.Worker.IdleInterval, cfg.Worker.OutsideWindowInterval)
	a.assemble.SetSafetyMargin(cfg.Pipeline.SafetyMargin)
}

// warnIfNoWindows reports whether any processing window is enabled and
// warns when none is, since no job would ever run.
func (a *app) warnIfNoWindows(ctx context.Context, w interface{ Write([]byte) (int, error) }) bool {
	if a.schedule.Snapshot(ctx).HasEnabled() {
		return true
	}
	fmt.Fprintln(w, "  warning: no processing window is enabled; queued jobs will wait (add one with: forllm schedule add)")
	return false
}

func (a *app) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.logger.Sync()
}
