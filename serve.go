package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tanpawarit/chative-lead-dispatch/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	dialoguex "github.com/tanpawarit/chative-lead-dispatch/agent/dialogue"
	"github.com/tanpawarit/chative-lead-dispatch/agent/dispatch"
	extractx "github.com/tanpawarit/chative-lead-dispatch/agent/extract"
	"github.com/tanpawarit/chative-lead-dispatch/agent/inventory"
	"github.com/tanpawarit/chative-lead-dispatch/agent/llm"
	matcherx "github.com/tanpawarit/chative-lead-dispatch/agent/matcher"
	promptx "github.com/tanpawarit/chative-lead-dispatch/agent/prompt"
	"github.com/tanpawarit/chative-lead-dispatch/agent/scheduler"
	configx "github.com/tanpawarit/chative-lead-dispatch/pkg/config"
	openrouterx "github.com/tanpawarit/chative-lead-dispatch/pkg/openrouter"
	qstashx "github.com/tanpawarit/chative-lead-dispatch/pkg/qstash"
	"github.com/tanpawarit/chative-lead-dispatch/server"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chatbot HTTP service",
		Long:  "Serves inbound messages, advisor replies and timeout deliveries until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides APP_PORT)")
	return cmd
}

func runServe(cmd *cobra.Command, port int) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := configx.New[AppConfig]("APP")
	if err != nil {
		return err
	}
	if port <= 0 {
		port = app.Port
	}

	pack, err := promptx.LoadFile(app.Prompts)
	if err != nil {
		return err
	}

	sessions, closeSessions, err := openSessions(ctx, app)
	if err != nil {
		return err
	}
	defer closeSessions()

	store, err := openLedger(ctx, app)
	if err != nil {
		return err
	}
	defer closer("ledger", store)()

	directory, err := openDirectory(app, store)
	if err != nil {
		return err
	}

	cache, catCfg, err := openCatalog(pack)
	if err != nil {
		return err
	}
	go cache.RefreshAll(ctx)
	refresher := inventory.NewRefresher(cache, catCfg.TTL)
	refresher.Start(ctx)
	defer refresher.Stop()

	notifier, err := openNotifier(app, store)
	if err != nil {
		return err
	}

	matcher := matcherx.New(matcherx.Config{MaxDistance: 2, StopWords: pack.Vocabulary.StopWords})
	extractor := extractx.New(pack, matcher)
	controller := dialoguex.New(pack, extractor)

	timeouts, verifier, signatureURL, err := openScheduler(app)
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.New(dispatch.Deps{
		Sessions:    sessions,
		Assignments: store,
		Directory:   directory,
		Audit:       store,
		Notifier:    notifier,
		Scheduler:   timeouts,
		Renderer:    controller,
	}, dispatch.Config{
		Timeout:     app.DispatchTimeout,
		RetryWindow: app.RetryWindow,
	})
	if err != nil {
		return err
	}

	if timer, ok := timeouts.(*scheduler.Timer); ok {
		go timer.Run(ctx)
		go dispatcher.Consume(ctx, timer.Events())
	}

	sweeper := scheduler.NewSweeper(store, timeouts, app.DispatchTimeout, app.SweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	generator, err := openGenerator(ctx, app, pack)
	if err != nil {
		return err
	}

	engine, err := orchestrator.New(orchestrator.Deps{
		Sessions:   sessions,
		Models:     cache,
		Extractor:  extractor,
		Controller: controller,
		Dispatcher: dispatcher,
		Generator:  generator,
		Audit:      store,
	}, orchestrator.Config{InactivityWindow: app.InactivityWindow})
	if err != nil {
		return err
	}

	opts := server.Options{
		Engine:       engine,
		Events:       dispatcher,
		Directory:    directory,
		Outbox:       store,
		SignatureURL: signatureURL,
	}
	if verifier != nil {
		opts.Verifier = verifier
	}
	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "leadbot %s listening on :%d\n", Version, port)
	return srv.Run(ctx, port)
}

// openScheduler returns the in-process timer, or QStash with the client that verifies its deliveries.
func openScheduler(app *AppConfig) (contractx.TimeoutScheduler, *qstashx.Client, string, error) {
	switch strings.ToLower(strings.TrimSpace(app.Scheduler)) {
	case "", schedulerTimer:
		return scheduler.NewTimer(64), nil, "", nil
	case schedulerQStash:
		cfg, err := configx.New[qstashx.Config]("QSTASH")
		if err != nil {
			return nil, nil, "", err
		}
		client, err := qstashx.NewClient(*cfg)
		if err != nil {
			return nil, nil, "", err
		}
		q, err := scheduler.NewQStash(client, cfg.CallbackURL)
		if err != nil {
			return nil, nil, "", err
		}
		return q, client, cfg.CallbackURL, nil
	default:
		return nil, nil, "", fmt.Errorf("%w: unknown scheduler %q", contractx.ErrValidation, app.Scheduler)
	}
}

func openGenerator(ctx context.Context, app *AppConfig, pack *promptx.Pack) (contractx.Generator, error) {
	cfg, err := configx.New[openrouterx.Config]("OPENROUTER")
	if err != nil {
		return nil, err
	}
	system, err := pack.RenderMessage("generator_system", promptx.Data{Bot: pack.BotName, Agency: pack.Agency})
	if err != nil {
		return nil, err
	}
	gen, err := llm.New(ctx, app.Generator, *cfg, system)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		log.Warn().Msg("no generator configured; unmatched messages get the apology text")
	}
	return gen, nil
}
