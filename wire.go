package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	"github.com/tanpawarit/chative-lead-dispatch/agent/inventory"
	"github.com/tanpawarit/chative-lead-dispatch/agent/ledger"
	"github.com/tanpawarit/chative-lead-dispatch/agent/notify"
	promptx "github.com/tanpawarit/chative-lead-dispatch/agent/prompt"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
	configx "github.com/tanpawarit/chative-lead-dispatch/pkg/config"
)

type closeFunc func()

func closer(name string, c any) closeFunc {
	cl, ok := c.(io.Closer)
	if !ok {
		return func() {}
	}
	return func() {
		if err := cl.Close(); err != nil {
			log.Warn().Err(err).Str("component", name).Msg("close failed")
		}
	}
}

func openSessions(ctx context.Context, app *AppConfig) (statex.Store, closeFunc, error) {
	opts := []statex.StoreOption{statex.WithTTL(app.SessionTTL)}

	var (
		store statex.Store
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(app.SessionBackend)) {
	case "", sessionMemory:
		store = statex.NewMemoryStore()
	case sessionRedis:
		cfg, cerr := configx.New[statex.RedisConfig]("REDIS")
		if cerr != nil {
			return nil, nil, cerr
		}
		store, err = statex.NewRedisStore(*cfg, opts...)
	case sessionUpstash:
		cfg, cerr := configx.New[statex.UpstashRedisConfig]("UPSTASH")
		if cerr != nil {
			return nil, nil, cerr
		}
		store, err = statex.NewUpstashRedisStore(*cfg, opts...)
	case sessionFirestore:
		cfg, cerr := configx.New[statex.FirestoreConfig]("FIRESTORE")
		if cerr != nil {
			return nil, nil, cerr
		}
		store, err = statex.NewFirestoreStore(ctx, *cfg)
	default:
		return nil, nil, fmt.Errorf("%w: unknown session backend %q", contractx.ErrValidation, app.SessionBackend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s session store: %w", app.SessionBackend, err)
	}
	return store, closer("sessions", store), nil
}

func openLedger(ctx context.Context, app *AppConfig) (ledger.Store, error) {
	store, err := ledger.Open(ctx, app.LedgerDriver, app.LedgerDSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// openDirectory prefers the static roster from APP_ADVISORS over the ledger roster.
func openDirectory(app *AppConfig, store ledger.Store) (contractx.Directory, error) {
	if strings.TrimSpace(app.Advisors) == "" {
		return store, nil
	}
	advisors, err := ledger.ParseRoster(app.Advisors)
	if err != nil {
		return nil, err
	}
	log.Info().Int("advisors", len(advisors)).Msg("using static advisor roster")
	return ledger.NewStaticDirectory(advisors), nil
}

func openCatalog(pack *promptx.Pack) (*inventory.Cache, *inventory.Config, error) {
	cfg, err := configx.New[inventory.Config]("CATALOG")
	if err != nil {
		return nil, nil, err
	}

	var catalog contractx.Catalog
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "static":
		catalog = inventory.NewStaticCatalog(pack.FallbackModels, pack.FallbackModels)
	case "", "http":
		catalog, err = inventory.NewHTTPCatalog(*cfg, &http.Client{Timeout: cfg.FetchTimeout})
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("%w: unknown catalog source %q", contractx.ErrValidation, cfg.Source)
	}

	cache := inventory.NewCache(catalog, pack.FallbackModels,
		inventory.WithTTL(cfg.TTL),
		inventory.WithFetchTimeout(cfg.FetchTimeout),
		inventory.WithRetryAfter(cfg.RetryAfter),
	)
	return cache, cfg, nil
}

// openNotifier always writes to the outbox; the other channels are added on top.
func openNotifier(app *AppConfig, box contractx.Outbox) (contractx.Notifier, error) {
	outbox, err := notify.NewOutbox(box)
	if err != nil {
		return nil, err
	}
	multi := notify.Multi{outbox}

	for _, name := range app.Notifiers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "", notifierOutbox:
		case notifierLog:
			multi = append(multi, notify.Log{})
		case notifierSlack:
			cfg, err := configx.New[notify.SlackConfig]("SLACK")
			if err != nil {
				return nil, err
			}
			slack, err := notify.NewSlack(*cfg)
			if err != nil {
				return nil, err
			}
			multi = append(multi, slack)
		case notifierDiscord:
			cfg, err := configx.New[notify.DiscordConfig]("DISCORD")
			if err != nil {
				return nil, err
			}
			discord, err := notify.NewDiscord(*cfg)
			if err != nil {
				return nil, err
			}
			multi = append(multi, discord)
		default:
			return nil, fmt.Errorf("%w: unknown notifier %q", contractx.ErrValidation, name)
		}
	}
	return multi, nil
}
