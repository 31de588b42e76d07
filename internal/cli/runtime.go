package cli

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"

	"retreat-quiz/internal/app"
	"retreat-quiz/internal/config"
	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/infra/bundle"
	"retreat-quiz/internal/infra/filestore"
	"retreat-quiz/internal/infra/memory"
	"retreat-quiz/internal/infra/postgres"
	infraredis "retreat-quiz/internal/infra/redis"
	"retreat-quiz/internal/remote"
)

// runtime is one client: its storage area, remote adapter, question catalog and engine.
type runtime struct {
	cfg     config.Config
	log     zerolog.Logger
	local   app.LocalStore
	remote  *remote.Adapter
	catalog *memory.QuestionCatalog
	engine  *app.Engine
}

func openRuntime(ctx context.Context, cfg config.Config, log zerolog.Logger) (*runtime, error) {
	var local app.LocalStore
	if cfg.Local.Dir != "" {
		store, err := filestore.New(cfg.Local.Dir)
		if err != nil {
			return nil, err
		}
		local = store
	} else {
		local = memory.NewStore()
	}

	adapter := remote.NewAdapter(dialBackend(log), log)
	adapter.Connect(ctx, cfg.RemoteConfig())

	var loaders memory.FallbackLoader
	if cfg.Quiz.DataPath != "" {
		loaders = append(loaders, app.NewMirrorLoader(bundle.NewFileLoader(cfg.Quiz.DataPath), local, log))
	}
	loaders = append(loaders, app.NewRemoteQuizLoader(adapter), app.NewLocalQuizLoader(local))
	catalog := memory.NewQuestionCatalog(loaders, cfg.CacheTTL())

	engine := app.NewEngine(local, adapter,
		app.WithLogger(log),
		app.WithPollInterval(cfg.PollInterval()),
		app.WithCatalog(catalog),
	)
	return &runtime{cfg: cfg, log: log, local: local, remote: adapter, catalog: catalog, engine: engine}, nil
}

func (r *runtime) Close() {
	r.engine.Stop()
	r.remote.Close()
}

// warnIfIsolated flags one-shot commands whose writes no other client can see.
func (r *runtime) warnIfIsolated() {
	if !r.remote.Connected() && r.cfg.Local.Dir == "" {
		r.log.Warn().Msg("no remote store and no local.dir: changes stay in this process")
	}
}

// dialBackend picks the backend by URL scheme.
func dialBackend(log zerolog.Logger) remote.DialFunc {
	return func(ctx context.Context, cfg remote.Config) (remote.Backend, error) {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
		}
		switch u.Scheme {
		case "redis", "rediss":
			b, err := infraredis.Dial(ctx, cfg, log)
			if err != nil {
				return nil, err
			}
			return b, nil
		case "postgres", "postgresql":
			b, err := postgres.Dial(ctx, cfg, log)
			if err != nil {
				return nil, err
			}
			return b, nil
		default:
			return nil, fmt.Errorf("%w: unsupported scheme %q", domain.ErrRemoteUnavailable, u.Scheme)
		}
	}
}

func isPostgres(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && (u.Scheme == "postgres" || u.Scheme == "postgresql")
}
