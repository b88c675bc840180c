package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ppi-control/internal/adapter/auditlog"
	"ppi-control/internal/adapter/channel"
	"ppi-control/internal/adapter/gateway"
	"ppi-control/internal/adapter/store"
	"ppi-control/internal/domain"
	"ppi-control/internal/infra/config"
	"ppi-control/internal/infra/middleware"
	"ppi-control/internal/usecase/agents"
	"ppi-control/internal/usecase/eventbus"
	"ppi-control/internal/usecase/feed"
	"ppi-control/internal/usecase/orchestrator"
	"ppi-control/internal/usecase/scheduling"
)

// triggerAuditRetention trims the audit mirror. It is armed only when a
// retention policy is configured.
const triggerAuditRetention scheduling.Trigger = "audit_retention"

// runtime holds the wired components of one process.
type runtime struct {
	cfg       *config.Config
	log       *slog.Logger
	store     domain.Store
	sink      *feed.Sink
	bus       *eventbus.Bus
	router    *orchestrator.Router
	channels  *channel.Dispatcher
	scheduler *scheduling.Scheduler
	mirror    *auditlog.FileMirror
	gateway   *gateway.Server

	cleanups []func(context.Context) error
}

// buildOptions selects which outer surfaces are built.
type buildOptions struct {
	gateway bool
}

func (rt *runtime) onClose(fn func(context.Context) error) {
	rt.cleanups = append(rt.cleanups, fn)
}

// Close releases components in reverse build order.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.cleanups) - 1; i >= 0; i-- {
		if err := rt.cleanups[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.cleanups = nil
	return errors.Join(errs...)
}

// buildRuntime wires store, feed, bus, router, channels, agents, audit mirror,
// scheduler and (optionally) gateway. On error everything already built is
// closed.
func buildRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger, opts buildOptions) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	// 1. Store
	if err := rt.initStore(); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	// 2. Audit feed
	rt.sink = feed.New(rt.store, log)
	if err := rt.sink.Restore(ctx); err != nil {
		return nil, fmt.Errorf("feed restore: %w", err)
	}

	// 3. Event bus and router
	rt.bus = eventbus.New(log)
	rt.onClose(func(context.Context) error { rt.bus.Close(); return nil })
	rt.router = orchestrator.New(rt.sink, rt.bus, log)

	// 4. External channels
	senders, err := buildSenders(cfg.Channels, log)
	if err != nil {
		return nil, fmt.Errorf("channels: %w", err)
	}
	rt.channels = channel.NewDispatcher(log, channel.Rate{
		RPS:   cfg.Channels.RateLimit.RPS,
		Burst: cfg.Channels.RateLimit.Burst,
	}, senders...)

	// 5. Agents
	for _, a := range agents.NewAll(agents.Deps{
		Store:         rt.store,
		Dispatch:      rt.router,
		Feed:          rt.sink,
		Notifier:      rt.channels,
		AlertChannels: cfg.Channels.Alert,
		Clock:         time.Now,
		Logger:        log,
	}) {
		if err := rt.router.Register(a.ID(), a); err != nil {
			return nil, fmt.Errorf("register agent: %w", err)
		}
	}
	rt.router.Seal()

	// 6. Audit mirror
	if err := rt.initMirror(); err != nil {
		return nil, fmt.Errorf("audit mirror: %w", err)
	}

	// 7. Scheduler (always built so triggers can be run by hand)
	if err := rt.initScheduler(); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	// 8. Gateway
	if opts.gateway && cfg.Gateway.Enabled {
		if err := rt.initGateway(); err != nil {
			return nil, fmt.Errorf("gateway: %w", err)
		}
	}
	return rt, nil
}

func (rt *runtime) initStore() error {
	var inner domain.Store
	switch rt.cfg.Store.Driver {
	case "memory":
		inner = store.NewMemoryStore()
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(rt.cfg.Store.Path), 0700); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		s, err := store.NewSQLiteStore(rt.cfg.Store.Path)
		if err != nil {
			return err
		}
		rt.onClose(func(context.Context) error { return s.Close() })
		inner = s
	default:
		return fmt.Errorf("unknown driver %q", rt.cfg.Store.Driver)
	}

	b := rt.cfg.Store.Breaker
	rt.store = store.NewBreakerStore(inner, store.BreakerConfig{
		MaxFailures: b.MaxFailures,
		Timeout:     b.Timeout,
		Interval:    b.Interval,
	}, rt.log)
	rt.log.Info("store ready", "driver", rt.cfg.Store.Driver)
	return nil
}

func (rt *runtime) initMirror() error {
	if rt.cfg.Audit.Path == "" {
		return nil
	}
	m, err := auditlog.NewFileMirror(rt.cfg.Audit.Path, rt.log)
	if err != nil {
		return err
	}
	maxSize, err := config.ParseSize(rt.cfg.Audit.MaxSize)
	if err != nil {
		m.Close()
		return err
	}
	m.SetRetention(auditlog.RetentionPolicy{MaxAge: rt.cfg.Audit.MaxAge, MaxSize: maxSize})

	detach := m.Attach(rt.router)
	rt.mirror = m
	rt.onClose(func(context.Context) error {
		detach()
		return m.Close()
	})
	return nil
}

func (rt *runtime) initScheduler() error {
	loc, err := time.LoadLocation(rt.cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	s := scheduling.NewScheduler(rt.log, scheduling.WithLocation(loc))

	specs := make(map[scheduling.Trigger]string, len(rt.cfg.Scheduler.Triggers))
	for name, spec := range rt.cfg.Scheduler.Triggers {
		specs[scheduling.Trigger(name)] = spec
	}
	bindings := scheduling.Bindings{Submit: rt.router, Store: rt.store, Logger: rt.log}
	if err := bindings.RegisterDefaults(s, specs); err != nil {
		return err
	}

	if rt.mirror != nil {
		s.Register(triggerAuditRetention, func(ctx context.Context) error {
			_, err := rt.mirror.EnforceRetention(ctx)
			return err
		})
		if rt.cfg.Audit.MaxAge > 0 || rt.cfg.Audit.MaxSize != "" {
			if err := s.Schedule(triggerAuditRetention, "@daily"); err != nil {
				return err
			}
		}
	}

	rt.scheduler = s
	rt.onClose(func(context.Context) error { return s.Stop() })
	return nil
}

func (rt *runtime) initGateway() error {
	tokens := make([]gateway.Token, 0, len(rt.cfg.Gateway.Tokens))
	for _, t := range rt.cfg.Gateway.Tokens {
		tokens = append(tokens, gateway.Token{Token: t.Token, Name: t.Name})
	}
	srv := gateway.NewServer(rt.bus, gateway.NewStaticTokenAuth(tokens), rt.cfg.Gateway.Addr, rt.log,
		gateway.WithAuditSource(rt.router),
		gateway.WithRateLimit(middleware.RateLimitConfig{
			RPS:   rt.cfg.Gateway.RateLimit.RPS,
			Burst: rt.cfg.Gateway.RateLimit.Burst,
		}),
	)
	if _, err := gateway.RegisterHandlers(srv, gateway.HandlerDeps{
		Router:   rt.router,
		Feed:     rt.sink,
		Bus:      rt.bus,
		Channels: rt.channels.Channels(),
		Logger:   rt.log,
	}); err != nil {
		return err
	}
	rt.gateway = srv
	rt.onClose(srv.Stop)
	return nil
}

// buildSenders creates a sender for every channel whose credentials are set.
func buildSenders(cfg config.ChannelsConfig, log *slog.Logger) ([]channel.Sender, error) {
	var senders []channel.Sender
	if cfg.Slack.BotToken != "" {
		var opts []channel.SlackOption
		if cfg.Slack.APIURL != "" {
			opts = append(opts, channel.WithSlackAPIURL(cfg.Slack.APIURL))
		}
		senders = append(senders, channel.NewSlackChannel(cfg.Slack.BotToken, cfg.Slack.ChannelID, log, opts...))
	}
	if cfg.Discord.Token != "" {
		d, err := channel.NewDiscordChannel(cfg.Discord.Token, cfg.Discord.ChannelID, log)
		if err != nil {
			return nil, err
		}
		senders = append(senders, d)
	}
	if cfg.Teams.WebhookURL != "" {
		senders = append(senders, channel.NewTeamsChannel(cfg.Teams.WebhookURL, log))
	}
	return senders, nil
}
