package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mspsdc/helpdesk/internal/assistant"
	"github.com/mspsdc/helpdesk/internal/channel"
	discordadapter "github.com/mspsdc/helpdesk/internal/channel/discord"
	slackadapter "github.com/mspsdc/helpdesk/internal/channel/slack"
	"github.com/mspsdc/helpdesk/internal/classify"
	"github.com/mspsdc/helpdesk/internal/config"
	"github.com/mspsdc/helpdesk/internal/conversation"
	"github.com/mspsdc/helpdesk/internal/db"
	"github.com/mspsdc/helpdesk/internal/delivery"
	"github.com/mspsdc/helpdesk/internal/exchangelog"
	"github.com/mspsdc/helpdesk/internal/fallback"
	"github.com/mspsdc/helpdesk/internal/llm"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// backends holds the model tiers and the status reporter built over them.
type backends struct {
	primary      *llm.PrimaryClient
	local        *llm.OllamaClient // nil when the local tier is disabled
	availability *llm.AvailabilityCache
	mode         *fallback.Mode
	resolver     *fallback.Resolver
	status       *fallback.StatusReporter
}

func newBackends(cfg *config.Config) (*backends, error) {
	b := &backends{mode: fallback.NewMode(cfg.Mode.Enhanced)}

	primary, err := llm.NewPrimaryClient(llm.PrimaryClientOpts{URL: cfg.Primary.URL})
	if err != nil {
		return nil, err
	}
	b.primary = primary

	opts := fallback.ResolverOpts{
		Primary:      primary,
		HistoryTurns: cfg.Local.HistoryTurns,
		LocalTimeout: config.Seconds(cfg.Local.ChatTimeoutSec),
	}
	statusOpts := fallback.StatusReporterOpts{
		Primary:     primary,
		Mode:        b.mode,
		PingTimeout: config.Seconds(cfg.Local.ProbeTimeoutSec),
	}

	if cfg.Local.Enabled {
		local, err := llm.NewOllamaClient(llm.OllamaClientOpts{
			BaseURL: cfg.Local.BaseURL,
			Model:   cfg.Local.Model,
			Options: llm.ChatOptions{
				Temperature: cfg.Local.Temperature,
				TopP:        cfg.Local.TopP,
				MaxTokens:   cfg.Local.MaxTokens,
			},
		})
		if err != nil {
			return nil, err
		}
		cache, err := llm.NewAvailabilityCache(llm.AvailabilityCacheOpts{
			Lister:       local,
			Model:        cfg.Local.Model,
			Freshness:    config.Seconds(cfg.Local.FreshnessSec),
			ProbeTimeout: config.Seconds(cfg.Local.ProbeTimeoutSec),
		})
		if err != nil {
			return nil, err
		}
		b.local, b.availability = local, cache
		opts.Local, opts.Availability = local, cache
		statusOpts.Availability = cache
	}

	resolver, err := fallback.NewResolver(opts)
	if err != nil {
		return nil, err
	}
	b.resolver = resolver
	b.status = fallback.NewStatusReporter(statusOpts)
	return b, nil
}

// app is the fully wired helpdesk: storage, sessions, model tiers and the
// assistant service that ties them together.
type app struct {
	cfg       *config.Config
	db        *gorm.DB
	rdb       *redis.Client // nil with the memory session store
	backends  *backends
	sessions  *conversation.Manager
	exchanges *exchangelog.Logger
	svc       *assistant.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, db: gormDB, exchanges: exchangelog.New(gormDB)}

	store, err := a.sessionStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sessions, err = conversation.NewManager(conversation.ManagerOpts{
		Store:    store,
		MaxTurns: cfg.Sessions.MaxTurns,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.backends, err = newBackends(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	classifier, err := newClassifier(cfg.Classifier)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.svc, err = assistant.New(assistant.ServiceOpts{
		Sessions:   a.sessions,
		Resolver:   a.backends.resolver,
		Mode:       a.backends.mode,
		Classifier: classifier,
		Recorder:   a.exchanges,
		Delivery: delivery.CoordinatorOpts{
			FirstNoticeDelay: config.Seconds(cfg.Delivery.FirstNoticeSec),
			NoticeInterval:   config.Seconds(cfg.Delivery.NoticeIntervalSec),
			MaxNotices:       cfg.Delivery.MaxNotices,
			MaxWait:          config.Seconds(cfg.Delivery.MaxWaitSec),
		},
		SyncTimeout:  config.Seconds(cfg.Primary.TimeoutSec),
		AsyncTimeout: config.Seconds(cfg.Primary.AsyncTimeoutSec),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) sessionStore(ctx context.Context) (conversation.Store, error) {
	switch a.cfg.Sessions.Store {
	case "redis":
		r := a.cfg.Sessions.Redis
		a.rdb = redis.NewClient(&redis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.rdb.Ping(pctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", r.Addr, err)
		}
		return conversation.NewRedisStore(conversation.RedisStoreOpts{
			Client: a.rdb,
			TTL:    time.Duration(r.TTLHours) * time.Hour,
		})
	default:
		return conversation.NewMemoryStore(), nil
	}
}

// Close releases the database and redis connections.
func (a *app) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			log.Warn("close redis", "err", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

func newClassifier(cfg config.ClassifierConfig) (classify.Classifier, error) {
	if !cfg.Enabled {
		return classify.Keyword{}, nil
	}
	return classify.NewAnthropic(classify.AnthropicOpts{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
	})
}

// createAdapters builds one chat adapter per enabled platform.
func createAdapters(cfg *config.Config) ([]channel.Adapter, error) {
	var adapters []channel.Adapter
	if cfg.Slack.Enabled {
		a, err := slackadapter.New(slackadapter.AdapterOpts{
			AppToken:    cfg.Slack.AppToken,
			BotToken:    cfg.Slack.BotToken,
			HelpChannel: cfg.Slack.HelpChannel,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Discord.Enabled {
		a, err := discordadapter.New(discordadapter.AdapterOpts{
			BotToken:    cfg.Discord.BotToken,
			HelpChannel: cfg.Discord.HelpChannel,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}
