package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/alerting"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/analyzers"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/api"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/config"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/metrics"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/policy"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/probes"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scheduler"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/state"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/storage"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/threatintel"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/verdict"
)

const (
	jobThreatIntel    = "threat_intel"
	jobRetentionPrune = "retention_prune"
	rdapCacheBucket   = "rdap"
)

// App is the wired component graph shared by the daemon and one-shot CLI
// scans.
type App struct {
	cfg    config.Config
	logger *logging.Logger

	Store      storage.Store
	Results    *storage.ResultsStore
	Recent     *state.ResultCache
	Metrics    *metrics.Collector
	Index      *threatintel.Index
	Updater    *threatintel.Updater
	Registry   *scanner.Registry
	Engine     *scanner.Engine
	Alerts     *alerting.Engine
	Service    *Service
	Scheduler  *scheduler.Scheduler
	API        *api.Server
	ownsStore  bool
	deps       analyzers.Deps
	policyMu   sync.Mutex
	policy     *policy.Policy
	closeOnce  sync.Once
}

// Open builds an App backed by the configured badger database.
func Open(cfg config.Config, logger *logging.Logger) (*App, error) {
	store, err := storage.NewBadgerStoreWithKey(cfg.Storage.DBPath, cfg.Storage.EncryptionKeyBase64)
	if err != nil {
		return nil, err
	}
	app, err := NewApp(cfg, logger, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	app.ownsStore = true
	return app, nil
}

// NewApp wires every component on top of store. The caller keeps ownership of
// store.
func NewApp(cfg config.Config, logger *logging.Logger, store storage.Store) (*App, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	app := &App{
		cfg:       cfg,
		logger:    logger,
		Store:     store,
		Results:   storage.NewResultsStore(store),
		Recent:    state.NewResultCache(cfg.Scan.RecentLimit),
		Metrics:   metrics.New(),
		Index:     threatintel.NewIndex(),
		Registry:  scanner.NewRegistry(),
		Scheduler: scheduler.New(logger),
	}

	app.Updater = threatintel.NewUpdater(cfg.ThreatIntel.UpdaterConfig(cfg.Probes.UserAgent), app.Index, threatintel.NewStore(store), logger)
	if n, err := app.Updater.Bootstrap(); err != nil {
		logger.Warn("load persisted indicators failed", logging.F("error", err))
	} else {
		logger.Info("threat indicators loaded", logging.F("indicators", n))
	}
	app.Metrics.SetIndicators(app.Index.Len())

	app.deps = app.buildDeps()

	p, err := loadPolicy(cfg.Policy.Path)
	if err != nil {
		return nil, err
	}
	classifier, err := p.Classifier()
	if err != nil {
		return nil, fmt.Errorf("policy classifier: %w", err)
	}
	gate, list, err := analyzers.Build(p, app.deps, cfg.Scan.AnalyzerOptions())
	if err != nil {
		return nil, err
	}
	if err := app.Registry.Replace(gate, list); err != nil {
		return nil, err
	}
	app.policy = p

	synth := verdict.New(app.buildNarrator(), verdict.Options{
		Timeout:       cfg.Narrator.NarratorTimeoutDuration(),
		RatePerSecond: cfg.Narrator.RatePerSecond,
		Burst:         cfg.Narrator.Burst,
	}, logger)
	engineOpts := cfg.Scan.EngineOptions()
	engineOpts.Scale = p.AggregateScale
	app.Engine, err = scanner.NewEngine(app.Registry, classifier, engineOpts,
		scanner.WithSynthesizer(synth),
		scanner.WithObserver(scanner.NewLogObserver(logger)),
		scanner.WithObserver(app.Metrics),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Alerting.Enabled {
		app.Alerts = alerting.New(logger, cfg.Alerting)
		channels, err := alerting.BuildChannels(cfg.Alerting, logger)
		if err != nil {
			return nil, err
		}
		for _, ch := range channels {
			app.Alerts.Register(ch)
		}
		app.Alerts.OnDelivery(app.Metrics.AlertSent)
	}

	app.Service = NewService(app.Engine, app.Results, app.Recent, app.Alerts, logger, cfg.Scan.MaxFileBytes)

	if err := app.addJobs(); err != nil {
		return nil, err
	}
	app.Updater.SetNextRun(func() time.Time { return app.Scheduler.NextRun(jobThreatIntel) })

	app.API = api.New(cfg.API, logger, api.Deps{
		Scanner:  app.Service,
		Results:  app.Results,
		Recent:   app.Recent,
		Feeds:    app.Updater,
		Metrics:  app.Metrics.Handler(),
		Analyzer: app.Registry.List,
	})
	return app, nil
}

// buildDeps returns the evidence sources. With probes offline only the local
// threat index is available.
func (a *App) buildDeps() analyzers.Deps {
	deps := analyzers.Deps{Threats: a.Index, Now: time.Now}
	pc := a.cfg.Probes
	if pc.Offline {
		a.logger.Info("network probes disabled")
		return deps
	}
	timeout := pc.TimeoutDuration()
	deps.RDAP = probes.NewRDAPClient(probes.RDAPOptions{
		BaseURL:   pc.RDAPBaseURL,
		Timeout:   timeout,
		UserAgent: pc.UserAgent,
		CacheTTL:  pc.CacheTTLDuration(),
	}, nil, storage.NewBucket(a.Store, rdapCacheBucket))
	deps.TLS = probes.NewTLSProber(probes.TLSOptions{Timeout: timeout, AllowPrivate: pc.AllowPrivate})
	deps.DNS = probes.NewDNSProber(nil, timeout)
	deps.Fetcher = probes.NewFetcher(probes.FetchOptions{
		Timeout:      timeout,
		MaxBodyBytes: pc.MaxBodyBytes,
		MaxRedirects: pc.MaxRedirects,
		UserAgent:    pc.UserAgent,
		AllowPrivate: pc.AllowPrivate,
	})
	return deps
}

func (a *App) buildNarrator() verdict.Narrator {
	nc := a.cfg.Narrator
	if !nc.Enabled {
		return nil
	}
	n, err := verdict.NewOpenAINarrator(verdict.OpenAIConfig{
		APIKey:    nc.ResolveAPIKey(),
		BaseURL:   nc.BaseURL,
		Model:     nc.Model,
		MaxTokens: nc.MaxTokens,
	})
	if err != nil {
		a.logger.Warn("narrator unavailable, using templates", logging.F("error", err))
		return nil
	}
	return n
}

func (a *App) addJobs() error {
	ti := a.cfg.ThreatIntel
	if ti.Enabled {
		err := a.Scheduler.AddJob(scheduler.JobConfig{
			Name:       jobThreatIntel,
			Schedule:   ti.Schedule,
			Timeout:    ti.UpdaterConfig("").Timeout,
			RunOnStart: ti.RunOnStart,
		}, a.refreshFeeds)
		if err != nil {
			return err
		}
	}
	if a.cfg.Storage.RetentionDays > 0 {
		err := a.Scheduler.AddJob(scheduler.JobConfig{
			Name:     jobRetentionPrune,
			Schedule: a.cfg.Storage.PruneSchedule,
			Timeout:  time.Minute,
		}, a.pruneResults)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *App) refreshFeeds(ctx context.Context) error {
	status, err := a.Updater.Run(ctx)
	for id, src := range status.Sources {
		a.Metrics.FeedRefreshed(id, src.Error == "")
	}
	a.Metrics.SetIndicators(a.Index.Len())
	return err
}

func (a *App) pruneResults(context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -a.cfg.Storage.RetentionDays)
	n, err := a.Results.PruneOlderThan(cutoff)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	a.logger.Info("scan results pruned", logging.F("removed", n), logging.F("cutoff", cutoff))
	if c, ok := a.Store.(storage.Compactor); ok {
		if err := c.Compact(); err != nil {
			a.logger.Warn("store compaction failed", logging.F("error", err))
		}
	}
	return nil
}

// ApplyPolicy rebuilds the analyzer set, risk bands and aggregate scale from p. Scans already
// running keep the snapshot they started with.
func (a *App) ApplyPolicy(p *policy.Policy) error {
	a.policyMu.Lock()
	defer a.policyMu.Unlock()
	classifier, err := p.Classifier()
	if err != nil {
		return fmt.Errorf("policy classifier: %w", err)
	}
	gate, list, err := analyzers.Build(p, a.deps, a.cfg.Scan.AnalyzerOptions())
	if err != nil {
		return err
	}
	if err := a.Engine.SetScoring(classifier, p.AggregateScale); err != nil {
		return err
	}
	if err := a.Registry.Replace(gate, list); err != nil {
		return err
	}
	a.policy = p
	a.logger.Info("policy applied",
		logging.F("version", p.Version),
		logging.F("analyzers", len(list)),
		logging.F("scale", p.AggregateScale),
	)
	return nil
}

// ReloadPolicy re-reads the policy file, or restores the built-in policy
// when no path is configured.
func (a *App) ReloadPolicy() error {
	p, err := loadPolicy(a.cfg.Policy.Path)
	if err != nil {
		return err
	}
	return a.ApplyPolicy(p)
}

func (a *App) Policy() *policy.Policy {
	a.policyMu.Lock()
	defer a.policyMu.Unlock()
	return a.policy
}

// Close waits for in-flight alerts and releases the store if the App opened
// it.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.Scheduler.Stop()
		if a.Alerts != nil {
			a.Alerts.Wait()
		}
		if a.ownsStore {
			err = a.Store.Close()
		}
	})
	return err
}

func loadPolicy(path string) (*policy.Policy, error) {
	if path == "" {
		return policy.Default()
	}
	return policy.Load(path)
}
