package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Hensonam23/self-learning-ai/internal/config"
	"github.com/Hensonam23/self-learning-ai/internal/executor"
	"github.com/Hensonam23/self-learning-ai/internal/gitops"
	"github.com/Hensonam23/self-learning-ai/internal/history"
	"github.com/Hensonam23/self-learning-ai/internal/lock"
	"github.com/Hensonam23/self-learning-ai/internal/logger"
	"github.com/Hensonam23/self-learning-ai/internal/proposal"
	"github.com/Hensonam23/self-learning-ai/internal/scheduler"
	"github.com/Hensonam23/self-learning-ai/internal/selftest"
	"github.com/Hensonam23/self-learning-ai/internal/snapshot"
	"github.com/Hensonam23/self-learning-ai/internal/supervisor"
	"github.com/Hensonam23/self-learning-ai/internal/watchdog"
)

// app holds the wired pipeline for local (non-API) commands and for serve.
type app struct {
	cfg   *config.FileConfig
	log   *slog.Logger
	store *proposal.Store
	lk    *lock.Lock
	ex    *executor.Executor
	dog   *watchdog.Watchdog
	suite *selftest.Suite
	sinks []history.Sink
}

func loadApp(cfgPath string) (*app, error) {
	if cfgPath == "" {
		return nil, fmt.Errorf("a config file is required; pass --config")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logCfg := logger.Config{}
	if cfg.Log != nil {
		logCfg = *cfg.Log
	}
	log := logger.New(logCfg, "evolve")

	if err := os.MkdirAll(cfg.Paths.ProposalsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create proposals dir: %w", err)
	}

	services, err := cfg.RuntimeServices()
	if err != nil {
		return nil, err
	}

	store := proposal.NewStore(cfg.Paths.ProposalsDir)
	lk := lock.New(cfg.Paths.LockFile, cfg.Apply.StaleAfter, log)
	sup := supervisor.ExecSupervisor{}

	suite := buildSuite(cfg, sup, services)

	var committer *gitops.Committer
	if cfg.Git.Enabled {
		committer = gitops.New(cfg.Git.RepoDir, cfg.Git.Push, log)
	}

	var sinks []history.Sink
	if cfg.History.DSN != "" {
		sink, err := history.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	ex := executor.New(executor.Options{
		Store:      store,
		Lock:       lk,
		Snapshots:  snapshot.NewManager(cfg.Paths.BackupDir),
		Supervisor: sup,
		Services:   services,
		Suite:      suite,
		Committer:  committer,
		Sinks:      sinks,
		Logger:     log,
		Config: executor.Config{
			CriticalFiles:  cfg.Paths.CriticalFiles,
			PayloadTimeout: cfg.Apply.PayloadTimeout,
			RestartWait:    cfg.Apply.RestartWait,
			PollInterval:   cfg.Apply.PollInterval,
		},
	})

	dog := watchdog.New(watchdog.Options{
		Lock:       lk,
		Supervisor: sup,
		Services:   services,
		Suite:      suite,
		Logger:     log,
	})

	return &app{
		cfg:   cfg,
		log:   log,
		store: store,
		lk:    lk,
		ex:    ex,
		dog:   dog,
		suite: suite,
		sinks: sinks,
	}, nil
}

func (a *app) Close() {
	for _, s := range a.sinks {
		if err := s.Close(); err != nil {
			a.log.Warn("close history sink", "error", err)
		}
	}
}

func (a *app) boot() scheduler.Boot {
	return scheduler.Boot{
		Store:              a.store,
		Executor:           a.ex,
		Suite:              a.suite,
		MaintenanceTitle:   a.cfg.Maintenance.Title,
		MaintenanceCommand: a.cfg.Maintenance.Command,
		Logger:             a.log,
	}
}

func buildSuite(cfg *config.FileConfig, sup supervisor.Supervisor, services []supervisor.Service) *selftest.Suite {
	suite := selftest.NewSuite()
	if len(services) > 0 {
		suite.Add(selftest.LivenessCheck{Sup: sup, Services: services})
	}
	if cfg.Selftest.BaseURL != "" {
		suite.Add(selftest.ProtectedEndpointCheck{
			BaseURL: cfg.Selftest.BaseURL,
			APIKey:  cfg.Selftest.APIKey,
		})
		suite.Add(selftest.PinnedOverrideCheck{
			BaseURL: cfg.Selftest.BaseURL,
			APIKey:  cfg.Selftest.APIKey,
			Topic:   cfg.Selftest.Topic,
		})
	}
	return suite
}
