/* Copyright (c) 2025 Hauer92 <https://github.com/Hauer92>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/Hauer92/fae-issue-report/internal/adapters/graph"
    "github.com/Hauer92/fae-issue-report/internal/config"
    "github.com/Hauer92/fae-issue-report/internal/dispatch"
    httpapi "github.com/Hauer92/fae-issue-report/internal/http"
    "github.com/Hauer92/fae-issue-report/internal/jobs"
    "github.com/Hauer92/fae-issue-report/internal/logger"
    "github.com/Hauer92/fae-issue-report/internal/notify"
    "github.com/Hauer92/fae-issue-report/internal/repo"
    "github.com/Hauer92/fae-issue-report/internal/services"
)

func main() {
    cfg := config.Load()
    log := logger.New(cfg)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    // DB
    db := repo.MustOpen(ctx, cfg, log)
    defer db.Close()
    repository := repo.NewRepository(db, log)
    if err := repository.EnsureSchema(ctx); err != nil { log.Fatal().Err(err).Msg("schema init failed") }

    if !cfg.NotificationsConfigured() {
        log.Info().Msg("graph credentials absent; channel notifications disabled")
    }

    // Notification pipeline
    gc := graph.NewClient(cfg, log)
    notifier := notify.New(cfg, log, gc, repository)

    hooks := dispatch.NewHooks(log)
    trigger := dispatch.NewTrigger(repository, repository, log)
    trigger.Register(hooks)

    // Recover jobs a previous process left mid-flight, then start the runner.
    if n, err := repository.RequeueStale(ctx, 5*time.Minute); err != nil {
        log.Error().Err(err).Msg("requeue stale jobs failed")
    } else if n > 0 {
        log.Info().Int64("jobs", n).Msg("requeued stale dispatch jobs")
    }
    runner := dispatch.NewRunner(dispatch.RunnerConfig{
        Workers:     cfg.DispatchWorkers,
        Poll:        cfg.DispatchPoll,
        MaxAttempts: cfg.DispatchMaxAttempts,
        RetryBase:   cfg.DispatchRetryBase,
        RetryMax:    cfg.DispatchRetryMax,
    }, repository, notifier, log)
    runner.Start(ctx)
    defer runner.Stop()

    // Services
    svc := services.New(cfg, log, repository, hooks)

    // Cron
    cr := jobs.NewCron(cfg, log, svc, repository)
    cr.Start()
    defer cr.Stop()

    // HTTP server (Gin)
    router := httpapi.NewRouter(cfg, log, svc)

    errCh := make(chan error, 1)
    go func() { errCh <- router.Run(cfg.HTTPAddr) }()

    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

    select {
    case <-sigCh:
        log.Info().Msg("shutting down...")
    case err := <-errCh:
        if err != nil { log.Error().Err(err).Msg("http server error") }
    }

    cancel()
    time.Sleep(500 * time.Millisecond)
}
