package dispatch

import (
    "context"
    "errors"
    "math/rand/v2"
    "sync"
    "time"

    "github.com/Hauer92/fae-issue-report/internal/adapters/graph"
    "github.com/rs/zerolog"
)

// Job states. A failed attempt goes back to queued with a later run_at, or to
// dead once the attempt budget is spent. Dead jobs are kept for inspection.
const (
    JobQueued    = "queued"
    JobRunning   = "running"
    JobDelivered = "delivered"
    JobSkipped   = "skipped"
    JobDead      = "dead"
)

// Job is one unit of "notify the channel about this issue event".
type Job struct {
    ID       int64     `json:"id"`
    IssueID  int64     `json:"issue_id"`
    Event    string    `json:"event"`
    Attempts int       `json:"attempts"`
    RunAt    time.Time `json:"run_at"`
}

// Store is the durable queue. Claiming must be safe across concurrent
// runners (at-least-once delivery).
type Store interface {
    ClaimDue(ctx context.Context, limit int) ([]Job, error)
    MarkDelivered(ctx context.Context, id int64) error
    MarkSkipped(ctx context.Context, id int64) error
    Reschedule(ctx context.Context, id int64, attempts int, runAt time.Time, lastErr string) error
    MarkDead(ctx context.Context, id int64, attempts int, lastErr string) error
}

// Notifier delivers one issue-event message. One attempt per call.
type Notifier interface {
    NotifyIssue(ctx context.Context, issueID int64, event string) error
}

type RunnerConfig struct {
    Workers     int
    Poll        time.Duration
    BatchSize   int
    Timeout     time.Duration
    MaxAttempts int
    RetryBase   time.Duration
    RetryMax    time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
    if c.Workers <= 0 { c.Workers = 2 }
    if c.Poll <= 0 { c.Poll = 2 * time.Second }
    if c.BatchSize <= 0 { c.BatchSize = 16 }
    if c.Timeout <= 0 { c.Timeout = 30 * time.Second }
    if c.MaxAttempts <= 0 { c.MaxAttempts = 5 }
    if c.RetryBase <= 0 { c.RetryBase = 30 * time.Second }
    if c.RetryMax <= 0 { c.RetryMax = 15 * time.Minute }
    return c
}

// Runner executes queued dispatch jobs on a worker pool, isolated from the
// web request path. Delivery errors never propagate past this boundary.
type Runner struct {
    cfg      RunnerConfig
    store    Store
    notifier Notifier
    log      zerolog.Logger

    stopOnce sync.Once
    stopCh   chan struct{}
    wg       sync.WaitGroup
}

func NewRunner(cfg RunnerConfig, store Store, n Notifier, log zerolog.Logger) *Runner {
    return &Runner{cfg: cfg.withDefaults(), store: store, notifier: n, log: log, stopCh: make(chan struct{})}
}

func (r *Runner) Start(ctx context.Context) {
    jobs := make(chan Job, r.cfg.BatchSize)

    r.wg.Add(1)
    go func() {
        defer r.wg.Done()
        defer close(jobs)
        ticker := time.NewTicker(r.cfg.Poll)
        defer ticker.Stop()
        for {
            select {
            case <-ctx.Done():
                return
            case <-r.stopCh:
                return
            case <-ticker.C:
                claimed, err := r.store.ClaimDue(ctx, r.cfg.BatchSize)
                if err != nil {
                    if ctx.Err() == nil { r.log.Error().Err(err).Msg("dispatch: claim failed") }
                    continue
                }
                for _, j := range claimed {
                    select {
                    case jobs <- j:
                    case <-ctx.Done():
                        return
                    case <-r.stopCh:
                        return
                    }
                }
            }
        }
    }()

    r.wg.Add(r.cfg.Workers)
    for i := 0; i < r.cfg.Workers; i++ {
        go func() {
            defer r.wg.Done()
            for j := range jobs { r.exec(ctx, j) }
        }()
    }
    r.log.Info().Int("workers", r.cfg.Workers).Dur("poll", r.cfg.Poll).Msg("dispatch runner started")
}

// Stop waits for in-flight jobs to finish. A job interrupted mid-flight stays
// running and is recovered by RequeueStale on the next start.
func (r *Runner) Stop() {
    r.stopOnce.Do(func() { close(r.stopCh) })
    r.wg.Wait()
}

func (r *Runner) exec(ctx context.Context, j Job) {
    runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
    err := r.notifier.NotifyIssue(runCtx, j.IssueID, j.Event)
    cancel()

    // bookkeeping must land even when ctx is canceled mid-shutdown, or a
    // finished delivery stays running and is re-delivered after requeue
    ctx = context.WithoutCancel(ctx)
    attempts := j.Attempts + 1
    switch {
    case err == nil:
        if merr := r.store.MarkDelivered(ctx, j.ID); merr != nil {
            r.log.Error().Err(merr).Int64("job_id", j.ID).Msg("dispatch: mark delivered failed")
        }
    case errors.Is(err, graph.ErrNoCredentials):
        // notifications not configured: a no-op, not a failure
        if merr := r.store.MarkSkipped(ctx, j.ID); merr != nil {
            r.log.Error().Err(merr).Int64("job_id", j.ID).Msg("dispatch: mark skipped failed")
        }
    case attempts >= r.cfg.MaxAttempts:
        r.log.Error().Err(err).Int64("job_id", j.ID).Int64("issue_id", j.IssueID).Str("event", j.Event).Int("attempts", attempts).Msg("dispatch: job dead-lettered")
        if merr := r.store.MarkDead(ctx, j.ID, attempts, err.Error()); merr != nil {
            r.log.Error().Err(merr).Int64("job_id", j.ID).Msg("dispatch: mark dead failed")
        }
    default:
        delay := Backoff(r.cfg.RetryBase, r.cfg.RetryMax, attempts)
        r.log.Warn().Err(err).Int64("job_id", j.ID).Int64("issue_id", j.IssueID).Int("attempts", attempts).Dur("delay", delay).Msg("dispatch: job failed; retry scheduled")
        if merr := r.store.Reschedule(ctx, j.ID, attempts, time.Now().Add(delay), err.Error()); merr != nil {
            r.log.Error().Err(merr).Int64("job_id", j.ID).Msg("dispatch: reschedule failed")
        }
    }
}

// Backoff returns the delay before attempt+1: base doubled per prior attempt,
// capped at max, with ±20% jitter.
func Backoff(base, max time.Duration, attempt int) time.Duration {
    if base <= 0 { base = 30 * time.Second }
    if max <= 0 { max = 15 * time.Minute }
    d := base
    for i := 1; i < attempt; i++ {
        d *= 2
        if d > max { d = max; break }
    }
    j := (rand.Float64()*2 - 1) * 0.2
    d = time.Duration(float64(d) * (1 + j))
    if d < 0 { d = 0 }
    if d > max { d = max }
    return d
}
