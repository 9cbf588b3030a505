package dispatch

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/Hauer92/fae-issue-report/internal/adapters/graph"
    "github.com/rs/zerolog"
    "github.com/stretchr/testify/require"
)

// memStore is an in-memory Store: a queue plus per-state tallies.
type memStore struct {
    mu        sync.Mutex
    queue     []Job
    delivered []int64
    skipped   []int64
    dead      []int64
    resched   []Job
    lastErr   string
}

func (s *memStore) push(j Job) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.queue = append(s.queue, j)
}

func (s *memStore) ClaimDue(ctx context.Context, limit int) ([]Job, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    n := len(s.queue)
    if n > limit { n = limit }
    out := make([]Job, n)
    copy(out, s.queue[:n])
    s.queue = s.queue[n:]
    return out, nil
}

func (s *memStore) MarkDelivered(ctx context.Context, id int64) error {
    if err := ctx.Err(); err != nil { return err }
    s.mu.Lock()
    defer s.mu.Unlock()
    s.delivered = append(s.delivered, id)
    return nil
}

func (s *memStore) MarkSkipped(ctx context.Context, id int64) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.skipped = append(s.skipped, id)
    return nil
}

func (s *memStore) Reschedule(ctx context.Context, id int64, attempts int, runAt time.Time, lastErr string) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    j := Job{ID: id, Attempts: attempts, RunAt: runAt}
    s.resched = append(s.resched, j)
    s.lastErr = lastErr
    return nil
}

func (s *memStore) MarkDead(ctx context.Context, id int64, attempts int, lastErr string) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.dead = append(s.dead, id)
    s.lastErr = lastErr
    return nil
}

func (s *memStore) counts() (delivered, skipped, dead, resched int) {
    s.mu.Lock()
    defer s.mu.Unlock()
    return len(s.delivered), len(s.skipped), len(s.dead), len(s.resched)
}

// scriptNotifier fails the first failures calls, then succeeds.
type scriptNotifier struct {
    mu       sync.Mutex
    failures int
    err      error
    calls    int
}

func (n *scriptNotifier) NotifyIssue(ctx context.Context, issueID int64, event string) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    n.calls++
    if n.calls <= n.failures { return n.err }
    return nil
}

func testRunner(store Store, n Notifier) *Runner {
    return NewRunner(RunnerConfig{Workers: 1, Poll: 5 * time.Millisecond, MaxAttempts: 3, RetryBase: time.Millisecond, RetryMax: 10 * time.Millisecond}, store, n, zerolog.Nop())
}

func TestExec_Success(t *testing.T) {
    store := &memStore{}
    r := testRunner(store, &scriptNotifier{})
    r.exec(context.Background(), Job{ID: 1, IssueID: 42, Event: EventCreated})
    d, s, dd, rs := store.counts()
    require.Equal(t, []int{1, 0, 0, 0}, []int{d, s, dd, rs})
}

func TestExec_RecordsOutcomeDuringShutdown(t *testing.T) {
    store := &memStore{}
    r := testRunner(store, &scriptNotifier{})

    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    r.exec(ctx, Job{ID: 1, IssueID: 42, Event: EventCreated})

    d, _, _, _ := store.counts()
    require.Equal(t, 1, d, "a finished delivery must be recorded even when the pool context is canceled")
}

func TestExec_SkippedWhenUnconfigured(t *testing.T) {
    store := &memStore{}
    n := &scriptNotifier{failures: 10, err: graph.ErrNoCredentials}
    r := testRunner(store, n)
    r.exec(context.Background(), Job{ID: 1, IssueID: 42, Event: EventCreated})
    d, s, dd, rs := store.counts()
    require.Equal(t, []int{0, 1, 0, 0}, []int{d, s, dd, rs}, "missing credentials is a skip, never a retry or a dead letter")
}

func TestExec_RetryThenDeliverExactlyOnce(t *testing.T) {
    store := &memStore{}
    n := &scriptNotifier{failures: 1, err: &graph.DeliveryError{Status: 503, Body: "busy"}}
    r := testRunner(store, n)

    job := Job{ID: 1, IssueID: 42, Event: EventStatusChanged}
    r.exec(context.Background(), job)
    d, s, dd, rs := store.counts()
    require.Equal(t, []int{0, 0, 0, 1}, []int{d, s, dd, rs})
    require.Equal(t, 1, store.resched[0].Attempts)
    require.Contains(t, store.lastErr, "503")

    // the rescheduled attempt succeeds
    job.Attempts = store.resched[0].Attempts
    r.exec(context.Background(), job)
    d, s, dd, rs = store.counts()
    require.Equal(t, []int{1, 0, 0, 1}, []int{d, s, dd, rs}, "exactly one delivery after a retried failure")
}

func TestExec_DeadLetterAfterBudget(t *testing.T) {
    store := &memStore{}
    n := &scriptNotifier{failures: 100, err: errors.New("permanently broken")}
    r := testRunner(store, n)

    job := Job{ID: 1, IssueID: 42, Event: EventCreated}
    for i := 0; i < 3; i++ {
        r.exec(context.Background(), job)
        job.Attempts++
    }
    d, s, dd, rs := store.counts()
    require.Equal(t, 0, d)
    require.Equal(t, 0, s)
    require.Equal(t, 1, dd, "job moves to dead exactly once when attempts are exhausted")
    require.Equal(t, 2, rs)
    require.Equal(t, 3, n.calls)
}

func TestRunner_DrainsQueue(t *testing.T) {
    store := &memStore{}
    store.push(Job{ID: 1, IssueID: 42, Event: EventCreated})
    store.push(Job{ID: 2, IssueID: 43, Event: EventStatusChanged})
    n := &scriptNotifier{}
    r := testRunner(store, n)

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    r.Start(ctx)

    deadline := time.Now().Add(2 * time.Second)
    for time.Now().Before(deadline) {
        if d, _, _, _ := store.counts(); d == 2 { break }
        time.Sleep(5 * time.Millisecond)
    }
    cancel()
    r.Stop()

    d, _, _, _ := store.counts()
    require.Equal(t, 2, d)
}

func TestBackoff(t *testing.T) {
    base := 30 * time.Second
    max := 15 * time.Minute

    within := func(attempt int, nominal time.Duration) {
        d := Backoff(base, max, attempt)
        lo := time.Duration(float64(nominal) * 0.8)
        hi := time.Duration(float64(nominal) * 1.2)
        if nominal >= max { hi = max }
        require.GreaterOrEqual(t, d, lo, "attempt %d", attempt)
        require.LessOrEqual(t, d, hi, "attempt %d", attempt)
    }

    within(1, 30*time.Second)
    within(2, time.Minute)
    within(3, 2*time.Minute)
    within(4, 4*time.Minute)
    within(10, max)
}
