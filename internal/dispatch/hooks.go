package dispatch

import (
    "context"
    "sync"

    "github.com/Hauer92/fae-issue-report/internal/domain"
    "github.com/rs/zerolog"
)

// IssueWrite describes a committed create or update of an Issue.
type IssueWrite struct {
    Issue        domain.Issue
    Created      bool
    PrevStatus   domain.Status
    PrevAssignee string
}

// Hook runs synchronously after an issue write has committed. Hook errors are
// logged and swallowed; the write has already succeeded.
type Hook func(ctx context.Context, w IssueWrite) error

// Hooks is the post-commit registration point. Each hook registers under a
// dedupe key so re-registration (process reload, repeated init) never
// double-fires.
type Hooks struct {
    mu    sync.Mutex
    keys  map[string]struct{}
    hooks []registered
    log   zerolog.Logger
}

type registered struct {
    key string
    fn  Hook
}

func NewHooks(log zerolog.Logger) *Hooks {
    return &Hooks{keys: map[string]struct{}{}, log: log}
}

// Register adds a hook under key. A second registration with the same key is
// ignored; returns false in that case.
func (h *Hooks) Register(key string, fn Hook) bool {
    h.mu.Lock()
    defer h.mu.Unlock()
    if _, dup := h.keys[key]; dup {
        h.log.Warn().Str("hook", key).Msg("hook already registered; ignoring")
        return false
    }
    h.keys[key] = struct{}{}
    h.hooks = append(h.hooks, registered{key: key, fn: fn})
    return true
}

// Fire runs all hooks in registration order. The originating write has
// committed, so failures must not propagate back to the request — and the
// hooks must outlive it: a client disconnect after commit may not cost the
// issue its audit row or its job, so cancellation is stripped here.
func (h *Hooks) Fire(ctx context.Context, w IssueWrite) {
    h.mu.Lock()
    hooks := make([]registered, len(h.hooks))
    copy(hooks, h.hooks)
    h.mu.Unlock()
    ctx = context.WithoutCancel(ctx)
    for _, r := range hooks {
        if err := r.fn(ctx, w); err != nil {
            h.log.Error().Err(err).Str("hook", r.key).Int64("issue_id", w.Issue.ID).Msg("post-commit hook failed")
        }
    }
}
