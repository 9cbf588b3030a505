package dispatch

import (
    "context"
    "fmt"

    "github.com/Hauer92/fae-issue-report/internal/domain"
    "github.com/rs/zerolog"
)

// Job event labels carried to the notifier.
const (
    EventCreated       = "created"
    EventStatusChanged = "status_changed"
    EventUpdated       = "updated"
)

// Recorder appends one immutable audit row.
type Recorder interface {
    InsertIssueEvent(ctx context.Context, ev domain.IssueEvent) error
}

// Enqueuer inserts one queued dispatch job.
type Enqueuer interface {
    EnqueueDispatchJob(ctx context.Context, issueID int64, event string) (int64, error)
}

// Trigger reacts to issue writes: audit row first, then exactly one queued
// notification job. The two steps are an explicit contract; the event must
// exist even if the job is never delivered.
type Trigger struct {
    rec Recorder
    q   Enqueuer
    log zerolog.Logger
}

func NewTrigger(rec Recorder, q Enqueuer, log zerolog.Logger) *Trigger {
    return &Trigger{rec: rec, q: q, log: log}
}

// HookKey deduplicates trigger registration across init paths.
const HookKey = "issue_notify_v1"

func (t *Trigger) Register(h *Hooks) { h.Register(HookKey, t.OnIssueWrite) }

// OnIssueWrite is the post-commit hook body.
func (t *Trigger) OnIssueWrite(ctx context.Context, w IssueWrite) error {
    ev := buildEvent(w)
    if err := t.rec.InsertIssueEvent(ctx, ev); err != nil {
        return fmt.Errorf("record %s event for issue %d: %w", ev.Action, w.Issue.ID, err)
    }
    label := eventLabel(w)
    id, err := t.q.EnqueueDispatchJob(ctx, w.Issue.ID, label)
    if err != nil {
        return fmt.Errorf("enqueue %s job for issue %d: %w", label, w.Issue.ID, err)
    }
    t.log.Debug().Int64("issue_id", w.Issue.ID).Int64("job_id", id).Str("event", label).Msg("dispatch job enqueued")
    return nil
}

func buildEvent(w IssueWrite) domain.IssueEvent {
    i := w.Issue
    if w.Created {
        return domain.IssueEvent{
            IssueID: i.ID,
            Actor:   i.Reporter,
            Action:  domain.ActionCreated,
            ToValue: string(i.Status),
        }
    }
    ev := domain.IssueEvent{IssueID: i.ID, Actor: i.Actor()}
    switch {
    case w.PrevStatus != i.Status && i.Status == domain.StatusClosed:
        ev.Action = domain.ActionClosed
        ev.FromValue = string(w.PrevStatus)
        ev.ToValue = string(i.Status)
    case w.PrevStatus != i.Status:
        ev.Action = domain.ActionStatusChanged
        ev.FromValue = string(w.PrevStatus)
        ev.ToValue = string(i.Status)
    case w.PrevAssignee != i.Assignee:
        ev.Action = domain.ActionReassigned
        ev.FromValue = w.PrevAssignee
        ev.ToValue = i.Assignee
    default:
        ev.Action = domain.ActionStatusChanged
        ev.ToValue = string(i.Status)
    }
    return ev
}

func eventLabel(w IssueWrite) string {
    switch {
    case w.Created:
        return EventCreated
    case w.PrevStatus != w.Issue.Status:
        return EventStatusChanged
    default:
        return EventUpdated
    }
}
