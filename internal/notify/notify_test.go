package notify

import (
    "context"
    "errors"
    "testing"

    "github.com/Hauer92/fae-issue-report/internal/config"
    "github.com/Hauer92/fae-issue-report/internal/domain"
    "github.com/rs/zerolog"
)

type fakeSender struct {
    sent []string
    err  error
}

func (f *fakeSender) PostChannelMessage(ctx context.Context, html string) error {
    f.sent = append(f.sent, html)
    return f.err
}

type fakeLoader struct{ issue *domain.Issue }

func (f *fakeLoader) GetIssue(ctx context.Context, id int64) (*domain.Issue, error) {
    if f.issue == nil || f.issue.ID != id { return nil, errors.New("no such issue") }
    return f.issue, nil
}

func TestComposeIssueMessage(t *testing.T) {
    unassigned := domain.Issue{
        ID:       42,
        Title:    "Pump leak",
        Status:   domain.StatusInProgress,
        Priority: domain.P1,
    }
    assigned := unassigned
    assigned.Assignee = "chen.wei"

    cases := []struct {
        name    string
        issue   domain.Issue
        event   string
        baseURL string
        want    string
    }{
        {
            name:    "unassigned",
            issue:   unassigned,
            event:   "status_changed",
            baseURL: "http://localhost:8080",
            want:    "<b>#42 Pump leak</b><br/>事件：status_changed｜狀態：In Progress｜優先度：P1 - High<br/>指派：未指派<br/><a href='http://localhost:8080/admin/core/issue/42/change/'>查看</a>",
        },
        {
            name:    "assigned and trailing slash trimmed",
            issue:   assigned,
            event:   "created",
            baseURL: "http://localhost:8080/",
            want:    "<b>#42 Pump leak</b><br/>事件：created｜狀態：In Progress｜優先度：P1 - High<br/>指派：chen.wei<br/><a href='http://localhost:8080/admin/core/issue/42/change/'>查看</a>",
        },
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            got := ComposeIssueMessage(tc.issue, tc.event, tc.baseURL)
            if got != tc.want {
                t.Fatalf("message mismatch\n got: %s\nwant: %s", got, tc.want)
            }
        })
    }
}

func TestNotifyIssue_LoadsFreshAndSends(t *testing.T) {
    cfg := config.Config{AppBaseURL: "https://issues.example.com"}
    sender := &fakeSender{}
    loader := &fakeLoader{issue: &domain.Issue{ID: 7, Title: "Fan stalled", Status: domain.StatusNew, Priority: domain.P0}}
    svc := New(cfg, zerolog.Nop(), sender, loader)

    if err := svc.NotifyIssue(context.Background(), 7, "created"); err != nil {
        t.Fatalf("NotifyIssue: %v", err)
    }
    if len(sender.sent) != 1 {
        t.Fatalf("expected 1 send, got %d", len(sender.sent))
    }
    want := "<b>#7 Fan stalled</b><br/>事件：created｜狀態：New｜優先度：P0 - Critical<br/>指派：未指派<br/><a href='https://issues.example.com/admin/core/issue/7/change/'>查看</a>"
    if sender.sent[0] != want {
        t.Fatalf("sent mismatch\n got: %s\nwant: %s", sender.sent[0], want)
    }
}

func TestNotifyIssue_LoadFailureSkipsSend(t *testing.T) {
    sender := &fakeSender{}
    svc := New(config.Config{}, zerolog.Nop(), sender, &fakeLoader{})
    if err := svc.NotifyIssue(context.Background(), 99, "created"); err == nil {
        t.Fatal("expected error for missing issue")
    }
    if len(sender.sent) != 0 {
        t.Fatalf("no message should be sent when the issue cannot be loaded, got %d", len(sender.sent))
    }
}
