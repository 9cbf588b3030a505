package notify

import (
    "context"
    "fmt"
    "strings"

    "github.com/Hauer92/fae-issue-report/internal/config"
    "github.com/Hauer92/fae-issue-report/internal/domain"
    "github.com/rs/zerolog"
)

// Sender posts one HTML message to the chat channel. Exactly one attempt.
type Sender interface {
    PostChannelMessage(ctx context.Context, html string) error
}

// IssueLoader fetches the issue fresh at delivery time, so a job delayed by
// retries reports the issue's current state.
type IssueLoader interface {
    GetIssue(ctx context.Context, id int64) (*domain.Issue, error)
}

type Service struct {
    cfg    config.Config
    log    zerolog.Logger
    sender Sender
    issues IssueLoader
}

func New(cfg config.Config, log zerolog.Logger, sender Sender, issues IssueLoader) *Service {
    return &Service{cfg: cfg, log: log, sender: sender, issues: issues}
}

// ComposeIssueMessage renders the channel message body. The shape is a
// regression target; do not reorder fields or change punctuation.
func ComposeIssueMessage(i domain.Issue, event, baseURL string) string {
    assignee := i.Assignee
    if assignee == "" { assignee = "未指派" }
    base := strings.TrimRight(baseURL, "/")
    return fmt.Sprintf(
        "<b>#%d %s</b><br/>事件：%s｜狀態：%s｜優先度：%s<br/>指派：%s<br/><a href='%s/admin/core/issue/%d/change/'>查看</a>",
        i.ID, i.Title, event, i.Status.Label(), i.Priority.Label(), assignee, base, i.ID,
    )
}

// NotifyIssue loads the issue and posts the event message to the channel.
// Missing notification config surfaces as graph.ErrNoCredentials from the
// sender so the dispatch runner can mark the job skipped; nothing here
// reaches the request path.
func (s *Service) NotifyIssue(ctx context.Context, issueID int64, event string) error {
    issue, err := s.issues.GetIssue(ctx, issueID)
    if err != nil { return fmt.Errorf("notify: load issue %d: %w", issueID, err) }
    html := ComposeIssueMessage(*issue, event, s.cfg.AppBaseURL)
    return s.sender.PostChannelMessage(ctx, html)
}
