/* Copyright (c) 2025 Hauer92 <https://github.com/Hauer92>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
    "context"
    "errors"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "time"

    "github.com/Hauer92/fae-issue-report/internal/config"
    "github.com/Hauer92/fae-issue-report/internal/dispatch"
    "github.com/Hauer92/fae-issue-report/internal/domain"
    "github.com/Hauer92/fae-issue-report/internal/repo"
    "github.com/google/uuid"
    "github.com/rs/zerolog"
)

var (
    ErrValidation = errors.New("validation failed")
    ErrNotFound   = repo.ErrNotFound
)

type Service struct {
    cfg   config.Config
    log   zerolog.Logger
    repo  *repo.Repository
    hooks *dispatch.Hooks
}

func New(cfg config.Config, log zerolog.Logger, r *repo.Repository, hooks *dispatch.Hooks) *Service {
    return &Service{cfg: cfg, log: log, repo: r, hooks: hooks}
}

// ---- Projects / Assets ----

func (s *Service) CreateProject(ctx context.Context, p domain.Project) (*domain.Project, error) {
    if p.Name == "" { return nil, fmt.Errorf("%w: project name required", ErrValidation) }
    id, err := s.repo.CreateProject(ctx, p)
    if err != nil { return nil, err }
    return s.repo.GetProject(ctx, id)
}

func (s *Service) ListProjects(ctx context.Context) ([]domain.Project, error) {
    return s.repo.ListProjects(ctx)
}

func (s *Service) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
    return s.repo.GetProject(ctx, id)
}

func (s *Service) CreateAsset(ctx context.Context, a domain.Asset) (*domain.Asset, error) {
    if a.SerialNo == "" { return nil, fmt.Errorf("%w: asset serial_no required", ErrValidation) }
    if _, err := s.repo.GetProject(ctx, a.ProjectID); err != nil {
        if errors.Is(err, repo.ErrNotFound) { return nil, fmt.Errorf("%w: project %d not found", ErrValidation, a.ProjectID) }
        return nil, err
    }
    id, err := s.repo.CreateAsset(ctx, a)
    if err != nil { return nil, err }
    a.ID = id
    return &a, nil
}

func (s *Service) ListAssets(ctx context.Context, projectID int64) ([]domain.Asset, error) {
    return s.repo.ListAssets(ctx, projectID)
}

// ---- Issues ----

type IssueInput struct {
    ProjectID   int64            `json:"project_id"`
    AssetID     *int64           `json:"asset_id"`
    Title       string           `json:"title"`
    Description string           `json:"description"`
    Priority    *string          `json:"priority"`
    Status      *domain.Status   `json:"status"`
    Assignee    string           `json:"assignee"`
    SLADueAt    *time.Time       `json:"sla_due_at"`
}

func (s *Service) CreateIssue(ctx context.Context, in IssueInput, reporter string) (*domain.Issue, error) {
    if in.Title == "" { return nil, fmt.Errorf("%w: title required", ErrValidation) }
    if reporter == "" { return nil, fmt.Errorf("%w: reporter required", ErrValidation) }
    if _, err := s.repo.GetProject(ctx, in.ProjectID); err != nil {
        if errors.Is(err, repo.ErrNotFound) { return nil, fmt.Errorf("%w: project %d not found", ErrValidation, in.ProjectID) }
        return nil, err
    }
    i := domain.Issue{
        ProjectID:   in.ProjectID,
        AssetID:     in.AssetID,
        Title:       in.Title,
        Description: in.Description,
        Priority:    domain.P2,
        Status:      domain.StatusNew,
        Reporter:    reporter,
        Assignee:    in.Assignee,
        SLADueAt:    in.SLADueAt,
    }
    if in.Priority != nil {
        p, ok := domain.ParsePriority(*in.Priority)
        if !ok { return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, *in.Priority) }
        i.Priority = p
    }
    if in.Status != nil {
        if !in.Status.Valid() { return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *in.Status) }
        i.Status = *in.Status
    }
    created, err := s.repo.CreateIssue(ctx, i)
    if err != nil { return nil, err }
    s.hooks.Fire(ctx, dispatch.IssueWrite{Issue: *created, Created: true})
    return created, nil
}

type IssuePatch struct {
    Title       *string        `json:"title"`
    Description *string        `json:"description"`
    Priority    *string        `json:"priority"`
    Status      *domain.Status `json:"status"`
    Assignee    *string        `json:"assignee"`
    AssetID     *int64         `json:"asset_id"`
    SLADueAt    *time.Time     `json:"sla_due_at"`
}

func (s *Service) UpdateIssue(ctx context.Context, id int64, p IssuePatch) (*domain.Issue, error) {
    cur, err := s.repo.GetIssue(ctx, id)
    if err != nil { return nil, err }
    prevStatus := cur.Status
    prevAssignee := cur.Assignee

    next := *cur
    if p.Title != nil {
        if *p.Title == "" { return nil, fmt.Errorf("%w: title cannot be empty", ErrValidation) }
        next.Title = *p.Title
    }
    if p.Description != nil { next.Description = *p.Description }
    if p.Priority != nil {
        pr, ok := domain.ParsePriority(*p.Priority)
        if !ok { return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, *p.Priority) }
        next.Priority = pr
    }
    if p.Status != nil {
        if !p.Status.Valid() { return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *p.Status) }
        next.Status = *p.Status
    }
    if p.Assignee != nil { next.Assignee = *p.Assignee }
    if p.AssetID != nil { next.AssetID = p.AssetID }
    if p.SLADueAt != nil { next.SLADueAt = p.SLADueAt }

    updated, err := s.repo.UpdateIssue(ctx, next)
    if err != nil { return nil, err }
    s.hooks.Fire(ctx, dispatch.IssueWrite{Issue: *updated, PrevStatus: prevStatus, PrevAssignee: prevAssignee})
    return updated, nil
}

func (s *Service) GetIssue(ctx context.Context, id int64) (*domain.Issue, error) {
    return s.repo.GetIssue(ctx, id)
}

// IssueDetail bundles an issue with its child records for the detail view.
type IssueDetail struct {
    Issue       domain.Issue        `json:"issue"`
    Comments    []domain.Comment    `json:"comments"`
    Attachments []domain.Attachment `json:"attachments"`
    Events      []domain.IssueEvent `json:"events"`
}

func (s *Service) GetIssueDetail(ctx context.Context, id int64) (*IssueDetail, error) {
    issue, err := s.repo.GetIssue(ctx, id)
    if err != nil { return nil, err }
    comments, err := s.repo.ListComments(ctx, id)
    if err != nil { return nil, err }
    attachments, err := s.repo.ListAttachments(ctx, id)
    if err != nil { return nil, err }
    events, err := s.repo.ListIssueEvents(ctx, id)
    if err != nil { return nil, err }
    return &IssueDetail{Issue: *issue, Comments: comments, Attachments: attachments, Events: events}, nil
}

// IssueView decorates a list row with the SLA due label.
type IssueView struct {
    domain.Issue
    DueLabel string `json:"due_label"`
    DueStyle string `json:"due_style"`
}

func (s *Service) ListIssues(ctx context.Context, status domain.Status, projectID int64, limit int) ([]IssueView, error) {
    if status != "" && !status.Valid() { return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status) }
    issues, err := s.repo.ListIssues(ctx, status, projectID, limit)
    if err != nil { return nil, err }
    now := time.Now()
    out := make([]IssueView, 0, len(issues))
    for _, i := range issues {
        label, style := DueLabel(i.SLADueAt, now)
        out = append(out, IssueView{Issue: i, DueLabel: label, DueStyle: style})
    }
    return out, nil
}

// DueLabel renders the remaining-time badge for an SLA deadline: overdue in
// days, under a day in hours+minutes, otherwise days remaining.
func DueLabel(due *time.Time, now time.Time) (string, string) {
    if due == nil { return "N/A", "default" }
    diff := due.Sub(now)
    if diff < 0 {
        days := int(-diff / (24 * time.Hour))
        if days >= 1 { return fmt.Sprintf("%d天", days), "danger" }
        return "已過期", "danger"
    }
    if diff < 24*time.Hour {
        hours := int(diff / time.Hour)
        minutes := int(diff % time.Hour / time.Minute)
        return fmt.Sprintf("%d時%d分", hours, minutes), "warning"
    }
    return fmt.Sprintf("%d天", int(diff/(24*time.Hour))), "success"
}

func (s *Service) ListIssueEvents(ctx context.Context, issueID int64) ([]domain.IssueEvent, error) {
    if _, err := s.repo.GetIssue(ctx, issueID); err != nil { return nil, err }
    return s.repo.ListIssueEvents(ctx, issueID)
}

// ---- Comments / Attachments ----

func (s *Service) AddComment(ctx context.Context, issueID int64, author, body string) (*domain.Comment, error) {
    if body == "" { return nil, fmt.Errorf("%w: comment body required", ErrValidation) }
    if author == "" { return nil, fmt.Errorf("%w: author required", ErrValidation) }
    if _, err := s.repo.GetIssue(ctx, issueID); err != nil { return nil, err }
    return s.repo.InsertComment(ctx, domain.Comment{IssueID: issueID, Author: author, Body: body})
}

func (s *Service) ListComments(ctx context.Context, issueID int64) ([]domain.Comment, error) {
    if _, err := s.repo.GetIssue(ctx, issueID); err != nil { return nil, err }
    return s.repo.ListComments(ctx, issueID)
}

// AddAttachment stores the file under a uuid key and records the row.
func (s *Service) AddAttachment(ctx context.Context, issueID int64, fileName, uploadedBy string, src io.Reader) (*domain.Attachment, error) {
    if fileName == "" { return nil, fmt.Errorf("%w: file name required", ErrValidation) }
    if uploadedBy == "" { return nil, fmt.Errorf("%w: uploader required", ErrValidation) }
    if _, err := s.repo.GetIssue(ctx, issueID); err != nil { return nil, err }

    key := uuid.NewString() + filepath.Ext(fileName)
    dir := s.cfg.AttachmentDir
    if err := os.MkdirAll(dir, 0o755); err != nil { return nil, fmt.Errorf("attachment dir: %w", err) }
    dst, err := os.Create(filepath.Join(dir, key))
    if err != nil { return nil, fmt.Errorf("attachment create: %w", err) }
    if _, err := io.Copy(dst, src); err != nil {
        dst.Close()
        os.Remove(dst.Name())
        return nil, fmt.Errorf("attachment write: %w", err)
    }
    if err := dst.Close(); err != nil { return nil, err }

    return s.repo.InsertAttachment(ctx, domain.Attachment{
        IssueID: issueID, FileName: fileName, StorageKey: key, UploadedBy: uploadedBy,
    })
}

func (s *Service) ListAttachments(ctx context.Context, issueID int64) ([]domain.Attachment, error) {
    if _, err := s.repo.GetIssue(ctx, issueID); err != nil { return nil, err }
    return s.repo.ListAttachments(ctx, issueID)
}

// ---- SLA scan ----

// RunSLAScan records sla_breach / sla_warn events and queues one notification
// per issue per kind. Event before enqueue, same as the write path.
func (s *Service) RunSLAScan(ctx context.Context) (int, error) {
    fired := 0
    breached, err := s.repo.ListSLABreached(ctx)
    if err != nil { return fired, err }
    for _, i := range breached {
        if err := s.fireSLAEvent(ctx, i, domain.ActionSLABreach); err != nil {
            s.log.Error().Err(err).Int64("issue_id", i.ID).Msg("sla: breach event failed")
            continue
        }
        fired++
    }
    warn, err := s.repo.ListSLAWarn(ctx, s.cfg.SLAWarnWindow)
    if err != nil { return fired, err }
    for _, i := range warn {
        if err := s.fireSLAEvent(ctx, i, domain.ActionSLAWarn); err != nil {
            s.log.Error().Err(err).Int64("issue_id", i.ID).Msg("sla: warn event failed")
            continue
        }
        fired++
    }
    if fired > 0 { s.log.Info().Int("fired", fired).Msg("sla scan complete") }
    return fired, nil
}

func (s *Service) fireSLAEvent(ctx context.Context, i domain.Issue, action string) error {
    ev := domain.IssueEvent{
        IssueID: i.ID,
        Actor:   i.Actor(),
        Action:  action,
        ToValue: string(i.Status),
    }
    if i.SLADueAt != nil { ev.Note = "due " + i.SLADueAt.Format(time.RFC3339) }
    if err := s.repo.InsertIssueEvent(ctx, ev); err != nil { return err }
    _, err := s.repo.EnqueueDispatchJob(ctx, i.ID, action)
    return err
}

// ---- Dispatch admin ----

func (s *Service) DispatchSnapshot(ctx context.Context) (*repo.DispatchSnapshot, error) {
    return s.repo.GetDispatchSnapshot(ctx, 50)
}

func (s *Service) RetryDeadJob(ctx context.Context, id int64) error {
    return s.repo.RetryDead(ctx, id)
}
