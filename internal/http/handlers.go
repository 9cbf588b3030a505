/* Copyright (c) 2025 Hauer92 <https://github.com/Hauer92>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "context"
    "errors"
    "io"
    "net/http"
    "strconv"
    "strings"

    "github.com/Hauer92/fae-issue-report/internal/config"
    "github.com/Hauer92/fae-issue-report/internal/domain"
    "github.com/Hauer92/fae-issue-report/internal/repo"
    "github.com/Hauer92/fae-issue-report/internal/services"
    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"
)

type service interface {
    CreateProject(ctx context.Context, p domain.Project) (*domain.Project, error)
    ListProjects(ctx context.Context) ([]domain.Project, error)
    GetProject(ctx context.Context, id int64) (*domain.Project, error)
    CreateAsset(ctx context.Context, a domain.Asset) (*domain.Asset, error)
    ListAssets(ctx context.Context, projectID int64) ([]domain.Asset, error)
    CreateIssue(ctx context.Context, in services.IssueInput, reporter string) (*domain.Issue, error)
    UpdateIssue(ctx context.Context, id int64, p services.IssuePatch) (*domain.Issue, error)
    GetIssueDetail(ctx context.Context, id int64) (*services.IssueDetail, error)
    ListIssues(ctx context.Context, status domain.Status, projectID int64, limit int) ([]services.IssueView, error)
    ListIssueEvents(ctx context.Context, issueID int64) ([]domain.IssueEvent, error)
    AddComment(ctx context.Context, issueID int64, author, body string) (*domain.Comment, error)
    ListComments(ctx context.Context, issueID int64) ([]domain.Comment, error)
    AddAttachment(ctx context.Context, issueID int64, fileName, uploadedBy string, src io.Reader) (*domain.Attachment, error)
    ListAttachments(ctx context.Context, issueID int64) ([]domain.Attachment, error)
    RunSLAScan(ctx context.Context) (int, error)
    DispatchSnapshot(ctx context.Context) (*repo.DispatchSnapshot, error)
    RetryDeadJob(ctx context.Context, id int64) error
}

type Handlers struct {
    cfg config.Config
    log zerolog.Logger
    svc service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc service) *Handlers {
    return &Handlers{cfg: cfg, log: log, svc: svc}
}

// actor identifies who performed the request. Authentication itself is
// handled upstream; the proxy forwards the identity in X-Actor.
func actor(c *gin.Context) string {
    a := strings.TrimSpace(c.GetHeader("X-Actor"))
    if a == "" { a = "anonymous" }
    return a
}

func (h *Handlers) fail(c *gin.Context, err error) {
    switch {
    case errors.Is(err, services.ErrNotFound):
        c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
    case errors.Is(err, services.ErrValidation):
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
    default:
        h.log.Error().Err(err).Str("p", c.FullPath()).Msg("request failed")
        c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
    }
}

func pathID(c *gin.Context) (int64, bool) {
    id, err := strconv.ParseInt(c.Param("id"), 10, 64)
    if err != nil || id <= 0 {
        c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
        return 0, false
    }
    return id, true
}

func (h *Handlers) Healthz(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ---- Projects / Assets ----

func (h *Handlers) CreateProject(c *gin.Context) {
    var p domain.Project
    if err := c.ShouldBindJSON(&p); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    out, err := h.svc.CreateProject(c.Request.Context(), p)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusCreated, out)
}

func (h *Handlers) ListProjects(c *gin.Context) {
    out, err := h.svc.ListProjects(c.Request.Context())
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetProject(c *gin.Context) {
    id, ok := pathID(c)
    if !ok { return }
    out, err := h.svc.GetProject(c.Request.Context(), id)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) CreateAsset(c *gin.Context) {
    var a domain.Asset
    if err := c.ShouldBindJSON(&a); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    out, err := h.svc.CreateAsset(c.Request.Context(), a)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusCreated, out)
}

func (h *Handlers) ListAssets(c *gin.Context) {
    projectID, _ := strconv.ParseInt(c.Query("project_id"), 10, 64)
    out, err := h.svc.ListAssets(c.Request.Context(), projectID)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

// ---- Issues ----

func (h *Handlers) CreateIssue(c *gin.Context) {
    var in services.IssueInput
    if err := c.ShouldBindJSON(&in); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    out, err := h.svc.CreateIssue(c.Request.Context(), in, actor(c))
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusCreated, out)
}

func (h *Handlers) ListIssues(c *gin.Context) {
    status := domain.Status(c.Query("status"))
    projectID, _ := strconv.ParseInt(c.Query("project_id"), 10, 64)
    limit, _ := strconv.Atoi(c.Query("limit"))
    out, err := h.svc.ListIssues(c.Request.Context(), status, projectID, limit)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetIssue(c *gin.Context) {
    id, ok := pathID(c)
    if !ok { return }
    out, err := h.svc.GetIssueDetail(c.Request.Context(), id)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) UpdateIssue(c *gin.Context) {
    id, ok := pathID(c)
    if !ok { return }
    var p services.IssuePatch
    if err := c.ShouldBindJSON(&p); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    out, err := h.svc.UpdateIssue(c.Request.Context(), id, p)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) ListIssueEvents(c *gin.Context) {
    id, ok := pathID(c)
    if !ok { return }
    out, err := h.svc.ListIssueEvents(c.Request.Context(), id)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

// ---- Comments / Attachments ----

func (h *Handlers) AddComment(c *gin.Context) {
    id, ok := pathID(c)
    if !ok { return }
    var in struct { Body string `json:"body"` }
    if err := c.ShouldBindJSON(&in); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    out, err := h.svc.AddComment(c.Request.Context(), id, actor(c), in.Body)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusCreated, out)
}

func (h *Handlers) ListComments(c *gin.Context) {
    id, ok := pathID(c)
    if !ok { return }
    out, err := h.svc.ListComments(c.Request.Context(), id)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) AddAttachment(c *gin.Context) {
    id, ok := pathID(c)
    if !ok { return }
    fh, err := c.FormFile("file")
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' required"})
        return
    }
    f, err := fh.Open()
    if err != nil { h.fail(c, err); return }
    defer f.Close()
    out, err := h.svc.AddAttachment(c.Request.Context(), id, fh.Filename, actor(c), f)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusCreated, out)
}

func (h *Handlers) ListAttachments(c *gin.Context) {
    id, ok := pathID(c)
    if !ok { return }
    out, err := h.svc.ListAttachments(c.Request.Context(), id)
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

// ---- Admin ----

func (h *Handlers) DispatchSnapshot(c *gin.Context) {
    out, err := h.svc.DispatchSnapshot(c.Request.Context())
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) RetryDeadJob(c *gin.Context) {
    id, ok := pathID(c)
    if !ok { return }
    if err := h.svc.RetryDeadJob(c.Request.Context(), id); err != nil { h.fail(c, err); return }
    c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *Handlers) RunSLAScan(c *gin.Context) {
    fired, err := h.svc.RunSLAScan(c.Request.Context())
    if err != nil { h.fail(c, err); return }
    c.JSON(http.StatusOK, gin.H{"fired": fired})
}
