package repo

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/Hauer92/fae-issue-report/internal/config"
    "github.com/Hauer92/fae-issue-report/internal/dispatch"
    "github.com/Hauer92/fae-issue-report/internal/domain"
    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/rs/zerolog"
)

var ErrNotFound = errors.New("repo: not found")

type DB struct {
    Pool *pgxpool.Pool
    log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
    pool, err := pgxpool.New(ctx, cfg.DBDSN)
    if err != nil { log.Fatal().Err(err).Msg("db connect failed") }
    ctx2, cancel := context.WithTimeout(ctx, 10*time.Second); defer cancel()
    if err := pool.Ping(ctx2); err != nil { log.Fatal().Err(err).Msg("db ping failed") }
    return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
    db  *DB
    log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d, log: log} }

// EnsureSchema creates missing tables and indexes. Idempotent; runs at startup.
func (r *Repository) EnsureSchema(ctx context.Context) error {
    stmts := []string{
        `CREATE TABLE IF NOT EXISTS projects(
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            customer TEXT NOT NULL DEFAULT '',
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
        `CREATE INDEX IF NOT EXISTS idx_projects_name ON projects(name)`,
        `CREATE TABLE IF NOT EXISTS assets(
            id BIGSERIAL PRIMARY KEY,
            project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
            name TEXT NOT NULL DEFAULT '',
            serial_no TEXT NOT NULL,
            location TEXT NOT NULL DEFAULT '',
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
        `CREATE INDEX IF NOT EXISTS idx_assets_project ON assets(project_id)`,
        `CREATE TABLE IF NOT EXISTS issues(
            id BIGSERIAL PRIMARY KEY,
            project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
            asset_id BIGINT REFERENCES assets(id) ON DELETE SET NULL,
            title TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            priority INT NOT NULL DEFAULT 2,
            status TEXT NOT NULL DEFAULT 'NEW',
            reporter TEXT NOT NULL,
            assignee TEXT NOT NULL DEFAULT '',
            sla_due_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
        `CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status)`,
        `CREATE INDEX IF NOT EXISTS idx_issues_project_status ON issues(project_id, status)`,
        `CREATE INDEX IF NOT EXISTS idx_issues_updated ON issues(updated_at)`,
        `CREATE TABLE IF NOT EXISTS comments(
            id BIGSERIAL PRIMARY KEY,
            issue_id BIGINT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
            author TEXT NOT NULL,
            body TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
        `CREATE INDEX IF NOT EXISTS idx_comments_issue ON comments(issue_id)`,
        `CREATE TABLE IF NOT EXISTS attachments(
            id BIGSERIAL PRIMARY KEY,
            issue_id BIGINT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
            file_name TEXT NOT NULL,
            storage_key TEXT NOT NULL,
            uploaded_by TEXT NOT NULL,
            uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
        `CREATE INDEX IF NOT EXISTS idx_attachments_issue ON attachments(issue_id)`,
        `CREATE TABLE IF NOT EXISTS issue_events(
            id BIGSERIAL PRIMARY KEY,
            issue_id BIGINT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
            actor TEXT NOT NULL DEFAULT '',
            action TEXT NOT NULL,
            from_value TEXT NOT NULL DEFAULT '',
            to_value TEXT NOT NULL DEFAULT '',
            note TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
        `CREATE INDEX IF NOT EXISTS idx_issue_events_issue ON issue_events(issue_id)`,
        `CREATE INDEX IF NOT EXISTS idx_issue_events_action ON issue_events(action)`,
        `CREATE TABLE IF NOT EXISTS dispatch_jobs(
            id BIGSERIAL PRIMARY KEY,
            issue_id BIGINT NOT NULL,
            event TEXT NOT NULL,
            state TEXT NOT NULL DEFAULT 'queued',
            attempts INT NOT NULL DEFAULT 0,
            run_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            last_error TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`,
        `CREATE INDEX IF NOT EXISTS idx_dispatch_jobs_due ON dispatch_jobs(state, run_at)`,
    }
    for _, q := range stmts {
        if _, err := r.db.Pool.Exec(ctx, q); err != nil { return fmt.Errorf("ensure schema: %w", err) }
    }
    return nil
}

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
    var ok bool
    err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
    return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
    var ok bool
    err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
    if !ok && err == nil { return errors.New("advisory unlock returned false") }
    return err
}

// ---- Projects / Assets ----

func (r *Repository) CreateProject(ctx context.Context, p domain.Project) (int64, error) {
    const q = `INSERT INTO projects(name, customer) VALUES($1,$2) RETURNING id`
    var id int64
    if err := r.db.Pool.QueryRow(ctx, q, p.Name, p.Customer).Scan(&id); err != nil { return 0, err }
    return id, nil
}

func (r *Repository) ListProjects(ctx context.Context) ([]domain.Project, error) {
    rows, err := r.db.Pool.Query(ctx, `SELECT id, name, customer, updated_at FROM projects ORDER BY name`)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.Project
    for rows.Next() {
        var p domain.Project
        if err := rows.Scan(&p.ID, &p.Name, &p.Customer, &p.UpdatedAt); err != nil { return nil, err }
        out = append(out, p)
    }
    return out, rows.Err()
}

func (r *Repository) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
    var p domain.Project
    err := r.db.Pool.QueryRow(ctx, `SELECT id, name, customer, updated_at FROM projects WHERE id=$1`, id).
        Scan(&p.ID, &p.Name, &p.Customer, &p.UpdatedAt)
    if errors.Is(err, pgx.ErrNoRows) { return nil, ErrNotFound }
    if err != nil { return nil, err }
    return &p, nil
}

func (r *Repository) CreateAsset(ctx context.Context, a domain.Asset) (int64, error) {
    const q = `INSERT INTO assets(project_id, name, serial_no, location) VALUES($1,$2,$3,$4) RETURNING id`
    var id int64
    if err := r.db.Pool.QueryRow(ctx, q, a.ProjectID, a.Name, a.SerialNo, a.Location).Scan(&id); err != nil { return 0, err }
    return id, nil
}

func (r *Repository) ListAssets(ctx context.Context, projectID int64) ([]domain.Asset, error) {
    q := `SELECT id, project_id, name, serial_no, location, updated_at FROM assets`
    args := []any{}
    if projectID > 0 { q += ` WHERE project_id=$1`; args = append(args, projectID) }
    q += ` ORDER BY name`
    rows, err := r.db.Pool.Query(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.Asset
    for rows.Next() {
        var a domain.Asset
        if err := rows.Scan(&a.ID, &a.ProjectID, &a.Name, &a.SerialNo, &a.Location, &a.UpdatedAt); err != nil { return nil, err }
        out = append(out, a)
    }
    return out, rows.Err()
}

// ---- Issues ----

const issueCols = `id, project_id, asset_id, title, description, priority, status,
    reporter, assignee, sla_due_at, created_at, updated_at`

func scanIssue(row pgx.Row) (*domain.Issue, error) {
    var i domain.Issue
    err := row.Scan(&i.ID, &i.ProjectID, &i.AssetID, &i.Title, &i.Description, &i.Priority, &i.Status,
        &i.Reporter, &i.Assignee, &i.SLADueAt, &i.CreatedAt, &i.UpdatedAt)
    if errors.Is(err, pgx.ErrNoRows) { return nil, ErrNotFound }
    if err != nil { return nil, err }
    return &i, nil
}

func (r *Repository) CreateIssue(ctx context.Context, i domain.Issue) (*domain.Issue, error) {
    const q = `INSERT INTO issues(project_id, asset_id, title, description, priority, status, reporter, assignee, sla_due_at)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING ` + issueCols
    row := r.db.Pool.QueryRow(ctx, q, i.ProjectID, i.AssetID, i.Title, i.Description, int(i.Priority), string(i.Status), i.Reporter, i.Assignee, i.SLADueAt)
    return scanIssue(row)
}

func (r *Repository) GetIssue(ctx context.Context, id int64) (*domain.Issue, error) {
    row := r.db.Pool.QueryRow(ctx, `SELECT `+issueCols+` FROM issues WHERE id=$1`, id)
    return scanIssue(row)
}

// UpdateIssue persists mutable fields and refreshes updated_at.
// Reporter and created_at are immutable.
func (r *Repository) UpdateIssue(ctx context.Context, i domain.Issue) (*domain.Issue, error) {
    const q = `UPDATE issues SET asset_id=$2, title=$3, description=$4, priority=$5, status=$6,
        assignee=$7, sla_due_at=$8, updated_at=now()
        WHERE id=$1
        RETURNING ` + issueCols
    row := r.db.Pool.QueryRow(ctx, q, i.ID, i.AssetID, i.Title, i.Description, int(i.Priority), string(i.Status), i.Assignee, i.SLADueAt)
    return scanIssue(row)
}

func (r *Repository) ListIssues(ctx context.Context, status domain.Status, projectID int64, limit int) ([]domain.Issue, error) {
    if limit <= 0 || limit > 200 { limit = 50 }
    var sb strings.Builder
    sb.WriteString(`SELECT ` + issueCols + ` FROM issues`)
    args := []any{}
    var conds []string
    if status != "" {
        args = append(args, string(status))
        conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
    }
    if projectID > 0 {
        args = append(args, projectID)
        conds = append(conds, fmt.Sprintf("project_id=$%d", len(args)))
    }
    if len(conds) > 0 { sb.WriteString(" WHERE " + strings.Join(conds, " AND ")) }
    args = append(args, limit)
    sb.WriteString(fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d", len(args)))
    rows, err := r.db.Pool.Query(ctx, sb.String(), args...)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.Issue
    for rows.Next() {
        var i domain.Issue
        if err := rows.Scan(&i.ID, &i.ProjectID, &i.AssetID, &i.Title, &i.Description, &i.Priority, &i.Status,
            &i.Reporter, &i.Assignee, &i.SLADueAt, &i.CreatedAt, &i.UpdatedAt); err != nil { return nil, err }
        out = append(out, i)
    }
    return out, rows.Err()
}

// ---- Comments / Attachments ----

func (r *Repository) InsertComment(ctx context.Context, c domain.Comment) (*domain.Comment, error) {
    const q = `INSERT INTO comments(issue_id, author, body) VALUES($1,$2,$3)
        RETURNING id, issue_id, author, body, created_at`
    var out domain.Comment
    err := r.db.Pool.QueryRow(ctx, q, c.IssueID, c.Author, c.Body).
        Scan(&out.ID, &out.IssueID, &out.Author, &out.Body, &out.CreatedAt)
    if err != nil { return nil, err }
    return &out, nil
}

func (r *Repository) ListComments(ctx context.Context, issueID int64) ([]domain.Comment, error) {
    rows, err := r.db.Pool.Query(ctx, `SELECT id, issue_id, author, body, created_at
        FROM comments WHERE issue_id=$1 ORDER BY created_at`, issueID)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.Comment
    for rows.Next() {
        var c domain.Comment
        if err := rows.Scan(&c.ID, &c.IssueID, &c.Author, &c.Body, &c.CreatedAt); err != nil { return nil, err }
        out = append(out, c)
    }
    return out, rows.Err()
}

func (r *Repository) InsertAttachment(ctx context.Context, a domain.Attachment) (*domain.Attachment, error) {
    const q = `INSERT INTO attachments(issue_id, file_name, storage_key, uploaded_by) VALUES($1,$2,$3,$4)
        RETURNING id, issue_id, file_name, storage_key, uploaded_by, uploaded_at`
    var out domain.Attachment
    err := r.db.Pool.QueryRow(ctx, q, a.IssueID, a.FileName, a.StorageKey, a.UploadedBy).
        Scan(&out.ID, &out.IssueID, &out.FileName, &out.StorageKey, &out.UploadedBy, &out.UploadedAt)
    if err != nil { return nil, err }
    return &out, nil
}

func (r *Repository) ListAttachments(ctx context.Context, issueID int64) ([]domain.Attachment, error) {
    rows, err := r.db.Pool.Query(ctx, `SELECT id, issue_id, file_name, storage_key, uploaded_by, uploaded_at
        FROM attachments WHERE issue_id=$1 ORDER BY uploaded_at DESC`, issueID)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.Attachment
    for rows.Next() {
        var a domain.Attachment
        if err := rows.Scan(&a.ID, &a.IssueID, &a.FileName, &a.StorageKey, &a.UploadedBy, &a.UploadedAt); err != nil { return nil, err }
        out = append(out, a)
    }
    return out, rows.Err()
}

// ---- Issue events (append-only) ----

func (r *Repository) InsertIssueEvent(ctx context.Context, ev domain.IssueEvent) error {
    const q = `INSERT INTO issue_events(issue_id, actor, action, from_value, to_value, note)
        VALUES($1,$2,$3,$4,$5,$6)`
    _, err := r.db.Pool.Exec(ctx, q, ev.IssueID, ev.Actor, ev.Action, ev.FromValue, ev.ToValue, ev.Note)
    return err
}

// ListIssueEvents returns the audit trail in append order.
func (r *Repository) ListIssueEvents(ctx context.Context, issueID int64) ([]domain.IssueEvent, error) {
    rows, err := r.db.Pool.Query(ctx, `SELECT id, issue_id, actor, action, from_value, to_value, note, created_at
        FROM issue_events WHERE issue_id=$1 ORDER BY id`, issueID)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.IssueEvent
    for rows.Next() {
        var e domain.IssueEvent
        if err := rows.Scan(&e.ID, &e.IssueID, &e.Actor, &e.Action, &e.FromValue, &e.ToValue, &e.Note, &e.CreatedAt); err != nil { return nil, err }
        out = append(out, e)
    }
    return out, rows.Err()
}

func (r *Repository) HasIssueEvent(ctx context.Context, issueID int64, action string) (bool, error) {
    var exists bool
    err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM issue_events WHERE issue_id=$1 AND action=$2)`, issueID, action).Scan(&exists)
    return exists, err
}

// ---- Dispatch queue (implements dispatch.Store) ----

func (r *Repository) EnqueueDispatchJob(ctx context.Context, issueID int64, event string) (int64, error) {
    const q = `INSERT INTO dispatch_jobs(issue_id, event) VALUES($1,$2) RETURNING id`
    var id int64
    if err := r.db.Pool.QueryRow(ctx, q, issueID, event).Scan(&id); err != nil { return 0, err }
    return id, nil
}

// ClaimDue atomically moves due queued jobs to running. SKIP LOCKED keeps
// concurrent runners from claiming the same row.
func (r *Repository) ClaimDue(ctx context.Context, limit int) ([]dispatch.Job, error) {
    if limit <= 0 { limit = 16 }
    const q = `UPDATE dispatch_jobs SET state='running', updated_at=now()
        WHERE id IN (
            SELECT id FROM dispatch_jobs
            WHERE state='queued' AND run_at <= now()
            ORDER BY id
            LIMIT $1
            FOR UPDATE SKIP LOCKED)
        RETURNING id, issue_id, event, attempts, run_at`
    rows, err := r.db.Pool.Query(ctx, q, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []dispatch.Job
    for rows.Next() {
        var j dispatch.Job
        if err := rows.Scan(&j.ID, &j.IssueID, &j.Event, &j.Attempts, &j.RunAt); err != nil { return nil, err }
        out = append(out, j)
    }
    return out, rows.Err()
}

func (r *Repository) setJobState(ctx context.Context, id int64, state string) error {
    _, err := r.db.Pool.Exec(ctx, `UPDATE dispatch_jobs SET state=$2, updated_at=now() WHERE id=$1`, id, state)
    return err
}

func (r *Repository) MarkDelivered(ctx context.Context, id int64) error {
    return r.setJobState(ctx, id, dispatch.JobDelivered)
}

func (r *Repository) MarkSkipped(ctx context.Context, id int64) error {
    return r.setJobState(ctx, id, dispatch.JobSkipped)
}

func (r *Repository) Reschedule(ctx context.Context, id int64, attempts int, runAt time.Time, lastErr string) error {
    _, err := r.db.Pool.Exec(ctx, `UPDATE dispatch_jobs SET state='queued', attempts=$2, run_at=$3, last_error=$4, updated_at=now() WHERE id=$1`,
        id, attempts, runAt, lastErr)
    return err
}

func (r *Repository) MarkDead(ctx context.Context, id int64, attempts int, lastErr string) error {
    _, err := r.db.Pool.Exec(ctx, `UPDATE dispatch_jobs SET state='dead', attempts=$2, last_error=$3, updated_at=now() WHERE id=$1`,
        id, attempts, lastErr)
    return err
}

// RequeueStale returns jobs stuck in running (crashed worker) to the queue.
// Run at startup, before the runner begins polling.
func (r *Repository) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
    tag, err := r.db.Pool.Exec(ctx, `UPDATE dispatch_jobs SET state='queued', updated_at=now()
        WHERE state='running' AND updated_at < now() - $1::interval`,
        fmt.Sprintf("%f seconds", olderThan.Seconds()))
    if err != nil { return 0, err }
    return tag.RowsAffected(), nil
}

// RetryDead re-queues a dead-lettered job with a fresh attempt budget.
func (r *Repository) RetryDead(ctx context.Context, id int64) error {
    tag, err := r.db.Pool.Exec(ctx, `UPDATE dispatch_jobs SET state='queued', attempts=0, run_at=now(), updated_at=now()
        WHERE id=$1 AND state='dead'`, id)
    if err != nil { return err }
    if tag.RowsAffected() == 0 { return ErrNotFound }
    return nil
}

type DeadJob struct {
    ID        int64     `json:"id"`
    IssueID   int64     `json:"issue_id"`
    Event     string    `json:"event"`
    Attempts  int       `json:"attempts"`
    LastError string    `json:"last_error"`
    UpdatedAt time.Time `json:"updated_at"`
}

type DispatchSnapshot struct {
    ByState map[string]int64 `json:"by_state"`
    Dead    []DeadJob        `json:"dead"`
}

func (r *Repository) GetDispatchSnapshot(ctx context.Context, deadLimit int) (*DispatchSnapshot, error) {
    if deadLimit <= 0 { deadLimit = 50 }
    snap := &DispatchSnapshot{ByState: map[string]int64{}}
    rows, err := r.db.Pool.Query(ctx, `SELECT state, COUNT(*) FROM dispatch_jobs GROUP BY state`)
    if err != nil { return nil, err }
    defer rows.Close()
    for rows.Next() {
        var state string; var c int64
        if err := rows.Scan(&state, &c); err != nil { return nil, err }
        snap.ByState[state] = c
    }
    if err := rows.Err(); err != nil { return nil, err }
    dr, err := r.db.Pool.Query(ctx, `SELECT id, issue_id, event, attempts, last_error, updated_at
        FROM dispatch_jobs WHERE state='dead' ORDER BY updated_at DESC LIMIT $1`, deadLimit)
    if err != nil { return nil, err }
    defer dr.Close()
    for dr.Next() {
        var d DeadJob
        if err := dr.Scan(&d.ID, &d.IssueID, &d.Event, &d.Attempts, &d.LastError, &d.UpdatedAt); err != nil { return nil, err }
        snap.Dead = append(snap.Dead, d)
    }
    return snap, dr.Err()
}

// ---- SLA scan candidates ----

// openStates excludes terminal statuses from SLA monitoring.
const openStatesCond = `status NOT IN ('RESOLVED','CLOSED')`

// ListSLABreached returns open overdue issues with no sla_breach event yet.
func (r *Repository) ListSLABreached(ctx context.Context) ([]domain.Issue, error) {
    q := `SELECT ` + issueCols + ` FROM issues i
        WHERE ` + openStatesCond + ` AND sla_due_at IS NOT NULL AND sla_due_at < now()
        AND NOT EXISTS (SELECT 1 FROM issue_events e WHERE e.issue_id=i.id AND e.action='sla_breach')
        ORDER BY sla_due_at`
    return r.queryIssues(ctx, q)
}

// ListSLAWarn returns open issues due within the window with no sla_warn event yet.
func (r *Repository) ListSLAWarn(ctx context.Context, window time.Duration) ([]domain.Issue, error) {
    q := `SELECT ` + issueCols + ` FROM issues i
        WHERE ` + openStatesCond + ` AND sla_due_at IS NOT NULL
        AND sla_due_at >= now() AND sla_due_at < now() + $1::interval
        AND NOT EXISTS (SELECT 1 FROM issue_events e WHERE e.issue_id=i.id AND e.action='sla_warn')
        ORDER BY sla_due_at`
    return r.queryIssues(ctx, q, fmt.Sprintf("%f seconds", window.Seconds()))
}

func (r *Repository) queryIssues(ctx context.Context, q string, args ...any) ([]domain.Issue, error) {
    rows, err := r.db.Pool.Query(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.Issue
    for rows.Next() {
        var i domain.Issue
        if err := rows.Scan(&i.ID, &i.ProjectID, &i.AssetID, &i.Title, &i.Description, &i.Priority, &i.Status,
            &i.Reporter, &i.Assignee, &i.SLADueAt, &i.CreatedAt, &i.UpdatedAt); err != nil { return nil, err }
        out = append(out, i)
    }
    return out, rows.Err()
}
