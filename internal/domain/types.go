package domain

import "time"

// Priority is the P0..P3 ladder; lower value means more urgent.
type Priority int

const (
    P0 Priority = iota
    P1
    P2
    P3
)

func (p Priority) String() string {
    switch p {
    case P0: return "P0"
    case P1: return "P1"
    case P2: return "P2"
    case P3: return "P3"
    }
    return "P2"
}

// Label is the display form used in notifications and list views.
func (p Priority) Label() string {
    switch p {
    case P0: return "P0 - Critical"
    case P1: return "P1 - High"
    case P2: return "P2 - Medium"
    case P3: return "P3 - Low"
    }
    return "P2 - Medium"
}

func (p Priority) Valid() bool { return p >= P0 && p <= P3 }

func ParsePriority(s string) (Priority, bool) {
    switch s {
    case "P0": return P0, true
    case "P1": return P1, true
    case "P2": return P2, true
    case "P3": return P3, true
    }
    return P2, false
}

type Status string

const (
    StatusNew        Status = "NEW"
    StatusTriaged    Status = "TRIAGED"
    StatusInProgress Status = "IN_PROGRESS"
    StatusPending    Status = "PENDING"
    StatusOnHold     Status = "ON_HOLD"
    StatusResolved   Status = "RESOLVED"
    StatusClosed     Status = "CLOSED"
    StatusReopened   Status = "REOPENED"
)

func (s Status) Valid() bool {
    switch s {
    case StatusNew, StatusTriaged, StatusInProgress, StatusPending,
        StatusOnHold, StatusResolved, StatusClosed, StatusReopened:
        return true
    }
    return false
}

func (s Status) Label() string {
    switch s {
    case StatusNew: return "New"
    case StatusTriaged: return "Triaged"
    case StatusInProgress: return "In Progress"
    case StatusPending: return "Pending"
    case StatusOnHold: return "On Hold"
    case StatusResolved: return "Resolved"
    case StatusClosed: return "Closed"
    case StatusReopened: return "Reopened"
    }
    return string(s)
}

// Event action kinds. One IssueEvent row per transition; rows are never
// updated or deleted.
const (
    ActionCreated       = "created"
    ActionStatusChanged = "status_changed"
    ActionReassigned    = "reassigned"
    ActionSLAWarn       = "sla_warn"
    ActionSLABreach     = "sla_breach"
    ActionClosed        = "closed"
)

type Project struct {
    ID        int64     `json:"id"`
    Name      string    `json:"name"`
    Customer  string    `json:"customer"`
    UpdatedAt time.Time `json:"updated_at"`
}

type Asset struct {
    ID        int64     `json:"id"`
    ProjectID int64     `json:"project_id"`
    Name      string    `json:"name"`
    SerialNo  string    `json:"serial_no"`
    Location  string    `json:"location"`
    UpdatedAt time.Time `json:"updated_at"`
}

type Issue struct {
    ID          int64      `json:"id"`
    ProjectID   int64      `json:"project_id"`
    AssetID     *int64     `json:"asset_id,omitempty"`
    Title       string     `json:"title"`
    Description string     `json:"description"`
    Priority    Priority   `json:"priority"`
    Status      Status     `json:"status"`
    Reporter    string     `json:"reporter"`
    Assignee    string     `json:"assignee,omitempty"`
    SLADueAt    *time.Time `json:"sla_due_at,omitempty"`
    CreatedAt   time.Time  `json:"created_at"`
    UpdatedAt   time.Time  `json:"updated_at"`
}

// Actor returns who an audit row should be attributed to for updates:
// the assignee when set, otherwise the reporter.
func (i Issue) Actor() string {
    if i.Assignee != "" { return i.Assignee }
    return i.Reporter
}

type Comment struct {
    ID        int64     `json:"id"`
    IssueID   int64     `json:"issue_id"`
    Author    string    `json:"author"`
    Body      string    `json:"body"`
    CreatedAt time.Time `json:"created_at"`
}

type Attachment struct {
    ID         int64     `json:"id"`
    IssueID    int64     `json:"issue_id"`
    FileName   string    `json:"file_name"`
    StorageKey string    `json:"storage_key"`
    UploadedBy string    `json:"uploaded_by"`
    UploadedAt time.Time `json:"uploaded_at"`
}

type IssueEvent struct {
    ID        int64     `json:"id"`
    IssueID   int64     `json:"issue_id"`
    Actor     string    `json:"actor"`
    Action    string    `json:"action"`
    FromValue string    `json:"from_value,omitempty"`
    ToValue   string    `json:"to_value,omitempty"`
    Note      string    `json:"note,omitempty"`
    CreatedAt time.Time `json:"created_at"`
}
