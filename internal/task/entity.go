package task

import "time"

type Status string

const (
	StatusQueued         Status = "queued"
	StatusRunning        Status = "running"
	StatusAwaitingReport Status = "awaiting_report"
	StatusCompleted      Status = "completed"
	StatusTerminated     Status = "terminated"
	// StatusNotFound is only ever a query answer; no task is stored with it.
	StatusNotFound Status = "not_found"
)

func (s Status) IsActive() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusAwaitingReport:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusTerminated
}

func (s Status) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}

// ActiveStatuses are the statuses listed when the caller names none.
var ActiveStatuses = []Status{StatusQueued, StatusRunning, StatusAwaitingReport}

type Task struct {
	ID                string    `yaml:"id"`
	ParentWorkspaceID string    `yaml:"parent_workspace_id"`
	Status            Status    `yaml:"status"`
	Title             string    `yaml:"title"`
	Prompt            string    `yaml:"prompt"`
	AgentType         string    `yaml:"agent_type,omitempty"`
	SessionID         string    `yaml:"session_id,omitempty"`
	ReportMarkdown    string    `yaml:"report_markdown,omitempty"`
	ReportTitle       string    `yaml:"report_title,omitempty"`
	ReportAttempts    int       `yaml:"report_attempts,omitempty"`
	Error             string    `yaml:"error,omitempty"`
	CreatedAt         time.Time `yaml:"created_at"`
	UpdatedAt         time.Time `yaml:"updated_at"`
}

// WorkspaceID is the id of the child workspace the task runs in.
func (t *Task) WorkspaceID() string {
	return t.ID
}

type SpawnSpec struct {
	Title     string
	Prompt    string
	AgentType string
}

type Report struct {
	TaskID         string `json:"taskId"`
	ReportMarkdown string `json:"reportMarkdown"`
	Title          string `json:"title"`
}

type WaitOptions struct {
	// Timeout <= 0 waits until the task settles or ctx ends.
	Timeout time.Duration
	// RequestingWorkspaceID, when set, must be an ancestor of the task.
	RequestingWorkspaceID string
}

type TaskView struct {
	ID                string    `json:"taskId"`
	ParentWorkspaceID string    `json:"parentWorkspaceId"`
	Status            Status    `json:"status"`
	Title             string    `json:"title"`
	AgentType         string    `json:"agentType,omitempty"`
	ReportTitle       string    `json:"reportTitle,omitempty"`
	Error             string    `json:"error,omitempty"`
	Depth             int       `json:"depth"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type EventType string

const (
	EventCreated       EventType = "created"
	EventStatusChanged EventType = "status_changed"
	EventCompleted     EventType = "completed"
	EventTerminated    EventType = "terminated"
	EventRemoved       EventType = "removed"
)

type Event struct {
	Type   EventType `json:"type"`
	TaskID string    `json:"taskId"`
	// WorkspaceID is the task's parent workspace; events are keyed by it.
	WorkspaceID string    `json:"workspaceId"`
	Status      Status    `json:"status"`
	Title       string    `json:"title"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}
