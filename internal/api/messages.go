package api

import (
	"encoding/json"
	"time"

	"github.com/kazz187/taskmux/internal/bgprocess"
	"github.com/kazz187/taskmux/internal/harness"
	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/internal/tools"
	"github.com/kazz187/taskmux/internal/workspace"
)

type Empty struct{}

// ToolRequest invokes a tool on behalf of a workspace.
type ToolRequest[A any] struct {
	WorkspaceID string `json:"workspaceId"`
	Args        A      `json:"args"`
}

type DecodeResultRequest struct {
	// Kind is "bash" or "task".
	Kind string          `json:"kind"`
	Raw  json.RawMessage `json:"raw"`
}

type DecodeResultResponse struct {
	Shape string            `json:"shape"`
	Bash  *tools.BashResult `json:"bash,omitempty"`
	Task  *tools.TaskResult `json:"task,omitempty"`
}

type WorkspaceRequest struct {
	WorkspaceID string `json:"workspaceId"`
}

type Workspace struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parentId,omitempty"`
	Name      string    `json:"name"`
	Dir       string    `json:"dir"`
	Worktree  bool      `json:"worktree"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewWorkspace(w *workspace.Workspace) *Workspace {
	return &Workspace{
		ID:        w.ID,
		ParentID:  w.ParentID,
		Name:      w.Name,
		Dir:       w.Dir,
		Worktree:  w.Worktree,
		CreatedAt: w.CreatedAt,
	}
}

type OpenWorkspaceRequest struct {
	Name string `json:"name"`
	Dir  string `json:"dir"`
}

type ListWorkspacesResponse struct {
	Workspaces []*Workspace `json:"workspaces"`
}

type RemoveWorkspaceResponse struct {
	RemovedTaskIDs []string `json:"removedTaskIds"`
}

type GetTaskRequest struct {
	TaskID string `json:"taskId"`
}

type Task struct {
	ID                string      `json:"taskId"`
	ParentWorkspaceID string      `json:"parentWorkspaceId"`
	Status            task.Status `json:"status"`
	Title             string      `json:"title"`
	Prompt            string      `json:"prompt"`
	AgentType         string      `json:"agentType,omitempty"`
	ReportMarkdown    string      `json:"reportMarkdown,omitempty"`
	ReportTitle       string      `json:"reportTitle,omitempty"`
	Error             string      `json:"error,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

func NewTask(t *task.Task) *Task {
	return &Task{
		ID:                t.ID,
		ParentWorkspaceID: t.ParentWorkspaceID,
		Status:            t.Status,
		Title:             t.Title,
		Prompt:            t.Prompt,
		AgentType:         t.AgentType,
		ReportMarkdown:    t.ReportMarkdown,
		ReportTitle:       t.ReportTitle,
		Error:             t.Error,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

type SubmitReportRequest struct {
	TaskID         string `json:"taskId"`
	ReportMarkdown string `json:"reportMarkdown"`
	Title          string `json:"title,omitempty"`
}

// WatchRequest subscribes to one workspace. An empty WorkspaceID watches
// every workspace where the stream allows it.
type WatchRequest struct {
	WorkspaceID string `json:"workspaceId"`
}

type ListProcessesRequest struct {
	WorkspaceID string `json:"workspaceId"`
	RunningOnly bool   `json:"runningOnly,omitempty"`
}

type ListProcessesResponse struct {
	Processes []*bgprocess.Process `json:"processes"`
}

type ProcessRequest struct {
	WorkspaceID string `json:"workspaceId"`
	ProcessID   string `json:"processId"`
}

type ProcessOutputResponse struct {
	Output string `json:"output"`
}

type SendToBackgroundRequest struct {
	WorkspaceID string `json:"workspaceId"`
	ToolCallID  string `json:"toolCallId"`
}

type AcceptDraftRequest struct {
	WorkspaceID string `json:"workspaceId"`
	// Draft is the planner's proposal as JSON or JSONC text.
	Draft string `json:"draft"`
}

type AcceptDraftResponse struct {
	Config     *harness.Config       `json:"config"`
	Dropped    []harness.DroppedGate `json:"dropped,omitempty"`
	FellBack   bool                  `json:"fellBack,omitempty"`
	ParseError string                `json:"parseError,omitempty"`
	Warning    string                `json:"warning,omitempty"`
}

type ValidateWritesRequest struct {
	WorkspaceID string   `json:"workspaceId"`
	Paths       []string `json:"paths"`
}

type RunHarnessRequest struct {
	WorkspaceID string `json:"workspaceId"`
	AgentType   string `json:"agentType,omitempty"`
}

type StopHarnessResponse struct {
	Stopped bool `json:"stopped"`
}

type CheckpointRequest struct {
	WorkspaceID     string `json:"workspaceId"`
	MessageTemplate string `json:"messageTemplate,omitempty"`
	ItemTitle       string `json:"itemTitle,omitempty"`
	Iteration       int    `json:"iteration,omitempty"`
}

type VapidPublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

type RegisterPushRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dhKey"`
	AuthKey   string `json:"authKey"`
}

type RegisterPushResponse struct {
	ID string `json:"id"`
}

type UnregisterPushRequest struct {
	Endpoint string `json:"endpoint"`
}
