package bgprocess

type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
)

type Process struct {
	ID          string `json:"id"`
	PID         int    `json:"pid"`
	Script      string `json:"script"`
	DisplayName string `json:"displayName,omitempty"`
	// StartTime is epoch milliseconds.
	StartTime  int64  `json:"startTime"`
	Status     Status `json:"status"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	ToolCallID string `json:"toolCallId"`
	Foreground bool   `json:"foreground"`
}

type Snapshot struct {
	WorkspaceID string     `json:"workspaceId"`
	Seq         uint64     `json:"seq"`
	Processes   []*Process `json:"processes"`
}

type SpawnRequest struct {
	Script      string
	DisplayName string
	ToolCallID  string
	// Foreground attaches the process to the in-flight turn.
	Foreground bool
	Env        []string
}
