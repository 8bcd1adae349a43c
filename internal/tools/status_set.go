package tools

import (
	"context"
	"time"

	"github.com/kazz187/taskmux/internal/statusset"
	"github.com/kazz187/taskmux/pkg/cerr"
)

type StatusSetArgs struct {
	Script           string `json:"script"`
	PollIntervalSecs int    `json:"poll_interval_secs,omitempty"`
}

type StatusSetResult struct {
	Success bool              `json:"success"`
	Status  *statusset.Status `json:"status,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func (t *Tools) StatusSet(ctx context.Context, workspaceID string, args StatusSetArgs) *StatusSetResult {
	if t.status == nil {
		return &StatusSetResult{Error: "status updates are not available"}
	}
	status, err := t.status.Set(ctx, workspaceID, args.Script, time.Duration(args.PollIntervalSecs)*time.Second)
	if err != nil {
		return &StatusSetResult{Error: cerr.Message(err)}
	}
	return &StatusSetResult{Success: true, Status: status}
}
