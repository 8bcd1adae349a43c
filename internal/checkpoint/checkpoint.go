// Package checkpoint commits a workspace's working tree and records the
// outcome as the workspace's last checkpoint.
package checkpoint

import (
	"strconv"
	"strings"
	"time"
)

const DefaultMessageTemplate = "checkpoint: {{workspaceId}}"

// Result is the outcome of one checkpoint attempt. A clean tree yields
// Committed == false and a nil CommitSHA.
type Result struct {
	Committed      bool      `json:"committed"`
	DirtyBefore    bool      `json:"dirtyBefore"`
	DirtyAfter     bool      `json:"dirtyAfter"`
	CommitSHA      *string   `json:"commitSha"`
	CommitMessage  *string   `json:"commitMessage"`
	Stdout         string    `json:"stdout,omitempty"`
	Stderr         string    `json:"stderr,omitempty"`
	CheckpointedAt time.Time `json:"checkpointedAt"`
}

type Options struct {
	MessageTemplate string
	ItemTitle       string
	Iteration       int
}

type MessageVars struct {
	Item        string
	Iteration   int
	WorkspaceID string
}

// RenderMessage substitutes {{item}}, {{iteration}} and {{workspaceId}}.
// An empty rendering falls back to DefaultMessageTemplate.
func RenderMessage(template string, vars MessageVars) string {
	r := strings.NewReplacer(
		"{{item}}", vars.Item,
		"{{iteration}}", strconv.Itoa(vars.Iteration),
		"{{workspaceId}}", vars.WorkspaceID,
	)
	msg := strings.TrimSpace(r.Replace(template))
	if msg == "" {
		msg = strings.TrimSpace(r.Replace(DefaultMessageTemplate))
	}
	return msg
}
