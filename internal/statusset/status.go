// Package statusset runs a workspace's status script and keeps the last
// status it reported.
package statusset

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	MinPollInterval = 5 * time.Second
	maxMessageLen   = 200
)

type Status struct {
	Emoji   string `json:"emoji,omitempty"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// Record is what gets persisted per workspace.
type Record struct {
	Script         string    `json:"script"`
	PollIntervalMs int64     `json:"pollIntervalMs,omitempty"`
	Status         *Status   `json:"status,omitempty"`
	Error          string    `json:"error,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (r *Record) pollInterval() time.Duration {
	return time.Duration(r.PollIntervalMs) * time.Millisecond
}

type Update struct {
	WorkspaceID string    `json:"workspaceId"`
	Status      *Status   `json:"status,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// ParseOutput reads a status from script stdout. A JSON object with a
// "message" field is taken as is; otherwise the first non-empty line is the
// message.
func ParseOutput(stdout string) (*Status, error) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil, fmt.Errorf("status script printed nothing")
	}

	if strings.HasPrefix(trimmed, "{") && gjson.Valid(trimmed) {
		obj := gjson.Parse(trimmed)
		msg := strings.TrimSpace(obj.Get("message").String())
		if msg == "" {
			return nil, fmt.Errorf("status JSON has no message")
		}
		return &Status{
			Emoji:   strings.TrimSpace(obj.Get("emoji").String()),
			Message: clip(msg),
			URL:     strings.TrimSpace(obj.Get("url").String()),
		}, nil
	}

	for _, line := range strings.Split(trimmed, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return &Status{Message: clip(line)}, nil
		}
	}
	return nil, fmt.Errorf("status script printed nothing")
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxMessageLen {
		return s
	}
	return string(r[:maxMessageLen-1]) + "…"
}
