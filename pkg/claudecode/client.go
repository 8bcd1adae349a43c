// Package claudecode runs the claude CLI in stream-json mode.
package claudecode

import (
	"context"
)

// Query streams every message of one run. The channel is closed when the run
// ends; the returned func reports how it ended and must be called after the
// channel is drained.
func Query(ctx context.Context, prompt string, opts *Options) (<-chan Message, func() error) {
	if opts == nil {
		opts = &Options{}
	}
	messages := make(chan Message, 16)
	errc := make(chan error, 1)
	go func() {
		defer close(messages)
		errc <- stream(ctx, prompt, opts, func(m Message) {
			select {
			case messages <- m:
			case <-ctx.Done():
			}
		})
	}()
	return messages, func() error { return <-errc }
}

// RunResult is the outcome of RunSync.
type RunResult struct {
	SessionID string
	// Result is the final text of the run.
	Result   string
	Messages []Message
	Final    *ResultMessage
}

// RunSync runs prompt to completion and collects its messages.
func RunSync(ctx context.Context, prompt string, opts *Options) (*RunResult, error) {
	if opts == nil {
		opts = &Options{}
	}
	res := &RunResult{}
	var lastText string
	err := stream(ctx, prompt, opts, func(m Message) {
		res.Messages = append(res.Messages, m)
		switch msg := m.(type) {
		case SystemMessage:
			if msg.SessionID != "" {
				res.SessionID = msg.SessionID
			}
		case AssistantMessage:
			if t := msg.Text(); t != "" {
				lastText = t
			}
		case ResultMessage:
			final := msg
			res.Final = &final
			if msg.SessionID != "" {
				res.SessionID = msg.SessionID
			}
		}
	})
	if err != nil {
		return res, err
	}

	res.Result = lastText
	if res.Final != nil {
		if res.Final.Result != nil {
			res.Result = *res.Final.Result
		}
		if res.Final.IsError {
			return res, &ResultError{Subtype: res.Final.Subtype, Result: res.Result}
		}
	}
	return res, nil
}
