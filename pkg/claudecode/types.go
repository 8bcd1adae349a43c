package claudecode

type PermissionMode string

const (
	PermissionModeDefault           PermissionMode = "default"
	PermissionModeAcceptEdits       PermissionMode = "acceptEdits"
	PermissionModePlan              PermissionMode = "plan"
	PermissionModeBypassPermissions PermissionMode = "bypassPermissions"
)

type ContentBlock interface {
	isContentBlock()
}

type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) isContentBlock() {}

type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func (ToolUseBlock) isContentBlock() {}

type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content,omitempty"` // string, []any or nil
	IsError   bool   `json:"is_error,omitempty"`
}

func (ToolResultBlock) isContentBlock() {}

type Message interface {
	isMessage()
}

type UserMessage struct {
	Content []ContentBlock `json:"content"`
}

func (UserMessage) isMessage() {}

type AssistantMessage struct {
	Content []ContentBlock `json:"content"`
}

func (AssistantMessage) isMessage() {}

// Text joins the message's text blocks.
func (m AssistantMessage) Text() string {
	var out string
	for _, b := range m.Content {
		if t, ok := b.(TextBlock); ok {
			if out != "" {
				out += "\n"
			}
			out += t.Text
		}
	}
	return out
}

type SystemMessage struct {
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id,omitempty"`
}

func (SystemMessage) isMessage() {}

type ResultMessage struct {
	Subtype      string   `json:"subtype"`
	DurationMs   int      `json:"duration_ms"`
	IsError      bool     `json:"is_error"`
	NumTurns     int      `json:"num_turns"`
	SessionID    string   `json:"session_id"`
	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"`
	Result       *string  `json:"result,omitempty"`
}

func (ResultMessage) isMessage() {}

type Options struct {
	// CLIPath overrides the lookup of the `claude` binary.
	CLIPath            string
	Cwd                string
	Model              string
	SystemPrompt       string
	AppendSystemPrompt string
	PermissionMode     PermissionMode
	MaxTurns           int
	// Resume continues the session with this id.
	Resume          string
	AllowedTools    []string
	DisallowedTools []string
	Env             []string
}
