package claudecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, m Message)
	}{
		{
			name: "system init",
			line: `{"type":"system","subtype":"init","session_id":"s-1"}`,
			check: func(t *testing.T, m Message) {
				assert.Equal(t, SystemMessage{Subtype: "init", SessionID: "s-1"}, m)
			},
		},
		{
			name: "assistant nested message",
			line: `{"type":"assistant","message":{"content":[{"type":"text","text":"hello"},{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`,
			check: func(t *testing.T, m Message) {
				am, ok := m.(AssistantMessage)
				require.True(t, ok)
				require.Len(t, am.Content, 2)
				assert.Equal(t, "hello", am.Text())
				assert.Equal(t, "ls", am.Content[1].(ToolUseBlock).Input["command"])
			},
		},
		{
			name: "assistant flat content",
			line: `{"type":"assistant","content":[{"type":"text","text":"flat"}]}`,
			check: func(t *testing.T, m Message) {
				assert.Equal(t, "flat", m.(AssistantMessage).Text())
			},
		},
		{
			name: "result",
			line: `{"type":"result","subtype":"success","is_error":false,"num_turns":3,"session_id":"s-1","result":"# Done","total_cost_usd":0.5}`,
			check: func(t *testing.T, m Message) {
				rm, ok := m.(ResultMessage)
				require.True(t, ok)
				assert.Equal(t, "s-1", rm.SessionID)
				assert.Equal(t, 3, rm.NumTurns)
				require.NotNil(t, rm.Result)
				assert.Equal(t, "# Done", *rm.Result)
				assert.InDelta(t, 0.5, *rm.TotalCostUSD, 1e-9)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMessage([]byte(tt.line))
			require.NoError(t, err)
			tt.check(t, m)
		})
	}
}

func TestParseMessage_Errors(t *testing.T) {
	for _, line := range []string{`not json`, `{"no":"type"}`, `{"type":"mystery"}`} {
		_, err := ParseMessage([]byte(line))
		assert.Error(t, err, line)
	}
}

func TestBuildArgs(t *testing.T) {
	args := buildArgs("hi", &Options{
		Model:          "m",
		MaxTurns:       4,
		Resume:         "s-1",
		PermissionMode: PermissionModeAcceptEdits,
		AllowedTools:   []string{"Read", "Edit"},
	})
	assert.Equal(t, []string{
		"-p", "hi", "--output-format", "stream-json", "--verbose",
		"--model", "m", "--max-turns", "4", "--resume", "s-1",
		"--allowedTools", "Read,Edit", "--permission-mode", "acceptEdits",
	}, args)
}
