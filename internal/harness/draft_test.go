package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskmux/pkg/cerr"
)

func TestAcceptDraft_DropsUnsafeGate(t *testing.T) {
	raw := []byte(`{
		// proposed by the planner
		"checklist": [{"title": "Add parser"}, "Wire CLI"],
		"gates": [
			{"command": "rm -rf build && go test ./..."},
			{"command": "go test ./...", "timeoutSecs": 300},
		],
		"loop": {"autoCommit": true, "contextReset": "per_item"},
	}`)

	acc := AcceptDraft(raw, NewGatePolicy())
	require.Empty(t, acc.ParseError)
	assert.False(t, acc.FellBack)

	require.Len(t, acc.Config.Gates, 1)
	assert.Equal(t, "go test ./...", acc.Config.Gates[0].Command)
	require.NotNil(t, acc.Config.Gates[0].TimeoutSecs)
	assert.Equal(t, 300, *acc.Config.Gates[0].TimeoutSecs)
	assert.False(t, acc.Config.Loop.AutoCommit)
	assert.Equal(t, ContextResetPerItem, acc.Config.Loop.ContextReset)

	require.Len(t, acc.Dropped, 1)
	assert.Equal(t, RuleDenied, acc.Dropped[0].Rule)

	assert.Equal(t, []ChecklistItem{
		{ID: "item-1", Title: "Add parser", Status: ItemTodo},
		{ID: "item-2", Title: "Wire CLI", Status: ItemTodo},
	}, acc.Config.Checklist)

	warning := acc.Warning()
	require.Error(t, warning)
	assert.True(t, cerr.IsCode(warning, cerr.FailedPrecondition))
	var ce *cerr.Error
	require.ErrorAs(t, warning, &ce)
	assert.Len(t, ce.DetailMessages(), 1)
	require.NoError(t, acc.Config.Validate())
}

func TestAcceptDraft_SafeDraftKeepsAutoCommit(t *testing.T) {
	acc := AcceptDraft([]byte(`{"checklist":["a"],"gates":["make lint"],"loop":{"autoCommit":true}}`), nil)
	assert.True(t, acc.Config.Loop.AutoCommit)
	assert.Empty(t, acc.Dropped)
	assert.NoError(t, acc.Warning())
}

func TestAcceptDraft_EmptyPlanFallback(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantParse bool
	}{
		{name: "empty input", raw: "", wantParse: true},
		{name: "empty object", raw: `{}`},
		{name: "blank titles", raw: `{"checklist": ["", {"title": "  "}], "loop": {"autoCommit": true}}`},
		{name: "garbage", raw: `not json at all`, wantParse: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := AcceptDraft([]byte(tt.raw), NewGatePolicy())
			assert.True(t, acc.FellBack)
			assert.Equal(t, tt.wantParse, acc.ParseError != "")
			assert.Equal(t, []ChecklistItem{{ID: "item-1", Title: "Implement the plan", Status: ItemTodo}}, acc.Config.Checklist)
			assert.False(t, acc.Config.Loop.AutoCommit)
			require.NoError(t, acc.Config.Validate())
		})
	}
}

func TestValidateProposalWrites(t *testing.T) {
	require.NoError(t, ValidateProposalWrites("feature", []string{".mux/harness/feature.jsonc", "./.mux/harness/feature.jsonc"}))
	require.NoError(t, ValidateProposalWrites("feature", nil))

	err := ValidateProposalWrites("feature", []string{".mux/harness/feature.jsonc", "main.go", ".mux/harness/other.jsonc"})
	require.True(t, cerr.IsCode(err, cerr.PermissionDenied))
	var ce *cerr.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"main.go", ".mux/harness/other.jsonc"}, ce.DetailMessages())
}
