package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt(t *testing.T) {
	first := BuildPrompt(ImplementRequest{Item: ChecklistItem{ID: "item-1", Title: "Add parser"}, Attempt: 1})
	assert.Contains(t, first, "Add parser")
	assert.NotContains(t, first, "attempt")

	retry := BuildPrompt(ImplementRequest{
		Item:         ChecklistItem{ID: "item-1", Title: "Add parser"},
		Attempt:      2,
		GateFailure:  "FAIL: TestParse\n",
		PriorReports: []string{"# Parser skeleton"},
	})
	assert.Contains(t, retry, "attempt 2")
	assert.Contains(t, retry, "```\nFAIL: TestParse\n```")
	assert.Contains(t, retry, "--- report 1 ---\n# Parser skeleton")
}
