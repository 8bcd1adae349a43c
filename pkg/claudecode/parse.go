package claudecode

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// ParseMessage decodes one stream-json line. Assistant and user messages
// carry their content either at the top level or under "message"; both
// shapes are accepted.
func ParseMessage(line []byte) (Message, error) {
	if !gjson.ValidBytes(line) {
		return nil, fmt.Errorf("invalid JSON line")
	}
	root := gjson.ParseBytes(line)

	switch typ := root.Get("type").String(); typ {
	case "assistant":
		return AssistantMessage{Content: parseContent(content(root))}, nil
	case "user":
		return UserMessage{Content: parseContent(content(root))}, nil
	case "system":
		return SystemMessage{
			Subtype:   root.Get("subtype").String(),
			SessionID: root.Get("session_id").String(),
		}, nil
	case "result":
		msg := ResultMessage{
			Subtype:    root.Get("subtype").String(),
			DurationMs: int(root.Get("duration_ms").Int()),
			IsError:    root.Get("is_error").Bool(),
			NumTurns:   int(root.Get("num_turns").Int()),
			SessionID:  root.Get("session_id").String(),
		}
		if v := root.Get("total_cost_usd"); v.Exists() {
			cost := v.Float()
			msg.TotalCostUSD = &cost
		}
		if v := root.Get("result"); v.Type == gjson.String {
			s := v.String()
			msg.Result = &s
		}
		return msg, nil
	case "":
		return nil, fmt.Errorf("message missing type field")
	default:
		return nil, fmt.Errorf("unknown message type: %s", typ)
	}
}

func content(root gjson.Result) gjson.Result {
	if c := root.Get("message.content"); c.Exists() {
		return c
	}
	return root.Get("content")
}

func parseContent(c gjson.Result) []ContentBlock {
	if c.Type == gjson.String {
		return []ContentBlock{TextBlock{Text: c.String()}}
	}
	var blocks []ContentBlock
	for _, b := range c.Array() {
		switch b.Get("type").String() {
		case "text":
			blocks = append(blocks, TextBlock{Text: b.Get("text").String()})
		case "tool_use":
			input, _ := b.Get("input").Value().(map[string]any)
			blocks = append(blocks, ToolUseBlock{
				ID:    b.Get("id").String(),
				Name:  b.Get("name").String(),
				Input: input,
			})
		case "tool_result":
			blocks = append(blocks, ToolResultBlock{
				ToolUseID: b.Get("tool_use_id").String(),
				Content:   b.Get("content").Value(),
				IsError:   b.Get("is_error").Bool(),
			})
		}
	}
	return blocks
}
