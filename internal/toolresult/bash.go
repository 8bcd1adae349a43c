package toolresult

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kazz187/taskmux/internal/runtime"
	"github.com/kazz187/taskmux/internal/tools"
)

const (
	ShapeBashCurrent = "bash.current"
	ShapeBashStdio   = "bash.stdio"
	ShapeBashError   = "bash.error"
	ShapeBashText    = "bash.text"
)

var bashConverters = []converter[tools.BashResult]{
	{name: ShapeBashCurrent, convert: bashCurrent},
	{name: ShapeBashStdio, convert: bashStdio},
	{name: ShapeBashError, convert: bashError},
	{name: ShapeBashText, convert: bashText},
}

// {"success": true, "processId": "...", "exitCode": 0, "output": "..."}
func bashCurrent(raw gjson.Result) (*tools.BashResult, bool) {
	if !raw.IsObject() || !isBool(raw.Get("success")) {
		return nil, false
	}
	res := &tools.BashResult{
		Success:   raw.Get("success").Bool(),
		Status:    raw.Get("status").String(),
		ProcessID: raw.Get("processId").String(),
		PID:       int(raw.Get("pid").Int()),
		Output:    raw.Get("output").String(),
		Error:     raw.Get("error").String(),
	}
	if v := raw.Get("exitCode"); v.Type == gjson.Number {
		code := int(v.Int())
		res.ExitCode = &code
	}
	return res, true
}

// {"stdout": "...", "stderr": "...", "exit_code": 1}
func bashStdio(raw gjson.Result) (*tools.BashResult, bool) {
	if !raw.IsObject() {
		return nil, false
	}
	stdout, stderr := raw.Get("stdout"), raw.Get("stderr")
	if !stdout.Exists() && !stderr.Exists() {
		return nil, false
	}
	code := 0
	if v := firstOf(raw, "exit_code", "exitCode", "code"); v.Type == gjson.Number {
		code = int(v.Int())
	}
	output := stdout.String()
	if s := stderr.String(); s != "" {
		if output != "" && !strings.HasSuffix(output, "\n") {
			output += "\n"
		}
		output += s
	}
	return &tools.BashResult{
		Success:  code == 0,
		ExitCode: &code,
		Output:   runtime.Tail(output, runtime.OutputBudget),
	}, true
}

// {"error": "..."}
func bashError(raw gjson.Result) (*tools.BashResult, bool) {
	if !raw.IsObject() {
		return nil, false
	}
	msg := raw.Get("error")
	if msg.Type != gjson.String {
		return nil, false
	}
	return &tools.BashResult{Error: msg.String()}, true
}

// A bare JSON string holding the output.
func bashText(raw gjson.Result) (*tools.BashResult, bool) {
	if raw.Type != gjson.String {
		return nil, false
	}
	return &tools.BashResult{Success: true, Output: runtime.Tail(raw.String(), runtime.OutputBudget)}, true
}
