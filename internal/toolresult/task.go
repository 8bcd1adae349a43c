package toolresult

import (
	"github.com/tidwall/gjson"

	"github.com/kazz187/taskmux/internal/task"
	"github.com/kazz187/taskmux/internal/tools"
)

const (
	ShapeTaskCurrent = "task.current"
	ShapeTaskReport  = "task.report"
	ShapeTaskStatus  = "task.status"
	ShapeTaskError   = "task.error"
)

var taskConverters = []converter[tools.TaskResult]{
	{name: ShapeTaskCurrent, convert: taskCurrent},
	{name: ShapeTaskReport, convert: taskReport},
	{name: ShapeTaskStatus, convert: taskStatus},
	{name: ShapeTaskError, convert: taskError},
}

// {"success": true, "status": "queued", "taskId": "..."}
func taskCurrent(raw gjson.Result) (*tools.TaskResult, bool) {
	if !raw.IsObject() || !isBool(raw.Get("success")) {
		return nil, false
	}
	return &tools.TaskResult{
		Success: raw.Get("success").Bool(),
		Status:  raw.Get("status").String(),
		TaskID:  raw.Get("taskId").String(),
		Error:   raw.Get("error").String(),
	}, true
}

// Synchronous results that carried the report itself:
// {"taskId": "...", "reportMarkdown": "...", "title": "..."}
func taskReport(raw gjson.Result) (*tools.TaskResult, bool) {
	if !raw.IsObject() {
		return nil, false
	}
	id := firstOf(raw, "taskId", "task_id")
	report := firstOf(raw, "reportMarkdown", "report_markdown", "report")
	if id.Type != gjson.String || !report.Exists() {
		return nil, false
	}
	return &tools.TaskResult{Success: true, Status: tools.StatusCompleted, TaskID: id.String()}, true
}

// {"task_id": "...", "status": "running"}
func taskStatus(raw gjson.Result) (*tools.TaskResult, bool) {
	if !raw.IsObject() {
		return nil, false
	}
	id := firstOf(raw, "task_id", "taskId", "id")
	status := raw.Get("status")
	if id.Type != gjson.String || status.Type != gjson.String {
		return nil, false
	}
	res := &tools.TaskResult{TaskID: id.String(), Status: status.String(), Error: raw.Get("error").String()}
	res.Success = task.Status(res.Status).Valid() && res.Error == ""
	return res, true
}

// {"error": "..."}
func taskError(raw gjson.Result) (*tools.TaskResult, bool) {
	if !raw.IsObject() {
		return nil, false
	}
	msg := raw.Get("error")
	if msg.Type != gjson.String {
		return nil, false
	}
	return &tools.TaskResult{Error: msg.String()}, true
}
