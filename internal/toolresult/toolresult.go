// Package toolresult converts stored bash and task tool results, including
// the shapes written by older releases, into the typed results of package
// tools.
package toolresult

import (
	"github.com/tidwall/gjson"

	"github.com/kazz187/taskmux/internal/tools"
	"github.com/kazz187/taskmux/pkg/cerr"
)

// converter returns ok=false when raw is not its shape.
type converter[T any] struct {
	name    string
	convert func(raw gjson.Result) (*T, bool)
}

func decode[T any](kind string, data []byte, converters []converter[T]) (*T, string, error) {
	if !gjson.ValidBytes(data) {
		return nil, "", cerr.NewError(cerr.InvalidArgument, kind+" result is not valid JSON", nil)
	}
	raw := gjson.ParseBytes(data)
	for _, c := range converters {
		if res, ok := c.convert(raw); ok {
			return res, c.name, nil
		}
	}
	return nil, "", cerr.NewError(cerr.InvalidArgument, "unrecognized "+kind+" result shape", nil)
}

// DecodeBash tries each known bash result shape in priority order and
// reports which one matched.
func DecodeBash(data []byte) (*tools.BashResult, string, error) {
	return decode("bash", data, bashConverters)
}

// DecodeTask is DecodeBash for task results.
func DecodeTask(data []byte) (*tools.TaskResult, string, error) {
	return decode("task", data, taskConverters)
}

func firstOf(raw gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := raw.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func isBool(v gjson.Result) bool {
	return v.Type == gjson.True || v.Type == gjson.False
}
