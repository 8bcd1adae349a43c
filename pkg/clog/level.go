package clog

import (
	"log/slog"

	"connectrpc.com/connect"
)

// HTTPStatusToLevel picks the level of a request log line. Client
// disconnects (499) are not worth a warning.
func HTTPStatusToLevel(status int) slog.Level {
	switch {
	case status == 499:
		return slog.LevelInfo
	case status >= 100 && status < 400:
		return slog.LevelInfo
	case status >= 400 && status < 500:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Codes caused by the caller are logged at info; the rest point at the
// daemon and are errors.
var callerCodes = map[connect.Code]bool{
	connect.CodeCanceled:           true,
	connect.CodeInvalidArgument:    true,
	connect.CodeDeadlineExceeded:   true,
	connect.CodeNotFound:           true,
	connect.CodeAlreadyExists:      true,
	connect.CodePermissionDenied:   true,
	connect.CodeFailedPrecondition: true,
	connect.CodeAborted:            true,
	connect.CodeOutOfRange:         true,
	connect.CodeUnauthenticated:    true,
}

func ConnectCodeToLevel(code connect.Code) slog.Level {
	if callerCodes[code] {
		return slog.LevelInfo
	}
	return slog.LevelError
}
