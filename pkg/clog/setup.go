package clog

import (
	"io"
	"log/slog"
)

// NewHandler returns the process-wide handler: coloured text for local
// development, JSON otherwise. Either way context attributes are attached.
func NewHandler(w io.Writer, local bool, level slog.Level) slog.Handler {
	var handler slog.Handler
	if local {
		handler = NewConnectTextHandler(w, WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return NewAttributesHandler(handler)
}
