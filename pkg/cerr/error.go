package cerr

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kazz187/taskmux/pkg/clog"
)

type Error struct {
	Code    Code
	Msg     string          // message returned to the caller together with Code
	Err     error           // underlying error, logged but not returned
	Stack   string          // stack trace for error-level codes
	Details []proto.Message // structured details returned to the caller
}

func NewError(code Code, msg string, underlying error) *Error {
	err := &Error{
		Code: code,
		Msg:  msg,
		Err:  underlying,
	}
	if clog.ConnectCodeToLevel(code.ConnectCode()) == slog.LevelError {
		stackTrace := make([]byte, 2048)
		n := runtime.Stack(stackTrace, false)
		err.Stack = string(stackTrace[0:n])
	}
	return err
}

func NewErrorWithDetails(code Code, msg string, underlying error, details []proto.Message) *Error {
	err := NewError(code, msg, underlying)
	err.Details = details
	return err
}

func (e *Error) AddDetailError(err proto.Message) {
	e.Details = append(e.Details, err)
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code.String(), e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code.String(), e.Msg, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) AddDetailMessage(msg string) *Error {
	return e.AddDetailMessageWithCode(msg, "")
}

// AddDetailMessageWithCode attaches a {rule, message} struct detail. Rule
// identifies the check that produced the message, e.g. "gate.denylist".
func (e *Error) AddDetailMessageWithCode(msg string, rule string) *Error {
	fields := map[string]any{"message": msg}
	if rule != "" {
		fields["rule"] = rule
	}
	detail, err := structpb.NewStruct(fields)
	if err != nil {
		return e
	}
	e.Details = append(e.Details, detail)
	return e
}

// DetailMessages returns the messages attached with AddDetailMessage*.
func (e *Error) DetailMessages() []string {
	var msgs []string
	for _, d := range e.Details {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		if v, ok := s.GetFields()["message"]; ok {
			msgs = append(msgs, v.GetStringValue())
		}
	}
	return msgs
}

func (e *Error) ConnectError() *connect.Error {
	connectErr := connect.NewError(e.Code.ConnectCode(), errors.New(e.Msg))
	for _, detailMsg := range e.Details {
		detail, err := connect.NewErrorDetail(detailMsg)
		if err != nil {
			continue
		}
		connectErr.AddDetail(detail)
	}
	return connectErr
}

func IsCode(err error, code Code) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code == code
	}
	return false
}

// CodeOf returns the Code of the first *Error in err's chain, or Unknown.
// A nil error is OK.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return Unknown
}

// Message returns the caller-facing message of err: Msg for an *Error and
// err.Error() for anything else.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Msg
	}
	return err.Error()
}
