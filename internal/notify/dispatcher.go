package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kazz187/taskmux/internal/task"
)

type TaskEvents interface {
	SubscribeAll() (string, <-chan *task.Event)
	Unsubscribe(id string)
}

// Dispatcher turns settled task events into push notifications.
type Dispatcher struct {
	events TaskEvents
	sender *Sender
}

func NewDispatcher(events TaskEvents, sender *Sender) *Dispatcher {
	return &Dispatcher{events: events, sender: sender}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	id, ch := d.events.SubscribeAll()
	defer d.events.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if p := PayloadFor(ev); p != nil {
				slog.DebugContext(ctx, "sending task notification", "task_id", ev.TaskID, "type", ev.Type)
				d.sender.SendToAll(ctx, p)
			}
		}
	}
}

// PayloadFor returns nil for events that do not notify.
func PayloadFor(ev *task.Event) *Payload {
	var title string
	switch ev.Type {
	case task.EventCompleted:
		title = "Task completed"
	case task.EventTerminated:
		title = "Task terminated"
	default:
		return nil
	}
	body := ev.Title
	if ev.Error != "" {
		body = fmt.Sprintf("%s: %s", ev.Title, ev.Error)
	}
	return &Payload{
		Title: title,
		Body:  body,
		URL:   fmt.Sprintf("/workspaces/%s/tasks/%s", ev.WorkspaceID, ev.TaskID),
		Tag:   ev.TaskID,
	}
}
