package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/kazz187/taskmux/internal/bgprocess"
	"github.com/kazz187/taskmux/internal/statusset"
	"github.com/kazz187/taskmux/internal/task"
)

func printResult[T any](v T, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	faint = color.New(color.Faint).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

func eventColor(t task.EventType) *color.Color {
	switch t {
	case task.EventCompleted:
		return color.New(color.FgGreen)
	case task.EventTerminated, task.EventRemoved:
		return color.New(color.FgRed)
	case task.EventCreated:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgYellow)
	}
}

func printTaskEvent(ev *task.Event) {
	line := fmt.Sprintf("%s %s %-14s %s %s",
		faint(ev.At.Local().Format(time.TimeOnly)),
		faint(ev.WorkspaceID),
		eventColor(ev.Type).Sprint(ev.Type),
		bold(ev.TaskID),
		ev.Status,
	)
	if ev.Title != "" {
		line += " " + ev.Title
	}
	if ev.Error != "" {
		line += " " + color.RedString(ev.Error)
	}
	fmt.Println(line)
}

func printSnapshot(snap *bgprocess.Snapshot) {
	fmt.Println(faint(fmt.Sprintf("-- %s seq=%d", snap.WorkspaceID, snap.Seq)))
	for _, p := range snap.Processes {
		name := p.DisplayName
		if name == "" {
			name = p.Script
		}
		status := color.GreenString(string(p.Status))
		if p.Status != bgprocess.StatusRunning {
			code := "?"
			if p.ExitCode != nil {
				code = fmt.Sprint(*p.ExitCode)
			}
			status = faint(fmt.Sprintf("%s(%s)", p.Status, code))
		}
		fg := ""
		if p.Foreground {
			fg = color.YellowString(" fg")
		}
		fmt.Printf("%s %6d %s%s %s\n", bold(p.ID), p.PID, status, fg, name)
	}
}

func printStatusUpdate(u *statusset.Update) {
	ts := faint(u.At.Local().Format(time.TimeOnly))
	switch {
	case u.Error != "":
		fmt.Println(ts, color.RedString(u.Error))
	case u.Status == nil:
		fmt.Println(ts, faint("(cleared)"))
	default:
		line := u.Status.Message
		if u.Status.Emoji != "" {
			line = u.Status.Emoji + " " + line
		}
		if u.Status.URL != "" {
			line += " " + faint(u.Status.URL)
		}
		fmt.Println(ts, line)
	}
}
