package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
)

var version = "dev"

var (
	app = kingpin.New("taskmux", "Sub-agent task orchestration, background processes and a checklist harness for coding agents")

	addr      = app.Flag("addr", "Daemon URL").Envar("TASKMUX_ADDR").Default("http://localhost:3200").String()
	apiKey    = app.Flag("api-key", "Daemon API key").Envar("TASKMUX_API_KEY").String()
	workspace = app.Flag("workspace", "Workspace id").Short('w').Envar("TASKMUX_WORKSPACE_ID").String()

	serveCmd = app.Command("serve", "Run the taskmux daemon")

	mcpCmd = app.Command("mcp", "Serve the agent tools of --workspace over MCP on stdio")

	wsCmd      = app.Command("workspace", "Workspace commands")
	wsOpenCmd  = wsCmd.Command("open", "Register a directory as a root workspace")
	wsOpenDir  = wsOpenCmd.Arg("dir", "Directory").Required().ExistingDir()
	wsOpenName = wsOpenCmd.Flag("name", "Workspace name (defaults to the directory name)").String()
	wsListCmd  = wsCmd.Command("list", "List workspaces")
	wsRmCmd    = wsCmd.Command("remove", "Terminate everything in a root workspace and forget it")
	wsRmID     = wsRmCmd.Arg("id", "Workspace id").Required().String()

	taskCmd       = app.Command("task", "Start a sub-agent task")
	taskPrompt    = taskCmd.Arg("prompt", "Task prompt").Required().String()
	taskTitle     = taskCmd.Flag("title", "Task title").String()
	taskAgentType = taskCmd.Flag("agent-type", "Sub-agent type (general, explore)").String()

	awaitCmd        = app.Command("await", "Wait for task reports")
	awaitIDs        = awaitCmd.Arg("task-ids", "Task ids (default: every active descendant task)").Strings()
	awaitTimeout    = awaitCmd.Flag("timeout", "Timeout in seconds").IsSetByUser(&awaitTimeoutSet).Float64()
	awaitTimeoutSet bool

	listCmd      = app.Command("list", "List descendant tasks")
	listStatuses = listCmd.Flag("status", "Filter by status").Strings()

	terminateCmd = app.Command("terminate", "Terminate tasks and their descendants")
	terminateIDs = terminateCmd.Arg("task-ids", "Task ids").Required().Strings()

	bashCmd        = app.Command("bash", "Run a script in the workspace")
	bashScript     = bashCmd.Arg("script", "Script").Required().String()
	bashBackground = bashCmd.Flag("background", "Run in the background").Bool()
	bashName       = bashCmd.Flag("name", "Display name").String()
	bashTimeout    = bashCmd.Flag("timeout", "Timeout in seconds").IsSetByUser(&bashTimeoutSet).Float64()
	bashTimeoutSet bool

	psCmd           = app.Command("ps", "Background process commands")
	psListCmd       = psCmd.Command("list", "List processes").Default()
	psListRunning   = psListCmd.Flag("running", "Only running processes").Bool()
	psOutputCmd     = psCmd.Command("output", "Print the output tail of a process")
	psOutputID      = psOutputCmd.Arg("process-id", "Process id").Required().String()
	psKillCmd       = psCmd.Command("kill", "Terminate a process")
	psKillID        = psKillCmd.Arg("process-id", "Process id").Required().String()
	psBackgroundCmd = psCmd.Command("background", "Move the foreground process of a tool call to the background")
	psBackgroundID  = psBackgroundCmd.Arg("tool-call-id", "Tool call id").Required().String()
	psWatchCmd      = psCmd.Command("watch", "Stream process snapshots")

	statusCmd      = app.Command("status", "Workspace status line commands")
	statusSetCmd   = statusCmd.Command("set", "Set the status line from a script")
	statusScript   = statusSetCmd.Arg("script", "Script printing {\"emoji\",\"message\",\"url\"} JSON").Required().String()
	statusPoll     = statusSetCmd.Flag("poll", "Poll interval in seconds").Int()
	statusGetCmd   = statusCmd.Command("get", "Show the status line").Default()
	statusClearCmd = statusCmd.Command("clear", "Clear the status line")
	statusWatchCmd = statusCmd.Command("watch", "Stream status updates")

	harnessCmd       = app.Command("harness", "Checklist harness commands")
	harnessAcceptCmd = harnessCmd.Command("accept", "Accept a planner draft as the harness config")
	harnessDraftFile = harnessAcceptCmd.Arg("file", "Draft JSON/JSONC file, - for stdin").Default("-").String()
	harnessConfigCmd = harnessCmd.Command("config", "Show the harness config")
	harnessRunCmd    = harnessCmd.Command("run", "Run the harness loop until it stops")
	harnessAgentType = harnessRunCmd.Flag("agent-type", "Sub-agent type for implementation tasks").String()
	harnessStopCmd   = harnessCmd.Command("stop", "Stop the running harness loop")
	harnessStateCmd  = harnessCmd.Command("state", "Show harness progress")
	harnessResetCmd  = harnessCmd.Command("reset", "Forget harness progress")

	checkpointCmd       = app.Command("checkpoint", "Commit the workspace if it has changes")
	checkpointMessage   = checkpointCmd.Flag("message", "Commit message template").Short('m').String()
	checkpointItem      = checkpointCmd.Flag("item", "Checklist item title for the template").String()
	checkpointIteration = checkpointCmd.Flag("iteration", "Iteration number for the template").Int()

	decodeCmd  = app.Command("decode-result", "Decode a persisted bash or task tool result")
	decodeKind = decodeCmd.Arg("kind", "bash or task").Required().Enum("bash", "task")
	decodeFile = decodeCmd.Arg("file", "JSON file, - for stdin").Default("-").String()

	watchCmd = app.Command("watch", "Stream task events (every workspace unless --workspace is set)")

	pushCmd       = app.Command("push", "Web push commands")
	pushKeysCmd   = pushCmd.Command("generate-vapid-keys", "Generate a VAPID key pair")
	pushPublicCmd = pushCmd.Command("public-key", "Show the daemon's VAPID public key")
)

func main() {
	app.Version(version)
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case serveCmd.FullCommand():
		err = runServe(ctx)
	case mcpCmd.FullCommand():
		err = runMCP(ctx)
	case pushKeysCmd.FullCommand():
		err = runGenerateVAPIDKeys()
	default:
		err = runClientCommand(ctx, command)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskmux: %v\n", err)
		os.Exit(1)
	}
}
