// Package api defines the RPC surface shared by the daemon and its clients.
package api

const (
	ToolServiceName       = "taskmux.v1.ToolService"
	WorkspaceServiceName  = "taskmux.v1.WorkspaceService"
	TaskServiceName       = "taskmux.v1.TaskService"
	ProcessServiceName    = "taskmux.v1.ProcessService"
	HarnessServiceName    = "taskmux.v1.HarnessService"
	CheckpointServiceName = "taskmux.v1.CheckpointService"
	StatusServiceName     = "taskmux.v1.StatusService"
	PushServiceName       = "taskmux.v1.PushService"
)

const (
	ToolTaskProcedure          = "/" + ToolServiceName + "/Task"
	ToolTaskAwaitProcedure     = "/" + ToolServiceName + "/TaskAwait"
	ToolTaskListProcedure      = "/" + ToolServiceName + "/TaskList"
	ToolTaskTerminateProcedure = "/" + ToolServiceName + "/TaskTerminate"
	ToolBashProcedure          = "/" + ToolServiceName + "/Bash"
	ToolStatusSetProcedure     = "/" + ToolServiceName + "/StatusSet"
	ToolDecodeResultProcedure  = "/" + ToolServiceName + "/DecodeResult"

	WorkspaceOpenProcedure   = "/" + WorkspaceServiceName + "/Open"
	WorkspaceListProcedure   = "/" + WorkspaceServiceName + "/List"
	WorkspaceRemoveProcedure = "/" + WorkspaceServiceName + "/Remove"

	TaskGetProcedure          = "/" + TaskServiceName + "/Get"
	TaskSubmitReportProcedure = "/" + TaskServiceName + "/SubmitReport"
	TaskWatchProcedure        = "/" + TaskServiceName + "/Watch"

	ProcessListProcedure             = "/" + ProcessServiceName + "/List"
	ProcessOutputProcedure           = "/" + ProcessServiceName + "/Output"
	ProcessTerminateProcedure        = "/" + ProcessServiceName + "/Terminate"
	ProcessSendToBackgroundProcedure = "/" + ProcessServiceName + "/SendToBackground"
	ProcessMessageSentProcedure      = "/" + ProcessServiceName + "/MessageSent"
	ProcessWatchProcedure            = "/" + ProcessServiceName + "/Watch"

	HarnessAcceptDraftProcedure    = "/" + HarnessServiceName + "/AcceptDraft"
	HarnessValidateWritesProcedure = "/" + HarnessServiceName + "/ValidateWrites"
	HarnessGetConfigProcedure      = "/" + HarnessServiceName + "/GetConfig"
	HarnessRunProcedure            = "/" + HarnessServiceName + "/Run"
	HarnessStopProcedure           = "/" + HarnessServiceName + "/Stop"
	HarnessGetStateProcedure       = "/" + HarnessServiceName + "/GetState"
	HarnessResetStateProcedure     = "/" + HarnessServiceName + "/ResetState"

	CheckpointCreateProcedure = "/" + CheckpointServiceName + "/Create"

	StatusGetProcedure   = "/" + StatusServiceName + "/Get"
	StatusClearProcedure = "/" + StatusServiceName + "/Clear"
	StatusWatchProcedure = "/" + StatusServiceName + "/Watch"

	PushGetVapidPublicKeyProcedure = "/" + PushServiceName + "/GetVapidPublicKey"
	PushRegisterProcedure          = "/" + PushServiceName + "/Register"
	PushUnregisterProcedure        = "/" + PushServiceName + "/Unregister"
)
