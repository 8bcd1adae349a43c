package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3200"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	APIKey   string `envconfig:"API_KEY"`
}

// StorageEnv configures where per-workspace session data lives. BaseDir is
// the session dir when Type is "local".
type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".taskmux/sessions"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"taskmux/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

type TaskEnv struct {
	MaxParallelTasks    int           `envconfig:"MAX_PARALLEL_TASKS" default:"3"`
	DefaultAwaitTimeout time.Duration `envconfig:"DEFAULT_AWAIT_TIMEOUT" default:"10m"`
	MaxAwaitTimeout     time.Duration `envconfig:"MAX_AWAIT_TIMEOUT" default:"1h"`
	ReportAttempts      int           `envconfig:"REPORT_ATTEMPTS" default:"2"`
}

type AgentEnv struct {
	CLIPath        string `envconfig:"AGENT_CLI_PATH"`
	Model          string `envconfig:"AGENT_MODEL"`
	PermissionMode string `envconfig:"AGENT_PERMISSION_MODE" default:"acceptEdits"`
	MaxTurns       int    `envconfig:"AGENT_MAX_TURNS" default:"0"`
	SystemPrompt   string `envconfig:"AGENT_SYSTEM_PROMPT"`
}

type HarnessEnv struct {
	GateTimeout         time.Duration `envconfig:"GATE_TIMEOUT" default:"10m"`
	ExtraDeniedCommands []string      `envconfig:"EXTRA_DENIED_COMMANDS"`
	WatchConfig         bool          `envconfig:"WATCH_CONFIG" default:"true"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:admin@localhost"`
}

type Env struct {
	BaseEnv
	StorageEnv
	TaskEnv
	AgentEnv
	HarnessEnv
	VAPIDEnv
}

const namespace = "TASKMUX"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Env) validate() error {
	switch strings.ToLower(e.StorageEnv.Type) {
	case "local":
	case "s3":
		if e.S3Bucket == "" {
			return fmt.Errorf("TASKMUX_S3_BUCKET is required when TASKMUX_STORAGE_TYPE=s3")
		}
	default:
		return fmt.Errorf("unknown TASKMUX_STORAGE_TYPE %q", e.StorageEnv.Type)
	}
	if e.MaxParallelTasks < 1 {
		return fmt.Errorf("TASKMUX_MAX_PARALLEL_TASKS must be at least 1")
	}
	return nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func (e *BaseEnv) IsLocal() bool {
	return e.Env == "local"
}

func (e *VAPIDEnv) Enabled() bool {
	return e.VAPIDPublicKey != "" && e.VAPIDPrivateKey != ""
}
