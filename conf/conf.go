package conf

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"

	z "github.com/Oudwins/zog"
)

type Config struct {
	Version  string         `json:"-"`
	State    StateConfig    `json:"state"`
	Logs     LogsConfig     `json:"logs"`
	Wait     WaitConfig     `json:"wait"`
	Workflow WorkflowConfig `json:"workflow"`
}

type StateConfig struct {
	DataDir         string  `json:"data_dir"`
	RecentWindowMin float64 `json:"recent_window_minutes"`
	LockTimeoutSec  float64 `json:"lock_timeout_seconds"`
	ConsistencyMode string  `json:"consistency_mode"`
}

type LogsConfig struct {
	Dir         string  `json:"dir"`
	MaxAgeHours float64 `json:"max_age_hours"`
	MaxCount    int     `json:"max_count"`
}

type WaitConfig struct {
	PollIntervalSec float64 `json:"poll_interval_seconds"`
}

type WorkflowConfig struct {
	DefinitionPath string `json:"definition_path"`
}

var stateSchema = z.Struct(z.Shape{
	"DataDir":         z.String().Default("~/.taskherd").Transform(expandPathTransform),
	"RecentWindowMin": z.Float64().Default(60).GT(0),
	"LockTimeoutSec":  z.Float64().Default(5).GT(0),
	"ConsistencyMode": z.String().Default("best-effort").OneOf([]string{"best-effort", "strict"}),
})

var logsSchema = z.Struct(z.Shape{
	"Dir":         z.String().Default("~/.taskherd/logs").Transform(expandPathTransform),
	"MaxAgeHours": z.Float64().Default(24).GT(0),
	"MaxCount":    z.Int().Default(0).GTE(0),
})

var waitSchema = z.Struct(z.Shape{
	"PollIntervalSec": z.Float64().Default(2).GT(0),
})

var workflowSchema = z.Struct(z.Shape{
	"DefinitionPath": z.String().Default("~/.taskherd/workflow.yaml").Transform(expandPathTransform),
})

var ConfigSchema = z.Struct(z.Shape{
	"state":    stateSchema,
	"logs":     logsSchema,
	"wait":     waitSchema,
	"workflow": workflowSchema,
})

var config *Config

// GetConfig loads taskherd.json from the data dir on first use, falling back
// to defaults when it is absent or empty.
func GetConfig() *Config {
	if config == nil {
		defaults := &Config{}
		if err := ConfigSchema.Parse(map[string]any{}, defaults); err != nil {
			log.Fatal("[taskherd] Failed to parse config defaults ", err)
		}
		defaults.Version = "0.1.0"

		configPath := filepath.Join(filepath.Clean(defaults.State.DataDir), "taskherd.json")
		data, err := os.ReadFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				config = defaults
				return config
			}
			log.Fatal("[taskherd] Failed to read config file ", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			config = defaults
			return config
		}

		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Fatal("[taskherd] Failed to parse config file ", err)
		}
		parsed := &Config{}
		if err := ConfigSchema.Parse(payload, parsed); err != nil {
			log.Fatal("[taskherd] Failed to parse config ", err)
		}
		parsed.Version = defaults.Version
		config = parsed
	}

	return config
}

func expandPathTransform(ptr *string, c z.Ctx) error {
	expanded, err := expandPath(*ptr)
	*ptr = expanded
	return err
}

func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}
