package hooks

import (
	"fmt"
	"time"
)

// Config captures hook settings loaded from aichat.ini and AICHAT_HOOKS_* env.
type Config struct {
	Enabled    bool              `yaml:"enabled" json:"enabled"`
	ScriptPath string            `yaml:"script_path" json:"script_path"`
	ScriptArgs []string          `yaml:"script_args" json:"script_args"`
	Env        map[string]string `yaml:"env" json:"env"`
	Timeout    time.Duration     `yaml:"timeout" json:"timeout"`
}

// Validate ensures the configuration is coherent before we wire handlers.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ScriptPath == "" {
		return fmt.Errorf("hooks: script_path required when enabled")
	}
	return nil
}

// BuildScriptHandler constructs the handler declared in Config.
func (c Config) BuildScriptHandler() Handler {
	if !c.Enabled {
		return nil
	}
	cfg := ScriptConfig{
		Command: c.ScriptPath,
		Args:    c.ScriptArgs,
		Env:     c.Env,
		Timeout: c.Timeout,
	}
	return NewScriptHandler(cfg)
}
