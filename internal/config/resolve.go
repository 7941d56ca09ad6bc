package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	"github.com/subosito/gotenv"
)

var (
	// ErrNoInterpreter means python_path is not configured.
	ErrNoInterpreter = errors.New("no python interpreter configured")
	// ErrInterpreterNotFound means python_path does not name a file.
	ErrInterpreterNotFound = errors.New("python interpreter not found")
	// ErrScriptNotFound means the script to run does not exist.
	ErrScriptNotFound = errors.New("script not found")
	// ErrUnknownTarget means no main bot or adapter has the requested id.
	ErrUnknownTarget = errors.New("unknown process id")
)

// Environment every child gets so that loguru keeps emitting colors and
// output is not buffered behind a pipe.
var childEnv = map[string]string{
	"LOGURU_COLORIZE": "True",
	"FORCE_COLOR":     "1",
	"SIMPLE_OUTPUT":   "True",
}

// Target is a launchable process named by the config.
type Target struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Script string `json:"script"`
}

// Targets lists the main bot followed by the adapters.
func (c *Config) Targets() []Target {
	targets := []Target{{
		ID:     c.Supervisor.PrimaryID,
		Name:   "MaiBot",
		Script: c.BotScriptPath,
	}}
	for _, a := range c.Adapters {
		name := a.Name
		if name == "" {
			name = a.ID
		}
		targets = append(targets, Target{ID: a.ID, Name: name, Script: a.Script})
	}
	return targets
}

// Target looks up a launchable process by id.
func (c *Config) Target(id string) (Target, error) {
	for _, t := range c.Targets() {
		if t.ID == id {
			return t, nil
		}
	}
	return Target{}, fmt.Errorf("%q: %w", id, ErrUnknownTarget)
}

// Resolve builds the command that runs scriptPath with the configured
// interpreter. Relative scripts are looked up under the bot directory.
func (c *Config) Resolve(scriptPath string) (models.CommandSpec, error) {
	if c.PythonPath == "" {
		return models.CommandSpec{}, ErrNoInterpreter
	}
	python := c.abs(c.PythonPath)
	if fi, err := os.Stat(python); err != nil || fi.IsDir() {
		return models.CommandSpec{}, fmt.Errorf("%s: %w", python, ErrInterpreterNotFound)
	}

	dir := c.WorkDir()
	script := scriptPath
	if !filepath.IsAbs(script) {
		script = filepath.Join(dir, script)
	}
	if fi, err := os.Stat(script); err != nil || fi.IsDir() {
		return models.CommandSpec{}, fmt.Errorf("%s: %w", script, ErrScriptNotFound)
	}

	env := make(map[string]string, len(childEnv))
	for k, v := range childEnv {
		env[k] = v
	}
	if c.EnvFile != "" {
		extra, err := gotenv.Read(c.abs(c.EnvFile))
		if err != nil {
			return models.CommandSpec{}, fmt.Errorf("read env file: %w", err)
		}
		for k, v := range extra {
			env[k] = v
		}
	}

	return models.CommandSpec{
		Path:     python,
		Args:     []string{"-u", script},
		Dir:      dir,
		Env:      env,
		Encoding: c.SubprocessEncoding,
	}, nil
}
