// Package config loads and writes the launcher configuration
// (config/gui_config.toml) and resolves launch commands from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/supervisor"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override file values,
// e.g. MAILAUNCHER_PYTHON_PATH or MAILAUNCHER_SUPERVISOR_LOG_CAP.
const EnvPrefix = "MAILAUNCHER"

// Config represents the complete launcher configuration
type Config struct {
	// PythonPath is the interpreter used for every process. It is never
	// guessed at launch time; use `detect` to find one.
	PythonPath string `mapstructure:"python_path" toml:"python_path"`
	// BotScriptPath is the main bot entry script, relative to BotDir.
	BotScriptPath string `mapstructure:"bot_script_path" toml:"bot_script_path"`
	// BotDir is the working directory of launched processes (default: base dir)
	BotDir string `mapstructure:"bot_dir" toml:"bot_dir"`
	// SubprocessEncoding is the text encoding of child output (utf-8, gbk, ...)
	SubprocessEncoding string `mapstructure:"subprocess_encoding" toml:"subprocess_encoding"`
	// EnvFile is an optional dotenv file merged into the child environment
	EnvFile string `mapstructure:"env_file" toml:"env_file,omitempty"`
	Theme   string `mapstructure:"theme" toml:"theme,omitempty"`

	Adapters   []AdapterConfig  `mapstructure:"adapters" toml:"adapters,omitempty"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" toml:"supervisor"`
	Logging    LoggingConfig    `mapstructure:"logging" toml:"logging"`
	Daemon     DaemonConfig     `mapstructure:"daemon" toml:"daemon"`

	baseDir string
}

// AdapterConfig describes an auxiliary process started next to the bot.
type AdapterConfig struct {
	ID     string `mapstructure:"id" toml:"id"`
	Name   string `mapstructure:"name" toml:"name"`
	Script string `mapstructure:"script" toml:"script"`
}

// SupervisorConfig holds the supervisor knobs in file form.
type SupervisorConfig struct {
	LogCap            int    `mapstructure:"log_cap" toml:"log_cap"`
	BatchLimit        int    `mapstructure:"batch_limit" toml:"batch_limit"`
	FlushIntervalMs   int    `mapstructure:"flush_interval_ms" toml:"flush_interval_ms"`
	PollIntervalMs    int    `mapstructure:"poll_interval_ms" toml:"poll_interval_ms"`
	StopTimeoutMs     int    `mapstructure:"stop_timeout_ms" toml:"stop_timeout_ms"`
	ShutdownTimeoutMs int    `mapstructure:"shutdown_timeout_ms" toml:"shutdown_timeout_ms"`
	ExitGraceMs       int    `mapstructure:"exit_grace_ms" toml:"exit_grace_ms"`
	RestartLogPolicy  string `mapstructure:"restart_log_policy" toml:"restart_log_policy"`
	// DisconnectGraceMs delays stopping the primary process after the UI
	// goes away (0 = stop immediately)
	DisconnectGraceMs int    `mapstructure:"disconnect_grace_ms" toml:"disconnect_grace_ms"`
	PrimaryID         string `mapstructure:"primary_id" toml:"primary_id"`
}

// LoggingConfig controls launcher logging
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level" toml:"level"`
	// File switches logging to JSON lines in this file. The console UI
	// needs it so logs do not draw over the screen.
	File string `mapstructure:"file" toml:"file,omitempty"`
}

// DaemonConfig controls the background daemon
type DaemonConfig struct {
	Listen string `mapstructure:"listen" toml:"listen"`
	// DBPath is the run history database (default: <base>/data/mailauncher.db)
	DBPath string `mapstructure:"db_path" toml:"db_path,omitempty"`
}

// Default returns a Config with default values
func Default() *Config {
	sv := supervisor.DefaultConfig()
	return &Config{
		BotScriptPath:      "bot.py",
		SubprocessEncoding: "utf-8",
		Theme:              "dark",
		Supervisor: SupervisorConfig{
			LogCap:            sv.LogCap,
			BatchLimit:        sv.BatchLimit,
			FlushIntervalMs:   int(sv.FlushInterval / time.Millisecond),
			PollIntervalMs:    int(sv.PollInterval / time.Millisecond),
			StopTimeoutMs:     int(sv.StopTimeout / time.Millisecond),
			ShutdownTimeoutMs: int(sv.ShutdownTimeout / time.Millisecond),
			ExitGraceMs:       int(sv.ExitGrace / time.Millisecond),
			RestartLogPolicy:  string(sv.RestartLogPolicy),
			DisconnectGraceMs: 0,
			PrimaryID:         sv.PrimaryID,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Daemon: DaemonConfig{
			Listen: "127.0.0.1:7466",
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("python_path", d.PythonPath)
	v.SetDefault("bot_script_path", d.BotScriptPath)
	v.SetDefault("bot_dir", d.BotDir)
	v.SetDefault("subprocess_encoding", d.SubprocessEncoding)
	v.SetDefault("env_file", d.EnvFile)
	v.SetDefault("theme", d.Theme)

	v.SetDefault("supervisor.log_cap", d.Supervisor.LogCap)
	v.SetDefault("supervisor.batch_limit", d.Supervisor.BatchLimit)
	v.SetDefault("supervisor.flush_interval_ms", d.Supervisor.FlushIntervalMs)
	v.SetDefault("supervisor.poll_interval_ms", d.Supervisor.PollIntervalMs)
	v.SetDefault("supervisor.stop_timeout_ms", d.Supervisor.StopTimeoutMs)
	v.SetDefault("supervisor.shutdown_timeout_ms", d.Supervisor.ShutdownTimeoutMs)
	v.SetDefault("supervisor.exit_grace_ms", d.Supervisor.ExitGraceMs)
	v.SetDefault("supervisor.restart_log_policy", d.Supervisor.RestartLogPolicy)
	v.SetDefault("supervisor.disconnect_grace_ms", d.Supervisor.DisconnectGraceMs)
	v.SetDefault("supervisor.primary_id", d.Supervisor.PrimaryID)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)

	v.SetDefault("daemon.listen", d.Daemon.Listen)
	v.SetDefault("daemon.db_path", d.Daemon.DBPath)
}

// BaseDir returns the launcher base directory: $MAILAUNCHER_HOME, or the
// current directory.
func BaseDir() string {
	if home := os.Getenv(EnvPrefix + "_HOME"); home != "" {
		return home
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// ConfigFile returns the path of the config file under baseDir
func ConfigFile(baseDir string) string {
	return filepath.Join(baseDir, "config", "gui_config.toml")
}

// Load reads the config file at path, applies defaults and environment
// overrides, and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.baseDir = BaseDirOf(path)

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Save writes the config as TOML, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// WithBaseDir sets the directory relative paths are resolved against.
func (c *Config) WithBaseDir(dir string) *Config {
	c.baseDir = dir
	return c
}

// Dir returns the launcher base directory the config belongs to.
func (c *Config) Dir() string {
	if c.baseDir == "" {
		return BaseDir()
	}
	return c.baseDir
}

// WorkDir returns the absolute working directory for launched processes.
func (c *Config) WorkDir() string {
	if c.BotDir == "" {
		return c.Dir()
	}
	return c.abs(c.BotDir)
}

// DBPath returns the run history database path.
func (c *Config) DBPath() string {
	if c.Daemon.DBPath == "" {
		return filepath.Join(c.Dir(), "data", "mailauncher.db")
	}
	return c.abs(c.Daemon.DBPath)
}

// LogFile returns the absolute log file path, or "" for stderr.
func (c *Config) LogFile() string {
	if c.Logging.File == "" {
		return ""
	}
	return c.abs(c.Logging.File)
}

// SupervisorConfig converts the file form into supervisor.Config.
func (c *Config) SupervisorConfig() *supervisor.Config {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	s := c.Supervisor
	return &supervisor.Config{
		LogCap:           s.LogCap,
		BatchLimit:       s.BatchLimit,
		FlushInterval:    ms(s.FlushIntervalMs),
		PollInterval:     ms(s.PollIntervalMs),
		StopTimeout:      ms(s.StopTimeoutMs),
		ShutdownTimeout:  ms(s.ShutdownTimeoutMs),
		ExitGrace:        ms(s.ExitGraceMs),
		DisconnectGrace:  ms(s.DisconnectGraceMs),
		RestartLogPolicy: supervisor.RestartLogPolicy(s.RestartLogPolicy),
		PrimaryID:        s.PrimaryID,
	}
}

func (c *Config) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir(), p)
}

// BaseDirOf maps <base>/config/gui_config.toml back to <base>.
func BaseDirOf(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	dir := filepath.Dir(abs)
	if filepath.Base(dir) == "config" {
		return filepath.Dir(dir)
	}
	return dir
}
