// Package interp provides detection of Python interpreters usable for the bot.
package interp

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/connectors"
	"go.uber.org/zap"
)

// Source says where an interpreter was found.
type Source string

const (
	SourceBundled Source = "bundled"
	SourceVenv    Source = "venv"
	SourcePath    Source = "path"
)

// Interpreter is a detected Python installation.
type Interpreter struct {
	Path    string `json:"path"`
	Source  Source `json:"source"`
	Version string `json:"version,omitempty"`
	OK      bool   `json:"ok"` // answered --version with a Python banner
}

// Detector scans for Python interpreters
type Detector struct {
	conn     connectors.Connector
	timeout  time.Duration
	log      *zap.Logger
	lookPath func(string) (string, error)
	goos     string
}

// NewDetector creates a new interpreter detector. Version probes run
// through conn and are cut off after timeout.
func NewDetector(conn connectors.Connector, timeout time.Duration, log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Detector{
		conn:     conn,
		timeout:  timeout,
		log:      log,
		lookPath: exec.LookPath,
		goos:     runtime.GOOS,
	}
}

// Scan detects interpreters in preference order: the runtime bundled next
// to the launcher in exeDir, virtual environments under botDir, then PATH.
func (d *Detector) Scan(ctx context.Context, exeDir, botDir string) []Interpreter {
	var found []Interpreter
	seen := make(map[string]bool)

	add := func(path string, src Source) {
		path = filepath.Clean(path)
		if seen[path] {
			return
		}
		seen[path] = true
		found = append(found, d.probe(ctx, path, src))
	}

	if exeDir != "" {
		for _, p := range d.bundledCandidates(exeDir) {
			if fileExists(p) {
				add(p, SourceBundled)
			}
		}
	}

	if botDir != "" {
		for _, venv := range []string{".venv", "venv", "env"} {
			for _, p := range d.venvCandidates(filepath.Join(botDir, venv)) {
				if fileExists(p) {
					add(p, SourceVenv)
					break
				}
			}
		}
	}

	for _, name := range []string{"python3", "python", "py"} {
		if path, err := d.lookPath(name); err == nil {
			add(path, SourcePath)
		}
	}

	return found
}

// Best returns the first interpreter that answered the version probe.
func Best(found []Interpreter) (Interpreter, bool) {
	for _, in := range found {
		if in.OK {
			return in, true
		}
	}
	return Interpreter{}, false
}

func (d *Detector) bundledCandidates(exeDir string) []string {
	internal := filepath.Join(exeDir, "_internal")
	if d.goos == "windows" {
		return []string{filepath.Join(internal, "python.exe")}
	}
	return []string{
		filepath.Join(internal, "python"),
		filepath.Join(internal, "bin", "python3"),
	}
}

func (d *Detector) venvCandidates(venv string) []string {
	if d.goos == "windows" {
		return []string{filepath.Join(venv, "Scripts", "python.exe")}
	}
	return []string{
		filepath.Join(venv, "bin", "python3"),
		filepath.Join(venv, "bin", "python"),
	}
}

func (d *Detector) probe(ctx context.Context, path string, src Source) Interpreter {
	in := Interpreter{Path: path, Source: src}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := d.conn.Execute(ctx, path, []string{"--version"})
	if err != nil {
		d.log.Debug("interpreter probe failed", zap.String("path", path), zap.Error(err))
		return in
	}
	if res.ExitCode != 0 {
		d.log.Debug("interpreter probe failed", zap.String("path", path), zap.Int("exit_code", res.ExitCode))
		return in
	}

	// Python 2 prints its banner to stderr.
	version := firstLine(res.Stdout)
	if version == "" {
		version = firstLine(res.Stderr)
	}
	if strings.HasPrefix(version, "Python ") {
		in.Version = strings.TrimPrefix(version, "Python ")
		in.OK = true
	}
	return in
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	// Take first line only
	if idx := strings.Index(s, "\n"); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}
	// Limit length
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
