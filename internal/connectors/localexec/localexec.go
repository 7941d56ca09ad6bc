// Package localexec runs commands on the local machine.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/connectors"
	"github.com/MaiM-with-u/MaiLuncher/internal/models"
)

// LocalExec implements connectors.Connector and connectors.Spawner using os/exec.
type LocalExec struct {
	workDir string
}

// New creates a new LocalExec connector. workDir is used when a command
// does not name its own directory.
func New(workDir string) *LocalExec {
	return &LocalExec{workDir: workDir}
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// Execute runs a command to completion and captures its output.
func (l *LocalExec) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	execCmd := exec.CommandContext(ctx, cmd, args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}
	configureSysProc(execCmd)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()

	exitCode := 0
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
		} else {
			return nil, fmt.Errorf("exec error: %w", err)
		}
	}

	return &connectors.ExecResult{
		Command:  cmd,
		Args:     args,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Spawn starts spec in the background. Stdout and stderr share a single
// pipe so the reader sees lines in the order the child wrote them.
func (l *LocalExec) Spawn(spec models.CommandSpec) (connectors.Handle, error) {
	if spec.Path == "" {
		return nil, errors.New("spawn: empty executable path")
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if cmd.Dir == "" {
		cmd.Dir = l.workDir
	}
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.Stdout = pw
	cmd.Stderr = pw
	configureSysProc(cmd)

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}
	// The child holds its own copy of the write end; ours must go so the
	// reader sees EOF when the child exits.
	pw.Close()

	h := &processHandle{
		cmd:  cmd,
		out:  pr,
		done: make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

// PIDExists reports whether pid refers to a live process.
func (l *LocalExec) PIDExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	return pidExists(pid)
}

// TerminatePID asks the process to exit. A process that is already gone
// is not an error.
func (l *LocalExec) TerminatePID(pid int) error {
	if pid <= 0 {
		return nil
	}
	return terminatePID(pid)
}

// KillPID forcefully ends the process.
func (l *LocalExec) KillPID(pid int) error {
	if pid <= 0 {
		return nil
	}
	return killPID(pid)
}

// mergeEnv overlays overrides on base, replacing existing keys.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key := kv
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' && i > 0 {
				key = kv[:i]
				break
			}
		}
		if _, ok := overrides[key]; ok {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

// processHandle owns one started exec.Cmd.
type processHandle struct {
	cmd *exec.Cmd
	out *os.File

	done      chan struct{}
	mu        sync.Mutex
	state     connectors.ExitState
	closeOnce sync.Once
}

func (h *processHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *processHandle) Output() io.Reader {
	return h.out
}

func (h *processHandle) Terminate() error {
	return ignoreDone(terminateProcess(h.cmd.Process))
}

func (h *processHandle) Kill() error {
	return ignoreDone(h.cmd.Process.Kill())
}

func (h *processHandle) Wait(timeout time.Duration) bool {
	select {
	case <-h.done:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}

func (h *processHandle) ExitState() (connectors.ExitState, bool) {
	select {
	case <-h.done:
	default:
		return connectors.ExitState{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, true
}

func (h *processHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.out.Close()
	})
	return err
}

// reap waits for the child so its pid is released as soon as it exits.
func (h *processHandle) reap() {
	_ = h.cmd.Wait()

	st := connectors.ExitState{Code: -1}
	if ps := h.cmd.ProcessState; ps != nil {
		st.Code = ps.ExitCode()
		st.Signaled = signaled(ps)
	}

	h.mu.Lock()
	h.state = st
	h.mu.Unlock()
	close(h.done)
}

func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
