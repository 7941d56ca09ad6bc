package controlplane

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/config"
	"github.com/MaiM-with-u/MaiLuncher/internal/connectors"
	"github.com/MaiM-with-u/MaiLuncher/internal/models"
)

// fakeSpawner hands out in-memory processes backed by io.Pipe.
type fakeSpawner struct {
	mu      sync.Mutex
	nextPID int
	procs   map[int]*fakeProc
	spawned []*fakeProc
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{nextPID: 2000, procs: make(map[int]*fakeProc)}
}

func (f *fakeSpawner) Name() string { return "fake" }

func (f *fakeSpawner) Spawn(spec models.CommandSpec) (connectors.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPID++
	pr, pw := io.Pipe()
	p := &fakeProc{pid: f.nextPID, pr: pr, pw: pw, alive: true, done: make(chan struct{})}
	f.procs[p.pid] = p
	f.spawned = append(f.spawned, p)
	return p, nil
}

func (f *fakeSpawner) PIDExists(pid int) bool {
	f.mu.Lock()
	p := f.procs[pid]
	f.mu.Unlock()
	return p != nil && p.isAlive()
}

func (f *fakeSpawner) TerminatePID(pid int) error { return f.KillPID(pid) }

func (f *fakeSpawner) KillPID(pid int) error {
	f.mu.Lock()
	p := f.procs[pid]
	f.mu.Unlock()
	if p != nil {
		p.exit(connectors.ExitState{Code: -1, Signaled: true})
	}
	return nil
}

func (f *fakeSpawner) last() *fakeProc {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.spawned) == 0 {
		return nil
	}
	return f.spawned[len(f.spawned)-1]
}

// fakeProc implements connectors.Handle.
type fakeProc struct {
	pid int
	pr  *io.PipeReader
	pw  *io.PipeWriter

	mu    sync.Mutex
	alive bool
	state connectors.ExitState
	done  chan struct{}
}

func (p *fakeProc) PID() int          { return p.pid }
func (p *fakeProc) Output() io.Reader { return p.pr }
func (p *fakeProc) Close() error      { return p.pr.Close() }

func (p *fakeProc) Terminate() error {
	p.exit(connectors.ExitState{Code: -1, Signaled: true})
	return nil
}

func (p *fakeProc) Kill() error { return p.Terminate() }

func (p *fakeProc) Wait(timeout time.Duration) bool {
	select {
	case <-p.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *fakeProc) ExitState() (connectors.ExitState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, !p.alive
}

func (p *fakeProc) isAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *fakeProc) write(lines ...string) {
	for _, l := range lines {
		fmt.Fprintln(p.pw, l)
	}
}

func (p *fakeProc) exit(st connectors.ExitState) {
	p.mu.Lock()
	if !p.alive {
		p.mu.Unlock()
		return
	}
	p.alive = false
	p.state = st
	close(p.done)
	p.mu.Unlock()
	p.pw.Close()
}

var errNoInterpreter = errors.New("no python interpreter configured")

// fakeCatalog serves a fixed set of targets. Scripts named "broken.py"
// fail to resolve.
type fakeCatalog struct {
	targets []config.Target
}

func (c *fakeCatalog) Resolve(script string) (models.CommandSpec, error) {
	if script == "broken.py" {
		return models.CommandSpec{}, errNoInterpreter
	}
	return models.CommandSpec{Path: "/usr/bin/python3", Args: []string{"-u", script}, Dir: "/srv/bot"}, nil
}

func (c *fakeCatalog) Target(id string) (config.Target, error) {
	for _, t := range c.targets {
		if t.ID == id {
			return t, nil
		}
	}
	return config.Target{}, fmt.Errorf("%q: %w", id, config.ErrUnknownTarget)
}

func (c *fakeCatalog) Targets() []config.Target {
	return c.targets
}
