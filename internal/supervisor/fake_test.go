package supervisor

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/connectors"
	"github.com/MaiM-with-u/MaiLuncher/internal/models"
)

// fakeSpawner hands out in-memory processes backed by io.Pipe.
type fakeSpawner struct {
	mu         sync.Mutex
	nextPID    int
	procs      map[int]*fakeProc
	spawned    []*fakeProc
	spawnErr   error
	ignoreTerm bool
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{nextPID: 1000, procs: make(map[int]*fakeProc)}
}

func (f *fakeSpawner) Name() string { return "fake" }

func (f *fakeSpawner) Spawn(spec models.CommandSpec) (connectors.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	f.nextPID++
	pr, pw := io.Pipe()
	p := &fakeProc{
		pid:        f.nextPID,
		spec:       spec,
		pr:         pr,
		pw:         pw,
		alive:      true,
		done:       make(chan struct{}),
		ignoreTerm: f.ignoreTerm,
	}
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

func (f *fakeSpawner) TerminatePID(pid int) error {
	return f.KillPID(pid)
}

func (f *fakeSpawner) KillPID(pid int) error {
	f.mu.Lock()
	p := f.procs[pid]
	f.mu.Unlock()
	if p != nil {
		p.exitWith(connectors.ExitState{Code: -1, Signaled: true}, true)
	}
	return nil
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawned)
}

func (f *fakeSpawner) last(t *testing.T) *fakeProc {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.spawned) == 0 {
		t.Fatal("nothing spawned")
	}
	return f.spawned[len(f.spawned)-1]
}

// fakeProc implements connectors.Handle.
type fakeProc struct {
	pid  int
	spec models.CommandSpec
	pr   *io.PipeReader
	pw   *io.PipeWriter

	mu         sync.Mutex
	alive      bool
	state      connectors.ExitState
	done       chan struct{}
	ignoreTerm bool
	terminated int
	killed     int
}

func (p *fakeProc) PID() int          { return p.pid }
func (p *fakeProc) Output() io.Reader { return p.pr }
func (p *fakeProc) Close() error      { return p.pr.Close() }

func (p *fakeProc) Terminate() error {
	p.mu.Lock()
	p.terminated++
	ignore := p.ignoreTerm
	p.mu.Unlock()
	if !ignore {
		p.exitWith(connectors.ExitState{Code: -1, Signaled: true}, true)
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	p.killed++
	p.mu.Unlock()
	p.exitWith(connectors.ExitState{Code: -1, Signaled: true}, true)
	return nil
}

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
	if p.alive {
		return connectors.ExitState{}, false
	}
	return p.state, true
}

func (p *fakeProc) isAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *fakeProc) counts() (terminated, killed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated, p.killed
}

// write emits lines on the process's output stream.
func (p *fakeProc) write(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if _, err := fmt.Fprintln(p.pw, l); err != nil {
			t.Fatalf("write %q: %v", l, err)
		}
	}
}

// exit ends the process normally and closes its output.
func (p *fakeProc) exit(code int) {
	p.exitWith(connectors.ExitState{Code: code}, true)
}

// crash makes the pid disappear while the output stream stays open, as
// when a grandchild inherited it.
func (p *fakeProc) crash() {
	p.exitWith(connectors.ExitState{Code: -1, Signaled: true}, false)
}

func (p *fakeProc) exitWith(st connectors.ExitState, closeOutput bool) {
	p.mu.Lock()
	if !p.alive {
		p.mu.Unlock()
		return
	}
	p.alive = false
	p.state = st
	close(p.done)
	p.mu.Unlock()
	if closeOutput {
		p.pw.Close()
	}
}

// recordingSink captures every notification.
type recordingSink struct {
	mu      sync.Mutex
	hidden  bool
	batches map[string][][]models.LogEntry
	events  []models.StatusEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{batches: make(map[string][][]models.LogEntry)}
}

func (s *recordingSink) OnLogBatch(id string, entries []models.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[id] = append(s.batches[id], entries)
}

func (s *recordingSink) OnStatusChange(ev models.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) Visible(string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.hidden
}

func (s *recordingSink) lines(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, b := range s.batches[id] {
		for _, e := range b {
			out = append(out, e.Raw)
		}
	}
	return out
}

func (s *recordingSink) statuses(id string) []models.StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StatusEvent
	for _, ev := range s.events {
		if ev.ProcessID == id {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	cfg.StopTimeout = 200 * time.Millisecond
	cfg.ShutdownTimeout = 200 * time.Millisecond
	cfg.ExitGrace = 50 * time.Millisecond
	return cfg
}

func pythonResolver() Resolver {
	return ResolverFunc(func(script string) (models.CommandSpec, error) {
		return models.CommandSpec{Path: "/usr/bin/python3", Args: []string{"-u", script}, Encoding: "utf-8"}, nil
	})
}

var errNoInterpreter = errors.New("python interpreter is not configured")

func brokenResolver() Resolver {
	return ResolverFunc(func(string) (models.CommandSpec, error) {
		return models.CommandSpec{}, errNoInterpreter
	})
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitStatus(t *testing.T, sup *Supervisor, id string, want models.ProcessStatus) models.ProcessInfo {
	t.Helper()
	var info models.ProcessInfo
	waitFor(t, 5*time.Second, fmt.Sprintf("%s to be %s", id, want), func() bool {
		var err error
		info, err = sup.Get(id)
		return err == nil && info.Status == want
	})
	return info
}

func mustLogs(t *testing.T, sup *Supervisor, id string) []models.LogEntry {
	t.Helper()
	entries, err := sup.Logs(id, 0, 0)
	if err != nil {
		t.Fatalf("Logs(%s) failed: %v", id, err)
	}
	return entries
}
