package supervisor

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/connectors/localexec"
	"github.com/MaiM-with-u/MaiLuncher/internal/models"
)

// TestHelperProcess is not a real test. The tests below re-execute the
// test binary to get a real child process.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	switch args[1] {
	case "lines":
		n, _ := strconv.Atoi(args[2])
		for i := 1; i <= n; i++ {
			fmt.Printf("line %d\n", i)
		}
	case "sleep":
		fmt.Println("ready")
		time.Sleep(time.Minute)
	}
	os.Exit(0)
}

func helperResolver(args ...string) Resolver {
	return ResolverFunc(func(string) (models.CommandSpec, error) {
		return models.CommandSpec{
			Path:     os.Args[0],
			Args:     append([]string{"-test.run=TestHelperProcess", "--"}, args...),
			Env:      map[string]string{"GO_WANT_HELPER_PROCESS": "1"},
			Encoding: "utf-8",
		}, nil
	})
}

func newExecSupervisor(t *testing.T, cfg *Config) (*Supervisor, *localexec.LocalExec) {
	t.Helper()
	if testing.Short() {
		t.Skip("spawns real processes")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.FlushInterval = 50 * time.Millisecond
	cfg.PollInterval = 20 * time.Millisecond
	exec := localexec.New("")
	sup := New(exec, cfg)
	t.Cleanup(sup.ShutdownAll)
	return sup, exec
}

func TestExec_OutputThenCleanExit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogCap = 800
	sup, _ := newExecSupervisor(t, cfg)

	if _, err := sup.Start("adapterA", "adapter.py", "Adapter A", helperResolver("lines", "1500")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	info := waitStatus(t, sup, "adapterA", models.ProcessStatusStopped)
	if info.EndReason != models.EndReasonExited {
		t.Errorf("Expected exited, got %q", info.EndReason)
	}
	if !info.HasRunBefore {
		t.Error("Expected has_run_before")
	}

	entries := mustLogs(t, sup, "adapterA")
	if len(entries) != 800 {
		t.Fatalf("Expected exactly 800 entries, got %d", len(entries))
	}
	if got := entries[len(entries)-1].Raw; got != "--- Process 'adapterA' finished (exit code 0) ---" {
		t.Errorf("Expected finished marker last, got %q", got)
	}
	if got := entries[len(entries)-2].Raw; got != "line 1500" {
		t.Errorf("Expected last output line 1500, got %q", got)
	}
	// Lines stay in order with none missing.
	for i := 0; i < len(entries)-1; i++ {
		want := fmt.Sprintf("line %d", 1500-(len(entries)-2-i))
		if entries[i].Raw != want {
			t.Fatalf("entry %d = %q, want %q", i, entries[i].Raw, want)
		}
	}
}

func TestExec_StartDuplicateStop(t *testing.T) {
	sup, exec := newExecSupervisor(t, nil)

	if _, err := sup.Start("adapterA", "adapter.py", "Adapter A", helperResolver("sleep")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	info, _ := sup.Get("adapterA")
	if info.Status != models.ProcessStatusRunning || info.PID == 0 {
		t.Fatalf("Expected running with pid, got %+v", info)
	}
	pid := info.PID

	if _, err := sup.Start("adapterA", "adapter.py", "Adapter A", helperResolver("sleep")); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	waitFor(t, 5*time.Second, "ready line", func() bool {
		entries, _ := sup.Logs("adapterA", 0, 0)
		for _, e := range entries {
			if e.Raw == "ready" {
				return true
			}
		}
		return false
	})

	start := time.Now()
	if _, err := sup.Stop("adapterA"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop took %v", elapsed)
	}
	info, _ = sup.Get("adapterA")
	if info.Status != models.ProcessStatusStopped || info.PID != 0 {
		t.Errorf("Expected stopped without pid, got %+v", info)
	}
	if exec.PIDExists(pid) {
		t.Errorf("pid %d still exists after stop", pid)
	}
}

func TestExec_OutOfBandKillIsUnexpected(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("a forced kill on windows looks like a normal exit")
	}
	sup, exec := newExecSupervisor(t, nil)

	if _, err := sup.Start("main", "bot.py", "MaiBot", helperResolver("sleep")); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	info, _ := sup.Get("main")
	if err := exec.KillPID(info.PID); err != nil {
		t.Fatalf("KillPID failed: %v", err)
	}

	info = waitStatus(t, sup, "main", models.ProcessStatusStopped)
	if info.EndReason != models.EndReasonUnexpected {
		t.Errorf("Expected unexpected end, got %q", info.EndReason)
	}
	entries := mustLogs(t, sup, "main")
	if last := entries[len(entries)-1].Raw; !strings.Contains(last, "ended unexpectedly") {
		t.Errorf("Expected unexpected marker, got %q", last)
	}
}

func TestExec_MissingInterpreter(t *testing.T) {
	sup, _ := newExecSupervisor(t, nil)

	resolver := ResolverFunc(func(string) (models.CommandSpec, error) {
		return models.CommandSpec{Path: "/definitely/not/python"}, nil
	})
	if _, err := sup.Start("main", "bot.py", "MaiBot", resolver); !errors.Is(err, ErrSpawn) {
		t.Fatalf("Expected ErrSpawn, got %v", err)
	}
	info, _ := sup.Get("main")
	if info.Status != models.ProcessStatusError || info.PID != 0 {
		t.Errorf("Expected error without pid, got %+v", info)
	}
}
