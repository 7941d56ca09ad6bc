package supervisor

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func drainAll(q *lineQueue) []queueItem {
	return q.drain(q.len())
}

func TestReadOutput_SplitsAndTrims(t *testing.T) {
	q := newLineQueue()
	readOutput(strings.NewReader("first\r\nsecond  \t\n\nlast"), "utf-8", q, newStopSignal(), zap.NewNop())

	items := drainAll(q)
	want := []string{"first", "second", "", "last"}
	if len(items) != len(want)+1 {
		t.Fatalf("Expected %d items, got %d: %+v", len(want)+1, len(items), items)
	}
	for i, w := range want {
		if items[i].eof || items[i].line != w {
			t.Errorf("item %d = %+v, want %q", i, items[i], w)
		}
	}
	if !items[len(items)-1].eof {
		t.Error("Expected sentinel as the last item")
	}
}

func TestReadOutput_ReplacesInvalidBytes(t *testing.T) {
	q := newLineQueue()
	readOutput(strings.NewReader("ok \xff\xfe done\n"), "utf-8", q, newStopSignal(), zap.NewNop())

	items := drainAll(q)
	if len(items) != 2 {
		t.Fatalf("Expected line and sentinel, got %+v", items)
	}
	if !strings.Contains(items[0].line, "�") || !strings.HasSuffix(items[0].line, "done") {
		t.Errorf("Expected replacement characters, got %q", items[0].line)
	}
}

func TestReadOutput_DecodesGBK(t *testing.T) {
	encoded, err := simplifiedchinese.GBK.NewEncoder().String("麦麦启动\n")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	q := newLineQueue()
	readOutput(strings.NewReader(encoded), "gbk", q, newStopSignal(), zap.NewNop())

	items := drainAll(q)
	if len(items) != 2 || items[0].line != "麦麦启动" {
		t.Errorf("Expected decoded line, got %+v", items)
	}
}

func TestReadOutput_UnknownEncodingFallsBack(t *testing.T) {
	q := newLineQueue()
	readOutput(strings.NewReader("plain\n"), "no-such-encoding", q, newStopSignal(), zap.NewNop())

	items := drainAll(q)
	if len(items) != 2 || items[0].line != "plain" {
		t.Errorf("Expected utf-8 fallback, got %+v", items)
	}
}

func TestReadOutput_StopSuppressesSentinel(t *testing.T) {
	stop := newStopSignal()
	stop.Set()

	q := newLineQueue()
	readOutput(strings.NewReader("never read\n"), "", q, stop, zap.NewNop())

	if n := q.len(); n != 0 {
		t.Errorf("Expected nothing queued after stop, got %d items", n)
	}
}

func TestLookupEncoding(t *testing.T) {
	for _, name := range []string{"", "utf-8", "UTF8", "gbk", "gb18030", "shift_jis"} {
		if _, err := LookupEncoding(name); err != nil {
			t.Errorf("LookupEncoding(%q) failed: %v", name, err)
		}
	}
	if _, err := LookupEncoding("klingon"); err == nil {
		t.Error("Expected error for unknown encoding")
	}
}

func TestLineQueue_DrainRespectsLimitAndOrder(t *testing.T) {
	q := newLineQueue()
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		q.push(queueItem{line: l})
	}
	q.push(queueItem{eof: true})

	first := q.drain(2)
	if len(first) != 2 || first[0].line != "a" || first[1].line != "b" {
		t.Errorf("first drain = %+v", first)
	}
	rest := q.drain(10)
	if len(rest) != 4 || rest[0].line != "c" || !rest[3].eof {
		t.Errorf("second drain = %+v", rest)
	}
	if got := q.drain(10); got != nil {
		t.Errorf("Expected empty drain, got %+v", got)
	}
}

func TestStopSignal(t *testing.T) {
	s := newStopSignal()
	if s.IsSet() {
		t.Fatal("new signal is set")
	}
	s.Set()
	s.Set()
	if !s.IsSet() {
		t.Fatal("signal not set after Set")
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after Set")
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero cap", func(c *Config) { c.LogCap = 0 }},
		{"zero batch", func(c *Config) { c.BatchLimit = 0 }},
		{"zero flush", func(c *Config) { c.FlushInterval = 0 }},
		{"zero poll", func(c *Config) { c.PollInterval = 0 }},
		{"zero stop timeout", func(c *Config) { c.StopTimeout = 0 }},
		{"negative grace", func(c *Config) { c.ExitGrace = -1 }},
		{"bad policy", func(c *Config) { c.RestartLogPolicy = "keep" }},
		{"no primary", func(c *Config) { c.PrimaryID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
