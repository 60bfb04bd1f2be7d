package debug

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func captureOutput(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevLevel := level
	SetOutput(&buf)
	SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	Init(lvl)
	t.Cleanup(func() {
		Init(prevLevel)
		logger = newLogger()
	})
	return &buf
}

func TestInfo_SuppressedWhenOff(t *testing.T) {
	buf := captureOutput(t, LevelOff)
	Info("hidden %d", 1)
	Error(errors.New("hidden"))
	if buf.Len() != 0 {
		t.Errorf("expected no output at level 0, got %q", buf.String())
	}
}

func TestInfo_PrintedAtLevelInfo(t *testing.T) {
	buf := captureOutput(t, LevelInfo)
	Info("calibrated to %d", 4096)
	if !strings.Contains(buf.String(), "calibrated to 4096") {
		t.Errorf("output = %q, want message", buf.String())
	}
	if !strings.Contains(buf.String(), "level=info") {
		t.Errorf("output = %q, want level=info", buf.String())
	}
}

func TestLevels_Gating(t *testing.T) {
	cases := []struct {
		name   string
		lvl    int
		log    func()
		expect bool
	}{
		{"live_at_info", LevelInfo, func() { Live("x") }, false},
		{"live_at_live", LevelLive, func() { Live("x") }, true},
		{"verbose_at_live", LevelLive, func() { Verbose("x") }, false},
		{"verbose_at_verbose", LevelVerbose, func() { Verbose("x") }, true},
		{"gpio_at_verbose", LevelVerbose, func() { GPIO("WritePin", 2, true) }, false},
		{"gpio_at_trace", LevelTrace, func() { GPIO("WritePin", 2, true) }, true},
		{"edge_at_live", LevelLive, func() { Edge(1, 10) }, true},
		{"move_at_info", LevelInfo, func() { Move(10, 4096) }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureOutput(t, tc.lvl)
			tc.log()
			if got := buf.Len() > 0; got != tc.expect {
				t.Errorf("output present = %v, want %v (%q)", got, tc.expect, buf.String())
			}
		})
	}
}

type countingHook struct{ n int }

func (h *countingHook) Levels() []logrus.Level { return logrus.AllLevels }
func (h *countingHook) Fire(*logrus.Entry) error {
	h.n++
	return nil
}

func TestAddHook_ReceivesEntries(t *testing.T) {
	captureOutput(t, LevelInfo)
	h := &countingHook{}
	AddHook(h)
	Info("one")
	Info("two")
	if h.n != 2 {
		t.Errorf("hook fired %d times, want 2", h.n)
	}
}

func TestFmt(t *testing.T) {
	captureOutput(t, LevelOff)
	if got := Fmt("%d", 1); got != "" {
		t.Errorf("Fmt at level 0 = %q, want empty", got)
	}
	Init(LevelInfo)
	if got := Fmt("%d", 1); got != "1" {
		t.Errorf("Fmt at level 1 = %q, want \"1\"", got)
	}
}
