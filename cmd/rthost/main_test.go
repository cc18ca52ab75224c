package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/shaban/rthost"
	"github.com/shaban/rthost/notify"
	"github.com/shaban/rthost/transport"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newEngine(t *testing.T) *rthost.Engine {
	t.Helper()
	e, err := rthost.NewEngine(rthost.EngineConfig{Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	if err := e.ApplyConfig(defaultHost()); err != nil {
		t.Fatalf("default host: %v", err)
	}
	return e
}

func TestRunOffline(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.wav")
	err := run(options{frontend: "offline", outPath: out, length: 100 * time.Millisecond}, quietLogger())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	// 4800 stereo 16 bit frames after the header
	if info.Size() != 44+4800*4 {
		t.Errorf("size = %d", info.Size())
	}
}

func TestRunArguments(t *testing.T) {
	tests := []struct {
		name string
		opts options
		want error
	}{
		{"unknown frontend", options{frontend: "jack"}, rthost.ErrInvalidArgument},
		{"offline without length", options{frontend: "offline"}, rthost.ErrInvalidArgument},
		{"missing track", options{frontend: "dummy", midiPath: "x.mid", midiTrack: "drums"}, rthost.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := run(tt.opts, quietLogger()); !errors.Is(err, tt.want) {
				t.Errorf("run() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestErrorHandler(t *testing.T) {
	logger, hook := test.NewNullLogger()
	cfg := rthost.EngineConfig{SampleRate: 48000, BlockSize: 128, Cores: 2}
	fault := fmt.Errorf("%w: worker late", rthost.ErrFaulted)

	errorHandler(options{frontend: "oto"}, cfg, logger).HandleError(fault)
	entry := hook.LastEntry()
	if entry == nil || entry.Data["frontend"] != "oto" || entry.Data["block_size"] != 128 || entry.Data["status"] != "faulted" {
		t.Fatalf("entry = %+v", entry)
	}

	defer func() {
		if recover() == nil {
			t.Error("strict handler did not panic")
		}
	}()
	errorHandler(options{frontend: "oto", strict: true}, cfg, logger).HandleError(fault)
}

func TestMidiTarget(t *testing.T) {
	e := newEngine(t)
	id, err := midiTarget(e, "")
	if err != nil {
		t.Fatal(err)
	}
	tr, _ := e.TrackByName("main")
	if id != tr.ID() {
		t.Errorf("default target = %d, want %d", id, tr.ID())
	}
	if _, err := midiTarget(e, "gain"); err == nil {
		t.Error("a processor is not a track")
	}
}

func TestMonitorKeys(t *testing.T) {
	e := newEngine(t)
	m := newMonitor(e)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'+'}})
	if tempo := e.Position().Tempo; tempo != transport.DefaultTempo+tempoStep {
		t.Errorf("tempo after + = %v", tempo)
	}
	next, _ = next.Update(tea.KeyMsg{Type: tea.KeySpace})
	if mode := e.Position().PlayingMode; mode != transport.Playing {
		t.Errorf("mode after space = %v", mode)
	}
	_, cmd := next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q does not quit")
	}
}

func TestMonitorNotifications(t *testing.T) {
	e := newEngine(t)
	tr, _ := e.TrackByName("main")
	var model tea.Model = newMonitor(e)

	for i := 0; i < logLines+2; i++ {
		model, _ = model.Update(noteMsg{notify.TrackNotification{Action: notify.Added, Track: tr.ID()}})
	}
	model, _ = model.Update(noteMsg{notify.ClipNotification{Channel: 1}})
	model, _ = model.Update(noteMsg{notify.CpuTimingNotification{Timings: nil}})

	m := model.(monitor)
	if len(m.log) != logLines {
		t.Errorf("log lines = %d", len(m.log))
	}
	if m.log[0] != "track main added" {
		t.Errorf("line = %q", m.log[0])
	}
	if m.clips != 1 {
		t.Errorf("clips = %d", m.clips)
	}
	view := m.View()
	for _, want := range []string{"bpm", "track main added", "1 clip(s)"} {
		if !strings.Contains(view, want) {
			t.Errorf("view misses %q", want)
		}
	}
}
