package graph

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shaban/rthost/buffer"
	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/internal/testutil"
	"github.com/shaban/rthost/processor"
	"github.com/shaban/rthost/track"
)

const testBlockSize = 32

func newTrack(t *testing.T, name string) *track.Track {
	t.Helper()
	tr, err := track.New(name, 2, testBlockSize)
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	return tr
}

type sleeper struct {
	*processor.Base
	d time.Duration
}

func (s *sleeper) ProcessAudio(in, out buffer.Buffer) {
	time.Sleep(s.d)
	processor.BypassProcess(in, out)
}

func TestRoundRobinPlacement(t *testing.T) {
	g := New(3, 4)
	defer g.Close()

	tracks := make([]*track.Track, 6)
	for i := range tracks {
		tracks[i] = newTrack(t, fmt.Sprintf("t%d", i))
		if !g.Add(tracks[i]) {
			t.Fatalf("add %d failed", i)
		}
	}
	for i, tr := range tracks {
		if core := g.Core(tr); core != i%3 {
			t.Fatalf("track %d on core %d, want %d", i, core, i%3)
		}
	}
	if g.Add(tracks[0]) {
		t.Fatalf("duplicate add succeeded")
	}
	if len(g.Tracks()) != 6 {
		t.Fatalf("track count = %d", len(g.Tracks()))
	}
}

func TestAddToCoreBounds(t *testing.T) {
	g := New(2, 1)
	defer g.Close()

	a, b, c := newTrack(t, "a"), newTrack(t, "b"), newTrack(t, "c")
	if g.AddToCore(a, 2) || g.AddToCore(a, -1) {
		t.Fatalf("out of range core accepted")
	}
	if !g.AddToCore(a, 1) {
		t.Fatalf("add to core 1 failed")
	}
	if g.AddToCore(b, 1) {
		t.Fatalf("full bucket accepted a track")
	}
	if !g.Add(b) || g.Core(b) != 0 {
		t.Fatalf("round robin should fall back to the free bucket")
	}
	if g.Add(c) {
		t.Fatalf("full graph accepted a track")
	}
	if !g.Remove(a) || g.Remove(a) {
		t.Fatalf("remove semantics")
	}
	if g.Core(a) != -1 {
		t.Fatalf("removed track still placed")
	}
}

func renderAndCheck(t *testing.T, cores int) {
	g := New(cores, 8)
	defer g.Close()

	var tracks []*track.Track
	for i := 0; i < 8; i++ {
		tr := newTrack(t, fmt.Sprintf("t%d", i))
		tr.Add(testutil.NewScaler("s", float32(i+1)), nil)
		testutil.FillBuffer(tr.Input(), 0.5)
		g.Add(tr)
		tracks = append(tracks, tr)
	}
	for block := 0; block < 50; block++ {
		if err := g.Render(); err != nil {
			t.Fatalf("render: %v", err)
		}
	}
	for i, tr := range tracks {
		testutil.AssertBufferValue(t, tr.Output(), 0.5*float32(i+1), testutil.DefaultTolerance)
	}
}

func TestRenderSingleCore(t *testing.T) { renderAndCheck(t, 1) }
func TestRenderMultiCore(t *testing.T)  { renderAndCheck(t, 4) }

func TestEventsCollectedPerCore(t *testing.T) {
	g := New(2, 4, WithEventQueueSize(8))
	defer g.Close()

	a, b := newTrack(t, "a"), newTrack(t, "b")
	a.Add(testutil.NewNoteSource("na", 60, 0), nil)
	b.Add(testutil.NewNoteSource("nb", 61, 0), nil)
	g.AddToCore(a, 0)
	g.AddToCore(b, 1)

	if err := g.Render(); err != nil {
		t.Fatalf("render: %v", err)
	}
	outs := g.EventOutputs()
	if len(outs) != 2 {
		t.Fatalf("outputs = %d", len(outs))
	}
	for core, want := range []struct {
		track event.ObjectID
		note  int
	}{{a.ID(), 60}, {b.ID(), 61}} {
		ev, ok := outs[core].Pop()
		if !ok || ev.Target() != want.track || ev.Note() != want.note {
			t.Fatalf("core %d emitted %+v (%v)", core, ev, ok)
		}
	}
}

func TestDeadlineMissIsFatal(t *testing.T) {
	g := New(2, 2, WithDeadline(5*time.Millisecond))
	defer g.Close()

	slow := newTrack(t, "slow")
	slow.Add(&sleeper{Base: processor.NewBase("sleep", "sleep", 2, 2), d: 100 * time.Millisecond}, nil)
	g.Add(slow)
	g.Add(newTrack(t, "fast"))

	err := g.Render()
	if !errors.Is(err, ErrDeadlineMissed) {
		t.Fatalf("want ErrDeadlineMissed, got %v", err)
	}
	if again := g.Render(); !errors.Is(again, ErrDeadlineMissed) {
		t.Fatalf("graph did not stay faulted: %v", again)
	}
	if g.Faulted() == nil {
		t.Fatalf("Faulted() = nil")
	}
}

func TestRenderAfterClose(t *testing.T) {
	g := New(2, 2)
	g.Close()
	g.Close()
	if err := g.Render(); err == nil {
		t.Fatalf("render after close succeeded")
	}
}

func BenchmarkRender4Cores(b *testing.B) {
	g := New(4, 16)
	defer g.Close()
	for i := 0; i < 16; i++ {
		tr, _ := track.New("t", 2, 64)
		tr.Add(testutil.NewScaler("s", 1), nil)
		g.Add(tr)
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = g.Render()
	}
}
