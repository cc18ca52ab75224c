package plugins

import (
	"errors"
	"math"
	"testing"

	"github.com/shaban/rthost/buffer"
	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/internal/testutil"
)

type fakeClock struct {
	start         float64
	beatsPerFrame float64
	playing       bool
}

func (c *fakeClock) CurrentBeats(offset int) float64 {
	return c.start + float64(offset)*c.beatsPerFrame
}

func (c *fakeClock) Playing() bool { return c.playing }

func drain(f *event.Fifo) []event.Event {
	var out []event.Event
	for {
		ev, ok := f.Pop()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func TestList(t *testing.T) {
	infos := List()
	want := []string{"arpeggiator", "gain", "mono_summing", "passthrough", "peak_meter", "sample_delay", "transposer"}
	if len(infos) != len(want) {
		t.Fatalf("List() = %d plugins, want %d", len(infos), len(want))
	}
	for i, uid := range want {
		if infos[i].UID != uid {
			t.Errorf("List()[%d] = %s, want %s", i, infos[i].UID, uid)
		}
	}
	if n := len(infos.ByCategory(CategoryMidi)); n != 2 {
		t.Errorf("MIDI plugins = %d", n)
	}
	if n := len(infos.ByName("GAIN")); n != 1 {
		t.Errorf("ByName(GAIN) = %d", n)
	}
}

func TestNew(t *testing.T) {
	p, err := New("gain", "", nil)
	if err != nil {
		t.Fatalf("New(gain): %v", err)
	}
	if p.Name() != "gain" || p.Label() != "Gain" {
		t.Fatalf("name/label = %s/%s", p.Name(), p.Label())
	}
	if _, err := New("reverb", "r", nil); !errors.Is(err, ErrUnknownPlugin) {
		t.Fatalf("unknown uid error = %v", err)
	}
}

func TestIntrospect(t *testing.T) {
	info, ok := Lookup("arpeggiator")
	if !ok {
		t.Fatalf("arpeggiator not registered")
	}
	p, err := info.Introspect()
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if len(p.Parameters) != 2 || p.Parameters[0].Name != "division" || p.Parameters[0].Type != "int" {
		t.Fatalf("parameters = %+v", p.Parameters)
	}
	all, err := List().Introspect()
	if err != nil || len(all) != len(List()) {
		t.Fatalf("batch introspect = %d, %v", len(all), err)
	}
}

func TestGain(t *testing.T) {
	g := NewGain("g")
	g.gain.SetDomain(-20)
	if err := g.Init(48000); err != nil {
		t.Fatal(err)
	}
	in := buffer.New(2, 64)
	out := buffer.New(2, 64)
	testutil.FillBuffer(in, 1)
	g.ProcessAudio(in, out)
	testutil.AssertBufferValue(t, out, 0.1, 1e-4)
}

func TestGainSmoothing(t *testing.T) {
	g := NewGain("g")
	if err := g.Init(48000); err != nil {
		t.Fatal(err)
	}
	in := buffer.New(1, 64)
	out := buffer.New(1, 64)
	testutil.FillBuffer(in, 1)

	g.gain.SetDomain(-120)
	g.ProcessAudio(in, out)
	first, last := out.Channel(0)[0], out.Channel(0)[63]
	if !(first < 1 && last < first && last > 0.5) {
		t.Fatalf("first block ramp %v..%v", first, last)
	}
	for i := 0; i < 750; i++ {
		g.ProcessAudio(in, out)
	}
	testutil.AssertBufferValue(t, out, 0, 1e-5)
}

func TestGainBypassCrossfade(t *testing.T) {
	g := NewGain("g")
	g.gain.SetDomain(-120)
	if err := g.Init(48000); err != nil {
		t.Fatal(err)
	}
	in := buffer.New(2, 64)
	out := buffer.New(2, 64)
	testutil.FillBuffer(in, 1)

	g.ProcessAudio(in, out)
	testutil.AssertBufferValue(t, out, 0, 1e-5)

	g.SetBypassed(true)
	g.ProcessAudio(in, out)
	if v := out.Channel(0)[0]; v > 0.05 {
		t.Fatalf("crossfade starts at %v", v)
	}
	if v := out.Channel(0)[63]; v < 0.9 {
		t.Fatalf("crossfade ends at %v", v)
	}
	g.ProcessAudio(in, out)
	testutil.AssertBufferValue(t, out, 1, 0)
}

func TestMonoSumming(t *testing.T) {
	m := NewMonoSumming("sum")
	in := buffer.New(2, 8)
	out := buffer.New(3, 8)
	copy(in.Channel(0), []float32{1, 1, 1, 1, 1, 1, 1, 1})
	copy(in.Channel(1), []float32{2, 2, 2, 2, 2, 2, 2, 2})
	m.ProcessAudio(in, out)
	testutil.AssertBufferValue(t, out, 3, 0)
}

func TestSampleDelay(t *testing.T) {
	d := NewSampleDelay("d")
	d.delay.SetDomain(10)
	if err := d.Init(48000); err != nil {
		t.Fatal(err)
	}
	in := buffer.New(1, 8)
	out := buffer.New(1, 8)

	in.Channel(0)[0] = 1
	d.ProcessAudio(in, out)
	testutil.AssertBufferValue(t, out, 0, 0)

	in.Clear()
	d.ProcessAudio(in, out)
	for i, s := range out.Channel(0) {
		want := float32(0)
		if i == 2 {
			want = 1
		}
		if s != want {
			t.Fatalf("frame %d = %v, want %v", i, s, want)
		}
	}
}

func TestSampleDelayZeroIsTransparent(t *testing.T) {
	d := NewSampleDelay("d")
	if err := d.Init(48000); err != nil {
		t.Fatal(err)
	}
	in := buffer.New(2, 32)
	out := buffer.New(2, 32)
	testutil.RampBuffer(in)
	d.ProcessAudio(in, out)
	testutil.AssertBuffersEqual(t, in, out, 0)
}

func TestTransposer(t *testing.T) {
	tr := NewTransposer("t")
	sink := event.NewFifo(16)
	tr.SetEventOutput(sink)

	tr.transpose.SetDomain(12)
	tr.ProcessEvent(event.NoteOn(1, 5, 0, 60, 1))
	tr.ProcessEvent(event.NoteOn(1, 5, 0, 120, 1))
	tr.transpose.SetDomain(0)
	tr.ProcessEvent(event.NoteOff(1, 6, 0, 60, 0))
	tr.ProcessEvent(event.PitchBend(1, 7, 0, 0.5))

	got := drain(sink)
	if len(got) != 3 {
		t.Fatalf("events = %d, want 3", len(got))
	}
	if got[0].Kind() != event.KindNoteOn || got[0].Note() != 72 || got[0].Offset() != 5 {
		t.Fatalf("note on = %v %d", got[0].Kind(), got[0].Note())
	}
	if got[1].Kind() != event.KindNoteOff || got[1].Note() != 72 {
		t.Fatalf("note off = %v %d, want release of 72", got[1].Kind(), got[1].Note())
	}
	if got[2].Kind() != event.KindPitchBend {
		t.Fatalf("pitch bend not forwarded")
	}
}

func TestArpeggiator(t *testing.T) {
	clock := &fakeClock{beatsPerFrame: 0.5 / 64, playing: true}
	a := NewArpeggiator("arp", clock)
	sink := event.NewFifo(32)
	a.SetEventOutput(sink)
	if err := a.Init(48000); err != nil {
		t.Fatal(err)
	}
	in := buffer.New(2, 64)
	out := buffer.New(2, 64)

	for _, n := range []int{67, 60, 64} {
		a.ProcessEvent(event.NoteOn(a.ID(), 0, 2, n, 0.8))
	}
	if len(drain(sink)) != 0 || a.Held() != 3 {
		t.Fatalf("held notes leaked through")
	}

	type note struct {
		kind   event.Kind
		note   int
		offset int
	}
	check := func(want []note) {
		t.Helper()
		got := drain(sink)
		if len(got) != len(want) {
			t.Fatalf("events = %d, want %d", len(got), len(want))
		}
		for i, w := range want {
			if got[i].Kind() != w.kind || got[i].Note() != w.note || got[i].Offset() != w.offset {
				t.Fatalf("event %d = %v %d@%d, want %v %d@%d", i, got[i].Kind(), got[i].Note(), got[i].Offset(), w.kind, w.note, w.offset)
			}
			if got[i].Channel() != 2 {
				t.Fatalf("channel = %d", got[i].Channel())
			}
		}
	}

	a.ProcessAudio(in, out)
	check([]note{
		{event.KindNoteOn, 60, 0},
		{event.KindNoteOff, 60, 32},
		{event.KindNoteOn, 64, 32},
	})

	clock.start = 0.5
	a.ProcessAudio(in, out)
	check([]note{
		{event.KindNoteOff, 64, 0},
		{event.KindNoteOn, 67, 0},
		{event.KindNoteOff, 67, 32},
		{event.KindNoteOn, 60, 32},
	})

	clock.playing = false
	a.ProcessAudio(in, out)
	check([]note{{event.KindNoteOff, 60, 0}})
}

func TestArpeggiatorPatternProperty(t *testing.T) {
	a := NewArpeggiator("arp", nil)
	sink := event.NewFifo(4)
	a.SetEventOutput(sink)

	a.ProcessEvent(event.StringPropertyChange(a.ID(), 0, PatternProperty, "updown"))
	if a.Pattern() != PatternUpDown {
		t.Fatalf("pattern = %v", a.Pattern())
	}
	a.ProcessEvent(event.StringPropertyChange(a.ID(), 0, PatternProperty, "sideways"))
	if a.Pattern() != PatternUpDown {
		t.Fatalf("invalid pattern applied")
	}
	got := drain(sink)
	if len(got) != 1 || got[0].Text() != "updown" {
		t.Fatalf("property echo = %v", got)
	}

	for _, n := range []int{60, 64, 67} {
		a.hold(n)
	}
	var seq []int
	for i := 0; i < a.sequenceLen(); i++ {
		seq = append(seq, a.noteAt(i))
	}
	want := []int{60, 64, 67, 64}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("updown sequence = %v, want %v", seq, want)
		}
	}
}

func TestPeakMeter(t *testing.T) {
	m := NewPeakMeter("meter")
	sink := event.NewFifo(16)
	m.SetEventOutput(sink)
	if err := m.Init(1000); err != nil {
		t.Fatal(err)
	}
	in := buffer.New(2, 40)
	out := buffer.New(2, 40)
	testutil.FillBuffer(in, 0.5)

	m.ProcessAudio(in, out)
	testutil.AssertBufferValue(t, out, 0.5, 0)
	got := drain(sink)
	if len(got) != 2 || got[0].Kind() != event.KindParameterChangeNotification {
		t.Fatalf("notifications = %v", got)
	}
	if db := m.levels[0].Domain(); math.Abs(float64(db)+6.0206) > 0.01 {
		t.Fatalf("level = %v dB", db)
	}

	testutil.FillBuffer(in, 1)
	m.ProcessAudio(in, out)
	got = drain(sink)
	if len(got) != 4 || got[0].Kind() != event.KindClipNotification || got[1].Kind() != event.KindClipNotification {
		t.Fatalf("clip notifications = %v", got)
	}
}
