package rthost

import (
	"errors"
	"io"
	"math"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"

	"github.com/shaban/rthost/buffer"
	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/graph"
	"github.com/shaban/rthost/internal/testutil"
	"github.com/shaban/rthost/notify"
	"github.com/shaban/rthost/plugins"
	"github.com/shaban/rthost/processor"
	"github.com/shaban/rthost/transport"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEngine(t *testing.T, mutate ...func(*EngineConfig)) *Engine {
	t.Helper()
	cfg := EngineConfig{SampleRate: 48000, BlockSize: 64, Logger: quietLogger()}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// stereoTrack creates a track wired to engine channels 0 and 1 both ways.
func stereoTrack(t *testing.T, e *Engine, name string) event.ObjectID {
	t.Helper()
	id, err := e.CreateTrack(name, 2)
	if err != nil {
		t.Fatalf("CreateTrack(%s): %v", name, err)
	}
	for c := 0; c < 2; c++ {
		if err := e.ConnectAudioInput(c, id, c); err != nil {
			t.Fatalf("ConnectAudioInput: %v", err)
		}
		if err := e.ConnectAudioOutput(c, id, c); err != nil {
			t.Fatalf("ConnectAudioOutput: %v", err)
		}
	}
	return id
}

func render(t *testing.T, e *Engine, b *Block, blocks int) {
	t.Helper()
	for i := 0; i < blocks; i++ {
		b.OutEvents = b.OutEvents[:0]
		if err := e.ProcessChunk(b); err != nil {
			t.Fatalf("ProcessChunk: %v", err)
		}
		b.SampleCount += int64(b.Out.Frames())
	}
}

func pending[T any](ch <-chan T) []T {
	var out []T
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestEngineConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EngineConfig
		wantErr bool
	}{
		{"defaults", EngineConfig{}, false},
		{"low sample rate", EngineConfig{SampleRate: 4000}, true},
		{"high sample rate", EngineConfig{SampleRate: 768000}, true},
		{"small block", EngineConfig{BlockSize: 8}, true},
		{"large block", EngineConfig{BlockSize: 8192}, true},
		{"negative cores", EngineConfig{Cores: -1}, true},
		{"too many cores", EngineConfig{Cores: runtime.NumCPU() + 1}, true},
		{"negative channels", EngineConfig{InputChannels: -2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && StatusOf(err) == StatusError {
				t.Errorf("validation error %v has no status", err)
			}
		})
	}

	cfg := EngineConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.SampleRate != DefaultSampleRate || cfg.BlockSize != DefaultBlockSize || cfg.Cores != 1 {
		t.Errorf("defaults = %v Hz, %d frames, %d cores", cfg.SampleRate, cfg.BlockSize, cfg.Cores)
	}
	if cfg.Logger == nil || cfg.ErrorHandler == nil || cfg.Metrics == nil {
		t.Errorf("ambient defaults missing")
	}
}

func TestIdentityRender(t *testing.T) {
	e := newTestEngine(t)
	stereoTrack(t, e, "main")

	b := e.NewBlock()
	testutil.FillBuffer(b.In, 0.5)
	render(t, e, b, 1)
	testutil.AssertBufferValue(t, b.Out, 0.5, testutil.DefaultTolerance)

	if e.Realtime() {
		t.Errorf("engine must start with realtime processing off")
	}
}

func TestUnconnectedTrackIsSilent(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.CreateTrack("loose", 2); err != nil {
		t.Fatal(err)
	}
	b := e.NewBlock()
	testutil.FillBuffer(b.In, 1)
	render(t, e, b, 1)
	testutil.AssertBufferValue(t, b.Out, 0, 0)
}

func TestOutputsMix(t *testing.T) {
	e := newTestEngine(t)
	stereoTrack(t, e, "a")
	stereoTrack(t, e, "b")

	b := e.NewBlock()
	testutil.FillBuffer(b.In, 0.25)
	render(t, e, b, 1)
	testutil.AssertBufferValue(t, b.Out, 0.5, testutil.DefaultTolerance)
}

func TestGainProcessorOnTrack(t *testing.T) {
	e := newTestEngine(t)
	tr := stereoTrack(t, e, "main")
	g, err := e.CreateProcessor("gain", "g")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.AddProcessorToTrack(g, tr, nil); err != nil {
		t.Fatal(err)
	}
	_, params := e.Notifications().Parameters.Subscribe(16)

	if err := e.SetParameterByName(g, "gain", -20); err != nil {
		t.Fatal(err)
	}
	b := e.NewBlock()
	testutil.FillBuffer(b.In, 0.5)
	render(t, e, b, 1)
	e.Dispatcher().Poll()

	var seen bool
	for _, n := range pending(params) {
		if pc, ok := n.(notify.ParameterChangeNotification); ok && pc.Processor == g {
			seen = true
		}
	}
	if !seen {
		t.Fatalf("no parameter change notification for the gain processor")
	}

	render(t, e, b, 1000)
	testutil.AssertBufferValue(t, b.Out, 0.05, 1e-3)
}

func TestEventsReachInnerProcessor(t *testing.T) {
	e := newTestEngine(t)
	tr := stereoTrack(t, e, "main")
	p := testutil.NewPassthrough("probe", 2, false)
	if err := e.AddProcessor(p); err != nil {
		t.Fatal(err)
	}
	if err := e.AddProcessorToTrack(p.ID(), tr, nil); err != nil {
		t.Fatal(err)
	}

	if err := e.SendNoteOn(p.ID(), 3, 64, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := e.SendEvent(event.NoteOff(p.ID(), 10, 3, 64, 0)); err != nil {
		t.Fatal(err)
	}
	render(t, e, e.NewBlock(), 1)

	if len(p.Received) != 2 || p.Received[0].Kind() != event.KindNoteOn || p.Received[1].Offset() != 10 {
		t.Fatalf("received = %v", p.Received)
	}

	if err := e.SendEvent(event.NoteOn(9999, 0, 0, 60, 1)); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown target error = %v", err)
	}
	if err := e.SendEvent(event.NoteOn(p.ID(), 64, 0, 60, 1)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("offset past block error = %v", err)
	}
	if err := e.SendNoteOn(p.ID(), 16, 60, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("bad channel error = %v", err)
	}
	if err := e.SendEvent(event.TrackAdded(tr)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("lifecycle event error = %v", err)
	}
}

func TestKeyboardEventsLeaveEngine(t *testing.T) {
	e := newTestEngine(t)
	tr := stereoTrack(t, e, "synth")
	src := testutil.NewNoteSource("src", 72, 5)
	if err := e.AddProcessor(src); err != nil {
		t.Fatal(err)
	}
	if err := e.AddProcessorToTrack(src.ID(), tr, nil); err != nil {
		t.Fatal(err)
	}
	_, keys := e.Notifications().Keyboard.Subscribe(8)

	b := e.NewBlock()
	render(t, e, b, 1)
	if len(b.OutEvents) != 1 || b.OutEvents[0].Target() != tr || b.OutEvents[0].Note() != 72 {
		t.Fatalf("out events = %v", b.OutEvents)
	}

	e.Dispatcher().Poll()
	got := pending(keys)
	if len(got) != 1 || got[0].Event.Note() != 72 {
		t.Fatalf("keyboard notifications = %v", got)
	}
}

func TestNoteForInnerProcessorContinuesDownstream(t *testing.T) {
	e := newTestEngine(t)
	tr := stereoTrack(t, e, "keys")
	thru, err := e.CreateProcessor("passthrough", "thru")
	if err != nil {
		t.Fatal(err)
	}
	up, err := e.CreateProcessor("transposer", "up")
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []event.ObjectID{thru, up} {
		if err := e.AddProcessorToTrack(id, tr, nil); err != nil {
			t.Fatal(err)
		}
	}
	p, _ := e.Processor(up)
	transpose := p.(*plugins.Transposer).ParameterByName("transpose")
	// +12 of -24..24
	if err := e.SetParameterValue(up, transpose.ID, 0.75); err != nil {
		t.Fatal(err)
	}
	b := e.NewBlock()
	render(t, e, b, 1)

	if err := e.SendNoteOn(up, 0, 60, 1); err != nil {
		t.Fatal(err)
	}
	render(t, e, b, 1)
	if len(b.OutEvents) != 1 {
		t.Fatalf("out events = %v", b.OutEvents)
	}
	if ev := b.OutEvents[0]; ev.Kind() != event.KindNoteOn || ev.Note() != 72 || ev.Target() != tr {
		t.Fatalf("note = %v, want note on 72 from the track", ev)
	}
}

func TestTransportChangesOffline(t *testing.T) {
	e := newTestEngine(t)
	_, engineCh := e.Notifications().Engine.Subscribe(8)

	if err := e.SetTempo(140); err != nil {
		t.Fatal(err)
	}
	if got := e.Position().Tempo; got != 140 {
		t.Fatalf("tempo = %v, want 140 right away", got)
	}
	if err := e.SetTimeSignature(transport.TimeSignature{Numerator: 6, Denominator: 8}); err != nil {
		t.Fatal(err)
	}
	if err := e.SetTempo(0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("tempo 0 error = %v", err)
	}
	if err := e.SetTimeSignature(transport.TimeSignature{Numerator: 3, Denominator: 0}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad signature error = %v", err)
	}
	if err := e.SetPlayingMode(transport.PlayingMode(7)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad mode error = %v", err)
	}

	e.Dispatcher().Poll()
	var fields []notify.TransportField
	for _, n := range pending(engineCh) {
		if tn, ok := n.(notify.TransportNotification); ok {
			fields = append(fields, tn.Field)
		}
	}
	if len(fields) != 2 || fields[0] != notify.TempoChanged || fields[1] != notify.TimeSignatureChanged {
		t.Fatalf("transport notifications = %v", fields)
	}
}

func TestTransportChangesRealtime(t *testing.T) {
	e := newTestEngine(t)
	e.EnableRealtime(true)
	if err := e.SetTempo(90); err != nil {
		t.Fatal(err)
	}
	if got := e.Position().Tempo; got != transport.DefaultTempo {
		t.Fatalf("tempo changed before the next block: %v", got)
	}
	render(t, e, e.NewBlock(), 1)
	if got := e.Position().Tempo; got != 90 {
		t.Fatalf("tempo after block = %v", got)
	}
}

func TestPositionAdvances(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetPlayingMode(transport.Playing); err != nil {
		t.Fatal(err)
	}
	b := e.NewBlock()
	b.SampleCount = 48000
	b.Time = time.Second
	render(t, e, b, 1)

	pos := e.Position()
	if pos.Samples != 48000 || pos.Time != time.Second {
		t.Fatalf("position = %d samples at %v", pos.Samples, pos.Time)
	}
	if math.Abs(pos.Beats-2) > 1e-9 || pos.PlayingMode != transport.Playing {
		t.Fatalf("beats = %v, mode = %v", pos.Beats, pos.PlayingMode)
	}
}

func TestStructuralOpsWhileRealtime(t *testing.T) {
	e := newTestEngine(t, func(c *EngineConfig) { c.OpTimeout = 50 * time.Millisecond })
	e.EnableRealtime(true)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		b := e.NewBlock()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := e.ProcessChunk(b); err != nil {
				return
			}
			b.SampleCount += int64(b.Out.Frames())
			time.Sleep(100 * time.Microsecond)
		}
	}()

	id, err := e.CreateTrack("rt", 2)
	if err != nil {
		t.Fatalf("CreateTrack while rendering: %v", err)
	}
	if err := e.ConnectAudioOutput(0, id, 0); err != nil {
		t.Fatalf("ConnectAudioOutput while rendering: %v", err)
	}
	close(stop)
	<-done

	if _, err := e.CreateTrack("late", 2); !errors.Is(err, ErrTimeout) {
		t.Fatalf("CreateTrack without an audio goroutine = %v, want timeout", err)
	}
	if n := len(e.Tracks()); n != 1 {
		t.Fatalf("tracks = %d after timed out create", n)
	}

	e.EnableRealtime(false)
	if _, err := e.CreateTrack("late", 2); err != nil {
		t.Fatalf("CreateTrack offline: %v", err)
	}
}

func TestTrackAndProcessorLifecycle(t *testing.T) {
	e := newTestEngine(t)
	tr := stereoTrack(t, e, "main")
	g, err := e.CreateProcessor("gain", "g")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateProcessor("gain", "g"); StatusOf(err) != StatusAlreadyInUse {
		t.Errorf("duplicate name error = %v", err)
	}
	if _, err := e.CreateProcessor("chorus", "c"); StatusOf(err) != StatusUnknownPlugin {
		t.Errorf("unknown plugin error = %v", err)
	}
	if err := e.AddProcessorToTrack(g, tr, nil); err != nil {
		t.Fatal(err)
	}
	if err := e.AddProcessorToTrack(g, tr, nil); !errors.Is(err, ErrAlreadyInUse) {
		t.Errorf("second insert error = %v", err)
	}
	if err := e.DeleteTrack(tr); !errors.Is(err, ErrAlreadyInUse) {
		t.Errorf("delete busy track error = %v", err)
	}
	if err := e.DeleteProcessor(g); !errors.Is(err, ErrAlreadyInUse) {
		t.Errorf("delete hosted processor error = %v", err)
	}

	procs := e.Processors()
	if len(procs) != 1 || procs[0].Track != tr || procs[0].UID != "gain" {
		t.Fatalf("processors = %+v", procs)
	}

	if err := e.RemoveProcessorFromTrack(g, tr); err != nil {
		t.Fatal(err)
	}
	if err := e.RemoveProcessorFromTrack(g, tr); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove error = %v", err)
	}
	if err := e.DeleteTrack(tr); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteProcessor(g); err != nil {
		t.Fatal(err)
	}
	if len(e.Tracks()) != 0 || len(e.Processors()) != 0 || len(e.AudioOutputs()) != 0 {
		t.Fatalf("engine not empty after deletes")
	}
	if err := e.DeleteTrack(tr); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete unknown track error = %v", err)
	}
}

func TestInsertOrderAndChannelChecks(t *testing.T) {
	e := newTestEngine(t)
	tr := stereoTrack(t, e, "main")
	mono, err := e.CreateTrack("mono", 1)
	if err != nil {
		t.Fatal(err)
	}

	a, b := testutil.NewPassthrough("a", 2, false), testutil.NewPassthrough("b", 2, false)
	stereo := testutil.NewRequiresStereo("wide")
	for _, p := range []processor.Processor{a, b, stereo} {
		if err := e.AddProcessor(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.AddProcessorToTrack(b.ID(), tr, nil); err != nil {
		t.Fatal(err)
	}
	before := b.ID()
	if err := e.AddProcessorToTrack(a.ID(), tr, &before); err != nil {
		t.Fatal(err)
	}
	chain := e.Tracks()[0].Processors
	if len(chain) != 2 || chain[0] != a.ID() || chain[1] != b.ID() {
		t.Fatalf("chain = %v, want [a b]", chain)
	}

	if err := e.AddProcessorToTrack(stereo.ID(), mono, nil); !errors.Is(err, ErrInvalidChannels) {
		t.Errorf("stereo-only on mono track error = %v", err)
	}
	missing := event.ObjectID(4242)
	if err := e.AddProcessorToTrack(stereo.ID(), tr, &missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown before error = %v", err)
	}

	if err := e.AddProcessorToTrack(stereo.ID(), tr, nil); err != nil {
		t.Fatal(err)
	}
	if err := e.SetTrackChannels(tr, 1, 1); !errors.Is(err, ErrInvalidChannels) {
		t.Errorf("shrinking below a processor's minimum = %v", err)
	}
	if err := e.SetTrackChannels(mono, 2, 2); err != nil {
		t.Errorf("widening mono track: %v", err)
	}
}

func TestMoveProcessor(t *testing.T) {
	e := newTestEngine(t)
	src := stereoTrack(t, e, "src")
	dst := stereoTrack(t, e, "dst")
	p, err := e.CreateProcessor("passthrough", "p")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.AddProcessorToTrack(p, src, nil); err != nil {
		t.Fatal(err)
	}
	if err := e.MoveProcessor(p, dst, src, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("move from wrong track error = %v", err)
	}
	if err := e.MoveProcessor(p, src, dst, nil); err != nil {
		t.Fatal(err)
	}
	tracks := e.Tracks()
	if len(tracks[0].Processors) != 0 || len(tracks[1].Processors) != 1 {
		t.Fatalf("after move: %v / %v", tracks[0].Processors, tracks[1].Processors)
	}
	if e.Processors()[0].Track != dst {
		t.Errorf("owner not updated")
	}

	b := e.NewBlock()
	testutil.FillBuffer(b.In, 0.5)
	render(t, e, b, 1)
	testutil.AssertBufferValue(t, b.Out, 1, testutil.DefaultTolerance)
}

func TestConnectionErrors(t *testing.T) {
	e := newTestEngine(t)
	tr := stereoTrack(t, e, "main")

	if err := e.ConnectAudioOutput(2, tr, 0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("engine channel out of range = %v", err)
	}
	if err := e.ConnectAudioInput(0, tr, 2); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("track channel out of range = %v", err)
	}
	if err := e.ConnectAudioOutput(0, tr, 0); !errors.Is(err, ErrAlreadyInUse) {
		t.Errorf("duplicate connection = %v", err)
	}
	if err := e.ConnectAudioOutput(0, 777, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown track = %v", err)
	}
	if err := e.DisconnectAudioOutput(1, tr, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.DisconnectAudioOutput(1, tr, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("second disconnect = %v", err)
	}

	b := e.NewBlock()
	testutil.FillBuffer(b.In, 0.5)
	render(t, e, b, 1)
	testutil.AssertChannelValue(t, b.Out, 0, 0.5, testutil.DefaultTolerance)
	testutil.AssertChannelValue(t, b.Out, 1, 0, 0)
}

func TestProcessorBypassOnTrackWhileRealtime(t *testing.T) {
	e := newTestEngine(t)
	tr := stereoTrack(t, e, "main")
	g, err := e.CreateProcessor("gain", "g")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.AddProcessorToTrack(g, tr, nil); err != nil {
		t.Fatal(err)
	}

	e.EnableRealtime(true)
	defer e.EnableRealtime(false)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b := e.NewBlock()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = e.ProcessChunk(b)
		}
	}()

	for i := 0; i < 10; i++ {
		if err := e.SetProcessorBypass(tr, i%2 == 0); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	wg.Wait()

	tracks := e.Tracks()
	if tracks[0].Bypassed {
		t.Error("track left bypassed")
	}
	if err := e.SetProcessorBypass(tr, true); err != nil {
		t.Fatal(err)
	}
	if !e.Tracks()[0].Bypassed || !e.Processors()[0].Bypassed {
		t.Error("bypass by track id did not reach the track and its chain")
	}
}

func TestMuteAndBypass(t *testing.T) {
	e := newTestEngine(t)
	tr := stereoTrack(t, e, "main")
	g, err := e.CreateProcessor("gain", "g")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetParameterByName(g, "gain", -120); err != nil {
		t.Fatal(err)
	}
	if err := e.AddProcessorToTrack(g, tr, nil); err != nil {
		t.Fatal(err)
	}
	b := e.NewBlock()
	testutil.FillBuffer(b.In, 0.5)
	render(t, e, b, 760)
	testutil.AssertBufferValue(t, b.Out, 0, 1e-5)

	if err := e.SetTrackBypass(tr, true); err != nil {
		t.Fatal(err)
	}
	render(t, e, b, 2)
	testutil.AssertBufferValue(t, b.Out, 0.5, testutil.DefaultTolerance)
	if info := e.Processors()[0]; !info.Bypassed {
		t.Errorf("bypass did not reach the hosted processor")
	}

	if err := e.SetTrackMute(tr, true); err != nil {
		t.Fatal(err)
	}
	render(t, e, b, 750)
	testutil.AssertBufferValue(t, b.Out, 0, 1e-4)
	if !e.Tracks()[0].Muted {
		t.Errorf("track not reported muted")
	}
}

func TestParametersOfUnhostedProcessors(t *testing.T) {
	e := newTestEngine(t)
	g, err := e.CreateProcessor("gain", "g")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetParameterValue(g, 0, 0.25); err != nil {
		t.Fatal(err)
	}
	if v, err := e.ParameterValue(g, 0); err != nil || v != 0.25 {
		t.Fatalf("value = %v, %v", v, err)
	}
	if err := e.SetParameterValue(g, 0, 1.5); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("out of range error = %v", err)
	}
	if err := e.SetParameterValue(g, 9, 0.5); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown parameter error = %v", err)
	}
	if err := e.SetParameterByName(g, "gain", 48); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("domain out of range error = %v", err)
	}

	arp, err := e.CreateProcessor("arpeggiator", "arp")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetStringProperty(arp, plugins.PatternProperty, "down"); err != nil {
		t.Fatal(err)
	}
	p, _ := e.Processor(arp)
	if got := p.(*plugins.Arpeggiator).Pattern(); got != plugins.PatternDown {
		t.Fatalf("pattern = %v", got)
	}
}

func TestOutputClipDetection(t *testing.T) {
	e := newTestEngine(t, func(c *EngineConfig) { c.ClipDetection = true })
	stereoTrack(t, e, "hot")
	_, engineCh := e.Notifications().Engine.Subscribe(32)

	b := e.NewBlock()
	testutil.FillBuffer(b.In, 2)
	render(t, e, b, 3)
	e.Dispatcher().Poll()

	clips := 0
	for _, n := range pending(engineCh) {
		if c, ok := n.(notify.ClipNotification); ok {
			if c.Track != event.NoTarget {
				t.Errorf("engine clip reported for %d", c.Track)
			}
			clips++
		}
	}
	if clips != 2 {
		t.Fatalf("clip notifications = %d, want one per channel", clips)
	}
}

func TestMidiClockSync(t *testing.T) {
	e := newTestEngine(t)
	if err := e.HandleMidiRealtime(midi.Message{0xFA}, 0); err != nil {
		t.Fatal(err)
	}
	if e.Position().PlayingMode != transport.Stopped {
		t.Fatalf("clock followed while sync mode is internal")
	}

	if err := e.SetSyncMode(transport.Midi); err != nil {
		t.Fatal(err)
	}
	if err := e.HandleMidiRealtime(midi.Message{0xFA}, 0); err != nil {
		t.Fatal(err)
	}
	interval := 400 * time.Millisecond / 24
	at := time.Duration(0)
	for i := 0; i < 24*2+1; i++ {
		if err := e.HandleMidiRealtime(midi.Message{0xF8}, at); err != nil {
			t.Fatal(err)
		}
		at += interval
	}
	pos := e.Position()
	if pos.PlayingMode != transport.Playing || math.Abs(pos.Tempo-150) > 0.01 {
		t.Fatalf("after clock: %v at %v BPM", pos.PlayingMode, pos.Tempo)
	}
	if err := e.HandleMidiRealtime(midi.Message{0xFC}, at); err != nil {
		t.Fatal(err)
	}
	if e.Position().PlayingMode != transport.Stopped {
		t.Fatalf("stop not applied")
	}
}

func TestSetSampleRate(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetSampleRate(96000); err != nil {
		t.Fatal(err)
	}
	if e.SampleRate() != 96000 {
		t.Fatalf("sample rate = %v", e.SampleRate())
	}
	if err := e.SetSampleRate(1000); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("too low = %v", err)
	}
	e.EnableRealtime(true)
	if err := e.SetSampleRate(44100); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("while realtime = %v", err)
	}
}

func TestBlockSizeMismatch(t *testing.T) {
	e := newTestEngine(t)
	b := &Block{In: buffer.New(2, 32), Out: buffer.New(2, 32)}
	if err := e.ProcessChunk(b); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("short block error = %v", err)
	}
}

type sleeper struct {
	*processor.Base
	d time.Duration
}

func (s *sleeper) ProcessAudio(in, out buffer.Buffer) {
	time.Sleep(s.d)
	processor.BypassProcess(in, out)
}

type recordingHandler struct {
	mu   sync.Mutex
	errs []error
}

func (h *recordingHandler) HandleError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errs)
}

func TestDeadlineMissFaultsEngine(t *testing.T) {
	if runtime.NumCPU() < 2 {
		t.Skip("needs two CPUs for a multi-core graph")
	}
	handler := &recordingHandler{}
	e := newTestEngine(t, func(c *EngineConfig) {
		c.Cores = 2
		c.DeadlineFactor = 1
		c.ErrorHandler = handler
	})
	tr := stereoTrack(t, e, "slow")
	s := &sleeper{Base: processor.NewBase("sleepy", "sleepy", 2, 2), d: 50 * time.Millisecond}
	if err := e.AddProcessor(s); err != nil {
		t.Fatal(err)
	}
	if err := e.AddProcessorToTrack(s.ID(), tr, nil); err != nil {
		t.Fatal(err)
	}

	b := e.NewBlock()
	testutil.FillBuffer(b.Out, 1)
	err := e.ProcessChunk(b)
	if !errors.Is(err, ErrFaulted) || !errors.Is(err, graph.ErrDeadlineMissed) {
		t.Fatalf("ProcessChunk error = %v", err)
	}
	testutil.AssertBufferValue(t, b.Out, 0, 0)
	if StatusOf(e.Faulted()) != StatusFaulted {
		t.Fatalf("Faulted() = %v", e.Faulted())
	}
	if err := e.ProcessChunk(b); !errors.Is(err, ErrFaulted) {
		t.Fatalf("faulted engine rendered again: %v", err)
	}

	e.Dispatcher().Poll()
	e.Dispatcher().Poll()
	if n := handler.count(); n != 1 {
		t.Fatalf("fault reported %d times, want once", n)
	}
}
