// Command rthost loads a host description, builds an engine from it and runs
// it through one of the frontends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shaban/rthost"
	"github.com/shaban/rthost/config"
	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/frontend"
	"github.com/shaban/rthost/notify"
)

// midiTail is rendered after the last event of a MIDI file.
const midiTail = time.Second

func main() {
	var (
		configPath = flag.String("config", "", "path to a JSON host description")
		frontName  = flag.String("frontend", "offline", "frontend: offline|oto|dummy")
		outPath    = flag.String("out", "out.wav", "WAV file written by the offline frontend")
		seconds    = flag.Float64("seconds", 0, "length to render or play (0 = MIDI file length, or until interrupted)")
		midiPath   = flag.String("midi", "", "Standard MIDI File to play")
		midiTrack  = flag.String("midi-track", "", "track receiving the MIDI file (default: first track)")
		useTUI     = flag.Bool("tui", false, "show the terminal monitor")
		verbose    = flag.Bool("v", false, "debug logging")
		strict     = flag.Bool("strict", false, "panic with a stack trace on a render fault")
	)
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	opts := options{
		configPath: *configPath,
		frontend:   strings.ToLower(strings.TrimSpace(*frontName)),
		outPath:    *outPath,
		length:     time.Duration(*seconds * float64(time.Second)),
		midiPath:   *midiPath,
		midiTrack:  *midiTrack,
		tui:        *useTUI,
		strict:     *strict,
	}
	if err := run(opts, log); err != nil {
		log.WithError(err).WithField("status", rthost.StatusOf(err).String()).Fatal("rthost failed")
	}
}

type options struct {
	configPath string
	frontend   string
	outPath    string
	length     time.Duration
	midiPath   string
	midiTrack  string
	tui        bool
	strict     bool
}

func run(opts options, log *logrus.Logger) error {
	host, err := loadHost(opts.configPath)
	if err != nil {
		return err
	}
	cfg := rthost.EngineConfigFromHost(host, rthost.EngineConfig{
		Logger:        log,
		ClipDetection: true,
		Timing:        true,
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.ErrorHandler = errorHandler(opts, cfg, log)
	e, err := rthost.NewEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.ApplyConfig(host); err != nil {
		return fmt.Errorf("apply %s: %w", opts.configPath, err)
	}

	fopts := frontend.Options{Length: opts.length, Logger: log}
	if opts.midiPath != "" {
		target, err := midiTarget(e, opts.midiTrack)
		if err != nil {
			return err
		}
		seq, length, err := frontend.LoadSMF(opts.midiPath, target, e.SampleRate())
		if err != nil {
			return err
		}
		fopts.Sequence = seq
		if fopts.Length == 0 {
			fopts.Length = length + midiTail
		}
		log.WithFields(logrus.Fields{"file": opts.midiPath, "events": len(seq), "length": length}).Info("MIDI file loaded")
	}

	var out *os.File
	var fe frontend.Frontend
	switch opts.frontend {
	case "offline":
		if fopts.Length == 0 {
			return fmt.Errorf("%w: offline rendering needs -seconds or -midi", rthost.ErrInvalidArgument)
		}
		out, err = os.Create(opts.outPath)
		if err != nil {
			return err
		}
		defer out.Close()
		fe = frontend.NewOffline(e, out, fopts)
	case "oto":
		fe = frontend.NewOto(e, fopts)
	case "dummy":
		fe = frontend.NewDummy(e, fopts)
	default:
		return fmt.Errorf("%w: frontend %q (expected offline|oto|dummy)", rthost.ErrInvalidArgument, opts.frontend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	// Ends every other goroutine once the frontend is done.
	runCtx, finish := context.WithCancel(ctx)
	defer finish()

	g.Go(func() error {
		return e.Dispatcher().Run(runCtx)
	})
	g.Go(func() error {
		defer finish()
		return fe.Run(runCtx)
	})
	if opts.tui {
		g.Go(func() error {
			defer finish()
			return runMonitor(runCtx, e)
		})
	} else {
		g.Go(func() error {
			logNotifications(runCtx, e, log)
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err == nil && out != nil {
		log.WithField("file", opts.outPath).Info("written")
	}
	return err
}

// errorHandler reports faults the dispatcher sees with the setup that
// produced them. Strict runs panic afterwards.
func errorHandler(opts options, cfg rthost.EngineConfig, log logrus.FieldLogger) rthost.ErrorHandler {
	var next rthost.ErrorHandler
	if opts.strict {
		next = rthost.PanicErrorHandler{}
	}
	return rthost.NewLoggingErrorHandler(next, log, logrus.Fields{
		"frontend":    opts.frontend,
		"block_size":  cfg.BlockSize,
		"sample_rate": cfg.SampleRate,
		"cores":       cfg.Cores,
	})
}

// defaultHost is used without -config: one stereo track with a gain stage
// wired straight through.
func defaultHost() *config.Host {
	return &config.Host{
		Tracks: []config.Track{{
			Name:       "main",
			Channels:   2,
			Processors: []config.Processor{{UID: "gain", Name: "gain"}},
			Inputs:     []config.Connection{{EngineChannel: 0, TrackChannel: 0}, {EngineChannel: 1, TrackChannel: 1}},
			Outputs:    []config.Connection{{EngineChannel: 0, TrackChannel: 0}, {EngineChannel: 1, TrackChannel: 1}},
		}},
	}
}

func loadHost(path string) (*config.Host, error) {
	if path == "" {
		return defaultHost(), nil
	}
	return config.Load(path)
}

func midiTarget(e *rthost.Engine, name string) (event.ObjectID, error) {
	if name == "" {
		tracks := e.Tracks()
		if len(tracks) == 0 {
			return 0, fmt.Errorf("%w: no track for the MIDI file", rthost.ErrNotFound)
		}
		return tracks[0].ID, nil
	}
	t, ok := e.TrackByName(name)
	if !ok {
		return 0, fmt.Errorf("track %q: %w", name, rthost.ErrNotFound)
	}
	return t.ID(), nil
}

func logNotifications(ctx context.Context, e *rthost.Engine, log logrus.FieldLogger) {
	hub := e.Notifications()
	engineID, engineCh := hub.Engine.Subscribe(64)
	defer hub.Engine.Unsubscribe(engineID)
	paramID, paramCh := hub.Parameters.Subscribe(64)
	defer hub.Parameters.Unsubscribe(paramID)

	for {
		var n notify.Notification
		var ok bool
		select {
		case <-ctx.Done():
			return
		case n, ok = <-engineCh:
		case n, ok = <-paramCh:
		}
		if !ok {
			return
		}
		log.WithField("notification", fmt.Sprintf("%T", n)).Debug(describe(e, n))
	}
}

// monitor is run in place of the notification log when -tui is set.
func runMonitor(ctx context.Context, e *rthost.Engine) error {
	p := tea.NewProgram(newMonitor(e), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
