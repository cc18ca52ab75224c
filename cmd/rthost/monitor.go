package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/shaban/rthost"
	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/notify"
	"github.com/shaban/rthost/perf"
	"github.com/shaban/rthost/transport"
)

const (
	refreshPeriod = 100 * time.Millisecond
	logLines      = 8
	tempoStep     = 5
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#555"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fff"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#f80"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888"))
)

type monitor struct {
	engine *rthost.Engine
	subID  uuid.UUID
	notes  <-chan notify.Notification

	pos     rthost.Position
	timings []perf.Timings
	log     []string
	clips   int
	err     error
}

type tickMsg time.Time
type noteMsg struct{ n notify.Notification }

func newMonitor(e *rthost.Engine) monitor {
	id, ch := e.Notifications().Engine.Subscribe(64)
	return monitor{engine: e, subID: id, notes: ch, pos: e.Position()}
}

func tick() tea.Cmd {
	return tea.Tick(refreshPeriod, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func listenForNotifications(ch <-chan notify.Notification) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noteMsg{n}
	}
}

func (m monitor) Init() tea.Cmd {
	return tea.Batch(tick(), listenForNotifications(m.notes))
}

func (m monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.engine.Notifications().Engine.Unsubscribe(m.subID)
			return m, tea.Quit

		case " ":
			mode := transport.Playing
			if m.pos.PlayingMode != transport.Stopped {
				mode = transport.Stopped
			}
			m.err = m.engine.SetPlayingMode(mode)

		case "+", "=":
			m.err = m.engine.SetTempo(min(m.pos.Tempo+tempoStep, transport.MaxTempo))

		case "-", "_":
			m.err = m.engine.SetTempo(max(m.pos.Tempo-tempoStep, transport.MinTempo))
		}

	case tickMsg:
		m.pos = m.engine.Position()
		if err := m.engine.Faulted(); err != nil {
			m.err = err
		}
		return m, tick()

	case noteMsg:
		switch n := msg.n.(type) {
		case notify.CpuTimingNotification:
			m.timings = n.Timings
		case notify.ClipNotification:
			m.clips++
		default:
			m.log = append(m.log, describe(m.engine, n))
			if len(m.log) > logLines {
				m.log = m.log[len(m.log)-logLines:]
			}
		}
		return m, listenForNotifications(m.notes)
	}
	return m, nil
}

func (m monitor) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("rthost") + dimStyle.Render(" "+m.engine.ID().String()) + "\n\n")

	state := dimStyle.Render(m.pos.PlayingMode.String())
	if m.pos.PlayingMode != transport.Stopped {
		state = activeStyle.Render(m.pos.PlayingMode.String())
	}
	bar := 0.0
	if beatsPerBar := float64(m.pos.TimeSignature.Numerator) * 4 / float64(m.pos.TimeSignature.Denominator); beatsPerBar > 0 {
		bar = m.pos.BarStartBeats/beatsPerBar + 1
	}
	fmt.Fprintf(&b, "%s  %6.2f bpm  %d/%d  bar %4.0f  beat %7.2f  sync %s\n",
		state, m.pos.Tempo, m.pos.TimeSignature.Numerator, m.pos.TimeSignature.Denominator,
		bar, m.pos.Beats, m.pos.SyncMode)
	fmt.Fprintf(&b, "time %s\n\n", m.pos.Time.Truncate(time.Millisecond))

	b.WriteString(titleStyle.Render("load") + "\n")
	if len(m.timings) == 0 {
		b.WriteString(dimStyle.Render("  no timings yet") + "\n")
	}
	for _, t := range m.timings {
		fmt.Fprintf(&b, "  %-12s avg %5.1f%%  max %5.1f%%\n", m.nodeName(t), t.Avg*100, t.Max*100)
	}
	if m.clips > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("  %d clip(s)", m.clips)) + "\n")
	}

	b.WriteString("\n" + titleStyle.Render("events") + "\n")
	for _, line := range m.log {
		b.WriteString("  " + line + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + warnStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + statusStyle.Render("space play/stop  +/- tempo  q quit"))
	return b.String()
}

func (m monitor) nodeName(t perf.Timings) string {
	if t.Node == perf.EngineNode {
		return "engine"
	}
	if tr, ok := m.engine.Track(t.Node); ok {
		return tr.Name()
	}
	return fmt.Sprintf("#%d", t.Node)
}

// describe renders a notification as one line, naming the objects involved.
func describe(e *rthost.Engine, n notify.Notification) string {
	name := func(id event.ObjectID) string {
		if p, ok := e.Processor(id); ok {
			return p.Name()
		}
		return fmt.Sprintf("#%d", id)
	}
	switch n := n.(type) {
	case notify.TransportNotification:
		switch n.Field {
		case notify.TempoChanged:
			return fmt.Sprintf("tempo %.2f", n.Tempo)
		case notify.TimeSignatureChanged:
			return fmt.Sprintf("time signature %d/%d", n.TimeSignature.Numerator, n.TimeSignature.Denominator)
		case notify.PlayingModeChanged:
			return "playing mode " + n.PlayingMode.String()
		default:
			return "sync mode " + n.SyncMode.String()
		}
	case notify.TrackNotification:
		return fmt.Sprintf("track %s %s", name(n.Track), n.Action)
	case notify.ProcessorNotification:
		return fmt.Sprintf("processor %s %s on %s", name(n.Processor), n.Action, name(n.Track))
	case notify.ParameterChangeNotification:
		return fmt.Sprintf("%s parameter %d = %.3f", name(n.Processor), n.Parameter, n.Normalized)
	case notify.PropertyChangeNotification:
		return fmt.Sprintf("%s property %d = %q", name(n.Processor), n.Property, n.Value)
	case notify.ClipNotification:
		return fmt.Sprintf("clip on output %d", n.Channel)
	case notify.CpuTimingNotification:
		return fmt.Sprintf("timings for %d nodes", len(n.Timings))
	case notify.KeyboardNotification:
		return "keyboard " + n.Event.Kind().String()
	}
	return fmt.Sprintf("%T", n)
}
