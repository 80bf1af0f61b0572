// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/teststand/pkg/command"
	"github.com/Thermoquad/teststand/pkg/elet"
	"github.com/Thermoquad/teststand/pkg/link"
	"github.com/Thermoquad/teststand/pkg/sink"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// consoleModel is the Bubble Tea model for the operator console
type consoleModel struct {
	connInfo string
	lines    io.Writer // operator lines into the link loop

	input textinput.Model

	last          *sink.Record
	dataCount     uint64
	messageCount  uint64
	eventCount    uint64
	eventLog      []logEntry
	maxLogEntries int

	width    int
	height   int
	linkDone bool
	linkErr  error
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type recordMsg struct{ record sink.Record }

type logMsg struct {
	level logrus.Level
	text  string
}

type linkDoneMsg struct{ err error }

type lineErrMsg struct{ err error }

//////////////////////////////////////////////////////////////
// Sink and log plumbing
//////////////////////////////////////////////////////////////

// teaSink forwards records from the link loop into the program
type teaSink struct{ p *tea.Program }

func (s teaSink) Record(r sink.Record) error {
	s.p.Send(recordMsg{record: r})
	return nil
}

func (s teaSink) Close() error { return nil }

// teaHook shows diagnostics in the event log instead of on stderr, which
// the alt screen would hide
type teaHook struct{ p *tea.Program }

func (h teaHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h teaHook) Fire(e *logrus.Entry) error {
	h.p.Send(logMsg{level: e.Level, text: formatEntry(e)})
	return nil
}

// formatEntry renders a log entry as "message key=value ..." with sorted keys
func formatEntry(e *logrus.Entry) string {
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		if k == "component" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(e.Message)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	return b.String()
}

//////////////////////////////////////////////////////////////
// Runner
//////////////////////////////////////////////////////////////

// runConsoleTUI runs the link loop behind a terminal UI. Lines typed into
// the UI reach the loop through a pipe; records and diagnostics come back
// as program messages.
func runConsoleTUI(ctx context.Context, conn Connection, connInfo string, runLog sink.Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inR, inW := io.Pipe()
	p := tea.NewProgram(initialConsoleModel(connInfo, inW), tea.WithAltScreen(), tea.WithContext(ctx))

	base := logrus.New()
	base.SetOutput(io.Discard)
	base.SetLevel(logger.Logger.GetLevel())
	base.AddHook(teaHook{p: p})

	loop := link.New(conn, inR, sink.Multi{runLog, teaSink{p: p}}, cfg.LinkLoop(),
		logrus.NewEntry(base).WithField("component", "link"))

	done := make(chan error, 1)
	go func() {
		err := loop.Run(ctx)
		p.Send(linkDoneMsg{err: err})
		done <- err
	}()

	_, tuiErr := p.Run()
	cancel()
	inW.Close()
	runErr := <-done

	fmt.Print(loop.Statistics().String())
	if tuiErr != nil && !errors.Is(tuiErr, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %w", tuiErr)
	}
	return runErr
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

func initialConsoleModel(connInfo string, lines io.Writer) consoleModel {
	ti := textinput.New()
	ti.Placeholder = "help"
	ti.Prompt = "> "
	ti.CharLimit = link.DefaultLineBufferSize - 1
	ti.Width = 60
	ti.Focus()

	return consoleModel{
		connInfo:      connInfo,
		lines:         lines,
		input:         ti,
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 200,
		width:         80,
		height:        24,
	}
}

func (m consoleModel) Init() tea.Cmd {
	return textinput.Blink
}

// sendLine hands a line to the link loop without blocking the UI
func sendLine(w io.Writer, line string) tea.Cmd {
	return func() tea.Msg {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return lineErrMsg{err: err}
		}
		return nil
	}
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			line := m.input.Value()
			m.input.Reset()
			if m.linkDone {
				return m, nil
			}
			if strings.TrimSpace(line) == "help" {
				for _, u := range command.Usage() {
					m.addLogEntry(u, false)
				}
				return m, nil
			}
			m.addLogEntry("> "+line, false)
			return m, sendLine(m.lines, line)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 8

	case recordMsg:
		m.applyRecord(msg.record)
		return m, nil

	case logMsg:
		m.addLogEntry(msg.text, msg.level <= logrus.WarnLevel)
		return m, nil

	case lineErrMsg:
		m.addLogEntry(fmt.Sprintf("line not sent: %v", msg.err), true)
		return m, nil

	case linkDoneMsg:
		m.linkDone = true
		m.linkErr = msg.err
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("link closed: %v", msg.err), true)
		} else {
			m.addLogEntry("link closed", false)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *consoleModel) applyRecord(r sink.Record) {
	switch r.Kind {
	case sink.KindData:
		m.dataCount++
		m.last = &r
	case sink.KindMessage:
		m.messageCount++
		m.addLogEntry(fmt.Sprintf("controller: %s", r.Text), false)
	case sink.KindEvent:
		m.eventCount++
		m.addLogEntry(r.Text, true)
	}
}

func (m *consoleModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// stateStyle colours the system state the way an operator reads it
func stateStyle(s elet.SystemState) lipgloss.Style {
	switch s {
	case elet.StateReady:
		return valueStyle
	case elet.StateFire:
		return errorStyle
	default:
		return warningStyle
	}
}

func (m consoleModel) View() string {
	if m.quitting {
		return "Closing link...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("TESTSTAND CONSOLE"))
	s.WriteString(" ")
	status := m.connInfo
	if m.linkDone {
		status = errorStyle.Render("LINK CLOSED")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | Esc=quit", status)))
	s.WriteString("\n\n")

	s.WriteString(m.renderTelemetry())
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf(" data %d  messages %d  events %d",
		m.dataCount, m.messageCount, m.eventCount)))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog())
	s.WriteString("\n")
	s.WriteString(m.input.View())
	return s.String()
}

func (m consoleModel) renderTelemetry() string {
	var c strings.Builder
	if m.last == nil {
		c.WriteString(warningStyle.Render("Waiting for telemetry..."))
		return boxStyle.Width(m.width - 4).Render(c.String())
	}
	r := m.last

	igniter := errorStyle.Render("no")
	if r.IgniterGood {
		igniter = valueStyle.Render("good")
	}
	fmt.Fprintf(&c, "%s %s   %s %s   %s %s   %s %d\n",
		labelStyle.Render("State:"), stateStyle(r.State).Render(r.State.String()),
		labelStyle.Render("Ignition:"), valueStyle.Render(r.Ignition.String()),
		labelStyle.Render("Igniter:"), igniter,
		labelStyle.Render("Ack:"), r.Sequence)

	c.WriteString(labelStyle.Render("Valves:"))
	for _, v := range elet.Valves() {
		open := r.Valves&(1<<uint(v)) != 0
		style := headerStyle
		if open {
			style = valueStyle
		}
		c.WriteString(" ")
		c.WriteString(style.Render(v.Info().Token))
	}
	fmt.Fprintf(&c, "   %s %d/%d\n", labelStyle.Render("PWM ox/fuel:"), r.PWMOxidizer, r.PWMFuel)

	fmt.Fprintf(&c, "%s %s   %s %s   %s %s",
		labelStyle.Render("Pressure ox/fuel:"),
		valueStyle.Render(fmt.Sprintf("%.1f/%.1f psi", r.Pressures[elet.PressureOxygen], r.Pressures[elet.PressureFuel])),
		labelStyle.Render("Temp ox/water:"),
		valueStyle.Render(fmt.Sprintf("%.1f/%.1f F", r.Temperatures[elet.ThermocoupleOxygen], r.Temperatures[elet.ThermocoupleWater])),
		labelStyle.Render("Thrust:"),
		valueStyle.Render(fmt.Sprintf("%.1f lbf", r.Thrust)))

	return boxStyle.Width(m.width - 4).Render(c.String())
}

func (m consoleModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := m.height - 16
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	var c strings.Builder
	if len(m.eventLog) == 0 {
		c.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for i := startIdx; i < len(m.eventLog); i++ {
		entry := m.eventLog[i]
		icon := "i"
		style := warningStyle
		if entry.isError {
			icon = "x"
			style = errorStyle
		}
		fmt.Fprintf(&c, "%s %s %s\n",
			headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.message)
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(c.String()))
	return s.String()
}
