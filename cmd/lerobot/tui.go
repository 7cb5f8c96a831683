package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/lerobot-remote/pkg/input"
	"github.com/gwillem/lerobot-remote/pkg/relay"
	"github.com/gwillem/lerobot-remote/pkg/robot"
	"github.com/gwillem/lerobot-remote/pkg/teleop"
)

const (
	headerHeight = 3 // title + status line + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border

	holdTick = 20 * time.Millisecond
)

// Motor colors - distinct colors for each motor
var motorColors = map[robot.MotorName]string{
	robot.ShoulderPan:  "196", // red
	robot.ShoulderLift: "208", // orange
	robot.ElbowFlex:    "226", // yellow
	robot.WristFlex:    "46",  // green
	robot.WristRoll:    "51",  // cyan
	robot.Gripper:      "201", // magenta
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	estopStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("160")).Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// view is what the TUI renders: the wire form of a status snapshot, so local
// and remote sessions draw the same screen.
type view struct {
	relay.StatusData
	Err string
}

func localView(s teleop.Status) view {
	v := view{StatusData: relay.NewStatusData(s)}
	if s.Error != nil {
		v.Err = s.Error.Error()
	}
	return v
}

// localViews converts controller states until ctx is done.
func localViews(ctx context.Context, ctrl *teleop.Controller) <-chan view {
	out := make(chan view, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-ctrl.States():
				select {
				case out <- localView(s):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// keySink receives synthesized press and release tokens.
type keySink interface {
	Press(key string) error
	Release(key string) error
}

// dispatchSink queues keys on the local dispatcher.
type dispatchSink struct {
	ctx  context.Context
	disp *teleop.Dispatcher
}

func (d dispatchSink) Press(key string) error {
	return d.disp.Submit(d.ctx, teleop.Press(key, "keyboard"))
}

func (d dispatchSink) Release(key string) error {
	return d.disp.Submit(d.ctx, teleop.Release(key, "keyboard"))
}

type tuiConfig struct {
	title   string
	arm     string
	motors  []robot.MotorName
	hz      int
	views   <-chan view
	logs    <-chan string
	keys    keySink // nil: the keyboard only quits
	hold    *input.KeyHold
	quitKey string // quits besides ctrl+c
	help    string
}

type teleopModel struct {
	tuiConfig
	chart         *streamlinechart.Model
	width         int      // terminal width
	height        int      // terminal height
	logLines      []string // last N log messages
	quitting      bool
	current       view
	lastPositions []float64 // track previous positions to detect movement
}

func (m *teleopModel) addLog(msg string) {
	m.logLines = append(m.logLines, msg)
	if len(m.logLines) > maxLogs {
		m.logLines = m.logLines[len(m.logLines)-maxLogs:]
	}
}

// hasMovement checks if any motor position has changed from the last state
func (m *teleopModel) hasMovement(positions []float64) bool {
	if len(m.lastPositions) != len(positions) {
		return true
	}
	for i, pos := range positions {
		if pos != m.lastPositions[i] {
			return true
		}
	}
	return false
}

type viewMsg view
type logMsg string
type holdTickMsg time.Time

func waitForView(ch <-chan view) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		return viewMsg(v)
	}
}

func waitForLog(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg(msg)
	}
}

func tickHold() tea.Cmd {
	return tea.Tick(holdTick, func(t time.Time) tea.Msg {
		return holdTickMsg(t)
	})
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *teleopModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *teleopModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func newTeleopModel(cfg tuiConfig) teleopModel {
	if cfg.motors == nil {
		cfg.motors = robot.AllMotors()
	}
	if cfg.keys != nil && cfg.hold == nil {
		cfg.hold = input.NewKeyHold(0, 0)
	}

	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-180, 180),
	)
	for _, name := range cfg.motors {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(motorColors[name]))
		chart.SetDataSetStyles(string(name), runes.ThinLineStyle, style)
	}

	return teleopModel{
		tuiConfig: cfg,
		chart:     &chart,
	}
}

func (m teleopModel) Init() tea.Cmd {
	cmds := []tea.Cmd{waitForView(m.views)}
	if m.logs != nil {
		cmds = append(cmds, waitForLog(m.logs))
	}
	if m.keys != nil {
		cmds = append(cmds, tickHold())
	}
	return tea.Batch(cmds...)
}

func (m teleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg, time.Now())

	case holdTickMsg:
		for _, key := range m.hold.Expire(time.Time(msg)) {
			if err := m.keys.Release(key); err != nil {
				m.addLog(fmt.Sprintf("release %s: %v", key, err))
			}
		}
		return m, tickHold()

	case viewMsg:
		m.current = view(msg)
		if positions := m.current.Positions[m.arm]; len(positions) > 0 && m.hasMovement(positions) {
			// freeze the chart while idle
			for i, pos := range positions {
				if i < len(m.motors) {
					m.chart.PushDataSet(string(m.motors[i]), pos)
				}
			}
			m.chart.DrawAll()
			m.lastPositions = append(m.lastPositions[:0], positions...)
		}
		return m, waitForView(m.views)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.logs)
	}

	return m, nil
}

func (m teleopModel) handleKey(msg tea.KeyMsg, now time.Time) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC || (m.quitKey != "" && msg.String() == m.quitKey) {
		m.quitting = true
		if m.keys != nil {
			for _, key := range m.hold.ReleaseAll() {
				_ = m.keys.Release(key)
			}
		}
		return m, tea.Quit
	}
	if m.keys == nil {
		return m, nil
	}

	token, ok := input.Token(msg.String())
	if !ok {
		return m, nil
	}
	if m.hold.Key(token, now) {
		if err := m.keys.Press(token); err != nil {
			m.addLog(fmt.Sprintf("press %s: %v", token, err))
		}
	}
	return m, nil
}

func (m teleopModel) View() string {
	if m.quitting {
		return "Teleoperation stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render(m.title))
	if m.hz > 0 {
		sb.WriteString(fmt.Sprintf(" - %d Hz", m.hz))
	}
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n")
	sb.WriteString(m.statusLine())
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend(m.motors))
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9")) // bright red

	var logLines string
	if len(m.logLines) == 0 {
		logLines = statusStyle.Render(m.helpText())
	} else {
		logLines = strings.Join(m.logLines, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m teleopModel) statusLine() string {
	var parts []string
	switch {
	case m.current.EmergencyStop:
		parts = append(parts, estopStyle.Render("EMERGENCY STOP"))
	case m.current.Connected:
		parts = append(parts, okStyle.Render("connected"))
	default:
		parts = append(parts, warnStyle.Render("not connected"))
	}
	if m.current.Mode != "" {
		parts = append(parts, "mode "+m.current.Mode)
	}
	if m.current.SpeedScale > 0 {
		parts = append(parts, fmt.Sprintf("speed x%.2f", m.current.SpeedScale))
	}
	if m.hold != nil {
		if held := m.hold.Held(); len(held) > 0 {
			parts = append(parts, "keys "+strings.Join(held, " "))
		}
	}
	if m.current.Err != "" {
		parts = append(parts, warnStyle.Render(m.current.Err))
	}
	return statusStyle.Render(strings.Join(parts, "  "))
}

func (m teleopModel) helpText() string {
	if m.help != "" {
		return m.help
	}
	return "Press ctrl+c to quit"
}

// estopOnly forwards just the emergency-stop key. Leader-driven sessions use
// it so the keyboard cannot fight the leader arm.
type estopOnly struct {
	keySink
	key string
}

func (e estopOnly) Press(key string) error {
	if key != e.key {
		return nil
	}
	return e.keySink.Press(key)
}

func (e estopOnly) Release(key string) error {
	if key != e.key {
		return nil
	}
	return e.keySink.Release(key)
}

func renderLegend(motors []robot.MotorName) string {
	var items []string
	for _, name := range motors {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(motorColors[name])).Bold(true)
		item := colorStyle.Render("━━") + " " + string(name)
		items = append(items, item)
	}
	return strings.Join(items, "  ")
}
