package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/lerobot-remote/pkg/config"
	"github.com/gwillem/lerobot-remote/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// goodRange is the raw span above which a joint counts as explored.
const goodRange = 500

var errSetupAborted = errors.New("setup aborted")

type SetupCommand struct {
	SkipCalibration bool `long:"skip-calibration" description:"Only identify the arms; keep existing calibration"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("LeRobot Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━"))
	fmt.Println()

	ctx := context.Background()
	cfg, err := identifyArms(ctx)
	if err != nil {
		return err
	}
	if c.SkipCalibration {
		if prev, err := robot.LoadConfig(); err == nil {
			cfg.Leader.Calibration = prev.Leader.Calibration
			cfg.Follower.Calibration = prev.Follower.Calibration
		}
	}

	for _, step := range []struct {
		role string
		arm  *robot.ArmConfig
	}{{"leader", &cfg.Leader}, {"follower", &cfg.Follower}} {
		if c.SkipCalibration && step.arm.IsCalibrated() {
			continue
		}
		fmt.Println()
		fmt.Println(subHeaderStyle.Render(fmt.Sprintf("━━━ Calibrating %s arm ━━━", step.role)))
		fmt.Println()
		cal, err := calibrate(ctx, step.arm.Port)
		if err != nil {
			return fmt.Errorf("calibrate %s: %w", step.role, err)
		}
		step.arm.Calibration = cal
		// saved after each arm so a later failure keeps the work done
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save %s: %w", robot.DefaultConfigFile, err)
		}
		fmt.Printf("%s arm calibrated.\n", step.role)
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("save %s: %w", robot.DefaultConfigFile, err)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", robot.DefaultConfigFile)
	writeDefaultSettings(opts.Config)
	fmt.Println()
	fmt.Println("Start teleoperation with: " + headerStyle.Render("lerobot teleoperate"))
	fmt.Println("Drive the follower from the keyboard with: " + headerStyle.Render("lerobot keyboard"))
	return nil
}

// writeDefaultSettings creates the teleoperation settings file unless one
// already exists, so its options are easy to discover.
func writeDefaultSettings(path string) {
	if _, err := os.Stat(path); err == nil {
		return
	}
	if err := config.Save(path, config.Default()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not write %s: %v\n", path, err)
		return
	}
	fmt.Printf("Default teleoperation settings written to %s\n", path)
}

// identifyArms scans the serial ports and asks which found arm is which.
func identifyArms(ctx context.Context) (*robot.Config, error) {
	fmt.Println("Scanning for robot arms...")
	fmt.Println()

	arms, err := robot.ScanPorts(ctx)
	if err != nil {
		return nil, err
	}
	if len(arms) == 0 {
		return nil, errors.New("no SO-100/SO-101 arms found; make sure your arms are connected and powered on")
	}
	fmt.Printf("Found %d arm(s). Let's identify them...\n\n", len(arms))

	cfg := &robot.Config{}
	for _, arm := range arms {
		if cfg.Leader.Port != "" && cfg.Follower.Port != "" {
			break
		}
		fmt.Printf("  Wiggling arm on %s...\n", arm.Port)
		if err := robot.Wiggle(ctx, arm); err != nil {
			fmt.Printf("  Could not wiggle %s: %v\n", arm.Port, err)
		}

		role, err := askRole(arm.Port, cfg.Leader.Port == "", cfg.Follower.Port == "")
		if err != nil {
			return nil, err
		}
		switch role {
		case "leader":
			cfg.Leader.Port = arm.Port
		case "follower":
			cfg.Follower.Port = arm.Port
		}
	}

	fmt.Println()
	if cfg.Leader.Port == "" || cfg.Follower.Port == "" {
		return nil, errors.New("both a leader and a follower arm are required")
	}
	fmt.Println(successStyle.Render("Arms identified:"))
	fmt.Printf("  Leader:   %s\n", cfg.Leader.Port)
	fmt.Printf("  Follower: %s\n", cfg.Follower.Port)
	return cfg, nil
}

func askRole(port string, needLeader, needFollower bool) (string, error) {
	var options []huh.Option[string]
	if needLeader {
		options = append(options, huh.NewOption("Leader (the one you move by hand)", "leader"))
	}
	if needFollower {
		options = append(options, huh.NewOption("Follower (the one that follows)", "follower"))
	}
	options = append(options, huh.NewOption("Skip this arm", "skip"))

	var role string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Which arm is on %s?", port)).
				Description("The arm that just wiggled").
				Options(options...).
				Value(&role),
		),
	)
	if err := form.Run(); err != nil {
		return "", errSetupAborted
	}
	return role, nil
}

// calibrate records each joint's range while the operator moves the arm by
// hand with torque off.
func calibrate(ctx context.Context, port string) (robot.Calibration, error) {
	arm, err := robot.NewArm(port, robot.DefaultCalibration())
	if err != nil {
		return nil, err
	}
	defer arm.Close()
	if err := arm.Disable(ctx); err != nil {
		return nil, err
	}

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move each joint to its minimum AND maximum positions.")
	fmt.Println("Explore the full range of motion for all joints.")
	fmt.Println()

	rec := robot.NewRangeRecorder(arm.Motors())
	final, err := tea.NewProgram(calibrationModel{ctx: ctx, arm: arm, rec: rec}).Run()
	if err != nil {
		return nil, err
	}
	if final.(calibrationModel).aborted {
		return nil, errSetupAborted
	}
	return rec.Calibration(), nil
}

type calibrationModel struct {
	ctx     context.Context
	arm     *robot.Arm
	rec     *robot.RangeRecorder
	err     error
	done    bool
	aborted bool
}

type tickMsg time.Time

func tickCalibration() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return tickCalibration()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.done = true
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.aborted = true
			return m, tea.Quit
		}

	case tickMsg:
		raw, err := m.arm.RawPositions(m.ctx)
		m.err = err
		for name, pos := range raw {
			m.rec.Observe(name, pos)
		}
		return m, tickCalibration()
	}
	return m, nil
}

func (m calibrationModel) View() string {
	if m.done || m.aborted {
		return ""
	}

	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	motor := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	current := cell.Foreground(lipgloss.Color("11"))
	good := cell.Foreground(lipgloss.Color("10"))
	low := cell.Foreground(lipgloss.Color("9"))

	motors := m.rec.Motors()
	rows := make([][]string, 0, len(motors))
	spans := make([]int, 0, len(motors))
	for _, name := range motors {
		cur, lo, hi := m.rec.Range(name)
		spans = append(spans, hi-lo)
		rows = append(rows, []string{
			string(name),
			fmt.Sprint(cur),
			fmt.Sprint(lo),
			fmt.Sprint(hi),
			fmt.Sprint(hi - lo),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Motor", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case col == 0:
				return motor
			case col == 1:
				return current
			case col == 4 && row >= 0 && row < len(spans) && spans[row] > goodRange:
				return good
			case col == 4:
				return low
			default:
				return cell
			}
		})

	footer := "Press Enter when done, Esc to abort"
	if m.err != nil {
		footer = fmt.Sprintf("read failed: %v", m.err)
	}
	return t.Render() + "\n\n" + dimStyle.Render(footer)
}
