package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cwbudde/keyanneal/internal/engine"
	"github.com/cwbudde/keyanneal/internal/layout"
	"github.com/cwbudde/keyanneal/internal/opt"
)

const barWidth = 40

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#3CBA9F"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	boardStyle  = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
)

type progressMsg engine.Message

type doneMsg struct {
	result engine.Message
	err    error
}

// Model implements the Bubble Tea progress view of one optimization run.
type Model struct {
	handle  *engine.Handle
	req     engine.Request
	start   *layout.Layout
	total   int
	spinner spinner.Model

	initialScore float64
	best         *layout.Layout
	bestScore    float64
	hasBest      bool
	iterations   int
	temperature  float64
	restart      int
	restartsDone int
	startedAt    time.Time

	cancelling bool
	done       bool
	result     engine.Message
	err        error
}

// NewModel constructs a progress model for a run started with engine.Start.
// initialScore is the score of the starting layout.
func NewModel(h *engine.Handle, req engine.Request, start *layout.Layout, initialScore float64) *Model {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	s.Style = titleStyle
	return &Model{
		handle:       h,
		req:          req,
		start:        start,
		total:        ExpectedIterations(req),
		spinner:      s,
		initialScore: initialScore,
		startedAt:    time.Now(),
	}
}

// ExpectedIterations is the value of the run-level iteration counter when
// an annealing run finishes without stalling. Mayfly runs report evaluations
// instead and return 0.
func ExpectedIterations(req engine.Request) int {
	if req.Strategy == engine.StrategyMayfly || req.Iterations <= 0 {
		return 0
	}
	boundaries := (req.Iterations + opt.CoolingInterval - 1) / opt.CoolingInterval
	return boundaries * opt.CoolingInterval * req.NumRestarts
}

// Result returns the outcome once the program has exited
func (m *Model) Result() (engine.Message, error) {
	return m.result, m.err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForProgress(m.handle))
}

func waitForProgress(h *engine.Handle) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-h.Progress()
		if !ok {
			res, err := h.Wait()
			return doneMsg{result: res, err: err}
		}
		return progressMsg(msg)
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.cancelling {
				m.cancelling = true
				m.handle.Cancel()
			}
		}
		return m, nil
	case progressMsg:
		m.apply(engine.Message(msg))
		return m, waitForProgress(m.handle)
	case doneMsg:
		m.done = true
		m.result, m.err = msg.result, msg.err
		if msg.err == nil {
			m.best = msg.result.BestLayout
			m.bestScore = msg.result.BestMetric
			m.hasBest = true
			m.iterations = msg.result.IterationsCompleted
		}
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	default:
		return m, nil
	}
}

// apply folds one progress message into the view state
func (m *Model) apply(msg engine.Message) {
	if msg.Kind != opt.KindImprovement && msg.IterationsCompleted > m.iterations {
		m.iterations = msg.IterationsCompleted
	}
	m.restart = msg.Restart
	switch msg.Kind {
	case opt.KindImprovement:
		if !m.hasBest || msg.BestMetric < m.bestScore {
			m.best = msg.BestLayout
			m.bestScore = msg.BestMetric
			m.hasBest = true
		}
	case opt.KindCooling:
		m.temperature = msg.Temperature
	case opt.KindRestartDone:
		m.restartsDone++
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	status := "Annealing"
	if m.req.Strategy == engine.StrategyMayfly {
		status = "Mayfly search"
	}
	switch {
	case m.done && m.err != nil:
		status = "Stopped"
	case m.done:
		status = "Finished"
	case m.cancelling:
		status = "Cancelling"
	}
	fmt.Fprintf(&b, "%s %s %s\n\n", m.spinner.View(), titleStyle.Render(status),
		labelStyle.Render(fmt.Sprintf("%d keys, %d restarts", len(m.req.Layout), m.req.NumRestarts)))

	if m.total > 0 {
		fmt.Fprintf(&b, "%s %s\n", renderBar(m.iterations, m.total),
			labelStyle.Render(fmt.Sprintf("%d/%d iterations", m.iterations, m.total)))
	} else {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("evaluations"), valueStyle.Render(fmt.Sprint(m.iterations)))
	}

	fmt.Fprintf(&b, "%s %s   %s %s   %s %s\n",
		labelStyle.Render("restarts done"), valueStyle.Render(fmt.Sprintf("%d/%d", m.restartsDone, m.req.NumRestarts)),
		labelStyle.Render("temperature"), valueStyle.Render(fmt.Sprintf("%.4g", m.temperature)),
		labelStyle.Render("elapsed"), valueStyle.Render(time.Since(m.startedAt).Round(time.Second).String()),
	)

	if m.hasBest {
		fmt.Fprintf(&b, "%s %s %s\n",
			labelStyle.Render("best score"), valueStyle.Render(fmt.Sprintf("%.0f", m.bestScore)),
			labelStyle.Render(improvement(m.initialScore, m.bestScore)))
		b.WriteString(boardStyle.Render(RenderKeyboard(m.best, m.req.FingerAssignments, ChangedKeys(m.start, m.best))))
		b.WriteString("\n")
	}

	switch {
	case m.err != nil && errors.Is(m.err, engine.ErrCancelled):
		b.WriteString(errorStyle.Render("cancelled"))
	case m.err != nil:
		b.WriteString(errorStyle.Render(m.err.Error()))
	case !m.done:
		b.WriteString(footerStyle.Render("q to cancel"))
	}
	b.WriteString("\n")
	return b.String()
}

func renderBar(done, total int) string {
	frac := float64(done) / float64(total)
	if frac > 1 {
		frac = 1
	}
	filled := int(frac * barWidth)
	return barStyle.Render(strings.Repeat("█", filled)) +
		footerStyle.Render(strings.Repeat("░", barWidth-filled)) +
		fmt.Sprintf(" %3.0f%%", frac*100)
}

func improvement(initial, best float64) string {
	if initial <= 0 {
		return fmt.Sprintf("(initial %.0f)", initial)
	}
	return fmt.Sprintf("(initial %.0f, %+.1f%%)", initial, (best-initial)/initial*100)
}
