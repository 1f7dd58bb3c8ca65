// Package ui renders a live terminal dashboard over the Solver Driver's
// intermediate-solution stream (spec.md §4.5's Observer contract).
//
// Grounded on the teacher's internal/ui/app.go: a bubbletea Model with the
// same Init/Update/View shape and a tea.Tick-driven refresh loop, here
// driving a progress view instead of the teacher's multi-screen migration
// wizard (that wizard is dropped entirely — see DESIGN.md — since the
// whole point of the solver is to remove the interactive VM-picking step
// it implemented). Bar rendering reuses components.RenderResourceBar.
package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/afics/vmrebalance/internal/migration"
	"github.com/afics/vmrebalance/internal/solver"
	"github.com/afics/vmrebalance/internal/ui/components"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// SolutionMsg carries one intermediate solution reported by the solver's
// Observer callback into the bubbletea event loop.
type SolutionMsg solver.Solution

// DoneMsg is sent once Solve returns, with the final classification and
// the migration diff computed from its result.
type DoneMsg struct {
	State State
	Moves []migration.Move
	Err   error
}

// State mirrors solver.State so this package doesn't need to import
// solver for anything beyond the Solution/Observer types it already uses.
type State = solver.State

// Model is the dashboard's bubbletea model: a running tally of the best
// solution seen so far, updated as SolutionMsg values arrive, finishing
// on a DoneMsg.
type Model struct {
	nodeCount int
	vmCount   int
	maxTime   int
	workers   int

	have   bool
	latest solver.Solution

	done  bool
	state State
	moves []migration.Move
	err   error

	spinner spinner.Model
	width   int
}

// New builds a dashboard Model for a solve over nodeCount nodes and
// vmCount VMs, with the configured time budget and worker count shown in
// the header.
func New(nodeCount, vmCount, maxTime, workers int) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = dimStyle
	return Model{
		nodeCount: nodeCount,
		vmCount:   vmCount,
		maxTime:   maxTime,
		workers:   workers,
		spinner:   s,
		width:     80,
	}
}

// Observer returns a solver.Observer that forwards every intermediate
// solution to the running bubbletea program as a SolutionMsg.
func Observer(p *tea.Program) solver.Observer {
	return func(s solver.Solution) {
		p.Send(SolutionMsg(s))
	}
}

func (m Model) Init() tea.Cmd { return m.spinner.Tick }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case SolutionMsg:
		m.latest = solver.Solution(msg)
		m.have = true
		return m, nil

	case DoneMsg:
		m.done = true
		m.state = msg.State
		m.moves = msg.Moves
		m.err = msg.Err
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", titleStyle.Render("vmrebalance — solving placement"))
	fmt.Fprintf(&b, "%s\n\n", dimStyle.Render(fmt.Sprintf(
		"%d nodes, %d VMs — budget %ds, %d worker(s)",
		m.nodeCount, m.vmCount, m.maxTime, m.workers)))

	if m.done {
		b.WriteString(m.renderDone())
		return b.String()
	}

	if !m.have {
		fmt.Fprintf(&b, "%s constructing initial placement...\n", m.spinner.View())
		return b.String()
	}

	elapsed := m.latest.WallTime
	fmt.Fprintf(&b, "%s elapsed: %s   objective: %d   migration cost: %d\n\n",
		m.spinner.View(), elapsed.Round(10*time.Millisecond), m.latest.Objective, m.latest.MigrationCost)

	dists := append([]solver.NodeDistance(nil), m.latest.PerNodeDist...)
	sort.Slice(dists, func(i, j int) bool { return dists[i].NodeName < dists[j].NodeName })
	for _, d := range dists {
		label := fmt.Sprintf("%-16s", d.NodeName)
		b.WriteString(components.RenderResourceBar(label+" cpu-dist", clampPercent(d.CPUDist), m.width-20))
		b.WriteString("\n")
		b.WriteString(components.RenderResourceBar(label+" mem-dist", clampPercent(d.MemDist), m.width-20))
		b.WriteString("\n")
	}

	b.WriteString("\n" + dimStyle.Render("press q to stop watching (solve continues in the background)") + "\n")
	return b.String()
}

// clampPercent turns a raw distance value into something RenderResourceBar
// can plot as a bar: the dashboard only needs a relative sense of how far
// each node still is from its fair share, not a literal percentage, so
// distances are capped at 100 for display purposes only.
func clampPercent(v float64) float64 {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}

func (m Model) renderDone() string {
	var b strings.Builder
	switch m.state {
	case solver.Infeasible:
		b.WriteString(errStyle.Render("INFEASIBLE") + dimStyle.Render(" — no placement satisfies the configured constraints") + "\n")
		return b.String()
	case solver.Unknown:
		b.WriteString(errStyle.Render("UNKNOWN") + dimStyle.Render(" — solve failed before producing a feasible placement") + "\n")
		if m.err != nil {
			fmt.Fprintf(&b, "%v\n", m.err)
		}
		return b.String()
	}

	status := okStyle.Render(m.state.String())
	fmt.Fprintf(&b, "%s — %d migration(s), total migration cost %d\n\n",
		status, len(m.moves), migration.TotalCost(m.moves))

	sorted := append([]migration.Move(nil), m.moves...)
	migration.ByCostAscending(sorted)
	for _, mv := range sorted {
		fmt.Fprintf(&b, "  vm %-6d %-16s -> %-16s (cost %d)\n", mv.VMID, mv.FromNode, mv.ToNode, mv.MigrationCost)
	}
	return b.String()
}
