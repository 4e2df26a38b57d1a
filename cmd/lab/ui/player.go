package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chemlab/internal/engine"
	"chemlab/internal/experiment"
)

type itemKind int

const (
	itemEquipment itemKind = iota
	itemAction
)

type item struct {
	kind  itemKind
	id    string
	label string
}

// TickMsg drives the engine's animations.
type TickMsg time.Time

// PlayerModel is the interactive bench: a picker of equipment and actions
// on the left, the bench state on the right.
type PlayerModel struct {
	engine   *engine.Engine
	items    []item
	cursor   int
	width    int
	progress progress.Model
	styles   Styles
	quitting bool
}

// NewPlayerModel wraps e. The model owns e from its update loop.
func NewPlayerModel(e *engine.Engine) PlayerModel {
	def := e.Definition()
	var items []item
	for _, eq := range def.Equipment {
		items = append(items, item{kind: itemEquipment, id: eq.ID, label: eq.Name})
	}
	for _, act := range def.Actions {
		items = append(items, item{kind: itemAction, id: act.ID, label: act.Name})
	}
	return PlayerModel{
		engine:   e,
		items:    items,
		width:    100,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		styles:   DefaultStyles(),
	}
}

func (m PlayerModel) tick() tea.Cmd {
	return tea.Tick(m.engine.Interval(), func(t time.Time) tea.Msg { return TickMsg(t) })
}

// Init starts the tick source.
func (m PlayerModel) Init() tea.Cmd {
	return m.tick()
}

// Update handles keys and ticks.
func (m PlayerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case TickMsg:
		m.engine.Tick()
		return m, m.tick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(40, max(10, msg.Width-4))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "k", "up":
			if m.cursor > 0 {
				m.cursor--
			}
		case "j", "down":
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
		case "enter", " ":
			_ = m.activate()
		case "x", "backspace":
			if it, ok := m.selected(); ok && it.kind == itemEquipment {
				_ = m.engine.Handle(engine.EquipmentRemoved{ID: it.id})
			}
		case "s", "tab":
			_ = m.engine.Handle(engine.SkipAnimationRequested{})
		case "u":
			_ = m.engine.Handle(engine.StepUndoRequested{})
		case "r":
			_ = m.engine.Handle(engine.ResetRequested{})
		}
	}
	return m, nil
}

func (m PlayerModel) selected() (item, bool) {
	if m.cursor < 0 || m.cursor >= len(m.items) {
		return item{}, false
	}
	return m.items[m.cursor], true
}

func (m PlayerModel) activate() error {
	it, ok := m.selected()
	if !ok {
		return nil
	}
	if it.kind == itemEquipment {
		return m.engine.Handle(engine.EquipmentPlaced{ID: it.id})
	}
	return m.engine.Handle(engine.ReagentActionInvoked{Action: it.id})
}

// View renders the bench.
func (m PlayerModel) View() string {
	if m.quitting {
		return ""
	}
	snap := m.engine.Snapshot()
	def := m.engine.Definition()

	header := m.styles.Header.Render(def.Title)
	if snap.Phase != nil {
		ph := m.styles.Info.Render(strings.ToUpper(snap.Phase.Current))
		if snap.Phase.Latched {
			ph = m.styles.Warning.Render(strings.ToUpper(snap.Phase.Current))
		}
		header = lipgloss.JoinHorizontal(lipgloss.Center, header, "  ", ph)
	}
	if snap.Done {
		header = lipgloss.JoinHorizontal(lipgloss.Center, header, "  ", m.styles.Success.Render("COMPLETE"))
	}

	left := m.styles.Panel.Render(m.pickerView(snap))
	right := m.styles.Panel.Render(m.benchView(snap))
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)

	var sb strings.Builder
	sb.WriteString(header + "\n\n")
	sb.WriteString(m.progress.ViewAs(float64(snap.Progress.ProgressPercentage)/100) + "\n\n")
	sb.WriteString(body + "\n")
	for _, n := range snap.Notices {
		sb.WriteString(NoticeStyle(m.styles, n.Kind).Render(n.Text) + "\n")
	}
	sb.WriteString("\n" + m.styles.Muted.Render("[enter] place/invoke  [x] remove  [s] skip  [u] undo  [r] reset  [q] quit"))
	return sb.String()
}

func (m PlayerModel) pickerView(snap engine.Snapshot) string {
	placed := make(map[string]bool, len(snap.Placed))
	for _, id := range snap.Placed {
		placed[id] = true
	}
	var sb strings.Builder
	sb.WriteString(m.styles.Bold.Render("Equipment") + "\n")
	for i, it := range m.items {
		if i > 0 && it.kind == itemAction && m.items[i-1].kind == itemEquipment {
			sb.WriteString("\n" + m.styles.Bold.Render("Actions") + "\n")
		}
		line := it.label
		if it.kind == itemEquipment && placed[it.id] {
			line += m.styles.Success.Render(" ✓")
		}
		if i == m.cursor {
			line = m.styles.Selected.Render(line)
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func (m PlayerModel) benchView(snap engine.Snapshot) string {
	var sb strings.Builder
	sb.WriteString(m.styles.Bold.Render("Steps") + "\n")
	sb.WriteString(StepList(m.styles, snap.Steps))
	if len(snap.Vessels) > 0 {
		sb.WriteString("\n" + m.styles.Bold.Render("Bench") + "\n")
		sb.WriteString(Vessels(m.styles, snap.Vessels))
	}
	for _, d := range snap.Dials {
		fmt.Fprintf(&sb, "%-8s %6.2f mL\n", d.ID, d.Displayed)
	}
	if def := m.engine.Definition(); def.Titration != nil && def.Driver != nil {
		if d, ok := snap.Dial(def.Driver.Dial); ok {
			sb.WriteString("\n" + TitrationSummary(m.styles, def.Titration, d.Reading))
		}
	}
	if snap.Animating {
		sb.WriteString(m.styles.Muted.Render("\n…"))
	}
	return sb.String()
}

// TitrationSummary compares a burette reading with the expected endpoint.
func TitrationSummary(s Styles, t *experiment.Titration, volume float64) string {
	verdict := s.Muted.Render("outside the acceptance window")
	if t.Within(volume) {
		verdict = s.Success.Render("within the acceptance window")
	}
	line := fmt.Sprintf("expected %.2f mL, read %.2f mL: %s", t.EndpointVolume(), volume, verdict)
	if n := t.TitrantNormalityFrom(volume); n > 0 {
		line += fmt.Sprintf("\nN(titrant) = %.4f", n)
	}
	return line
}
