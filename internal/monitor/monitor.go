// Package monitor renders the running engine's per-strip telemetry as a
// bubbletea TUI: a bubbles/progress bar per strip for volume (grounded
// on the teacher's internal/supercollider/startup_progress.go use of
// progress.New(progress.WithDefaultGradient())), plus a termenv/
// go-colorful colored grain-activity dot following the teacher's
// internal/views mixer-meter coloring convention.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/termenv"

	"github.com/schollz/mlrengine/internal/music"
)

// StripSnapshot is one strip's display-relevant state for a single
// refresh, matching what engine.Process/oscbridge would publish.
type StripSnapshot struct {
	Index          int
	Playing        bool
	Column         int
	PositionInLoop float64
	Volume         float64
	PitchSemis     float64
	GrainVoices    int
}

// tickMsg drives the 30fps redraw loop, named after the teacher's
// WaveformTickMsg.
type tickMsg struct{}

func tick() tea.Cmd {
	return tea.Tick(time.Second/30, func(time.Time) tea.Msg { return tickMsg{} })
}

// Model is the bubbletea model for the strip monitor.
type Model struct {
	Snapshot func() []StripSnapshot

	strips []StripSnapshot
	bars   []progress.Model
	width  int
	height int
}

// New returns a monitor Model that pulls strip state from snapshot on
// every tick.
func New(snapshot func() []StripSnapshot) Model {
	return Model{Snapshot: snapshot}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tickMsg:
		if m.Snapshot != nil {
			m.strips = m.Snapshot()
			m.ensureBars()
		}
		return m, tick()
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

// ensureBars grows the bar pool to match the current strip count; each
// strip keeps its own progress.Model so a future animated-transition
// fill (progress.Model.SetPercent) has somewhere to keep state.
func (m *Model) ensureBars() {
	for len(m.bars) < len(m.strips) {
		p := progress.New(progress.WithDefaultGradient())
		p.Width = 20
		m.bars = append(m.bars, p)
	}
}

var (
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	playingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
)

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("strip  state   col  position  volume                pitch  grains"))
	b.WriteString("\n")
	profile := termenv.ColorProfile()
	for i, s := range m.strips {
		state := "idle "
		style := idleStyle
		if s.Playing {
			state = "play "
			style = playingStyle
		}
		bar := ""
		if i < len(m.bars) {
			bar = m.bars[i].ViewAs(clamp01(s.Volume))
		}
		note := music.MidiToNoteName(60 + int(s.PitchSemis))
		dot := grainDot(profile, s.GrainVoices)
		b.WriteString(fmt.Sprintf("%-5d  %s  %3d  %8.3f  %s  %-3s  %s\n",
			s.Index, style.Render(state), s.Column, s.PositionInLoop, bar, note, dot))
	}
	return b.String()
}

// grainDot renders a colored intensity dot for the active grain-voice
// count, brighter green as more voices sound, following the teacher's
// mixer.go fillColor/profile.Color(hex) pattern.
func grainDot(profile termenv.Profile, voices int) string {
	intensity := clamp01(float64(voices) / 8.0)
	color, _ := colorful.Hsv(130, intensity, 0.4+0.6*intensity)
	return termenv.String(fmt.Sprintf("● %d", voices)).Foreground(profile.Color(color.Hex())).String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
