// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package prompt asks the user to resolve a conflict in the terminal.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bcem/tracker/internal/models"
)

// ErrAborted is returned when the user quits the prompt without deciding.
var ErrAborted = errors.New("conflict prompt aborted")

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	existingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231"))

	newStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

var optionLabels = map[models.DecisionKind]string{
	models.DecisionKeepExisting:   "Keep existing values",
	models.DecisionUseNew:         "Use new values",
	models.DecisionPerField:       "Choose per field",
	models.DecisionCreateSeparate: "Track as a separate application",
}

type stage int

const (
	stageDecision stage = iota
	stageFields
	stageTyping
	stageDone
)

// Choices offered for each field when deciding per field.
const (
	pickExisting = iota
	pickNew
	pickTyped
)

// Model is the bubbletea model for one conflict.
type Model struct {
	conflict models.Conflict
	options  []models.DecisionKind

	stage    stage
	cursor   int
	fieldIdx int
	values   map[models.Field]string
	input    textinput.Model

	result   models.Resolution
	aborted  bool
	quitting bool
}

// NewModel creates a prompt for c offering options in order.
func NewModel(c models.Conflict, options []models.DecisionKind) Model {
	if len(options) == 0 {
		options = models.Decisions
	}
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 200
	return Model{conflict: c, options: options, input: input}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.stage == stageTyping {
		return m.updateTyping(msg)
	}
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "ctrl+c", "esc", "q":
		m.aborted = true
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < m.choices()-1 {
			m.cursor++
		}
	case "1", "2", "3", "4":
		n := int(key.String()[0] - '1')
		if n < m.choices() {
			m.cursor = n
			return m.choose()
		}
	case "enter", " ":
		return m.choose()
	}
	return m, nil
}

// updateTyping feeds keys to the text input. Enter accepts a non-blank
// value, esc goes back to the field choices.
func (m Model) updateTyping(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC:
			m.aborted = true
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEsc:
			m.input.Blur()
			m.input.Reset()
			m.stage = stageFields
			m.cursor = pickTyped
			return m, nil
		case tea.KeyEnter:
			value := strings.TrimSpace(m.input.Value())
			if value == "" {
				return m, nil
			}
			m.input.Blur()
			m.input.Reset()
			m.stage = stageFields
			return m.setField(value)
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) choices() int {
	if m.stage == stageFields {
		return 3
	}
	return len(m.options)
}

func (m Model) choose() (tea.Model, tea.Cmd) {
	switch m.stage {
	case stageDecision:
		kind := m.options[m.cursor]
		if kind != models.DecisionPerField {
			m.result = models.Resolution{Decision: kind}
			return m.finish()
		}
		m.stage = stageFields
		m.fieldIdx = 0
		m.cursor = 0
		m.values = make(map[models.Field]string, len(m.conflict.Fields))
		return m, nil

	case stageFields:
		fc := m.conflict.Fields[m.fieldIdx]
		switch m.cursor {
		case pickNew:
			return m.setField(fc.New)
		case pickTyped:
			m.stage = stageTyping
			m.input.Placeholder = fc.New
			return m, m.input.Focus()
		}
		return m.setField(fc.Existing)
	}
	return m, nil
}

// setField stores value for the current field and moves to the next one.
func (m Model) setField(value string) (tea.Model, tea.Cmd) {
	m.values[m.conflict.Fields[m.fieldIdx].Field] = value
	m.fieldIdx++
	m.cursor = 0
	if m.fieldIdx < len(m.conflict.Fields) {
		return m, nil
	}
	m.result = models.Resolution{Decision: models.DecisionPerField, Values: m.values}
	return m.finish()
}

func (m Model) finish() (tea.Model, tea.Cmd) {
	m.stage = stageDone
	m.quitting = true
	return m, tea.Quit
}

// Result returns the decision, or false if the user aborted or has not
// decided yet.
func (m Model) Result() (models.Resolution, bool) {
	return m.result, m.stage == stageDone && !m.aborted
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Conflict on application #%d", m.conflict.ApplicationID)))
	b.WriteString(dimStyle.Render("  (message " + m.conflict.MessageID + ")"))
	b.WriteString("\n\n")
	for _, fc := range m.conflict.Fields {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-9s", fc.Field)))
		b.WriteString(existingStyle.Render(fc.Existing))
		b.WriteString(dimStyle.Render("  →  "))
		b.WriteString(newStyle.Render(fc.New))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.stage == stageTyping {
		fc := m.conflict.Fields[m.fieldIdx]
		b.WriteString(labelStyle.Render(fmt.Sprintf("Type a value for %s:", fc.Field)))
		b.WriteString("\n")
		b.WriteString(m.input.View())
		b.WriteString(dimStyle.Render("\n\nenter accept • esc back • ctrl+c abort\n"))
		return b.String()
	}

	var lines []string
	if m.stage == stageFields {
		fc := m.conflict.Fields[m.fieldIdx]
		b.WriteString(labelStyle.Render(fmt.Sprintf("Value for %s:", fc.Field)))
		b.WriteString("\n")
		lines = []string{"existing: " + fc.Existing, "new: " + fc.New, "type a value"}
	} else {
		for _, o := range m.options {
			lines = append(lines, optionLabels[o])
		}
	}
	for i, line := range lines {
		marker := "  "
		if i == m.cursor {
			marker = cursorStyle.Render("> ")
		}
		fmt.Fprintf(&b, "%s%d. %s\n", marker, i+1, line)
	}
	b.WriteString(dimStyle.Render("\n↑/↓ move • enter select • q abort\n"))
	return b.String()
}

// Prompter runs the prompt on a terminal. It satisfies resolution.Asker.
type Prompter struct {
	in  io.Reader
	out io.Writer
}

// New creates a prompter reading keys from in and drawing to out.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: in, out: out}
}

// Ask shows the conflict and blocks until the user decides.
func (p *Prompter) Ask(ctx context.Context, c models.Conflict, options []models.DecisionKind) (models.Resolution, error) {
	prog := tea.NewProgram(NewModel(c, options),
		tea.WithContext(ctx),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
	)
	final, err := prog.Run()
	if err != nil {
		return models.Resolution{}, fmt.Errorf("conflict prompt: %w", err)
	}
	res, ok := final.(Model).Result()
	if !ok {
		return models.Resolution{}, ErrAborted
	}
	return res, nil
}
