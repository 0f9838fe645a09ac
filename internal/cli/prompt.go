package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var errPromptCancelled = errors.New("cancelled")

type promptField struct {
	Label  string
	Value  string
	Secret bool
}

type promptModel struct {
	title     string
	labels    []string
	inputs    []textinput.Model
	index     int
	errMsg    string
	done      bool
	cancelled bool
}

var (
	promptTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	promptLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	promptErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
)

func newPromptModel(title string, fields []promptField) promptModel {
	m := promptModel{title: title}
	for _, f := range fields {
		in := textinput.New()
		in.Prompt = "> "
		in.CharLimit = 128
		in.SetValue(f.Value)
		if f.Secret {
			in.EchoMode = textinput.EchoPassword
			in.EchoCharacter = '•'
		}
		m.labels = append(m.labels, f.Label)
		m.inputs = append(m.inputs, in)
	}
	m.index = m.firstEmpty()
	if len(m.inputs) > 0 {
		m.inputs[m.index].Focus()
	}
	return m
}

func (m promptModel) firstEmpty() int {
	for i, in := range m.inputs {
		if strings.TrimSpace(in.Value()) == "" {
			return i
		}
	}
	return 0
}

func (m promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		case "up", "shift+tab":
			m = m.focus(m.index - 1)
			return m, nil
		case "down", "tab":
			m = m.focus(m.index + 1)
			return m, nil
		case "enter":
			if strings.TrimSpace(m.inputs[m.index].Value()) == "" {
				m.errMsg = m.labels[m.index] + " is required"
				return m, nil
			}
			m.errMsg = ""
			if next := m.firstEmpty(); strings.TrimSpace(m.inputs[next].Value()) == "" {
				m = m.focus(next)
				return m, nil
			}
			m.done = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.inputs[m.index], cmd = m.inputs[m.index].Update(msg)
	return m, cmd
}

func (m promptModel) focus(i int) promptModel {
	if i < 0 || i >= len(m.inputs) {
		return m
	}
	m.inputs[m.index].Blur()
	m.index = i
	m.inputs[m.index].Focus()
	return m
}

func (m promptModel) values() []string {
	out := make([]string, len(m.inputs))
	for i, in := range m.inputs {
		out[i] = strings.TrimSpace(in.Value())
	}
	return out
}

func (m promptModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	var b strings.Builder
	b.WriteString(promptTitleStyle.Render(m.title) + "\n\n")
	for i, in := range m.inputs {
		b.WriteString(promptLabelStyle.Render(m.labels[i]) + "\n")
		b.WriteString(in.View() + "\n\n")
	}
	if m.errMsg != "" {
		b.WriteString(promptErrorStyle.Render(m.errMsg) + "\n")
	}
	b.WriteString(promptLabelStyle.Render("enter: next/submit  tab: move  esc: cancel"))
	return b.String()
}

// prompt fills the missing values of fields interactively. Fields that already
// have a value are shown prefilled. Without a terminal every field must be set.
func prompt(title string, fields []promptField) ([]string, error) {
	missing := false
	for _, f := range fields {
		if strings.TrimSpace(f.Value) == "" {
			missing = true
			if !stdinIsTTY() {
				return nil, fmt.Errorf("%s is required", strings.ToLower(f.Label))
			}
		}
	}
	if !missing {
		out := make([]string, len(fields))
		for i, f := range fields {
			out[i] = strings.TrimSpace(f.Value)
		}
		return out, nil
	}

	final, err := tea.NewProgram(newPromptModel(title, fields)).Run()
	if err != nil {
		return nil, err
	}
	m, ok := final.(promptModel)
	if !ok || m.cancelled || !m.done {
		return nil, errPromptCancelled
	}
	return m.values(), nil
}
