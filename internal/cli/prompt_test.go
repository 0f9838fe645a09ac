package cli

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func promptUpdate(t *testing.T, m promptModel, msg tea.Msg) (promptModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	pm, ok := next.(promptModel)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return pm, cmd
}

func TestPromptModel_FocusesFirstEmptyField(t *testing.T) {
	m := newPromptModel("Sign in", []promptField{
		{Label: "Email", Value: "a@b.c"},
		{Label: "Password", Secret: true},
	})
	if m.index != 1 {
		t.Errorf("expected focus on password, got %d", m.index)
	}
}

func TestPromptModel_EnterRequiresValue(t *testing.T) {
	m := newPromptModel("Sign in", []promptField{
		{Label: "Email", Value: "a@b.c"},
		{Label: "Password", Secret: true},
	})

	m, cmd := promptUpdate(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil || m.done {
		t.Fatal("expected no submit with an empty field")
	}
	if m.errMsg != "Password is required" {
		t.Errorf("unexpected error %q", m.errMsg)
	}

	m, _ = promptUpdate(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("secret12")})
	m, cmd = promptUpdate(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.done || cmd == nil {
		t.Fatal("expected submit")
	}
	values := m.values()
	if values[0] != "a@b.c" || values[1] != "secret12" {
		t.Errorf("unexpected values %v", values)
	}
}

func TestPromptModel_EnterMovesToNextEmpty(t *testing.T) {
	m := newPromptModel("Create account", []promptField{
		{Label: "Name"},
		{Label: "Email"},
	})

	m, _ = promptUpdate(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("Ada")})
	m, _ = promptUpdate(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.done || m.index != 1 {
		t.Fatalf("expected focus on email, done=%v index=%d", m.done, m.index)
	}
}

func TestPromptModel_Cancel(t *testing.T) {
	m := newPromptModel("Sign in", []promptField{{Label: "Email"}})
	m, cmd := promptUpdate(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if !m.cancelled || cmd == nil {
		t.Error("expected cancel")
	}
	if m.View() != "" {
		t.Error("expected empty view")
	}
}

func TestPrompt_AllValuesGiven(t *testing.T) {
	values, err := prompt("Sign in", []promptField{
		{Label: "Email", Value: " a@b.c "},
		{Label: "Password", Value: "pw"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if values[0] != "a@b.c" || values[1] != "pw" {
		t.Errorf("unexpected values %v", values)
	}
}
