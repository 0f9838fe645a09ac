package cli

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/thumbgen/tracker/internal/model"
	"github.com/thumbgen/tracker/internal/realtime"
	"github.com/thumbgen/tracker/internal/tracker"
)

type fakeActions struct {
	removed   []string
	downloads []string
	teardowns int
}

func (f *fakeActions) Remove(key string) bool {
	f.removed = append(f.removed, key)
	return true
}

func (f *fakeActions) Download(job model.TrackedJob) (string, error) {
	f.downloads = append(f.downloads, job.LocalID)
	return "/tmp/" + job.FileName, nil
}

func (f *fakeActions) Teardown() {
	f.teardowns++
}

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sampleJobs() []model.TrackedJob {
	return []model.TrackedJob{
		{LocalID: "l1", ServerJobID: "j1", FileName: "a.png", MediaKind: model.MediaKindImage, Status: model.JobStatusCompleted, ThumbnailURL: "http://cdn/a.jpg"},
		{LocalID: "l2", FileName: "b.mp4", MediaKind: model.MediaKindVideo, Status: model.JobStatusPending},
		{LocalID: "l3", ServerJobID: "j3", FileName: "c.gif", MediaKind: model.MediaKindImage, Status: model.JobStatusFailed, Error: "decode failed"},
	}
}

func update(t *testing.T, m dashboardModel, msg tea.Msg) (dashboardModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	dm, ok := next.(dashboardModel)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return dm, cmd
}

func TestDashboard_QuitTearsDownOnce(t *testing.T) {
	actions := &fakeActions{}
	m := newDashboardModel(actions)

	m, cmd := update(t, m, runeKey("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if actions.teardowns != 1 {
		t.Errorf("expected 1 teardown, got %d", actions.teardowns)
	}
	if m.View() != "" {
		t.Error("expected empty view after quitting")
	}
}

func TestDashboard_SelectionFollowsSnapshots(t *testing.T) {
	m := newDashboardModel(&fakeActions{})
	m, _ = update(t, m, snapshotMsg(sampleJobs()))

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = update(t, m, runeKey("j"))
	m, _ = update(t, m, runeKey("j"))
	if m.cursor != 2 {
		t.Fatalf("expected cursor at last row, got %d", m.cursor)
	}

	m, _ = update(t, m, snapshotMsg(sampleJobs()[:1]))
	if m.cursor != 0 {
		t.Errorf("expected cursor clamped to 0, got %d", m.cursor)
	}

	m, _ = update(t, m, snapshotMsg(nil))
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if m.cursor != 0 {
		t.Errorf("expected cursor 0 on empty list, got %d", m.cursor)
	}
}

func TestDashboard_RemoveUsesPreferredKey(t *testing.T) {
	actions := &fakeActions{}
	m := newDashboardModel(actions)
	m, _ = update(t, m, snapshotMsg(sampleJobs()))

	m, _ = update(t, m, runeKey("x"))
	m, _ = update(t, m, runeKey("j"))
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDelete})

	if strings.Join(actions.removed, ",") != "j1,l2" {
		t.Errorf("unexpected removals %v", actions.removed)
	}
	if !strings.Contains(m.status, "b.mp4") {
		t.Errorf("unexpected status %q", m.status)
	}
}

func TestDashboard_Download(t *testing.T) {
	actions := &fakeActions{}
	m := newDashboardModel(actions)
	m, _ = update(t, m, snapshotMsg(sampleJobs()))

	m, cmd := update(t, m, runeKey("d"))
	if cmd == nil {
		t.Fatal("expected download command")
	}
	msg, ok := cmd().(downloadMsg)
	if !ok {
		t.Fatal("expected downloadMsg")
	}
	if msg.path != "/tmp/a.png" || msg.err != nil {
		t.Errorf("unexpected download result %+v", msg)
	}
	m, _ = update(t, m, msg)
	if m.status != "saved /tmp/a.png" {
		t.Errorf("unexpected status %q", m.status)
	}

	m, _ = update(t, m, runeKey("j"))
	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("expected no command for a pending job")
	}
	if m.status != "b.mp4 has no thumbnail yet" {
		t.Errorf("unexpected status %q", m.status)
	}
	if len(actions.downloads) != 1 {
		t.Errorf("expected 1 download, got %d", len(actions.downloads))
	}

	m, _ = update(t, m, downloadMsg{file: "a.png", err: errors.New("boom")})
	if m.status != "download failed: boom" {
		t.Errorf("unexpected status %q", m.status)
	}
}

func TestDashboard_ViewShowsJobsAndConnection(t *testing.T) {
	m := newDashboardModel(&fakeActions{})
	m, _ = update(t, m, snapshotMsg(sampleJobs()))
	m, _ = update(t, m, connectionMsg{state: realtime.StateDisconnected, err: errors.New("refused")})

	view := m.View()
	for _, want := range []string{"a.png", "b.mp4", "decode failed", "http://cdn/a.jpg", "disconnected: refused", "3 jobs"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}
}

func TestSummarize(t *testing.T) {
	got := summarize(sampleJobs())
	want := "3 jobs | pending 1 | completed 1 | failed 1"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if summarize(nil) != "0 jobs" {
		t.Errorf("unexpected empty summary %q", summarize(nil))
	}
}

func TestSubmitStatus(t *testing.T) {
	res := &tracker.SubmitResult{
		LocalIDs: []string{"l1", "l2"},
		Rejected: []model.FileRejection{{Name: "doc.pdf", Reason: "unsupported format"}},
	}
	got := submitStatus(res, nil)
	if got != "uploaded 2 file(s); rejected doc.pdf (unsupported format)" {
		t.Errorf("unexpected status %q", got)
	}
	if submitStatus(nil, errors.New("offline")) != "upload failed: offline" {
		t.Error("expected error status")
	}
}

func TestTruncate(t *testing.T) {
	if truncate("short", 10) != "short" {
		t.Error("short strings must be unchanged")
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("unexpected %q", got)
	}
}
