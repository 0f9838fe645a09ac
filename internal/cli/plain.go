package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/thumbgen/tracker/internal/model"
	"github.com/thumbgen/tracker/internal/realtime"
)

// plainReporter prints one line whenever a job's visible state changes.
type plainReporter struct {
	out io.Writer

	mu   sync.Mutex
	last map[string]string
}

func newPlainReporter(out io.Writer) *plainReporter {
	return &plainReporter{out: out, last: make(map[string]string)}
}

func (r *plainReporter) OnChange(jobs []model.TrackedJob) {
	r.mu.Lock()
	defer r.mu.Unlock()

	present := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		present[job.LocalID] = true
		line := fmt.Sprintf("%-32s %-11s %s", truncate(job.FileName, 32), job.Status, detail(job))
		if r.last[job.LocalID] == line {
			continue
		}
		r.last[job.LocalID] = line
		fmt.Fprintln(r.out, line)
	}
	for id := range r.last {
		if !present[id] {
			delete(r.last, id)
		}
	}
}

func (r *plainReporter) OnConnection(state realtime.State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		fmt.Fprintf(r.out, "-- live updates %s: %v\n", state, err)
		return
	}
	fmt.Fprintf(r.out, "-- live updates %s\n", state)
}

func detail(job model.TrackedJob) string {
	switch job.Status {
	case model.JobStatusCompleted:
		return job.ThumbnailURL
	case model.JobStatusFailed:
		return job.Error
	}
	if job.ServerJobID != "" {
		return "job " + job.ServerJobID
	}
	return ""
}

func allTerminal(jobs []model.TrackedJob) bool {
	for _, job := range jobs {
		if !job.Status.IsTerminal() {
			return false
		}
	}
	return true
}
