// Package reporting turns run events into human-readable reports.
package reporting

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Swind/go-suite-runner/core"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Status is the outcome of one reported entry.
type Status string

const (
	StatusPassed           Status = "PASS"
	StatusFailed           Status = "FAIL"
	StatusIgnored          Status = "SKIP"
	StatusAssumptionFailed Status = "ASSUME"
	StatusRunning          Status = "RUNNING"
)

// Entry is one row of the report.
type Entry struct {
	ID       string
	Name     string
	Status   Status
	Duration time.Duration
	Message  string
}

// Summary counts entries by status.
type Summary struct {
	Total            int
	Passed           int
	Failed           int
	Ignored          int
	AssumptionFailed int
	Duration         time.Duration
}

// TableReporter is a core.RunListener collecting per-test outcomes for a
// go-pretty table.
type TableReporter struct {
	title string

	mu       sync.Mutex
	order    []string
	entries  map[string]*Entry
	started  map[string]time.Time
	runTime  time.Duration
	finished bool
}

var _ core.ThreadSafeListener = (*TableReporter)(nil)

func NewTableReporter(title string) *TableReporter {
	if title == "" {
		title = "Test Results"
	}
	return &TableReporter{
		title:   title,
		entries: make(map[string]*Entry),
		started: make(map[string]time.Time),
	}
}

func (r *TableReporter) ThreadSafe() {}

func (r *TableReporter) TestRunStarted(desc *core.Description) error { return nil }

func (r *TableReporter) TestRunFinished(result *core.Result) error {
	r.mu.Lock()
	r.runTime = result.RunTime()
	r.finished = true
	r.mu.Unlock()
	return nil
}

func (r *TableReporter) TestStarted(desc *core.Description) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(desc)
	e.Status = StatusRunning
	r.started[desc.UniqueID()] = time.Now()
	return nil
}

func (r *TableReporter) TestFinished(desc *core.Description) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(desc)
	if e.Status == StatusRunning {
		e.Status = StatusPassed
	}
	if startedAt, ok := r.started[desc.UniqueID()]; ok {
		e.Duration = time.Since(startedAt)
		delete(r.started, desc.UniqueID())
	}
	return nil
}

func (r *TableReporter) TestFailure(failure *core.Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(failure.Description)
	e.Status = StatusFailed
	e.Message = appendMessage(e.Message, failure.Message())
	return nil
}

func (r *TableReporter) TestAssumptionFailure(failure *core.Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entryLocked(failure.Description)
	if e.Status != StatusFailed {
		e.Status = StatusAssumptionFailed
	}
	e.Message = appendMessage(e.Message, failure.Message())
	return nil
}

func (r *TableReporter) TestIgnored(desc *core.Description) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entryLocked(desc).Status = StatusIgnored
	return nil
}

func (r *TableReporter) entryLocked(desc *core.Description) *Entry {
	id := desc.UniqueID()
	if e, ok := r.entries[id]; ok {
		return e
	}
	e := &Entry{ID: id, Name: desc.DisplayName()}
	r.entries[id] = e
	r.order = append(r.order, id)
	return e
}

func appendMessage(cur, msg string) string {
	if cur == "" {
		return msg
	}
	return cur + "; " + msg
}

// Entries returns the rows in first-seen order.
func (r *TableReporter) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.entries[id])
	}
	return out
}

// Summary counts the rows by status.
func (r *TableReporter) Summary() Summary {
	entries := r.Entries()
	r.mu.Lock()
	s := Summary{Total: len(entries), Duration: r.runTime}
	r.mu.Unlock()
	for _, e := range entries {
		switch e.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusIgnored:
			s.Ignored++
		case StatusAssumptionFailed:
			s.AssumptionFailed++
		}
	}
	return s
}

// Render writes the table to w.
func (r *TableReporter) Render(w io.Writer) error {
	_, err := io.WriteString(w, r.Format())
	return err
}

// Format returns the table as text.
func (r *TableReporter) Format() string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(r.title)
	t.AppendHeader(table.Row{"Test", "Duration", "Status", "Message"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 120, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Message", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, e := range r.Entries() {
		t.AppendRow(table.Row{e.Name, formatDuration(e.Duration), string(e.Status), e.Message})
	}

	s := r.Summary()
	overall := "PASS"
	switch {
	case s.Failed > 0:
		overall = "FAIL"
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case s.Ignored > 0 || s.AssumptionFailed > 0:
		overall = "SKIP"
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("TOTAL %d (passed %d, failed %d, skipped %d)", s.Total, s.Passed, s.Failed, s.Ignored+s.AssumptionFailed),
		formatDuration(s.Duration),
		overall,
		"",
	})

	t.Render()
	return buf.String()
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
