package core

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func newSequentialExecution() (*Execution, *Result, *recordingListener) {
	n := newTestNotifier()
	r := NewResult()
	n.AddFirstListener(r.CreateListener())
	l := newRecordingListener("events")
	n.AddListener(l)
	return &Execution{Notifier: n, Schedulers: SequentialSchedulers{}}, r, l
}

// TestMethod_Outcomes verifies how a leaf test body maps onto events
// Given: Tests that pass, fail, violate an assumption, panic, and are ignored
// When: Each is run
// Then: The notifier sees the matching event sequence
func TestMethod_Outcomes(t *testing.T) {
	cases := []struct {
		name string
		m    *Method
		want []string
	}{
		{
			name: "pass",
			m:    NewMethod("C", "m", func(ctx context.Context) error { return nil }),
			want: []string{"started m(C)", "finished m(C)"},
		},
		{
			name: "nil body",
			m:    NewMethod("C", "m", nil),
			want: []string{"started m(C)", "finished m(C)"},
		},
		{
			name: "fail",
			m:    NewMethod("C", "m", func(ctx context.Context) error { return errors.New("bad") }),
			want: []string{"started m(C)", "failure m(C)", "finished m(C)"},
		},
		{
			name: "assumption",
			m:    NewMethod("C", "m", func(ctx context.Context) error { return AssumptionViolated("offline") }),
			want: []string{"started m(C)", "assumption m(C)", "finished m(C)"},
		},
		{
			name: "panic",
			m:    NewMethod("C", "m", func(ctx context.Context) error { panic("kaboom") }),
			want: []string{"started m(C)", "failure m(C)", "finished m(C)"},
		},
		{
			name: "ignored",
			m:    NewMethod("C", "m", func(ctx context.Context) error { return errors.New("must not run") }, Ignored()),
			want: []string{"ignored m(C)"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			exec, _, l := newSequentialExecution()

			// Act
			tc.m.Run(context.Background(), exec, nil)

			// Assert
			if got := l.Events(); !slices.Equal(got, tc.want) {
				t.Errorf("events = %v, want %v", got, tc.want)
			}
		})
	}
}

// TestMethod_Timeout verifies a slow test fails with ErrTestTimedOut
func TestMethod_Timeout(t *testing.T) {
	exec, r, _ := newSequentialExecution()
	m := NewMethod("C", "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(20*time.Millisecond))

	m.Run(context.Background(), exec, nil)

	if r.FailureCount() != 1 || !errors.Is(r.Failures()[0].Err, ErrTestTimedOut) {
		t.Fatalf("failures = %v, want one ErrTestTimedOut", r.Failures())
	}
	if r.RunCount() != 1 {
		t.Errorf("RunCount() = %d, want 1", r.RunCount())
	}
}

// TestMethod_Interrupted verifies cancellation of the run is not a timeout
func TestMethod_Interrupted(t *testing.T) {
	exec, r, _ := newSequentialExecution()
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMethod("C", "m", func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(time.Minute))

	m.Run(ctx, exec, nil)

	if r.FailureCount() != 1 {
		t.Fatalf("failures = %v", r.Failures())
	}
	err := r.Failures()[0].Err
	if !errors.Is(err, ErrInterrupted) || errors.Is(err, ErrTestTimedOut) {
		t.Errorf("failure = %v, want ErrInterrupted only", err)
	}
}

func TestMethod_ReportsThroughContextNotifier(t *testing.T) {
	exec, _, _ := newSequentialExecution()
	var seen *RunNotifier
	m := NewMethod("C", "m", func(ctx context.Context) error {
		seen = NotifierFromContext(ctx)
		return nil
	})

	m.Run(context.Background(), exec, nil)

	if seen != exec.Notifier {
		t.Error("test body did not see its run's notifier")
	}
}

func TestMethod_NotStartedAfterPleaseStop(t *testing.T) {
	exec, r, l := newSequentialExecution()
	exec.Notifier.PleaseStop()
	ran := false

	NewMethod("C", "m", func(ctx context.Context) error { ran = true; return nil }).Run(context.Background(), exec, nil)

	if ran || r.RunCount() != 0 || len(l.Events()) != 0 {
		t.Errorf("ran = %v RunCount = %d events = %v", ran, r.RunCount(), l.Events())
	}
}

func sampleTree() *Container {
	noop := func(ctx context.Context) error { return nil }
	return NewSuite("All",
		NewClass("B", NewMethod("B", "z", noop), NewMethod("B", "a", noop)),
		NewClass("A", NewMethod("A", "y", noop), NewMethod("A", "x", noop)),
	)
}

// TestContainer_RunsChildrenInOrder verifies sequential dispatch
// Given: A suite of two classes run with sequential schedulers
// When: The suite runs
// Then: Every method runs in declaration order
func TestContainer_RunsChildrenInOrder(t *testing.T) {
	// Arrange
	exec, r, l := newSequentialExecution()
	tree := sampleTree()

	// Act
	tree.Run(context.Background(), exec, nil)

	// Assert
	var started []string
	for _, e := range l.Events() {
		if name, ok := strings.CutPrefix(e, "started "); ok {
			started = append(started, name)
		}
	}
	want := []string{"z(B)", "a(B)", "y(A)", "x(A)"}
	if !slices.Equal(started, want) {
		t.Errorf("started = %v, want %v", started, want)
	}
	if r.RunCount() != 4 || !r.WasSuccessful() {
		t.Errorf("RunCount = %d, failures = %v", r.RunCount(), r.Failures())
	}
}

func TestContainer_SortAndFilter(t *testing.T) {
	tree := sampleTree()

	if err := tree.Sort(func(a, b *Description) int { return strings.Compare(a.DisplayName(), b.DisplayName()) }); err != nil {
		t.Fatalf("Sort() = %v", err)
	}
	if err := tree.Filter(func(d *Description) bool { return d.DisplayName() != "x(A)" }); err != nil {
		t.Fatalf("Filter() = %v", err)
	}

	var got []string
	for _, class := range tree.Describe().Children() {
		for _, m := range class.Children() {
			got = append(got, m.DisplayName())
		}
	}
	want := []string{"y(A)", "a(B)", "z(B)"}
	if !slices.Equal(got, want) {
		t.Errorf("leaves = %v, want %v", got, want)
	}
	if tree.Describe().TestCount() != 3 {
		t.Errorf("TestCount() = %d, want 3", tree.Describe().TestCount())
	}
}

func TestContainer_FilterDropsEmptyContainers(t *testing.T) {
	tree := sampleTree()

	_ = tree.Filter(func(d *Description) bool { return strings.HasSuffix(d.DisplayName(), "(A)") })

	children := tree.Describe().Children()
	if len(children) != 1 || children[0].DisplayName() != "A" {
		t.Errorf("children = %v, want only A", children)
	}
}

func TestContainer_ImmutableAfterStart(t *testing.T) {
	exec, _, _ := newSequentialExecution()
	tree := sampleTree()
	tree.Run(context.Background(), exec, nil)

	if err := tree.Add(NewMethod("C", "late", nil)); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Add() = %v, want ErrIllegalState", err)
	}
	if err := tree.Sort(func(a, b *Description) int { return 0 }); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Sort() = %v, want ErrIllegalState", err)
	}
	if err := tree.Filter(func(*Description) bool { return true }); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Filter() = %v, want ErrIllegalState", err)
	}
}

func TestContainer_ChildLevel(t *testing.T) {
	class := NewClass("C", NewMethod("C", "m", nil))
	classes := NewSuite("S", class)
	suites := NewSuite("Root", classes)
	loose := NewSuite("Loose", NewMethod("C", "m", nil))

	cases := map[*Container]Level{
		class:   LevelMethods,
		classes: LevelClasses,
		suites:  LevelSuites,
		loose:   LevelMethods,
	}
	for c, want := range cases {
		if got := c.ChildLevel(); got != want {
			t.Errorf("%s.ChildLevel() = %v, want %v", c.Name(), got, want)
		}
	}
}

// deadPoolSchedulers hands out schedulers whose pool refuses everything.
type deadPoolSchedulers struct{}

func (deadPoolSchedulers) NewScheduler(ctx context.Context, parent *Scheduler, node *Container) *Scheduler {
	pool := newManualPool()
	pool.Shutdown()
	return NewScheduler(node.Name(), node.Describe, NewSharedPoolStrategy(pool, 0))
}

// TestContainer_RejectionIsFailure verifies rejections not caused by a
// shutdown are reported as failures of the child
func TestContainer_RejectionIsFailure(t *testing.T) {
	n := newTestNotifier()
	r := NewResult()
	n.AddListener(r.CreateListener())
	class := NewClass("C", NewMethod("C", "m", nil))

	class.Run(context.Background(), &Execution{Notifier: n, Schedulers: deadPoolSchedulers{}}, nil)

	if r.FailureCount() != 1 || r.Failures()[0].Description.DisplayName() != "m(C)" {
		t.Fatalf("failures = %v", r.Failures())
	}
	if !errors.Is(r.Failures()[0].Err, ErrRejectedExecution) {
		t.Errorf("failure = %v, want ErrRejectedExecution", r.Failures()[0].Err)
	}
}

func TestLevel_String(t *testing.T) {
	got := []string{LevelSuites.String(), LevelClasses.String(), LevelMethods.String(), Level(7).String()}
	if !slices.Equal(got, []string{"suites", "classes", "methods", "unknown"}) {
		t.Errorf("String() = %v", got)
	}
}
