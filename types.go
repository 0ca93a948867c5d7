package suiterunner

import "github.com/Swind/go-suite-runner/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the suiterunner package for most use cases.

// Task is the unit of work (Closure)
type Task = core.Task

// ThreadPool is re-exported for type compatibility
type ThreadPool = core.ThreadPool

// Description identifies a suite or a test
type Description = core.Description

// WorkItem is one node of the tree a computer runs
type WorkItem = core.WorkItem

// Container is a suite or class node
type Container = core.Container

// Method is a leaf test
type Method = core.Method

// TestFunc is the body of a leaf test
type TestFunc = core.TestFunc

// RunListener observes lifecycle events
type RunListener = core.RunListener

// BaseRunListener implements RunListener with no-ops
type BaseRunListener = core.BaseRunListener

// RunNotifier fans events out to listeners
type RunNotifier = core.RunNotifier

// Result aggregates the outcome of a run
type Result = core.Result

// Failure pairs a description with its error
type Failure = core.Failure

// Constructors
var (
	NewSuite           = core.NewSuite
	NewClass           = core.NewClass
	NewMethod          = core.NewMethod
	NewRunNotifier     = core.NewRunNotifier
	WithTimeout        = core.WithTimeout
	Ignored            = core.Ignored
	AssumptionViolated = core.AssumptionViolated
)
