// Package suiterunner executes trees of suites, classes and test methods with
// independently configured parallelism per tree level.
//
// A ParallelComputerBuilder collects the per-level requests and an optional
// shared pool capacity; Build freezes them into an AllocationPlan and returns
// a ParallelComputer. Lifecycle events of every test reach RunListeners
// through a core.RunNotifier.
//
// # Quick Start
//
//	b := suiterunner.NewParallelComputerBuilder()
//	_ = b.UseOnePool(4)
//	_ = b.Parallel(suiterunner.Methods, suiterunner.Unbounded)
//	computer, err := b.Build()
//	if err != nil {
//		return err
//	}
//
//	root := suiterunner.NewSuite("all",
//		suiterunner.NewClass("MathTest",
//			suiterunner.NewMethod("MathTest", "adds", func(ctx context.Context) error {
//				return nil
//			}),
//		),
//	)
//	result := computer.Run(ctx, root, nil)
//	fmt.Println(result.RunCount(), result.FailureCount())
//
// # Allocation
//
// Without a shared pool every parallel level gets a private pool per node,
// sized to the level's request. With UseOnePool(C) every parallel level
// draws from one pool of C slots and a request above C silently degrades to
// C. A level asking for 1 always runs sequentially.
//
// # Shutdown
//
// ParallelComputer.Shutdown(interrupt) stops every scheduler top-down and
// returns the descriptions still in flight. Cancellation is cooperative: test
// bodies observe their context.
package suiterunner
