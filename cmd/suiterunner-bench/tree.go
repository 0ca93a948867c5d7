package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Swind/go-suite-runner/core"
)

// TreeOptions shapes a synthetic suite tree.
type TreeOptions struct {
	Suites    int
	Classes   int
	Methods   int
	Sleep     time.Duration
	FailEvery int
}

// BuildTree returns a root suite of Suites suites, each holding Classes
// classes of Methods methods. Every method sleeps for Sleep; with FailEvery
// set, every FailEvery-th method fails.
func BuildTree(opts TreeOptions) *core.Container {
	root := core.NewSuite("Bench")
	n := 0
	for s := 0; s < opts.Suites; s++ {
		suite := core.NewSuite(fmt.Sprintf("Suite%d", s+1))
		for c := 0; c < opts.Classes; c++ {
			className := fmt.Sprintf("Suite%d.Class%d", s+1, c+1)
			class := core.NewClass(className)
			for m := 0; m < opts.Methods; m++ {
				n++
				fail := opts.FailEvery > 0 && n%opts.FailEvery == 0
				_ = class.Add(core.NewMethod(className, fmt.Sprintf("test%d", m+1), sleeper(opts.Sleep, fail)))
			}
			_ = suite.Add(class)
		}
		_ = root.Add(suite)
	}
	return root
}

func sleeper(d time.Duration, fail bool) core.TestFunc {
	return func(ctx context.Context) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		if fail {
			return fmt.Errorf("injected failure after %s", d)
		}
		return nil
	}
}
