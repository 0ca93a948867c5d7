package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-suite-runner/core"
)

// TestBuildTree_Shape verifies the synthetic tree layout and failure injection
func TestBuildTree_Shape(t *testing.T) {
	root := BuildTree(TreeOptions{Suites: 2, Classes: 3, Methods: 4, Sleep: time.Millisecond, FailEvery: 5})

	assert.Equal(t, 24, root.Describe().TestCount())
	assert.Equal(t, core.LevelSuites, root.ChildLevel())

	result := core.NewResult()
	notifier := core.NewRunNotifier()
	notifier.AddListener(result.CreateListener())
	root.Run(context.Background(), &core.Execution{Notifier: notifier, Schedulers: core.SequentialSchedulers{}}, nil)

	assert.Equal(t, 24, result.RunCount())
	require.Equal(t, 4, result.FailureCount())
	assert.Contains(t, result.Failures()[0].Message(), "injected failure")
}
