package core

import (
	"context"
	"testing"
)

func numberedItem(i int, out *[]int) TaskItem {
	return TaskItem{ID: GenerateTaskID(), Task: func(ctx context.Context) { *out = append(*out, i) }}
}

// TestFIFOTaskQueue_Order verifies first-in first-out ordering
// Given: A queue with five items pushed in order
// When: Items are popped and run
// Then: They run in push order and the queue ends empty
func TestFIFOTaskQueue_Order(t *testing.T) {
	// Arrange
	q := NewFIFOTaskQueue()
	var got []int
	for i := 0; i < 5; i++ {
		q.Push(numberedItem(i, &got))
	}

	// Act
	for {
		item, ok := q.Pop()
		if !ok {
			break
		}
		item.Task(context.Background())
	}

	// Assert
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
	if len(got) != 5 {
		t.Errorf("ran %d items, want 5", len(got))
	}
	if !q.IsEmpty() {
		t.Error("queue should be empty")
	}
}

// TestFIFOTaskQueue_Drain verifies Drain returns everything in order
func TestFIFOTaskQueue_Drain(t *testing.T) {
	q := NewFIFOTaskQueue()
	var got []int
	for i := 0; i < 3; i++ {
		q.Push(numberedItem(i, &got))
	}

	items := q.Drain()

	if len(items) != 3 {
		t.Fatalf("Drain returned %d items, want 3", len(items))
	}
	for _, item := range items {
		item.Task(context.Background())
	}
	if got[0] != 0 || got[2] != 2 {
		t.Errorf("drained out of order: %v", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after Drain, want 0", q.Len())
	}
	if q.Drain() != nil {
		t.Error("Drain on empty queue should return nil")
	}
}

// TestFIFOTaskQueue_Compaction verifies the backing array shrinks after a burst
// Given: A queue that held 1000 items
// When: All but 10 are popped
// Then: Capacity shrank and the remaining items keep their order
func TestFIFOTaskQueue_Compaction(t *testing.T) {
	// Arrange
	q := NewFIFOTaskQueue()
	var got []int
	for i := 0; i < 1000; i++ {
		q.Push(numberedItem(i, &got))
	}
	peak := cap(q.tasks)

	// Act
	for i := 0; i < 990; i++ {
		if _, ok := q.Pop(); !ok {
			t.Fatalf("Pop %d failed", i)
		}
	}

	// Assert
	if c := cap(q.tasks); c >= peak/2 {
		t.Errorf("capacity %d not compacted (peak %d)", c, peak)
	}
	item, ok := q.Pop()
	if !ok {
		t.Fatal("expected remaining items")
	}
	item.Task(context.Background())
	if got[0] != 990 {
		t.Errorf("first remaining item = %d, want 990", got[0])
	}
}

// TestTaskItem_Abandon verifies the abandon hook is optional
func TestTaskItem_Abandon(t *testing.T) {
	TaskItem{}.Abandon() // must not panic

	called := false
	TaskItem{OnAbandon: func() { called = true }}.Abandon()
	if !called {
		t.Error("OnAbandon was not called")
	}
}
