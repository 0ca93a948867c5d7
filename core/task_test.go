package core

import (
	"context"
	"errors"
	"testing"
)

// TestTaskID_StringAndIsZero verifies TaskID zero-state and string behavior
// Given: A zero TaskID and a generated TaskID
// When: IsZero and String are called
// Then: Zero ID reports true and generated ID is non-zero with non-empty string
func TestTaskID_StringAndIsZero(t *testing.T) {
	// Arrange
	var zero TaskID

	// Act and Assert
	if !zero.IsZero() {
		t.Fatal("zero TaskID should report IsZero() == true")
	}

	// Act
	id := GenerateTaskID()

	// Assert
	if id.IsZero() {
		t.Fatal("generated TaskID should not be zero")
	}
	if id.String() == "" {
		t.Fatal("TaskID.String() should not be empty")
	}
	if id == GenerateTaskID() {
		t.Fatal("generated TaskIDs should differ")
	}
}

type fakeBlocker struct {
	held      bool
	released  int
	reacquire int
}

func (b *fakeBlocker) Release() bool {
	if !b.held {
		return false
	}
	b.held = false
	b.released++
	return true
}

func (b *fakeBlocker) Reacquire() {
	b.held = true
	b.reacquire++
}

// TestManagedBlock_ReleasesAroundWait verifies the blocker is released during the wait
// Given: A context carrying a held blocker
// When: ManagedBlock runs a wait function
// Then: The slot is released while waiting and reacquired afterwards
func TestManagedBlock_ReleasesAroundWait(t *testing.T) {
	// Arrange
	b := &fakeBlocker{held: true}
	ctx := WithManagedBlocker(context.Background(), b)
	var heldDuringWait bool

	// Act
	err := ManagedBlock(ctx, func() error {
		heldDuringWait = b.held
		return errors.New("wait result")
	})

	// Assert
	if err == nil || err.Error() != "wait result" {
		t.Errorf("ManagedBlock returned %v, want the wait error", err)
	}
	if heldDuringWait {
		t.Error("slot should be released during the wait")
	}
	if !b.held || b.released != 1 || b.reacquire != 1 {
		t.Errorf("unexpected blocker state %+v", b)
	}
}

// TestManagedBlock_NoBlocker verifies plain contexts just run the wait
func TestManagedBlock_NoBlocker(t *testing.T) {
	called := false
	err := ManagedBlock(context.Background(), func() error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("ManagedBlock = %v, called = %v", err, called)
	}

	// A blocker that holds nothing is not reacquired.
	b := &fakeBlocker{}
	_ = ManagedBlock(WithManagedBlocker(context.Background(), b), func() error { return nil })
	if b.reacquire != 0 {
		t.Error("Reacquire called although nothing was released")
	}
}
