package domain

import (
	"sync"
	"testing"
	"time"
)

func TestKillState_ForwardOnly(t *testing.T) {
	var k KillState

	if !k.Running() || k.Load() != StateRunning {
		t.Fatalf("expected RUNNING, got %s", k.Load())
	}
	if !k.Advance(StateShuttingDown) {
		t.Fatal("RUNNING -> SHUTTING_DOWN should succeed")
	}
	if k.Advance(StateShuttingDown) {
		t.Error("repeated transition should report false")
	}
	if k.Advance(StateRunning) {
		t.Error("backward transition must be refused")
	}
	if !k.Advance(StateTerminated) || k.Load() != StateTerminated {
		t.Errorf("expected TERMINATED, got %s", k.Load())
	}
}

func TestKillState_GuardBlocksTransition(t *testing.T) {
	var k KillState
	entered := make(chan struct{})
	release := make(chan struct{})

	go k.Guard(func(running bool) {
		if !running {
			t.Error("guard should observe RUNNING")
		}
		close(entered)
		<-release
	})
	<-entered

	var wg sync.WaitGroup
	wg.Add(1)
	advanced := make(chan struct{})
	go func() {
		defer wg.Done()
		k.Advance(StateShuttingDown)
		close(advanced)
	}()

	select {
	case <-advanced:
		t.Fatal("Advance returned while a guard was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	wg.Wait()

	k.Guard(func(running bool) {
		if running {
			t.Error("guard after transition should observe shutdown")
		}
	})
}

func TestVaultState(t *testing.T) {
	v := VaultState{Principal: 100000, HardFloor: 80000, DailyGoal: 5000, Balance: 104000, Reserved: 1500}

	if v.Available() != 102500 {
		t.Errorf("Available = %d, want 102500", v.Available())
	}
	if v.GoalReached() {
		t.Error("goal should not be reached below principal+goal")
	}
	v.Balance = 105000
	if !v.GoalReached() {
		t.Error("goal should be reached at principal+goal")
	}
	if err := v.Verify(); err != nil {
		t.Errorf("unexpected invariant error: %v", err)
	}
	v.Reserved = v.Balance + 1
	if v.Verify() == nil {
		t.Error("reserved above balance must fail verification")
	}
	if Cents(12345).String() != "123.45" {
		t.Errorf("Cents.String = %s", Cents(12345).String())
	}
}
