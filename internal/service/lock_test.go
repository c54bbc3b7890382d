package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/splitpot/splitpot/internal/models"
)

func TestGroupLocks_AcquireRelease(t *testing.T) {
	locks := NewGroupLocks()
	ctx := context.Background()

	release, err := locks.Acquire(ctx, "g1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	release()

	release, err = locks.Acquire(ctx, "g1")
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	release()
}

func TestGroupLocks_SecondAcquireTimesOut(t *testing.T) {
	locks := NewGroupLocks()

	release, err := locks.Acquire(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Acquire(ctx, "g1"); !errors.Is(err, models.ErrLockTimeout) {
		t.Errorf("error = %v, want ErrLockTimeout", err)
	}
	if _, err := locks.Acquire(ctx, "g1"); !errors.Is(err, models.ErrConcurrencyConflict) {
		t.Errorf("error = %v, want a ConcurrencyConflict kind", err)
	}
}

func TestGroupLocks_IndependentGroups(t *testing.T) {
	locks := NewGroupLocks()
	ctx := context.Background()

	r1, err := locks.Acquire(ctx, "g1")
	if err != nil {
		t.Fatalf("Acquire g1 failed: %v", err)
	}
	defer r1()

	r2, err := locks.Acquire(ctx, "g2")
	if err != nil {
		t.Fatalf("Acquire g2 failed: %v", err)
	}
	defer r2()
}
