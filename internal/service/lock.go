package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/splitpot/splitpot/internal/models"
)

// defaultLockWait bounds how long settlement-grade operations wait for the
// group token before giving up with ErrLockTimeout.
const defaultLockWait = 5 * time.Second

// GroupLocks hands out per-group exclusion tokens. Settlement runs and
// participant exits hold the token; plain expense writes never do, they rely
// on the period-state guard instead.
type GroupLocks struct {
	mu     sync.Mutex
	tokens map[string]chan struct{}
}

// NewGroupLocks creates an empty lock table.
func NewGroupLocks() *GroupLocks {
	return &GroupLocks{tokens: make(map[string]chan struct{})}
}

func (l *GroupLocks) token(groupID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.tokens[groupID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.tokens[groupID] = ch
	}
	return ch
}

// Acquire takes the group's token, waiting until the context expires. On
// success the returned release function must be called exactly once; on
// timeout the error matches models.ErrLockTimeout.
func (l *GroupLocks) Acquire(ctx context.Context, groupID string) (func(), error) {
	ch := l.token(groupID)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("group %s: %w", groupID, models.ErrLockTimeout)
	}
}
