// Package memory holds thread-scoped conversation state. Two stores
// share one contract: an in-process map for the core and a Redis-backed
// store for deployments that want threads to survive restarts.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/forgesight/forgesight/pkg/models"
)

// ErrThreadNotFound is returned for lookups of unknown thread IDs.
var ErrThreadNotFound = errors.New("thread not found")

// Store is the thread persistence contract.
type Store interface {
	NewThread(ctx context.Context, title string) (*models.Thread, error)
	ListThreads(ctx context.Context) ([]models.Thread, error)
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	AppendMessage(ctx context.Context, id string, msg models.Message) error
	DeleteThread(ctx context.Context, id string) error
}

// TurnLocks serialises turns per thread: a new turn for a thread cannot
// start until the previous one released the lock. Locks are in-process
// regardless of which Store backs the threads.
type TurnLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTurnLocks creates an empty lock table.
func NewTurnLocks() *TurnLocks {
	return &TurnLocks{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the thread's turn lock is held and returns the
// release function.
func (t *TurnLocks) Acquire(threadID string) func() {
	t.mu.Lock()
	lock, ok := t.locks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[threadID] = lock
	}
	t.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
