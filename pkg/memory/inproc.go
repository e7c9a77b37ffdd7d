package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgesight/forgesight/pkg/models"
)

// InProcStore keeps threads in a map. Durability across restarts is
// explicitly not its job.
type InProcStore struct {
	mu      sync.RWMutex
	threads map[string]*models.Thread
}

// NewInProcStore creates an empty in-process store.
func NewInProcStore() *InProcStore {
	return &InProcStore{threads: make(map[string]*models.Thread)}
}

func (s *InProcStore) NewThread(_ context.Context, title string) (*models.Thread, error) {
	now := time.Now().UTC()
	thread := &models.Thread{
		ID:         uuid.New().String(),
		Title:      title,
		CreatedAt:  now,
		LastActive: now,
	}
	s.mu.Lock()
	s.threads[thread.ID] = thread
	s.mu.Unlock()
	return cloneThread(thread), nil
}

func (s *InProcStore) ListThreads(_ context.Context) ([]models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, *cloneThread(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out, nil
}

func (s *InProcStore) GetThread(_ context.Context, id string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, ok := s.threads[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return cloneThread(thread), nil
}

func (s *InProcStore) AppendMessage(_ context.Context, id string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[id]
	if !ok {
		return ErrThreadNotFound
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	thread.Messages = append(thread.Messages, msg)
	thread.LastActive = msg.Timestamp
	return nil
}

func (s *InProcStore) DeleteThread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[id]; !ok {
		return ErrThreadNotFound
	}
	delete(s.threads, id)
	return nil
}

// cloneThread copies the thread so callers never alias store state.
func cloneThread(t *models.Thread) *models.Thread {
	c := *t
	c.Messages = make([]models.Message, len(t.Messages))
	copy(c.Messages, t.Messages)
	return &c
}
