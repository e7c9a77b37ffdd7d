package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgesight/forgesight/pkg/models"
)

// storeUnderTest runs the shared contract against both implementations.
func storeUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]Store{
		"inproc": NewInProcStore(),
		"redis":  NewRedisStore(rdb),
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			thread, err := store.NewThread(ctx, "deploy questions")
			require.NoError(t, err)
			require.NotEmpty(t, thread.ID)

			require.NoError(t, store.AppendMessage(ctx, thread.ID, models.Message{
				Role: models.RoleUser, Content: "how many deploys last week?",
			}))
			require.NoError(t, store.AppendMessage(ctx, thread.ID, models.Message{
				Role: models.RoleAssistant, Content: "Ten.", ModelUsed: "gpt-4o",
			}))

			got, err := store.GetThread(ctx, thread.ID)
			require.NoError(t, err)
			require.Len(t, got.Messages, 2)
			assert.Equal(t, "gpt-4o", got.Messages[1].ModelUsed)
			assert.False(t, got.LastActive.Before(thread.CreatedAt))

			threads, err := store.ListThreads(ctx)
			require.NoError(t, err)
			require.Len(t, threads, 1)
			assert.Equal(t, "deploy questions", threads[0].Title)

			require.NoError(t, store.DeleteThread(ctx, thread.ID))
			_, err = store.GetThread(ctx, thread.ID)
			assert.ErrorIs(t, err, ErrThreadNotFound)
			assert.ErrorIs(t, store.DeleteThread(ctx, thread.ID), ErrThreadNotFound)
		})
	}
}

func TestStoreUnknownThread(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.GetThread(ctx, "no-such-id")
			assert.ErrorIs(t, err, ErrThreadNotFound)
			err = store.AppendMessage(ctx, "no-such-id", models.Message{Role: models.RoleUser, Content: "x"})
			assert.ErrorIs(t, err, ErrThreadNotFound)
		})
	}
}

func TestInProcCloneIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewInProcStore()
	thread, err := store.NewThread(ctx, "t")
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, thread.ID, models.Message{Role: models.RoleUser, Content: "original"}))

	got, err := store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	got.Messages[0].Content = "mutated"

	again, err := store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Messages[0].Content)
}

func TestTurnLocksSerialisePerThread(t *testing.T) {
	locks := NewTurnLocks()
	release := locks.Acquire("thread-1")

	acquired := make(chan struct{})
	go func() {
		r := locks.Acquire("thread-1")
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second turn acquired the lock while the first held it")
	case <-time.After(50 * time.Millisecond):
	}

	// A different thread is not blocked.
	other := locks.Acquire("thread-2")
	other()

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second turn never acquired the lock after release")
	}
}

func msg(role models.MessageRole, content string) models.Message {
	return models.Message{Role: role, Content: content}
}

func TestTrimKeepsSystemAndNewest(t *testing.T) {
	big := strings.Repeat("x", 400) // ~100 tokens each
	messages := []models.Message{
		msg(models.RoleSystem, "system prompt"),
		msg(models.RoleUser, big),
		msg(models.RoleAssistant, big),
		msg(models.RoleUser, big),
		msg(models.RoleAssistant, big),
	}

	trimmed := TrimForContext(messages, 250)
	require.NotEmpty(t, trimmed)
	assert.Equal(t, models.RoleSystem, trimmed[0].Role)

	// Only the newest exchange fits next to the system prompt.
	require.Len(t, trimmed, 3)
	assert.Equal(t, models.RoleUser, trimmed[1].Role)
	assert.Equal(t, models.RoleAssistant, trimmed[2].Role)
}

func TestTrimNeverSplitsToolTriplet(t *testing.T) {
	messages := []models.Message{
		msg(models.RoleSystem, "system"),
		msg(models.RoleUser, strings.Repeat("a", 200)),
		msg(models.RoleAssistant, strings.Repeat("b", 200)),
		msg(models.RoleUser, "who has capacity?"),
		{Role: models.RoleAssistant, Content: "", ToolCallID: ""},
		{Role: models.RoleTool, Content: `{"total":120}`, ToolName: "get_workload", ToolCallID: "c1"},
		msg(models.RoleAssistant, "Dana is overallocated."),
	}

	for budget := 10; budget < 400; budget += 10 {
		trimmed := TrimForContext(messages, budget)
		// The tool message must never appear without its user turn.
		for i, m := range trimmed {
			if m.Role == models.RoleTool {
				require.Greater(t, i, 0)
				var hasUser bool
				for j := i; j >= 0; j-- {
					if trimmed[j].Role == models.RoleUser {
						hasUser = true
						break
					}
				}
				assert.True(t, hasUser, "tool message split from its exchange at budget %d", budget)
			}
		}
	}
}

func TestTrimAlwaysKeepsNewestExchange(t *testing.T) {
	messages := []models.Message{
		msg(models.RoleUser, strings.Repeat("q", 4000)),
		msg(models.RoleAssistant, strings.Repeat("a", 4000)),
	}
	trimmed := TrimForContext(messages, 10)
	assert.Len(t, trimmed, 2, "newest exchange survives even over budget")
}

func TestTrimEmpty(t *testing.T) {
	assert.Nil(t, TrimForContext(nil, 100))
}
