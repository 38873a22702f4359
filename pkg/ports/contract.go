package ports

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// concurrentLoads is how many reads race a writer in the concurrency cases.
const concurrentLoads = 200

// RunHistoryStoreContract runs a suite of tests to verify that a HistoryStore
// implementation adheres to the defined interface contract.
func RunHistoryStoreContract(t *testing.T, store HistoryStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		history := domain.History{
			{User: "hi", AI: "hello", At: 1},
			{User: "how are you?", AI: "fine", At: 2},
		}

		err := store.Save(ctx, sessionID, history)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, history, loaded, "Order and content must survive a round trip")
	})

	t.Run("Save Replaces Snapshot", func(t *testing.T) {
		err := store.Save(ctx, sessionID, domain.History{{User: "only", AI: "one", At: 3}})
		require.NoError(t, err)

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, sessionID, domain.History{{User: "x"}})
		require.NoError(t, err)

		err = store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")

		assert.NoError(t, store.Delete(ctx, sessionID), "Deleting twice should be a no-op")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		_ = store.Save(ctx, id1, domain.History{})
		_ = store.Save(ctx, id2, domain.History{{User: "y"}})

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})

	t.Run("Load During Concurrent Saves", func(t *testing.T) {
		id := sessionID + "-busy"
		require.NoError(t, store.Save(ctx, id, domain.History{{User: "first", At: 1}}))
		defer func() { _ = store.Delete(ctx, id) }()

		done := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := int64(2); ; i++ {
				select {
				case <-done:
					return
				default:
				}
				_ = store.Save(ctx, id, domain.History{{User: "again", At: i}})
			}
		}()

		for i := 0; i < concurrentLoads; i++ {
			loaded, err := store.Load(ctx, id)
			if !assert.NoError(t, err, "an existing session must stay readable while it is rewritten") {
				break
			}
			assert.Len(t, loaded, 1)
		}
		close(done)
		wg.Wait()
	})
}

// RunRunStoreContract runs a suite of tests to verify that a RunStore
// implementation adheres to the defined interface contract.
func RunRunStoreContract(t *testing.T, store RunStore) {
	ctx := context.Background()
	runID := "contract-test-run-" + time.Now().Format("20060102150405")
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("Save and Load", func(t *testing.T) {
		run := domain.NewWorkflowRun(runID, "s1", "ping", domain.ChatSteps, now)
		run.Steps[0].Status = domain.StepCompleted
		run.Steps[0].Result = []byte(`"pong"`)
		run.Steps[0].Attempts = 2
		run.Status = domain.RunRunning

		require.NoError(t, store.Save(ctx, run))

		loaded, err := store.Load(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, loaded.ID)
		assert.Equal(t, run.SessionID, loaded.SessionID)
		assert.Equal(t, run.Message, loaded.Message)
		assert.Equal(t, domain.RunRunning, loaded.Status)
		require.Len(t, loaded.Steps, 2)
		assert.Equal(t, domain.StepLLM, loaded.Steps[0].Name)
		assert.Equal(t, domain.StepCompleted, loaded.Steps[0].Status)
		assert.JSONEq(t, `"pong"`, string(loaded.Steps[0].Result))
		assert.Equal(t, 2, loaded.Steps[0].Attempts)
		assert.Equal(t, domain.StepPending, loaded.Steps[1].Status)
		assert.True(t, run.CreatedAt.Equal(loaded.CreatedAt))
	})

	t.Run("Load Returns Independent Copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, runID)
		require.NoError(t, err)
		loaded.Steps[1].Status = domain.StepCompleted

		again, err := store.Load(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, domain.StepPending, again.Steps[1].Status)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("List", func(t *testing.T) {
		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, runID)
	})

	t.Run("Load During Concurrent Saves", func(t *testing.T) {
		id := runID + "-busy"
		run := domain.NewWorkflowRun(id, "s1", "ping", domain.ChatSteps, now)
		require.NoError(t, store.Save(ctx, run))
		defer func() { _ = store.Delete(ctx, id) }()

		done := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := domain.NewWorkflowRun(id, "s1", "ping", domain.ChatSteps, now)
			next.Status = domain.RunRunning
			for {
				select {
				case <-done:
					return
				default:
				}
				_ = store.Save(ctx, next)
			}
		}()

		for i := 0; i < concurrentLoads; i++ {
			loaded, err := store.Load(ctx, id)
			if !assert.NoError(t, err, "an existing run must stay readable while it is rewritten") {
				break
			}
			assert.Equal(t, id, loaded.ID)
		}
		close(done)
		wg.Wait()
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, runID))
		_, err := store.Load(ctx, runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})
}
