package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.HistoryStore = (*file.Store)(nil)
	_ ports.RunStore     = (*file.RunStore)(nil)
)

func TestFileStore_Contract(t *testing.T) {
	ports.RunHistoryStoreContract(t, file.New(t.TempDir()))
}

func TestFileRunStore_Contract(t *testing.T) {
	ports.RunRunStoreContract(t, file.NewRunStore(t.TempDir()))
}

func TestFileStore_OnDiskFormat(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)

	err := store.Save(context.Background(), "s1", domain.History{{User: "hi", AI: "yo", At: 7}})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "s1.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"user":"hi","ai":"yo","at":7}]`, string(data))

	// No temp files are left behind
	entries, err := os.ReadDir(filepath.Join(dir, ".tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"user":"x"}`), 0644))

	_, err := store.Load(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrCorruptState)
}

func TestFileStore_ListsEveryValidID(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "tmp-s1", domain.History{}))
	require.NoError(t, store.Save(ctx, "s2", domain.History{}))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tmp-s1", "s2"}, ids)

	runs := file.NewRunStore(t.TempDir())
	require.NoError(t, runs.Save(ctx, domain.NewWorkflowRun("tmp-run", "s", "m", domain.ChatSteps, time.Now())))
	runIDs, err := runs.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tmp-run"}, runIDs)
}

func TestFileStore_RejectsPathTraversal(t *testing.T) {
	store := file.New(t.TempDir())
	ctx := context.Background()

	assert.ErrorIs(t, store.Save(ctx, "../escape", domain.History{}), domain.ErrMalformedRequest)
	assert.ErrorIs(t, store.Save(ctx, "", domain.History{}), domain.ErrMalformedRequest)
	_, err := store.Load(ctx, "a/b")
	assert.ErrorIs(t, err, domain.ErrMalformedRequest)
}

func TestFileStore_ListMissingDir(t *testing.T) {
	store := file.New(filepath.Join(t.TempDir(), "missing"))

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
