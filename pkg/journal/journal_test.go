package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pp-content/exercise-store/pkg/exercise/layout"
	"github.com/pp-content/exercise-store/pkg/exercise/store"
)

func TestJournalCommitsStoreEvents(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	j, err := Open(root, WithAuthor("Editor", "editor@example.com"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, ".gitignore"))

	st, err := store.NewOs(root, store.WithEventSinks(j))
	require.NoError(t, err)

	res, err := st.Save(ctx, store.SaveRequest{Type: "tf", Title: "Ser y Estar"})
	require.NoError(t, err)
	_, err = st.Save(ctx, store.SaveRequest{ID: res.ID, Title: "Ser y Estar"})
	require.NoError(t, err)
	_, err = st.Delete(ctx, res.ID, store.DeleteOptions{})
	require.NoError(t, err)

	history, err := j.History(0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Contains(t, history[0], "delete "+res.ID)
	assert.Contains(t, history[1], "save "+res.ID+" v2: Ser y Estar")
	assert.Contains(t, history[2], "save "+res.ID+" v1: Ser y Estar")

	head, err := j.repo.Head()
	require.NoError(t, err)
	commit, err := j.repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "Editor", commit.Author.Name)

	tree, err := commit.Tree()
	require.NoError(t, err)
	_, err = tree.File("tf/ser-y-estar/001.json")
	assert.Error(t, err, "deleted files leave the tree")
	_, err = tree.File(layout.IndexFile)
	assert.Error(t, err, "the index is never committed")
}

func TestJournalNothingToCommit(t *testing.T) {
	root := t.TempDir()
	j, err := Open(root)
	require.NoError(t, err)

	first, err := j.Commit("initial")
	require.NoError(t, err)
	assert.NotEqual(t, plumbing.ZeroHash, first, ".gitignore is committed")

	again, err := j.Commit("nothing")
	require.NoError(t, err)
	assert.Equal(t, plumbing.ZeroHash, again)

	require.NoError(t, os.WriteFile(filepath.Join(root, "abc@v1.json"), []byte(`{"id":"abc"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".current.json-1.tmp"), []byte(`{}`), 0o644))
	third, err := j.Commit("flat file")
	require.NoError(t, err)
	assert.NotEqual(t, plumbing.ZeroHash, third)

	commit, err := j.repo.CommitObject(third)
	require.NoError(t, err)
	stats, err := commit.Stats()
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "abc@v1.json", stats[0].Name)
}

func TestOpenExistingRepository(t *testing.T) {
	root := t.TempDir()
	j, err := Open(root)
	require.NoError(t, err)
	_, err = j.Commit("initial")
	require.NoError(t, err)

	reopened, err := Open(root)
	require.NoError(t, err)
	history, err := reopened.History(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"initial"}, history)
}

func TestHistoryOfEmptyRepository(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	history, err := j.History(10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMessage(t *testing.T) {
	tests := []struct {
		ev   store.Event
		want string
	}{
		{store.Event{Action: store.ActionSave, ExerciseID: "ex1", Version: 3, Title: "Uno"}, "save ex1 v3: Uno"},
		{store.Event{Action: store.ActionDelete, ExerciseID: "ex1"}, "delete ex1"},
		{store.Event{Action: store.ActionMigrate}, "migrate"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, message(tt.ev))
		})
	}
}
