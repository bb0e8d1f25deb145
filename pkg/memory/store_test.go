package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorStore_AppendSearchDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewVectorStore(filepath.Join(t.TempDir(), "stm.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	ids, err := store.AppendEntries(ctx, []string{
		"User: my cat is called Pixel",
		"Julie: what a lovely name for a cat",
		"User: I went hiking in the mountains",
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	hits, err := store.Search(ctx, "what is my cat called", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Content, "cat")

	require.NoError(t, store.DeleteEntries(ctx, ids[:1]))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	listed, err := store.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[1:], listed)
}

func TestVectorStore_DeleteRejectsUnknownIDAtomically(t *testing.T) {
	ctx := context.Background()
	store, err := NewVectorStore(filepath.Join(t.TempDir(), "stm.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	ids, err := store.AppendEntries(ctx, []string{"one", "two"})
	require.NoError(t, err)

	err = store.DeleteEntries(ctx, []string{ids[0], "missing"})
	assert.ErrorIs(t, err, ErrDeleteRejected)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "a rejected batch deletes nothing")
}

func TestVectorStore_ClosedStore(t *testing.T) {
	store, err := NewVectorStore(filepath.Join(t.TempDir(), "stm.db"), nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.AppendEntries(context.Background(), []string{"late"})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestShortTerm_SeedsMarkerAndEvicts(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	stm, err := OpenShortTerm(ctx, dir, 3, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stm.Len(), "fresh memory holds the seed marker")

	require.NoError(t, stm.Add(ctx, []string{"User: hello", "Julie: hi there"}))
	require.NoError(t, stm.Add(ctx, []string{"User: how are you", "Julie: great"}))
	assert.Equal(t, 3, stm.Len())

	n, err := stm.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "store and ledger hold the same entries")
	require.NoError(t, stm.Close())

	reopened, err := OpenShortTerm(ctx, dir, 3, nil, nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 3, reopened.Len())

	hits, err := reopened.Search(ctx, "how are you", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "User: how are you", hits[0].Content)
}

func TestShortTerm_ReopenAdoptsEntriesMissingFromLedger(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	stm, err := OpenShortTerm(ctx, dir, 3, nil, nil)
	require.NoError(t, err)
	// Rows committed to the store without a ledger save, as after a crash
	// between the two writes.
	_, err = stm.store.AppendEntries(ctx, []string{"one", "two", "three", "four", "five"})
	require.NoError(t, err)
	require.NoError(t, stm.Close())

	reopened, err := OpenShortTerm(ctx, dir, 3, nil, nil)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 3, reopened.Len())
	storeIDs, err := reopened.store.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, storeIDs, reopened.ledger.IDs())

	for i := 0; i < 10; i++ {
		require.NoError(t, reopened.Add(ctx, []string{fmt.Sprintf("turn %d", i)}))
	}
	n, err := reopened.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, reopened.Len())

	hits, err := reopened.Search(ctx, "turn 9", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "turn 9", hits[0].Content)
}

func TestShortTerm_ResetReseeds(t *testing.T) {
	ctx := context.Background()
	stm, err := OpenShortTerm(ctx, t.TempDir(), 10, nil, nil)
	require.NoError(t, err)
	defer stm.Close()

	require.NoError(t, stm.Add(ctx, []string{"a", "b"}))
	require.NoError(t, stm.Reset(ctx))

	assert.Equal(t, 1, stm.Len())
	hits, err := stm.Search(ctx, "cleared", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, resetMarker, hits[0].Content)
}

func TestLongTerm_AppendSearchClear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ltm.db")
	ltm, err := OpenLongTerm(path)
	require.NoError(t, err)
	defer ltm.Close()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	require.NoError(t, ltm.Append(ctx, Exchange{Timestamp: base, UserInput: "I love pizza", Response: "Pizza is great", ResponseEmotion: "joy", UserName: "Alice", UserEmotion: "joy"}))
	require.NoError(t, ltm.Append(ctx, Exchange{Timestamp: base.Add(time.Minute), UserInput: "pizza with olives?", Response: "Olives work well", UserName: "Bob"}))
	require.NoError(t, ltm.Append(ctx, Exchange{Timestamp: base.Add(2 * time.Minute), UserInput: "tell me a joke", Response: "Why did the robot blink?"}))

	hits, err := ltm.Search(ctx, []string{"pizza", "olives"}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Bob", hits[0].UserName)

	hits, err = ltm.Search(ctx, []string{"pizza"}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "pizza with olives?", hits[0].UserInput, "newest first")

	hits, err = ltm.Search(ctx, []string{" ", ""}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	recent, err := ltm.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "tell me a joke", recent[0].UserInput)

	require.NoError(t, ltm.Clear())
	_, err = os.Stat(path)
	require.NoError(t, err, "clear recreates the database")
	n, err := ltm.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLongTerm_SearchMatchesWildcardsLiterally(t *testing.T) {
	ctx := context.Background()
	ltm, err := OpenLongTerm(filepath.Join(t.TempDir(), "ltm.db"))
	require.NoError(t, err)
	defer ltm.Close()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	require.NoError(t, ltm.Append(ctx, Exchange{Timestamp: base, UserInput: "battery at 100%", Response: "Fully charged"}))
	require.NoError(t, ltm.Append(ctx, Exchange{Timestamp: base.Add(time.Minute), UserInput: "I scored 1000 points", Response: "Well done"}))
	require.NoError(t, ltm.Append(ctx, Exchange{Timestamp: base.Add(2 * time.Minute), UserInput: "my file is a_b.txt", Response: "Noted"}))
	require.NoError(t, ltm.Append(ctx, Exchange{Timestamp: base.Add(3 * time.Minute), UserInput: "my file is axb.txt", Response: `path C:\temp`}))

	hits, err := ltm.Search(ctx, []string{"100%"}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "battery at 100%", hits[0].UserInput)

	hits, err = ltm.Search(ctx, []string{"a_b"}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "my file is a_b.txt", hits[0].UserInput)

	hits, err = ltm.Search(ctx, []string{`c:\temp`}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "my file is axb.txt", hits[0].UserInput)
}

func TestService_ClearAll(t *testing.T) {
	ctx := context.Background()
	svc, err := Open(ctx, Config{Dir: t.TempDir(), ShortTermCapacity: 100}, nil)
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, svc.Remember(ctx,
		Exchange{UserInput: "hi", Response: "hello", UserName: "Alice"},
		[]string{"User: hi", "Julie: hello"},
	))
	assert.Equal(t, 3, svc.ShortTerm.Len())

	require.NoError(t, svc.ClearAll(ctx))
	assert.Equal(t, 1, svc.ShortTerm.Len())
	n, err := svc.LongTerm.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
