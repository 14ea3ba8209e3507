package learnstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))

	store, err := New(DefaultOptions(path))
	require.NoError(t, err)
	return store, path
}

func readRaw(t *testing.T, path string) map[string]map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	return raw
}

func TestNew(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		_, err := New(Options{})
		assert.Error(t, err)
	})

	t.Run("missing file without create", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing.json")
		store, err := New(DefaultOptions(path))
		require.NoError(t, err)

		_, err = store.Load()
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.ErrorIs(t, err, fs.ErrNotExist)

		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("missing file with create", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "store.json")
		opts := DefaultOptions(path)
		opts.CreateIfMissing = true

		store, err := New(opts)
		require.NoError(t, err)

		doc, err := store.Load()
		require.NoError(t, err)
		assert.Empty(t, doc)

		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("create keeps existing content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "store.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"a":{"info":"x","subscribers":[]}}`), 0600))

		opts := DefaultOptions(path)
		opts.CreateIfMissing = true
		store, err := New(opts)
		require.NoError(t, err)

		info, err := store.GetInfo("a")
		require.NoError(t, err)
		assert.Equal(t, "x", info)
	})
}

func TestStore_LoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed json", `{"a":`},
		{"empty file", ``},
		{"top level array", `[]`},
		{"top level null", `null`},
		{"record not an object", `{"a":"b"}`},
		{"subscribers not strings", `{"a":{"subscribers":[1,2]}}`},
		{"info not a string", `{"a":{"info":5}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, path := setupTestStore(t)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			_, err := store.Load()
			assert.ErrorIs(t, err, ErrStorageUnavailable)

			var storageErr *StorageError
			require.True(t, errors.As(err, &storageErr))
			assert.Equal(t, store.Path(), storageErr.Path)

			// Read paths propagate the failure instead of returning defaults.
			_, err = store.GetInfo("a")
			assert.ErrorIs(t, err, ErrStorageUnavailable)
			_, err = store.AddSubscriber("a", "alice")
			assert.ErrorIs(t, err, ErrStorageUnavailable)
		})
	}
}

func TestStore_SchemaValidationDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":{"info":"x"}}`), 0600))

	opts := DefaultOptions(path)
	opts.ValidateSchema = false
	store, err := New(opts)
	require.NoError(t, err)

	subs, found, err := store.GetSubscribers("a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, subs)
}

func TestStore_MissingSessionDefaults(t *testing.T) {
	store, _ := setupTestStore(t)

	info, err := store.GetInfo("never-created")
	require.NoError(t, err)
	assert.Equal(t, "", info)

	subs, found, err := store.GetSubscribers("never-created")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, subs)

	// Reads never create the session.
	ids, err := store.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_SetInfo(t *testing.T) {
	store, path := setupTestStore(t)

	require.NoError(t, store.SetInfo("s1", "x"))
	info, err := store.GetInfo("s1")
	require.NoError(t, err)
	assert.Equal(t, "x", info)

	subs, found, err := store.GetSubscribers("s1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{}, subs)

	raw := readRaw(t, path)
	assert.Equal(t, "x", raw["s1"]["info"])
	assert.Equal(t, []any{}, raw["s1"]["subscribers"])

	// Update collapses into the same upsert.
	require.NoError(t, store.SetInfo("s1", "epoch 2"))
	info, err = store.GetInfo("s1")
	require.NoError(t, err)
	assert.Equal(t, "epoch 2", info)

	// Empty info still creates the session.
	require.NoError(t, store.SetInfo("s2", ""))
	_, found, err = store.GetSubscribers("s2")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStore_SetInfoIdempotent(t *testing.T) {
	store, path := setupTestStore(t)

	require.NoError(t, store.SetInfo("s", "y"))
	once, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, store.SetInfo("s", "y"))
	twice, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, string(once), string(twice))
}

func TestStore_SetInfoKeepsSubscribers(t *testing.T) {
	store, _ := setupTestStore(t)

	require.NoError(t, store.SetInfo("s", "start"))
	_, err := store.AddSubscriber("s", "alice")
	require.NoError(t, err)
	require.NoError(t, store.SetInfo("s", "done"))

	subs, _, err := store.GetSubscribers("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, subs)
}

func TestStore_DeleteSession(t *testing.T) {
	store, _ := setupTestStore(t)

	t.Run("absent session", func(t *testing.T) {
		err := store.DeleteSession("ghost")
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.NotErrorIs(t, err, ErrStorageUnavailable)
	})

	t.Run("existing session", func(t *testing.T) {
		require.NoError(t, store.SetInfo("s", "old"))
		_, err := store.AddSubscriber("s", "alice")
		require.NoError(t, err)

		require.NoError(t, store.DeleteSession("s"))

		info, err := store.GetInfo("s")
		require.NoError(t, err)
		assert.Equal(t, "", info)

		subs, found, err := store.GetSubscribers("s")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, subs)

		assert.ErrorIs(t, store.DeleteSession("s"), ErrSessionNotFound)
	})

	t.Run("session with default values is still present", func(t *testing.T) {
		require.NoError(t, store.SetInfo("blank", ""))
		assert.NoError(t, store.DeleteSession("blank"))
	})
}

func TestStore_AddSubscriber(t *testing.T) {
	store, path := setupTestStore(t)
	require.NoError(t, store.SetInfo("s", ""))

	res, err := store.AddSubscriber("s", "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubscribed, res.Outcome)
	assert.Equal(t, "User is now subscribed to id: s", res.Message())

	subs, _, err := store.GetSubscribers("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, subs)

	before, err := os.Stat(path)
	require.NoError(t, err)

	res, err = store.AddSubscriber("s", "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySubscribed, res.Outcome)
	assert.Equal(t, "User is already subscribed to id: s!", res.Message())

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, os.SameFile(before, after), "no-op must not rewrite the store")

	subs, _, err = store.GetSubscribers("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, subs)
}

func TestStore_AddSubscriberPreservesOrder(t *testing.T) {
	store, _ := setupTestStore(t)
	require.NoError(t, store.SetInfo("s", ""))

	for _, sub := range []string{"carol", "alice", "bob"} {
		_, err := store.AddSubscriber("s", sub)
		require.NoError(t, err)
	}

	subs, _, err := store.GetSubscribers("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "alice", "bob"}, subs)
}

func TestStore_AddSubscriberUnknownSession(t *testing.T) {
	store, path := setupTestStore(t)

	res, err := store.AddSubscriber("ghost", "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSessionNotFound, res.Outcome)
	assert.Equal(t, "id: ghost doesn't exist", res.Message())

	assert.Empty(t, readRaw(t, path))
}

func TestStore_RemoveSubscriber(t *testing.T) {
	store, _ := setupTestStore(t)
	require.NoError(t, store.SetInfo("s", ""))

	res, err := store.RemoveSubscriber("s", "bob")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotSubscribed, res.Outcome)
	assert.Equal(t, "User is not subscribed to id: s", res.Message())

	subs, _, err := store.GetSubscribers("s")
	require.NoError(t, err)
	assert.Empty(t, subs)

	_, err = store.AddSubscriber("s", "alice")
	require.NoError(t, err)
	_, err = store.AddSubscriber("s", "bob")
	require.NoError(t, err)

	res, err = store.RemoveSubscriber("s", "bob")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnsubscribed, res.Outcome)
	assert.Equal(t, "User is now unsubscribed from id: s", res.Message())

	subs, _, err = store.GetSubscribers("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, subs)

	res, err = store.RemoveSubscriber("ghost", "bob")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSessionNotFound, res.Outcome)
}

func TestStore_InvalidInput(t *testing.T) {
	store, _ := setupTestStore(t)

	assert.ErrorIs(t, store.SetInfo("", "x"), ErrInvalidSessionID)
	assert.ErrorIs(t, store.SetInfo("a\x00b", "x"), ErrInvalidSessionID)

	_, err := store.AddSubscriber("s", "")
	assert.ErrorIs(t, err, ErrInvalidSubscriber)

	_, err = store.RemoveSubscriber("s", "")
	assert.ErrorIs(t, err, ErrInvalidSubscriber)
}

func TestStore_UnknownKeysReadAsAbsent(t *testing.T) {
	store, _ := setupTestStore(t)

	info, err := store.GetInfo("")
	require.NoError(t, err)
	assert.Equal(t, "", info)

	subs, found, err := store.GetSubscribers("\n")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, subs)

	assert.ErrorIs(t, store.DeleteSession(""), ErrSessionNotFound)
}

func TestStore_LegacyEmptyKey(t *testing.T) {
	store, path := setupTestStore(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"": {"info": "legacy", "subscribers": ["alice"]}}`), 0600))

	info, err := store.GetInfo("")
	require.NoError(t, err)
	assert.Equal(t, "legacy", info)

	res, err := store.AddSubscriber("", "bob")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubscribed, res.Outcome)

	subs, found, err := store.GetSubscribers("")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"alice", "bob"}, subs)

	require.NoError(t, store.DeleteSession(""))
	ids, err := store.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_WhitespaceSubscriberIsStoredVerbatim(t *testing.T) {
	store, _ := setupTestStore(t)
	require.NoError(t, store.SetInfo("s", ""))

	res, err := store.AddSubscriber("s", "  ")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubscribed, res.Outcome)

	subs, _, err := store.GetSubscribers("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"  "}, subs)
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	store, path := setupTestStore(t)

	require.NoError(t, store.SetInfo("s", "epoch 3/10"))
	_, err := store.AddSubscriber("s", "alice")
	require.NoError(t, err)
	_, err = store.AddSubscriber("s", "bob")
	require.NoError(t, err)

	restarted, err := New(DefaultOptions(path))
	require.NoError(t, err)

	info, err := restarted.GetInfo("s")
	require.NoError(t, err)
	assert.Equal(t, "epoch 3/10", info)

	subs, found, err := restarted.GetSubscribers("s")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"alice", "bob"}, subs)
}

func TestStore_DefaultFillOnLoad(t *testing.T) {
	store, path := setupTestStore(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"partial":{"info":"x"},"bare":{}}`), 0600))

	subs, found, err := store.GetSubscribers("partial")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{}, subs)

	info, err := store.GetInfo("bare")
	require.NoError(t, err)
	assert.Equal(t, "", info)

	res, err := store.AddSubscriber("bare", "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubscribed, res.Outcome)

	raw := readRaw(t, path)
	assert.Equal(t, "", raw["bare"]["info"])
	assert.Equal(t, []any{"alice"}, raw["bare"]["subscribers"])
	assert.Equal(t, []any{}, raw["partial"]["subscribers"])
}

func TestStore_PreservesUnknownFields(t *testing.T) {
	store, path := setupTestStore(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"s":{"info":"x","subscribers":[],"owner":"lab-3","tags":["gpu"]}}`), 0600))

	_, err := store.AddSubscriber("s", "alice")
	require.NoError(t, err)

	raw := readRaw(t, path)
	assert.Equal(t, "lab-3", raw["s"]["owner"])
	assert.Equal(t, []any{"gpu"}, raw["s"]["tags"])
	assert.Equal(t, []any{"alice"}, raw["s"]["subscribers"])
}

func TestStore_LookupAndList(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.Lookup("s")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, store.SetInfo("b", "two"))
	require.NoError(t, store.SetInfo("a", "one"))

	rec, err := store.Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, "one", rec.Info)

	ids, err := store.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestStore_SaveAndLoad(t *testing.T) {
	store, _ := setupTestStore(t)

	doc := Document{
		"x": Record{Info: "hello", Subscribers: []string{"1", "2"}},
		"y": Record{},
	}
	require.NoError(t, store.Save(doc))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "hello", loaded.Get("x").Info)
	assert.Equal(t, []string{"1", "2"}, loaded.Get("x").Subscribers)
	assert.Equal(t, []string{}, loaded.Get("y").Subscribers)
}

func TestStore_SaveFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	store, path := setupTestStore(t)

	dir := filepath.Dir(path)
	require.NoError(t, os.Chmod(dir, 0500))
	t.Cleanup(func() { os.Chmod(dir, 0700) })

	err := store.SetInfo("s", "x")
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	// The previous document is left intact.
	require.NoError(t, os.Chmod(dir, 0700))
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc)
}

func TestStore_WriteKeepsFileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))
	require.NoError(t, os.Chmod(path, 0644))

	store, err := New(DefaultOptions(path))
	require.NoError(t, err)

	require.NoError(t, store.SetInfo("run", "epoch 1"))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), fi.Mode().Perm())
}

func TestStore_NewFileIsPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.json")
	opts := DefaultOptions(path)
	opts.CreateIfMissing = true

	_, err := New(opts)
	require.NoError(t, err)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())
}

func TestStore_NoTempFilesLeftBehind(t *testing.T) {
	store, path := setupTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.SetInfo(fmt.Sprintf("s%d", i), "x"))
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "store.json", entries[0].Name())
}

func TestStore_ConcurrentSubscribersSerialized(t *testing.T) {
	store, _ := setupTestStore(t)
	require.NoError(t, store.SetInfo("s", ""))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := store.AddSubscriber("s", fmt.Sprintf("user-%d", i))
			assert.NoError(t, err)
			assert.Equal(t, OutcomeSubscribed, res.Outcome)
		}(i)
	}
	wg.Wait()

	subs, _, err := store.GetSubscribers("s")
	require.NoError(t, err)
	assert.Len(t, subs, n)
}

func TestStore_LostUpdateWithoutSerialization(t *testing.T) {
	// Two writers that both load before either saves: the later save wins.
	store, _ := setupTestStore(t)
	require.NoError(t, store.SetInfo("s", ""))

	first, err := store.Load()
	require.NoError(t, err)
	second, err := store.Load()
	require.NoError(t, err)

	rec := first["s"]
	rec.Subscribers = append(rec.Subscribers, "alice")
	first["s"] = rec

	rec = second["s"]
	rec.Subscribers = append(rec.Subscribers, "bob")
	second["s"] = rec

	require.NoError(t, store.Save(first))
	require.NoError(t, store.Save(second))

	subs, _, err := store.GetSubscribers("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, subs)
}
