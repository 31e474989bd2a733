package conversation_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepakdriver/lepakdriver/internal/conversation"
)

func newRedisStore(t *testing.T) (*conversation.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return conversation.NewRedisStore(conversation.RedisStoreConfig{Client: client}), mr
}

func stores(t *testing.T) map[string]conversation.Store {
	t.Helper()

	fileStore, err := conversation.NewFileStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	redisStore, _ := newRedisStore(t)

	return map[string]conversation.Store{
		"memory": conversation.NewMemoryStore(),
		"file":   fileStore,
		"redis":  redisStore,
	}
}

func sampleTurns() []conversation.Turn {
	ts := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	return []conversation.Turn{
		{Timestamp: ts, User: "hello", Assistant: "Hi lah!"},
		{
			Timestamp: ts.Add(time.Minute),
			User:      "bus 174 at ang mo kio hub",
			Assistant: "Bus 174 arriving in 3 minutes",
			ToolCalls: []conversation.ToolCallLog{
				conversation.NewToolCallLog("get_bus_arrival", `{"bus_stop_code":"54261","service_no":"174"}`, nil),
			},
		},
	}
}

func TestStores_Contract(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := conversation.Key{UserID: "42", Date: "2025-01-15"}

			got, err := store.Get(ctx, key)
			require.NoError(t, err, "missing log is not an error")
			assert.Empty(t, got)

			require.NoError(t, store.Set(ctx, key, sampleTurns()))

			got, err = store.Get(ctx, key)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "hello", got[0].User)
			assert.True(t, got[0].Timestamp.Equal(sampleTurns()[0].Timestamp))
			require.Len(t, got[1].ToolCalls, 1)
			assert.Equal(t, "get_bus_arrival", got[1].ToolCalls[0].Function)
			assert.JSONEq(t, `{"bus_stop_code":"54261","service_no":"174"}`, string(got[1].ToolCalls[0].Args))

			other, err := store.Get(ctx, conversation.Key{UserID: "42", Date: "2025-01-16"})
			require.NoError(t, err)
			assert.Empty(t, other, "logs are per day")

			existed, err := store.Delete(ctx, key)
			require.NoError(t, err)
			assert.True(t, existed)

			existed, err = store.Delete(ctx, key)
			require.NoError(t, err)
			assert.False(t, existed)

			got, err = store.Get(ctx, key)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStores_PurgeBefore(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []conversation.Key{
				{UserID: "1", Date: "2025-01-01"},
				{UserID: "2", Date: "2025-01-07"},
				{UserID: "1", Date: "2025-01-08"},
				{UserID: "3", Date: "2025-01-15"},
			} {
				require.NoError(t, store.Set(ctx, k, sampleTurns()[:1]))
			}

			removed, err := store.PurgeBefore(ctx, "2025-01-08")
			require.NoError(t, err)
			assert.Equal(t, 2, removed)

			kept, err := store.Get(ctx, conversation.Key{UserID: "1", Date: "2025-01-08"})
			require.NoError(t, err)
			assert.Len(t, kept, 1)

			gone, err := store.Get(ctx, conversation.Key{UserID: "1", Date: "2025-01-01"})
			require.NoError(t, err)
			assert.Empty(t, gone)
		})
	}
}

func TestStores_RejectInvalidKeys(t *testing.T) {
	ctx := context.Background()

	bad := []conversation.Key{
		{UserID: "", Date: "2025-01-15"},
		{UserID: "../etc", Date: "2025-01-15"},
		{UserID: "a/b", Date: "2025-01-15"},
		{UserID: "a:b", Date: "2025-01-15"},
		{UserID: "42", Date: "15-01-2025"},
	}

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range bad {
				_, err := store.Get(ctx, k)
				assert.ErrorIs(t, err, conversation.ErrInvalidKey, k)

				err = store.Set(ctx, k, nil)
				assert.ErrorIs(t, err, conversation.ErrInvalidKey, k)
			}
		})
	}
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	store, err := conversation.NewFileStore(dir, zerolog.Nop())
	require.NoError(t, err)

	key := conversation.Key{UserID: "123456", Date: "2025-01-15"}
	require.NoError(t, store.Set(context.Background(), key, sampleTurns()))

	data, err := os.ReadFile(filepath.Join(dir, "user_123456_2025-01-15.json"))
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 2)
	assert.Equal(t, "hello", raw[0]["user"])
	assert.Equal(t, "Hi lah!", raw[0]["assistant"])
	assert.NotContains(t, raw[0], "tool_calls")
	assert.Contains(t, raw[1], "tool_calls")
}

func TestFileStore_PurgeIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := conversation.NewFileStore(dir, zerolog.Nop())
	require.NoError(t, err)

	for _, name := range []string{"notes.txt", "user_x.json", "user_a_b_notadate.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o600))
	}
	require.NoError(t, store.Set(context.Background(), conversation.Key{UserID: "under_score", Date: "2024-12-01"}, nil))

	removed, err := store.PurgeBefore(context.Background(), "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := conversation.NewFileStore(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "user_7_2025-01-15.json"), []byte("{not json"), 0o600))

	_, err = store.Get(context.Background(), conversation.Key{UserID: "7", Date: "2025-01-15"})
	assert.Error(t, err)
}

func TestRedisStore_TTL(t *testing.T) {
	store, mr := newRedisStore(t)

	key := conversation.Key{UserID: "42", Date: "2025-01-15"}
	require.NoError(t, store.Set(context.Background(), key, sampleTurns()))

	assert.True(t, mr.Exists("lepak:conv:42:2025-01-15"))
	assert.Equal(t, 8*24*time.Hour, mr.TTL("lepak:conv:42:2025-01-15"))

	mr.FastForward(9 * 24 * time.Hour)

	got, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStore_ConnectionError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	store := conversation.NewRedisStore(conversation.RedisStoreConfig{Client: client})

	_, err := store.Get(context.Background(), conversation.Key{UserID: "42", Date: "2025-01-15"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, conversation.ErrInvalidKey))
}

func TestNewToolCallLog(t *testing.T) {
	ok := conversation.NewToolCallLog("f", `{"a":1}`, nil)
	assert.JSONEq(t, `{"a":1}`, string(ok.Args))
	assert.Empty(t, ok.Error)

	empty := conversation.NewToolCallLog("f", "  ", nil)
	assert.JSONEq(t, `{}`, string(empty.Args))

	broken := conversation.NewToolCallLog("f", `{"a":`, errors.New("boom"))
	assert.JSONEq(t, `"{\"a\":"`, string(broken.Args))
	assert.Equal(t, "boom", broken.Error)
}

func TestValidateUserID(t *testing.T) {
	for _, id := range []string{"12345", "tg_777", "john.doe", "a-b"} {
		assert.NoError(t, conversation.ValidateUserID(id), id)
	}
	for _, id := range []string{"", "john..doe", "a:b", "a/b", `a\b`, ".."} {
		err := conversation.ValidateUserID(id)
		assert.ErrorIs(t, err, conversation.ErrInvalidKey, id)

		// the key check must agree so the HTTP layer can rely on it
		assert.ErrorIs(t, conversation.Key{UserID: id, Date: "2025-01-15"}.Validate(), conversation.ErrInvalidKey, id)
	}
}
