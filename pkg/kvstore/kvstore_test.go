package kvstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "chats", []byte(`[1,2]`)))
	v, err := s.Get(ctx, "chats")
	require.NoError(t, err)
	require.Equal(t, `[1,2]`, string(v))

	require.NoError(t, s.Set(ctx, "chats", []byte(`[3]`)))
	v, err = s.Get(ctx, "chats")
	require.NoError(t, err)
	require.Equal(t, `[3]`, string(v))

	require.NoError(t, s.Delete(ctx, "chats"))
	_, err = s.Get(ctx, "chats")
	require.ErrorIs(t, err, ErrNotFound)

	require.Error(t, s.Set(ctx, "  ", []byte("x")))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Set(context.Background(), "k", buf))
	buf[0] = 'z'
	v, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(v))
}

func TestSQLiteStore(t *testing.T) {
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	s, err := NewSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kv.db")
	s, err := Open(Settings{Driver: DriverSQLite, Path: path})
	require.NoError(t, err)
	require.NoError(t, PutJSON(context.Background(), s, "messageCount", map[string]any{"count": 3}))
	require.NoError(t, s.Close())

	s, err = Open(Settings{Driver: DriverSQLite, Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var got struct {
		Count int `json:"count"`
	}
	require.NoError(t, GetJSON(context.Background(), s, "messageCount", &got))
	require.Equal(t, 3, got.Count)
}

func TestGetJSON_Corrupt(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Set(context.Background(), "chats", []byte("{not json")))
	var v []any
	err := GetJSON(context.Background(), m, "chats", &v)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestOpen(t *testing.T) {
	s, err := Open(Settings{})
	require.NoError(t, err)
	require.IsType(t, &Memory{}, s)

	_, err = Open(Settings{Driver: "etcd"})
	require.Error(t, err)

	_, err = Open(Settings{Driver: DriverSQLite})
	require.Error(t, err)

	_, err = Open(Settings{Driver: DriverRedis})
	require.Error(t, err)
}
