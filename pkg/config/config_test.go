package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/voxchat/pkg/kvstore"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load(NewViper())
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8000", s.BackendURL)
	require.Equal(t, 60*time.Second, s.HTTPTimeout)
	require.Equal(t, 5, s.DailyLimit)
	require.True(t, s.Realtime.Enabled)
	require.Equal(t, 5, s.Realtime.MaxAttempts)
	require.Equal(t, time.Second, s.Realtime.BaseDelay)
	require.Equal(t, 25*time.Millisecond, s.Typing.Reply)
	require.Equal(t, kvstore.DriverSQLite, s.Storage.Driver)
	require.Equal(t, "voxchat.events", s.Events.Topic)
}

func TestLoad_EnvAndFileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("daily-limit: 9\nrealtime:\n  url: ws://example/ws\n  base-delay: 250ms\n"), 0o644))
	t.Setenv("VOXCHAT_REALTIME_MAX_ATTEMPTS", "2")
	t.Setenv("VOXCHAT_BACKEND_URL", "https://api.example")

	v := NewViper()
	require.NoError(t, ReadFile(v, path))
	s, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, 9, s.DailyLimit)
	require.Equal(t, "ws://example/ws", s.Realtime.URL)
	require.Equal(t, 250*time.Millisecond, s.Realtime.BaseDelay)
	require.Equal(t, 2, s.Realtime.MaxAttempts)
	require.Equal(t, "https://api.example", s.BackendURL)
}

func TestLoad_Invalid(t *testing.T) {
	v := NewViper()
	v.Set("storage.driver", "etcd")
	_, err := Load(v)
	require.Error(t, err)

	v = NewViper()
	v.Set("daily-limit", 0)
	_, err = Load(v)
	require.Error(t, err)
}

func TestReadFile_MissingExplicitPath(t *testing.T) {
	require.Error(t, ReadFile(NewViper(), filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestEditor_SetGetUnsetSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	e, err := NewEditor(path)
	require.NoError(t, err)

	require.NoError(t, e.Set("backend-url", "http://a"))
	require.NoError(t, e.Set("realtime.url", "ws://b/ws"))
	require.NoError(t, e.Set("realtime.enabled", "false"))
	require.Error(t, e.Set("realtime", "x"))
	require.Error(t, e.Set("backend-url.sub", "x"))
	require.NoError(t, e.Save())

	e, err = NewEditor(path)
	require.NoError(t, err)
	got, err := e.Get("realtime.url")
	require.NoError(t, err)
	require.Equal(t, "ws://b/ws", got)

	flat := e.Flatten()
	var keys []string
	for p := flat.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	require.Equal(t, []string{"backend-url", "realtime.url", "realtime.enabled"}, keys)

	require.NoError(t, e.Unset("realtime.url"))
	_, err = e.Get("realtime.url")
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.ErrorIs(t, e.Unset("missing"), ErrKeyNotFound)

	require.NoError(t, e.Save())
	v := NewViper()
	require.NoError(t, ReadFile(v, path))
	s, err := Load(v)
	require.NoError(t, err)
	require.False(t, s.Realtime.Enabled)
	require.Equal(t, "http://a", s.BackendURL)
}
