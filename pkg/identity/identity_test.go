package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/voxchat/pkg/kvstore"
)

func TestParseUserID(t *testing.T) {
	cases := map[string]int{
		"42":             42,
		"  7":            7,
		"123abc":         123,
		"guest_17000000": DefaultUserID,
		"google_123":     DefaultUserID,
		"":               DefaultUserID,
		"0":              DefaultUserID,
		"-3":             -3,
	}
	cases["99999999999999999999999"] = DefaultUserID
	for in, want := range cases {
		require.Equal(t, want, ParseUserID(in), "input %q", in)
	}
}

func TestLoginLogout(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	s, err := Load(ctx, kv)
	require.NoError(t, err)
	require.False(t, s.LoggedIn())
	require.Equal(t, DefaultUserID, s.UserID())

	u, err := s.Login(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", u.Username)
	require.Greater(t, s.UserID(), 1)

	reloaded, err := Load(ctx, kv)
	require.NoError(t, err)
	got, ok := reloaded.User()
	require.True(t, ok)
	require.Equal(t, u, got)

	require.NoError(t, kv.Set(ctx, "chats", []byte("[]")))
	require.NoError(t, reloaded.Logout(ctx, "chats"))
	require.False(t, reloaded.LoggedIn())
	_, err = kv.Get(ctx, "chats")
	require.ErrorIs(t, err, kvstore.ErrNotFound)
	_, err = kv.Get(ctx, KeyUser)
	require.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestGuestLoginUsesDefaultID(t *testing.T) {
	s, err := Load(context.Background(), kvstore.NewMemory())
	require.NoError(t, err)
	u, err := s.Login(context.Background(), "  ")
	require.NoError(t, err)
	require.Equal(t, ProviderGuest, u.Provider)
	require.Equal(t, DefaultUserID, s.UserID())
}

func TestLoad_CorruptUser(t *testing.T) {
	kv := kvstore.NewMemory()
	require.NoError(t, kv.Set(context.Background(), KeyUser, []byte("nope")))
	s, err := Load(context.Background(), kv)
	require.NoError(t, err)
	require.False(t, s.LoggedIn())
}
