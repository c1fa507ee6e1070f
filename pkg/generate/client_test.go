package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerate_PostsQueryAndUserID(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, DefaultPath, r.URL.Path)
		require.NotEmpty(t, r.Header.Get("X-Request-Id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"**hi**"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"})
	reply, err := c.Generate(context.Background(), "hello", 9)
	require.NoError(t, err)
	require.Equal(t, "**hi**", reply)
	require.Equal(t, Request{Query: "hello", UserID: 9}, got)
}

func TestGenerate_ErrorStatusIsDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Generate(context.Background(), "q", 1)
	require.ErrorIs(t, err, ErrDelivery)
}

func TestGenerate_UnreachableIsDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url, Timeout: time.Second}).Generate(context.Background(), "q", 1)
	require.ErrorIs(t, err, ErrDelivery)
}

func TestGenerate_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{BaseURL: srv.URL}).Generate(ctx, "q", 1)
	require.ErrorIs(t, err, ErrDelivery)
}
