package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		require.Equal(t, "35.6", r.URL.Query().Get("lat"))
		require.Equal(t, "139.7", r.URL.Query().Get("lon"))
		w.Write([]byte(`{"display_name":"1-2-3 Example St, Example City"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	addr, err := c.Reverse(context.Background(), 35.6, 139.7)
	require.NoError(t, err)
	require.Equal(t, "1-2-3 Example St, Example City", addr)
}

func TestReverse_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	_, err := c.Reverse(context.Background(), 1, 1)
	require.Error(t, err)
}

func TestReverse_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	_, err := c.Reverse(context.Background(), 1, 1)
	require.Error(t, err)
}
