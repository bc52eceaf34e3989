package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientSnapshotsAnyStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "hello")
	}))
	defer upstream.Close()

	client, err := NewClient(upstream.URL, time.Second)
	require.NoError(t, err)

	snap, err := client.Do(context.Background(), Request{Path: "/greeting"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, snap.Status)
	require.Equal(t, "hello", string(snap.Body))
	require.True(t, snap.OK())
	require.False(t, snap.FetchedAt.IsZero())

	// Error statuses are still snapshots, not transport errors.
	snap, err = client.Do(context.Background(), Request{Path: "/missing"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, snap.Status)
	require.False(t, snap.OK())
}

func TestClientForwardsMethodHeaderAndBody(t *testing.T) {
	var gotMethod, gotHeader, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Custom")
		payload, _ := io.ReadAll(r.Body)
		gotBody = string(payload)
	}))
	defer upstream.Close()

	client, err := NewClient(upstream.URL, time.Second)
	require.NoError(t, err)
	_, err = client.Do(context.Background(), Request{
		Method: http.MethodPut,
		Path:   "/api/tools/3",
		Header: http.Header{"X-Custom": {"yes"}},
		Body:   []byte(`{"a":1}`),
	})
	require.NoError(t, err)
	require.Equal(t, http.MethodPut, gotMethod)
	require.Equal(t, "yes", gotHeader)
	require.Equal(t, `{"a":1}`, gotBody)
}

func TestClientTransportFailureWrapsNetworkUnavailable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close()

	client, err := NewClient(upstream.URL, 250*time.Millisecond)
	require.NoError(t, err)
	_, err = client.Do(context.Background(), Request{Path: "/"})
	require.ErrorIs(t, err, ErrNetworkUnavailable)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("", time.Second)
	require.Error(t, err)

	client, err := NewClient("http://origin.example/", time.Second)
	require.NoError(t, err)
	require.Equal(t, "http://origin.example", client.baseURL)
}

func TestRequestCacheKeyAndMethod(t *testing.T) {
	require.True(t, Request{}.IsGET())
	require.True(t, Request{Method: http.MethodGet}.IsGET())
	require.False(t, Request{Method: http.MethodPost}.IsGET())
	require.Equal(t, "/timer?tab=1", Request{Path: "/timer?tab=1"}.CacheKey())
}
