package listenbrainz_test

import (
	"context"
	_ "embed"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edumarques81/stellar-scrobbler/internal/infra/listenbrainz"
)

//go:embed testdata/submit_listens_request.json
var submitListensRequest string

//go:embed testdata/listens_response.json
var listensResponse string

func newServer(tb testing.TB, handler http.HandlerFunc) *httptest.Server {
	tb.Helper()

	server := httptest.NewServer(handler)
	tb.Cleanup(server.Close)
	return server
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/1/submit-listens", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "Token token1", r.Header.Get("Authorization"))
		require.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "Stellar-Scrobbler/"))
		bodyBytes, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, submitListensRequest, string(bodyBytes))

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	})

	client := listenbrainz.NewClient(server.URL, "token1", "someone")
	err := client.Submit(context.Background(), listenbrainz.Listen{
		Artist:        "artist",
		Track:         "title",
		Release:       "album",
		RecordingMBID: "3f5b3ddf-4e8d-4d0c-8d43-9a3e4d0f6f2b",
		ReleaseMBID:   "not-a-uuid",
		Duration:      180 * time.Second,
		ListenedAt:    time.Unix(1683804525, 0),
	})
	require.NoError(t, err)
}

func TestSubmitUnauthorized(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code": 401, "error": "Invalid authorization token."}`))
	})

	client := listenbrainz.NewClient(server.URL, "token1", "someone")
	err := client.Submit(context.Background(), listenbrainz.Listen{Artist: "artist", Track: "title", ListenedAt: time.Now()})

	require.ErrorIs(t, err, listenbrainz.ErrListenBrainz)
	require.ErrorIs(t, err, listenbrainz.ErrUnauthorized)
	require.True(t, listenbrainz.IsPermanent(err))
}

func TestSubmitServerError(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	client := listenbrainz.NewClient(server.URL, "token1", "someone")
	err := client.Submit(context.Background(), listenbrainz.Listen{Artist: "artist", Track: "title", ListenedAt: time.Now()})

	require.ErrorIs(t, err, listenbrainz.ErrListenBrainz)
	require.False(t, listenbrainz.IsPermanent(err))
}

func TestListens(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/1/user/someone/listens", r.URL.Path)
		require.Equal(t, "1714600000", r.URL.Query().Get("max_ts"))
		require.Equal(t, "50", r.URL.Query().Get("count"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(listensResponse))
	})

	client := listenbrainz.NewClient(server.URL, "token1", "someone")
	listens, err := client.Listens(context.Background(), time.Unix(1714600000, 0), 50)
	require.NoError(t, err)
	require.Len(t, listens, 2)

	require.Equal(t, "Roygbiv", listens[0].Track)
	require.Equal(t, "Boards of Canada", listens[0].Artist)
	require.Equal(t, 151*time.Second, listens[0].Duration)
	require.Equal(t, time.Unix(1714593600, 0).UTC(), listens[0].ListenedAt)
	require.Equal(t, "Aquarius", listens[1].Track)
	require.Zero(t, listens[1].Duration)
}

func TestListensCancelled(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listensResponse))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := listenbrainz.NewClient(server.URL, "", "someone")
	_, err := client.Listens(ctx, time.Time{}, 10)
	require.Error(t, err)
}
