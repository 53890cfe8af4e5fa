package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nelculobot/internal/observability/metrics"
	"nelculobot/pkg/logx"
)

func provider(context.Context) Snapshot {
	return Snapshot{IntervalMinutes: 30, Subscribers: 4, StoreDriver: "file", Scheduler: "armed"}
}

func get(t *testing.T, h http.Handler, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.Subscribers(4)
	s := New(Config{Enabled: true}, provider, m.Registry(), logx.Nop())
	h := s.Handler()

	rec := get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = get(t, h, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 30, snap.IntervalMinutes)
	assert.Equal(t, 4, snap.Subscribers)

	rec = get(t, h, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nelculobot_subscribers 4")

	assert.Equal(t, http.StatusNotFound, get(t, h, "/debug/pprof/", nil).Code, "pprof is opt-in")
}

func TestTokenGuardsEverythingButHealthz(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Token: "s3cret", Pprof: true}, provider, nil, logx.Nop())
	h := s.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/status", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/status?token=nope", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/status?token=s3cret", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/status", map[string]string{"Authorization": "Bearer s3cret"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/debug/pprof/cmdline?token=s3cret", nil).Code)
}

func TestStartStopLoopback(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, provider, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Empty(t, s.Addr())
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, provider, nil, logx.Nop())
	assert.ErrorIs(t, s.Start(context.Background()), ErrInsecureBind)

	off := New(Config{Enabled: false}, provider, nil, logx.Nop())
	require.NoError(t, off.Start(context.Background()))
	assert.Empty(t, off.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	assert.True(t, IsLoopbackAddr("127.0.0.1:8080"))
	assert.True(t, IsLoopbackAddr("localhost:1"))
	assert.True(t, IsLoopbackAddr("[::1]:80"))
	assert.False(t, IsLoopbackAddr(":8080"))
	assert.False(t, IsLoopbackAddr("10.0.0.1:80"))
	assert.False(t, IsLoopbackAddr("garbage"))
}

func TestStartAndReconfigureReturn(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, provider, nil, logx.Nop())
	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start blocked")
	}

	go func() {
		done <- s.Reconfigure(context.Background(), Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Reconfigure blocked")
	}

	addr := s.Addr()
	require.NotEmpty(t, addr)
	resp, err := http.Get("http://" + addr + "/debug/pprof/cmdline")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Empty(t, s.Addr())
}

func TestTokenEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, tokenEqual("s3cret", "s3cret"))
	assert.False(t, tokenEqual("s3cre", "s3cret"))
	assert.False(t, tokenEqual("", "s3cret"))
}
