package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sage3/foresight/config"
	"github.com/sage3/foresight/internal/daemon/engine"
	"github.com/sage3/foresight/logging"
	"github.com/sage3/foresight/pkg/models"
	"github.com/sage3/foresight/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*engine.Engine, *httptest.Server) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{URL: "http://localhost:3333", SocketURL: "ws://127.0.0.1:1/api", Token: "t"},
		Kernel: config.KernelConfig{URL: "http://127.0.0.1:1"},
		Redis:  config.RedisConfig{Addr: mr.Addr()},
	}
	cfg.SetDefaults()

	eng, err := engine.New(cfg, logging.NewLogger("test"), engine.WithRedis(rdb))
	require.NoError(t, err)

	s := New(logging.NewLogger("test"))
	s.SetEngine(eng)
	s.SetRunningConfig(&RunningConfig{ServerURL: cfg.Server.URL, DedupPolicy: cfg.Daemon.DedupPolicy})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return eng, srv
}

func createApp(t *testing.T, eng *engine.Engine, id string) {
	t.Helper()
	data, err := json.Marshal(models.AppData{RoomID: "room", BoardID: "board", Type: "Counter",
		State: map[string]interface{}{"count": 2}})
	require.NoError(t, err)
	doc, err := json.Marshal(models.Document{ID: id, UpdatedAt: 1, Data: data})
	require.NoError(t, err)
	eng.OnFrame(models.Frame{Event: &models.RawEvent{Type: models.EventCreate, Col: models.CollectionApps, Doc: doc}})
}

func getJSON(t *testing.T, url string, v interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusAndApps(t *testing.T) {
	eng, srv := newTestServer(t)
	createApp(t, eng, "app-1")

	var status engine.Status
	getJSON(t, srv.URL+"/api/status", &status)
	assert.Equal(t, 1, status.Apps)
	assert.Contains(t, status.Variants, "Counter")

	var apps []registry.AppInfo
	getJSON(t, srv.URL+"/api/apps", &apps)
	require.Len(t, apps, 1)
	assert.Equal(t, "app-1", apps[0].ID)
	assert.Nil(t, apps[0].State)

	getJSON(t, srv.URL+"/api/apps?state=true", &apps)
	require.Len(t, apps, 1)
	assert.Equal(t, float64(2), apps[0].State["count"])

	var boards []registry.BoardInfo
	getJSON(t, srv.URL+"/api/boards?room=room", &boards)
	require.Len(t, boards, 1)
	assert.Equal(t, []string{"app-1"}, boards[0].Apps)
}

func TestPendingAndConfig(t *testing.T) {
	_, srv := newTestServer(t)

	var pending []map[string]interface{}
	getJSON(t, srv.URL+"/api/pending", &pending)
	assert.Empty(t, pending)

	var cfg RunningConfig
	getJSON(t, srv.URL+"/api/config", &cfg)
	assert.Equal(t, "http://localhost:3333", cfg.ServerURL)
	assert.Equal(t, config.DedupEquality, cfg.DedupPolicy)
}

func TestNotReadyWithoutEngine(t *testing.T) {
	s := New(logging.NewLogger("test"))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for _, path := range []string{"/api/status", "/api/apps", "/api/pending", "/api/config"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
}

func TestStreamDeliversChanges(t *testing.T) {
	eng, srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	// The connected comment is written after the subscription exists.
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, ": connected"))

	createApp(t, eng, "app-9")

	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var change registry.Change
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &change))
		assert.Equal(t, registry.ChangeCreated, change.Type)
		assert.Equal(t, "app-9", change.AppID)
		return
	}
}

func TestListenAndServeOnSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "fs")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	socket := filepath.Join(dir, "run", "foresight.sock")

	// A stale socket file from a crashed daemon is replaced.
	require.NoError(t, os.MkdirAll(filepath.Dir(socket), 0755))
	require.NoError(t, os.WriteFile(socket, nil, 0600))

	s := New(logging.NewLogger("test"))
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(socket) }()

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		},
	}}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://unix/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	info, err := os.Stat(socket)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, <-done)
}
