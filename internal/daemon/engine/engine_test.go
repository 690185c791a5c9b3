package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sage3/foresight/config"
	"github.com/sage3/foresight/logging"
	"github.com/sage3/foresight/pkg/models"
	"github.com/sage3/foresight/pkg/smartbits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	mu    sync.Mutex
	codes []string
	next  string
}

func (b *stubBackend) Submit(_ context.Context, req models.ExecRequest) (models.ExecAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes = append(b.codes, req.Code)
	return models.ExecAck{RequestID: b.next}, nil
}

func testConfig(t *testing.T, socketURL, redisAddr string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{URL: "http://localhost:3333", SocketURL: socketURL, Token: "t"},
		Kernel: config.KernelConfig{URL: "http://127.0.0.1:1"},
		Redis:  config.RedisConfig{Addr: redisAddr},
	}
	cfg.SetDefaults()
	return cfg
}

func newTestEngine(t *testing.T, backend *stubBackend) *Engine {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e, err := New(testConfig(t, "ws://127.0.0.1:1/api", mr.Addr()), logging.NewLogger("test"),
		WithBackend(backend), WithRedis(rdb))
	require.NoError(t, err)
	return e
}

func push(t *testing.T, evType models.EventType, col, id, appType string, updatedAt int64, state map[string]interface{}) models.Frame {
	t.Helper()
	data, err := json.Marshal(models.AppData{RoomID: "room", BoardID: "board", Type: appType, State: state})
	require.NoError(t, err)
	doc, err := json.Marshal(models.Document{ID: id, UpdatedAt: updatedAt, Data: data})
	require.NoError(t, err)
	return models.Frame{Event: &models.RawEvent{Type: evType, Col: col, Doc: doc}}
}

func TestDuplicateUpdateIsSuppressed(t *testing.T) {
	e := newTestEngine(t, &stubBackend{})

	e.OnFrame(push(t, models.EventCreate, models.CollectionApps, "app-2", "Counter", 100, map[string]interface{}{"count": 1}))
	e.OnFrame(push(t, models.EventUpdate, models.CollectionApps, "app-2", "Counter", 100, map[string]interface{}{"count": 7}))

	sb, ok := e.Registry().Get("app-2")
	require.True(t, ok)
	assert.Equal(t, float64(1), sb.State()["count"])

	e.OnFrame(push(t, models.EventUpdate, models.CollectionApps, "app-2", "Counter", 101, map[string]interface{}{"count": 7}))
	assert.Equal(t, float64(7), sb.State()["count"])
}

func TestDeleteOfUnknownAppIsNoop(t *testing.T) {
	e := newTestEngine(t, &stubBackend{})
	e.OnFrame(push(t, models.EventDelete, models.CollectionApps, "ghost", "Counter", 5, nil))
	assert.Equal(t, 0, e.Registry().Len())
}

func TestMalformedEventsAreCounted(t *testing.T) {
	e := newTestEngine(t, &stubBackend{})
	e.OnFrame(models.Frame{Event: &models.RawEvent{Type: "EXPLODE", Col: "APPS", Doc: []byte(`{}`)}})
	e.OnFrame(models.Frame{Event: &models.RawEvent{Type: models.EventCreate, Col: "APPS", Doc: []byte(`[1,2]`)}})
	assert.Equal(t, uint64(2), e.Status().Malformed)
}

func TestBoardDeleteRemovesApps(t *testing.T) {
	e := newTestEngine(t, &stubBackend{})
	e.OnFrame(push(t, models.EventCreate, models.CollectionApps, "a1", "Counter", 1, nil))
	e.OnFrame(push(t, models.EventCreate, models.CollectionApps, "a2", "Stickie", 1, nil))

	board, err := json.Marshal(models.Document{ID: "board", UpdatedAt: 9})
	require.NoError(t, err)
	e.OnFrame(models.Frame{Event: &models.RawEvent{Type: models.EventDelete, Col: models.CollectionBoards, Doc: board}})
	assert.Equal(t, 0, e.Registry().Len())
}

func TestCellExecutionFlow(t *testing.T) {
	backend := &stubBackend{next: "r1"}
	e := newTestEngine(t, backend)

	e.OnFrame(push(t, models.EventCreate, models.CollectionApps, "cell", smartbits.TypeSageCell, 1, map[string]interface{}{
		"code":        "x=1",
		"executeInfo": map[string]interface{}{"executeFunc": "execute", "params": map[string]interface{}{}},
	}))

	var a action
	select {
	case a = <-e.actions:
	default:
		t.Fatal("execute action was not queued")
	}
	e.invoke(context.Background(), a)

	backend.mu.Lock()
	assert.Equal(t, []string{"x=1"}, backend.codes)
	backend.mu.Unlock()
	assert.Equal(t, 1, e.Proxy().Len())

	require.NoError(t, e.dispatcher.Deliver([]byte(`{"request_id":"r1","execute_result":{"data":"1"}}`)))
	assert.Equal(t, 0, e.Proxy().Len())

	sb, _ := e.Registry().Get("cell")
	assert.Equal(t, smartbits.CellDone, sb.State()["status"])
}

func TestRemovingAppCancelsExecution(t *testing.T) {
	backend := &stubBackend{next: "r7"}
	e := newTestEngine(t, backend)

	e.OnFrame(push(t, models.EventCreate, models.CollectionApps, "cell", smartbits.TypeCodeCell, 1, map[string]interface{}{"code": "sleep(60)"}))
	sb, ok := e.Registry().Get("cell")
	require.True(t, ok)
	_ = sb.HandleAction(context.Background(), "execute", nil)
	require.Equal(t, 1, e.Proxy().Len())

	e.OnFrame(push(t, models.EventDelete, models.CollectionApps, "cell", smartbits.TypeCodeCell, 2, nil))
	assert.Equal(t, 0, e.Proxy().Len())
	assert.Equal(t, smartbits.CellCancelled, sb.State()["status"])
}

func TestActionRacingRemovalIsCancelled(t *testing.T) {
	backend := &stubBackend{next: "r8"}
	e := newTestEngine(t, backend)

	e.OnFrame(push(t, models.EventCreate, models.CollectionApps, "cell", smartbits.TypeCodeCell, 1, map[string]interface{}{"code": "x=1"}))
	sb, ok := e.Registry().Get("cell")
	require.True(t, ok)

	// The worker already holds the app when the delete is routed.
	e.OnFrame(push(t, models.EventDelete, models.CollectionApps, "cell", smartbits.TypeCodeCell, 2, nil))
	require.NoError(t, sb.HandleAction(context.Background(), "execute", nil))

	backend.mu.Lock()
	assert.Equal(t, []string{"x=1"}, backend.codes)
	backend.mu.Unlock()
	assert.Equal(t, 0, e.Proxy().Len())
	assert.Equal(t, smartbits.CellCancelled, sb.State()["status"])
}

func TestCheckLivenessWhenDisconnected(t *testing.T) {
	e := newTestEngine(t, &stubBackend{})
	assert.NoError(t, e.checkLiveness(time.Now()))
}

// sage3Server answers SUB and GET on the socket with a one-app listing.
func sage3Server(t *testing.T) string {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var env models.Envelope
			if err := ws.ReadJSON(&env); err != nil {
				return
			}
			reply := map[string]interface{}{"id": env.ID, "success": true}
			if env.Method == models.MethodGet && env.Route == "/api/apps" {
				reply["data"] = []map[string]interface{}{{
					"_id":        "app-1",
					"_updatedAt": 10,
					"data":       map[string]interface{}{"roomId": "r", "boardId": "b", "type": "Counter", "state": map[string]interface{}{"count": 3}},
				}}
			}
			if err := ws.WriteJSON(reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRunPopulatesAndShutsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, sage3Server(t), mr.Addr())

	e, err := New(cfg, logging.NewLogger("test"), WithBackend(&stubBackend{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Registry().Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	status := e.Status()
	assert.True(t, status.Channel.Connected)
	assert.Equal(t, []string{"/api/apps", "/api/boards", "/api/rooms"}, status.Channel.Routes)
	assert.Eventually(t, func() bool { return len(e.Status().Tasks) == 3 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("engine did not shut down")
	}
}
