package smartbits

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/pkg/kernel"
	"github.com/sage3/foresight/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	mu        sync.Mutex
	published []map[string]interface{}
	callbacks map[string]kernel.Callback
	execErr   error
	nextID    string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{callbacks: make(map[string]kernel.Callback), nextID: "r1"}
}

func (f *fakeRuntime) Execute(_ context.Context, appID, kernelID, code string, cb kernel.Callback) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return "", f.execErr
	}
	f.callbacks[f.nextID] = cb
	return f.nextID, nil
}

func (f *fakeRuntime) Publish(_ context.Context, appID string, state map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, state)
	return nil
}

func (f *fakeRuntime) last() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return nil
	}
	return f.published[len(f.published)-1]
}

func (f *fakeRuntime) finish(id string, out kernel.Outcome) {
	f.mu.Lock()
	cb := f.callbacks[id]
	f.mu.Unlock()
	cb(out)
}

func appDoc(t *testing.T, id, appType string, updatedAt int64, state map[string]interface{}) models.Document {
	t.Helper()
	data, err := json.Marshal(models.AppData{
		RoomID:  "room-1",
		BoardID: "board-1",
		Type:    appType,
		State:   state,
	})
	require.NoError(t, err)
	return models.Document{ID: id, UpdatedAt: updatedAt, Data: data}
}

func TestFactoryUnknownVariant(t *testing.T) {
	f := NewDefaultFactory(newFakeRuntime())

	_, err := f.New(appDoc(t, "app-1", "Hologram", 1, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUnknownVariant))
}

func TestFactoryTypes(t *testing.T) {
	f := NewDefaultFactory(nil)
	assert.Contains(t, f.Types(), TypeCounter)
	assert.Contains(t, f.Types(), TypeSageCell)
	assert.IsIncreasing(t, f.Types())
}

func TestCounterLifecycle(t *testing.T) {
	rt := newFakeRuntime()
	f := NewDefaultFactory(rt)

	sb, err := f.New(appDoc(t, "app-2", TypeCounter, 100, map[string]interface{}{"count": 3}))
	require.NoError(t, err)
	assert.Equal(t, "app-2", sb.ID())
	assert.Equal(t, "board-1", sb.BoardID())
	assert.Equal(t, float64(3), sb.State()["count"])

	require.NoError(t, sb.HandleAction(context.Background(), "increment", nil))
	require.NoError(t, sb.HandleAction(context.Background(), "increment", map[string]interface{}{"step": 5.0}))
	assert.Equal(t, float64(9), sb.State()["count"])

	published := rt.last()
	assert.Equal(t, float64(9), published["count"])
	assert.Equal(t, "", published["executeInfo"].(map[string]interface{})["executeFunc"])

	err = sb.HandleAction(context.Background(), "explode", nil)
	assert.True(t, errors.Is(err, errors.ErrCodeUnknownAction))
}

func TestApplyUpdateMergesAndReportsInvocation(t *testing.T) {
	f := NewDefaultFactory(newFakeRuntime())
	sb, err := f.New(appDoc(t, "app-3", TypeStickie, 1, map[string]interface{}{"text": "hi", "color": "yellow"}))
	require.NoError(t, err)

	doc := appDoc(t, "app-3", TypeStickie, 2, map[string]interface{}{
		"text":        "hello",
		"executeInfo": map[string]interface{}{"executeFunc": "set_color", "params": map[string]interface{}{"color": "blue"}},
	})
	data, err := doc.App()
	require.NoError(t, err)

	inv, err := sb.ApplyUpdate(doc, data)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, "set_color", inv.Action)
	assert.Equal(t, "blue", inv.Params["color"])

	state := sb.State()
	assert.Equal(t, "hello", state["text"])
	assert.Equal(t, "yellow", state["color"], "keys absent from the update keep their value")
	assert.Equal(t, int64(2), sb.UpdatedAt())

	require.NoError(t, sb.HandleAction(context.Background(), inv.Action, inv.Params))
	assert.Equal(t, "blue", sb.State()["color"])
}

func TestApplyUpdateRejectsBadState(t *testing.T) {
	f := NewDefaultFactory(newFakeRuntime())
	sb, err := f.New(appDoc(t, "app-4", TypeCounter, 1, map[string]interface{}{"count": 1}))
	require.NoError(t, err)

	doc := appDoc(t, "app-4", TypeCounter, 2, map[string]interface{}{"count": map[string]interface{}{"n": 1}})
	data, err := doc.App()
	require.NoError(t, err)

	_, err = sb.ApplyUpdate(doc, data)
	assert.True(t, errors.Is(err, errors.ErrCodeMalformedMessage))
	assert.Equal(t, float64(1), sb.State()["count"])
}

func TestSliderClamps(t *testing.T) {
	f := NewDefaultFactory(newFakeRuntime())
	sb, err := f.New(appDoc(t, "s", TypeSlider, 1, map[string]interface{}{"value": 5, "min": 0, "max": 10}))
	require.NoError(t, err)

	require.NoError(t, sb.HandleAction(context.Background(), "set_value", map[string]interface{}{"value": 42.0}))
	assert.Equal(t, float64(10), sb.State()["value"])

	err = sb.HandleAction(context.Background(), "set_value", nil)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestPDFViewerPaging(t *testing.T) {
	f := NewDefaultFactory(newFakeRuntime())
	sb, err := f.New(appDoc(t, "p", TypePDFViewer, 1, map[string]interface{}{"assetid": "a", "numPages": 3}))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sb.HandleAction(ctx, "prev_page", nil))
	assert.Equal(t, float64(0), sb.State()["currentPage"])
	require.NoError(t, sb.HandleAction(ctx, "next_page", nil))
	require.NoError(t, sb.HandleAction(ctx, "next_page", nil))
	require.NoError(t, sb.HandleAction(ctx, "next_page", nil))
	assert.Equal(t, float64(2), sb.State()["currentPage"])

	err = sb.HandleAction(ctx, "goto_page", map[string]interface{}{"page": 7.0})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	require.NoError(t, sb.HandleAction(ctx, "goto_page", map[string]interface{}{"page": 1.0}))
	assert.Equal(t, float64(1), sb.State()["currentPage"])
}

func TestWebviewNavigate(t *testing.T) {
	f := NewDefaultFactory(newFakeRuntime())
	sb, err := f.New(appDoc(t, "w", TypeWebview, 1, nil))
	require.NoError(t, err)

	err = sb.HandleAction(context.Background(), "navigate", map[string]interface{}{"url": "javascript:alert(1)"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	require.NoError(t, sb.HandleAction(context.Background(), "navigate", map[string]interface{}{"url": "https://sage3.app"}))
	assert.Equal(t, "https://sage3.app", sb.State()["webviewurl"])
}

func TestCodeCellExecuteRoundTrip(t *testing.T) {
	rt := newFakeRuntime()
	f := NewDefaultFactory(rt)
	sb, err := f.New(appDoc(t, "cell", TypeSageCell, 1, map[string]interface{}{"code": "x=1"}))
	require.NoError(t, err)

	require.NoError(t, sb.HandleAction(context.Background(), "execute", nil))
	state := sb.State()
	assert.Equal(t, CellRunning, state["status"])
	assert.Equal(t, "r1", state["msgId"])

	count := 4
	rt.finish("r1", kernel.Outcome{
		RequestID: "r1",
		AppID:     "cell",
		State:     kernel.Completed,
		Result: &models.ExecResult{
			RequestID:      "r1",
			ExecuteResult:  map[string]interface{}{"data": "1"},
			ExecutionCount: &count,
		},
	})

	state = sb.State()
	assert.Equal(t, CellDone, state["status"])
	assert.Equal(t, float64(4), state["executionCount"])
	assert.Contains(t, state["output"], `"execute_result":{"data":"1"}`)
	assert.Equal(t, CellDone, rt.last()["status"])
}

func TestCodeCellCancelled(t *testing.T) {
	rt := newFakeRuntime()
	f := NewDefaultFactory(rt)
	sb, err := f.New(appDoc(t, "cell", TypeCodeCell, 1, map[string]interface{}{"code": "sleep(100)"}))
	require.NoError(t, err)

	require.NoError(t, sb.HandleAction(context.Background(), "execute", nil))
	rt.finish("r1", kernel.Outcome{
		RequestID: "r1",
		State:     kernel.Cancelled,
		Err:       errors.Cancelled("r1", "app removed"),
	})
	assert.Equal(t, CellCancelled, sb.State()["status"])

	// A late result for the same request is ignored.
	rt.finish("r1", kernel.Outcome{RequestID: "r1", State: kernel.Completed})
	assert.Equal(t, CellCancelled, sb.State()["status"])
}

func TestCodeCellBackendUnavailable(t *testing.T) {
	rt := newFakeRuntime()
	rt.execErr = errors.BackendUnavailable("http://kernel", assert.AnError)
	f := NewDefaultFactory(rt)
	sb, err := f.New(appDoc(t, "cell", TypeCodeCell, 1, map[string]interface{}{"code": "x"}))
	require.NoError(t, err)

	err = sb.HandleAction(context.Background(), "execute", nil)
	assert.True(t, errors.Is(err, errors.ErrCodeBackendUnavailable))
	assert.Equal(t, CellError, sb.State()["status"])
}

func TestCodeCellRequiresCode(t *testing.T) {
	f := NewDefaultFactory(newFakeRuntime())
	sb, err := f.New(appDoc(t, "cell", TypeCodeCell, 1, nil))
	require.NoError(t, err)

	err = sb.HandleAction(context.Background(), "execute", nil)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}
