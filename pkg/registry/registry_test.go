package registry

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/pkg/models"
	"github.com/sage3/foresight/pkg/smartbits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(t *testing.T, id, appType, room, board string, updatedAt int64, state map[string]interface{}) models.Document {
	t.Helper()
	data, err := json.Marshal(models.AppData{RoomID: room, BoardID: board, Type: appType, State: state})
	require.NoError(t, err)
	return models.Document{ID: id, UpdatedAt: updatedAt, Data: data}
}

func newRegistry(opts ...Option) *Registry {
	return New(smartbits.NewDefaultFactory(nil), opts...)
}

func TestUpsertIsIdempotent(t *testing.T) {
	reg := newRegistry()

	_, err := reg.Upsert("app-1", doc(t, "app-1", "Counter", "r", "b", 1, map[string]interface{}{"count": 1}))
	require.NoError(t, err)
	first, ok := reg.Get("app-1")
	require.True(t, ok)

	_, err = reg.Upsert("app-1", doc(t, "app-1", "Counter", "r", "b", 2, map[string]interface{}{"count": 2}))
	require.NoError(t, err)
	second, ok := reg.Get("app-1")
	require.True(t, ok)

	assert.Same(t, first, second)
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, float64(2), second.State()["count"])
}

func TestConcurrentUpsertKeepsOneInstance(t *testing.T) {
	reg := newRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = reg.Upsert("app-1", doc(t, "app-1", "Counter", "r", "b", int64(i), nil))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, reg.Len())
}

func TestUnknownVariantDoesNotBreakRegistry(t *testing.T) {
	reg := newRegistry()

	_, err := reg.Upsert("app-x", doc(t, "app-x", "Hologram", "r", "b", 1, nil))
	assert.True(t, errors.Is(err, errors.ErrCodeUnknownVariant))
	_, ok := reg.Get("app-x")
	assert.False(t, ok)

	_, err = reg.Upsert("app-1", doc(t, "app-1", "Stickie", "r", "b", 1, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
}

func TestRemoveReleasesOnce(t *testing.T) {
	var released []string
	reg := newRegistry(WithRelease(func(id string) { released = append(released, id) }))

	_, err := reg.Upsert("app-1", doc(t, "app-1", "Counter", "r", "b", 1, nil))
	require.NoError(t, err)

	assert.True(t, reg.Remove("app-1"))
	assert.False(t, reg.Remove("app-1"))
	assert.False(t, reg.Remove("never-seen"))
	assert.Equal(t, []string{"app-1"}, released)
	assert.Empty(t, reg.Boards(""))
}

func TestContainment(t *testing.T) {
	reg := newRegistry()
	_, _ = reg.Upsert("a1", doc(t, "a1", "Counter", "room-1", "board-1", 1, nil))
	_, _ = reg.Upsert("a2", doc(t, "a2", "Stickie", "room-1", "board-1", 1, nil))
	_, _ = reg.Upsert("a3", doc(t, "a3", "Slider", "room-1", "board-2", 1, nil))
	_, _ = reg.Upsert("a4", doc(t, "a4", "Webview", "room-2", "board-3", 1, nil))

	boards := reg.Boards("room-1")
	require.Len(t, boards, 2)
	assert.Equal(t, []string{"a1", "a2"}, boards[0].Apps)
	assert.Equal(t, []string{"room-1", "room-2"}, reg.Rooms())

	b3, ok := reg.Board("room-2", "board-3")
	require.True(t, ok)
	assert.Equal(t, []string{"a4"}, b3.Apps)
	_, ok = reg.Board("room-1", "board-3")
	assert.False(t, ok)

	// Moving an app between boards updates both.
	_, err := reg.Upsert("a2", doc(t, "a2", "Stickie", "room-1", "board-2", 2, nil))
	require.NoError(t, err)
	boards = reg.Boards("room-1")
	assert.Equal(t, []string{"a1"}, boards[0].Apps)
	assert.Equal(t, []string{"a2", "a3"}, boards[1].Apps)

	assert.Equal(t, 2, reg.RemoveBoard("board-2"))
	assert.Equal(t, 1, reg.RemoveRoom("room-2"))
	assert.Equal(t, 1, reg.Len())
}

func TestRoomFilter(t *testing.T) {
	reg := newRegistry(WithRoomFilter(func(room string) bool { return room == "mine" }))

	_, err := reg.Upsert("a1", doc(t, "a1", "Counter", "other", "b", 1, nil))
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())

	_, _ = reg.Upsert("a2", doc(t, "a2", "Counter", "mine", "b", 1, nil))
	assert.Equal(t, 1, reg.Len())
	_, _ = reg.Upsert("a2", doc(t, "a2", "Counter", "other", "b", 2, nil))
	assert.Equal(t, 0, reg.Len())
}

func TestPopulateReconciles(t *testing.T) {
	var released []string
	reg := newRegistry(WithRelease(func(id string) { released = append(released, id) }))
	_, _ = reg.Upsert("stale", doc(t, "stale", "Counter", "r", "b", 1, nil))

	n, errs := reg.Populate([]models.Document{
		doc(t, "a1", "Counter", "r", "b", 1, nil),
		doc(t, "a2", "Mystery", "r", "b", 1, nil),
		doc(t, "a3", "Stickie", "r", "b", 1, nil),
	})
	assert.Equal(t, 2, n)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], errors.ErrCodeUnknownVariant))
	assert.Equal(t, []string{"stale"}, released)

	ids := []string{}
	for _, info := range reg.Snapshot(false) {
		ids = append(ids, info.ID)
	}
	assert.Equal(t, []string{"a1", "a3"}, ids)
}

func TestUpsertReturnsInvocation(t *testing.T) {
	reg := newRegistry()
	state := map[string]interface{}{
		"executeInfo": map[string]interface{}{"executeFunc": "increment", "params": map[string]interface{}{}},
	}

	inv, err := reg.Upsert("a1", doc(t, "a1", "Counter", "r", "b", 1, state))
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, "increment", inv.Action)

	inv, err = reg.Upsert("a1", doc(t, "a1", "Counter", "r", "b", 2, map[string]interface{}{"count": 1}))
	require.NoError(t, err)
	assert.Nil(t, inv)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	reg := newRegistry()
	ch := reg.Subscribe()

	_, _ = reg.Upsert("a1", doc(t, "a1", "Counter", "r", "b", 1, nil))
	_, _ = reg.Upsert("a1", doc(t, "a1", "Counter", "r", "b", 2, nil))
	reg.Remove("a1")

	var types []ChangeType
	for i := 0; i < 3; i++ {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []ChangeType{ChangeCreated, ChangeUpdated, ChangeRemoved}, types)

	reg.Unsubscribe(ch)
	reg.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}
