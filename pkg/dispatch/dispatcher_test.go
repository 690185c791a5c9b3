package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/pkg/kernel"
	"github.com/sage3/foresight/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ackBackend struct{ id string }

func (b ackBackend) Submit(context.Context, models.ExecRequest) (models.ExecAck, error) {
	return models.ExecAck{RequestID: b.id}, nil
}

type outcomes struct {
	mu  sync.Mutex
	all []kernel.Outcome
}

func (o *outcomes) add(out kernel.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.all = append(o.all, out)
}

func (o *outcomes) list() []kernel.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]kernel.Outcome(nil), o.all...)
}

func TestDeliverCompletesPendingOnce(t *testing.T) {
	proxy := kernel.NewProxy(ackBackend{id: "r1"}, time.Minute)
	d, err := New(proxy)
	require.NoError(t, err)

	got := &outcomes{}
	_, err = proxy.Execute(context.Background(), "app-1", "x=1", got.add)
	require.NoError(t, err)

	payload := []byte(`{"request_id":"r1","execute_result":{"data":"1"}}`)
	require.NoError(t, d.Deliver(payload))
	require.NoError(t, d.Deliver(payload))

	list := got.list()
	require.Len(t, list, 1)
	assert.Equal(t, "1", list[0].Result.ExecuteResult["data"])
	assert.Equal(t, 0, proxy.Len())
	assert.Equal(t, Stats{Delivered: 1, Unmatched: 1}, d.Stats())
}

func TestDeliverRejectsMalformed(t *testing.T) {
	d, err := New(kernel.NewProxy(ackBackend{}, time.Minute))
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{'request_id': 'r1'}`},
		{"python literal", `__import__('os').system('true')`},
		{"missing request id", `{"execute_result":{"data":"1"}}`},
		{"empty request id", `{"request_id":"","stream":{}}`},
		{"no result body", `{"request_id":"r1"}`},
		{"wrong type", `{"request_id":"r1","execute_result":"1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.Deliver([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeMalformedMessage))
		})
	}
	assert.Equal(t, uint64(len(tests)), d.Stats().Malformed)
}

func TestRunFromChannelSource(t *testing.T) {
	proxy := kernel.NewProxy(ackBackend{id: "r2"}, time.Minute)
	d, err := New(proxy)
	require.NoError(t, err)

	got := &outcomes{}
	_, err = proxy.Execute(context.Background(), "app-1", "1/0", got.add)
	require.NoError(t, err)

	ch := make(chan []byte, 3)
	ch <- []byte("garbage")
	ch <- []byte(`{"request_id":"r2","error":{"ename":"ZeroDivisionError","evalue":"division by zero"}}`)
	close(ch)

	require.NoError(t, d.Run(context.Background(), NewChanSource(ch)))
	list := got.list()
	require.Len(t, list, 1)
	assert.True(t, errors.Is(list[0].Err, errors.ErrCodeExecutionFailed))
}

func TestRunFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	proxy := kernel.NewProxy(ackBackend{id: "r1"}, time.Minute)
	d, err := New(proxy)
	require.NoError(t, err)

	got := &outcomes{}
	_, err = proxy.Execute(context.Background(), "app-1", "x=1", got.add)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	src, err := NewRedisSource(ctx, rdb, "jupyter_outputs")
	require.NoError(t, err)
	defer src.Close()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, src) }()

	require.NoError(t, rdb.Publish(context.Background(), "jupyter_outputs",
		`{"request_id":"r1","execute_result":{"data":"1"}}`).Err())

	assert.Eventually(t, func() bool { return len(got.list()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
