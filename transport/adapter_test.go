package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-bridge/types"
)

func fastConfig() *types.RequestConfig {
	cfg := types.DefaultRequestConfig()
	cfg.ReconnectAttempts = 2
	cfg.ReconnectBackoff = time.Millisecond
	return cfg
}

func TestAdapterSend(t *testing.T) {
	t.Run("reply before timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		out := make(chan *types.RequestEvent, 1)
		a, err := NewAdapter(ctx, fastConfig(), func(context.Context) (chan *types.RequestEvent, error) {
			return out, nil
		})
		require.NoError(t, err)

		go func() {
			req := <-out
			a.Registry().Respond(&types.ResponseEvent{ID: req.ID, Payload: []byte(`"pong"`)})
		}()

		resp, err := a.Send(ctx, &types.RequestEvent{ID: uuid.New(), Method: "ping"}, time.Second)
		require.NoError(t, err)
		require.Equal(t, `"pong"`, string(resp.Payload))
	})

	t.Run("timeout rejects and late reply is dropped", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		out := make(chan *types.RequestEvent, 1)
		a, err := NewAdapter(ctx, fastConfig(), func(context.Context) (chan *types.RequestEvent, error) {
			return out, nil
		})
		require.NoError(t, err)

		id := uuid.New()
		_, err = a.Send(ctx, &types.RequestEvent{ID: id, Method: "ping"}, time.Millisecond*10)
		require.ErrorIs(t, err, types.ErrRequestTimeout)

		// the slot is forgotten, a late reply must have no observable effect
		require.False(t, a.Registry().Respond(&types.ResponseEvent{ID: id, Payload: []byte(`"late"`)}))
	})

	t.Run("context cancel abandons the slot", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		out := make(chan *types.RequestEvent, 1)
		a, err := NewAdapter(ctx, fastConfig(), func(context.Context) (chan *types.RequestEvent, error) {
			return out, nil
		})
		require.NoError(t, err)

		callCtx, callCancel := context.WithCancel(ctx)
		id := uuid.New()
		done := make(chan error, 1)
		go func() {
			_, err := a.Send(callCtx, &types.RequestEvent{ID: id, Method: "ping"}, time.Minute)
			done <- err
		}()
		<-out
		callCancel()
		require.ErrorIs(t, <-done, context.Canceled)
		require.False(t, a.Registry().Respond(&types.ResponseEvent{ID: id}))
	})
}

func TestAdapterReconnect(t *testing.T) {
	t.Run("queued sends flush after reconnect", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		replacement := make(chan *types.RequestEvent, 8)
		var dials int32
		a, err := NewAdapter(ctx, fastConfig(), func(context.Context) (chan *types.RequestEvent, error) {
			n := atomic.AddInt32(&dials, 1)
			if n == 1 {
				// first channel is already closed, forcing recovery
				dead := make(chan *types.RequestEvent)
				close(dead)
				return dead, nil
			}
			return replacement, nil
		})
		require.NoError(t, err)

		go func() {
			req := <-replacement
			a.Registry().Respond(&types.ResponseEvent{ID: req.ID, Payload: []byte(`"recovered"`)})
		}()

		resp, err := a.Send(ctx, &types.RequestEvent{ID: uuid.New(), Method: "ping"}, time.Second*5)
		require.NoError(t, err)
		require.Equal(t, `"recovered"`, string(resp.Payload))
		require.GreaterOrEqual(t, atomic.LoadInt32(&dials), int32(2))
	})

	t.Run("exhausted attempts reject queued sends and fire onDown", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		first := true
		a, err := NewAdapter(ctx, fastConfig(), func(context.Context) (chan *types.RequestEvent, error) {
			if first {
				first = false
				dead := make(chan *types.RequestEvent)
				close(dead)
				return dead, nil
			}
			return nil, errors.New("still down")
		})
		require.NoError(t, err)

		downCh := make(chan struct{})
		a.OnDown(func() { close(downCh) })

		resp, err := a.Send(ctx, &types.RequestEvent{ID: uuid.New(), Method: "ping"}, time.Second*5)
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		require.Equal(t, types.ErrCodeDisconnected, resp.Error.Code)

		select {
		case <-downCh:
		case <-time.After(time.Second):
			t.Fatal("onDown never fired")
		}

		// adapter is now permanently down
		_, err = a.Send(ctx, &types.RequestEvent{ID: uuid.New(), Method: "ping"}, time.Second)
		require.ErrorIs(t, err, types.ErrConnectionClosed)
	})
}
