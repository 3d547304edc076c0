package provider

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ipfs-force-community/sophon-bridge/types"
)

type walletStub struct {
	out    chan *types.RequestEvent
	in     chan *types.ResponseEvent
	events chan *types.RequestEvent
}

func newWalletStub(ctx context.Context, handle func(req *types.RequestEvent) *types.ResponseEvent) *walletStub {
	s := &walletStub{
		out:    make(chan *types.RequestEvent, 16),
		in:     make(chan *types.ResponseEvent, 16),
		events: make(chan *types.RequestEvent, 16),
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-s.out:
				if resp := handle(req); resp != nil {
					resp.ID = req.ID
					s.in <- resp
				}
			}
		}
	}()
	return s
}

func setupProvider(t *testing.T, ctx context.Context, handle func(req *types.RequestEvent) *types.ResponseEvent) (*Provider, *walletStub) {
	stub := newWalletStub(ctx, handle)
	p, err := New(ctx, types.DefaultRequestConfig(), stub.out, stub.in, stub.events, zap.NewNop().Sugar())
	require.NoError(t, err)
	return p, stub
}

func TestProviderConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accounts := []common.Address{common.HexToAddress("0x00000000000000000000000000000000000000aa")}
	var relayed int
	p, _ := setupProvider(t, ctx, func(req *types.RequestEvent) *types.ResponseEvent {
		relayed++
		switch req.Method {
		case types.MethodRequestAccounts:
			raw, _ := json.Marshal(accounts)
			return &types.ResponseEvent{Payload: raw}
		default:
			return &types.ResponseEvent{Error: types.ErrUnsupportedMethod(req.Method)}
		}
	})

	require.Equal(t, StateDisconnected, p.State())

	result, err := p.Request(ctx, types.MethodRequestAccounts, nil)
	require.NoError(t, err)
	var granted []common.Address
	require.NoError(t, json.Unmarshal(result, &granted))
	require.Equal(t, accounts, granted)
	require.Equal(t, StateConnected, p.State())

	// eth_accounts is now answered from cache, nothing crosses the relay
	before := relayed
	result, err = p.Request(ctx, types.MethodAccounts, nil)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(result, &granted))
	require.Equal(t, accounts, granted)
	require.Equal(t, before, relayed)
}

func TestProviderConnectRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, _ := setupProvider(t, ctx, func(req *types.RequestEvent) *types.ResponseEvent {
		return &types.ResponseEvent{Error: types.ErrUserRejected()}
	})

	_, err := p.Request(ctx, types.MethodRequestAccounts, nil)
	var rpcErr *types.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, types.ErrCodeUserRejected, rpcErr.Code)
	require.Equal(t, StateDisconnected, p.State())
}

func TestProviderChainSwitchSingleFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	p, stub := setupProvider(t, ctx, func(req *types.RequestEvent) *types.ResponseEvent {
		if req.Method == types.MethodSwitchChain {
			<-release
			return &types.ResponseEvent{Payload: []byte("null")}
		}
		return &types.ResponseEvent{Payload: []byte("null")}
	})
	_ = stub

	params := json.RawMessage(`{"chainId":"0x89"}`)
	firstDone := make(chan error, 1)
	go func() {
		_, err := p.Request(ctx, types.MethodSwitchChain, params)
		firstDone <- err
	}()

	// wait for the first switch to be in flight
	require.Eventually(t, func() bool {
		p.lk.Lock()
		defer p.lk.Unlock()
		return p.switching
	}, time.Second, time.Millisecond*5)

	// a second chain mutation fails fast instead of queueing
	_, err := p.Request(ctx, types.MethodSwitchChain, params)
	var rpcErr *types.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, types.ErrCodeResourceUnavailable, rpcErr.Code)

	close(release)
	require.NoError(t, <-firstDone)

	// the switch succeeded, the cache answers with the new chain
	result, err := p.Request(ctx, types.MethodChainID, nil)
	require.NoError(t, err)
	var chainID string
	require.NoError(t, json.Unmarshal(result, &chainID))
	require.Equal(t, "0x89", chainID)
}

func TestProviderEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, stub := setupProvider(t, ctx, func(req *types.RequestEvent) *types.ResponseEvent {
		return &types.ResponseEvent{Payload: []byte("null")}
	})

	chainSub := p.On(types.EventChainChanged)
	defer chainSub.Unsubscribe()
	accountsSub := p.On(types.EventAccountsChanged)
	defer accountsSub.Unsubscribe()

	stub.events <- &types.RequestEvent{Method: types.EventChainChanged, Payload: []byte(`"0x38"`)}
	select {
	case payload := <-chainSub.C:
		var chainID string
		require.NoError(t, json.Unmarshal(payload, &chainID))
		require.Equal(t, "0x38", chainID)
	case <-time.After(time.Second):
		t.Fatal("no chainChanged within deadline")
	}

	// the cache follows the event
	result, err := p.Request(ctx, types.MethodChainID, nil)
	require.NoError(t, err)
	var cached string
	require.NoError(t, json.Unmarshal(result, &cached))
	require.Equal(t, "0x38", cached)

	stub.events <- &types.RequestEvent{Method: types.EventAccountsChanged, Payload: []byte(`[]`)}
	select {
	case payload := <-accountsSub.C:
		var accounts []common.Address
		require.NoError(t, json.Unmarshal(payload, &accounts))
		require.Empty(t, accounts)
	case <-time.After(time.Second):
		t.Fatal("no accountsChanged within deadline")
	}

	// unrelated frames on the event bus are dropped
	stub.events <- &types.RequestEvent{Method: "SOME_UNRELATED_FRAME", Payload: []byte(`{}`)}
	select {
	case <-chainSub.C:
		t.Fatal("noise reached a listener")
	case <-time.After(time.Millisecond * 100):
	}
}

func TestProviderReconnectEmitsConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accounts := []common.Address{common.HexToAddress("0x00000000000000000000000000000000000000aa")}
	p, stub := setupProvider(t, ctx, func(req *types.RequestEvent) *types.ResponseEvent {
		raw, _ := json.Marshal(accounts)
		return &types.ResponseEvent{Payload: raw}
	})

	connectSub := p.On(types.EventConnect)
	defer connectSub.Unsubscribe()

	// a reloaded page reconnecting against a live session gets no prompt,
	// but the wallet re-broadcasts connect and the page must observe it
	_, err := p.Request(ctx, types.MethodRequestAccounts, nil)
	require.NoError(t, err)
	stub.events <- &types.RequestEvent{Method: types.EventConnect, Payload: []byte(`{"chainId":"0x1"}`)}

	select {
	case payload := <-connectSub.C:
		var body map[string]string
		require.NoError(t, json.Unmarshal(payload, &body))
		require.Equal(t, "0x1", body["chainId"])
	case <-time.After(time.Second):
		t.Fatal("no connect within deadline")
	}

	// further re-broadcasts while connected must not repeat the event
	_, err = p.Request(ctx, types.MethodRequestAccounts, nil)
	require.NoError(t, err)
	stub.events <- &types.RequestEvent{Method: types.EventConnect, Payload: []byte(`{"chainId":"0x1"}`)}
	select {
	case <-connectSub.C:
		t.Fatal("duplicate connect event")
	case <-time.After(time.Millisecond * 100):
	}

	// after a disconnect the next connect is announced again
	stub.events <- &types.RequestEvent{Method: types.EventDisconnect, Payload: []byte(`{"code":4900}`)}
	require.Eventually(t, func() bool {
		return p.State() == StateDisconnected
	}, time.Second, time.Millisecond*5)

	stub.events <- &types.RequestEvent{Method: types.EventConnect, Payload: []byte(`{"chainId":"0x1"}`)}
	select {
	case <-connectSub.C:
	case <-time.After(time.Second):
		t.Fatal("no connect after reconnecting")
	}
}

func TestProviderDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accounts := []common.Address{common.HexToAddress("0x00000000000000000000000000000000000000aa")}
	p, stub := setupProvider(t, ctx, func(req *types.RequestEvent) *types.ResponseEvent {
		raw, _ := json.Marshal(accounts)
		return &types.ResponseEvent{Payload: raw}
	})

	_, err := p.Request(ctx, types.MethodRequestAccounts, nil)
	require.NoError(t, err)
	require.Equal(t, StateConnected, p.State())

	disconnectSub := p.On(types.EventDisconnect)
	defer disconnectSub.Unsubscribe()

	stub.events <- &types.RequestEvent{Method: types.EventDisconnect, Payload: []byte(`{"code":4900}`)}
	select {
	case <-disconnectSub.C:
	case <-time.After(time.Second):
		t.Fatal("no disconnect within deadline")
	}
	require.Eventually(t, func() bool {
		return p.State() == StateDisconnected
	}, time.Second, time.Millisecond*5)
}

func TestProviderInvalidParams(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, _ := setupProvider(t, ctx, func(req *types.RequestEvent) *types.ResponseEvent {
		return &types.ResponseEvent{Payload: []byte("null")}
	})

	_, err := p.Request(ctx, types.MethodPersonalSign, func() {})
	var rpcErr *types.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, types.ErrCodeInvalidParams, rpcErr.Code)
}

func TestAnnouncer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, _ := setupProvider(t, ctx, func(req *types.RequestEvent) *types.ResponseEvent {
		return &types.ResponseEvent{Payload: []byte("null")}
	})

	bus := make(chan *AnnounceDetail, 4)
	a := NewAnnouncer(p, "Sophon", "data:image/svg+xml;base64,", "io.sophon.bridge", bus)
	a.Start(ctx)

	first := nextAnnounce(t, bus)
	require.Equal(t, "Sophon", first.Info.Name)
	require.NotEmpty(t, first.Info.UUID)
	require.Same(t, p, first.Provider)

	// every explicit request gets exactly one more announcement
	a.RequestProvider(ctx)
	second := nextAnnounce(t, bus)
	require.Equal(t, first.Info.UUID, second.Info.UUID)

	select {
	case <-bus:
		t.Fatal("unsolicited extra announcement")
	case <-time.After(time.Millisecond * 100):
	}
}

func nextAnnounce(t *testing.T, bus chan *AnnounceDetail) *AnnounceDetail {
	select {
	case d := <-bus:
		return d
	case <-time.After(time.Second):
		t.Fatal("no announcement within deadline")
		return nil
	}
}
