package approval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-bridge/broker"
	"github.com/ipfs-force-community/sophon-bridge/chains"
	"github.com/ipfs-force-community/sophon-bridge/nodeclient"
	"github.com/ipfs-force-community/sophon-bridge/storage"
	"github.com/ipfs-force-community/sophon-bridge/types"
)

type stubBackend struct {
	pending  map[uuid.UUID]*types.PendingRequest
	state    *types.WalletState
	resolved []resolvedCall
}

type resolvedCall struct {
	id uuid.UUID
	d  broker.Decision
}

func (s *stubBackend) PendingSnapshot(id uuid.UUID) (*types.PendingRequest, bool) {
	pr, ok := s.pending[id]
	return pr, ok
}

func (s *stubBackend) WalletStateInfo() *types.WalletState {
	return s.state
}

func (s *stubBackend) Resolve(ctx context.Context, requestID uuid.UUID, d broker.Decision) error {
	s.resolved = append(s.resolved, resolvedCall{id: requestID, d: d})
	return nil
}

func feeServer(t *testing.T, fail bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		out := map[string]interface{}{"jsonrpc": "2.0", "id": 1}
		if fail {
			out["error"] = map[string]interface{}{"code": -32000, "message": "node down"}
		} else if req.Method == "eth_estimateGas" {
			out["result"] = hexutil.Uint64(21000)
		} else {
			out["result"] = "0x3b9aca00"
		}
		require.NoError(t, json.NewEncoder(w).Encode(out))
	}))
}

func setupFrontend(t *testing.T, ctx context.Context, nodeURL string, pr *types.PendingRequest) (*Frontend, *stubBackend) {
	store := storage.NewMemStore()
	reg := chains.NewRegistry(ctx, store, "")
	reg.Add(ctx, &types.CustomChain{
		ChainID:   "0x7a69",
		ChainName: "Localnet",
		RpcUrls:   []string{nodeURL},
	})

	backend := &stubBackend{
		pending: map[uuid.UUID]*types.PendingRequest{pr.ID: pr},
		state:   &types.WalletState{SelectedChainID: "0x7a69"},
	}
	return NewFrontend(backend, reg, nodeclient.New()), backend
}

func pendingTx(t *testing.T) *types.PendingRequest {
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	payload, err := json.Marshal(&types.TxParams{
		From: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		To:   &to,
	})
	require.NoError(t, err)
	return &types.PendingRequest{
		ID:         uuid.New(),
		CallID:     uuid.New(),
		Kind:       types.KindSendTransaction,
		Method:     types.MethodSendTransaction,
		Origin:     "https://dapp.example",
		Payload:    payload,
		CreateTime: time.Now(),
	}
}

func TestOpen(t *testing.T) {
	t.Run("transaction view carries fee preview", func(t *testing.T) {
		ctx := context.Background()
		srv := feeServer(t, false)
		defer srv.Close()

		pr := pendingTx(t)
		f, _ := setupFrontend(t, ctx, srv.URL, pr)

		view, err := f.Open(ctx, pr.ID)
		require.NoError(t, err)
		require.True(t, view.CanApprove)
		require.NotNil(t, view.Fee)
		require.Equal(t, hexutil.Uint64(21000), view.Fee.GasLimit)
	})

	t.Run("fee preview failure disables approve", func(t *testing.T) {
		ctx := context.Background()
		srv := feeServer(t, true)
		defer srv.Close()

		pr := pendingTx(t)
		f, backend := setupFrontend(t, ctx, srv.URL, pr)

		view, err := f.Open(ctx, pr.ID)
		require.NoError(t, err)
		require.False(t, view.CanApprove)
		require.NotEmpty(t, view.FeeError)
		require.Nil(t, view.Fee)

		// rejection stays available
		require.NoError(t, f.Reject(ctx, pr.ID))
		require.Len(t, backend.resolved, 1)
		require.False(t, backend.resolved[0].d.Approved)
	})

	t.Run("non-transaction view needs no fee", func(t *testing.T) {
		ctx := context.Background()
		pr := &types.PendingRequest{
			ID:     uuid.New(),
			Kind:   types.KindPersonalSign,
			Method: types.MethodPersonalSign,
			Origin: "https://dapp.example",
		}
		f, _ := setupFrontend(t, ctx, "http://127.0.0.1:0", pr)

		view, err := f.Open(ctx, pr.ID)
		require.NoError(t, err)
		require.True(t, view.CanApprove)
		require.Nil(t, view.Fee)
	})

	t.Run("settled request", func(t *testing.T) {
		ctx := context.Background()
		pr := pendingTx(t)
		f, _ := setupFrontend(t, ctx, "http://127.0.0.1:0", pr)

		_, err := f.Open(ctx, uuid.New())
		var rpcErr *types.RPCError
		require.ErrorAs(t, err, &rpcErr)
		require.Equal(t, types.ErrCodeResourceUnavailable, rpcErr.Code)
	})
}

func TestOneDecisionPerPrompt(t *testing.T) {
	ctx := context.Background()
	pr := &types.PendingRequest{
		ID:     uuid.New(),
		Kind:   types.KindConnect,
		Method: types.MethodRequestAccounts,
		Origin: "https://dapp.example",
	}
	f, backend := setupFrontend(t, ctx, "http://127.0.0.1:0", pr)

	accounts := []common.Address{common.HexToAddress("0x00000000000000000000000000000000000000aa")}
	require.NoError(t, f.Approve(ctx, pr.ID, accounts))
	require.Len(t, backend.resolved, 1)
	require.True(t, backend.resolved[0].d.Approved)
	require.Equal(t, accounts, backend.resolved[0].d.Accounts)

	// the second verdict, whichever way, never reaches the broker
	require.NoError(t, f.Reject(ctx, pr.ID))
	require.NoError(t, f.Approve(ctx, pr.ID, nil))
	require.Len(t, backend.resolved, 1)
}
