package nodeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ipfs-force-community/sophon-bridge/chains"
)

// fakeNode answers JSON-RPC with canned per-method handlers.
type fakeNode struct {
	handlers map[string]func(params []json.RawMessage) (interface{}, *rpcErrBody)
}

type rpcErrBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (f *fakeNode) server(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		handler, ok := f.handlers[req.Method]
		if !ok {
			t.Fatalf("unexpected rpc method %s", req.Method)
		}
		result, rpcErr := handler(req.Params)

		out := map[string]interface{}{"jsonrpc": "2.0", "id": 1}
		if rpcErr != nil {
			out["error"] = rpcErr
		} else {
			out["result"] = result
		}
		require.NoError(t, json.NewEncoder(w).Encode(out))
	}))
}

func testChain(urls ...string) chains.Chain {
	return chains.Chain{ChainID: "0x7a69", Name: "Localnet", RpcUrls: urls}
}

func TestCallFallback(t *testing.T) {
	ctx := context.Background()

	node := &fakeNode{handlers: map[string]func([]json.RawMessage) (interface{}, *rpcErrBody){
		"eth_chainId": func([]json.RawMessage) (interface{}, *rpcErrBody) {
			return "0x7a69", nil
		},
	}}
	srv := node.server(t)
	defer srv.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	t.Run("dead endpoint falls through", func(t *testing.T) {
		c := New()
		var result string
		require.NoError(t, c.Call(ctx, testChain(dead.URL, srv.URL), "eth_chainId", nil, &result))
		require.Equal(t, "0x7a69", result)
	})

	t.Run("node level error stops the walk", func(t *testing.T) {
		failing := &fakeNode{handlers: map[string]func([]json.RawMessage) (interface{}, *rpcErrBody){
			"eth_chainId": func([]json.RawMessage) (interface{}, *rpcErrBody) {
				return nil, &rpcErrBody{Code: -32000, Message: "nope"}
			},
		}}
		failSrv := failing.server(t)
		defer failSrv.Close()

		c := New()
		var result string
		err := c.Call(ctx, testChain(failSrv.URL, srv.URL), "eth_chainId", nil, &result)
		require.Error(t, err)
		require.Contains(t, err.Error(), "nope")
	})
}

func TestSubmitTransaction(t *testing.T) {
	ctx := context.Background()
	from := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	raw := hexutil.Bytes{0xf8, 0x6b}
	txHash := common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000ff")

	t.Run("confirmed", func(t *testing.T) {
		node := &fakeNode{handlers: map[string]func([]json.RawMessage) (interface{}, *rpcErrBody){
			"eth_sendRawTransaction": func([]json.RawMessage) (interface{}, *rpcErrBody) {
				return txHash, nil
			},
		}}
		srv := node.server(t)
		defer srv.Close()

		res := New().SubmitTransaction(ctx, testChain(srv.URL), raw, from, 5)
		require.Equal(t, SubmitConfirmed, res.Status)
		require.Equal(t, txHash.Hex(), res.TxHash)
	})

	t.Run("failed when nonce did not advance", func(t *testing.T) {
		node := &fakeNode{handlers: map[string]func([]json.RawMessage) (interface{}, *rpcErrBody){
			"eth_sendRawTransaction": func([]json.RawMessage) (interface{}, *rpcErrBody) {
				return nil, &rpcErrBody{Code: -32000, Message: "underpriced"}
			},
			"eth_getTransactionCount": func([]json.RawMessage) (interface{}, *rpcErrBody) {
				return hexutil.Uint64(5), nil
			},
		}}
		srv := node.server(t)
		defer srv.Close()

		res := New().SubmitTransaction(ctx, testChain(srv.URL), raw, from, 5)
		require.Equal(t, SubmitFailed, res.Status)
		require.Empty(t, res.TxHash)
		require.Contains(t, res.Reason, "underpriced")
	})

	t.Run("ambiguous when nonce advanced without a located tx", func(t *testing.T) {
		node := &fakeNode{handlers: map[string]func([]json.RawMessage) (interface{}, *rpcErrBody){
			"eth_sendRawTransaction": func([]json.RawMessage) (interface{}, *rpcErrBody) {
				return nil, &rpcErrBody{Code: -32000, Message: "already known"}
			},
			"eth_getTransactionCount": func([]json.RawMessage) (interface{}, *rpcErrBody) {
				return hexutil.Uint64(6), nil
			},
			"eth_blockNumber": func([]json.RawMessage) (interface{}, *rpcErrBody) {
				return hexutil.Uint64(2), nil
			},
			"eth_getBlockByNumber": func([]json.RawMessage) (interface{}, *rpcErrBody) {
				return block{}, nil
			},
		}}
		srv := node.server(t)
		defer srv.Close()

		res := New().SubmitTransaction(ctx, testChain(srv.URL), raw, from, 5)
		require.Equal(t, SubmitAmbiguous, res.Status)
		// no hash is ever fabricated
		require.Empty(t, res.TxHash)
	})

	t.Run("ambiguous upgraded by locating the nonce", func(t *testing.T) {
		node := &fakeNode{handlers: map[string]func([]json.RawMessage) (interface{}, *rpcErrBody){
			"eth_sendRawTransaction": func([]json.RawMessage) (interface{}, *rpcErrBody) {
				return nil, &rpcErrBody{Code: -32000, Message: "timeout"}
			},
			"eth_getTransactionCount": func([]json.RawMessage) (interface{}, *rpcErrBody) {
				return hexutil.Uint64(6), nil
			},
			"eth_blockNumber": func([]json.RawMessage) (interface{}, *rpcErrBody) {
				return hexutil.Uint64(1), nil
			},
			"eth_getBlockByNumber": func([]json.RawMessage) (interface{}, *rpcErrBody) {
				return block{Transactions: []blockTx{
					{Hash: txHash, From: from, Nonce: hexutil.Uint64(5)},
				}}, nil
			},
		}}
		srv := node.server(t)
		defer srv.Close()

		res := New().SubmitTransaction(ctx, testChain(srv.URL), raw, from, 5)
		require.Equal(t, SubmitConfirmed, res.Status)
		require.Equal(t, txHash.Hex(), res.TxHash)
	})
}

func TestEstimateFee(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{handlers: map[string]func([]json.RawMessage) (interface{}, *rpcErrBody){
		"eth_estimateGas": func([]json.RawMessage) (interface{}, *rpcErrBody) {
			return hexutil.Uint64(21000), nil
		},
		"eth_gasPrice": func([]json.RawMessage) (interface{}, *rpcErrBody) {
			return fmt.Sprintf("0x%x", 1000000000), nil
		},
	}}
	srv := node.server(t)
	defer srv.Close()

	fee, err := New().EstimateFee(ctx, testChain(srv.URL), map[string]string{"from": "0x00"})
	require.NoError(t, err)
	require.Equal(t, hexutil.Uint64(21000), fee.GasLimit)
	require.Equal(t, "1000000000", fee.GasPrice.ToInt().String())
}
