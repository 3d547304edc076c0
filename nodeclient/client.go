package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ipfs-force-community/sophon-bridge/chains"
)

var log = logging.Logger("bridge_nodeclient")

// Client talks JSON-RPC to chain endpoints, walking a chain's rpcUrls in
// order until one answers. Consumers only see the final result or error,
// never the fallback internals.
type Client struct {
	http *http.Client
}

func New() *Client {
	return &Client{
		http: &http.Client{Timeout: time.Second * 20},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call invokes method on the first responsive endpoint of chain. A JSON-RPC
// level error from the node stops the fallback walk: the node answered, the
// call itself is wrong.
func (c *Client) Call(ctx context.Context, chain chains.Chain, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(&rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}

	var lastErr error
	for _, url := range chain.RpcUrls {
		raw, callErr := c.post(ctx, url, body)
		if callErr != nil {
			log.Warnf("endpoint %s failed for %s: %s", url, method, callErr)
			lastErr = callErr
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if raw.Error != nil {
			return fmt.Errorf("rpc error %d: %s", raw.Error.Code, raw.Error.Message)
		}
		if result != nil {
			return json.Unmarshal(raw.Result, result)
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("chain %s has no rpc endpoints", chain.ChainID)
	}
	return errors.Wrapf(lastErr, "call %s on chain %s", method, chain.ChainID)
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*rpcResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close() // nolint

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", httpResp.StatusCode)
	}
	var out rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FeeEstimate is the read-only preview shown before a transaction can be
// approved.
type FeeEstimate struct {
	GasLimit hexutil.Uint64 `json:"gasLimit"`
	GasPrice *hexutil.Big   `json:"gasPrice"`
}

func (c *Client) EstimateFee(ctx context.Context, chain chains.Chain, tx interface{}) (*FeeEstimate, error) {
	var gasLimit hexutil.Uint64
	if err := c.Call(ctx, chain, "eth_estimateGas", []interface{}{tx}, &gasLimit); err != nil {
		return nil, errors.Wrap(err, "estimate gas")
	}
	var gasPrice hexutil.Big
	if err := c.Call(ctx, chain, "eth_gasPrice", []interface{}{}, &gasPrice); err != nil {
		return nil, errors.Wrap(err, "gas price")
	}
	return &FeeEstimate{GasLimit: gasLimit, GasPrice: &gasPrice}, nil
}

func (c *Client) PendingNonce(ctx context.Context, chain chains.Chain, addr common.Address) (uint64, error) {
	var nonce hexutil.Uint64
	if err := c.Call(ctx, chain, "eth_getTransactionCount", []interface{}{addr, "pending"}, &nonce); err != nil {
		return 0, err
	}
	return uint64(nonce), nil
}

func (c *Client) GetBalance(ctx context.Context, chain chains.Chain, addr common.Address) (*hexutil.Big, error) {
	var balance hexutil.Big
	if err := c.Call(ctx, chain, "eth_getBalance", []interface{}{addr, "latest"}, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}
