package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TxParams mirrors the object dApps pass to eth_sendTransaction.
type TxParams struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     hexutil.Bytes   `json:"data,omitempty"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Nonce    *hexutil.Uint64 `json:"nonce,omitempty"`
}

// SignParams carries personal_sign / eth_sign / eth_signTypedData payloads.
// For typed data TypedData holds the raw struct, for the others Data holds
// the bytes to sign.
type SignParams struct {
	Address   common.Address `json:"address"`
	Data      hexutil.Bytes  `json:"data,omitempty"`
	TypedData string         `json:"typedData,omitempty"`
}

type SwitchChainParams struct {
	ChainID string `json:"chainId"`
}

type AddChainParams struct {
	ChainID        string   `json:"chainId"`
	ChainName      string   `json:"chainName"`
	RpcUrls        []string `json:"rpcUrls"`
	NativeCurrency struct {
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"nativeCurrency"`
}

type WatchAssetParams struct {
	Type    string `json:"type"`
	Options struct {
		Address  common.Address `json:"address"`
		Symbol   string         `json:"symbol"`
		Decimals int            `json:"decimals"`
		Image    string         `json:"image,omitempty"`
	} `json:"options"`
}

// PassthroughParams wraps an unrecognized method forwarded verbatim.
type PassthroughParams struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}
