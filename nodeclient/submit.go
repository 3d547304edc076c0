package nodeclient

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ipfs-force-community/sophon-bridge/chains"
)

// SubmitStatus distinguishes the three outcomes of a transaction broadcast.
// Ambiguous means the submission errored but the sender nonce advanced, so
// the transaction may have been accepted; the caller should poll rather than
// retry blindly.
type SubmitStatus string

const (
	SubmitConfirmed SubmitStatus = "confirmed"
	SubmitAmbiguous SubmitStatus = "ambiguous"
	SubmitFailed    SubmitStatus = "failed"
)

type SubmitResult struct {
	Status SubmitStatus `json:"status"`
	TxHash string       `json:"txHash,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

// SubmitTransaction broadcasts raw and classifies the outcome. No hash is
// ever fabricated: an Ambiguous result carries a hash only if LocateByNonce
// found the real transaction on chain.
func (c *Client) SubmitTransaction(ctx context.Context, chain chains.Chain, raw hexutil.Bytes, from common.Address, nonceBefore uint64) *SubmitResult {
	var txHash common.Hash
	err := c.Call(ctx, chain, "eth_sendRawTransaction", []interface{}{raw}, &txHash)
	if err == nil {
		return &SubmitResult{Status: SubmitConfirmed, TxHash: txHash.Hex()}
	}

	// The broadcast failed; if the account nonce advanced regardless, the
	// transaction may have landed through another route.
	nonceAfter, nonceErr := c.PendingNonce(ctx, chain, from)
	if nonceErr == nil && nonceAfter > nonceBefore {
		res := &SubmitResult{Status: SubmitAmbiguous, Reason: err.Error()}
		if located, ok := c.LocateByNonce(ctx, chain, from, nonceBefore); ok {
			res.Status = SubmitConfirmed
			res.TxHash = located.Hex()
		}
		return res
	}

	return &SubmitResult{Status: SubmitFailed, Reason: err.Error()}
}

type blockTx struct {
	Hash  common.Hash    `json:"hash"`
	From  common.Address `json:"from"`
	Nonce hexutil.Uint64 `json:"nonce"`
}

type block struct {
	Transactions []blockTx `json:"transactions"`
}

// LocateByNonce scans the most recent blocks for a transaction from addr
// with the given nonce. Best-effort enrichment of an ambiguous outcome, not
// a correctness dependency.
func (c *Client) LocateByNonce(ctx context.Context, chain chains.Chain, addr common.Address, nonce uint64) (common.Hash, bool) {
	const scanDepth = 8

	var head hexutil.Uint64
	if err := c.Call(ctx, chain, "eth_blockNumber", []interface{}{}, &head); err != nil {
		return common.Hash{}, false
	}

	for i := uint64(0); i < scanDepth && i <= uint64(head); i++ {
		num := fmt.Sprintf("0x%x", uint64(head)-i)
		var b block
		if err := c.Call(ctx, chain, "eth_getBlockByNumber", []interface{}{num, true}, &b); err != nil {
			return common.Hash{}, false
		}
		for _, tx := range b.Transactions {
			if tx.From == addr && uint64(tx.Nonce) == nonce {
				return tx.Hash, true
			}
		}
	}
	return common.Hash{}, false
}
