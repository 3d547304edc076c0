package approval

import (
	"context"
	"encoding/json"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-bridge/broker"
	"github.com/ipfs-force-community/sophon-bridge/chains"
	"github.com/ipfs-force-community/sophon-bridge/nodeclient"
	"github.com/ipfs-force-community/sophon-bridge/types"
)

var log = logging.Logger("bridge_approval")

// Backend is the slice of the broker the approval surface needs.
type Backend interface {
	PendingSnapshot(id uuid.UUID) (*types.PendingRequest, bool)
	WalletStateInfo() *types.WalletState
	Resolve(ctx context.Context, requestID uuid.UUID, d broker.Decision) error
}

// View is everything the prompt renders for one pending request. CanApprove
// is false when the fee preview failed: the user may still reject, but an
// approval without a cost estimate is not offered.
type View struct {
	Request    *types.PendingRequest   `json:"request"`
	Fee        *nodeclient.FeeEstimate `json:"fee,omitempty"`
	FeeError   string                  `json:"feeError,omitempty"`
	CanApprove bool                    `json:"canApprove"`
}

// Frontend drives the approval prompt lifecycle: open a view for a pending
// id, then submit exactly one decision for it.
type Frontend struct {
	backend Backend
	chains  *chains.Registry
	node    *nodeclient.Client

	lk      sync.Mutex
	decided map[uuid.UUID]struct{}
}

func NewFrontend(backend Backend, chainReg *chains.Registry, node *nodeclient.Client) *Frontend {
	return &Frontend{
		backend: backend,
		chains:  chainReg,
		node:    node,
		decided: make(map[uuid.UUID]struct{}),
	}
}

// Open builds the render view for a pending request. For transactions the
// fee is previewed against the selected chain before approval is enabled.
func (f *Frontend) Open(ctx context.Context, id uuid.UUID) (*View, error) {
	pr, ok := f.backend.PendingSnapshot(id)
	if !ok {
		return nil, types.ErrResourceUnavailable("request already settled")
	}

	view := &View{Request: pr, CanApprove: true}
	if pr.Kind != types.KindSendTransaction {
		return view, nil
	}

	var params types.TxParams
	if err := json.Unmarshal(pr.Payload, &params); err != nil {
		view.CanApprove = false
		view.FeeError = err.Error()
		return view, nil
	}

	selected := f.backend.WalletStateInfo().SelectedChainID
	chain, ok := f.chains.Resolve(selected)
	if !ok {
		view.CanApprove = false
		view.FeeError = "selected chain has no rpc endpoint"
		return view, nil
	}

	fee, err := f.node.EstimateFee(ctx, chain, &params)
	if err != nil {
		log.Warnf("fee preview for %s failed: %s", id, err)
		view.CanApprove = false
		view.FeeError = err.Error()
		return view, nil
	}
	view.Fee = fee
	return view, nil
}

// Approve submits a positive decision. For Connect, accounts narrows the
// grant; empty means every unlocked account.
func (f *Frontend) Approve(ctx context.Context, id uuid.UUID, accounts []common.Address) error {
	if !f.markDecided(id) {
		log.Debugf("duplicate approve for %s, ignoring", id)
		return nil
	}
	return f.backend.Resolve(ctx, id, broker.Decision{Approved: true, Accounts: accounts})
}

// Reject submits a negative decision. Always available, even when the fee
// preview failed.
func (f *Frontend) Reject(ctx context.Context, id uuid.UUID) error {
	if !f.markDecided(id) {
		log.Debugf("duplicate reject for %s, ignoring", id)
		return nil
	}
	return f.backend.Resolve(ctx, id, broker.Decision{Approved: false})
}

// markDecided enforces one decision per prompt on this side; the broker
// enforces it again globally.
func (f *Frontend) markDecided(id uuid.UUID) bool {
	f.lk.Lock()
	defer f.lk.Unlock()
	if _, ok := f.decided[id]; ok {
		return false
	}
	f.decided[id] = struct{}{}
	return true
}
