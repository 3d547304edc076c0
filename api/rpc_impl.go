package api

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-bridge/approval"
	"github.com/ipfs-force-community/sophon-bridge/broker"
	"github.com/ipfs-force-community/sophon-bridge/types"
	"github.com/ipfs-force-community/sophon-bridge/version"
)

type IBridgeAPI interface {
	Version(ctx context.Context) (string, error)

	ListSessions(ctx context.Context) ([]*types.Session, error)
	ListPending(ctx context.Context) ([]*types.PendingRequest, error)
	WalletStateInfo(ctx context.Context) (*types.WalletState, error)
	Logout(ctx context.Context) error

	PendingView(ctx context.Context, id uuid.UUID) (*approval.View, error)
	ApproveRequest(ctx context.Context, id uuid.UUID, accounts []common.Address) error
	RejectRequest(ctx context.Context, id uuid.UUID) error
	UnlockAccounts(ctx context.Context, accounts []common.Address) error
}

var _ IBridgeAPI = (*BridgeAPIImpl)(nil)

type BridgeAPIImpl struct {
	broker   *broker.Broker
	frontend *approval.Frontend
}

func NewBridgeAPIImpl(b *broker.Broker, f *approval.Frontend) *BridgeAPIImpl {
	return &BridgeAPIImpl{broker: b, frontend: f}
}

func (a *BridgeAPIImpl) Version(ctx context.Context) (string, error) {
	return version.UserVersion, nil
}

func (a *BridgeAPIImpl) ListSessions(ctx context.Context) ([]*types.Session, error) {
	return a.broker.ListSessions(), nil
}

func (a *BridgeAPIImpl) ListPending(ctx context.Context) ([]*types.PendingRequest, error) {
	return a.broker.ListPending(), nil
}

func (a *BridgeAPIImpl) WalletStateInfo(ctx context.Context) (*types.WalletState, error) {
	return a.broker.WalletStateInfo(), nil
}

func (a *BridgeAPIImpl) Logout(ctx context.Context) error {
	a.broker.Logout(ctx)
	return nil
}

func (a *BridgeAPIImpl) PendingView(ctx context.Context, id uuid.UUID) (*approval.View, error) {
	return a.frontend.Open(ctx, id)
}

func (a *BridgeAPIImpl) ApproveRequest(ctx context.Context, id uuid.UUID, accounts []common.Address) error {
	return a.frontend.Approve(ctx, id, accounts)
}

func (a *BridgeAPIImpl) RejectRequest(ctx context.Context, id uuid.UUID) error {
	return a.frontend.Reject(ctx, id)
}

func (a *BridgeAPIImpl) UnlockAccounts(ctx context.Context, accounts []common.Address) error {
	a.broker.SetUnlockedAccounts(ctx, accounts)
	return nil
}
