package api

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-bridge/approval"
	"github.com/ipfs-force-community/sophon-bridge/types"
)

// BridgeStruct is the jsonrpc-facing surface. Admin methods introspect
// wallet state; sign methods drive the approval prompt.
type BridgeStruct struct {
	Version func(ctx context.Context) (string, error) `perm:"read"`

	ListSessions    func(ctx context.Context) ([]*types.Session, error)        `perm:"admin"`
	ListPending     func(ctx context.Context) ([]*types.PendingRequest, error) `perm:"admin"`
	WalletStateInfo func(ctx context.Context) (*types.WalletState, error)      `perm:"admin"`
	Logout          func(ctx context.Context) error                            `perm:"admin"`

	PendingView    func(ctx context.Context, id uuid.UUID) (*approval.View, error)          `perm:"sign"`
	ApproveRequest func(ctx context.Context, id uuid.UUID, accounts []common.Address) error `perm:"sign"`
	RejectRequest  func(ctx context.Context, id uuid.UUID) error                            `perm:"sign"`
	UnlockAccounts func(ctx context.Context, accounts []common.Address) error               `perm:"sign"`
}
