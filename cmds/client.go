package cmds

import (
	"context"
	"net/http"
	"net/url"
	"os"

	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-bridge/types"
)

type BridgeAPI struct {
	Version         func(ctx context.Context) (string, error)
	ListSessions    func(ctx context.Context) ([]*types.Session, error)
	ListPending     func(ctx context.Context) ([]*types.PendingRequest, error)
	WalletStateInfo func(ctx context.Context) (*types.WalletState, error)
	Logout          func(ctx context.Context) error
	ApproveRequest  func(ctx context.Context, id uuid.UUID, accounts []common.Address) error
	RejectRequest   func(ctx context.Context, id uuid.UUID) error
	UnlockAccounts  func(ctx context.Context, accounts []common.Address) error
}

func NewBridgeClient(ctx *cli.Context) (*BridgeAPI, jsonrpc.ClientCloser, error) {
	var bridgeAPI = &BridgeAPI{}
	listen := ctx.String("listen")
	addr, err := DialArgs(listen)
	if err != nil {
		return nil, nil, err
	}
	header := http.Header{}

	const tokenFile = "./token"
	if token, err := os.ReadFile(tokenFile); err == nil {
		header.Add("Authorization", "Bearer "+string(token))
	}

	closer, err := jsonrpc.NewMergeClient(ctx.Context, addr,
		"Bridge", []interface{}{bridgeAPI}, header)
	if err != nil {
		return nil, nil, err
	}
	return bridgeAPI, closer, nil
}

func DialArgs(addr string) (string, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err == nil {
		_, addr, err := manet.DialArgs(ma)
		if err != nil {
			return "", err
		}

		return "ws://" + addr + "/rpc/v1", nil
	}

	_, err = url.Parse(addr)
	if err != nil {
		return "", err
	}
	return addr + "/rpc/v1", nil
}
