package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var PendingCmds = &cli.Command{
	Name:        "pending",
	Usage:       "pending request cmds",
	Subcommands: []*cli.Command{listPendingCmds, approveCmds, rejectCmds},
}

var listPendingCmds = &cli.Command{
	Name:  "list",
	Usage: "list requests awaiting a decision",
	Flags: []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewBridgeClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		pending, err := api.ListPending(cctx.Context)
		if err != nil {
			return err
		}
		pendingBytes, err := json.MarshalIndent(pending, " ", "\t")
		if err != nil {
			return err
		}
		fmt.Println(string(pendingBytes))
		return nil
	},
}

var approveCmds = &cli.Command{
	Name:      "approve",
	Usage:     "approve a pending request, optionally narrowing the account grant",
	ArgsUsage: "request-id [address...]",
	Flags:     []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewBridgeClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		id, err := uuid.Parse(cctx.Args().Get(0))
		if err != nil {
			return err
		}
		var accounts []common.Address
		for _, arg := range cctx.Args().Slice()[1:] {
			if !common.IsHexAddress(arg) {
				return fmt.Errorf("not a hex address: %s", arg)
			}
			accounts = append(accounts, common.HexToAddress(arg))
		}
		return api.ApproveRequest(cctx.Context, id, accounts)
	},
}

var rejectCmds = &cli.Command{
	Name:      "reject",
	Usage:     "reject a pending request",
	ArgsUsage: "request-id",
	Flags:     []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewBridgeClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		id, err := uuid.Parse(cctx.Args().Get(0))
		if err != nil {
			return err
		}
		return api.RejectRequest(cctx.Context, id)
	},
}
