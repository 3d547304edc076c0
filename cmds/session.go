package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/common"
)

var SessionCmds = &cli.Command{
	Name:        "session",
	Usage:       "session cmds",
	Subcommands: []*cli.Command{listSessionCmds, walletStateCmds, logoutCmds, unlockCmds},
}

var listSessionCmds = &cli.Command{
	Name:  "list",
	Usage: "list connected origins and their granted accounts",
	Flags: []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewBridgeClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		sessions, err := api.ListSessions(cctx.Context)
		if err != nil {
			return err
		}
		sessionBytes, err := json.MarshalIndent(sessions, " ", "\t")
		if err != nil {
			return err
		}
		fmt.Println(string(sessionBytes))
		return nil
	},
}

var walletStateCmds = &cli.Command{
	Name:  "state",
	Usage: "show wallet state",
	Flags: []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewBridgeClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		state, err := api.WalletStateInfo(cctx.Context)
		if err != nil {
			return err
		}
		stateBytes, err := json.MarshalIndent(state, " ", "\t")
		if err != nil {
			return err
		}
		fmt.Println(string(stateBytes))
		return nil
	},
}

var logoutCmds = &cli.Command{
	Name:  "logout",
	Usage: "disconnect every origin and lock the wallet",
	Flags: []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewBridgeClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return api.Logout(cctx.Context)
	},
}

var unlockCmds = &cli.Command{
	Name:      "unlock",
	Usage:     "replace the unlocked account list",
	ArgsUsage: "address...",
	Flags:     []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewBridgeClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		var accounts []common.Address
		for _, arg := range cctx.Args().Slice() {
			if !common.IsHexAddress(arg) {
				return fmt.Errorf("not a hex address: %s", arg)
			}
			accounts = append(accounts, common.HexToAddress(arg))
		}
		return api.UnlockAccounts(cctx.Context, accounts)
	},
}
