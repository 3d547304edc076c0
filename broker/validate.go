package broker

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ipfs-force-community/sophon-bridge/chains"
	"github.com/ipfs-force-community/sophon-bridge/types"
)

// validate runs before anything is surfaced to a human. A failure here
// resolves at the broker boundary: no PendingRequest, no prompt. Unapproved
// origins must not be able to spawn prompts for arbitrary addresses.
func (b *Broker) validate(kind types.RequestKind, req *types.RequestEvent) *types.RPCError {
	if kind == types.KindConnect {
		if len(b.state.UnlockedAccounts) == 0 {
			return types.ErrUnauthorized("No unlocked accounts available.")
		}
		return nil
	}

	sess, ok := b.sessions.get(req.Origin)
	if !ok || !sess.Connected {
		return types.ErrUnauthorized("")
	}

	switch kind {
	case types.KindPersonalSign, types.KindEthSign, types.KindTypedSign:
		if kind == types.KindEthSign && !b.enableEthSign {
			return types.ErrUnsupportedMethod(types.MethodEthSign)
		}
		var params types.SignParams
		if err := json.Unmarshal(req.Payload, &params); err != nil {
			return types.ErrInvalidParams(err.Error())
		}
		if !containsAccount(sess.Accounts, params.Address) {
			return types.ErrUnauthorized("The requested account has not been authorized by the user.")
		}

	case types.KindSendTransaction:
		var params types.TxParams
		if err := json.Unmarshal(req.Payload, &params); err != nil {
			return types.ErrInvalidParams(err.Error())
		}
		if !containsAccount(sess.Accounts, params.From) {
			return types.ErrUnauthorized("The sending account has not been authorized by the user.")
		}
		if params.To == nil && len(params.Data) == 0 {
			return types.ErrMalformedRequest("transaction needs a destination address or call data")
		}

	case types.KindSwitchChain:
		var params types.SwitchChainParams
		if err := json.Unmarshal(req.Payload, &params); err != nil {
			return types.ErrInvalidParams(err.Error())
		}
		if _, ok := b.chains.Resolve(params.ChainID); !ok {
			return types.ErrChainNotAdded(params.ChainID)
		}

	case types.KindAddChain:
		var params types.AddChainParams
		if err := json.Unmarshal(req.Payload, &params); err != nil {
			return types.ErrInvalidParams(err.Error())
		}
		if params.ChainID == "" || params.ChainName == "" || len(params.RpcUrls) == 0 {
			return types.ErrMalformedRequest("chainId, chainName and a non-empty rpcUrls list are required")
		}
		if chains.Decimal(params.ChainID) == "0" {
			return types.ErrMalformedRequest("chainId must be a hex quantity")
		}
	}

	return nil
}

func containsAccount(accounts []common.Address, addr common.Address) bool {
	for _, a := range accounts {
		if a == addr {
			return true
		}
	}
	return false
}
