package types

// RequestKind is the closed set of request families the bridge understands.
// Anything else is Passthrough: forwarded verbatim to the chain RPC, the
// response or error passed through unchanged.
type RequestKind int

const (
	KindPassthrough RequestKind = iota
	KindConnect
	KindSendTransaction
	KindPersonalSign
	KindEthSign
	KindTypedSign
	KindSwitchChain
	KindAddChain
	KindWatchAsset
	KindAccounts
	KindChainID
	KindNetVersion
	KindGetBalance
	KindSignTransaction
	KindRevokePermissions
)

// Provider method surface. Must match literally for dApp compatibility.
const (
	MethodRequestAccounts   = "eth_requestAccounts"
	MethodAccounts          = "eth_accounts"
	MethodChainID           = "eth_chainId"
	MethodNetVersion        = "net_version"
	MethodSendTransaction   = "eth_sendTransaction"
	MethodSignTransaction   = "eth_signTransaction"
	MethodPersonalSign      = "personal_sign"
	MethodEthSign           = "eth_sign"
	MethodSignTypedData     = "eth_signTypedData"
	MethodSignTypedDataV1   = "eth_signTypedData_v1"
	MethodSignTypedDataV3   = "eth_signTypedData_v3"
	MethodSignTypedDataV4   = "eth_signTypedData_v4"
	MethodGetBalance        = "eth_getBalance"
	MethodSwitchChain       = "wallet_switchEthereumChain"
	MethodAddChain          = "wallet_addEthereumChain"
	MethodWatchAsset        = "wallet_watchAsset"
	MethodRevokePermissions = "wallet_revokePermissions"
)

func KindOfMethod(method string) RequestKind {
	switch method {
	case MethodRequestAccounts:
		return KindConnect
	case MethodAccounts:
		return KindAccounts
	case MethodChainID:
		return KindChainID
	case MethodNetVersion:
		return KindNetVersion
	case MethodGetBalance:
		return KindGetBalance
	case MethodSendTransaction:
		return KindSendTransaction
	case MethodSignTransaction:
		return KindSignTransaction
	case MethodPersonalSign:
		return KindPersonalSign
	case MethodEthSign:
		return KindEthSign
	case MethodSignTypedData, MethodSignTypedDataV1, MethodSignTypedDataV3, MethodSignTypedDataV4:
		return KindTypedSign
	case MethodSwitchChain:
		return KindSwitchChain
	case MethodAddChain:
		return KindAddChain
	case MethodWatchAsset:
		return KindWatchAsset
	case MethodRevokePermissions:
		return KindRevokePermissions
	default:
		return KindPassthrough
	}
}

func (k RequestKind) String() string {
	switch k {
	case KindConnect:
		return "CONNECT"
	case KindSendTransaction:
		return "SEND_TRANSACTION"
	case KindPersonalSign:
		return "PERSONAL_SIGN"
	case KindEthSign:
		return "ETH_SIGN"
	case KindTypedSign:
		return "TYPED_SIGN"
	case KindSwitchChain:
		return "SWITCH_CHAIN"
	case KindAddChain:
		return "ADD_CHAIN"
	case KindWatchAsset:
		return "WATCH_ASSET"
	case KindAccounts:
		return "ACCOUNTS"
	case KindChainID:
		return "CHAIN_ID"
	case KindNetVersion:
		return "NET_VERSION"
	case KindGetBalance:
		return "GET_BALANCE"
	case KindSignTransaction:
		return "SIGN_TRANSACTION"
	case KindRevokePermissions:
		return "REVOKE_PERMISSIONS"
	default:
		return "PASSTHROUGH"
	}
}

// NeedsApproval reports whether the kind goes through the human decision
// path. Reads and passthrough never do.
func (k RequestKind) NeedsApproval() bool {
	switch k {
	case KindConnect, KindSendTransaction, KindPersonalSign, KindEthSign,
		KindTypedSign, KindSwitchChain, KindAddChain, KindWatchAsset:
		return true
	default:
		return false
	}
}

// IsSigning reports whether the kind invokes the signer capability over a
// caller-chosen address.
func (k RequestKind) IsSigning() bool {
	switch k {
	case KindPersonalSign, KindEthSign, KindTypedSign, KindSendTransaction, KindSignTransaction:
		return true
	default:
		return false
	}
}

// ResponseType names the broadcast envelope carrying the decision for this
// kind, e.g. CONNECT_RESPONSE.
func (k RequestKind) ResponseType() string {
	return k.String() + "_RESPONSE"
}

// Events emitted on the page provider.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
	EventNetworkChanged  = "networkChanged"
	EventChainIDChanged  = "chainIdChanged"
)

// IsBroadcastEvent reports whether method names one of the provider events.
func IsBroadcastEvent(method string) bool {
	switch method {
	case EventConnect, EventDisconnect, EventAccountsChanged,
		EventChainChanged, EventNetworkChanged, EventChainIDChanged:
		return true
	default:
		return false
	}
}
