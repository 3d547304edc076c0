package types

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// RequestEvent is the internal message envelope. It travels page -> relay ->
// broker on the request path, and broker -> relay -> page for server
// initiated events (responses to waiting requests, accountsChanged and the
// like), in which case no reply is expected.
type RequestEvent struct {
	ID         uuid.UUID
	Method     string
	Origin     string
	Title      string
	Favicon    string
	Payload    json.RawMessage
	CreateTime time.Time
}

// ResponseEvent settles exactly one RequestEvent. Exactly one of Payload,
// Waiting or Error is meaningful.
type ResponseEvent struct {
	ID      uuid.UUID
	Payload json.RawMessage
	Waiting bool
	Error   *RPCError
}

// DecisionResponse is the payload of a <KIND>_RESPONSE broadcast emitted
// after a human decision. CallID correlates back to the originating page
// request, RequestID is the broker-owned pending request identity.
type DecisionResponse struct {
	RequestID uuid.UUID
	CallID    uuid.UUID
	Result    json.RawMessage
	Error     *RPCError
}

// PendingRequest is an approval-requiring request waiting for a human
// decision. Owned exclusively by the broker; the approval UI only ever holds
// a transient copy and re-submits ID.
type PendingRequest struct {
	ID         uuid.UUID
	CallID     uuid.UUID
	Kind       RequestKind
	Method     string
	Origin     string
	Title      string
	Favicon    string
	Payload    json.RawMessage
	CreateTime time.Time
}

// Session records what an origin has been granted. An origin with
// Connected=false must never receive event broadcasts nor successful
// responses to account-scoped methods.
type Session struct {
	Origin       string
	Accounts     []common.Address
	ChainID      string
	Connected    bool
	Permissions  []string
	LastActivity time.Time
}

// WalletState is the singleton process-wide wallet state, persisted across
// restarts. SelectedChainID always resolves to a known chain configuration.
type WalletState struct {
	UnlockedAccounts []common.Address
	SelectedChainID  string
	LastAccessed     time.Time
}

// CustomChain is recorded by an approved AddChain request. A later AddChain
// for the same chain id overwrites.
type CustomChain struct {
	ChainID        string
	ChainName      string
	RpcUrls        []string
	CurrencySymbol string
	AddedBy        string
	CreateTime     time.Time
}

// ChannelInfo describes one attached tab. OutBound carries server initiated
// envelopes toward that tab.
type ChannelInfo struct {
	ChannelId  uuid.UUID
	Origin     string
	OutBound   chan *RequestEvent
	CreateTime time.Time
}

func NewChannelInfo(origin string, sendEvents chan *RequestEvent) *ChannelInfo {
	return &ChannelInfo{
		ChannelId:  uuid.New(),
		Origin:     origin,
		OutBound:   sendEvents,
		CreateTime: time.Now(),
	}
}

// ConnectedCompleted is sent as the first envelope on a freshly attached tab
// channel so the peer learns its channel id.
type ConnectedCompleted struct {
	ChannelId uuid.UUID
}
