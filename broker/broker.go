package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-bridge/chains"
	"github.com/ipfs-force-community/sophon-bridge/metrics"
	"github.com/ipfs-force-community/sophon-bridge/nodeclient"
	"github.com/ipfs-force-community/sophon-bridge/signer"
	"github.com/ipfs-force-community/sophon-bridge/storage"
	"github.com/ipfs-force-community/sophon-bridge/types"
)

var log = logging.Logger("bridge_broker")

const walletStateKey = "wallet_state"

// ApprovalOpener surfaces a pending request to the human. The broker does
// not wait on it; the decision arrives later through Resolve.
type ApprovalOpener func(pr *types.PendingRequest)

// Broker is the authoritative state machine. It owns wallet state, sessions,
// pending requests and custom chains, and is the only component that mutates
// them. State-changing entry points run under one mutex, mirroring the
// one-message-at-a-time handler model of the host environment; chain-node
// round trips run outside it.
type Broker struct {
	cfg      *types.RequestConfig
	store    storage.Store
	sessions *sessionStore
	pending  *pendingStore
	tabs     *tabMgr
	chains   *chains.Registry
	signer   signer.Signer
	node     *nodeclient.Client

	handlerLk sync.Mutex
	state     *types.WalletState

	approvalLk   sync.Mutex
	openApproval ApprovalOpener

	enableEthSign bool
}

func NewBroker(ctx context.Context, cfg *types.RequestConfig, store storage.Store, chainReg *chains.Registry, sg signer.Signer, node *nodeclient.Client) *Broker {
	b := &Broker{
		cfg:      cfg,
		store:    store,
		sessions: newSessionStore(ctx, store),
		pending:  newPendingStore(),
		tabs:     newTabMgr(),
		chains:   chainReg,
		signer:   sg,
		node:     node,
		state:    &types.WalletState{SelectedChainID: chainReg.Default()},
	}

	saved := &types.WalletState{}
	if storage.Load(ctx, store, walletStateKey, saved) {
		b.state = saved
	}
	if _, ok := b.chains.Resolve(b.state.SelectedChainID); !ok {
		log.Warnf("selected chain %s unknown, falling back to %s", b.state.SelectedChainID, b.chains.Default())
		b.state.SelectedChainID = b.chains.Default()
	}

	go b.cleanPending(ctx)
	return b
}

// SetEnableEthSign turns on the legacy eth_sign method, off by default.
func (b *Broker) SetEnableEthSign(enable bool) {
	b.handlerLk.Lock()
	b.enableEthSign = enable
	b.handlerLk.Unlock()
}

// SetApprovalOpener wires the approval UI surface.
func (b *Broker) SetApprovalOpener(fn ApprovalOpener) {
	b.approvalLk.Lock()
	b.openApproval = fn
	b.approvalLk.Unlock()
}

// SetUnlockedAccounts replaces the unlocked account list, e.g. after the
// keyring is unlocked.
func (b *Broker) SetUnlockedAccounts(ctx context.Context, addrs []common.Address) {
	b.handlerLk.Lock()
	defer b.handlerLk.Unlock()
	b.state.UnlockedAccounts = addrs
	b.saveState(ctx)
}

// Attach registers a tab for origin. The returned channel carries server
// initiated envelopes (decision responses and events) and is closed when ctx
// ends. The first envelope is always an InitConnect with the channel id.
func (b *Broker) Attach(ctx context.Context, origin string) (<-chan *types.RequestEvent, uuid.UUID, error) {
	out := make(chan *types.RequestEvent, b.cfg.RequestQueueSize)
	channel := types.NewChannelInfo(origin, out)
	b.tabs.add(channel)

	mCtx, _ := tag.New(ctx, tag.Upsert(metrics.OriginKey, origin))
	stats.Record(mCtx, metrics.TabRegister.M(1))

	initBytes, err := json.Marshal(types.ConnectedCompleted{ChannelId: channel.ChannelId})
	if err != nil {
		b.tabs.remove(channel.ChannelId)
		return nil, uuid.Nil, err
	}
	out <- &types.RequestEvent{
		ID:         uuid.New(),
		Method:     "InitConnect",
		Origin:     origin,
		Payload:    initBytes,
		CreateTime: time.Now(),
	}

	go func() {
		<-ctx.Done()
		b.tabs.remove(channel.ChannelId)
		close(out)
		stats.Record(mCtx, metrics.TabUnregister.M(1))
	}()

	return out, channel.ChannelId, nil
}

// HandleRequest is the single entry for page-originated requests, already
// stamped with the true origin by the relay. It answers immediately with a
// result, an error, or Waiting:true when a human decision is required.
func (b *Broker) HandleRequest(ctx context.Context, req *types.RequestEvent) *types.ResponseEvent {
	kind := types.KindOfMethod(req.Method)
	mCtx, _ := tag.New(ctx,
		tag.Upsert(metrics.OriginKey, req.Origin),
		tag.Upsert(metrics.MethodKey, req.Method),
		tag.Upsert(metrics.KindKey, kind.String()))
	stats.Record(mCtx, metrics.RequestCount.M(1))

	// read paths that hit the chain node snapshot their state under the
	// lock, then release it for the round trip: one slow endpoint must not
	// stall every other origin's requests and decisions
	var resp *types.ResponseEvent
	switch kind {
	case types.KindGetBalance:
		resp = b.getBalance(ctx, req)
	case types.KindPassthrough:
		resp = b.passthrough(ctx, req)
	default:
		b.handlerLk.Lock()
		resp = b.handle(ctx, kind, req)
		b.handlerLk.Unlock()
	}

	resp.ID = req.ID
	if resp.Waiting {
		stats.Record(mCtx, metrics.RequestWaiting.M(1))
	}
	return resp
}

func (b *Broker) handle(ctx context.Context, kind types.RequestKind, req *types.RequestEvent) *types.ResponseEvent {
	switch kind {
	case types.KindAccounts:
		return resultResp(b.accountsFor(req.Origin))

	case types.KindChainID:
		return resultResp(b.chainFor(req.Origin))

	case types.KindNetVersion:
		return resultResp(chains.Decimal(b.chainFor(req.Origin)))

	case types.KindRevokePermissions:
		return b.revoke(ctx, req)

	case types.KindSignTransaction:
		return errResp(types.ErrUnsupportedMethod(req.Method))

	default:
		return b.routeApproval(ctx, kind, req)
	}
}

func (b *Broker) routeApproval(ctx context.Context, kind types.RequestKind, req *types.RequestEvent) *types.ResponseEvent {
	if rpcErr := b.validate(kind, req); rpcErr != nil {
		return errResp(rpcErr)
	}

	// idempotent reconnect: an origin with a live session gets its accounts
	// back without a prompt; the reloaded page still needs its connect event
	if kind == types.KindConnect {
		if sess, ok := b.sessions.get(req.Origin); ok && sess.Connected {
			b.broadcastEvent(ctx, req.Origin, types.EventConnect, map[string]string{"chainId": sess.ChainID})
			return resultResp(sess.Accounts)
		}
	}

	pr := &types.PendingRequest{
		ID:         uuid.New(),
		CallID:     req.ID,
		Kind:       kind,
		Method:     req.Method,
		Origin:     req.Origin,
		Title:      req.Title,
		Favicon:    req.Favicon,
		Payload:    req.Payload,
		CreateTime: time.Now(),
	}
	b.pending.add(pr)
	metrics.PendingNum.Set(ctx, int64(b.pending.count()))

	b.approvalLk.Lock()
	opener := b.openApproval
	b.approvalLk.Unlock()
	if opener != nil {
		snapshot := *pr
		go opener(&snapshot)
	}

	return &types.ResponseEvent{Waiting: true}
}

// Decision carries the human verdict back into the broker.
type Decision struct {
	Approved bool
	// Accounts is the approved address list for Connect; empty means every
	// unlocked account.
	Accounts []common.Address
}

// Resolve applies a decision for requestID. A decision for an unknown or
// already settled id is a logged no-op, never an error: duplicates and
// replays must not double-apply side effects.
func (b *Broker) Resolve(ctx context.Context, requestID uuid.UUID, d Decision) error {
	b.handlerLk.Lock()
	defer b.handlerLk.Unlock()

	pr, ok := b.pending.take(requestID)
	if !ok {
		log.Debugf("decision for unknown or settled request %s, ignoring", requestID)
		return nil
	}
	metrics.PendingNum.Set(ctx, int64(b.pending.count()))

	mCtx, _ := tag.New(ctx, tag.Upsert(metrics.KindKey, pr.Kind.String()))
	stats.Record(mCtx, metrics.ApprovalLatency.M(metrics.SinceInMilliseconds(pr.CreateTime)))

	if !d.Approved {
		b.broadcastDecision(ctx, pr, nil, types.ErrUserRejected())
		return nil
	}

	switch pr.Kind {
	case types.KindConnect:
		b.applyConnect(ctx, pr, d.Accounts)
	case types.KindSwitchChain:
		b.applySwitchChain(ctx, pr)
	case types.KindAddChain:
		b.applyAddChain(ctx, pr)
	case types.KindPersonalSign, types.KindEthSign, types.KindTypedSign:
		b.applySign(ctx, pr)
	case types.KindSendTransaction:
		b.applySendTransaction(ctx, pr)
	case types.KindWatchAsset:
		b.broadcastDecision(ctx, pr, mustMarshal(true), nil)
	default:
		b.broadcastDecision(ctx, pr, nil, types.ErrInternal("unexpected request kind"))
	}
	return nil
}

func (b *Broker) applyConnect(ctx context.Context, pr *types.PendingRequest, accounts []common.Address) {
	if len(accounts) == 0 {
		accounts = append([]common.Address(nil), b.state.UnlockedAccounts...)
	}

	var prev []common.Address
	if sess, ok := b.sessions.get(pr.Origin); ok {
		prev = sess.Accounts
	}

	b.sessions.upsert(ctx, &types.Session{
		Origin:      pr.Origin,
		Accounts:    accounts,
		ChainID:     b.state.SelectedChainID,
		Connected:   true,
		Permissions: []string{types.MethodAccounts},
	})
	metrics.SessionNum.Set(ctx, int64(len(b.sessions.list())))

	b.broadcastDecision(ctx, pr, mustMarshal(accounts), nil)

	// connect must be observable before the accountsChanged it causes
	b.broadcastEvent(ctx, pr.Origin, types.EventConnect, map[string]string{"chainId": b.state.SelectedChainID})
	if !equalAccounts(prev, accounts) {
		b.broadcastEvent(ctx, pr.Origin, types.EventAccountsChanged, accounts)
	}
}

func (b *Broker) applySwitchChain(ctx context.Context, pr *types.PendingRequest) {
	var params types.SwitchChainParams
	if err := json.Unmarshal(pr.Payload, &params); err != nil {
		b.broadcastDecision(ctx, pr, nil, types.ErrInvalidParams(err.Error()))
		return
	}

	next := chains.Normalize(params.ChainID)
	prev := chains.Normalize(b.state.SelectedChainID)
	b.broadcastDecision(ctx, pr, mustMarshal(nil), nil)
	if next == prev {
		// already selected, no event
		return
	}

	b.state.SelectedChainID = next
	b.saveState(ctx)

	// every connected origin observes the switch, each through its own
	// origin-scoped event
	for _, origin := range b.sessions.setChain(ctx, next) {
		b.broadcastEvent(ctx, origin, types.EventChainChanged, next)
		b.broadcastEvent(ctx, origin, types.EventNetworkChanged, chains.Decimal(next))
		b.broadcastEvent(ctx, origin, types.EventChainIDChanged, next)
	}
}

func (b *Broker) applyAddChain(ctx context.Context, pr *types.PendingRequest) {
	var params types.AddChainParams
	if err := json.Unmarshal(pr.Payload, &params); err != nil {
		b.broadcastDecision(ctx, pr, nil, types.ErrInvalidParams(err.Error()))
		return
	}

	b.chains.Add(ctx, &types.CustomChain{
		ChainID:        chains.Normalize(params.ChainID),
		ChainName:      params.ChainName,
		RpcUrls:        params.RpcUrls,
		CurrencySymbol: params.NativeCurrency.Symbol,
		AddedBy:        pr.Origin,
	})
	b.broadcastDecision(ctx, pr, mustMarshal(nil), nil)
}

func (b *Broker) applySign(ctx context.Context, pr *types.PendingRequest) {
	var params types.SignParams
	if err := json.Unmarshal(pr.Payload, &params); err != nil {
		b.broadcastDecision(ctx, pr, nil, types.ErrInvalidParams(err.Error()))
		return
	}

	payload := []byte(params.Data)
	if pr.Kind == types.KindTypedSign {
		payload = []byte(params.TypedData)
	}
	sig, err := b.signer.Sign(ctx, pr.Kind, params.Address, payload)
	if err != nil {
		log.Errorf("sign for %s failed: %s", pr.Origin, err)
		b.broadcastDecision(ctx, pr, nil, types.ErrInternal(err.Error()))
		return
	}
	b.broadcastDecision(ctx, pr, mustMarshal(hexutil.Encode(sig)), nil)
}

func (b *Broker) applySendTransaction(ctx context.Context, pr *types.PendingRequest) {
	var params types.TxParams
	if err := json.Unmarshal(pr.Payload, &params); err != nil {
		b.broadcastDecision(ctx, pr, nil, types.ErrInvalidParams(err.Error()))
		return
	}

	chain, ok := b.chains.Resolve(b.state.SelectedChainID)
	if !ok {
		chain, _ = b.chains.Resolve(b.chains.Default())
	}

	nonce := params.Nonce
	if nonce == nil {
		n, err := b.node.PendingNonce(ctx, chain, params.From)
		if err != nil {
			b.broadcastDecision(ctx, pr, nil, types.ErrInternal(err.Error()))
			return
		}
		u := hexutil.Uint64(n)
		nonce = &u
	}

	signed, err := b.signer.Sign(ctx, types.KindSendTransaction, params.From, pr.Payload)
	if err != nil {
		log.Errorf("sign transaction for %s failed: %s", pr.Origin, err)
		b.broadcastDecision(ctx, pr, nil, types.ErrInternal(err.Error()))
		return
	}

	res := b.node.SubmitTransaction(ctx, chain, signed, params.From, uint64(*nonce))
	if res.Status == nodeclient.SubmitFailed {
		b.broadcastDecision(ctx, pr, nil, types.ErrInternal(res.Reason))
		return
	}
	b.broadcastDecision(ctx, pr, mustMarshal(res), nil)
}

func (b *Broker) revoke(ctx context.Context, req *types.RequestEvent) *types.ResponseEvent {
	if b.sessions.disconnect(ctx, req.Origin) {
		metrics.SessionNum.Set(ctx, int64(len(b.sessions.list())))
		b.broadcastEvent(ctx, req.Origin, types.EventAccountsChanged, []common.Address{})
		b.broadcastEvent(ctx, req.Origin, types.EventDisconnect, types.ErrDisconnected("Permissions revoked."))
	}
	return resultResp(nil)
}

// Logout clears every session and locks the wallet.
func (b *Broker) Logout(ctx context.Context) {
	b.handlerLk.Lock()
	defer b.handlerLk.Unlock()

	origins := b.sessions.clearAll(ctx)
	b.state.UnlockedAccounts = nil
	b.saveState(ctx)
	metrics.SessionNum.Set(ctx, 0)

	for _, origin := range origins {
		b.broadcastEvent(ctx, origin, types.EventAccountsChanged, []common.Address{})
		b.broadcastEvent(ctx, origin, types.EventDisconnect, types.ErrDisconnected("Wallet locked."))
	}
}

func (b *Broker) getBalance(ctx context.Context, req *types.RequestEvent) *types.ResponseEvent {
	var params []json.RawMessage
	if err := json.Unmarshal(req.Payload, &params); err != nil || len(params) == 0 {
		return errResp(types.ErrInvalidParams("eth_getBalance expects [address, block]"))
	}
	var addr common.Address
	if err := json.Unmarshal(params[0], &addr); err != nil {
		return errResp(types.ErrInvalidParams(err.Error()))
	}
	chainID := b.selectedChainFor(req.Origin)
	chain, ok := b.chains.Resolve(chainID)
	if !ok {
		return errResp(types.ErrChainNotAdded(chainID))
	}
	balance, err := b.node.GetBalance(ctx, chain, addr)
	if err != nil {
		return errResp(types.MapError(err))
	}
	return resultResp(balance)
}

func (b *Broker) passthrough(ctx context.Context, req *types.RequestEvent) *types.ResponseEvent {
	b.handlerLk.Lock()
	selected := b.state.SelectedChainID
	b.handlerLk.Unlock()

	chain, ok := b.chains.Resolve(selected)
	if !ok {
		return errResp(types.ErrChainNotAdded(selected))
	}
	var params []interface{}
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &params); err != nil {
			return errResp(types.ErrInvalidParams(err.Error()))
		}
	}
	var result json.RawMessage
	if err := b.node.Call(ctx, chain, req.Method, params, &result); err != nil {
		// passthrough errors cross unchanged
		return errResp(types.MapError(err))
	}
	return &types.ResponseEvent{Payload: result}
}

func (b *Broker) accountsFor(origin string) []common.Address {
	if sess, ok := b.sessions.get(origin); ok && sess.Connected {
		return sess.Accounts
	}
	return []common.Address{}
}

func (b *Broker) chainFor(origin string) string {
	if sess, ok := b.sessions.get(origin); ok && sess.Connected && sess.ChainID != "" {
		return sess.ChainID
	}
	return b.state.SelectedChainID
}

// selectedChainFor is chainFor for callers not already under handlerLk.
func (b *Broker) selectedChainFor(origin string) string {
	b.handlerLk.Lock()
	defer b.handlerLk.Unlock()
	return b.chainFor(origin)
}

// PendingSnapshot hands the approval UI a transient copy for rendering.
func (b *Broker) PendingSnapshot(id uuid.UUID) (*types.PendingRequest, bool) {
	return b.pending.get(id)
}

func (b *Broker) ListSessions() []*types.Session {
	return b.sessions.list()
}

func (b *Broker) ListPending() []*types.PendingRequest {
	return b.pending.list()
}

func (b *Broker) WalletStateInfo() *types.WalletState {
	b.handlerLk.Lock()
	defer b.handlerLk.Unlock()
	cp := *b.state
	cp.UnlockedAccounts = append([]common.Address(nil), b.state.UnlockedAccounts...)
	return &cp
}

// Sessions exposes the connected-check used by the relay's isolation gate.
func (b *Broker) Sessions() interface{ Connected(origin string) bool } {
	return b.sessions
}

func (b *Broker) cleanPending(ctx context.Context) {
	tm := time.NewTicker(b.cfg.ClearInterval)
	defer tm.Stop()
	for {
		select {
		case <-tm.C:
			for _, pr := range b.pending.expired(b.cfg.ApprovalTimeout) {
				log.Warnf("pending request %s (%s from %s) expired before a decision", pr.ID, pr.Method, pr.Origin)
				mCtx, _ := tag.New(ctx,
					tag.Upsert(metrics.OriginKey, pr.Origin),
					tag.Upsert(metrics.KindKey, pr.Kind.String()))
				stats.Record(mCtx, metrics.RequestTimeout.M(1))
				b.broadcastDecision(ctx, pr, nil, types.MapError(types.ErrRequestTimeout))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Broker) saveState(ctx context.Context) {
	b.state.LastAccessed = time.Now()
	storage.Save(ctx, b.store, walletStateKey, b.state)
}

func resultResp(v interface{}) *types.ResponseEvent {
	return &types.ResponseEvent{Payload: mustMarshal(v)}
}

func errResp(rpcErr *types.RPCError) *types.ResponseEvent {
	return &types.ResponseEvent{Error: rpcErr}
}

func mustMarshal(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Errorf("marshal response payload: %s", err)
		return json.RawMessage("null")
	}
	return raw
}

func equalAccounts(a, b []common.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
