package provider

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-bridge/chains"
	"github.com/ipfs-force-community/sophon-bridge/transport"
	"github.com/ipfs-force-community/sophon-bridge/types"
)

// State is the provider lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateDisconnected
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "uninitialized"
	}
}

// Provider is the EIP-1193 surface handed to the page. Everything it cannot
// answer from cache is delegated to the transport adapter.
type Provider struct {
	lk        sync.Mutex
	state     State
	accounts  []common.Address
	chainID   string
	switching bool
	announced bool

	cfg     *types.RequestConfig
	adapter *transport.Adapter
	emitter *Emitter
	log     *zap.SugaredLogger
}

func New(ctx context.Context, cfg *types.RequestConfig, out chan *types.RequestEvent, in <-chan *types.ResponseEvent, events <-chan *types.RequestEvent, log *zap.SugaredLogger) (*Provider, error) {
	adapter, err := transport.NewAdapter(ctx, cfg, func(context.Context) (chan *types.RequestEvent, error) {
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	p := &Provider{
		state:   StateDisconnected,
		cfg:     cfg,
		adapter: adapter,
		emitter: NewEmitter(log),
		log:     log,
	}
	adapter.OnDown(func() {
		p.transitionDisconnected("Extension context invalidated.")
	})

	go p.readReplies(ctx, in)
	go p.readEvents(ctx, events)
	return p, nil
}

// On registers a listener for a provider event.
func (p *Provider) On(event string) *Subscription {
	return p.emitter.On(event)
}

func (p *Provider) State() State {
	p.lk.Lock()
	defer p.lk.Unlock()
	return p.state
}

// Request is the EIP-1193 entry point. The dApp always gets a structured
// RPCError, never a bare failure.
func (p *Provider) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	payload, err := marshalParams(params)
	if err != nil {
		return nil, types.ErrInvalidParams(err.Error())
	}

	kind := types.KindOfMethod(method)
	switch kind {
	case types.KindAccounts:
		if cached, ok := p.cachedAccounts(); ok {
			return cached, nil
		}
	case types.KindChainID:
		if id := p.cachedChain(); id != "" {
			return mustMarshal(id), nil
		}
	case types.KindNetVersion:
		if id := p.cachedChain(); id != "" {
			return mustMarshal(chains.Decimal(id)), nil
		}
	case types.KindConnect:
		p.toConnecting()
	case types.KindSwitchChain, types.KindAddChain:
		// only one chain mutation in flight per provider; a second one
		// fails fast instead of queueing behind the first prompt
		if !p.beginChainSwitch() {
			return nil, types.ErrResourceUnavailable("A chain request is already pending.")
		}
		defer p.endChainSwitch()
	}

	req := &types.RequestEvent{
		ID:         uuid.New(),
		Method:     method,
		Payload:    payload,
		CreateTime: time.Now(),
	}
	resp, err := p.adapter.Send(ctx, req, p.cfg.TimeoutFor(kind))
	if err != nil {
		if errors.Is(err, types.ErrConnectionClosed) {
			p.transitionDisconnected("Extension context invalidated.")
		}
		if kind == types.KindConnect {
			p.failConnecting()
		}
		return nil, types.MapError(err)
	}
	if resp.Error != nil {
		if resp.Error.Code == types.ErrCodeDisconnected {
			p.transitionDisconnected(resp.Error.Message)
		}
		if kind == types.KindConnect {
			p.failConnecting()
		}
		return nil, resp.Error
	}

	p.applySuccess(kind, payload, resp.Payload)
	return resp.Payload, nil
}

func (p *Provider) applySuccess(kind types.RequestKind, params, result json.RawMessage) {
	switch kind {
	case types.KindConnect:
		var accounts []common.Address
		if err := json.Unmarshal(result, &accounts); err != nil {
			p.log.Warnf("connect result decode: %s", err)
			return
		}
		p.lk.Lock()
		p.state = StateConnected
		p.accounts = accounts
		p.lk.Unlock()

	case types.KindSwitchChain:
		var sw types.SwitchChainParams
		if err := json.Unmarshal(params, &sw); err == nil && sw.ChainID != "" {
			p.lk.Lock()
			p.chainID = chains.Normalize(sw.ChainID)
			p.lk.Unlock()
		}

	case types.KindChainID:
		var id string
		if err := json.Unmarshal(result, &id); err == nil && id != "" {
			p.lk.Lock()
			p.chainID = chains.Normalize(id)
			p.lk.Unlock()
		}

	case types.KindAccounts:
		var accounts []common.Address
		if err := json.Unmarshal(result, &accounts); err == nil {
			p.lk.Lock()
			p.accounts = accounts
			p.lk.Unlock()
		}
	}
}

func (p *Provider) readReplies(ctx context.Context, in <-chan *types.ResponseEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-in:
			if !ok {
				return
			}
			// late or unknown ids are dropped inside the registry
			p.adapter.Registry().Respond(resp)
		}
	}
}

func (p *Provider) readEvents(ctx context.Context, events <-chan *types.RequestEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.dispatchEvent(ev)
		}
	}
}

func (p *Provider) dispatchEvent(ev *types.RequestEvent) {
	if !types.IsBroadcastEvent(ev.Method) {
		// host pages send arbitrary unrelated traffic, tolerate it
		return
	}

	switch ev.Method {
	case types.EventAccountsChanged:
		var accounts []common.Address
		if err := json.Unmarshal(ev.Payload, &accounts); err == nil {
			p.lk.Lock()
			p.accounts = accounts
			p.lk.Unlock()
		}
	case types.EventChainChanged:
		var id string
		if err := json.Unmarshal(ev.Payload, &id); err == nil {
			p.lk.Lock()
			p.chainID = chains.Normalize(id)
			p.lk.Unlock()
		}
	case types.EventConnect:
		// a reconnect against a live session is re-broadcast by the wallet;
		// an already connected page must not see connect twice
		p.lk.Lock()
		p.state = StateConnected
		dup := p.announced
		p.announced = true
		p.lk.Unlock()
		if dup {
			return
		}
	case types.EventDisconnect:
		p.lk.Lock()
		p.state = StateDisconnected
		p.announced = false
		p.lk.Unlock()
	}

	p.emitter.Emit(ev.Method, ev.Payload)
}

func (p *Provider) transitionDisconnected(reason string) {
	p.lk.Lock()
	wasConnected := p.state == StateConnected
	p.state = StateDisconnected
	p.announced = false
	p.lk.Unlock()
	if wasConnected {
		p.emitter.Emit(types.EventDisconnect, mustMarshal(types.ErrDisconnected(reason)))
	}
}

func (p *Provider) toConnecting() {
	p.lk.Lock()
	if p.state == StateDisconnected || p.state == StateUninitialized {
		p.state = StateConnecting
	}
	p.lk.Unlock()
}

func (p *Provider) failConnecting() {
	p.lk.Lock()
	if p.state == StateConnecting {
		p.state = StateDisconnected
	}
	p.lk.Unlock()
}

func (p *Provider) beginChainSwitch() bool {
	p.lk.Lock()
	defer p.lk.Unlock()
	if p.switching {
		return false
	}
	p.switching = true
	return true
}

func (p *Provider) endChainSwitch() {
	p.lk.Lock()
	p.switching = false
	p.lk.Unlock()
}

func (p *Provider) cachedAccounts() (json.RawMessage, bool) {
	p.lk.Lock()
	defer p.lk.Unlock()
	if p.state != StateConnected {
		return nil, false
	}
	return mustMarshal(p.accounts), true
}

func (p *Provider) cachedChain() string {
	p.lk.Lock()
	defer p.lk.Unlock()
	return p.chainID
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

func mustMarshal(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}
