package chains

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ipfs-force-community/sophon-bridge/storage"
	"github.com/ipfs-force-community/sophon-bridge/types"
)

var log = logging.Logger("bridge_chains")

const (
	DefaultChainID = "0x1"

	customChainsKey = "custom_chains"
)

// Chain is one resolvable chain configuration, built-in or custom.
type Chain struct {
	ChainID        string
	Name           string
	RpcUrls        []string
	CurrencySymbol string
	Custom         bool
}

var builtins = map[string]Chain{
	"0x1": {
		ChainID:        "0x1",
		Name:           "Ethereum Mainnet",
		RpcUrls:        []string{"https://eth.llamarpc.com", "https://rpc.ankr.com/eth"},
		CurrencySymbol: "ETH",
	},
	"0x89": {
		ChainID:        "0x89",
		Name:           "Polygon Mainnet",
		RpcUrls:        []string{"https://polygon-rpc.com", "https://rpc.ankr.com/polygon"},
		CurrencySymbol: "POL",
	},
	"0x38": {
		ChainID:        "0x38",
		Name:           "BNB Smart Chain",
		RpcUrls:        []string{"https://bsc-dataseed.binance.org"},
		CurrencySymbol: "BNB",
	},
	"0xa": {
		ChainID:        "0xa",
		Name:           "OP Mainnet",
		RpcUrls:        []string{"https://mainnet.optimism.io"},
		CurrencySymbol: "ETH",
	},
	"0xa4b1": {
		ChainID:        "0xa4b1",
		Name:           "Arbitrum One",
		RpcUrls:        []string{"https://arb1.arbitrum.io/rpc"},
		CurrencySymbol: "ETH",
	},
	"0xaa36a7": {
		ChainID:        "0xaa36a7",
		Name:           "Sepolia",
		RpcUrls:        []string{"https://rpc.sepolia.org"},
		CurrencySymbol: "ETH",
	},
}

// Registry resolves chain ids against the built-in table merged with custom
// chains added through wallet_addEthereumChain.
type Registry struct {
	lk     sync.Mutex
	custom map[string]*types.CustomChain
	store  storage.Store
	def    string
}

// NewRegistry loads persisted custom chains and fixes the default chain id.
// An empty or unresolvable defaultChainID falls back to DefaultChainID.
func NewRegistry(ctx context.Context, store storage.Store, defaultChainID string) *Registry {
	r := &Registry{
		custom: make(map[string]*types.CustomChain),
		store:  store,
		def:    Normalize(defaultChainID),
	}
	var saved []*types.CustomChain
	if storage.Load(ctx, store, customChainsKey, &saved) {
		for _, c := range saved {
			r.custom[Normalize(c.ChainID)] = c
		}
	}
	if _, ok := r.Resolve(r.def); r.def == "" || !ok {
		if r.def != "" {
			log.Warnf("default chain %s unknown, falling back to %s", r.def, DefaultChainID)
		}
		r.def = DefaultChainID
	}
	return r
}

// Default returns the chain selected when no persisted wallet state says
// otherwise. Always resolvable.
func (r *Registry) Default() string {
	return r.def
}

// Normalize lowercases a hex chain id so lookups are case-insensitive.
func Normalize(chainID string) string {
	return strings.ToLower(chainID)
}

// Resolve returns the configuration for chainID, custom chains taking
// precedence over builtins.
func (r *Registry) Resolve(chainID string) (Chain, bool) {
	id := Normalize(chainID)
	r.lk.Lock()
	c, ok := r.custom[id]
	r.lk.Unlock()
	if ok {
		return Chain{
			ChainID:        c.ChainID,
			Name:           c.ChainName,
			RpcUrls:        c.RpcUrls,
			CurrencySymbol: c.CurrencySymbol,
			Custom:         true,
		}, true
	}
	b, ok := builtins[id]
	return b, ok
}

// Add records a custom chain; a later Add for the same id overwrites.
func (r *Registry) Add(ctx context.Context, c *types.CustomChain) {
	c.CreateTime = time.Now()
	r.lk.Lock()
	r.custom[Normalize(c.ChainID)] = c
	saved := make([]*types.CustomChain, 0, len(r.custom))
	for _, cc := range r.custom {
		saved = append(saved, cc)
	}
	r.lk.Unlock()

	storage.Save(ctx, r.store, customChainsKey, saved)
	log.Infof("chain %s (%s) added by %s", c.ChainID, c.ChainName, c.AddedBy)
}

func (r *Registry) ListCustom() []*types.CustomChain {
	r.lk.Lock()
	defer r.lk.Unlock()
	out := make([]*types.CustomChain, 0, len(r.custom))
	for _, c := range r.custom {
		out = append(out, c)
	}
	return out
}

// Decimal converts a hex chain id to its decimal string form, used by the
// legacy networkChanged event and net_version.
func Decimal(chainID string) string {
	n, err := strconv.ParseUint(strings.TrimPrefix(Normalize(chainID), "0x"), 16, 64)
	if err != nil {
		return "0"
	}
	return strconv.FormatUint(n, 10)
}
