package signer

import (
	"context"
	"crypto/ecdsa"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ipfs-force-community/sophon-bridge/types"
)

var _ Signer = (*MemSigner)(nil)

// MemSigner holds secp256k1 keys in memory. Used by tests and the dev-mode
// daemon; real deployments plug in an external signer.
type MemSigner struct {
	lk   sync.Mutex
	keys map[common.Address]*ecdsa.PrivateKey
	fail bool
}

func NewMemSigner() *MemSigner {
	return &MemSigner{
		keys: make(map[common.Address]*ecdsa.PrivateKey),
	}
}

func (m *MemSigner) SetFail(fail bool) {
	m.lk.Lock()
	m.fail = fail
	m.lk.Unlock()
}

// AddKey generates a fresh key and returns its address.
func (m *MemSigner) AddKey() (common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	m.lk.Lock()
	m.keys[addr] = key
	m.lk.Unlock()
	return addr, nil
}

func (m *MemSigner) Addresses() []common.Address {
	m.lk.Lock()
	defer m.lk.Unlock()
	addrs := make([]common.Address, 0, len(m.keys))
	for addr := range m.keys {
		addrs = append(addrs, addr)
	}
	return addrs
}

func (m *MemSigner) Sign(ctx context.Context, kind types.RequestKind, signer common.Address, payload []byte) ([]byte, error) {
	m.lk.Lock()
	key, ok := m.keys[signer]
	fail := m.fail
	m.lk.Unlock()

	if fail {
		return nil, &SigningError{Signer: signer, Reason: "mock error"}
	}
	if !ok {
		return nil, &SigningError{Signer: signer, Reason: "key not found"}
	}

	var digest []byte
	switch kind {
	case types.KindPersonalSign:
		digest = accounts.TextHash(payload)
	default:
		digest = crypto.Keccak256(payload)
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, &SigningError{Signer: signer, Reason: err.Error()}
	}
	return sig, nil
}
