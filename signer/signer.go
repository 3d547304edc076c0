package signer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ipfs-force-community/sophon-bridge/types"
)

// Signer is the opaque signing capability: given a kind and payload, produce
// a signature (or signed transaction bytes) for the key behind signer.
type Signer interface {
	Sign(ctx context.Context, kind types.RequestKind, signer common.Address, payload []byte) ([]byte, error)
}

// SigningError marks a failure inside the signer capability (bad key, bad
// payload). It maps to an internal error at the page boundary, never to a
// user rejection.
type SigningError struct {
	Signer common.Address
	Reason string
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing failed for %s: %s", e.Signer.Hex(), e.Reason)
}
