package types

import (
	"time"
)

// RequestConfig tunes the relay hops. Human approvals wait longer than
// RPC-shaped calls, transaction submission sits in between.
type RequestConfig struct {
	RequestQueueSize  int
	RPCTimeout        time.Duration
	ApprovalTimeout   time.Duration
	SubmitTimeout     time.Duration
	ClearInterval     time.Duration
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
	BroadcastGrace    time.Duration
}

func DefaultRequestConfig() *RequestConfig {
	return &RequestConfig{
		RequestQueueSize:  30,
		RPCTimeout:        time.Second * 25,
		ApprovalTimeout:   time.Second * 60,
		SubmitTimeout:     time.Second * 45,
		ClearInterval:     time.Second * 30,
		ReconnectAttempts: 4,
		ReconnectBackoff:  time.Millisecond * 250,
		BroadcastGrace:    time.Millisecond * 200,
	}
}

// TimeoutFor picks the per-call timeout by request family.
func (c *RequestConfig) TimeoutFor(kind RequestKind) time.Duration {
	switch {
	case kind.NeedsApproval():
		return c.ApprovalTimeout
	case kind == KindSignTransaction:
		return c.SubmitTimeout
	default:
		return c.RPCTimeout
	}
}
