package metrics

import (
	"context"
	"time"

	"github.com/ipfs-force-community/sophon-bridge/types"
)

// BridgeIntrospect is the read-only slice of the rpc surface the sweeper
// polls.
type BridgeIntrospect interface {
	ListSessions(ctx context.Context) ([]*types.Session, error)
	ListPending(ctx context.Context) ([]*types.PendingRequest, error)
}

func recordMetricsLoop(ctx context.Context, api BridgeIntrospect) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			recordSessionInfo(ctx, api)
			recordPendingInfo(ctx, api)
		case <-ctx.Done():
			log.Infof("context done, stop record metrics")
			return
		}
	}
}

func recordSessionInfo(ctx context.Context, api BridgeIntrospect) {
	sessions, err := api.ListSessions(ctx)
	if err != nil {
		log.Warnf("failed to list sessions %v", err)
		return
	}

	var connected int64
	for _, sess := range sessions {
		if sess.Connected {
			connected++
		}
	}
	SessionNum.Set(ctx, connected)
}

func recordPendingInfo(ctx context.Context, api BridgeIntrospect) {
	pending, err := api.ListPending(ctx)
	if err != nil {
		log.Warnf("failed to list pending requests %v", err)
		return
	}
	PendingNum.Set(ctx, int64(len(pending)))
}
