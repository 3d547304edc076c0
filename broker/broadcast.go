package broker

import (
	"context"
	"encoding/json"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-bridge/metrics"
	"github.com/ipfs-force-community/sophon-bridge/types"
)

// broadcastDecision fans the decision result out to every tab on the
// request's origin. Zero deliveries within the grace window is logged, not
// escalated: the caller may simply have navigated away.
func (b *Broker) broadcastDecision(ctx context.Context, pr *types.PendingRequest, result json.RawMessage, rpcErr *types.RPCError) {
	payload := mustMarshal(&types.DecisionResponse{
		RequestID: pr.ID,
		CallID:    pr.CallID,
		Result:    result,
		Error:     rpcErr,
	})
	b.broadcast(ctx, pr.Origin, pr.Kind.ResponseType(), payload)
}

func (b *Broker) broadcastEvent(ctx context.Context, origin, event string, v interface{}) {
	b.broadcast(ctx, origin, event, mustMarshal(v))
}

func (b *Broker) broadcast(ctx context.Context, origin, method string, payload json.RawMessage) {
	channels := b.tabs.channelsFor(origin)

	ev := &types.RequestEvent{
		ID:         uuid.New(),
		Method:     method,
		Origin:     origin,
		Payload:    payload,
		CreateTime: time.Now(),
	}

	delivered := 0
	for _, channel := range channels {
		if deliverOnce(channel.OutBound, ev, b.cfg.BroadcastGrace) {
			delivered++
		}
	}

	mCtx, _ := tag.New(ctx, tag.Upsert(metrics.OriginKey, origin))
	stats.Record(mCtx, metrics.BroadcastFanout.M(int64(delivered)))
	if delivered == 0 {
		log.Warnf("no tab took %s for %s, dropping", method, origin)
	}
}

// deliverOnce pushes ev with a short grace window; a closed channel is
// tolerated, the tab just went away.
func deliverOnce(out chan *types.RequestEvent, ev *types.RequestEvent, grace time.Duration) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case out <- ev:
		return true
	case <-time.After(grace):
		return false
	}
}
