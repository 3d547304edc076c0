package metrics

import (
	"time"

	"github.com/ipfs-force-community/metrics"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Global Tags
var (
	OriginKey, _ = tag.NewKey("origin")
	MethodKey, _ = tag.NewKey("method")
	KindKey, _   = tag.NewKey("kind")
	IPKey, _     = tag.NewKey("ip")
)

// Distribution
var defaultMillisecondsDistribution = view.Distribution(0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 3000, 4000, 5000, 7500, 10000, 20000, 50000, 100000)

var (
	// request pipeline
	RequestCount   = stats.Int64("request/count", "Requests seen by the broker", stats.UnitDimensionless)
	RequestWaiting = stats.Int64("request/waiting", "Requests parked for approval", stats.UnitDimensionless)
	RequestTimeout = stats.Int64("request/timeout", "Requests expired before a decision", stats.UnitDimensionless)

	// decisions
	ApprovalLatency = stats.Float64("approval/latency", "Time between prompt and decision", stats.UnitMilliseconds)
	BroadcastFanout = stats.Int64("broadcast/fanout", "Tabs reached per decision broadcast", stats.UnitDimensionless)

	// connections
	TabRegister   = stats.Int64("tab/register", "Tab attach", stats.UnitDimensionless)
	TabUnregister = stats.Int64("tab/unregister", "Tab detach", stats.UnitDimensionless)

	SessionNum = metrics.NewInt64("session/num", "Connected site count", stats.UnitDimensionless)
	PendingNum = metrics.NewInt64("pending/num", "Live pending request count", stats.UnitDimensionless)

	ApiState = metrics.NewInt64("api/state", "api service state. 0: down, 1: up", "")
)

var (
	requestCountView = &view.View{
		Measure:     RequestCount,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{OriginKey, MethodKey, KindKey},
	}
	requestWaitingView = &view.View{
		Measure:     RequestWaiting,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{OriginKey, KindKey},
	}
	requestTimeoutView = &view.View{
		Measure:     RequestTimeout,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{OriginKey, KindKey},
	}
	approvalLatencyView = &view.View{
		Measure:     ApprovalLatency,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{KindKey},
	}
	broadcastFanoutView = &view.View{
		Measure:     BroadcastFanout,
		Aggregation: view.Sum(),
		TagKeys:     []tag.Key{OriginKey},
	}
	tabRegisterView = &view.View{
		Measure:     TabRegister,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{OriginKey, IPKey},
	}
	tabUnregisterView = &view.View{
		Measure:     TabUnregister,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{OriginKey, IPKey},
	}
)

var views = []*view.View{
	requestCountView,
	requestWaitingView,
	requestTimeoutView,
	approvalLatencyView,
	broadcastFanoutView,
	tabRegisterView,
	tabUnregisterView,
}

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}
