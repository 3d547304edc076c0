package broker

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-bridge/types"
)

// tabMgr tracks attached tab channels. Lookups match the stamped origin by
// exact equality, never substring containment, so an event for one origin
// can never reach a tab on another.
type tabMgr struct {
	lk   sync.Mutex
	tabs map[uuid.UUID]*types.ChannelInfo
}

func newTabMgr() *tabMgr {
	return &tabMgr{
		tabs: make(map[uuid.UUID]*types.ChannelInfo),
	}
}

func (t *tabMgr) add(channel *types.ChannelInfo) {
	t.lk.Lock()
	t.tabs[channel.ChannelId] = channel
	t.lk.Unlock()
}

func (t *tabMgr) remove(channelID uuid.UUID) {
	t.lk.Lock()
	delete(t.tabs, channelID)
	t.lk.Unlock()
}

func (t *tabMgr) channelsFor(origin string) []*types.ChannelInfo {
	t.lk.Lock()
	defer t.lk.Unlock()
	var out []*types.ChannelInfo
	for _, channel := range t.tabs {
		if channel.Origin == origin {
			out = append(out, channel)
		}
	}
	return out
}

func (t *tabMgr) count() int {
	t.lk.Lock()
	defer t.lk.Unlock()
	return len(t.tabs)
}
