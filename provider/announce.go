package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProviderInfo identifies the wallet toward multi-wallet discovery. The UUID
// is regenerated per provider instance; the rdns is stable.
type ProviderInfo struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Icon string `json:"icon"`
	RDNS string `json:"rdns"`
}

// AnnounceDetail pairs the identity with the provider handle a dApp would
// use after discovery.
type AnnounceDetail struct {
	Info     ProviderInfo `json:"info"`
	Provider *Provider    `json:"-"`
}

// Announcer implements the discovery handshake: announce once shortly after
// injection, and once more for every explicit provider request.
type Announcer struct {
	detail *AnnounceDetail
	out    chan<- *AnnounceDetail
}

func NewAnnouncer(p *Provider, name, icon, rdns string, out chan<- *AnnounceDetail) *Announcer {
	return &Announcer{
		detail: &AnnounceDetail{
			Info: ProviderInfo{
				UUID: uuid.New().String(),
				Name: name,
				Icon: icon,
				RDNS: rdns,
			},
			Provider: p,
		},
		out: out,
	}
}

func (a *Announcer) Info() ProviderInfo {
	return a.detail.Info
}

// Start fires the unsolicited self-announcement so dApps that registered
// their listener before injection still discover the wallet.
func (a *Announcer) Start(ctx context.Context) {
	timer := time.NewTimer(10 * time.Millisecond)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			a.RequestProvider(ctx)
		case <-ctx.Done():
		}
	}()
}

// RequestProvider answers one discovery request with exactly one
// announcement.
func (a *Announcer) RequestProvider(ctx context.Context) {
	select {
	case a.out <- a.detail:
	case <-ctx.Done():
	}
}
