// SPDX-License-Identifier: GPL-3.0-only

package cast

import (
	"context"
	"fmt"
	"net"

	"github.com/brutella/dnssd"
	"github.com/rs/zerolog"

	"github.com/Lamarqe/mpdcast-dab/internal/log"
)

// castServiceType is the mDNS service Chromecast devices announce; the
// friendly name travels in the TXT record field "fn".
const castServiceType = "_googlecast._tcp.local."

// DeviceInfo locates one discovered Chromecast.
type DeviceInfo struct {
	Name string
	Addr string // host:port
}

// Finder browses the network for a Chromecast with a given friendly name.
type Finder struct {
	deviceName string
	log        zerolog.Logger
}

// NewFinder returns a finder for deviceName.
func NewFinder(deviceName string) *Finder {
	return &Finder{
		deviceName: deviceName,
		log:        log.WithComponent("cast.finder"),
	}
}

// Find blocks until the device appears on the network or ctx ends.
func (f *Finder) Find(ctx context.Context) (*DeviceInfo, error) {
	lookupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan DeviceInfo, 1)
	add := func(entry dnssd.BrowseEntry) {
		name := entry.Text["fn"]
		if name != f.deviceName {
			return
		}
		ip := pickIP(entry.IPs)
		if ip == nil {
			return
		}
		select {
		case found <- DeviceInfo{Name: name, Addr: fmt.Sprintf("%s:%d", ip, entry.Port)}:
			cancel()
		default:
		}
	}
	rmv := func(dnssd.BrowseEntry) {}

	err := dnssd.LookupType(lookupCtx, castServiceType, add, rmv)

	select {
	case dev := <-found:
		f.log.Info().Str("event", "cast.found").Str("device", dev.Name).Str("addr", dev.Addr).Msg("cast device discovered")
		return &dev, nil
	default:
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("cast discovery ended: %w", err)
}

// pickIP prefers IPv4; the streaming URL is built from an IPv4 host.
func pickIP(ips []net.IP) net.IP {
	for _, ip := range ips {
		if ip.To4() != nil {
			return ip
		}
	}
	if len(ips) > 0 {
		return ips[0]
	}
	return nil
}
