// SPDX-License-Identifier: GPL-3.0-only

//go:build !welle

// Builds without the welle tag have no receiver support: the DAB server
// disables itself at startup, matching the behaviour on hosts without the
// wrapper library.
package welle

import "github.com/Lamarqe/mpdcast-dab/internal/dab"

// Driver is unavailable in this build.
type Driver struct{}

// Open always fails without the welle build tag.
func Open(deviceName string, gain int, sink dab.Sink) (*Driver, error) {
	return nil, dab.ErrNoDevice
}

func (d *Driver) SetChannel(string, bool) error   { return dab.ErrNoDevice }
func (d *Driver) SubscribeService(uint32) error   { return dab.ErrNoDevice }
func (d *Driver) UnsubscribeService(uint32) error { return dab.ErrNoDevice }
func (d *Driver) ServiceName(uint32) string       { return "" }
func (d *Driver) IsAudioService(uint32) bool      { return false }
func (d *Driver) ChannelNames() []string          { return dab.BandIIIChannels }
func (d *Driver) Close() error                    { return nil }
