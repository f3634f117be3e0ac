// SPDX-License-Identifier: GPL-3.0-only

package dab

import (
	"fmt"
	"sort"
	"sync"
)

// fakeDriver simulates the native library: tuning a channel announces the
// ensemble's services through the sink, the way the real driver does from
// its demodulator threads.
type fakeDriver struct {
	mu        sync.Mutex
	sink      Sink
	channels  []string
	ensembles map[string]map[uint32]string // channel -> sid -> display name
	noSignal  map[string]bool
	dataOnly  map[uint32]bool

	// lateDetect delays a service announcement until the channel is
	// untuned, like a demodulator flushing its queue on teardown.
	lateDetect map[string]uint32
	lastTuned  string

	tunes         []string // every SetChannel argument, including untunes
	subscribed    map[uint32]bool
	subscribeErr  error
	setChannelErr error
}

func newFakeDriver(ensembles map[string]map[uint32]string) *fakeDriver {
	channels := make([]string, 0, len(ensembles))
	for ch := range ensembles {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return &fakeDriver{
		channels:   channels,
		ensembles:  ensembles,
		noSignal:   make(map[string]bool),
		dataOnly:   make(map[uint32]bool),
		lateDetect: make(map[string]uint32),
		subscribed: make(map[uint32]bool),
	}
}

func (f *fakeDriver) attach(sink Sink) { f.sink = sink }

func (f *fakeDriver) SetChannel(channel string, isScan bool) error {
	f.mu.Lock()
	f.tunes = append(f.tunes, channel)
	sink := f.sink
	services := f.ensembles[channel]
	noSignal := f.noSignal[channel]
	err := f.setChannelErr
	lateSid, hasLate := f.lateDetect[channel]
	prevLateSid, hasPrevLate := f.lateDetect[f.lastTuned]
	if channel != "" {
		f.lastTuned = channel
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if sink == nil {
		return nil
	}
	if channel == "" {
		if hasPrevLate {
			sink.ServiceDetected(prevLateSid)
		}
		return nil
	}

	sink.SignalPresence(!noSignal)
	if noSignal {
		return nil
	}
	sids := make([]uint32, 0, len(services))
	for sid := range services {
		sids = append(sids, sid)
	}
	sort.Slice(sids, func(i, j int) bool { return sids[i] < sids[j] })
	for _, sid := range sids {
		if hasLate && sid == lateSid {
			continue
		}
		sink.ServiceDetected(sid)
	}
	sink.EnsembleLabel("Ensemble " + channel)
	return nil
}

func (f *fakeDriver) SubscribeService(sid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribed[sid] = true
	return nil
}

func (f *fakeDriver) UnsubscribeService(sid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.subscribed[sid] {
		return fmt.Errorf("service %d not subscribed", sid)
	}
	delete(f.subscribed, sid)
	return nil
}

func (f *fakeDriver) ServiceName(sid uint32) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, services := range f.ensembles {
		if name, ok := services[sid]; ok {
			return name
		}
	}
	return ""
}

func (f *fakeDriver) IsAudioService(sid uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dataOnly[sid]
}

func (f *fakeDriver) ChannelNames() []string { return f.channels }

func (f *fakeDriver) Close() error { return nil }

func (f *fakeDriver) tuneLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tunes...)
}

func (f *fakeDriver) subscriptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribed)
}

func (f *fakeDriver) currentChannel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.tunes) - 1; i >= 0; i-- {
		return f.tunes[i]
	}
	return ""
}
