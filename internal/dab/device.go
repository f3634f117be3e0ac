// SPDX-License-Identifier: GPL-3.0-only

package dab

import (
	"fmt"
	"sync"
	"time"

	"github.com/Lamarqe/mpdcast-dab/internal/log"
	"github.com/Lamarqe/mpdcast-dab/internal/metrics"
	"github.com/rs/zerolog"
)

type eventKind uint8

const (
	evSignal eventKind = iota
	evServiceDetected
	evEnsembleLabel
	evDatetime
	evAudio
	evDynamicLabel
	evMOT
	evSync
)

type event struct {
	kind       eventKind
	sid        uint32
	data       []byte
	text       string
	mime       string
	name       string
	sampleRate int
	ok         bool
	ts         time.Time
	sync       chan struct{}
}

// dispatchDepth bounds the callback queue between driver threads and the
// dispatch goroutine. Audio arrives at frame pace, so a deep queue only
// ever fills when the process is stalled; overflow drops are counted.
const dispatchDepth = 1024

// Device wraps a Driver with the single-owner lease and the callback
// marshalling required by the concurrency model: all driver callbacks are
// queued and replayed in order on one goroutine.
type Device struct {
	drv Driver

	mu       sync.Mutex
	owner    RadioHandler
	services map[uint32]ServiceHandler

	events chan event
	done   chan struct{}
	closed bool

	log zerolog.Logger
}

// Open wraps drv and starts the dispatch goroutine.
func Open(drv Driver) *Device {
	d, _ := OpenWith(func(Sink) (Driver, error) { return drv, nil })
	return d
}

// OpenWith constructs the device first so it can serve as the callback sink
// the driver is initialised with. Events posted during open are buffered and
// replayed once dispatch starts.
func OpenWith(open func(Sink) (Driver, error)) (*Device, error) {
	d := &Device{
		services: make(map[uint32]ServiceHandler),
		events:   make(chan event, dispatchDepth),
		done:     make(chan struct{}),
		log:      log.WithComponent("dab.device"),
	}
	drv, err := open(d)
	if err != nil {
		return nil, err
	}
	d.drv = drv
	go d.dispatch()
	return d, nil
}

// TryAcquire claims the receiver lease for owner. Ensemble-level events are
// routed to the owner until Release. Contention is resolved by refusal.
func (d *Device) TryAcquire(owner RadioHandler) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.owner != nil {
		return false
	}
	d.owner = owner
	return true
}

// Release frees the receiver lease. Returns false if it was not held.
func (d *Device) Release() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.owner == nil {
		return false
	}
	d.owner = nil
	return true
}

func (d *Device) SetChannel(channel string, isScan bool) error {
	if err := d.drv.SetChannel(channel, isScan); err != nil {
		return fmt.Errorf("set channel %q: %w", channel, err)
	}
	return nil
}

// SubscribeService registers h for service-level events and starts frame
// delivery for sid.
func (d *Device) SubscribeService(h ServiceHandler, sid uint32) error {
	d.mu.Lock()
	d.services[sid] = h
	d.mu.Unlock()
	if err := d.drv.SubscribeService(sid); err != nil {
		d.mu.Lock()
		delete(d.services, sid)
		d.mu.Unlock()
		return fmt.Errorf("subscribe service %d: %w", sid, err)
	}
	return nil
}

// UnsubscribeService stops frame delivery for sid. The driver contract is
// synchronous, so once the driver call returns the handler registration can
// be dropped without racing late callbacks.
func (d *Device) UnsubscribeService(sid uint32) error {
	err := d.drv.UnsubscribeService(sid)
	d.mu.Lock()
	delete(d.services, sid)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("unsubscribe service %d: %w", sid, err)
	}
	return nil
}

func (d *Device) ServiceName(sid uint32) string  { return d.drv.ServiceName(sid) }
func (d *Device) IsAudioService(sid uint32) bool { return d.drv.IsAudioService(sid) }
func (d *Device) ChannelNames() []string         { return d.drv.ChannelNames() }

// Close untunes and shuts down the driver and the dispatch goroutine.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	_ = d.drv.SetChannel("", false)
	err := d.drv.Close()
	close(d.done)
	return err
}

func (d *Device) dispatch() {
	for {
		select {
		case ev := <-d.events:
			d.deliver(ev)
		case <-d.done:
			return
		}
	}
}

func (d *Device) deliver(ev event) {
	d.mu.Lock()
	owner := d.owner
	svc := d.services[ev.sid]
	d.mu.Unlock()

	switch ev.kind {
	case evSignal:
		if owner != nil {
			owner.OnSignalPresence(ev.ok)
		}
	case evServiceDetected:
		if owner != nil {
			owner.OnServiceDetected(ev.sid)
		}
	case evEnsembleLabel:
		if owner != nil {
			owner.OnEnsembleLabel(ev.text)
		}
	case evDatetime:
		if owner != nil {
			owner.OnDatetimeUpdate(ev.ts)
		}
	case evAudio:
		if svc != nil {
			svc.OnAudio(ev.data, ev.sampleRate, ev.text)
		}
	case evDynamicLabel:
		if svc != nil {
			svc.OnDynamicLabel(ev.text)
		}
	case evMOT:
		if svc != nil {
			svc.OnMOT(ev.data, ev.mime, ev.name)
		}
	case evSync:
		close(ev.sync)
	}
}

// Sync blocks until every callback posted before the call has been
// dispatched. The scanner uses it as a barrier between channels so a late
// event cannot be attributed to the next channel.
func (d *Device) Sync() {
	marker := event{kind: evSync, sync: make(chan struct{})}
	select {
	case d.events <- marker:
	case <-d.done:
		return
	}
	select {
	case <-marker.sync:
	case <-d.done:
	}
}

// post enqueues a driver callback. Called on driver threads; never blocks.
func (d *Device) post(ev event) {
	select {
	case d.events <- ev:
	default:
		metrics.IncCallbackDropped()
		d.log.Warn().Uint8("kind", uint8(ev.kind)).Msg("callback queue full, event dropped")
	}
}

// Sink implementation: the entry points the native library calls.

func (d *Device) SignalPresence(ok bool) { d.post(event{kind: evSignal, ok: ok}) }

func (d *Device) ServiceDetected(sid uint32) { d.post(event{kind: evServiceDetected, sid: sid}) }

func (d *Device) EnsembleLabel(label string) { d.post(event{kind: evEnsembleLabel, text: label}) }

func (d *Device) DatetimeUpdate(t time.Time) { d.post(event{kind: evDatetime, ts: t}) }

func (d *Device) Audio(sid uint32, data []byte, sampleRate int, mode string) {
	metrics.IncAudioFrame()
	d.post(event{kind: evAudio, sid: sid, data: data, sampleRate: sampleRate, text: mode})
}

func (d *Device) DynamicLabel(sid uint32, label string) {
	d.post(event{kind: evDynamicLabel, sid: sid, text: label})
}

func (d *Device) MOT(sid uint32, data []byte, mime, name string) {
	d.post(event{kind: evMOT, sid: sid, data: data, mime: mime, name: name})
}
