// SPDX-License-Identifier: GPL-3.0-only

package dab

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Lamarqe/mpdcast-dab/internal/log"
	"github.com/Lamarqe/mpdcast-dab/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// ServiceDiscoveryTimeout bounds the wait for a requested service name
	// to appear in the tuned ensemble.
	ServiceDiscoveryTimeout = 10 * time.Second
	// ServiceDiscoveryPoll is the interval between name lookups during
	// discovery.
	ServiceDiscoveryPoll = 500 * time.Millisecond
	// ChannelReleaseDelay is the grace window after the last subscriber
	// leaves before the receiver is untuned. UI channel hops send an
	// unsubscribe immediately followed by a subscribe; the window absorbs
	// that churn.
	ChannelReleaseDelay = 5 * time.Second
)

// RadioController mediates all listener access to the receiver: at most
// one tuned channel, ref-counted service subscriptions and a deferred
// channel release with a cancellable timer token.
type RadioController struct {
	dev *Device

	mu            sync.Mutex
	channel       string            // tuned channel, "" when idle
	services      map[uint32]string // discovered sid -> display name ("" until resolved)
	subs          map[uint32]*ServiceController
	drain         *time.Timer
	drainGen      uint64 // invalidates expired timers that lost the race
	ensembleLabel string
	ensembleTime  time.Time

	releaseDelay     time.Duration
	discoveryTimeout time.Duration
	discoveryPoll    time.Duration

	log zerolog.Logger
}

// NewRadioController returns a controller for dev. Nothing is tuned yet.
func NewRadioController(dev *Device) *RadioController {
	return &RadioController{
		dev:              dev,
		services:         make(map[uint32]string),
		subs:             make(map[uint32]*ServiceController),
		releaseDelay:     ChannelReleaseDelay,
		discoveryTimeout: ServiceDiscoveryTimeout,
		discoveryPoll:    ServiceDiscoveryPoll,
		log:              log.WithComponent("dab.radio"),
	}
}

// Subscribe resolves the service name within channel and returns the
// shared fan-out controller, creating the subscription on first use.
func (r *RadioController) Subscribe(ctx context.Context, channel, service string) (*ServiceController, error) {
	r.mu.Lock()
	if r.drain != nil {
		// A deferred release is pending. Reuse the tuned channel when it
		// matches, otherwise fire the release early.
		r.cancelDrainLocked()
		if r.channel != channel {
			r.resetChannelLocked()
		}
	}

	if r.channel != "" && r.channel != channel {
		r.mu.Unlock()
		r.log.Warn().Str("event", "radio.busy").Str("channel", r.channel).Msg("there is another channel active")
		return nil, ErrChannelBusy
	}

	if r.channel == "" {
		if !r.dev.TryAcquire(r) {
			r.mu.Unlock()
			r.log.Warn().Str("event", "radio.locked").Msg("DAB device is locked, no playback possible")
			return nil, ErrDeviceBusy
		}
		if err := r.dev.SetChannel(channel, false); err != nil {
			r.dev.Release()
			r.mu.Unlock()
			return nil, err
		}
		r.channel = channel
		r.log.Info().Str("event", "radio.tuned").Str("channel", channel).Msg("channel tuned")
	}
	r.mu.Unlock()

	sid, err := r.waitForService(ctx, service)
	if err != nil {
		r.mu.Lock()
		r.scheduleDrainLocked()
		r.mu.Unlock()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Error().Str("event", "radio.service_missing").
			Str("channel", channel).Str("service", service).Msg("service not found in channel")
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channel != channel {
		// Lost the channel while polling (Stop or an early-fired release).
		return nil, ErrChannelBusy
	}
	sc, ok := r.subs[sid]
	if !ok {
		sc = NewServiceController(service)
		if err := r.dev.SubscribeService(sc, sid); err != nil {
			r.scheduleDrainLocked()
			return nil, err
		}
		r.subs[sid] = sc
	}
	sc.subscribers++
	metrics.SetSubscribers(service, sc.subscribers)
	r.log.Debug().Str("event", "radio.subscribed").Str("service", service).
		Int("subscribers", sc.subscribers).Msg("subscriber attached")
	return sc, nil
}

// Unsubscribe detaches one subscriber from service. When the last one
// leaves, the subscription is torn down and a deferred channel release is
// scheduled.
func (r *RadioController) Unsubscribe(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid, ok := r.serviceIDLocked(service)
	if !ok {
		return
	}
	r.unsubscribeLocked(sid, service)
}

func (r *RadioController) unsubscribeLocked(sid uint32, service string) {
	sc, ok := r.subs[sid]
	if !ok {
		return
	}
	sc.subscribers--
	metrics.SetSubscribers(service, sc.subscribers)
	r.log.Debug().Str("event", "radio.unsubscribed").Str("service", service).
		Int("subscribers", sc.subscribers).Msg("subscriber detached")
	if sc.subscribers > 0 {
		return
	}
	if err := r.dev.UnsubscribeService(sid); err != nil {
		r.log.Warn().Err(err).Str("service", service).Msg("driver unsubscribe failed")
	}
	sc.ReleaseWaiters()
	delete(r.subs, sid)
	if len(r.subs) == 0 {
		r.scheduleDrainLocked()
	}
}

// CanAccept reports whether a subscribe for channel could currently
// proceed: the controller is idle, already on channel, or a deferred
// release is pending (which a subscribe may cancel or fire early).
func (r *RadioController) CanAccept(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel == "" || r.channel == channel || r.drain != nil
}

// IsPlaying reports whether service has an active subscription.
func (r *RadioController) IsPlaying(service string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid, ok := r.serviceIDLocked(service)
	if !ok {
		return false
	}
	_, live := r.subs[sid]
	return live
}

// Controller returns the fan-out controller for service if it is
// currently subscribed, without attaching.
func (r *RadioController) Controller(service string) *ServiceController {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid, ok := r.serviceIDLocked(service)
	if !ok {
		return nil
	}
	return r.subs[sid]
}

// EnsembleLabel returns the label of the tuned ensemble, if received.
func (r *RadioController) EnsembleLabel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensembleLabel
}

// CurrentChannel returns the tuned channel name, "" when idle.
func (r *RadioController) CurrentChannel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel
}

// Stop tears everything down: all subscriptions, any pending deferred
// release, and the channel itself. Idempotent.
func (r *RadioController) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sid, sc := range r.subs {
		if err := r.dev.UnsubscribeService(sid); err != nil {
			r.log.Warn().Err(err).Uint32("sid", sid).Msg("driver unsubscribe failed")
		}
		sc.ReleaseWaiters()
		delete(r.subs, sid)
	}
	r.cancelDrainLocked()
	if r.channel != "" {
		r.resetChannelLocked()
	}
}

// waitForService polls the discovered services for the display name. The
// driver reports service ids asynchronously and names may lag the id.
func (r *RadioController) waitForService(ctx context.Context, service string) (uint32, error) {
	r.mu.Lock()
	sid, ok := r.serviceIDLocked(service)
	r.mu.Unlock()
	if ok {
		return sid, nil
	}

	deadline := time.NewTimer(r.discoveryTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(r.discoveryPoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, ErrServiceNotFound
		case <-tick.C:
			r.mu.Lock()
			sid, ok := r.serviceIDLocked(service)
			r.mu.Unlock()
			if ok {
				return sid, nil
			}
		}
	}
}

// serviceIDLocked resolves a display name, lazily filling names the driver
// has not been asked for yet. Display names are stored with trailing
// whitespace stripped.
func (r *RadioController) serviceIDLocked(service string) (uint32, bool) {
	for sid, name := range r.services {
		if name == "" {
			name = strings.TrimRight(r.dev.ServiceName(sid), " \t\r\n\x00")
			r.services[sid] = name
		}
		if name == service {
			return sid, true
		}
	}
	return 0, false
}

// scheduleDrainLocked arms the deferred channel release. No-op while
// subscriptions remain or nothing is tuned.
func (r *RadioController) scheduleDrainLocked() {
	if len(r.subs) > 0 || r.channel == "" || r.drain != nil {
		return
	}
	r.drainGen++
	gen := r.drainGen
	r.drain = time.AfterFunc(r.releaseDelay, func() { r.drainExpired(gen) })
	r.log.Debug().Str("event", "radio.draining").Str("channel", r.channel).Msg("deferred release scheduled")
}

func (r *RadioController) drainExpired(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.drainGen || r.drain == nil {
		// A subscribe cancelled this release after the timer fired.
		return
	}
	r.drain = nil
	if len(r.subs) == 0 && r.channel != "" {
		r.resetChannelLocked()
	}
}

// cancelDrainLocked invalidates any pending deferred release.
func (r *RadioController) cancelDrainLocked() {
	if r.drain == nil {
		return
	}
	r.drain.Stop()
	r.drain = nil
	r.drainGen++
}

// resetChannelLocked reverts the receiver to idle and releases the lease.
func (r *RadioController) resetChannelLocked() {
	if err := r.dev.SetChannel("", false); err != nil {
		r.log.Warn().Err(err).Msg("untune failed")
	}
	r.log.Info().Str("event", "radio.released").Str("channel", r.channel).Msg("channel released")
	r.channel = ""
	r.services = make(map[uint32]string)
	r.ensembleLabel = ""
	r.dev.Release()
}

// RadioHandler implementation: ensemble-level driver events.

func (r *RadioController) OnServiceDetected(sid uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[sid]; !ok {
		r.services[sid] = ""
	}
}

func (r *RadioController) OnEnsembleLabel(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensembleLabel = label
}

func (r *RadioController) OnDatetimeUpdate(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensembleTime = t
}

func (r *RadioController) OnSignalPresence(bool) {}
