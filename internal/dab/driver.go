// SPDX-License-Identifier: GPL-3.0-only

// Package dab contains the tuner arbitration core: a single physical DAB
// receiver is shared between any number of HTTP listeners and a full
// spectrum scanner. The native demodulator library runs its own threads;
// everything it reports is marshalled onto one dispatch goroutine before
// it touches shared state.
package dab

import (
	"errors"
	"time"
)

var (
	// ErrNoDevice indicates that no DAB receiver hardware is available.
	ErrNoDevice = errors.New("no DAB device available")
	// ErrDeviceBusy indicates the receiver lease is held by another owner.
	ErrDeviceBusy = errors.New("DAB device is locked")
	// ErrChannelBusy indicates another channel is tuned and not draining.
	ErrChannelBusy = errors.New("another channel is active")
	// ErrServiceNotFound indicates the requested service never appeared in
	// the tuned ensemble within the discovery grace period.
	ErrServiceNotFound = errors.New("service not found in channel")
	// ErrUnsubscribed is returned to waiters whose service subscription was
	// torn down while they were blocked.
	ErrUnsubscribed = errors.New("service subscription torn down")
)

// Driver is the contract of the native demodulator library. Implementations
// deliver asynchronous callbacks through the Sink they were constructed
// with; those callbacks may arrive on foreign threads.
//
// UnsubscribeService is synchronous: after it returns, no further
// service-level callbacks are delivered for that service id.
type Driver interface {
	// SetChannel tunes the receiver. The empty string untunes.
	SetChannel(channel string, isScan bool) error
	SubscribeService(sid uint32) error
	UnsubscribeService(sid uint32) error
	ServiceName(sid uint32) string
	IsAudioService(sid uint32) bool
	ChannelNames() []string
	Close() error
}

// Sink receives driver callbacks. Drivers call it from their own threads;
// implementations must not block.
type Sink interface {
	SignalPresence(ok bool)
	ServiceDetected(sid uint32)
	EnsembleLabel(label string)
	DatetimeUpdate(t time.Time)
	Audio(sid uint32, data []byte, sampleRate int, mode string)
	DynamicLabel(sid uint32, label string)
	MOT(sid uint32, data []byte, mime, name string)
}

// RadioHandler receives ensemble-level events for the current lease owner.
type RadioHandler interface {
	OnSignalPresence(ok bool)
	OnServiceDetected(sid uint32)
	OnEnsembleLabel(label string)
	OnDatetimeUpdate(t time.Time)
}

// ServiceHandler receives events for one subscribed service.
type ServiceHandler interface {
	OnAudio(data []byte, sampleRate int, mode string)
	OnDynamicLabel(label string)
	OnMOT(data []byte, mime, name string)
}
