// SPDX-License-Identifier: GPL-3.0-only

// Package metrics exposes the Prometheus instrumentation of mpdcast-dab.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubscriberCount tracks HTTP listeners per DAB service.
	SubscriberCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mpdcast_dab_subscribers",
		Help: "Active audio stream subscribers per DAB service",
	}, []string{"service"})

	// StreamStartTotal tracks audio stream request outcomes.
	StreamStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpdcast_dab_stream_start_total",
		Help: "Total audio stream start attempts by result",
	}, []string{"result"})

	// AudioFramesTotal counts audio frames received from the driver.
	AudioFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mpdcast_dab_audio_frames_total",
		Help: "Audio frames delivered by the DAB driver",
	})

	// CallbackDroppedTotal counts driver callbacks dropped because the
	// dispatch queue was full.
	CallbackDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mpdcast_dab_callback_dropped_total",
		Help: "Driver callbacks dropped on dispatch queue overflow",
	})

	// ScanProgress is the spectrum scan progress in percent.
	ScanProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mpdcast_dab_scan_progress_percent",
		Help: "Progress of the running DAB spectrum scan",
	})

	// CastTransitionTotal counts cast bridge state transitions.
	CastTransitionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpdcast_cast_transition_total",
		Help: "Cast bridge state transitions by kind",
	}, []string{"transition"})
)

// IncAudioFrame records one driver audio frame.
func IncAudioFrame() { AudioFramesTotal.Inc() }

// IncCallbackDropped records a dropped driver callback.
func IncCallbackDropped() { CallbackDroppedTotal.Inc() }

// IncStreamStart records a stream start attempt outcome.
func IncStreamStart(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	StreamStartTotal.WithLabelValues(result).Inc()
}

// SetSubscribers records the subscriber count for a service.
func SetSubscribers(service string, n int) {
	SubscriberCount.WithLabelValues(service).Set(float64(n))
}

// IncCastTransition records a cast bridge transition ("start", "stop",
// "new_track", "lost").
func IncCastTransition(kind string) {
	CastTransitionTotal.WithLabelValues(kind).Inc()
}
