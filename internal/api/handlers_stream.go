// SPDX-License-Identifier: GPL-3.0-only

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Lamarqe/mpdcast-dab/internal/dab"
	"github.com/Lamarqe/mpdcast-dab/internal/metrics"
)

// switchGrace absorbs a service switch where the new request arrives
// before the previous client's unsubscribe has been processed.
const switchGrace = 500 * time.Millisecond

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.shutdown.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	channel := urlParam(r, "channel")
	service := urlParam(r, "service")
	if strings.HasPrefix(service, "cover.") {
		http.NotFound(w, r)
		return
	}
	logger := s.log.With().Str("channel", channel).Str("service", service).Logger()
	logger.Info().Str("event", "stream.request").Msg("new audio request")

	ctx := r.Context()
	if !s.radio.CanAccept(channel) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(switchGrace):
		}
	}

	sc, err := s.radio.Subscribe(ctx, channel, service)
	if err != nil {
		metrics.IncStreamStart(false)
		logger.Warn().Err(err).Str("event", "stream.rejected").Msg("subscribe failed")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	metrics.IncStreamStart(true)

	// The content type depends on whether the driver decodes, which only
	// the first frame reveals.
	cursor, audio, err := sc.AwaitAudio(ctx, 0)
	if err != nil {
		s.endStream(service, err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	var header []byte
	contentType := "audio/aac"
	if sc.Mode() != "aac" {
		contentType = "audio/wav"
		header = dab.WAVHeader(false, 2, 16, sc.SampleRate())
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "Close")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	if _, err := w.Write(header); err != nil {
		s.endStream(service, err)
		return
	}
	for {
		if _, err := w.Write(audio); err != nil {
			s.endStream(service, err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		cursor, audio, err = sc.AwaitAudio(ctx, cursor)
		if err != nil {
			s.endStream(service, err)
			return
		}
	}
}

// endStream detaches the subscriber unless the subscription is already
// gone, which is how a teardown-driven ErrUnsubscribed ends the response.
func (s *Server) endStream(service string, cause error) {
	if errors.Is(cause, dab.ErrUnsubscribed) {
		return
	}
	s.radio.Unsubscribe(service)
}
