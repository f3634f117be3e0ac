// SPDX-License-Identifier: GPL-3.0-only

// Package api exposes the DAB server over HTTP: the scanner web UI, the
// scan playlist, per-service audio streaming, the label/image metadata
// endpoints the cast receiver polls and the cached MPD album art.
package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Lamarqe/mpdcast-dab/internal/dab"
	"github.com/Lamarqe/mpdcast-dab/internal/log"
)

// Server holds the HTTP surface of both subsystems. radio and scanner are
// nil when the DAB server is disabled; their routes are not registered then.
type Server struct {
	radio   *dab.RadioController
	scanner *dab.Scanner
	images  *ImageStore
	baseURL string

	shutdown atomic.Bool

	log zerolog.Logger
}

// New builds a server. baseURL is the externally reachable root,
// "http://<ip>:<port>", used for playlist and album-art URLs.
func New(radio *dab.RadioController, scanner *dab.Scanner, images *ImageStore, baseURL string) *Server {
	return &Server{
		radio:   radio,
		scanner: scanner,
		images:  images,
		baseURL: baseURL,
		log:     log.WithComponent("api"),
	}
}

// BeginShutdown makes the server refuse new audio requests with 503.
// Existing streams are ended by the controller teardown that follows.
func (s *Server) BeginShutdown() {
	s.shutdown.Store(true)
}

// Router assembles all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/cast_receiver/*", s.handleCastReceiver)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	if s.images != nil {
		r.Get("/mpd_image/*", s.handleMPDImage)
	}

	if s.radio != nil {
		r.Get("/DAB.m3u8", s.handlePlaylist)
		r.Get("/get_scanner_details", s.handleScannerDetails)
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(10, time.Minute))
			r.Post("/start_scan", s.handleStartScan)
			r.Post("/stop_scan", s.handleStopScan)
		})
		r.Get("/stream/{channel:[0-9]{1,2}[A-Z]}/{service:.+}", s.handleStream)
		r.Get("/label/current/{channel:[0-9]{1,2}[A-Z]}/{service:.+}", s.handleCurrentLabel)
		r.Get("/label/next/{channel:[0-9]{1,2}[A-Z]}/{service:.+}", s.handleNextLabel)
		r.Get("/image/current/{channel:[0-9]{1,2}[A-Z]}/{service:.+}", s.handleCurrentImage)
		r.Get("/image/next/{channel:[0-9]{1,2}[A-Z]}/{service:.+}", s.handleNextImage)
	}

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.log, w, map[string]string{"status": "ok"})
}

// urlParam returns a route parameter with URL escapes undone. Service
// names and song paths arrive percent-encoded from the playlist URLs.
func urlParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func writeJSON(logger zerolog.Logger, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
}
