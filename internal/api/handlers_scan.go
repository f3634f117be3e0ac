// SPDX-License-Identifier: GPL-3.0-only

package api

import "net/http"

func (s *Server) handlePlaylist(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	_, _ = w.Write([]byte(s.scanner.Playlist(s.baseURL)))
}

func (s *Server) handleScannerDetails(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.log, w, s.scanner.Status())
}

// Scan control returns an empty JSON object; the UI polls
// /get_scanner_details for the outcome.

func (s *Server) handleStartScan(w http.ResponseWriter, _ *http.Request) {
	s.scanner.Start()
	writeJSON(s.log, w, struct{}{})
}

func (s *Server) handleStopScan(w http.ResponseWriter, _ *http.Request) {
	s.scanner.Stop()
	writeJSON(s.log, w, struct{}{})
}
