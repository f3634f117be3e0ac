// SPDX-License-Identifier: GPL-3.0-only

package api

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed all:web
var webFS embed.FS

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := webFS.ReadFile("web/index.html")
	if err != nil {
		http.Error(w, "UI not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

// handleCastReceiver serves the receiver page the Chromecast app loads
// through the public redirector.
func (s *Server) handleCastReceiver(w http.ResponseWriter, r *http.Request) {
	sub, err := fs.Sub(webFS, "web/cast_receiver")
	if err != nil {
		http.Error(w, "UI not available", http.StatusInternalServerError)
		return
	}
	http.StripPrefix("/cast_receiver/", http.FileServer(http.FS(sub))).ServeHTTP(w, r)
}
