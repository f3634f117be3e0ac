// SPDX-License-Identifier: GPL-3.0-only

package api

import (
	"errors"
	"net/http"

	"github.com/Lamarqe/mpdcast-dab/internal/dab"
)

// The current/next endpoints answer 404 when the service has no live
// subscription and 400 when a long-poll is cut short by teardown; the
// cast receiver uses the distinction to tell "gone" from "never there".

func (s *Server) handleCurrentLabel(w http.ResponseWriter, r *http.Request) {
	sc := s.radio.Controller(urlParam(r, "service"))
	if sc == nil {
		http.NotFound(w, r)
		return
	}
	noStoreHeaders(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(sc.CurrentLabel()))
}

func (s *Server) handleNextLabel(w http.ResponseWriter, r *http.Request) {
	sc := s.radio.Controller(urlParam(r, "service"))
	if sc == nil {
		http.NotFound(w, r)
		return
	}
	label, err := sc.AwaitLabel(r.Context())
	if err != nil {
		longPollError(w, err)
		return
	}
	noStoreHeaders(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(label))
}

func (s *Server) handleCurrentImage(w http.ResponseWriter, r *http.Request) {
	sc := s.radio.Controller(urlParam(r, "service"))
	if sc == nil {
		http.NotFound(w, r)
		return
	}
	pic := sc.CurrentPicture()
	if pic == nil || len(pic.Data) == 0 {
		http.NotFound(w, r)
		return
	}
	writePicture(w, pic)
}

func (s *Server) handleNextImage(w http.ResponseWriter, r *http.Request) {
	sc := s.radio.Controller(urlParam(r, "service"))
	if sc == nil {
		http.NotFound(w, r)
		return
	}
	pic, err := sc.AwaitPicture(r.Context())
	if err != nil {
		longPollError(w, err)
		return
	}
	writePicture(w, pic)
}

func writePicture(w http.ResponseWriter, pic *dab.Picture) {
	noStoreHeaders(w)
	w.Header().Set("Content-Type", pic.MIME)
	_, _ = w.Write(pic.Data)
}

func noStoreHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "Close")
}

// longPollError maps a cut-short wait: teardown answers 400 with an empty
// body, a gone client gets nothing.
func longPollError(w http.ResponseWriter, err error) {
	if errors.Is(err, dab.ErrUnsubscribed) {
		w.WriteHeader(http.StatusBadRequest)
	}
}
