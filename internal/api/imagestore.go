// SPDX-License-Identifier: GPL-3.0-only

package api

import (
	"net/http"
	"net/url"
	"sync"
)

// albumArtFallbackURL is served via redirect for songs without cached art.
const albumArtFallbackURL = "https://www.musicpd.org/logo.png"

// ImageStore caches MPD album art in memory so the cast receiver can fetch
// it over plain HTTP. Keys are unescaped MPD song paths.
type ImageStore struct {
	baseURL string

	mu     sync.Mutex
	images map[string]storedImage
}

type storedImage struct {
	mime string
	data []byte
}

// NewImageStore returns an empty store serving URLs rooted at baseURL.
func NewImageStore(baseURL string) *ImageStore {
	return &ImageStore{
		baseURL: baseURL,
		images:  make(map[string]storedImage),
	}
}

// Store caches the picture for songPath and returns its public URL.
func (st *ImageStore) Store(songPath, mime string, data []byte) string {
	st.mu.Lock()
	st.images[songPath] = storedImage{mime: mime, data: data}
	st.mu.Unlock()
	return st.baseURL + "/mpd_image/" + (&url.URL{Path: songPath}).EscapedPath()
}

func (st *ImageStore) get(songPath string) (storedImage, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	img, ok := st.images[songPath]
	return img, ok
}

func (s *Server) handleMPDImage(w http.ResponseWriter, r *http.Request) {
	img, ok := s.images.get(urlParam(r, "*"))
	if !ok {
		http.Redirect(w, r, albumArtFallbackURL, http.StatusMovedPermanently)
		return
	}
	w.Header().Set("Content-Type", img.mime)
	_, _ = w.Write(img.data)
}
