// SPDX-License-Identifier: GPL-3.0-only

// Package playlist renders M3U playlists for scanned DAB services.
package playlist

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Item is one playlist entry.
type Item struct {
	Name string
	URL  string
}

// WriteM3U writes items as an extended M3U playlist.
func WriteM3U(w io.Writer, items []Item) error {
	buf := &bytes.Buffer{}
	buf.WriteString("#EXTM3U\n")
	for _, it := range items {
		buf.WriteString(fmt.Sprintf("#EXTINF:-1,%s\n", it.Name))
		buf.WriteString(it.URL + "\n")
	}
	_, err := io.Copy(w, buf)
	return err
}

// StreamURL builds the audio stream URL for a service on a channel.
func StreamURL(baseURL, channel, service string) string {
	return strings.TrimRight(baseURL, "/") + "/stream/" + channel + "/" + url.PathEscape(service)
}
