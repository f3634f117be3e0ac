// SPDX-License-Identifier: GPL-3.0-only

// Package meta resolves per-track cast metadata for stream URLs the
// player is playing: an EPG lookup against a TVHeadend server and a
// self-lookup against the DAB server's label/image endpoints.
package meta

// CastData is the displayable metadata pushed to the cast receiver.
type CastData struct {
	Title    string
	Artist   string
	ImageURL string
}

// DefaultImageURL is used when no resolver provides album art.
const DefaultImageURL = "https://www.musicpd.org/logo.png"
