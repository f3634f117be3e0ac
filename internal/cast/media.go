// SPDX-License-Identifier: GPL-3.0-only

package cast

import (
	"context"
)

// MediaStatus is the slice element of a MEDIA_STATUS update.
type MediaStatus struct {
	MediaSessionID int        `json:"mediaSessionId"`
	PlayerState    string     `json:"playerState"`
	Media          *MediaInfo `json:"media,omitempty"`
}

// MediaInfo describes the loaded stream.
type MediaInfo struct {
	ContentID   string         `json:"contentId"`
	ContentType string         `json:"contentType"`
	StreamType  string         `json:"streamType,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// metadataTypeMusicTrack selects the music track metadata layout on the
// receiver.
const metadataTypeMusicTrack = 3

// musicTrackMetadata builds the QUEUE_UPDATE metadata blob.
func musicTrackMetadata(title, artist, imageURL string) map[string]any {
	images := []map[string]string{}
	if imageURL != "" {
		images = append(images, map[string]string{"url": imageURL})
	}
	return map[string]any{
		"metadataType": metadataTypeMusicTrack,
		"title":        title,
		"artist":       artist,
		"images":       images,
	}
}

// Load starts playback of media on the app's transport.
func (c *Client) Load(ctx context.Context, app *Application, media MediaInfo) error {
	if err := c.connect(app.TransportID); err != nil {
		return err
	}
	_, err := c.request(ctx, nsMedia, app.TransportID, map[string]any{
		"type":     "LOAD",
		"media":    media,
		"autoplay": true,
	})
	return err
}

// QueueUpdate replaces the metadata of the playing queue item. The
// receiver keeps playing; only the displayed track details change.
func (c *Client) QueueUpdate(ctx context.Context, app *Application, current MediaInfo, title, artist, imageURL string) error {
	item := map[string]any{
		"itemId": 1,
		"media": MediaInfo{
			ContentID:   current.ContentID,
			ContentType: current.ContentType,
			Metadata:    musicTrackMetadata(title, artist, imageURL),
		},
	}
	_, err := c.request(ctx, nsMedia, app.TransportID, map[string]any{
		"type":  "QUEUE_UPDATE",
		"items": []any{item},
	})
	return err
}
