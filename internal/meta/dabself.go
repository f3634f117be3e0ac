// SPDX-License-Identifier: GPL-3.0-only

package meta

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lamarqe/mpdcast-dab/internal/log"
)

// dabFallbackImage is shown until the station sends its first MOT slide.
const dabFallbackImage = "https://www.worlddab.org/image/content/2054/400x235_DABplus_Logo_Farbe_sRGB.png"

// initialLabelTimeout bounds the probe that decides whether the stream URL
// belongs to a DAB server at all. The label endpoint answers immediately
// when subscribed, so a long timeout only matters on a dead host.
const initialLabelTimeout = 300 * time.Second

// retryDelay paces the long-poll loops while the service is not (yet)
// subscribed on the DAB server.
const retryDelay = time.Second

// DABStation resolves label and slide metadata by polling the DAB server
// that serves the stream URL itself.
type DABStation struct {
	client  *http.Client
	songURL *url.URL

	channel string
	station string

	mu       sync.Mutex
	label    string
	imageURL string

	log zerolog.Logger
}

// NewDABStation prepares a resolver for songURL. Nothing is fetched until
// Initialize.
func NewDABStation(songURL string, client *http.Client) *DABStation {
	if client == nil {
		client = http.DefaultClient
	}
	u, _ := url.Parse(songURL)
	return &DABStation{
		client:   client,
		songURL:  u,
		imageURL: dabFallbackImage,
		log:      log.WithComponent("meta.dab"),
	}
}

// Initialize verifies the URL points at a DAB server by fetching the
// current label. Any failure means "not a DAB stream".
func (d *DABStation) Initialize(ctx context.Context) bool {
	if d.songURL == nil {
		return false
	}
	parts := strings.Split(d.songURL.Path, "/")
	if len(parts) != 4 || parts[1] != "stream" {
		return false
	}
	d.channel, d.station = parts[2], parts[3]

	ctx, cancel := context.WithTimeout(ctx, initialLabelTimeout)
	defer cancel()
	label, status, err := d.get(ctx, d.endpoint("label/current"))
	if err != nil || status != http.StatusOK {
		d.log.Debug().Err(err).Int("status", status).Msg("label probe failed, not a DAB stream")
		return false
	}
	d.mu.Lock()
	d.label = label
	d.mu.Unlock()
	return true
}

// FillCastData populates data with the station name, the latest dynamic
// label and the latest slide URL.
func (d *DABStation) FillCastData(data *CastData) bool {
	if d.station == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	data.Title = d.station
	data.Artist = d.label
	data.ImageURL = d.imageURL
	return true
}

// NewLabel blocks until the station announces the next dynamic label.
// Long-poll rejections (service momentarily unsubscribed) are retried
// after a short delay.
func (d *DABStation) NewLabel(ctx context.Context) error {
	for {
		label, status, err := d.get(ctx, d.endpoint("label/next"))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !sleepCtx(ctx, retryDelay) {
				return ctx.Err()
			}
			continue
		}
		if status != http.StatusOK {
			if !sleepCtx(ctx, retryDelay) {
				return ctx.Err()
			}
			continue
		}
		d.mu.Lock()
		d.label = label
		d.mu.Unlock()
		return nil
	}
}

// NewImage blocks until the station announces the next slide, then points
// the image URL at image/current with a cache-buster query.
func (d *DABStation) NewImage(ctx context.Context) error {
	for {
		_, status, err := d.get(ctx, d.endpoint("image/next"))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !sleepCtx(ctx, retryDelay) {
				return ctx.Err()
			}
			continue
		}
		if status != http.StatusOK {
			if !sleepCtx(ctx, retryDelay) {
				return ctx.Err()
			}
			continue
		}
		current := *d.songURL
		current.Path = "/" + d.endpoint("image/current")
		current.RawQuery = fmt.Sprintf("%d", time.Now().Unix())
		d.mu.Lock()
		d.imageURL = current.String()
		d.mu.Unlock()
		return nil
	}
}

// endpoint builds the decoded request path; escaping happens when the URL
// is serialized.
func (d *DABStation) endpoint(kind string) string {
	return kind + "/" + d.channel + "/" + d.station
}

func (d *DABStation) get(ctx context.Context, path string) (string, int, error) {
	target := *d.songURL
	target.Path = "/" + path
	target.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(body), resp.StatusCode, nil
}

// sleepCtx sleeps for delay, returning false if ctx ended first.
func sleepCtx(ctx context.Context, delay time.Duration) bool {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
