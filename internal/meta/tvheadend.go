// SPDX-License-Identifier: GPL-3.0-only

package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lamarqe/mpdcast-dab/internal/log"
)

// radioFallbackImage is shown for radio channels without a TVHeadend icon.
const radioFallbackImage = "https://www.radio.de/assets/images/app-stores/square_512x512_playstore.png"

// streamLinkFields maps the stream URL key to the channel grid field it
// filters on. Playlist items look like
// http://<tvh>:9981/stream/channelname/BAYERN%203.
var streamLinkFields = map[string]string{
	"channelnumber": "number",
	"channelname":   "name",
	"channel":       "uuid",
}

// TVHeadendChannel resolves show metadata for one stream URL.
type TVHeadendChannel struct {
	client  *http.Client
	songURL *url.URL

	channel map[string]any // matched channel grid entry, nil until found
	showEnd time.Time

	log zerolog.Logger
}

// NewTVHeadendChannel prepares a resolver for songURL. Nothing is fetched
// until Initialize.
func NewTVHeadendChannel(songURL string, client *http.Client) *TVHeadendChannel {
	if client == nil {
		client = http.DefaultClient
	}
	u, _ := url.Parse(songURL)
	return &TVHeadendChannel{
		client:  client,
		songURL: u,
		log:     log.WithComponent("meta.tvheadend"),
	}
}

// Initialize queries the channel grid for the channel the stream URL names.
// It reports false when the URL is not a TVHeadend stream link or the
// channel is not tagged as radio.
func (c *TVHeadendChannel) Initialize(ctx context.Context) bool {
	if c.songURL == nil {
		return false
	}
	parts := strings.Split(c.songURL.Path, "/")
	if len(parts) != 4 || parts[1] != "stream" {
		return false
	}
	field, ok := streamLinkFields[parts[2]]
	if !ok {
		return false
	}
	channelID := parts[3] // URL.Path is already percent-decoded

	filters, err := json.Marshal([]map[string]string{
		{"type": "string", "value": channelID, "field": field},
		{"type": "string", "value": "Radio", "field": "tags"},
	})
	if err != nil {
		return false
	}
	form := url.Values{
		"start":  {"0"},
		"limit":  {"1"},
		"sort":   {"name"},
		"dir":    {"ASC"},
		"filter": {string(filters)},
	}

	var grid struct {
		Entries []map[string]any `json:"entries"`
	}
	if err := c.postForm(ctx, "api/channel/grid", form, &grid); err != nil {
		c.log.Debug().Err(err).Msg("channel grid query failed")
		return false
	}

	// The grid filter matches substrings; require exact equality so
	// "QVC" does not resolve to "QVC ZWEI".
	for _, entry := range grid.Entries {
		if fmt.Sprint(entry[field]) == channelID {
			c.channel = entry
			return true
		}
	}
	return false
}

// FillCastData populates data with the channel icon and the running show.
// Without EPG data only the channel name is shown.
func (c *TVHeadendChannel) FillCastData(ctx context.Context, data *CastData) bool {
	if c.channel == nil {
		return false
	}
	data.ImageURL = c.ImageURL()
	show, err := c.CurrentShow(ctx)
	if err != nil || show == nil {
		data.Title = c.Name()
		return true
	}
	data.Title = show.Title
	data.Artist = show.Subtitle
	c.showEnd = time.Unix(show.Stop, 0)
	return true
}

// Name returns the matched channel's display name.
func (c *TVHeadendChannel) Name() string {
	if c.channel == nil {
		return ""
	}
	name, _ := c.channel["name"].(string)
	return name
}

// ImageURL returns the channel icon, or a generic radio logo when
// TVHeadend has none.
func (c *TVHeadendChannel) ImageURL() string {
	if c.channel == nil {
		return ""
	}
	iconPath, _ := c.channel["icon_public_url"].(string)
	if iconPath == "" {
		return radioFallbackImage
	}
	icon := *c.songURL
	icon.Path = "/" + strings.TrimPrefix(iconPath, "/")
	icon.RawQuery = ""
	return icon.String()
}

// EPGEvent is one entry of the epg events grid.
type EPGEvent struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Stop     int64  `json:"stop"`
}

// CurrentShow fetches what is on the channel right now. nil without error
// means the EPG has no entry.
func (c *TVHeadendChannel) CurrentShow(ctx context.Context) (*EPGEvent, error) {
	if c.channel == nil {
		return nil, nil
	}
	uuid, _ := c.channel["uuid"].(string)
	form := url.Values{
		"start":   {"0"},
		"limit":   {"1"},
		"sort":    {"channelnumber"},
		"dir":     {"ASC"},
		"mode":    {"now"},
		"channel": {uuid},
	}
	var epg struct {
		Entries []EPGEvent `json:"entries"`
	}
	if err := c.postForm(ctx, "api/epg/events/grid", form, &epg); err != nil {
		return nil, err
	}
	if len(epg.Entries) == 0 {
		return nil, nil
	}
	return &epg.Entries[0], nil
}

// RemainingShowTime returns how long the current show still runs, zero
// when no show end is known. The caster uses it to schedule the next
// metadata refresh.
func (c *TVHeadendChannel) RemainingShowTime() time.Duration {
	if c.showEnd.IsZero() {
		return 0
	}
	remaining := time.Until(c.showEnd)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *TVHeadendChannel) postForm(ctx context.Context, path string, form url.Values, out any) error {
	target := *c.songURL
	target.Path = "/" + path
	target.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(),
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tvheadend %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
