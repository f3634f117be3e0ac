// SPDX-License-Identifier: GPL-3.0-only

package cast

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog"

	"github.com/Lamarqe/mpdcast-dab/internal/api"
	"github.com/Lamarqe/mpdcast-dab/internal/config"
	"github.com/Lamarqe/mpdcast-dab/internal/log"
	"github.com/Lamarqe/mpdcast-dab/internal/meta"
	"github.com/Lamarqe/mpdcast-dab/internal/metrics"
)

// castRetryDelay paces reconnects after a failed dial or lost session.
const castRetryDelay = 5 * time.Second

// mediaSessionTimeout bounds the wait for the media session id after LOAD.
const mediaSessionTimeout = 30 * time.Second

// epgRefreshSlack is added to the remaining show time before the next EPG
// driven metadata refresh, so the new show has certainly started.
const epgRefreshSlack = 10 * time.Second

// Bridge mirrors the local MPD player onto a named Chromecast: playback
// state, and per-track metadata resolved via TVHeadend, the DAB server or
// the song's embedded art.
type Bridge struct {
	conf        config.MPD
	mpdAddr     string
	receiverURL string // the page the redirector forwards to
	streamURL   string // MPD httpd output, what the device plays
	images      *api.ImageStore
	httpClient  *http.Client
	finder      *Finder

	log zerolog.Logger
}

// NewBridge wires a bridge for the MPD instance described by conf.
// baseURL is this service's root, myIP the address the device will reach
// MPD's stream on.
func NewBridge(conf config.MPD, mpdAddr, baseURL, streamURL string, images *api.ImageStore) *Bridge {
	return &Bridge{
		conf:        conf,
		mpdAddr:     mpdAddr,
		receiverURL: baseURL + "/cast_receiver/receiver.html",
		streamURL:   streamURL,
		images:      images,
		httpClient:  http.DefaultClient,
		finder:      NewFinder(conf.DeviceName),
		log:         log.WithComponent("cast.bridge"),
	}
}

// Run casts forever: discover the device, mirror until the session or the
// player connection is lost, rediscover. Returns when ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		dev, err := b.finder.Find(ctx)
		if err != nil {
			return err
		}
		client, err := Dial(ctx, dev.Addr)
		if err != nil {
			b.log.Warn().Err(err).Str("addr", dev.Addr).Msg("chromecast dial failed")
			if !sleepCtx(ctx, castRetryDelay) {
				return ctx.Err()
			}
			continue
		}
		b.castUntilConnectionLost(ctx, client)
		_ = client.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.Info().Str("event", "cast.session_ended").Msg("cast session ended, rediscovering")
	}
}

// session bundles the per-connection state of one mirroring run.
type session struct {
	bridge *Bridge
	client *Client
	player *mpd.Client

	mediaMu      sync.Mutex
	mediaSession int
	mediaWake    chan struct{}

	// updateMu guards the receiver app handle and the metadata update
	// trio (EPG re-dispatch, DAB label loop, DAB image loop): the trio's
	// goroutines re-enter handleNewSong while the mirror loop may be
	// stopping playback. One cancel tears all three down.
	updateMu     sync.Mutex
	app          *Application // our receiver app while casting
	updateCtx    context.Context
	updateCancel context.CancelFunc
	dabStation   *meta.DABStation
}

func (s *session) currentApp() *Application {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	return s.app
}

func (s *session) setApp(app *Application) {
	s.updateMu.Lock()
	s.app = app
	s.updateMu.Unlock()
}

func (b *Bridge) castUntilConnectionLost(ctx context.Context, client *Client) {
	s := &session{
		bridge:    b,
		client:    client,
		mediaWake: make(chan struct{}),
	}
	client.OnMediaStatus(s.onMediaStatus)

	// A leftover app from a previous run would swallow the first LOAD.
	if app, err := client.RunningApp(ctx); err == nil && app != nil {
		_ = client.StopApp(ctx, app.SessionID)
	}

	watcher, err := mpd.NewWatcher("tcp", b.mpdAddr, "", "player")
	if err != nil {
		b.log.Warn().Err(err).Str("addr", b.mpdAddr).Msg("cannot watch MPD")
		return
	}
	defer watcher.Close()

	player, err := mpd.Dial("tcp", b.mpdAddr)
	if err != nil {
		b.log.Warn().Err(err).Str("addr", b.mpdAddr).Msg("cannot connect to MPD")
		return
	}
	s.player = player
	defer player.Close()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.stopPlay(stopCtx)
	}()

	status, err := player.Status()
	if err != nil {
		return
	}
	// A cast device appearing on the network must not hijack a playback
	// that was already running, eg after a nightly device reboot.
	state := newMirrorState(status["state"] == "play")
	processedSong := ""

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case err := <-watcher.Error:
			b.log.Warn().Err(err).Msg("MPD watcher failed")
			return
		case _, ok := <-watcher.Event:
			if !ok {
				return
			}
		}

		status, err := player.Status()
		if err != nil {
			return
		}
		isPlaying := status["state"] == "play"

		switch state.advance(isPlaying) {
		case actionIgnore:
			continue
		case actionStart:
			if err := s.startPlay(ctx); err != nil {
				b.log.Warn().Err(err).Msg("starting cast playback failed")
				if errors.Is(err, ErrSessionLost) || ctx.Err() != nil {
					return
				}
				state.castActive = false
				continue
			}
			metrics.IncCastTransition("start")
		case actionStop:
			s.stopPlay(ctx)
			processedSong = ""
			metrics.IncCastTransition("stop")
		}

		song, err := player.CurrentSong()
		if err != nil {
			return
		}
		if state.castActive && song["file"] != "" && song["file"] != processedSong {
			s.handleNewSong(ctx, song, false)
			processedSong = song["file"]
		}
	}
}

// onMediaStatus tracks the media session id; startPlay waits for it to
// materialise, which may take several status updates.
func (s *session) onMediaStatus(status MediaStatus) {
	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()
	s.mediaSession = status.MediaSessionID
	close(s.mediaWake)
	s.mediaWake = make(chan struct{})
}

func (s *session) awaitMediaSession(ctx context.Context) error {
	deadline := time.NewTimer(mediaSessionTimeout)
	defer deadline.Stop()
	for {
		s.mediaMu.Lock()
		ready := s.mediaSession != 0
		wake := s.mediaWake
		s.mediaMu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.client.Done():
			return ErrSessionLost
		case <-deadline.C:
			return errors.New("no media session after load")
		case <-wake:
		}
	}
}

// startPlay launches our receiver app and points it at the MPD stream.
func (s *session) startPlay(ctx context.Context) error {
	if err := PublishReceiverURL(ctx, s.bridge.httpClient, s.bridge.receiverURL); err != nil {
		// The device may still have a cached forward URL; keep going.
		s.bridge.log.Warn().Err(err).Msg("receiver url registration failed")
	}
	app, err := s.client.Launch(ctx, LocalMediaAppID)
	if err != nil {
		return err
	}
	s.setApp(app)

	media := MediaInfo{
		ContentID:   s.bridge.streamURL,
		ContentType: "audio/mpga",
		StreamType:  "LIVE",
		Metadata:    musicTrackMetadata("Streaming MPD", "", ""),
	}
	if err := s.client.Load(ctx, app, media); err != nil {
		return err
	}
	return s.awaitMediaSession(ctx)
}

// stopPlay cancels the update trio and quits the app if it is still ours.
func (s *session) stopPlay(ctx context.Context) {
	s.stopUpdateTasks()

	// The next start must wait for a fresh media session id.
	s.mediaMu.Lock()
	s.mediaSession = 0
	s.mediaMu.Unlock()

	if s.currentApp() == nil {
		return
	}
	s.setApp(nil)
	if app, err := s.client.RunningApp(ctx); err == nil && app != nil && app.AppID == LocalMediaAppID {
		_ = s.client.StopApp(ctx, app.SessionID)
	}
}

func (s *session) stopUpdateTasks() {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	if s.updateCancel != nil {
		s.updateCancel()
		s.updateCtx = nil
		s.updateCancel = nil
	}
	s.dabStation = nil
}

// handleNewSong resolves metadata for the song and pushes it to the
// receiver. Dynamic updates (label/image/EPG refresh) re-enter here
// without tearing down the running update tasks.
func (s *session) handleNewSong(ctx context.Context, song map[string]string, dynamic bool) {
	if !dynamic {
		s.stopUpdateTasks()
	}

	data := meta.CastData{ImageURL: meta.DefaultImageURL}
	songFile := song["file"]

	if isStreamURL(songFile) {
		s.resolveStreamSong(ctx, song, &data)
	} else {
		s.resolveLocalSong(song, &data)
	}

	app := s.currentApp()
	if app == nil {
		return
	}
	s.bridge.log.Info().Str("event", "cast.metadata").
		Str("title", data.Title).Str("artist", data.Artist).Str("image", data.ImageURL).
		Msg("updating cast details")
	current := MediaInfo{ContentID: s.bridge.streamURL, ContentType: "audio/mpga"}
	if err := s.client.QueueUpdate(ctx, app, current, data.Title, data.Artist, data.ImageURL); err != nil {
		s.bridge.log.Warn().Err(err).Msg("metadata update failed")
	}
}

func isStreamURL(file string) bool {
	return len(file) >= 4 && file[:4] == "http"
}

// resolveStreamSong walks the resolver chain for http playlist entries:
// an already active DAB station, then TVHeadend, then a fresh DAB lookup.
func (s *session) resolveStreamSong(ctx context.Context, song map[string]string, data *meta.CastData) {
	songFile := song["file"]

	s.updateMu.Lock()
	station := s.dabStation
	s.updateMu.Unlock()
	if station != nil {
		station.FillCastData(data)
		return
	}

	tvh := meta.NewTVHeadendChannel(songFile, s.bridge.httpClient)
	if tvh.Initialize(ctx) {
		tvh.FillCastData(ctx, data)
		if remaining := tvh.RemainingShowTime(); remaining > 0 {
			s.spawnUpdateTask(ctx, func(taskCtx context.Context) {
				if sleepCtx(taskCtx, remaining+epgRefreshSlack) {
					s.handleNewSong(taskCtx, song, true)
				}
			})
		}
		return
	}

	dab := meta.NewDABStation(songFile, s.bridge.httpClient)
	if dab.Initialize(ctx) {
		s.bridge.log.Info().Str("event", "cast.dab_station").Str("url", songFile).Msg("new DAB station")
		dab.FillCastData(data)
		s.updateMu.Lock()
		s.dabStation = dab
		s.updateMu.Unlock()
		s.spawnUpdateTask(ctx, func(taskCtx context.Context) {
			for taskCtx.Err() == nil {
				if dab.NewLabel(taskCtx) != nil {
					return
				}
				s.handleNewSong(taskCtx, song, true)
			}
		})
		s.spawnUpdateTask(ctx, func(taskCtx context.Context) {
			for taskCtx.Err() == nil {
				if dab.NewImage(taskCtx) != nil {
					return
				}
				s.handleNewSong(taskCtx, song, true)
			}
		})
	}
}

// resolveLocalSong uses the song tags and, when an artist is known, the
// embedded album art served through the image store.
func (s *session) resolveLocalSong(song map[string]string, data *meta.CastData) {
	switch {
	case song["Title"] != "":
		data.Title = song["Title"]
	case song["Name"] != "":
		data.Title = song["Name"]
	}
	artist := song["Artist"]
	if artist == "" {
		return
	}
	data.Artist = artist
	picture, err := s.player.ReadPicture(song["file"])
	if err != nil || len(picture) == 0 {
		return
	}
	mime := http.DetectContentType(picture)
	data.ImageURL = s.bridge.images.Store(song["file"], mime, picture)
}

// spawnUpdateTask runs fn under the shared update-trio context, which is
// created on first use and cancelled as one unit by stopUpdateTasks.
func (s *session) spawnUpdateTask(ctx context.Context, fn func(context.Context)) {
	s.updateMu.Lock()
	if s.updateCtx == nil || s.updateCtx.Err() != nil {
		s.updateCtx, s.updateCancel = context.WithCancel(ctx)
	}
	taskCtx := s.updateCtx
	s.updateMu.Unlock()
	go fn(taskCtx)
}

// mirrorState tracks the Stopped/Playing transition logic including the
// startup ignore rule.
type mirrorState struct {
	ignoreCurrent bool
	castActive    bool
}

type castAction int

const (
	actionNone castAction = iota
	actionIgnore
	actionStart
	actionStop
)

func newMirrorState(initiallyPlaying bool) mirrorState {
	return mirrorState{ignoreCurrent: initiallyPlaying}
}

// sleepCtx sleeps for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// advance consumes one player-state observation and returns what the
// session should do.
func (m *mirrorState) advance(isPlaying bool) castAction {
	// Keep ignoring as long as the pre-existing playback continues.
	m.ignoreCurrent = m.ignoreCurrent && isPlaying
	if m.ignoreCurrent {
		return actionIgnore
	}
	switch {
	case !m.castActive && isPlaying:
		m.castActive = true
		return actionStart
	case m.castActive && !isPlaying:
		m.castActive = false
		return actionStop
	}
	return actionNone
}
