// SPDX-License-Identifier: GPL-3.0-only

package cast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Lamarqe/mpdcast-dab/internal/config"
)

func TestMirrorStartStop(t *testing.T) {
	state := newMirrorState(false)

	require.Equal(t, actionNone, state.advance(false))
	require.Equal(t, actionStart, state.advance(true))
	require.Equal(t, actionNone, state.advance(true))
	require.Equal(t, actionStop, state.advance(false))
	require.Equal(t, actionStart, state.advance(true))
}

func TestMirrorIgnoresPreexistingPlayback(t *testing.T) {
	// MPD was already playing when the device appeared; that playback
	// must not be hijacked.
	state := newMirrorState(true)

	require.Equal(t, actionIgnore, state.advance(true))
	require.Equal(t, actionIgnore, state.advance(true))

	// Once the old playback stops, mirroring engages normally.
	require.Equal(t, actionNone, state.advance(false))
	require.Equal(t, actionStart, state.advance(true))
}

func TestMirrorIgnoreDoesNotOutliveStop(t *testing.T) {
	state := newMirrorState(true)
	require.Equal(t, actionNone, state.advance(false))
	// The ignore flag is consumed; later playback casts.
	require.Equal(t, actionStart, state.advance(true))
	require.Equal(t, actionStop, state.advance(false))
}

// newTestSession wires a session against the fake device with our app
// already launched.
func newTestSession(t *testing.T) (*session, *fakeDevice) {
	t.Helper()
	client, device := newTestClient(t)
	device.on("GET_STATUS", func(req *castMessage, base basePayload) {
		device.send(nsReceiver, receiverPlatform, senderID, map[string]any{
			"type":      "RECEIVER_STATUS",
			"requestId": base.RequestID,
			"status":    map[string]any{"applications": []map[string]any{}},
		})
	})
	device.on("QUEUE_UPDATE", func(req *castMessage, base basePayload) {
		device.send(nsMedia, req.destinationID, senderID, map[string]any{
			"type":      "MEDIA_STATUS",
			"requestId": base.RequestID,
			"status":    []map[string]any{{"mediaSessionId": 1}},
		})
	})

	b := NewBridge(config.MPD{DeviceName: "Living Room"},
		"localhost:6600", "http://127.0.0.1:8864", "http://127.0.0.1:8000/", nil)
	s := &session{bridge: b, client: client, mediaWake: make(chan struct{})}
	s.setApp(&Application{AppID: LocalMediaAppID, SessionID: "session-1", TransportID: "transport-1"})
	return s, device
}

func TestDynamicUpdateRacingStop(t *testing.T) {
	s, _ := newTestSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	song := map[string]string{"file": "music/track.mp3", "Title": "Track"}

	// Label/image loops re-dispatch metadata while the mirror loop stops
	// playback; the app handle must never be read half torn down.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 16; i++ {
			s.handleNewSong(ctx, song, true)
		}
	}()
	go func() {
		defer wg.Done()
		s.stopPlay(ctx)
	}()
	wg.Wait()

	require.Nil(t, s.currentApp())
}

func TestStopPlayDiscardsMediaSession(t *testing.T) {
	s, _ := newTestSession(t)
	s.onMediaStatus(MediaStatus{MediaSessionID: 7})

	s.stopPlay(context.Background())

	// The stale id from the stopped playback must not satisfy the next
	// start's wait.
	waitCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.awaitMediaSession(waitCtx), context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.onMediaStatus(MediaStatus{MediaSessionID: 3})
	}()
	require.NoError(t, s.awaitMediaSession(context.Background()))
}

func TestIsStreamURL(t *testing.T) {
	require.True(t, isStreamURL("http://10.0.0.2:9981/stream/channelname/BAYERN%203"))
	require.True(t, isStreamURL("https://example.org/radio"))
	require.False(t, isStreamURL("music/artist/album/track.flac"))
	require.False(t, isStreamURL(""))
}
