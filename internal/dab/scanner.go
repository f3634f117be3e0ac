// SPDX-License-Identifier: GPL-3.0-only

package dab

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lamarqe/mpdcast-dab/internal/log"
	"github.com/Lamarqe/mpdcast-dab/internal/metrics"
	"github.com/Lamarqe/mpdcast-dab/internal/playlist"
	"github.com/rs/zerolog"
)

// ScanDiscoveryDwell is how long the scanner listens on a channel with
// signal before collecting the discovered services.
const ScanDiscoveryDwell = 10 * time.Second

// uiPlaceholder is rendered by the web UI for empty status fields.
const uiPlaceholder = "&nbsp;"

// Scanner sweeps the full channel list and records every named audio
// service. It holds the receiver lease exclusively for the whole sweep, so
// scanning and listening are mutually exclusive.
type Scanner struct {
	dev *Device

	mu            sync.Mutex
	cancel        context.CancelFunc // non-nil while a scan runs
	done          chan struct{}
	results       map[string]map[uint32]string // channel -> sid -> name ("" until resolved)
	channelOrder  []string
	current       string // channel being scanned
	scanned       int
	serviceCount  int
	statusText    string
	downloadReady bool

	isSignal   bool
	signalWake chan struct{}

	dwell time.Duration

	log zerolog.Logger
}

// NewScanner returns a scanner for dev.
func NewScanner(dev *Device) *Scanner {
	return &Scanner{
		dev:        dev,
		results:    make(map[string]map[uint32]string),
		statusText: uiPlaceholder,
		signalWake: make(chan struct{}),
		dwell:      ScanDiscoveryDwell,
		log:        log.WithComponent("dab.scanner"),
	}
}

// Start launches a sweep. It refuses when a scan is already running or the
// receiver lease is held.
func (s *Scanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.statusText = "Scan in progress. No new scan possible."
		return
	}
	if !s.dev.TryAcquire(s) {
		s.statusText = "DAB device is locked. No scan possible."
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.results = make(map[string]map[uint32]string)
	s.channelOrder = nil
	s.scanned = 0
	s.serviceCount = 0
	s.downloadReady = false
	s.statusText = "Scan started successfully"
	go s.run(ctx)
}

// Stop cancels a running scan. Results collected so far stay queryable.
// Idempotent.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Wait blocks until no scan is running.
func (s *Scanner) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Scanner) run(ctx context.Context) {
	channels := s.dev.ChannelNames()
	stopped := false

	for _, channel := range channels {
		if ctx.Err() != nil {
			stopped = true
			break
		}
		s.mu.Lock()
		s.results[channel] = make(map[uint32]string)
		s.channelOrder = append(s.channelOrder, channel)
		s.current = channel
		s.mu.Unlock()

		// Grab the wake primitive before tuning: the presence verdict can
		// arrive before this goroutine gets to wait for it.
		wake := s.grabSignalWake()
		if err := s.dev.SetChannel(channel, true); err != nil {
			s.log.Warn().Err(err).Str("channel", channel).Msg("tune failed, skipping channel")
			s.finishChannel()
			continue
		}
		if s.awaitSignal(ctx, wake) {
			if sleepCtx(ctx, s.dwell) {
				s.dev.Sync()
				s.collectServices(channel)
			} else {
				stopped = true
			}
		}
		if err := s.dev.SetChannel("", true); err != nil {
			s.log.Warn().Err(err).Msg("untune failed")
		}
		// Drain queued detections while this channel is still current;
		// without the barrier a late callback would be recorded under
		// the next channel.
		s.dev.Sync()
		s.finishChannel()
		if ctx.Err() != nil {
			stopped = true
			break
		}
	}

	s.dev.Release()

	s.mu.Lock()
	defer s.mu.Unlock()
	verb := "finished"
	if stopped {
		verb = "stopped"
	}
	s.statusText = fmt.Sprintf("Scan %s. Found %d radio services.", verb, s.serviceCount)
	s.downloadReady = s.serviceCount > 0
	s.cancel = nil
	close(s.done)
	s.log.Info().Str("event", "scan.done").Int("services", s.serviceCount).Bool("stopped", stopped).Msg(s.statusText)
}

func (s *Scanner) grabSignalWake() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signalWake
}

// awaitSignal waits for the driver's signal presence verdict on the
// freshly tuned channel.
func (s *Scanner) awaitSignal(ctx context.Context, wake chan struct{}) bool {
	select {
	case <-wake:
	case <-ctx.Done():
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSignal
}

func (s *Scanner) collectServices(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sid := range s.results[channel] {
		name := strings.TrimRight(s.dev.ServiceName(sid), " \t\r\n\x00")
		s.results[channel][sid] = name
		if name != "" {
			s.serviceCount++
		}
	}
}

func (s *Scanner) finishChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanned++
	s.current = ""
	total := len(s.dev.ChannelNames())
	if total > 0 {
		metrics.ScanProgress.Set(float64(100*s.scanned) / float64(total))
	}
}

// Status describes the scanner state for the web UI.
type Status struct {
	IsScanActive  bool   `json:"is_scan_active"`
	Progress      int    `json:"progress"`
	ProgressText  string `json:"progress_text"`
	ScannerStatus string `json:"scanner_status"`
	DownloadReady bool   `json:"download_ready"`
}

// Status returns a snapshot of the sweep progress.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ScannerStatus: s.statusText,
		DownloadReady: s.downloadReady,
		ProgressText:  uiPlaceholder,
	}
	if s.cancel == nil {
		return st
	}
	st.IsScanActive = true
	total := len(s.dev.ChannelNames())
	if total > 0 {
		st.Progress = 100 * s.scanned / total
	}
	discovered := 0
	for _, services := range s.results {
		for _, name := range services {
			if name != "" {
				discovered++
			}
		}
	}
	st.ProgressText = fmt.Sprintf("%d%% (%d of %d channels) Found %d radio services.",
		st.Progress, s.scanned, total, discovered)
	return st
}

// Playlist renders the scan results as an M3U playlist of stream URLs
// rooted at baseURL. Output is stable for identical results.
func (s *Scanner) Playlist(baseURL string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels := make([]string, 0, len(s.results))
	for channel := range s.results {
		channels = append(channels, channel)
	}
	sort.Strings(channels)

	var items []playlist.Item
	for _, channel := range channels {
		services := s.results[channel]
		sids := make([]uint32, 0, len(services))
		for sid := range services {
			sids = append(sids, sid)
		}
		sort.Slice(sids, func(i, j int) bool { return sids[i] < sids[j] })
		for _, sid := range sids {
			name := services[sid]
			if name == "" {
				continue
			}
			items = append(items, playlist.Item{
				Name: name,
				URL:  playlist.StreamURL(baseURL, channel, name),
			})
		}
	}

	var b strings.Builder
	_ = playlist.WriteM3U(&b, items)
	return b.String()
}

// RadioHandler implementation: scan-time driver events.

func (s *Scanner) OnServiceDetected(sid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return
	}
	if _, ok := s.results[s.current][sid]; ok {
		return
	}
	if s.dev.IsAudioService(sid) {
		s.results[s.current][sid] = ""
	}
}

func (s *Scanner) OnSignalPresence(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isSignal = ok
	close(s.signalWake)
	s.signalWake = make(chan struct{})
}

func (s *Scanner) OnEnsembleLabel(string)     {}
func (s *Scanner) OnDatetimeUpdate(time.Time) {}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
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
