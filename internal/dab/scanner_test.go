// SPDX-License-Identifier: GPL-3.0-only

package dab

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestScanner(t *testing.T, drv *fakeDriver) (*Device, *Scanner) {
	t.Helper()
	dev := Open(drv)
	drv.attach(dev)
	t.Cleanup(func() { _ = dev.Close() })

	s := NewScanner(dev)
	s.dwell = 20 * time.Millisecond
	return dev, s
}

func TestScanSweepsAllChannelsAndCollectsServices(t *testing.T) {
	drv := newFakeDriver(testEnsembles())
	_, s := newTestScanner(t, drv)

	s.Start()
	s.Wait()

	st := s.Status()
	require.False(t, st.IsScanActive)
	require.True(t, st.DownloadReady)
	require.Equal(t, "Scan finished. Found 3 radio services.", st.ScannerStatus)

	// Every channel was tuned and untuned, in list order.
	require.Equal(t, []string{"11D", "", "5C", ""}, drv.tuneLog())
}

func TestScanAttributesLateDetectionsToTheirChannel(t *testing.T) {
	drv := newFakeDriver(testEnsembles())
	// "Antenne" is only announced while 11D is being torn down; the
	// detection must still land on 11D, not on the next channel.
	drv.lateDetect["11D"] = 0x1002
	_, s := newTestScanner(t, drv)

	s.Start()
	s.Wait()

	s.mu.Lock()
	_, on11D := s.results["11D"][0x1002]
	_, on5C := s.results["5C"][0x1002]
	s.mu.Unlock()
	require.True(t, on11D)
	require.False(t, on5C)
}

func TestScanSkipsChannelsWithoutSignal(t *testing.T) {
	drv := newFakeDriver(testEnsembles())
	drv.noSignal["11D"] = true
	_, s := newTestScanner(t, drv)

	s.Start()
	s.Wait()

	st := s.Status()
	require.Equal(t, "Scan finished. Found 1 radio services.", st.ScannerStatus)
}

func TestScanIgnoresDataServices(t *testing.T) {
	drv := newFakeDriver(testEnsembles())
	drv.dataOnly[0x1002] = true // "Antenne" is a data service
	_, s := newTestScanner(t, drv)

	s.Start()
	s.Wait()

	playlist := s.Playlist("http://host:8864")
	require.NotContains(t, playlist, "Antenne")
	require.Contains(t, playlist, "BAYERN 3")
}

func TestScanRefusedWhileRunning(t *testing.T) {
	drv := newFakeDriver(testEnsembles())
	_, s := newTestScanner(t, drv)
	s.dwell = 200 * time.Millisecond

	s.Start()
	require.Equal(t, "Scan started successfully", s.Status().ScannerStatus)

	s.Start()
	require.Equal(t, "Scan in progress. No new scan possible.", s.Status().ScannerStatus)

	s.Stop()
	s.Wait()
}

func TestScanRefusedWhileLeaseHeld(t *testing.T) {
	drv := newFakeDriver(testEnsembles())
	dev, s := newTestScanner(t, drv)

	r := NewRadioController(dev)
	require.True(t, dev.TryAcquire(r))
	defer dev.Release()

	s.Start()
	require.Equal(t, "DAB device is locked. No scan possible.", s.Status().ScannerStatus)
	require.Empty(t, drv.tuneLog())
}

func TestScanStopKeepsPartialResults(t *testing.T) {
	drv := newFakeDriver(testEnsembles())
	_, s := newTestScanner(t, drv)
	s.dwell = 5 * time.Second

	s.Start()
	// Let the sweep settle on the first channel, then abort mid-dwell.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.current != ""
	}, time.Second, time.Millisecond)
	s.Stop()
	s.Wait()

	st := s.Status()
	require.False(t, st.IsScanActive)
	require.True(t, strings.HasPrefix(st.ScannerStatus, "Scan stopped."), st.ScannerStatus)
}

func TestScanStopIdempotent(t *testing.T) {
	drv := newFakeDriver(testEnsembles())
	_, s := newTestScanner(t, drv)

	s.Stop() // no scan running
	s.Start()
	s.Stop()
	s.Stop()
	s.Wait()
}

func TestScanReleasesLeaseAfterSweep(t *testing.T) {
	drv := newFakeDriver(testEnsembles())
	dev, s := newTestScanner(t, drv)

	s.Start()
	s.Wait()

	r := NewRadioController(dev)
	require.True(t, dev.TryAcquire(r))
	dev.Release()
}

func TestScanStatusBeforeFirstScan(t *testing.T) {
	drv := newFakeDriver(testEnsembles())
	_, s := newTestScanner(t, drv)

	st := s.Status()
	require.False(t, st.IsScanActive)
	require.False(t, st.DownloadReady)
	require.Equal(t, "&nbsp;", st.ScannerStatus)
	require.Equal(t, "&nbsp;", st.ProgressText)
}

func TestScanPlaylistIsStable(t *testing.T) {
	drv := newFakeDriver(testEnsembles())
	_, s := newTestScanner(t, drv)

	s.Start()
	s.Wait()

	first := s.Playlist("http://host:8864")
	require.Equal(t, first, s.Playlist("http://host:8864"))

	require.Equal(t, strings.Join([]string{
		"#EXTM3U",
		"#EXTINF:-1,BAYERN 3",
		"http://host:8864/stream/11D/BAYERN%203",
		"#EXTINF:-1,Antenne",
		"http://host:8864/stream/11D/Antenne",
		"#EXTINF:-1,DLF",
		"http://host:8864/stream/5C/DLF",
		"",
	}, "\n"), first)
}
