// SPDX-License-Identifier: GPL-3.0-only

package dab

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testEnsembles() map[string]map[uint32]string {
	return map[string]map[uint32]string{
		"11D": {
			0x1001: "BAYERN 3 ", // driver pads names with trailing blanks
			0x1002: "Antenne",
		},
		"5C": {
			0x2001: "DLF",
		},
	}
}

// newTestRadio wires a fake driver to a Device and RadioController with
// short test timings.
func newTestRadio(t *testing.T) (*fakeDriver, *Device, *RadioController) {
	t.Helper()
	drv := newFakeDriver(testEnsembles())
	dev := Open(drv)
	drv.attach(dev)
	t.Cleanup(func() { _ = dev.Close() })

	r := NewRadioController(dev)
	r.releaseDelay = 60 * time.Millisecond
	r.discoveryTimeout = 500 * time.Millisecond
	r.discoveryPoll = 10 * time.Millisecond
	return drv, dev, r
}

func TestSubscribeSharesOneDriverSubscription(t *testing.T) {
	drv, _, r := newTestRadio(t)
	ctx := context.Background()

	first, err := r.Subscribe(ctx, "11D", "BAYERN 3")
	require.NoError(t, err)
	second, err := r.Subscribe(ctx, "11D", "BAYERN 3")
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, drv.subscriptionCount())
	require.Equal(t, 2, first.subscribers)

	r.Unsubscribe("BAYERN 3")
	require.Equal(t, 1, drv.subscriptionCount())
	r.Unsubscribe("BAYERN 3")
	require.Equal(t, 0, drv.subscriptionCount())
}

func TestSecondServiceOnSameChannel(t *testing.T) {
	drv, _, r := newTestRadio(t)
	ctx := context.Background()

	_, err := r.Subscribe(ctx, "11D", "BAYERN 3")
	require.NoError(t, err)
	_, err = r.Subscribe(ctx, "11D", "Antenne")
	require.NoError(t, err)
	require.Equal(t, 2, drv.subscriptionCount())
}

func TestSubscribeOtherChannelWhileActiveFails(t *testing.T) {
	_, _, r := newTestRadio(t)
	ctx := context.Background()

	_, err := r.Subscribe(ctx, "11D", "BAYERN 3")
	require.NoError(t, err)
	_, err = r.Subscribe(ctx, "5C", "DLF")
	require.ErrorIs(t, err, ErrChannelBusy)
}

func TestDeferredReleaseAfterLastUnsubscribe(t *testing.T) {
	drv, _, r := newTestRadio(t)
	ctx := context.Background()

	_, err := r.Subscribe(ctx, "11D", "BAYERN 3")
	require.NoError(t, err)
	r.Unsubscribe("BAYERN 3")

	// Still tuned during the grace window.
	require.Equal(t, "11D", r.CurrentChannel())
	require.True(t, r.CanAccept("5C"))

	require.Eventually(t, func() bool {
		return r.CurrentChannel() == ""
	}, time.Second, 5*time.Millisecond, "deferred release never fired")
	require.Equal(t, "", drv.currentChannel())
}

func TestSubscribeDuringDrainCancelsRelease(t *testing.T) {
	drv, _, r := newTestRadio(t)
	ctx := context.Background()

	sc, err := r.Subscribe(ctx, "11D", "BAYERN 3")
	require.NoError(t, err)
	r.Unsubscribe("BAYERN 3")
	tunesBefore := len(drv.tuneLog())

	sc2, err := r.Subscribe(ctx, "11D", "BAYERN 3")
	require.NoError(t, err)
	require.NotSame(t, sc, sc2, "torn-down controller must not be reused")

	// No retune happened and the release never fires.
	require.Equal(t, tunesBefore, len(drv.tuneLog()))
	time.Sleep(3 * r.releaseDelay)
	require.Equal(t, "11D", r.CurrentChannel())
}

func TestSubscribeOtherChannelDuringDrainFiresReleaseEarly(t *testing.T) {
	drv, _, r := newTestRadio(t)
	ctx := context.Background()

	_, err := r.Subscribe(ctx, "11D", "BAYERN 3")
	require.NoError(t, err)
	r.Unsubscribe("BAYERN 3")

	_, err = r.Subscribe(ctx, "5C", "DLF")
	require.NoError(t, err)
	require.Equal(t, "5C", r.CurrentChannel())

	// The tune log shows untune then retune, in that order.
	tunes := drv.tuneLog()
	require.Equal(t, []string{"11D", "", "5C"}, tunes)
}

func TestSubscribeUnknownServiceSchedulesRelease(t *testing.T) {
	_, _, r := newTestRadio(t)
	ctx := context.Background()

	_, err := r.Subscribe(ctx, "11D", "NO SUCH SERVICE")
	require.ErrorIs(t, err, ErrServiceNotFound)

	require.Eventually(t, func() bool {
		return r.CurrentChannel() == ""
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeWhileLeaseHeldFails(t *testing.T) {
	_, dev, r := newTestRadio(t)
	scanner := NewScanner(dev)
	require.True(t, dev.TryAcquire(scanner))
	defer dev.Release()

	_, err := r.Subscribe(context.Background(), "11D", "BAYERN 3")
	require.ErrorIs(t, err, ErrDeviceBusy)
}

func TestSubscribeCancelledByCaller(t *testing.T) {
	drv := newFakeDriver(map[string]map[uint32]string{"11D": {}})
	dev := Open(drv)
	drv.attach(dev)
	defer dev.Close()

	r := NewRadioController(dev)
	r.releaseDelay = 30 * time.Millisecond
	r.discoveryTimeout = 5 * time.Second
	r.discoveryPoll = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := r.Subscribe(ctx, "11D", "GHOST")
	require.ErrorIs(t, err, context.Canceled)

	// Cancellation behaves like a discovery failure: the channel drains.
	require.Eventually(t, func() bool {
		return r.CurrentChannel() == ""
	}, time.Second, 5*time.Millisecond)
}

func TestServiceNamesAreTrimmed(t *testing.T) {
	_, _, r := newTestRadio(t)
	// "BAYERN 3 " is stored by the fake with a trailing blank; lookup by
	// the trimmed name must succeed.
	_, err := r.Subscribe(context.Background(), "11D", "BAYERN 3")
	require.NoError(t, err)
	require.True(t, r.IsPlaying("BAYERN 3"))
}

func TestStopIsIdempotentAndAggressive(t *testing.T) {
	drv, _, r := newTestRadio(t)
	ctx := context.Background()

	_, err := r.Subscribe(ctx, "11D", "BAYERN 3")
	require.NoError(t, err)
	_, err = r.Subscribe(ctx, "11D", "Antenne")
	require.NoError(t, err)

	r.Stop()
	require.Equal(t, "", r.CurrentChannel())
	require.Equal(t, 0, drv.subscriptionCount())

	r.Stop() // second stop is a no-op
	require.Equal(t, "", r.CurrentChannel())
}

func TestStopBeforeAnythingElseIsNoOp(t *testing.T) {
	drv, _, r := newTestRadio(t)
	r.Stop()
	require.Empty(t, drv.tuneLog())
}

func TestControllerLookupWithoutAttach(t *testing.T) {
	_, _, r := newTestRadio(t)
	require.Nil(t, r.Controller("BAYERN 3"))

	sc, err := r.Subscribe(context.Background(), "11D", "BAYERN 3")
	require.NoError(t, err)
	require.Same(t, sc, r.Controller("BAYERN 3"))
}

func TestEnsembleLabelTracked(t *testing.T) {
	_, _, r := newTestRadio(t)
	_, err := r.Subscribe(context.Background(), "11D", "BAYERN 3")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return r.EnsembleLabel() == "Ensemble 11D"
	}, time.Second, 5*time.Millisecond)
}
