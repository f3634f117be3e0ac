// SPDX-License-Identifier: GPL-3.0-only

//go:build welle

// Package welle binds the welle.io DAB demodulator through its C wrapper
// library. Callbacks arrive on the library's worker threads and are handed
// straight to the dab.Sink, which marshals them onto its dispatch
// goroutine.
package welle

/*
#cgo LDFLAGS: -lwelle-c

#include <stdbool.h>
#include <stdint.h>
#include <stdlib.h>

typedef void* welle_handle;

extern welle_handle welle_init_device(uintptr_t ctx, const char* device_name, int gain);
extern void welle_close_device(welle_handle h);
extern void welle_finalize(welle_handle h);
extern bool welle_set_channel(welle_handle h, const char* channel, bool is_scan);
extern bool welle_subscribe_service(welle_handle h, uint32_t sid);
extern bool welle_unsubscribe_service(welle_handle h, uint32_t sid);
extern int welle_get_service_name(welle_handle h, uint32_t sid, char* buf, int len);
extern bool welle_is_audio_service(welle_handle h, uint32_t sid);
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/Lamarqe/mpdcast-dab/internal/dab"
)

// drivers maps the opaque context handed to the C library back to the Go
// driver. cgo rules forbid passing Go pointers through C.
var (
	driversMu sync.Mutex
	drivers   = make(map[uintptr]*Driver)
	nextID    uintptr
)

// Driver is the cgo-backed dab.Driver.
type Driver struct {
	handle C.welle_handle
	id     uintptr
	sink   dab.Sink

	mu     sync.Mutex
	closed bool
}

// Open initialises the receiver hardware. deviceName "auto" probes all
// supported inputs; gain -1 enables AGC.
func Open(deviceName string, gain int, sink dab.Sink) (*Driver, error) {
	d := &Driver{sink: sink}

	driversMu.Lock()
	nextID++
	d.id = nextID
	drivers[d.id] = d
	driversMu.Unlock()

	cName := C.CString(deviceName)
	defer C.free(unsafe.Pointer(cName))
	d.handle = C.welle_init_device(C.uintptr_t(d.id), cName, C.int(gain))
	if d.handle == nil {
		driversMu.Lock()
		delete(drivers, d.id)
		driversMu.Unlock()
		return nil, dab.ErrNoDevice
	}
	return d, nil
}

func (d *Driver) SetChannel(channel string, isScan bool) error {
	cChan := C.CString(channel)
	defer C.free(unsafe.Pointer(cChan))
	if !bool(C.welle_set_channel(d.handle, cChan, C.bool(isScan))) {
		return fmt.Errorf("welle: set channel %q failed", channel)
	}
	return nil
}

func (d *Driver) SubscribeService(sid uint32) error {
	if !bool(C.welle_subscribe_service(d.handle, C.uint32_t(sid))) {
		return fmt.Errorf("welle: subscribe service %d failed", sid)
	}
	return nil
}

// UnsubscribeService is synchronous: the wrapper library joins its decoder
// worker before returning, so no callbacks for sid arrive afterwards.
func (d *Driver) UnsubscribeService(sid uint32) error {
	if !bool(C.welle_unsubscribe_service(d.handle, C.uint32_t(sid))) {
		return fmt.Errorf("welle: unsubscribe service %d failed", sid)
	}
	return nil
}

func (d *Driver) ServiceName(sid uint32) string {
	buf := make([]byte, 64)
	n := int(C.welle_get_service_name(d.handle, C.uint32_t(sid), (*C.char)(unsafe.Pointer(&buf[0])), C.int(len(buf))))
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}

func (d *Driver) IsAudioService(sid uint32) bool {
	return bool(C.welle_is_audio_service(d.handle, C.uint32_t(sid)))
}

func (d *Driver) ChannelNames() []string { return dab.BandIIIChannels }

// Close unregisters the driver and tears the C receiver down. The short
// sleep lets in-flight library callbacks finish before finalize frees the
// decoder state.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("welle: already closed")
	}
	d.closed = true
	d.mu.Unlock()

	C.welle_close_device(d.handle)
	time.Sleep(100 * time.Millisecond)
	C.welle_finalize(d.handle)

	driversMu.Lock()
	delete(drivers, d.id)
	driversMu.Unlock()
	return nil
}

func sinkFor(ctx C.uintptr_t) dab.Sink {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d, ok := drivers[uintptr(ctx)]; ok {
		return d.sink
	}
	return nil
}

//export goWelleSignalPresence
func goWelleSignalPresence(ctx C.uintptr_t, present C.bool) {
	if s := sinkFor(ctx); s != nil {
		s.SignalPresence(bool(present))
	}
}

//export goWelleServiceDetected
func goWelleServiceDetected(ctx C.uintptr_t, sid C.uint32_t) {
	if s := sinkFor(ctx); s != nil {
		s.ServiceDetected(uint32(sid))
	}
}

//export goWelleEnsembleLabel
func goWelleEnsembleLabel(ctx C.uintptr_t, label *C.char) {
	if s := sinkFor(ctx); s != nil {
		s.EnsembleLabel(C.GoString(label))
	}
}

//export goWelleDatetime
func goWelleDatetime(ctx C.uintptr_t, ts C.int64_t) {
	if s := sinkFor(ctx); s != nil {
		s.DatetimeUpdate(time.Unix(int64(ts), 0).UTC())
	}
}

//export goWelleAudio
func goWelleAudio(ctx C.uintptr_t, sid C.uint32_t, data *C.char, length C.int, sampleRate C.int, mode *C.char) {
	if s := sinkFor(ctx); s != nil {
		s.Audio(uint32(sid), C.GoBytes(unsafe.Pointer(data), length), int(sampleRate), C.GoString(mode))
	}
}

//export goWelleDynamicLabel
func goWelleDynamicLabel(ctx C.uintptr_t, sid C.uint32_t, label *C.char) {
	if s := sinkFor(ctx); s != nil {
		s.DynamicLabel(uint32(sid), C.GoString(label))
	}
}

//export goWelleMOT
func goWelleMOT(ctx C.uintptr_t, sid C.uint32_t, data *C.char, length C.int, mime, name *C.char) {
	if s := sinkFor(ctx); s != nil {
		s.MOT(uint32(sid), C.GoBytes(unsafe.Pointer(data), length), C.GoString(mime), C.GoString(name))
	}
}
