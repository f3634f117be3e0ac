// SPDX-License-Identifier: GPL-3.0-only

package dab

import (
	"bytes"
	"context"
	"sync"

	"github.com/Lamarqe/mpdcast-dab/internal/log"
	"github.com/rs/zerolog"
)

// RingSlots is the audio ring buffer capacity. Slow readers lose frames
// but never observe them out of order.
const RingSlots = 10

// Picture is a MOT image delivered alongside a service.
type Picture struct {
	Data []byte
	MIME string
	Name string
}

// ServiceController fans the driver output of one subscribed service out
// to any number of waiters. Audio, dynamic label and MOT image each have
// their own level-triggered wake primitive: the producer closes and swaps
// the wake channel inside the buffer critical section, so a frame that
// arrives between a waiter's cursor check and its block still wakes it.
type ServiceController struct {
	mu sync.Mutex

	ring [RingSlots][]byte
	next int

	label      string
	picture    *Picture
	sampleRate int
	mode       string

	audioWake   chan struct{}
	labelWake   chan struct{}
	pictureWake chan struct{}

	closed bool

	// subscribers is owned by the RadioController's lock, not by mu.
	subscribers int

	log zerolog.Logger
}

// NewServiceController returns a controller with no buffered data.
func NewServiceController(name string) *ServiceController {
	return &ServiceController{
		audioWake:   make(chan struct{}),
		labelWake:   make(chan struct{}),
		pictureWake: make(chan struct{}),
		log:         log.WithComponent("dab.service").With().Str("service", name).Logger(),
	}
}

// AwaitAudio blocks while start equals the write cursor, then returns the
// new cursor and all unread frames concatenated in producer order. Returns
// ErrUnsubscribed once teardown has begun.
func (c *ServiceController) AwaitAudio(ctx context.Context, start int) (int, []byte, error) {
	c.mu.Lock()
	for {
		if c.closed {
			c.mu.Unlock()
			return 0, nil, ErrUnsubscribed
		}
		if start != c.next {
			break
		}
		wake := c.audioWake
		c.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
		c.mu.Lock()
	}

	var buf bytes.Buffer
	for i := start; i != c.next; i = (i + 1) % RingSlots {
		buf.Write(c.ring[i])
	}
	next := c.next
	c.mu.Unlock()
	return next, buf.Bytes(), nil
}

// AwaitLabel blocks until the next dynamic label change.
func (c *ServiceController) AwaitLabel(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrUnsubscribed
	}
	wake := c.labelWake
	c.mu.Unlock()

	select {
	case <-wake:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrUnsubscribed
	}
	return c.label, nil
}

// AwaitPicture blocks until the next MOT image arrives.
func (c *ServiceController) AwaitPicture(ctx context.Context) (*Picture, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrUnsubscribed
	}
	wake := c.pictureWake
	c.mu.Unlock()

	select {
	case <-wake:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrUnsubscribed
	}
	return c.picture, nil
}

// CurrentLabel returns the most recent dynamic label, possibly empty.
func (c *ServiceController) CurrentLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label
}

// CurrentPicture returns the most recent MOT image, or nil.
func (c *ServiceController) CurrentPicture() *Picture {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.picture
}

// SampleRate returns the sample rate reported with the latest audio frame.
// Zero until the first frame arrived.
func (c *ServiceController) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleRate
}

// Mode returns the audio mode reported with the latest frame ("pcm" when
// the driver decodes, "aac" on passthrough). Empty until the first frame.
func (c *ServiceController) Mode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// ReleaseWaiters begins teardown: every current and future waiter observes
// ErrUnsubscribed.
func (c *ServiceController) ReleaseWaiters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.audioWake)
	close(c.labelWake)
	close(c.pictureWake)
	c.log.Debug().Str("event", "service.released").Msg("waiters released")
}

// OnAudio implements ServiceHandler.
func (c *ServiceController) OnAudio(data []byte, sampleRate int, mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.sampleRate = sampleRate
	c.mode = mode
	c.ring[c.next] = data
	c.next = (c.next + 1) % RingSlots
	close(c.audioWake)
	c.audioWake = make(chan struct{})
}

// OnDynamicLabel implements ServiceHandler.
func (c *ServiceController) OnDynamicLabel(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.label = label
	close(c.labelWake)
	c.labelWake = make(chan struct{})
}

// OnMOT implements ServiceHandler.
func (c *ServiceController) OnMOT(data []byte, mime, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.picture = &Picture{Data: data, MIME: mime, Name: name}
	close(c.pictureWake)
	c.pictureWake = make(chan struct{})
}
