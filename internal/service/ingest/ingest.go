// Package ingest turns a transport frame source into a lazy channel of
// audio chunks with end-of-stream and idle timeout semantics.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sentinel is the frame payload that signals no further audio will arrive.
var Sentinel = []byte("END_OF_STREAM")

// DefaultIdleTimeout is the window a pull may block before the channel
// synthesizes an end of stream.
const DefaultIdleTimeout = 30 * time.Second

// ErrTransportClosed marks an ingest sequence that ended because the
// transport failed rather than completing normally.
var ErrTransportClosed = errors.New("transport closed unexpectedly")

// IsSentinel reports whether the frame is the end-of-stream marker.
func IsSentinel(frame []byte) bool {
	return bytes.Equal(frame, Sentinel)
}

// Source delivers raw binary frames from the transport. ReadChunk blocks
// until a frame arrives and returns an error when the transport is gone.
type Source interface {
	ReadChunk() ([]byte, error)
}

// Channel is a lazy, finite sequence of audio chunks. C is closed exactly
// once: after the sentinel, after the idle timeout, or after a transport
// failure. Chunks received after the sentinel are discarded.
type Channel struct {
	C <-chan []byte

	mu       sync.Mutex
	err      error
	timedOut bool
}

// Err returns the transport error that ended the sequence, or nil when the
// sequence completed normally (sentinel or idle timeout). Valid after C is
// closed.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// TimedOut reports whether the sequence was completed by the idle timeout.
func (c *Channel) TimedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timedOut
}

type frame struct {
	data []byte
	err  error
}

// Open starts pumping frames from the source. The returned channel's C
// yields chunks in arrival order; back-pressure from the consumer stalls
// the pump without dropping chunks.
func Open(ctx context.Context, src Source, idleTimeout time.Duration) *Channel {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	out := make(chan []byte)
	ch := &Channel{C: out}
	raw := make(chan frame)
	readerDone := make(chan struct{})

	// Reader goroutine: the only place that touches the source. It stops
	// at the sentinel, so later transport frames are never enqueued.
	go func() {
		defer close(readerDone)
		for {
			data, err := src.ReadChunk()
			select {
			case raw <- frame{data: data, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil || IsSentinel(data) {
				return
			}
		}
	}()

	go func() {
		defer close(out)
		timer := time.NewTimer(idleTimeout)
		defer timer.Stop()

		for {
			select {
			case f := <-raw:
				if f.err != nil {
					ch.setErr(ErrTransportClosed)
					log.Debug().Err(f.err).Msg("Ingest transport read failed")
					return
				}
				if IsSentinel(f.data) {
					log.Debug().Msg("End-of-stream sentinel received")
					return
				}
				// Blocking send: downstream back-pressure stalls here
				// without discarding the chunk.
				select {
				case out <- f.data:
				case <-ctx.Done():
					ch.setErr(ctx.Err())
					return
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(idleTimeout)
			case <-timer.C:
				// Synthesized end of stream. Normal completion.
				ch.setTimedOut()
				log.Info().Dur("idleTimeout", idleTimeout).Msg("No audio within idle window, ending stream")
				return
			case <-ctx.Done():
				ch.setErr(ctx.Err())
				return
			}
		}
	}()

	return ch
}

func (c *Channel) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Channel) setTimedOut() {
	c.mu.Lock()
	c.timedOut = true
	c.mu.Unlock()
}
