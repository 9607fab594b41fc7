package realtime

import (
	"context"
	"io"
	"sync"
)

// Frame is one inbound message from the event channel, or a channel error.
type Frame struct {
	Data []byte
	Err  error
}

// EventChannel carries JSON protocol messages in both directions.
// Inbound is closed when the remote side goes away; Ready is closed once
// the channel accepts sends.
type EventChannel interface {
	Send(data []byte) error
	Inbound() <-chan Frame
	Ready() <-chan struct{}
	Close() error
}

// AudioInput is the local microphone. It starts disabled.
type AudioInput interface {
	SetEnabled(enabled bool)
	Stop() error
}

// AudioOutput plays the remote audio track. It starts muted.
type AudioOutput interface {
	SetMuted(muted bool)
	Detach() error
}

// Link is everything one successful handshake produced.
type Link struct {
	Peer     io.Closer
	Channel  EventChannel
	Mic      AudioInput
	Playback AudioOutput
}

type DialRequest struct {
	Secret string
	Model  string
}

// Dialer performs the handshake with the remote realtime endpoint. On
// failure it must release whatever it acquired before returning.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (*Link, error)
}

type silentInput struct{}

func (silentInput) SetEnabled(bool) {}
func (silentInput) Stop() error     { return nil }

type silentOutput struct{}

func (silentOutput) SetMuted(bool) {}
func (silentOutput) Detach() error { return nil }

// frameQueue is the inbound half shared by the transports. Producers call
// deliver from their read goroutine or callbacks; finish closes Inbound
// exactly once.
type frameQueue struct {
	inbound chan Frame
	ready   chan struct{}
	stop    chan struct{}

	readyOnce sync.Once
	stopOnce  sync.Once

	mu     sync.RWMutex
	closed bool
}

func newFrameQueue() *frameQueue {
	return &frameQueue{
		inbound: make(chan Frame, 256),
		ready:   make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

func (q *frameQueue) Inbound() <-chan Frame   { return q.inbound }
func (q *frameQueue) Ready() <-chan struct{} { return q.ready }

func (q *frameQueue) markReady() {
	q.readyOnce.Do(func() { close(q.ready) })
}

func (q *frameQueue) deliver(f Frame) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.inbound <- f:
	case <-q.stop:
	}
}

func (q *frameQueue) finish() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.inbound)
	}
}
