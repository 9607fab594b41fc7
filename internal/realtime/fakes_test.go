package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"voxchat/internal/brokerapi"
)

// recorder flattens handler calls into strings like "response:delta:AB".
type recorder struct {
	mu     sync.Mutex
	events []string
	tools  []ToolCallEvent

	onLifecycle func(LifecycleEvent)
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) OnLifecycle(ev LifecycleEvent) {
	if ev.Kind == Failed {
		r.add("lifecycle:failed:" + ev.Message)
	} else {
		r.add("lifecycle:" + ev.Kind.String())
	}
	if r.onLifecycle != nil {
		r.onLifecycle(ev)
	}
}

func (r *recorder) OnResponse(ev ResponseEvent) {
	switch ev.Kind {
	case ResponseStarted:
		r.add("response:started")
	case ResponseDelta:
		r.add("response:delta:" + ev.Text)
	case ResponseDone:
		r.add("response:done:" + ev.Text)
	case ResponseFinished:
		r.add("response:finished")
	}
}

func (r *recorder) OnTranscript(ev TranscriptEvent) {
	switch ev.Kind {
	case TranscriptPending:
		r.add("transcript:pending")
	case TranscriptCompleted:
		r.add("transcript:completed:" + ev.Text)
	case TranscriptFailed:
		r.add("transcript:failed")
	}
}

func (r *recorder) OnToolCall(ev ToolCallEvent) {
	r.mu.Lock()
	r.tools = append(r.tools, ev)
	r.mu.Unlock()
	if ev.Kind == ToolCallStarted {
		r.add("tool:started:" + ev.Query)
	} else {
		r.add("tool:finished:" + ev.Query)
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(s string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e == s {
			n++
		}
	}
	return n
}

type fakeChannel struct {
	inbound chan Frame
	ready   chan struct{}

	mu     sync.Mutex
	sent   [][]byte
	closes int
	err    error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbound: make(chan Frame, 64), ready: make(chan struct{})}
}

func (c *fakeChannel) Inbound() <-chan Frame  { return c.inbound }
func (c *fakeChannel) Ready() <-chan struct{} { return c.ready }

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) push(t *testing.T, event string) {
	t.Helper()
	require.True(t, json.Valid([]byte(event)), event)
	c.inbound <- Frame{Data: []byte(event)}
}

// messages decodes everything sent so far.
func (c *fakeChannel) messages(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, raw := range c.sent {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeMic struct {
	mu      sync.Mutex
	enabled bool
	stops   int
}

func (m *fakeMic) SetEnabled(on bool) { m.mu.Lock(); m.enabled = on; m.mu.Unlock() }
func (m *fakeMic) Stop() error        { m.mu.Lock(); m.stops++; m.mu.Unlock(); return nil }

type fakePlayback struct {
	mu       sync.Mutex
	muted    bool
	detaches int
}

func (p *fakePlayback) SetMuted(on bool) { p.mu.Lock(); p.muted = on; p.mu.Unlock() }
func (p *fakePlayback) Detach() error    { p.mu.Lock(); p.detaches++; p.mu.Unlock(); return nil }

type fakePeer struct {
	mu     sync.Mutex
	closes int
}

func (p *fakePeer) Close() error { p.mu.Lock(); p.closes++; p.mu.Unlock(); return nil }

func (p *fakePeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

type fakeLink struct {
	channel  *fakeChannel
	mic      *fakeMic
	playback *fakePlayback
	peer     *fakePeer
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		channel:  newFakeChannel(),
		mic:      &fakeMic{},
		playback: &fakePlayback{muted: true},
		peer:     &fakePeer{},
	}
}

func (l *fakeLink) link() *Link {
	return &Link{Peer: l.peer, Channel: l.channel, Mic: l.mic, Playback: l.playback}
}

// fakeDialer hands out link. With gate set it blocks until gate is closed,
// ignoring cancellation, to model a handshake that completes late.
type fakeDialer struct {
	link    *fakeLink
	err     error
	gate    chan struct{}
	started chan struct{}

	mu   sync.Mutex
	reqs []DialRequest
}

func (d *fakeDialer) Dial(_ context.Context, req DialRequest) (*Link, error) {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	d.mu.Unlock()
	if d.started != nil {
		close(d.started)
	}
	if d.gate != nil {
		<-d.gate
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.link.link(), nil
}

type searchCall struct {
	Query string
	TopK  int
}

type fakeSearcher struct {
	mu    sync.Mutex
	calls []searchCall
	reply *brokerapi.SearchResponse
	err   error
}

func (s *fakeSearcher) Search(_ context.Context, query string, topK int) (*brokerapi.SearchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, searchCall{Query: query, TopK: topK})
	return s.reply, s.err
}

func (s *fakeSearcher) searches() []searchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]searchCall(nil), s.calls...)
}

func audioItemCreated() string {
	return `{"type":"conversation.item.created","item":{"id":"item_1","type":"message","role":"user","content":[{"type":"input_audio","transcript":null}]}}`
}

func event(typ string, kv ...string) string {
	m := map[string]string{"type": typ}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	b, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprint(err))
	}
	return string(b)
}
