package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxchat/internal/brokerapi"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var testParams = SessionParams{Secret: "ek_test", Model: "gpt-realtime-2025-08-28", Voice: "verse"}

type controllerHarness struct {
	ctl      *Controller
	rec      *recorder
	link     *fakeLink
	dialer   *fakeDialer
	searcher *fakeSearcher
}

func newControllerHarness(t *testing.T) *controllerHarness {
	t.Helper()
	h := &controllerHarness{
		rec:      &recorder{},
		link:     newFakeLink(),
		searcher: &fakeSearcher{reply: &brokerapi.SearchResponse{Results: []brokerapi.Result{{Summary: "found"}}}},
	}
	h.dialer = &fakeDialer{link: h.link}
	h.ctl = New(Options{Dialer: h.dialer, Searcher: h.searcher, Handler: h.rec, Logger: zerolog.Nop()})
	t.Cleanup(h.ctl.Disconnect)
	return h
}

func (h *controllerHarness) connect(t *testing.T, params SessionParams) {
	t.Helper()
	require.NoError(t, h.ctl.Connect(context.Background(), params))
}

func (h *controllerHarness) waitSent(t *testing.T, n int) []map[string]any {
	t.Helper()
	require.Eventually(t, func() bool { return h.link.channel.sentCount() >= n }, waitFor, tick)
	return h.link.channel.messages(t)
}

func TestController_ConnectEmitsConnectedAndSetsUpOnReady(t *testing.T) {
	h := newControllerHarness(t)
	h.connect(t, SessionParams{Secret: "ek_test", Model: "gpt-realtime-2025-08-28", Voice: "verse", UseRAG: true})

	assert.True(t, h.ctl.Connected())
	assert.Equal(t, []string{"lifecycle:connected"}, h.rec.snapshot())
	assert.Equal(t, []DialRequest{{Secret: "ek_test", Model: "gpt-realtime-2025-08-28"}}, h.dialer.reqs)
	assert.Zero(t, h.link.channel.sentCount(), "nothing is sent before the channel opens")

	close(h.link.channel.ready)
	msgs := h.waitSent(t, 2)
	require.Len(t, msgs, 2)
	assert.Equal(t, "session.update", msgs[0]["type"])
	assert.Contains(t, msgs[0]["session"], "input_audio_transcription")
	assert.Contains(t, msgs[1]["session"], "tools")
}

func TestController_ConnectTwice(t *testing.T) {
	h := newControllerHarness(t)
	h.connect(t, testParams)

	err := h.ctl.Connect(context.Background(), testParams)
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestController_DialFailure(t *testing.T) {
	h := newControllerHarness(t)
	h.dialer.err = &HandshakeError{Status: 401, Body: "bad secret"}

	err := h.ctl.Connect(context.Background(), testParams)
	require.Error(t, err)
	var he *HandshakeError
	assert.ErrorAs(t, err, &he)
	assert.False(t, h.ctl.Connected())
	assert.Equal(t, []string{"lifecycle:failed:handshake rejected: 401 bad secret"}, h.rec.snapshot())

	h.dialer.err = nil
	h.connect(t, testParams)
	assert.True(t, h.ctl.Connected())
}

func TestController_StaleHandshakeNeverConnects(t *testing.T) {
	h := newControllerHarness(t)
	h.dialer.gate = make(chan struct{})
	h.dialer.started = make(chan struct{})

	result := make(chan error, 1)
	go func() { result <- h.ctl.Connect(context.Background(), testParams) }()

	<-h.dialer.started
	h.ctl.Disconnect()
	close(h.dialer.gate)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(waitFor):
		t.Fatal("Connect did not return")
	}
	assert.False(t, h.ctl.Connected())
	assert.Empty(t, h.rec.snapshot(), "an aborted connect fires no callbacks")
	assert.Equal(t, 1, h.link.channel.closeCount())
	assert.Equal(t, 1, h.link.peer.count())
}

func TestController_DisconnectDuringConnectedCallback(t *testing.T) {
	h := newControllerHarness(t)
	h.rec.onLifecycle = func(ev LifecycleEvent) {
		if ev.Kind != Connected {
			return
		}
		done := make(chan struct{})
		go func() {
			h.ctl.Disconnect()
			close(done)
		}()
		<-done
	}

	require.NoError(t, h.ctl.Connect(context.Background(), testParams))
	assert.Equal(t, []string{"lifecycle:connected", "lifecycle:disconnected"}, h.rec.snapshot())
	assert.False(t, h.ctl.Connected())
	assert.Equal(t, 1, h.link.channel.closeCount())
}

func TestController_SendText(t *testing.T) {
	h := newControllerHarness(t)
	h.connect(t, testParams)

	h.ctl.SendText("hello there")
	msgs := h.link.channel.messages(t)
	require.Len(t, msgs, 2)

	assert.Equal(t, "conversation.item.create", msgs[0]["type"])
	item := msgs[0]["item"].(map[string]any)
	assert.Equal(t, "message", item["type"])
	assert.Equal(t, "user", item["role"])
	assert.Equal(t, []any{map[string]any{"type": "input_text", "text": "hello there"}}, item["content"])

	assert.Equal(t, "response.create", msgs[1]["type"])
	resp := msgs[1]["response"].(map[string]any)
	assert.Equal(t, []any{"text", "audio"}, resp["modalities"])
	assert.NotContains(t, resp, "tool_choice")
}

func TestController_SendTextWithRAGForcesSearch(t *testing.T) {
	h := newControllerHarness(t)
	params := testParams
	params.UseRAG = true
	h.connect(t, params)

	h.ctl.SendText("what is triage")
	msgs := h.link.channel.messages(t)
	require.Len(t, msgs, 2)
	resp := msgs[1]["response"].(map[string]any)
	assert.Equal(t, "required", resp["tool_choice"])
	assert.Equal(t, ragInstructions, resp["instructions"])
}

func TestController_SendTextErrors(t *testing.T) {
	h := newControllerHarness(t)

	h.ctl.SendText("nobody listening")
	assert.Equal(t, []string{"lifecycle:failed:" + ErrNotConnected.Error()}, h.rec.snapshot())

	h.connect(t, testParams)
	h.link.channel.err = errors.New("channel closed")
	h.ctl.SendText("lost")
	events := h.rec.snapshot()
	assert.Contains(t, events[len(events)-1], "lifecycle:failed:failed to send message")
}

func TestController_InboundEventsReachHandler(t *testing.T) {
	h := newControllerHarness(t)
	h.connect(t, testParams)

	h.link.channel.push(t, audioItemCreated())
	h.link.channel.push(t, event(evResponseCreated))
	h.link.channel.push(t, event(evResponseTranscriptDelta, "delta", "Sure"))
	h.link.channel.push(t, event(evTranscriptionCompleted, "transcript", "can you help"))
	h.link.channel.push(t, event(evResponseTranscriptDone, "transcript", "Sure"))

	require.Eventually(t, func() bool { return h.rec.count("response:done:Sure") == 1 }, waitFor, tick)
	assert.Equal(t, []string{
		"lifecycle:connected",
		"transcript:pending",
		"transcript:completed:can you help",
		"response:started",
		"response:delta:Sure",
		"response:done:Sure",
	}, h.rec.snapshot())
}

func TestController_ChannelErrorIsReported(t *testing.T) {
	h := newControllerHarness(t)
	h.connect(t, testParams)

	h.link.channel.inbound <- Frame{Err: errors.New("sctp reset")}
	require.Eventually(t, func() bool {
		return h.rec.count("lifecycle:failed:event channel error: sctp reset") == 1
	}, waitFor, tick)
	assert.True(t, h.ctl.Connected())
}

func pushToolCall(t *testing.T, ch *fakeChannel, callID, name, args string) {
	t.Helper()
	ch.push(t, event(evFunctionArgsDelta, "delta", args[:len(args)/2]))
	ch.push(t, event(evFunctionArgsDelta, "delta", args[len(args)/2:]))
	ch.push(t, event(evFunctionArgsDone, "call_id", callID, "name", name))
}

func assertToolAnswer(t *testing.T, msgs []map[string]any, callID string) map[string]any {
	t.Helper()
	require.Len(t, msgs, 2)
	assert.Equal(t, "conversation.item.create", msgs[0]["type"])
	item := msgs[0]["item"].(map[string]any)
	assert.Equal(t, "function_call_output", item["type"])
	assert.Equal(t, callID, item["call_id"])
	assert.Equal(t, map[string]any{"type": "response.create"}, msgs[1])

	var output map[string]any
	require.NoError(t, json.Unmarshal([]byte(item["output"].(string)), &output))
	return output
}

func TestController_ToolRoundTrip(t *testing.T) {
	h := newControllerHarness(t)
	h.connect(t, testParams)

	pushToolCall(t, h.link.channel, "call_7", ToolKBSearch, `{"query":"cardiac arrest","top_k":3}`)
	msgs := h.waitSent(t, 2)
	output := assertToolAnswer(t, msgs, "call_7")

	assert.Equal(t, []searchCall{{Query: "cardiac arrest", TopK: 3}}, h.searcher.searches())
	results := output["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "found", results[0].(map[string]any)["summary"])

	require.Eventually(t, func() bool { return h.rec.count("tool:finished:cardiac arrest") == 1 }, waitFor, tick)
	assert.Equal(t, 1, h.rec.count("tool:started:cardiac arrest"))
	h.rec.mu.Lock()
	finished := h.rec.tools[len(h.rec.tools)-1]
	h.rec.mu.Unlock()
	assert.Equal(t, 1, finished.Results)
	assert.Empty(t, finished.Error)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, h.link.channel.sentCount(), "exactly one output/resume pair")
}

func TestController_ToolSearchFailure(t *testing.T) {
	h := newControllerHarness(t)
	h.searcher.err = &brokerapi.APIError{Status: 500, Body: brokerapi.ErrorBody{Error: "KB Search failed", Message: "upstream down"}}
	h.connect(t, testParams)

	pushToolCall(t, h.link.channel, "call_8", ToolKBSearch, `{"query":"sepsis"}`)
	output := assertToolAnswer(t, h.waitSent(t, 2), "call_8")

	assert.Equal(t, map[string]any{"error": "upstream down", "results": []any{}}, output)
	assert.Equal(t, []searchCall{{Query: "sepsis", TopK: 5}}, h.searcher.searches())
}

func TestController_UnknownToolNeverSearches(t *testing.T) {
	h := newControllerHarness(t)
	h.connect(t, testParams)

	pushToolCall(t, h.link.channel, "call_9", "web_search", `{"query":"weather"}`)
	output := assertToolAnswer(t, h.waitSent(t, 2), "call_9")

	assert.Equal(t, map[string]any{"error": "unsupported tool"}, output)
	assert.Empty(t, h.searcher.searches())
	assert.Zero(t, h.rec.count("tool:started:weather"))
}

func TestController_BadToolArgumentsAreAnswered(t *testing.T) {
	h := newControllerHarness(t)
	h.connect(t, testParams)

	pushToolCall(t, h.link.channel, "call_10", ToolKBSearch, `{"top_k":2}`)
	output := assertToolAnswer(t, h.waitSent(t, 2), "call_10")

	assert.Contains(t, output["error"], "no query")
	assert.Equal(t, []any{}, output["results"])
	assert.Empty(t, h.searcher.searches())
}

func TestController_VoiceMode(t *testing.T) {
	h := newControllerHarness(t)
	h.connect(t, testParams)

	h.ctl.EnableVoiceMode()
	assert.True(t, h.link.mic.enabled)
	assert.False(t, h.link.playback.muted)
	h.ctl.EnableVoiceMode()

	h.ctl.DisableVoiceMode()
	assert.False(t, h.link.mic.enabled)
	assert.True(t, h.link.playback.muted)
	h.ctl.DisableVoiceMode()

	msgs := h.link.channel.messages(t)
	require.Len(t, msgs, 2, "repeated identical toggles send nothing")
	assert.Equal(t, map[string]any{"modalities": []any{"text", "audio"}, "voice": "verse"}, msgs[0]["session"])
	assert.Equal(t, map[string]any{"modalities": []any{"text"}, "voice": "verse"}, msgs[1]["session"])
}

func TestController_FirstDisableStillApplies(t *testing.T) {
	h := newControllerHarness(t)
	h.connect(t, testParams)

	h.ctl.DisableVoiceMode()
	msgs := h.link.channel.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]any{"modalities": []any{"text"}, "voice": "verse"}, msgs[0]["session"])
}

func TestController_DisconnectIsIdempotent(t *testing.T) {
	h := newControllerHarness(t)
	h.connect(t, testParams)

	h.ctl.Disconnect()
	h.ctl.Disconnect()

	assert.False(t, h.ctl.Connected())
	assert.Equal(t, 1, h.link.channel.closeCount())
	assert.Equal(t, 1, h.link.peer.count())
	assert.Equal(t, 1, h.link.mic.stops)
	assert.Equal(t, 1, h.link.playback.detaches)
	assert.Equal(t, 1, h.rec.count("lifecycle:disconnected"))
}

func TestController_DisconnectFromDisconnectedCallback(t *testing.T) {
	h := newControllerHarness(t)
	calls := 0
	h.rec.onLifecycle = func(ev LifecycleEvent) {
		if ev.Kind == Disconnected {
			calls++
			h.ctl.Disconnect()
		}
	}
	h.connect(t, testParams)

	done := make(chan struct{})
	go func() {
		h.ctl.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Disconnect inside the disconnected callback deadlocked")
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, h.link.channel.closeCount())
}

func TestController_RemoteCloseTearsDown(t *testing.T) {
	h := newControllerHarness(t)
	h.connect(t, testParams)

	close(h.link.channel.inbound)
	require.Eventually(t, func() bool { return h.rec.count("lifecycle:disconnected") == 1 }, waitFor, tick)
	assert.False(t, h.ctl.Connected())
	assert.Equal(t, 1, h.link.peer.count())

	h.ctl.Disconnect()
	assert.Equal(t, 1, h.rec.count("lifecycle:disconnected"))
	assert.Equal(t, 1, h.link.channel.closeCount())
}

func TestController_ReconnectStartsClean(t *testing.T) {
	h := newControllerHarness(t)
	h.connect(t, testParams)
	h.link.channel.push(t, audioItemCreated())
	require.Eventually(t, func() bool { return h.rec.count("transcript:pending") == 1 }, waitFor, tick)
	h.ctl.Disconnect()

	h.link = newFakeLink()
	h.dialer.link = h.link
	h.connect(t, testParams)
	h.link.channel.push(t, event(evResponseCreated))

	require.Eventually(t, func() bool { return h.rec.count("response:started") == 1 }, waitFor, tick)
}
