package ui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxchat/internal/brokerapi"
	"voxchat/internal/db"
	"voxchat/internal/presenter"
	"voxchat/internal/realtime"
)

type stubRenderer struct{}

func (stubRenderer) Render(in string) (string, error) { return "MD(" + in + ")\n", nil }

type stubChannel struct {
	in    chan realtime.Frame
	ready chan struct{}
	once  sync.Once
}

func newStubChannel() *stubChannel {
	return &stubChannel{in: make(chan realtime.Frame), ready: make(chan struct{})}
}

func (c *stubChannel) Send([]byte) error               { return nil }
func (c *stubChannel) Inbound() <-chan realtime.Frame { return c.in }
func (c *stubChannel) Ready() <-chan struct{}         { return c.ready }
func (c *stubChannel) Close() error {
	c.once.Do(func() { close(c.in) })
	return nil
}

type stubDialer struct {
	mu   sync.Mutex
	reqs []realtime.DialRequest
}

func (d *stubDialer) Dial(ctx context.Context, req realtime.DialRequest) (*realtime.Link, error) {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	d.mu.Unlock()
	return &realtime.Link{Channel: newStubChannel()}, nil
}

func openStore(t *testing.T) *db.Store {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	store, err := db.Open()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestModel(t *testing.T, opts Options) Model {
	t.Helper()
	opts.Logger = zerolog.Nop()
	if opts.Broker == nil {
		opts.Broker = brokerapi.NewClient("http://127.0.0.1:0")
	}
	m := New(opts)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return updated.(Model)
}

func submit(t *testing.T, m Model, line string) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.submit(line)
	return updated.(Model), cmd
}

func TestRenderTurns(t *testing.T) {
	created := time.Date(2026, 5, 1, 9, 15, 0, 0, time.UTC)
	turns := []presenter.Turn{
		{ID: "msg-0", Role: presenter.RoleUser, Kind: presenter.KindVoice, Text: presenter.ListeningText, Loading: true, CreatedAt: created},
		{ID: "msg-1", Role: presenter.RoleAssistant, Kind: presenter.KindSearch, Text: presenter.SearchingText, Loading: true, CreatedAt: created},
		{ID: "msg-2", Role: presenter.RoleAssistant, Kind: presenter.KindText, Text: "**bold** answer", CreatedAt: created},
		{ID: "msg-3", Role: presenter.RoleUser, Kind: presenter.KindText, Text: "line one\nline two", CreatedAt: created},
	}

	out := RenderTurns(turns, "*", stubRenderer{})

	assert.Contains(t, out, "[09:15] You 🎤: *")
	assert.Contains(t, out, presenter.ListeningText)
	assert.Contains(t, out, "Knowledge base")
	assert.Contains(t, out, "MD(**bold** answer)")
	assert.Contains(t, out, "  line one\n  line two")
}

func TestRenderTurns_Empty(t *testing.T) {
	assert.Contains(t, RenderTurns(nil, "", nil), "/connect")
}

func TestRenderTurns_StreamingAssistantIsPlain(t *testing.T) {
	turns := []presenter.Turn{{Role: presenter.RoleAssistant, Kind: presenter.KindText, Loading: true}}
	out := RenderTurns(turns, "", stubRenderer{})
	assert.NotContains(t, out, "MD(")
}

func TestModel_TextWhileDisconnected(t *testing.T) {
	m := newTestModel(t, Options{})

	m, cmd := submit(t, m, "hello there")
	assert.Nil(t, cmd)
	assert.True(t, m.noticeErr)
	assert.Contains(t, m.notice, "/connect")
	assert.Zero(t, m.binder.Transcript().Len(), "nothing is shown for an unsent message")
}

func TestModel_ModelAndVoiceSelection(t *testing.T) {
	m := newTestModel(t, Options{})

	m, _ = submit(t, m, "/model "+brokerapi.Models[0])
	assert.Equal(t, brokerapi.Models[0], m.model)
	assert.False(t, m.noticeErr)

	m, _ = submit(t, m, "/model not-a-model")
	assert.Equal(t, brokerapi.Models[0], m.model)
	assert.True(t, m.noticeErr)

	m, _ = submit(t, m, "/voice "+strings.ToUpper(brokerapi.Voices[0]))
	assert.Equal(t, brokerapi.Voices[0], m.voice)

	m, _ = submit(t, m, "/voice robot")
	assert.True(t, m.noticeErr)
}

func TestModel_RAGFollowsBrokerAvailability(t *testing.T) {
	m := newTestModel(t, Options{UseRAG: true})

	m = m.applyConfig(ConfigLoadedMsg{Config: &brokerapi.ConfigSummary{
		Models: brokerapi.Models, Voices: brokerapi.Voices, RAGEnabled: false,
	}})
	assert.False(t, m.useRAG)
	assert.Equal(t, brokerapi.Models[0], m.model)
	assert.Equal(t, brokerapi.Voices[0], m.voice)

	m, _ = submit(t, m, "/rag on")
	assert.False(t, m.useRAG)
	assert.True(t, m.noticeErr)

	m.config.RAGEnabled = true
	m, _ = submit(t, m, "/rag")
	assert.True(t, m.useRAG)
	m, _ = submit(t, m, "/rag off")
	assert.False(t, m.useRAG)
}

func TestModel_ConfigFailure(t *testing.T) {
	broker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(brokerapi.ErrorBody{Error: "Configuration error", Message: "openai api key is not set"})
	}))
	defer broker.Close()

	m := newTestModel(t, Options{Broker: brokerapi.NewClient(broker.URL)})
	msg := m.fetchConfig()()
	m = m.applyConfig(msg.(ConfigLoadedMsg))

	assert.True(t, m.noticeErr)
	assert.Contains(t, m.notice, "openai api key is not set")
}

func TestModel_ConnectArchivesSession(t *testing.T) {
	broker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/session", r.URL.Path)
		var req brokerapi.SessionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"client_secret": map[string]any{"value": "ek_test", "expires_at": 1},
			"model":         req.Model,
			"voice":         req.Voice,
			"useRag":        false,
		})
	}))
	defer broker.Close()

	store := openStore(t)
	dialer := &stubDialer{}
	m := newTestModel(t, Options{
		Broker:    brokerapi.NewClient(broker.URL),
		Dialer:    dialer,
		Store:     store,
		ExportDir: t.TempDir(),
		Model:     brokerapi.Models[0],
		Voice:     "alloy",
		UseRAG:    true,
	})

	m, cmd := submit(t, m, "/connect")
	require.NotNil(t, cmd)
	status, _ := m.binder.Status()
	assert.Equal(t, presenter.StatusConnecting, status)

	result := cmd().(ConnectResultMsg)
	require.NoError(t, result.Err)
	m = m.connectDone(result)

	assert.True(t, m.ctrl.Connected())
	assert.Contains(t, m.notice, "knowledge base unavailable")
	require.Len(t, dialer.reqs, 1)
	assert.Equal(t, "ek_test", dialer.reqs[0].Secret)

	sess, err := store.GetSession(result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "active", sess.Status)
	assert.False(t, sess.UseRAG)

	m, _ = submit(t, m, "what is covered?")
	turns, err := store.GetTurns(result.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "what is covered?", turns[0].Content)

	m, _ = submit(t, m, "/disconnect")
	assert.False(t, m.ctrl.Connected())
	sess, err = store.GetSession(result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "closed", sess.Status)

	exported := m.exportCurrent()().(ExportedMsg)
	require.NoError(t, exported.Err)
	assert.Contains(t, exported.Path, "transcripts")
}

func TestModel_ConnectBrokerRejects(t *testing.T) {
	broker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(brokerapi.ErrorBody{Error: "Invalid voice", Message: "voice must be one of the allowed voices"})
	}))
	defer broker.Close()

	m := newTestModel(t, Options{Broker: brokerapi.NewClient(broker.URL), Dialer: &stubDialer{}, Model: brokerapi.Models[0], Voice: "alloy"})
	m, cmd := submit(t, m, "/connect")
	m = m.connectDone(cmd().(ConnectResultMsg))

	status, lastErr := m.binder.Status()
	assert.Equal(t, presenter.StatusError, status)
	assert.Equal(t, "voice must be one of the allowed voices", lastErr)
	assert.False(t, m.ctrl.Connected())
}

func TestModel_ExportWithoutSession(t *testing.T) {
	m := newTestModel(t, Options{})
	msg := m.exportCurrent()().(ExportedMsg)
	assert.Error(t, msg.Err)
}

func TestModel_HistoryOverlay(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.CreateSession("11111111-aaaa", brokerapi.Models[0], "alloy", false))
	_, err := store.AddTurn("11111111-aaaa", "user", "archived question", "text")
	require.NoError(t, err)

	m := newTestModel(t, Options{Store: store})
	m, _ = submit(t, m, "/history")
	require.Equal(t, ViewHistory, m.mode)
	assert.Contains(t, m.View(), "11111111")

	updated, cmd := m.handleKey(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	require.NotNil(t, cmd)

	updated, _ = m.Update(cmd())
	m = updated.(Model)
	assert.Equal(t, ViewArchived, m.mode)

	updated, _ = m.handleKey(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ViewHistory, updated.(Model).mode)
}

func TestModel_HistoryWithoutStore(t *testing.T) {
	m := newTestModel(t, Options{})
	m, _ = submit(t, m, "/history")
	assert.Equal(t, ViewNormal, m.mode)
	assert.True(t, m.noticeErr)
}

func TestModel_ClearKeepsIDsMoving(t *testing.T) {
	m := newTestModel(t, Options{})
	m.binder.UserText("first")
	m, _ = submit(t, m, "/clear")
	assert.Zero(t, m.binder.Transcript().Len())
	assert.Equal(t, "msg-1", m.binder.UserText("second"))
}

func TestHistoryState_Navigation(t *testing.T) {
	h := NewHistoryState()
	h.sessions = []db.Session{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	h.maxHeight = 2

	h.Up()
	assert.Equal(t, "a", h.Selected().ID)
	h.Down()
	h.Down()
	assert.Equal(t, "c", h.Selected().ID)
	assert.Equal(t, 1, h.scrollTop)
	h.Down()
	assert.Equal(t, "c", h.Selected().ID)
	h.Up()
	h.Up()
	assert.Equal(t, 0, h.scrollTop)
}
