// Package ui is the terminal chat front end: a bubbletea program that
// renders the presenter's turns and drives the realtime controller.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"voxchat/internal/brokerapi"
	"voxchat/internal/commands"
	"voxchat/internal/db"
	"voxchat/internal/export"
	"voxchat/internal/presenter"
	"voxchat/internal/realtime"
)

const (
	configTimeout  = 15 * time.Second
	connectTimeout = 60 * time.Second
)

type Options struct {
	Broker *brokerapi.Client
	Dialer realtime.Dialer
	// Store is optional; without it nothing is archived and /export is
	// unavailable.
	Store     *db.Store
	ExportDir string
	Model     string
	Voice     string
	UseRAG    bool
	Logger    zerolog.Logger
}

// sessionHandler is the Binder plus archive bookkeeping on disconnect.
type sessionHandler struct {
	*presenter.Binder
	archive *archiver
}

func (h sessionHandler) OnLifecycle(ev realtime.LifecycleEvent) {
	if ev.Kind == realtime.Disconnected {
		h.archive.finish("closed")
	}
	h.Binder.OnLifecycle(ev)
}

type Model struct {
	broker    *brokerapi.Client
	ctrl      *realtime.Controller
	binder    *presenter.Binder
	archive   *archiver
	store     *db.Store
	exportDir string
	log       zerolog.Logger
	changes   chan struct{}

	width, height int
	ready         bool
	mode          ViewMode
	showHelp      bool

	input    textinput.Model
	spinner  spinner.Model
	convo    *ConversationView
	archived viewport.Model
	history  *HistoryState

	config    *brokerapi.ConfigSummary
	model     string
	voice     string
	useRAG    bool
	micOn     bool
	sessionID string
	notice    string
	noticeErr bool
}

func New(opts Options) Model {
	log := opts.Logger.With().Str("component", "ui").Logger()
	changes := make(chan struct{}, 1)

	archive := newArchiver(opts.Store, log)
	binder := presenter.NewBinder(presenter.NewTranscript(opts.Logger), presenter.BinderOptions{
		Logger: opts.Logger,
		OnChange: func() {
			select {
			case changes <- struct{}{}:
			default:
			}
		},
		Archive: archive.record,
	})

	ctrl := realtime.New(realtime.Options{
		Dialer:   opts.Dialer,
		Searcher: opts.Broker,
		Handler:  sessionHandler{Binder: binder, archive: archive},
		Logger:   opts.Logger,
	})

	ti := textinput.New()
	ti.Placeholder = "Type a message or /help"
	ti.Prompt = "› "
	ti.CharLimit = 4096
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(Cyan)

	return Model{
		broker:    opts.Broker,
		ctrl:      ctrl,
		binder:    binder,
		archive:   archive,
		store:     opts.Store,
		exportDir: opts.ExportDir,
		log:       log,
		changes:   changes,
		input:     ti,
		spinner:   sp,
		convo:     NewConversationView(80, 20),
		archived:  viewport.New(80, 20),
		history:   NewHistoryState(),
		model:     opts.Model,
		voice:     opts.Voice,
		useRAG:    opts.UseRAG,
	}
}

// Run starts the program and blocks until the user quits.
func Run(opts Options) error {
	m := New(opts)
	defer m.ctrl.Disconnect()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.fetchConfig(),
		waitForChange(m.changes),
	)
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return TranscriptChangedMsg{}
	}
}

func (m Model) fetchConfig() tea.Cmd {
	broker := m.broker
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), configTimeout)
		defer cancel()
		cfg, err := broker.Config(ctx)
		return ConfigLoadedMsg{Config: cfg, Err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.convo.Resize(msg.Width, m.conversationHeight())
		m.archived.Width = msg.Width
		m.archived.Height = msg.Height - 2
		m.history.SetMaxHeight(msg.Height)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.hasLoadingTurns() {
			m.refresh()
		}
		return m, cmd

	case TranscriptChangedMsg:
		if status, _ := m.binder.Status(); status == presenter.StatusDisconnected {
			m.micOn = false
		}
		m.refresh()
		return m, waitForChange(m.changes)

	case ConfigLoadedMsg:
		return m.applyConfig(msg), nil

	case ConnectResultMsg:
		return m.connectDone(msg), nil

	case HistoryLoadedMsg:
		if msg.Err != nil {
			m.setError("open session: " + msg.Err.Error())
			m.mode = ViewHistory
			return m, nil
		}
		m.archived.SetContent(renderArchived(msg.Session, m.convo.renderer))
		m.archived.GotoTop()
		m.mode = ViewArchived
		return m, nil

	case ExportedMsg:
		if msg.Err != nil {
			m.setError("export failed: " + msg.Err.Error())
		} else {
			m.setNotice("exported to " + msg.Path)
		}
		return m, nil

	case tea.MouseMsg:
		var cmd tea.Cmd
		if m.mode == ViewArchived {
			m.archived, cmd = m.archived.Update(msg)
		} else {
			m.convo.Viewport, cmd = m.convo.Viewport.Update(msg)
		}
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "ctrl+q":
		m.ctrl.Disconnect()
		return m, tea.Quit
	case "f1":
		m.showHelp = !m.showHelp
		return m, nil
	}

	if m.showHelp {
		if msg.String() == "esc" || msg.String() == "?" {
			m.showHelp = false
		}
		return m, nil
	}

	switch m.mode {
	case ViewHistory:
		switch msg.String() {
		case "up", "k":
			m.history.Up()
		case "down", "j":
			m.history.Down()
		case "enter":
			if sel := m.history.Selected(); sel != nil {
				return m, m.loadArchived(sel.ID)
			}
		case "esc":
			m.mode = ViewNormal
		}
		return m, nil

	case ViewArchived:
		if msg.String() == "esc" {
			m.mode = ViewHistory
			return m, nil
		}
		var cmd tea.Cmd
		m.archived, cmd = m.archived.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "?":
		if m.input.Value() == "" {
			m.showHelp = true
			return m, nil
		}
	case "alt+h":
		m.openHistory()
		return m, nil
	case "ctrl+t":
		m.toggleMic()
		return m, nil
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.convo.Viewport, cmd = m.convo.Viewport.Update(msg)
		return m, cmd
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		m.input.SetValue("")
		if text == "" {
			return m, nil
		}
		return m.submit(text)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles one entered line: a slash command or a message.
func (m Model) submit(text string) (tea.Model, tea.Cmd) {
	cmd := commands.Parse(text)
	if cmd == nil {
		if !m.ctrl.Connected() {
			m.setError("not connected, use /connect first")
			return m, nil
		}
		m.binder.UserText(text)
		m.ctrl.SendText(text)
		m.notice = ""
		return m, nil
	}

	switch c := cmd.(type) {
	case commands.Help:
		m.showHelp = true

	case commands.Connect:
		if status, _ := m.binder.Status(); status == presenter.StatusConnecting || m.ctrl.Connected() {
			m.setNotice("already connected")
			return m, nil
		}
		m.binder.SetConnecting()
		m.setNotice(fmt.Sprintf("connecting to %s (%s)…", m.model, m.voice))
		return m, m.connect()

	case commands.Disconnect:
		m.ctrl.Disconnect()
		m.micOn = false
		m.setNotice("disconnected")

	case commands.ToggleMic:
		m.toggleMic()

	case commands.SetModel:
		if !contains(m.configModels(), c.Model) {
			m.setError(fmt.Sprintf("unknown model %q (choose from %s)", c.Model, strings.Join(m.configModels(), ", ")))
			return m, nil
		}
		m.model = c.Model
		m.setNotice("model set to " + c.Model + m.nextConnectionHint())

	case commands.SetVoice:
		if !contains(m.configVoices(), c.Voice) {
			m.setError(fmt.Sprintf("unknown voice %q (choose from %s)", c.Voice, strings.Join(m.configVoices(), ", ")))
			return m, nil
		}
		m.voice = c.Voice
		m.setNotice("voice set to " + c.Voice + m.nextConnectionHint())

	case commands.SetRAG:
		want := c.Enabled
		if c.Toggle {
			want = !m.useRAG
		}
		if want && m.config != nil && !m.config.RAGEnabled {
			m.setError("the broker has no knowledge base configured")
			return m, nil
		}
		m.useRAG = want
		m.setNotice(fmt.Sprintf("knowledge base %s%s", onOff(want), m.nextConnectionHint()))

	case commands.ShowHistory:
		m.openHistory()

	case commands.Export:
		return m, m.exportCurrent()

	case commands.Clear:
		m.binder.Transcript().Clear()
		m.refresh()

	case commands.Quit:
		m.ctrl.Disconnect()
		return m, tea.Quit

	case commands.ParseError:
		m.setError(c.Message)
	}
	return m, nil
}

func (m Model) connect() tea.Cmd {
	broker, ctrl, archive := m.broker, m.ctrl, m.archive
	req := brokerapi.SessionRequest{Model: m.model, Voice: m.voice, UseRAG: m.useRAG}
	log := m.log

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		resp, err := broker.CreateSession(ctx, req)
		if err != nil {
			return ConnectResultMsg{Err: errors.New(brokerapi.Reason(err))}
		}
		secret, err := resp.Secret()
		if err != nil {
			return ConnectResultMsg{Err: errors.Wrap(err, "session")}
		}

		id := uuid.NewString()
		archive.start(id, resp.Model, resp.Voice, resp.UseRAG)
		log.Info().Str("session", id).Str("model", resp.Model).Bool("rag", resp.UseRAG).Msg("session created")

		err = ctrl.Connect(ctx, realtime.SessionParams{
			Secret: secret.Value,
			Model:  resp.Model,
			Voice:  resp.Voice,
			UseRAG: resp.UseRAG,
		})
		if err != nil {
			status := "failed"
			if errors.Is(err, realtime.ErrAborted) {
				status = "closed"
			}
			archive.finish(status)
			return ConnectResultMsg{SessionID: id, Err: err}
		}
		return ConnectResultMsg{SessionID: id, Model: resp.Model, Voice: resp.Voice, UseRAG: resp.UseRAG}
	}
}

func (m Model) connectDone(msg ConnectResultMsg) Model {
	if msg.Err != nil {
		if errors.Is(msg.Err, realtime.ErrAborted) {
			m.setNotice("connect cancelled")
			return m
		}
		m.binder.SetError(msg.Err.Error())
		m.notice = ""
		return m
	}
	m.sessionID = msg.SessionID
	notice := fmt.Sprintf("connected: %s, voice %s", msg.Model, msg.Voice)
	if m.useRAG && !msg.UseRAG {
		notice += " (knowledge base unavailable)"
	}
	m.setNotice(notice)
	return m
}

func (m Model) applyConfig(msg ConfigLoadedMsg) Model {
	if msg.Err != nil {
		m.log.Error().Err(msg.Err).Msg("fetch broker config")
		m.setError("broker unavailable: " + brokerapi.Reason(msg.Err))
		return m
	}
	m.config = msg.Config
	if m.model == "" && len(msg.Config.Models) > 0 {
		m.model = msg.Config.Models[0]
	}
	if m.voice == "" && len(msg.Config.Voices) > 0 {
		m.voice = msg.Config.Voices[0]
	}
	if !msg.Config.RAGEnabled {
		m.useRAG = false
	}
	m.setNotice("broker ready, /connect to start")
	return m
}

func (m *Model) toggleMic() {
	if !m.ctrl.Connected() {
		m.setError("not connected, use /connect first")
		return
	}
	m.micOn = !m.micOn
	if m.micOn {
		m.ctrl.EnableVoiceMode()
	} else {
		m.ctrl.DisableVoiceMode()
	}
	m.setNotice("voice mode " + onOff(m.micOn))
}

func (m *Model) openHistory() {
	if err := m.history.LoadSessions(m.store); err != nil {
		m.setError("history: " + err.Error())
		return
	}
	m.mode = ViewHistory
}

func (m Model) loadArchived(id string) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		s, err := LoadArchived(store, id)
		return HistoryLoadedMsg{Session: s, Err: err}
	}
}

func (m Model) exportCurrent() tea.Cmd {
	id := m.sessionID
	if id == "" {
		id = m.archive.current()
	}
	store, dir := m.store, m.exportDir
	return func() tea.Msg {
		if id == "" {
			return ExportedMsg{Err: errors.New("no session to export yet")}
		}
		s, err := LoadArchived(store, id)
		if err != nil {
			return ExportedMsg{Err: err}
		}
		path, err := export.WriteSession(s, dir)
		return ExportedMsg{Path: path, Err: err}
	}
}

func (m *Model) setNotice(text string) {
	m.notice = text
	m.noticeErr = false
}

func (m *Model) setError(text string) {
	m.notice = text
	m.noticeErr = true
}

func (m Model) configModels() []string {
	if m.config != nil && len(m.config.Models) > 0 {
		return m.config.Models
	}
	return brokerapi.Models
}

func (m Model) configVoices() []string {
	if m.config != nil && len(m.config.Voices) > 0 {
		return m.config.Voices
	}
	return brokerapi.Voices
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (m Model) nextConnectionHint() string {
	if m.ctrl.Connected() {
		return " (applies to the next /connect)"
	}
	return ""
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (m Model) conversationHeight() int {
	h := m.height - 5 // title, status bar, bordered input
	if h < 3 {
		h = 3
	}
	return h
}

func (m Model) hasLoadingTurns() bool {
	if status, _ := m.binder.Status(); status == presenter.StatusConnecting {
		return true
	}
	for _, t := range m.binder.Transcript().Turns() {
		if t.Loading {
			return true
		}
	}
	return false
}

func (m Model) refresh() {
	m.convo.Update(m.binder.Transcript().Turns(), m.spinner.View())
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	switch m.mode {
	case ViewHistory:
		return m.history.Render(m.width, m.height)
	case ViewArchived:
		footer := DimStyle.Render("Up/Down/PgUp/PgDn: Scroll | Esc: Back to history")
		return lipgloss.JoinVertical(lipgloss.Left, m.archived.View(), footer)
	}

	title := TitleStyle.Render("VOXCHAT") + " " + DimStyle.Render("realtime voice + text chat")
	input := InputBox.Width(m.width - 2).Render(m.input.View())
	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.convo.Viewport.View(),
		m.renderStatusBar(),
		input,
	)
}

func (m Model) renderStatusBar() string {
	status, lastErr := m.binder.Status()

	parts := []string{statusIndicator(status) + " " + status.String()}
	if m.model != "" {
		parts = append(parts, m.model)
	}
	if m.voice != "" {
		parts = append(parts, m.voice)
	}
	parts = append(parts, "rag "+onOff(m.useRAG), "mic "+onOff(m.micOn))
	left := strings.Join(parts, " · ")

	var right string
	switch {
	case status == presenter.StatusError && lastErr != "":
		right = ErrorStyle.Render(lastErr)
	case m.notice != "" && m.noticeErr:
		right = ErrorStyle.Render(m.notice)
	case m.notice != "":
		right = NoticeStyle.Render(m.notice)
	}

	line := left
	if right != "" {
		line += "  " + right
	}
	return StatusBarStyle.Width(m.width).MaxHeight(1).Render(line)
}
