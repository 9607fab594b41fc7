// Package realtime owns one realtime conversation connection at a time: the
// handshake, the inbound event loop with its transcript gate, the kb_search
// tool round-trip, voice mode and teardown.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"voxchat/internal/brokerapi"
)

var (
	ErrAlreadyConnected = errors.New("realtime: already connected")
	ErrNotConnected     = errors.New("realtime: not connected")
	// ErrAborted is returned by Connect when Disconnect ran during the
	// handshake. No callbacks fire for an aborted connect.
	ErrAborted = errors.New("realtime: connect aborted")
)

// SessionParams are the per-connection choices made before Connect.
type SessionParams struct {
	Secret string
	Model  string
	Voice  string
	UseRAG bool
}

type Options struct {
	Dialer   Dialer
	Searcher Searcher
	Handler  Handler
	Logger   zerolog.Logger
}

// Controller drives at most one live connection. Connect and Disconnect
// must not overlap; SendText and the voice toggles are safe from any
// goroutine.
type Controller struct {
	dialer   Dialer
	searcher Searcher
	handler  Handler
	log      zerolog.Logger

	mu         sync.Mutex
	conn       *connection
	dialing    bool
	abortDial  bool
	cancelDial context.CancelFunc
}

func New(opts Options) *Controller {
	h := opts.Handler
	if h == nil {
		h = NopHandler{}
	}
	return &Controller{
		dialer:   opts.Dialer,
		searcher: opts.Searcher,
		handler:  h,
		log:      opts.Logger.With().Str("component", "realtime").Logger(),
	}
}

type voiceMode int

const (
	voiceUnset voiceMode = iota
	voiceOn
	voiceOff
)

// connection is one handshake's worth of state. It is never reused.
type connection struct {
	params  SessionParams
	link    *Link
	session *session
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	posts  chan func()

	sendMu sync.Mutex

	mu sync.Mutex
	// connected is set once Connected has been delivered.
	connected bool
	closed    bool
	voice     voiceMode

	teardownOnce sync.Once
}

// Connect performs the handshake and starts the event loop. Failures are
// reported through the handler and returned.
func (c *Controller) Connect(ctx context.Context, params SessionParams) error {
	c.mu.Lock()
	if c.conn != nil || c.dialing {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	dialCtx, cancel := context.WithCancel(ctx)
	c.dialing = true
	c.abortDial = false
	c.cancelDial = cancel
	c.mu.Unlock()

	log := c.log.With().Str("model", params.Model).Str("voice", params.Voice).Bool("rag", params.UseRAG).Logger()
	log.Info().Msg("connecting")

	var link *Link
	err := errors.New("no dialer configured")
	if c.dialer != nil {
		link, err = c.dialer.Dial(dialCtx, DialRequest{Secret: params.Secret, Model: params.Model})
	}

	c.mu.Lock()
	aborted := c.abortDial
	c.dialing = false
	c.abortDial = false
	c.cancelDial = nil
	var conn *connection
	if err == nil && !aborted {
		conn = c.newConnection(params, link, log)
		c.conn = conn
	}
	c.mu.Unlock()
	cancel()

	if aborted {
		if link != nil {
			closeLink(link, log)
		}
		log.Info().Msg("connect aborted by disconnect")
		return ErrAborted
	}
	if err != nil {
		log.Error().Err(err).Msg("connect failed")
		c.handler.OnLifecycle(LifecycleEvent{Kind: Failed, Message: err.Error()})
		return errors.Wrap(err, "connect")
	}

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if closed {
		return ErrAborted
	}
	log.Info().Msg("connected")
	c.handler.OnLifecycle(LifecycleEvent{Kind: Connected})

	// Disconnected is only announced after Connected. A teardown that ran
	// during the callback left it to us.
	conn.mu.Lock()
	conn.connected = true
	closed = conn.closed
	conn.mu.Unlock()
	if closed {
		c.handler.OnLifecycle(LifecycleEvent{Kind: Disconnected})
		return nil
	}

	go c.run(conn)
	return nil
}

func (c *Controller) newConnection(params SessionParams, link *Link, log zerolog.Logger) *connection {
	if link.Mic == nil {
		link.Mic = silentInput{}
	}
	if link.Playback == nil {
		link.Playback = silentOutput{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	conn := &connection{
		params: params,
		link:   link,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		posts:  make(chan func(), 16),
	}
	conn.session = &session{
		params:  params,
		handler: c.handler,
		log:     log,
		send:    conn.send,
		onTool:  func(call toolCall) { c.handleTool(conn, call) },
	}
	return conn
}

// Connected reports whether a connection is live.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Controller) current() *connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// run is the connection's event loop. Everything that touches the session
// happens here.
func (c *Controller) run(conn *connection) {
	defer conn.session.reset()

	inbound := conn.link.Channel.Inbound()
	ready := conn.link.Channel.Ready()
	for {
		select {
		case <-conn.done:
			return
		case <-ready:
			ready = nil
			conn.session.setup()
		case f, ok := <-inbound:
			if !ok {
				conn.log.Info().Msg("event channel closed by remote")
				c.release(conn)
				return
			}
			if f.Err != nil {
				conn.log.Error().Err(f.Err).Msg("event channel error")
				c.handler.OnLifecycle(LifecycleEvent{Kind: Failed, Message: "event channel error: " + f.Err.Error()})
				continue
			}
			conn.session.handle(f.Data)
		case fn := <-conn.posts:
			fn()
		}
	}
}

// SendText sends a user message and asks for a response, as one unit.
func (c *Controller) SendText(text string) {
	conn := c.current()
	if conn == nil {
		c.log.Warn().Msg("send text while disconnected")
		c.handler.OnLifecycle(LifecycleEvent{Kind: Failed, Message: ErrNotConnected.Error()})
		return
	}
	if err := conn.send(userMessage(text), responseRequest(conn.params.UseRAG)); err != nil {
		conn.log.Error().Err(err).Msg("send text")
		c.handler.OnLifecycle(LifecycleEvent{Kind: Failed, Message: "failed to send message: " + err.Error()})
		return
	}
	conn.log.Info().Int("chars", len(text)).Msg("text sent")
}

func (c *Controller) EnableVoiceMode()  { c.setVoiceMode(true) }
func (c *Controller) DisableVoiceMode() { c.setVoiceMode(false) }

func (c *Controller) setVoiceMode(on bool) {
	conn := c.current()
	if conn == nil {
		c.log.Debug().Bool("voice", on).Msg("voice mode toggle while disconnected")
		return
	}
	want := voiceOff
	if on {
		want = voiceOn
	}
	conn.mu.Lock()
	if conn.voice == want {
		conn.mu.Unlock()
		return
	}
	conn.voice = want
	conn.mu.Unlock()

	conn.link.Mic.SetEnabled(on)
	conn.link.Playback.SetMuted(!on)
	if err := conn.send(modalityUpdate(on, conn.params.Voice)); err != nil {
		conn.log.Error().Err(err).Bool("voice", on).Msg("session update for voice mode")
		return
	}
	conn.log.Info().Bool("voice", on).Msg("voice mode changed")
}

// Disconnect tears down the live connection, or aborts one being dialed.
// It is safe to call repeatedly and from inside a handler callback.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.dialing {
		c.abortDial = true
		if c.cancelDial != nil {
			c.cancelDial()
		}
	}
	c.mu.Unlock()

	if conn != nil {
		c.teardown(conn)
	}
}

// release detaches conn if it is still current and tears it down.
func (c *Controller) release(conn *connection) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	c.teardown(conn)
}

func (c *Controller) teardown(conn *connection) {
	conn.teardownOnce.Do(func() {
		conn.mu.Lock()
		conn.closed = true
		wasConnected := conn.connected
		conn.mu.Unlock()

		close(conn.done)
		conn.cancel()
		closeLink(conn.link, conn.log)
		conn.log.Info().Msg("disconnected")

		if wasConnected {
			c.handler.OnLifecycle(LifecycleEvent{Kind: Disconnected})
		}
	})
}

func closeLink(link *Link, log zerolog.Logger) {
	if link.Mic != nil {
		if err := link.Mic.Stop(); err != nil {
			log.Warn().Err(err).Msg("stop microphone")
		}
	}
	if link.Channel != nil {
		if err := link.Channel.Close(); err != nil {
			log.Warn().Err(err).Msg("close event channel")
		}
	}
	if link.Peer != nil {
		if err := link.Peer.Close(); err != nil {
			log.Warn().Err(err).Msg("close peer")
		}
	}
	if link.Playback != nil {
		if err := link.Playback.Detach(); err != nil {
			log.Warn().Err(err).Msg("detach playback")
		}
	}
}

// send marshals msgs and writes them with no other send in between.
func (conn *connection) send(msgs ...any) error {
	payloads := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return errors.Wrap(err, "marshal client event")
		}
		payloads = append(payloads, b)
	}

	conn.sendMu.Lock()
	defer conn.sendMu.Unlock()
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if closed {
		return ErrNotConnected
	}
	for _, p := range payloads {
		if err := conn.link.Channel.Send(p); err != nil {
			return errors.Wrap(err, "send client event")
		}
	}
	return nil
}

// post runs fn on the event loop. It is dropped once the connection is gone.
func (conn *connection) post(fn func()) {
	select {
	case conn.posts <- fn:
	case <-conn.done:
	}
}

// handleTool answers one completed tool call. It runs on the event loop;
// the search itself runs on its own goroutine.
func (c *Controller) handleTool(conn *connection, call toolCall) {
	log := conn.log.With().Str("call_id", call.CallID).Str("tool", call.Name).Logger()

	if call.Name != ToolKBSearch {
		log.Warn().Msg("unsupported tool")
		c.answerTool(conn, call.CallID, toolRejection{Error: "unsupported tool"}, log)
		return
	}
	query, topK, err := parseSearchArgs(call.Arguments)
	if err != nil {
		log.Warn().Err(err).Str("arguments", call.Arguments).Msg("bad tool arguments")
		c.answerTool(conn, call.CallID, failedSearch(err.Error()), log)
		return
	}

	log.Info().Str("query", query).Int("top_k", topK).Msg("tool call")
	c.handler.OnToolCall(ToolCallEvent{Kind: ToolCallStarted, CallID: call.CallID, Name: call.Name, Query: query, TopK: topK})

	go func() {
		finished := ToolCallEvent{Kind: ToolCallFinished, CallID: call.CallID, Name: call.Name, Query: query, TopK: topK}

		var output any
		reply, err := c.search(conn.ctx, query, topK)
		if err != nil {
			finished.Error = brokerapi.Reason(err)
			log.Error().Err(err).Msg("knowledge search failed")
			output = failedSearch(finished.Error)
		} else {
			finished.Results = len(reply.Results)
			log.Info().Int("results", finished.Results).Msg("knowledge search done")
			output = reply
		}

		c.answerTool(conn, call.CallID, output, log)
		conn.post(func() { c.handler.OnToolCall(finished) })
	}()
}

func (c *Controller) search(ctx context.Context, query string, topK int) (*brokerapi.SearchResponse, error) {
	if c.searcher == nil {
		return nil, errors.New("knowledge search is not available")
	}
	reply, err := c.searcher.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		reply = &brokerapi.SearchResponse{}
	}
	if reply.Results == nil {
		reply.Results = []brokerapi.Result{}
	}
	return reply, nil
}

// answerTool sends the tool output and the resume request back-to-back.
func (c *Controller) answerTool(conn *connection, callID string, output any, log zerolog.Logger) {
	if err := conn.send(functionOutput(callID, encodeOutput(output)), resumeResponse()); err != nil {
		log.Error().Err(err).Msg("send tool output")
		return
	}
	log.Debug().Msg("tool output sent")
}
