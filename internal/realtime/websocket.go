package realtime

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const DefaultWebSocketURL = "wss://api.openai.com/v1/realtime"

// WebSocketDialer opens an events-only connection. There is no media path,
// so voice mode toggles reach the remote session but no audio flows.
type WebSocketDialer struct {
	URL    string
	Dialer *websocket.Dialer
	Logger zerolog.Logger
}

func (d *WebSocketDialer) Dial(ctx context.Context, req DialRequest) (*Link, error) {
	endpoint := d.URL
	if endpoint == "" {
		endpoint = DefaultWebSocketURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "parse websocket url")
	}
	q := u.Query()
	q.Set("model", req.Model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+req.Secret)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{Status: resp.StatusCode, Body: err.Error()}
		}
		return nil, errors.Wrap(err, "websocket dial")
	}

	ch := newWSChannel(ws, d.Logger)
	return &Link{Channel: ch, Mic: silentInput{}, Playback: silentOutput{}}, nil
}

type wsChannel struct {
	*frameQueue
	ws  *websocket.Conn
	log zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSChannel(ws *websocket.Conn, log zerolog.Logger) *wsChannel {
	ch := &wsChannel{frameQueue: newFrameQueue(), ws: ws, log: log}
	ch.markReady()
	go ch.readPump()
	return ch
}

func (c *wsChannel) readPump() {
	defer c.finish()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		c.deliver(Frame{Data: data})
	}
}

func (c *wsChannel) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
		c.finish()
	})
	return err
}
