package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const eventChannelLabel = "oai-events"

// WebRTCDialer negotiates a peer connection with one Opus audio track each
// way and the oai-events data channel.
type WebRTCDialer struct {
	URL    string
	HTTP   *http.Client
	Audio  string
	Logger zerolog.Logger
}

func (d *WebRTCDialer) Dial(ctx context.Context, req DialRequest) (link *Link, err error) {
	log := d.Logger.With().Str("transport", "webrtc").Logger()

	var cleanup []func()
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
		}
	}()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, errors.Wrap(err, "create peer connection")
	}
	cleanup = append(cleanup, func() { _ = pc.Close() })

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", "voxchat-mic")
	if err != nil {
		return nil, errors.Wrap(err, "create microphone track")
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return nil, errors.Wrap(err, "add microphone track")
	}
	go drainRTCP(sender)

	mic, err := startCapture(d.Audio, track, log)
	if err != nil {
		return nil, errors.Wrap(err, "microphone")
	}
	cleanup = append(cleanup, func() { _ = mic.Stop() })
	log.Info().Msg("microphone track added (disabled)")

	playback := newPlayback(d.Audio, log)
	cleanup = append(cleanup, func() { _ = playback.Detach() })
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		playback.attach(remote)
	})

	dc, err := pc.CreateDataChannel(eventChannelLabel, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create data channel")
	}
	ch := newDataChannel(dc, log)
	cleanup = append(cleanup, func() { _ = ch.Close() })

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("state", s.String()).Msg("peer connection state")
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create offer")
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, errors.Wrap(err, "set local description")
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "gather ice candidates")
	}

	endpoint := d.URL
	if endpoint == "" {
		endpoint = DefaultCallURL
	}
	client := d.HTTP
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	answer, err := exchangeSDP(ctx, client, endpoint, req.Secret, req.Model, pc.LocalDescription().SDP)
	if err != nil {
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return nil, errors.Wrap(err, "set remote description")
	}
	log.Info().Msg("sdp answer applied")

	return &Link{Peer: pc, Channel: ch, Mic: mic, Playback: playback}, nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type dataChannel struct {
	*frameQueue
	dc        *webrtc.DataChannel
	closeOnce sync.Once
}

func newDataChannel(dc *webrtc.DataChannel, log zerolog.Logger) *dataChannel {
	ch := &dataChannel{frameQueue: newFrameQueue(), dc: dc}
	dc.OnOpen(func() {
		log.Info().Msg("data channel open")
		ch.markReady()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		ch.deliver(Frame{Data: msg.Data})
	})
	dc.OnError(func(err error) {
		ch.deliver(Frame{Err: err})
	})
	dc.OnClose(func() {
		log.Info().Msg("data channel closed")
		ch.finish()
	})
	return ch
}

func (c *dataChannel) Send(data []byte) error {
	if c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotConnected
	}
	return c.dc.SendText(string(data))
}

func (c *dataChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.dc.Close()
		c.finish()
	})
	return err
}
