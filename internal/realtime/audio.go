package realtime

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Audio backends for the WebRTC transport.
const (
	AudioFFmpeg = "ffmpeg"
	AudioNone   = "none"
)

const opusClockRate = 48000

type sampleWriter interface {
	WriteSample(media.Sample) error
}

// ffmpegCapture records the default input device as Ogg/Opus and feeds the
// pages to the local track while enabled.
type ffmpegCapture struct {
	cmd      *exec.Cmd
	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	log      zerolog.Logger
}

func startCapture(backend string, track sampleWriter, log zerolog.Logger) (AudioInput, error) {
	if backend == AudioNone {
		return silentInput{}, nil
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for microphone capture (install it, or set client.audio to none)")
	}
	args, err := captureArgs(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "open ffmpeg stdout")
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start ffmpeg microphone capture")
	}

	c := &ffmpegCapture{cmd: cmd, log: log}
	go c.pump(stdout, track)
	return c, nil
}

func captureArgs(goos string) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		input = []string{"-f", "avfoundation", "-i", ":0"}
	case "linux":
		input = []string{"-f", "pulse", "-i", "default"}
	default:
		return nil, errors.Errorf("microphone capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", opusClockRate),
		"-c:a", "libopus",
		"-application", "voip",
		"-frame_duration", "20",
		"-page_duration", "20000",
		"-f", "ogg", "pipe:1",
	), nil
}

func (c *ffmpegCapture) pump(r io.Reader, track sampleWriter) {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		if !c.stopped.Load() {
			c.log.Error().Err(err).Msg("read ffmpeg ogg header")
		}
		return
	}

	var lastGranule uint64
	for {
		page, header, err := ogg.ParseNextPage()
		if err != nil {
			if !c.stopped.Load() && !errors.Is(err, io.EOF) {
				c.log.Error().Err(err).Msg("read microphone page")
			}
			return
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		if samples == 0 || !c.enabled.Load() {
			continue
		}
		d := time.Duration(float64(samples) / opusClockRate * float64(time.Second))
		if err := track.WriteSample(media.Sample{Data: page, Duration: d}); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			c.log.Debug().Err(err).Msg("write microphone sample")
		}
	}
}

func (c *ffmpegCapture) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

func (c *ffmpegCapture) Stop() error {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
			_ = c.cmd.Wait()
		}
	})
	return nil
}

// remotePlayback plays the first remote audio track through ffplay.
// Packets that arrive while muted are dropped.
type remotePlayback struct {
	backend string
	log     zerolog.Logger
	muted   atomic.Bool

	mu       sync.Mutex
	attached bool
	detached bool
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	writer   *oggwriter.OggWriter
}

func newPlayback(backend string, log zerolog.Logger) *remotePlayback {
	p := &remotePlayback{backend: backend, log: log}
	p.muted.Store(true)
	return p
}

func (p *remotePlayback) attach(track *webrtc.TrackRemote) {
	p.mu.Lock()
	if p.attached || p.detached {
		p.mu.Unlock()
		p.log.Debug().Str("track", track.ID()).Msg("remote track already attached, skipping")
		return
	}
	p.attached = true
	if p.backend != AudioNone {
		if err := p.startLocked(); err != nil {
			p.log.Error().Err(err).Msg("start playback")
		}
	}
	p.mu.Unlock()

	p.log.Info().Str("track", track.ID()).Str("codec", track.Codec().MimeType).Msg("remote audio attached")
	go p.pump(track)
}

func (p *remotePlayback) startLocked() error {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return errors.New("ffplay is required for playback (install ffmpeg/ffplay, or set client.audio to none)")
	}
	cmd := exec.Command("ffplay", "-nodisp", "-loglevel", "error", "-f", "ogg", "-i", "pipe:0")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "open ffplay stdin")
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start ffplay")
	}
	w, err := oggwriter.NewWith(stdin, opusClockRate, 2)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return errors.Wrap(err, "open ogg writer")
	}
	p.cmd, p.stdin, p.writer = cmd, stdin, w
	return nil
}

func (p *remotePlayback) pump(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if p.muted.Load() {
			continue
		}
		p.mu.Lock()
		if p.writer != nil {
			if err := p.writer.WriteRTP(pkt); err != nil {
				p.log.Debug().Err(err).Msg("write playback packet")
			}
		}
		p.mu.Unlock()
	}
}

func (p *remotePlayback) SetMuted(muted bool) {
	p.muted.Store(muted)
}

func (p *remotePlayback) Detach() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detached {
		return nil
	}
	p.detached = true
	if p.writer != nil {
		_ = p.writer.Close()
		p.writer = nil
	}
	if p.stdin != nil {
		_ = p.stdin.Close()
		p.stdin = nil
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	return nil
}
