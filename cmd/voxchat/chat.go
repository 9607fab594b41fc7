package main

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"voxchat/internal/brokerapi"
	"voxchat/internal/config"
	"voxchat/internal/db"
	"voxchat/internal/realtime"
	"voxchat/internal/ui"
)

func chatCmd() *cobra.Command {
	var (
		brokerURL string
		transport string
		audio     string
		model     string
		voice     string
		useRAG    bool
		exportDir string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the terminal chat front end",
		RunE: func(cmd *cobra.Command, args []string) error {
			closer, err := setupLogging(true)
			if err != nil {
				return err
			}
			defer closer.Close()

			cfg, err := config.NewResolver(configPath).Load()
			if err != nil {
				return err
			}
			if brokerURL == "" {
				brokerURL = cfg.Client.BrokerURL
			}
			if transport == "" {
				transport = cfg.Client.Transport
			}
			if audio == "" {
				audio = cfg.Client.Audio
			}

			dialer, err := newDialer(transport, audio)
			if err != nil {
				return err
			}

			store, err := db.Open()
			if err != nil {
				log.Warn().Err(err).Msg("session archive unavailable")
				store = nil
			} else {
				defer store.Close()
			}

			if exportDir == "" {
				if dir, err := db.DataDir(); err == nil {
					exportDir = dir
				}
			}

			log.Info().Str("broker", brokerURL).Str("transport", transport).Str("audio", audio).Msg("chat starting")
			return ui.Run(ui.Options{
				Broker:    brokerapi.NewClient(brokerURL),
				Dialer:    dialer,
				Store:     store,
				ExportDir: exportDir,
				Model:     model,
				Voice:     voice,
				UseRAG:    useRAG,
				Logger:    log.Logger,
			})
		},
	}

	cmd.Flags().StringVar(&brokerURL, "broker", "", "session broker URL (default from config)")
	cmd.Flags().StringVar(&transport, "transport", "", "realtime transport: webrtc or websocket")
	cmd.Flags().StringVar(&audio, "audio", "", "audio devices for webrtc: ffmpeg or none")
	cmd.Flags().StringVar(&model, "model", "", "initial model (default: first offered by the broker)")
	cmd.Flags().StringVar(&voice, "voice", "", "initial voice (default: first offered by the broker)")
	cmd.Flags().BoolVar(&useRAG, "rag", false, "enable knowledge base search when available")
	cmd.Flags().StringVar(&exportDir, "export-dir", "", "directory for /export (default: data dir)")
	return cmd
}

func newDialer(transport, audio string) (realtime.Dialer, error) {
	if audio != realtime.AudioFFmpeg && audio != realtime.AudioNone {
		return nil, errors.Errorf("unknown audio %q (want %s or %s)", audio, realtime.AudioFFmpeg, realtime.AudioNone)
	}
	switch transport {
	case "webrtc":
		return &realtime.WebRTCDialer{
			HTTP:   &http.Client{Timeout: 30 * time.Second},
			Audio:  audio,
			Logger: log.Logger,
		}, nil
	case "websocket":
		return &realtime.WebSocketDialer{Logger: log.Logger}, nil
	default:
		return nil, errors.Errorf("unknown transport %q (want webrtc or websocket)", transport)
	}
}
