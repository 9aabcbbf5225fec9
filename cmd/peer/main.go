package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"

	router "github.com/dkeye/Mesh/internal/adapters/http"
	"github.com/dkeye/Mesh/internal/adapters/rtc"
	sig "github.com/dkeye/Mesh/internal/adapters/signal"
	"github.com/dkeye/Mesh/internal/app/conference"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/media"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := config.PeerFlags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("bad flags")
	}
	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("peer failed")
	}
	log.Info().Msg("peer exited")
}

func run(ctx context.Context, cfg *config.Config) error {
	pc := cfg.Peer
	room, err := domain.ParseRoomName(pc.Room)
	if err != nil {
		return err
	}

	factory, err := rtc.NewFactory(rtc.ConfigFromURLs(pc.ICEServers))
	if err != nil {
		return err
	}

	// the loops outlive ctx long enough to say goodbye
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	client, err := sig.Dial(ctx, pc.SignalURL, nil, sig.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.SendBuffer,
	})
	if err != nil {
		return err
	}

	playback := media.NewPlayback(runCtx, pc.AudioPlayback, pc.VideoPlayback)
	defer playback.Close()

	opts := []conference.Option{conference.WithObserver(observers{playback, logObserver{}})}
	if pc.ScreenRTP != "" {
		opts = append(opts, conference.WithDisplay(media.NewRTPDisplay(runCtx, pc.ScreenRTP, pc.ScreenIdle)))
	}
	coord := conference.New(client, factory, opts...)

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := coord.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("conference loop")
		}
	})
	wg.Go(func() {
		err := client.Run(runCtx, func(msg core.Message) {
			if err := coord.Dispatch(msg); err != nil {
				log.Debug().Err(err).Str("type", string(msg.Type)).Msg("dispatch")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("signaling closed")
		}
		coord.Shutdown()
	})

	var srv *http.Server
	if pc.ControlAddr != "" {
		srv = &http.Server{
			Addr:              pc.ControlAddr,
			Handler:           router.SetupControlRouter(coord),
			ReadHeaderTimeout: 10 * time.Second,
		}
		wg.Go(func() {
			log.Info().Str("addr", pc.ControlAddr).Msg("control API started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("control API")
			}
		})
	}

	stream, err := media.OpenStream(runCtx, media.StreamConfig{
		StreamID:  "mesh-" + pc.Name,
		AudioAddr: pc.AudioRTP,
		VideoAddr: pc.VideoRTP,
	})
	if err != nil {
		log.Warn().Err(err).Msg("local media partially unavailable")
	}
	if err := coord.SetLocalMedia(stream); err != nil {
		log.Error().Err(err).Msg("set local media")
	}
	if err := client.Join(room, pc.Name); err != nil {
		log.Error().Err(err).Msg("send join")
	}

	select {
	case <-ctx.Done():
	case <-coord.Done():
	}

	log.Info().Msg("leaving")
	if err := coord.Leave(); err != nil && !errors.Is(err, conference.ErrStopped) {
		log.Warn().Err(err).Msg("leave")
	}
	coord.Shutdown()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	stop()
	wg.Wait()
	return nil
}

type observers []core.ConferenceObserver

func (obs observers) OnPeerListChanged(peers []domain.PeerID) {
	for _, o := range obs {
		o.OnPeerListChanged(peers)
	}
}

func (obs observers) OnConnectionQualityChanged(peer domain.PeerID, connected bool) {
	for _, o := range obs {
		o.OnConnectionQualityChanged(peer, connected)
	}
}

func (obs observers) OnRemoteTrackAvailable(peer domain.PeerID, track *webrtc.TrackRemote) {
	for _, o := range obs {
		o.OnRemoteTrackAvailable(peer, track)
	}
}

type logObserver struct{}

func (logObserver) OnPeerListChanged(peers []domain.PeerID) {
	log.Info().Int("count", len(peers)).Interface("peers", peers).Msg("peers")
}

func (logObserver) OnConnectionQualityChanged(peer domain.PeerID, connected bool) {
	log.Info().Str("peer", string(peer)).Bool("connected", connected).Msg("connection")
}

func (logObserver) OnRemoteTrackAvailable(peer domain.PeerID, track *webrtc.TrackRemote) {
	log.Info().Str("peer", string(peer)).Str("kind", track.Kind().String()).Str("track", track.ID()).Msg("remote track")
}
