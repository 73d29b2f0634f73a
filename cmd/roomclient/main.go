package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/kotkoti/voiceroom/internal/adapters/http"
	"github.com/kotkoti/voiceroom/internal/api"
	"github.com/kotkoti/voiceroom/internal/auth"
	"github.com/kotkoti/voiceroom/internal/config"
	"github.com/kotkoti/voiceroom/internal/domain"
	"github.com/kotkoti/voiceroom/internal/metrics"
	"github.com/kotkoti/voiceroom/internal/realtime"
	"github.com/kotkoti/voiceroom/internal/session"
	"github.com/kotkoti/voiceroom/internal/transport"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	roomID := domain.RoomID(os.Getenv("VOICEROOM_ROOM"))
	userID := domain.UserID(os.Getenv("VOICEROOM_USER"))
	pin := os.Getenv("VOICEROOM_PIN")
	if roomID == "" || userID == "" {
		log.Fatal().Msg("VOICEROOM_ROOM and VOICEROOM_USER must be set")
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	creds := auth.Env("VOICEROOM_TOKEN")
	apiClient := api.NewClient(cfg.APIBaseURL, creds)

	channel := realtime.NewChannel(realtime.Options{
		URL:         cfg.SignalURL,
		ReadLimit:   cfg.ReadLimit,
		PingPeriod:  cfg.PingPeriod,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
		MaxRetries:  cfg.MaxRetries,
		Limiter:     realtime.NewIntentLimiter(cfg.IntentLimit, cfg.IntentInterval),
		OnReconnect: m.Reconnects.Inc,
	})

	signalFn := func(ctx context.Context, ch, token string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
		answer, err := apiClient.ExchangeSDP(ctx, ch, token, offer.SDP)
		if err != nil {
			return webrtc.SessionDescription{}, err
		}
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}, nil
	}
	media := transport.NewPionClient(signalFn, transport.WithMeterInterval(cfg.MeterInterval))

	var sess *session.Coordinator
	sess = session.New(roomID, userID, pin, session.Deps{
		API:           apiClient,
		Channel:       channel,
		Media:         media,
		Creds:         creds,
		Metrics:       m,
		SpeakingLevel: cfg.SpeakingLevel,
		OnInvite: func(seatIndex int) {
			log.Info().Int("seat", seatIndex).Msg("host invited you to a seat, accepting")
			if err := sess.AcceptInvite(ctx, seatIndex); err != nil {
				log.Warn().Err(err).Msg("invite accept failed")
			}
		},
	})

	if err := sess.Join(ctx); err != nil {
		log.Fatal().Err(err).Str("room", string(roomID)).Msg("room join failed")
	}

	go func() {
		for err := range sess.Errors() {
			log.Warn().Err(err).Msg("session")
		}
	}()

	r := router.SetupRouter(cfg, sess, promReg)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.DebugPort)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		log.Info().Str("addr", addr).Msg("debug server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("debug server error")
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sess.Leave(leaveCtx); err != nil {
			log.Error().Err(err).Msg("leave failed")
		}
		leaveCancel()
	case <-sess.Done():
		log.Warn().Msg("removed from room, exiting")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}
