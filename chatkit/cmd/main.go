// Command chatkit-tail connects as one user and logs every subscription
// callback until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/credential"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/internal/config"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/locator"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/subscription"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport/bus"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport/ws"
	pkgconfig "github.com/weiawesome/wes-io-live-chatkit/pkg/config"
	pkglog "github.com/weiawesome/wes-io-live-chatkit/pkg/log"
	"github.com/weiawesome/wes-io-live-chatkit/pkg/pubsub"
)

func main() {
	configPath := pflag.StringP("config", "c", pkgconfig.GetEnv("CHATKIT_CONFIG_PATH", "./config"), "directory containing chatkit.yaml")
	pflag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "chatkit-tail"})
	logger := pkglog.L()

	provider, err := newTokenProvider(cfg.Chatkit)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token provider")
	}

	// Create transport
	var factory transport.Factory = ws.NewFactory(ws.Config{
		DialTimeout:  cfg.Transport.DialTimeout,
		MaxRetries:   cfg.Transport.MaxRetries,
		RetryBackoff: cfg.Transport.RetryBackoff,
		ReadLimit:    ws.DefaultConfig().ReadLimit,
		Insecure:     cfg.Transport.Insecure,
	})
	var subscriber pubsub.Subscriber
	if cfg.Transport.Driver == "redis" || cfg.Transport.Driver == "kafka" {
		subscriber, err = pubsub.NewSubscriber(cfg.PubSub())
		if err != nil {
			logger.Fatal().Err(err).Str("driver", cfg.Transport.Driver).Msg("failed to create bus subscriber")
		}
		factory = bus.NewFactory(subscriber, factory)
	}

	manager, err := chatkit.New(chatkit.Config{
		InstanceLocator: cfg.Chatkit.InstanceLocator,
		UserID:          cfg.Chatkit.UserID,
		TokenProvider:   provider,
		Factory:         factory,
		PlatformDomain:  cfg.Chatkit.PlatformDomain,
		Logger:          &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid chatkit configuration")
	}

	logger.Info().
		Str("driver", cfg.Transport.Driver).
		Str(pkglog.FieldUserID, cfg.Chatkit.UserID).
		Msg("starting chatkit-tail")

	sub, err := manager.Connect(context.Background(), &tailListener{logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect")
	}

	// Wait for shutdown signal or a terminated subscription
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-sub.Done():
		logger.Error().Err(sub.Err()).Msg("subscription terminated")
	}

	logger.Info().Msg("shutting down chatkit-tail")

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		manager.Disconnect()

		if subscriber != nil {
			if err := subscriber.Close(); err != nil {
				logger.Error().Err(err).Msg("bus subscriber close error")
			}
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("chatkit-tail stopped")
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("shutdown timed out after 10s")
	}
}

// newTokenProvider prefers the token endpoint and falls back to signing
// tokens locally with the instance key.
func newTokenProvider(cfg config.ChatkitConfig) (credential.Provider, error) {
	if cfg.TokenEndpoint != "" {
		return credential.NewChatkitProvider(cfg.TokenEndpoint), nil
	}
	loc, err := locator.Require(cfg.InstanceLocator)
	if err != nil {
		return nil, err
	}
	return credential.NewLocalProvider(loc.InstanceID, cfg.TokenKeyID, cfg.TokenSecret, time.Hour)
}

type tailListener struct {
	logger zerolog.Logger
}

func (l *tailListener) OnCurrentUser(cu *domain.CurrentUser) {
	l.logger.Info().
		Str(pkglog.FieldUserID, cu.User.ID).
		Str("name", cu.User.GetName()).
		Int("rooms", len(cu.Rooms)).
		Msg("current user")
}

func (l *tailListener) OnError(err error) {
	l.logger.Error().Err(err).Bool("fatal", subscription.IsFatal(err)).Msg("subscription error")
}

func (l *tailListener) OnRemovedFromRoom(roomID int) {
	l.logger.Info().Int(pkglog.FieldRoomID, roomID).Msg("removed from room")
}

func (l *tailListener) OnAddedToRoom(r *domain.Room) {
	l.logger.Info().Int(pkglog.FieldRoomID, r.ID).Str("name", r.GetName()).Msg("added to room")
}

func (l *tailListener) OnRoomUpdated(r *domain.Room) {
	l.logger.Info().Int(pkglog.FieldRoomID, r.ID).Str("name", r.GetName()).Msg("room updated")
}

func (l *tailListener) OnRoomDeleted(roomID int) {
	l.logger.Info().Int(pkglog.FieldRoomID, roomID).Msg("room deleted")
}

func (l *tailListener) OnUserJoinedRoom(u *domain.User, r *domain.Room) {
	l.logger.Info().Str(pkglog.FieldUserID, u.ID).Int(pkglog.FieldRoomID, r.ID).Msg("user joined room")
}

func (l *tailListener) OnUserLeftRoom(u *domain.User, r *domain.Room) {
	l.logger.Info().Str(pkglog.FieldUserID, u.ID).Int(pkglog.FieldRoomID, r.ID).Msg("user left room")
}

func (l *tailListener) OnUserCameOnline(u *domain.User) {
	l.logger.Info().Str(pkglog.FieldUserID, u.ID).Msg("user came online")
}

func (l *tailListener) OnUserWentOffline(u *domain.User) {
	l.logger.Info().Str(pkglog.FieldUserID, u.ID).Msg("user went offline")
}

func (l *tailListener) OnCursorUpdated(c *domain.Cursor) {
	l.logger.Debug().
		Str(pkglog.FieldUserID, c.UserID).
		Int(pkglog.FieldRoomID, c.RoomID).
		Int("position", c.Position).
		Msg("cursor updated")
}
