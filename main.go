package main

import (
	"net/http"
	"os"
	"time"

	"github.com/fiffu/feedrelay/app"
	"github.com/fiffu/feedrelay/config"
	"github.com/fiffu/feedrelay/lib"
	"github.com/fiffu/feedrelay/lib/dispatch"
	"github.com/fiffu/feedrelay/lib/poller"
	"github.com/fiffu/feedrelay/lib/store"
	"github.com/fiffu/feedrelay/lib/streamer"
	"github.com/fiffu/feedrelay/senders"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	fx.New(
		fx.Provide(config.NewConfig),
		fx.Provide(NewLogger),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewTransport),
		fx.Provide(app.NewLedger),
		fx.Provide(store.NewSubscriptions),
		fx.Provide(store.NewFeedStates),
		fx.Provide(store.NewJournal),

		fx.Provide(senders.NewSenderRegistry),
		fx.Provide(senders.NewGateway),
		fx.Provide(dispatch.NewDispatcher),

		fx.Provide(fx.Annotate(streamer.NewWebsocketUpstream, fx.As(new(streamer.Upstream)))),
		fx.Provide(streamer.NewLookup),
		fx.Provide(streamer.NewClient),
		fx.Provide(poller.NewPoller),

		fx.Provide(lib.NewService),
		fx.Provide(app.NewHTTPServer),

		fx.Invoke(func(gw *senders.Gateway, svc *lib.Service) {
			gw.OnSinkGone(svc.PurgeGoneSink)
		}),
		fx.Invoke(func(*http.Server, *poller.Poller, *streamer.Client) {}),
	).Run()
}
