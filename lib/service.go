// Package lib is the control surface of feedrelay: it validates and records
// subscriptions, and purges sinks that the gateway reports gone.
package lib

import (
	"context"
	"net/http"

	"github.com/fiffu/feedrelay/config"
	"github.com/fiffu/feedrelay/lib/fetcher"
	"github.com/fiffu/feedrelay/lib/models"
	"github.com/fiffu/feedrelay/lib/store"
	"github.com/fiffu/feedrelay/lib/streamer"
	"go.uber.org/zap"
)

// Prober fetches a feed URL once to validate it.
type Prober interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Response, error)
}

// AccountResolver maps stream handles and ids to accounts.
type AccountResolver interface {
	ByHandle(ctx context.Context, handle string) (*streamer.Account, error)
	ByID(ctx context.Context, id string) (*streamer.Account, error)
}

type Status string

const (
	StatusSubscribed        Status = "subscribed"
	StatusAlreadySubscribed Status = "already_subscribed"
	StatusUnsubscribed      Status = "unsubscribed"
	StatusNotSubscribed     Status = "not_subscribed"
)

// Result is the outcome of a subscription change, with a message fit for
// showing to whoever asked for it.
type Result struct {
	Status       Status
	Message      string
	Subscription models.Subscription
}

type Service struct {
	log  *zap.Logger
	subs *store.Subscriptions

	*subscribe
	*unsubscribe
}

func NewService(cfg *config.Config, log *zap.Logger, subs *store.Subscriptions, transport http.RoundTripper, lookup *streamer.Lookup) *Service {
	return New(log, subs, fetcher.NewFetcher(cfg, transport), lookup)
}

func New(log *zap.Logger, subs *store.Subscriptions, prober Prober, accounts AccountResolver) *Service {
	return &Service{
		log, subs,
		&subscribe{log, subs, prober, accounts},
		&unsubscribe{log, subs, accounts},
	}
}

func (svc *Service) List(ctx context.Context, sinkID string, kind models.SourceKind) (models.Subscriptions, error) {
	return svc.subs.ListForSink(ctx, sinkID, kind)
}

func (svc *Service) PurgeSink(ctx context.Context, sinkID string) (int64, error) {
	return svc.subs.PurgeSink(ctx, sinkID)
}

// PurgeGoneSink drops every subscription of a sink the gateway found gone.
func (svc *Service) PurgeGoneSink(ctx context.Context, sinkID string) {
	n, err := svc.PurgeSink(ctx, sinkID)
	if err != nil {
		svc.log.Sugar().Errorw("Failed to purge gone sink", "sink_id", sinkID, "err", err)
		return
	}
	svc.log.Sugar().Infow("Purged gone sink", "sink_id", sinkID, "removed", n)
}
