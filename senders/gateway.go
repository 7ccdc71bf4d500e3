package senders

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fiffu/feedrelay/config"
	"github.com/fiffu/feedrelay/lib/models"
	"github.com/fiffu/feedrelay/lib/normalize"
	"github.com/fiffu/feedrelay/lib/store"
	"github.com/fiffu/feedrelay/lib/telemetry"
	"go.uber.org/zap"
)

// SinkGoneHook is called once per delivery that finds its sink gone.
type SinkGoneHook func(ctx context.Context, sinkID string)

// Gateway routes entries to the sender of the sink's platform, retrying
// transient failures and giving rejected entries one sanitized retry.
type Gateway struct {
	log      *zap.Logger
	registry Registry
	journal  *store.Journal

	defaultPlatform string
	timeout         time.Duration
	retryInitial    time.Duration
	retryMax        int

	mu     sync.RWMutex
	onGone []SinkGoneHook
}

func NewGateway(cfg *config.Config, log *zap.Logger, registry Registry, journal *store.Journal) *Gateway {
	return &Gateway{
		log:             log,
		registry:        registry,
		journal:         journal,
		defaultPlatform: cfg.DefaultSinkPlatform,
		timeout:         cfg.Dispatch.DeliverTimeout,
		retryInitial:    cfg.Dispatch.RetryInitial,
		retryMax:        cfg.Dispatch.RetryMax,
	}
}

// OnSinkGone registers a hook run whenever a sink reports it no longer exists.
func (g *Gateway) OnSinkGone(hook SinkGoneHook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onGone = append(g.onGone, hook)
}

func (g *Gateway) Deliver(ctx context.Context, sinkID string, entry models.NotificationEntry) Outcome {
	start := time.Now()
	platform, target, sender, ok := g.registry.Resolve(sinkID, g.defaultPlatform)
	if !ok {
		g.record(ctx, entry.SourceKey, models.KindSinkRejected, fmt.Sprintf("sink %s: unsupported platform %q", sinkID, platform))
		telemetry.CountDelivery(platform, Rejected.String(), time.Since(start))
		return Rejected
	}

	outcome, err := g.attempt(ctx, sender, target, &entry)
	if outcome == Rejected {
		sanitized, changed := Sanitize(entry)
		g.log.Sugar().Infow("Sink rejected entry, retrying sanitized",
			"sink_id", sinkID, "item_id", entry.ItemID, "changed", changed, "err", err)
		outcome, err = g.attempt(ctx, sender, target, &sanitized)
	}

	switch outcome {
	case Ok:
	case Rejected:
		g.record(ctx, entry.SourceKey, models.KindSinkRejected, fmt.Sprintf("sink %s item %s: %v", sinkID, entry.ItemID, err))
	case Transient:
		g.record(ctx, entry.SourceKey, models.KindTransient, fmt.Sprintf("sink %s item %s: %v", sinkID, entry.ItemID, err))
	case SinkGone:
		g.log.Sugar().Warnw("Sink is gone", "sink_id", sinkID, "err", err)
		g.fireGone(ctx, sinkID)
	}
	telemetry.CountDelivery(platform, outcome.String(), time.Since(start))
	return outcome
}

// attempt sends once, then retries transient failures on an exponential schedule.
func (g *Gateway) attempt(ctx context.Context, sender Sender, target string, entry *models.NotificationEntry) (Outcome, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.retryInitial
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Minute

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		sendCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		err := sender.Send(sendCtx, target, entry)
		switch OutcomeOf(err) {
		case Ok:
			return struct{}{}, nil
		case Transient:
			if de, ok := err.(*DeliveryError); ok && de.RetryAfter > g.retryInitial {
				return struct{}{}, backoff.RetryAfter(int(math.Ceil(de.RetryAfter.Seconds())))
			}
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(g.retryMax+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.log.Sugar().Debugw("Retrying delivery", "item_id", entry.ItemID, "next", next, "err", err)
		}),
	)
	return OutcomeOf(err), err
}

func (g *Gateway) fireGone(ctx context.Context, sinkID string) {
	g.mu.RLock()
	hooks := append([]SinkGoneHook(nil), g.onGone...)
	g.mu.RUnlock()

	for _, hook := range hooks {
		hook(context.WithoutCancel(ctx), sinkID)
	}
}

func (g *Gateway) record(ctx context.Context, sourceKey string, kind models.ErrorKind, msg string) {
	if g.journal == nil {
		return
	}
	_ = g.journal.Record(ctx, sourceKey, kind, msg)
}

// Sanitize drops the optional URLs of entry that are not absolute http(s) URLs.
func Sanitize(entry models.NotificationEntry) (models.NotificationEntry, bool) {
	changed := false
	if entry.Link != "" && !normalize.WebURL(entry.Link) {
		entry.Link, changed = "", true
	}
	if entry.Thumbnail != "" && !normalize.WebURL(entry.Thumbnail) {
		entry.Thumbnail, changed = "", true
	}
	if entry.FooterIcon != "" && !normalize.WebURL(entry.FooterIcon) {
		entry.FooterIcon, changed = "", true
	}
	if len(entry.Attachments) > 0 {
		kept := make([]models.Attachment, 0, len(entry.Attachments))
		for _, a := range entry.Attachments {
			if normalize.WebURL(a.URL) {
				kept = append(kept, a)
			}
		}
		if len(kept) != len(entry.Attachments) {
			entry.Attachments, changed = kept, true
		}
	}
	return entry, changed
}
