// Package poller runs the feed ingestion loop: it walks every subscribed feed
// oldest-checked first, honours feed TTLs and hands new entries to dispatch.
package poller

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/fiffu/feedrelay/config"
	"github.com/fiffu/feedrelay/lib/dispatch"
	"github.com/fiffu/feedrelay/lib/fetcher"
	"github.com/fiffu/feedrelay/lib/models"
	"github.com/fiffu/feedrelay/lib/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Submitter queues an entry for delivery to one sink.
type Submitter interface {
	Submit(ctx context.Context, sinkID string, entry models.NotificationEntry) error
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Response, error)
}

type Poller struct {
	log        *zap.Logger
	subs       *store.Subscriptions
	states     *store.FeedStates
	ledger     *store.Ledger
	journal    *store.Journal
	fetcher    Fetcher
	dispatcher Submitter

	alarmClock *alarmClock
	now        func() time.Time

	transientPause     time.Duration // Pause after a network or decode failure
	serverErrorBackoff time.Duration // Pause after a 5xx from a feed host

	cancel func()
	done   chan struct{}
	mu     sync.Mutex
}

func NewPoller(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	subs *store.Subscriptions,
	states *store.FeedStates,
	ledger *store.Ledger,
	journal *store.Journal,
	transport http.RoundTripper,
	dispatcher *dispatch.Dispatcher,
) *Poller {
	p := New(cfg, log, subs, states, ledger, journal, fetcher.NewFetcher(cfg, transport), dispatcher)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Sugar().Info("Trying to stop poller")
			p.Stop()
			return nil
		},
	})
	return p
}

func New(
	cfg *config.Config,
	log *zap.Logger,
	subs *store.Subscriptions,
	states *store.FeedStates,
	ledger *store.Ledger,
	journal *store.Journal,
	f Fetcher,
	dispatcher Submitter,
) *Poller {
	now := func() time.Time { return time.Now().UTC() }
	return &Poller{
		log:                log,
		subs:               subs,
		states:             states,
		ledger:             ledger,
		journal:            journal,
		fetcher:            f,
		dispatcher:         dispatcher,
		alarmClock:         newAlarmClock(cfg.Poller.TickInterval, subs.Changes(models.SourceFeed), now),
		now:                now,
		transientPause:     cfg.Poller.TransientPause,
		serverErrorBackoff: cfg.Poller.ServerErrorBackoff,
	}
}

func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		p.run(ctx)
	}()
}

func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}

	p.cancel()
	<-p.done
	p.cancel = nil
	p.log.Sugar().Info("Poller stopped")
}

func (p *Poller) run(ctx context.Context) {
	for ctx.Err() == nil {
		schedule, err := p.states.Schedule(ctx)
		if err != nil {
			p.log.Sugar().Errorw("Failed to read feed schedule", "err", err)
			if _, ok := p.alarmClock.Wait(ctx, true); !ok {
				return
			}
			continue
		}

		if len(schedule) == 0 {
			// Nothing to poll until someone subscribes.
			if _, ok := p.alarmClock.Wait(ctx, false); !ok {
				return
			}
			continue
		}

		p.pollFeeds(ctx, schedule, p.now())

		evt, ok := p.alarmClock.Wait(ctx, true)
		if !ok {
			return
		}
		if _, isChange := evt.(changeEvent); isChange {
			p.log.Sugar().Debugw("Woken by subscription change", "at", evt.Timestamp())
		}
	}
}
