// Package streamer relays one upstream filter stream, built over the union of
// all followed accounts, back to the sinks subscribed to each author.
package streamer

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fiffu/feedrelay/config"
	"github.com/fiffu/feedrelay/lib/dispatch"
	"github.com/fiffu/feedrelay/lib/models"
	"github.com/fiffu/feedrelay/lib/normalize"
	"github.com/fiffu/feedrelay/lib/store"
	"github.com/fiffu/feedrelay/lib/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Submitter queues an entry for delivery to one sink.
type Submitter interface {
	Submit(ctx context.Context, sinkID string, entry models.NotificationEntry) error
}

// inbound is what a reader goroutine hands to the owner. gen tags the stream
// it was read from so late messages of a replaced stream can be dropped.
type inbound struct {
	gen   uint64
	event *models.StreamEvent
	err   error
}

// Client owns the upstream connection. All state below is touched only by
// the run goroutine.
type Client struct {
	log        *zap.Logger
	subs       *store.Subscriptions
	ledger     *store.Ledger
	journal    *store.Journal
	upstream   Upstream
	dispatcher Submitter
	webBase    string
	cooldown   time.Duration
	now        func() time.Time

	inbox chan inbound

	active        Stream
	stopReader    func()
	gen           uint64
	followed      []string
	followedSet   map[string]struct{}
	lastReconcile time.Time
	notBefore     time.Time // set by rate limits

	// OnReconcile, when set, is called after every reconcile with the new follow set.
	OnReconcile func(followed []string)

	cancel func()
	done   chan struct{}
	mu     sync.Mutex
}

func NewClient(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	subs *store.Subscriptions,
	ledger *store.Ledger,
	journal *store.Journal,
	upstream Upstream,
	dispatcher *dispatch.Dispatcher,
) *Client {
	c := New(cfg, log, subs, ledger, journal, upstream, dispatcher)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.StreamEnabled() {
				log.Sugar().Info("STREAM_URL not set, stream relay is disabled")
				return nil
			}
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Sugar().Info("Trying to stop stream client")
			c.Stop()
			return nil
		},
	})
	return c
}

func New(
	cfg *config.Config,
	log *zap.Logger,
	subs *store.Subscriptions,
	ledger *store.Ledger,
	journal *store.Journal,
	upstream Upstream,
	dispatcher Submitter,
) *Client {
	return &Client{
		log:        log,
		subs:       subs,
		ledger:     ledger,
		journal:    journal,
		upstream:   upstream,
		dispatcher: dispatcher,
		webBase:    cfg.Stream.WebBase,
		cooldown:   cfg.Stream.ReconnectCooldown,
		now:        func() time.Time { return time.Now().UTC() },
		inbox:      make(chan inbound),
	}
}

func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		c.run(ctx)
	}()
}

func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}

	c.cancel()
	<-c.done
	c.cancel = nil
	c.log.Sugar().Info("Stream client stopped")
}

func (c *Client) run(ctx context.Context) {
	defer c.teardown()

	changes := c.subs.Changes(models.SourceStream)
	pending := true
	force := false

	for {
		if pending && !c.nextReconcileAt().After(c.now()) {
			ok := c.reconcile(ctx, force)
			pending = !ok
			if ok {
				force = false
			}
			continue
		}

		var timer *time.Timer
		var wakeC <-chan time.Time
		if pending {
			timer = time.NewTimer(c.nextReconcileAt().Sub(c.now()))
			wakeC = timer.C
		}

		select {
		case <-ctx.Done():
			return

		case <-changes:
			// Changes queued during the cooldown collapse into one reconcile.
			pending = true

		case <-wakeC:

		case msg := <-c.inbox:
			if msg.gen == c.gen {
				if msg.err != nil {
					c.handleStreamError(ctx, c.followed, msg.err)
					pending, force = true, true
				} else {
					c.demux(ctx, msg.event)
				}
			}
		}

		if timer != nil {
			timer.Stop()
		}
	}
}

// nextReconcileAt is the earliest instant the next reconcile may start.
func (c *Client) nextReconcileAt() time.Time {
	at := c.notBefore
	if !c.lastReconcile.IsZero() {
		if next := c.lastReconcile.Add(c.cooldown); next.After(at) {
			at = next
		}
	}
	return at
}

// reconcile replaces the active stream with one over the current follow set.
// Unless forced, an unchanged follow set keeps the active stream. It reports
// false when the reconcile must be retried.
func (c *Client) reconcile(ctx context.Context, force bool) bool {
	followed, err := c.subs.Followed(ctx)
	if err != nil {
		c.log.Sugar().Errorw("Failed to read followed accounts", "err", err)
		c.lastReconcile = c.now()
		return false
	}
	unchanged := slices.Equal(followed, c.followed) && (c.active != nil || len(followed) == 0)
	if !force && unchanged {
		return true
	}

	c.lastReconcile = c.now()
	telemetry.CountReconcile(len(followed))
	c.log.Sugar().Infow("Reconciling upstream stream", "followed", len(followed), "previous", len(c.followed))

	if len(followed) == 0 {
		c.swap(nil, nil)
		return true
	}

	stream, err := c.upstream.Open(ctx, followed)
	if err != nil {
		c.handleStreamError(ctx, followed, err)
		return false
	}
	c.swap(stream, followed)
	return true
}

// swap installs stream as the active one and tears down its predecessor.
func (c *Client) swap(stream Stream, followed []string) {
	old, stopOld := c.active, c.stopReader
	c.gen++
	c.active, c.stopReader = stream, nil
	c.followed = followed
	c.followedSet = make(map[string]struct{}, len(followed))
	for _, id := range followed {
		c.followedSet[id] = struct{}{}
	}

	if stream != nil {
		readCtx, cancel := context.WithCancel(context.Background())
		c.stopReader = cancel
		go c.read(readCtx, c.gen, stream)
	}
	if old != nil {
		stopOld()
		if err := old.Close(); err != nil {
			c.log.Sugar().Debugw("Closing previous stream", "err", err)
		}
	}
	telemetry.SetStreamConnected(stream != nil)

	if c.OnReconcile != nil {
		c.OnReconcile(slices.Clone(followed))
	}
}

func (c *Client) teardown() {
	if c.active != nil {
		c.stopReader()
		c.active.Close()
		c.active = nil
	}
	telemetry.SetStreamConnected(false)
}

func (c *Client) read(ctx context.Context, gen uint64, stream Stream) {
	for {
		ev, err := stream.Next(ctx)
		select {
		case c.inbox <- inbound{gen, ev, err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// handleStreamError journals a failure of the stream over followed as
// Transient. Errors caused by our own shutdown are not journaled.
func (c *Client) handleStreamError(ctx context.Context, followed []string, err error) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		wait := max(rl.RetryAfter, c.cooldown)
		c.notBefore = c.now().Add(wait)
		c.log.Sugar().Warnw("Upstream rate limited", "retry_after", rl.RetryAfter, "wait", wait)
	} else {
		c.log.Sugar().Warnw("Upstream stream failed, will reconcile", "err", err)
	}

	if ctx.Err() != nil || c.journal == nil {
		return
	}
	_ = c.journal.Record(ctx, streamSourceKey(followed), models.KindTransient, err.Error())
}

// streamSourceKey names a filter stream by the accounts it follows.
func streamSourceKey(followed []string) string {
	return strings.Join(followed, ",")
}

// demux delivers ev to every sink subscribed to its author.
func (c *Client) demux(ctx context.Context, ev *models.StreamEvent) {
	if _, ok := c.followedSet[ev.AuthorID]; !ok {
		telemetry.CountStreamEvent("unfollowed")
		return
	}

	fresh, err := c.ledger.InsertIfAbsent(ctx, ev.AuthorID, ev.ID)
	if err != nil {
		c.log.Sugar().Errorw("Failed to record stream event", "event_id", ev.ID, "err", err)
		return
	}
	if !fresh {
		telemetry.CountStreamEvent("duplicate")
		return
	}

	subs, err := c.subs.ListBySource(ctx, models.SourceStream, ev.AuthorID)
	if err != nil {
		c.log.Sugar().Errorw("Failed to list stream subscribers", "author_id", ev.AuthorID, "err", err)
		return
	}

	delivered := 0
	for _, sub := range subs {
		entry, ok := normalize.NormalizeEvent(*ev, sub.Options, c.webBase)
		if !ok {
			continue
		}
		entry.SourceKey = sub.SourceKey
		if err := c.dispatcher.Submit(ctx, sub.SinkID, entry); err != nil {
			c.log.Sugar().Errorw("Failed to dispatch stream entry", "sink_id", sub.SinkID, "event_id", ev.ID, "err", err)
			return
		}
		delivered++
	}

	if delivered > 0 {
		telemetry.CountStreamEvent("dispatched")
	} else {
		telemetry.CountStreamEvent("filtered")
	}
}
