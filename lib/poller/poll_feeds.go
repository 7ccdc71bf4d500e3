package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/fiffu/feedrelay/lib/fetcher"
	"github.com/fiffu/feedrelay/lib/models"
	"github.com/fiffu/feedrelay/lib/normalize"
	"github.com/fiffu/feedrelay/lib/telemetry"
)

const settleTimeout = 30 * time.Second

// pollFeeds walks schedule in order, polling every feed outside its TTL window.
func (p *Poller) pollFeeds(ctx context.Context, schedule []models.FeedSchedule, batchStartTime time.Time) *pollMetrics {
	m := &pollMetrics{}

	telemetry.TimePollCycle(func() {
		for _, feed := range schedule {
			if ctx.Err() != nil {
				return
			}
			m.totalSelected++
			if !feed.Due(p.now()) {
				m.skipped++
				telemetry.CountPoll("skipped")
				continue
			}

			feedMetrics, pause := p.pollFeed(ctx, feed)
			m.Add(feedMetrics)
			if pause > 0 && !p.alarmClock.Sleep(ctx, pause) {
				return
			}
		}
	})

	if m.totalSelected > 0 {
		p.log.Sugar().Infow(
			fmt.Sprintf("Processed %d feeds", m.totalSelected),
			m.logArgs()...,
		)
	}

	p.compactLedger(ctx, batchStartTime)

	elapsed := p.now().Sub(batchStartTime)
	p.log.Sugar().Infow("Poll cycle completed", "elapsed_msecs", int(elapsed.Milliseconds()))
	return m
}

// pollFeed runs fetch, normalize, dedup and dispatch for one feed, and
// returns how long the loop should pause before the next feed.
func (p *Poller) pollFeed(ctx context.Context, feed models.FeedSchedule) (*pollMetrics, time.Duration) {
	m := &pollMetrics{}
	key := feed.SourceKey

	resp, err := p.fetcher.Fetch(ctx, key)
	if err != nil {
		m.errored++
		kind := fetcher.KindOf(err)
		p.record(ctx, key, kind, err.Error())
		telemetry.CountPoll(string(kind))

		switch kind {
		case fetcher.ServerError:
			p.touch(ctx, key, previousTTL(feed))
			return m, p.serverErrorBackoff
		case fetcher.ClientError:
			p.touch(ctx, key, previousTTL(feed))
			return m, 0
		default:
			return m, p.transientPause
		}
	}

	doc, err := normalize.ParseFeed(key, resp.Body, p.now())
	if err != nil {
		m.errored++
		p.record(ctx, key, models.KindMalformed, fmt.Sprintf("decode %s: %v", resp.URL, err))
		telemetry.CountPoll("decode_error")
		return m, p.transientPause
	}
	m.fetched++
	telemetry.CountPoll("ok")

	for _, fault := range doc.Faults {
		p.record(ctx, key, models.KindMalformed, fault.Error())
	}

	for _, entry := range doc.Entries {
		if ctx.Err() != nil {
			break
		}
		n, err := p.dispatchEntry(ctx, entry)
		if err != nil {
			p.log.Sugar().Errorw("Failed to dispatch entry", "source_key", key, "item_id", entry.ItemID, "err", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		m.dispatched += n
	}

	p.touch(ctx, key, doc.TTLMinutes)
	return m, 0
}

// dispatchEntry submits entry to every subscriber of its feed the first time
// the entry is seen. Once the ledger has the entry, submission runs to
// completion even if ctx is cancelled.
func (p *Poller) dispatchEntry(ctx context.Context, entry models.NotificationEntry) (int, error) {
	sourceKey, itemID := entry.DedupKey()
	inserted, err := p.ledger.InsertIfAbsent(ctx, sourceKey, itemID)
	if err != nil {
		return 0, err
	}
	if !inserted {
		return 0, nil
	}

	ctx, cancel := settleContext(ctx)
	defer cancel()

	subs, err := p.subs.ListBySource(ctx, models.SourceFeed, entry.SourceKey)
	if err != nil {
		return 0, err
	}
	for _, sinkID := range subs.SinkIDs() {
		if err := p.dispatcher.Submit(ctx, sinkID, entry); err != nil {
			return 0, err
		}
	}
	return len(subs), nil
}

func (p *Poller) touch(ctx context.Context, sourceKey string, ttlMinutes *int) {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	if err := p.states.Touch(ctx, sourceKey, p.now(), ttlMinutes); err != nil {
		p.log.Sugar().Errorw("Failed to update feed state", "source_key", sourceKey, "err", err)
	}
}

func (p *Poller) record(ctx context.Context, sourceKey string, kind models.ErrorKind, msg string) {
	p.log.Sugar().Warnw("Feed poll failed", "source_key", sourceKey, "kind", kind, "err", msg)
	_ = p.journal.Record(ctx, sourceKey, kind, msg)
}

func (p *Poller) compactLedger(ctx context.Context, batchStartTime time.Time) {
	n, err := p.ledger.Compact(ctx, batchStartTime)
	if err != nil {
		p.log.Sugar().Errorf("compactLedger error: %+v", err)
		return
	}
	telemetry.AddCompacted(n)
}

// settleContext detaches ctx from cancellation so that work already
// committed to the ledger can finish during shutdown.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func previousTTL(feed models.FeedSchedule) *int {
	if !feed.TTLMinutes.Valid {
		return nil
	}
	ttl := int(feed.TTLMinutes.Int64)
	return &ttl
}
