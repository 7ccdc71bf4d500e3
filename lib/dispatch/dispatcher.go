// Package dispatch fans notification entries out to sinks on a bounded pool
// of workers. Entries for one sink always land on the same worker, so each
// sink sees its entries in submission order.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fiffu/feedrelay/config"
	"github.com/fiffu/feedrelay/lib/models"
	"github.com/fiffu/feedrelay/lib/telemetry"
	"github.com/fiffu/feedrelay/senders"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrNotStarted = errors.New("dispatcher not started")
	ErrStopped    = errors.New("dispatcher stopped")
)

// Deliverer is the sink gateway as seen by the workers.
type Deliverer interface {
	Deliver(ctx context.Context, sinkID string, entry models.NotificationEntry) senders.Outcome
}

type job struct {
	id     uuid.UUID
	sinkID string
	entry  models.NotificationEntry
	queued time.Time
}

type Dispatcher struct {
	log     *zap.Logger
	gateway Deliverer
	timeout time.Duration

	queues []chan job
	quit   chan struct{}
	wg     sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
}

func NewDispatcher(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, gateway *senders.Gateway) *Dispatcher {
	d := New(log, gateway, cfg.Dispatch.Workers, cfg.Dispatch.QueueCap, cfg.Dispatch.DeliverTimeout)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return d.Start()
		},
		OnStop: func(ctx context.Context) error {
			log.Sugar().Info("Trying to stop dispatcher")
			return d.Stop(ctx)
		},
	})
	return d
}

// New builds a dispatcher whose per-worker queues together hold at most queueCap entries.
func New(log *zap.Logger, gateway Deliverer, workers, queueCap int, timeout time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	perWorker := queueCap / workers
	if perWorker < 1 {
		perWorker = 1
	}

	queues := make([]chan job, workers)
	for i := range queues {
		queues[i] = make(chan job, perWorker)
	}
	return &Dispatcher{
		log:     log,
		gateway: gateway,
		timeout: timeout,
		queues:  queues,
		quit:    make(chan struct{}),
	}
}

func (d *Dispatcher) Start() error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if d.started {
		return nil
	}
	for i, q := range d.queues {
		d.wg.Add(1)
		go d.worker(i, q)
	}
	d.started = true
	return nil
}

// Submit queues entry for sinkID. It blocks while the sink's worker queue is
// full, until ctx is done or the dispatcher stops.
func (d *Dispatcher) Submit(ctx context.Context, sinkID string, entry models.NotificationEntry) error {
	d.lifecycleMu.Lock()
	started, stopped := d.started, d.stopped
	d.lifecycleMu.Unlock()
	switch {
	case stopped:
		return ErrStopped
	case !started:
		return ErrNotStarted
	}

	j := job{id: uuid.New(), sinkID: sinkID, entry: entry, queued: time.Now()}
	select {
	case d.shard(sinkID) <- j:
		telemetry.AddQueueDepth(1)
		telemetry.CountDispatched(string(entry.SourceKind))
		return nil
	case <-d.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop waits for in-flight deliveries to finish. Queued entries are dropped.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.lifecycleMu.Lock()
	if d.stopped {
		d.lifecycleMu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.quit)
	d.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Sugar().Info("Dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued entries not yet picked up by a worker.
func (d *Dispatcher) Pending() int {
	n := 0
	for _, q := range d.queues {
		n += len(q)
	}
	return n
}

func (d *Dispatcher) shard(sinkID string) chan job {
	return d.queues[xxhash.Sum64String(sinkID)%uint64(len(d.queues))]
}

func (d *Dispatcher) worker(n int, q chan job) {
	defer d.wg.Done()

	for {
		select {
		case <-d.quit:
			d.drop(n, q)
			return
		case j := <-q:
			telemetry.AddQueueDepth(-1)
			// Stop wins over queued work even when both are ready.
			select {
			case <-d.quit:
				d.logDropped(n, j)
				d.drop(n, q)
				return
			default:
			}
			d.deliver(j)
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	// In-flight deliveries run to completion even while stopping.
	ctx, cancel := context.WithTimeout(context.Background(), d.deliverBudget())
	defer cancel()

	outcome := d.gateway.Deliver(ctx, j.sinkID, j.entry)
	if outcome != senders.Ok {
		d.log.Sugar().Infow("Delivery failed",
			"job_id", j.id, "sink_id", j.sinkID, "source_key", j.entry.SourceKey,
			"item_id", j.entry.ItemID, "outcome", outcome.String(),
			"waited_msecs", int(time.Since(j.queued).Milliseconds()))
	}
}

// deliverBudget bounds one job including its retries.
func (d *Dispatcher) deliverBudget() time.Duration {
	if d.timeout <= 0 {
		return time.Minute
	}
	return 8 * d.timeout
}

func (d *Dispatcher) drop(n int, q chan job) {
	for {
		select {
		case j := <-q:
			telemetry.AddQueueDepth(-1)
			d.logDropped(n, j)
		default:
			return
		}
	}
}

func (d *Dispatcher) logDropped(n int, j job) {
	d.log.Sugar().Warnw("Dropped queued delivery on shutdown",
		"worker", n, "job_id", j.id, "sink_id", j.sinkID, "source_key", j.entry.SourceKey, "item_id", j.entry.ItemID)
}
