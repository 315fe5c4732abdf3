// Package syncer drains the pending-delivery queues to the downstream
// balancers on a fixed cadence. Delivery is at-least-once: a queue is
// cleared only after its batch lands, and only of the keys in that batch.
package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/scanforge/keysweep/internal/balancer"
	"github.com/scanforge/keysweep/internal/checkpoint"
	"github.com/scanforge/keysweep/internal/journal"
	"github.com/scanforge/keysweep/internal/metrics"
)

// Deliverer pushes a batch of keys to one downstream service.
type Deliverer interface {
	PushKeys(ctx context.Context, batch []string) error
}

// Service names used in queue selection, logs and delivery records.
const (
	ServiceBalancer = "balancer"
	ServiceGPTLoad  = "gpt_load"
)

// deliveryGrace bounds how long an in-flight push may keep running after
// the process context ends.
const deliveryGrace = 30 * time.Second

// Config controls the dispatcher's cadence and worker pool.
type Config struct {
	Interval time.Duration
	Workers  int
}

// Dispatcher owns the two delivery queues. The scheduler feeds it through
// AddKeys; Run drains the queues in the background until the context ends.
type Dispatcher struct {
	store    *checkpoint.Store
	journal  *journal.Journal
	balancer Deliverer
	gptLoad  Deliverer
	interval time.Duration
	workers  int
	logger   *zap.Logger

	// inFlight guards against a slow drain overlapping the next tick's.
	inFlight map[string]*atomic.Bool
}

// New builds a dispatcher. A nil deliverer disables its service: its queue
// is neither fed nor drained.
func New(cfg Config, store *checkpoint.Store, jr *journal.Journal, balancerClient, gptLoadClient Deliverer, logger *zap.Logger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if balancerClient == nil {
		logger.Warn("balancer sync disabled")
	}
	if gptLoadClient == nil {
		logger.Warn("gpt-load sync disabled")
	}
	return &Dispatcher{
		store:    store,
		journal:  jr,
		balancer: balancerClient,
		gptLoad:  gptLoadClient,
		interval: cfg.Interval,
		workers:  cfg.Workers,
		logger:   logger,
		inFlight: map[string]*atomic.Bool{
			ServiceBalancer: {},
			ServiceGPTLoad:  {},
		},
	}
}

// AddKeys unions the keys into every enabled service's queue and persists
// the checkpoint in the same transaction. Safe to call while a drain runs.
func (d *Dispatcher) AddKeys(keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	var balancerDepth, gptLoadDepth int
	err := d.store.Update(func(cp *checkpoint.Checkpoint) {
		if d.balancer != nil {
			added := checkpoint.Enqueue(cp.WaitSendBalancer, keys)
			d.logger.Info("queued keys for balancer",
				zap.Int("added", added),
				zap.Int("queued", len(cp.WaitSendBalancer)),
			)
		}
		if d.gptLoad != nil {
			added := checkpoint.Enqueue(cp.WaitSendGPTLoad, keys)
			d.logger.Info("queued keys for gpt-load",
				zap.Int("added", added),
				zap.Int("queued", len(cp.WaitSendGPTLoad)),
			)
		}
		balancerDepth = len(cp.WaitSendBalancer)
		gptLoadDepth = len(cp.WaitSendGPTLoad)
	})
	if err != nil {
		return err
	}

	metrics.SetSyncQueueDepth(ServiceBalancer, balancerDepth)
	metrics.SetSyncQueueDepth(ServiceGPTLoad, gptLoadDepth)
	return nil
}

// Run drains both queues once per interval until ctx ends, then waits for
// in-flight drains to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	jobs := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for service := range jobs {
				d.drain(ctx, service)
			}
		}()
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// Drain once at startup to flush anything a prior run left queued.
	d.schedule(ctx, jobs)
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			d.logger.Info("sync dispatcher stopped")
			return
		case <-ticker.C:
			d.schedule(ctx, jobs)
		}
	}
}

func (d *Dispatcher) schedule(ctx context.Context, jobs chan<- string) {
	for _, service := range []string{ServiceBalancer, ServiceGPTLoad} {
		if d.deliverer(service) == nil {
			continue
		}
		if d.inFlight[service].Load() {
			d.logger.Warn("previous drain still running, skipping tick", zap.String("service", service))
			continue
		}
		select {
		case jobs <- service:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliverer(service string) Deliverer {
	if service == ServiceBalancer {
		return d.balancer
	}
	return d.gptLoad
}

// drain snapshots one service's queue, delivers the batch, and on success
// clears exactly that batch from the queue.
func (d *Dispatcher) drain(ctx context.Context, service string) {
	flag := d.inFlight[service]
	if !flag.CompareAndSwap(false, true) {
		return
	}
	defer flag.Store(false)

	var batch []string
	d.store.View(func(cp *checkpoint.Checkpoint) {
		for key := range d.queue(cp, service) {
			batch = append(batch, key)
		}
	})
	if len(batch) == 0 {
		return
	}

	d.logger.Info("draining delivery queue",
		zap.String("service", service),
		zap.Int("batch", len(batch)),
	)

	// Shutdown must not abort a push already in flight; the batch gets a
	// bounded grace window and the queue is cleared only when it lands.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryGrace)
	defer cancel()

	err := d.deliverer(service).PushKeys(pushCtx, batch)
	reason := balancer.Reason(err)
	if recErr := d.journal.RecordDelivery(service, batch, err == nil, reason); recErr != nil {
		d.logger.Error("recording delivery results failed", zap.Error(recErr))
	}

	if err != nil {
		metrics.ObserveDelivery(service, "failure")
		d.logger.Error("delivery failed, queue retained",
			zap.String("service", service),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}

	var depth int
	updateErr := d.store.Update(func(cp *checkpoint.Checkpoint) {
		checkpoint.ClearDelivered(d.queue(cp, service), batch)
		depth = len(d.queue(cp, service))
	})
	if updateErr != nil {
		d.logger.Error("clearing delivered keys failed", zap.Error(updateErr))
		return
	}

	metrics.ObserveDelivery(service, "success")
	metrics.SetSyncQueueDepth(service, depth)
	d.logger.Info("delivery queue drained",
		zap.String("service", service),
		zap.Int("delivered", len(batch)),
		zap.Int("remaining", depth),
	)
}

func (d *Dispatcher) queue(cp *checkpoint.Checkpoint, service string) map[string]struct{} {
	if service == ServiceBalancer {
		return cp.WaitSendBalancer
	}
	return cp.WaitSendGPTLoad
}
