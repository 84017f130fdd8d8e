package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tstromberg/gocachereplay/internal/backend"
	"github.com/tstromberg/gocachereplay/internal/queue"
	"github.com/tstromberg/gocachereplay/internal/runlog"
)

// runWorker pops items until the work queue is closed and drained. Only a lost
// backend connection or the end of ctx stops it early.
func (o *Orchestrator) runWorker(ctx context.Context, id int, conn backend.Conn) error {
	locker, _ := conn.(sync.Locker)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		it, err := o.work.Pop(o.opts.PollInterval)
		switch {
		case errors.Is(err, queue.ErrDrained):
			return nil
		case errors.Is(err, queue.ErrTimeout):
			if o.opts.IdleExit && o.work.Empty() {
				o.logger.Debug("worker idle, exiting", "worker", id)
				return nil
			}
			continue
		case err != nil:
			return err
		}

		if it.key == "" {
			o.skipped.Add(1)
			o.work.Done()
			continue
		}
		if err := o.process(ctx, id, conn, locker, it); err != nil {
			return err
		}
	}
}

// process handles one item. Every path either marks the item done or puts it
// back on the queue.
func (o *Orchestrator) process(ctx context.Context, id int, conn backend.Conn, locker sync.Locker, it item) error {
	if locker != nil {
		locker.Lock()
		defer locker.Unlock()
	}

	start := o.now()
	value, ok, err := conn.Get(ctx, it.key)
	if err != nil {
		return o.fail(id, it, "get", err)
	}
	if ok {
		o.emit(runlog.Hit, id, it, start, value)
		o.hits.Add(1)
		o.work.Done()
		return nil
	}

	value, ok, err = o.source.Lookup(ctx, it.key)
	if err != nil {
		return o.fail(id, it, "lookup", err)
	}
	if !ok {
		o.logger.Warn("key missing from source, dropping", "worker", id, "key", it.key, "seq", it.seq)
		o.dropped.Add(1)
		o.work.Done()
		return nil
	}

	if err := conn.Set(ctx, it.key, value); err != nil {
		if errors.Is(err, backend.ErrConflict) {
			o.logger.Debug("insert conflict, requeueing", "worker", id, "key", it.key, "seq", it.seq)
			o.requeues.Add(1)
			o.recorder.Requeue()
			o.work.Requeue(it)
			return nil
		}
		return o.fail(id, it, "set", err)
	}

	o.emit(runlog.Miss, id, it, start, value)
	o.misses.Add(1)
	o.work.Done()
	return nil
}

func (o *Orchestrator) emit(action runlog.Action, id int, it item, start time.Time, value []byte) {
	latency := o.now().Sub(start)
	o.recorder.Request(action, latency)
	rec := runlog.Record{
		Action:   action,
		Worker:   id,
		Sequence: it.seq,
		Latency:  latency,
		Key:      it.key,
		Value:    value,
	}
	if err := o.records.Put(rec); err != nil {
		o.logger.Error("run log closed, record lost", "worker", id, "key", it.key, "error", err)
	}
}

// fail drops the item. A lost connection also ends the worker.
func (o *Orchestrator) fail(id int, it item, stage string, err error) error {
	o.recorder.Error(stage)
	o.work.Done()
	if errors.Is(err, backend.ErrConnection) {
		o.logger.Error("worker lost its backend connection", "worker", id, "stage", stage, "key", it.key, "error", err)
		return fmt.Errorf("worker %d: %s %q: %w", id, stage, it.key, err)
	}
	o.dropped.Add(1)
	o.logger.Warn("dropping key after backend error", "worker", id, "stage", stage, "key", it.key, "error", err)
	return nil
}
