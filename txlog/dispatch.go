/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package txlog

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// notifySource is implemented by Log backends that keep a notifyRegistry
// (spec §4.3b): MemoryLog and LocalDirLog both delegate straight through to
// their embedded registry, the same thin-forwarding idiom
// storage/shared_resource.go uses for its acquire/release pair.
type notifySource interface {
	Log
	registerNotify() (id uint64, sem *semaphore.Weighted)
	unregisterNotify(id uint64)
}

func (l *MemoryLog) registerNotify() (uint64, *semaphore.Weighted) { return l.notify.register() }
func (l *MemoryLog) unregisterNotify(id uint64)                    { l.notify.unregister(id) }

func (l *LocalDirLog) registerNotify() (uint64, *semaphore.Weighted) { return l.notify.register() }
func (l *LocalDirLog) unregisterNotify(id uint64)                    { l.notify.unregister(id) }

// dispatcherHandle is the Subscription returned by both dispatcher
// strategies: cancelling the worker's context and joining it via the
// errgroup on Close, matching storage/shared_resource.go's
// acquire-then-release discipline so a caller can never leak the
// background goroutine. A single-goroutine errgroup.Group is overkill for
// supervision alone, but it gives Close() a real error to surface instead
// of silently swallowing a worker panic-recovery path.
type dispatcherHandle struct {
	cancel context.CancelFunc
	group  *errgroup.Group
}

func (h *dispatcherHandle) Close() error {
	h.cancel()
	if err := h.group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// deliverBatch pushes records to sub strictly in offset order (spec §4.3),
// stopping at the first delivery error. It returns the last offset it
// successfully delivered (or lastSeen unchanged if nothing was delivered)
// and the error, if any.
func deliverBatch(sub Subscriber, recs []Record, lastSeen int64) (int64, error) {
	for _, rec := range recs {
		if err := sub.Deliver(rec); err != nil {
			return lastSeen, err
		}
		lastSeen = rec.Offset
	}
	return lastSeen, nil
}

// startPollingDispatcher implements the sleep-based strategy of spec §4.3a:
// on every tick, read up to defaultPollBatch new records and deliver them;
// back off for sleep when nothing new arrived.
func startPollingDispatcher(log Log, sub Subscriber, sleep time.Duration) (Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		last := int64(-1)
		for {
			select {
			case <-gctx.Done():
				return nil
			default:
			}

			recs, err := log.ReadRecords(last, defaultPollBatch)
			if err != nil {
				fmt.Println("txlog: poll dispatcher read error:", err)
				select {
				case <-gctx.Done():
					return nil
				case <-time.After(sleep):
				}
				continue
			}
			if len(recs) == 0 {
				select {
				case <-gctx.Done():
					return nil
				case <-time.After(sleep):
				}
				continue
			}

			var derr error
			last, derr = deliverBatch(sub, recs, last)
			if derr != nil {
				return &ErrChannelClosed{Detail: derr.Error()}
			}
		}
	})

	return &dispatcherHandle{cancel: cancel, group: g}, nil
}

// startNotifyingDispatcher implements the counting-signal strategy of spec
// §4.3b: the worker first drains any backlog (catch-up mode, no blocking),
// then blocks on its permit semaphore between bursts (live mode). Each
// Acquire corresponds to at least one append; the worker drains up to
// defaultNotifyCap records per wakeup so a burst of appends collapses into
// one batch delivery instead of one wakeup per record.
func startNotifyingDispatcher(log notifySource, sub Subscriber, cap int) (Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	id, sem := log.registerNotify()

	g.Go(func() error {
		defer log.unregisterNotify(id)

		last := int64(-1)

		// catch-up: drain everything already in the log before waiting on
		// the permit semaphore, so a subscriber that attaches late doesn't
		// miss history.
		for {
			recs, err := log.ReadRecords(last, cap)
			if err != nil {
				fmt.Println("txlog: notify dispatcher catch-up read error:", err)
				break
			}
			if len(recs) == 0 {
				break
			}
			var derr error
			last, derr = deliverBatch(sub, recs, last)
			if derr != nil {
				return &ErrChannelClosed{Detail: derr.Error()}
			}
		}

		for {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil // ctx cancelled: Close() was called
			}
			// drain any further queued permits up to cap-1 more, without
			// blocking; permits beyond that stay in the semaphore for the
			// next wakeup rather than being force-acquired now.
			for n := 1; n < cap; n++ {
				if !sem.TryAcquire(1) {
					break
				}
			}

			recs, err := log.ReadRecords(last, cap)
			if err != nil {
				fmt.Println("txlog: notify dispatcher live read error:", err)
				continue
			}
			if len(recs) == 0 {
				continue
			}
			var derr error
			last, derr = deliverBatch(sub, recs, last)
			if derr != nil {
				return &ErrChannelClosed{Detail: derr.Error()}
			}
		}
	})

	return &dispatcherHandle{cancel: cancel, group: g}, nil
}
