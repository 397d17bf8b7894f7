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
	"sync"

	"github.com/google/btree"
)

// WatchResult is the per-offset outcome stored by Notify: either a
// successful AppliedTx or the error the processor hit while handling that
// offset (spec §4.6 — a failure does not skip the offset).
type WatchResult struct {
	Offset int64
	Value  AppliedTx
	Err    error
}

// pendingAwait holds every channel currently waiting on target. Keying the
// btree by target alone would let a second AwaitResult for the same offset
// evict the first via ReplaceOrInsert, leaking its channel unclosed — so
// one entry fans out to every waiter on that offset instead.
type pendingAwait struct {
	target int64
	chs    []chan WatchResult
}

func lessAwait(a, b pendingAwait) bool { return a.target < b.target }

// WatchRegistry is the Await/Watch Registry of spec §4.6: a high-water
// mark plus sticky error, and an ordered set of awaiters keyed by target
// offset, resolved as the high-water mark advances past them. Ordering the
// awaiters in a btree.BTreeG (the same structure storage/index.go uses for
// its ordered delta index) lets Notify release every satisfied awaiter in
// one ascending walk instead of scanning an unordered set.
type WatchRegistry struct {
	mu          sync.Mutex
	highWater   int64 // -1 means nothing observed yet
	stickyErr   error
	results     map[int64]WatchResult
	awaiters    *btree.BTreeG[pendingAwait]
}

// NewWatchRegistry creates an empty registry with no offsets observed yet.
func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{
		highWater: -1,
		results:   make(map[int64]WatchResult),
		awaiters:  btree.NewG[pendingAwait](32, lessAwait),
	}
}

// Notify records the outcome of processing offset (spec §4.5 step 3 /
// §4.6): it advances the high-water mark, stores the per-offset result,
// promotes err to the sticky error if non-nil, and releases every awaiter
// whose target is now satisfied.
func (r *WatchRegistry) Notify(offset int64, value AppliedTx, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if offset > r.highWater {
		r.highWater = offset
	}
	r.results[offset] = WatchResult{Offset: offset, Value: value, Err: err}
	if err != nil && r.stickyErr == nil {
		r.stickyErr = err
	}

	r.releaseSatisfiedLocked()
}

func (r *WatchRegistry) releaseSatisfiedLocked() {
	var toDelete []pendingAwait
	r.awaiters.Ascend(func(a pendingAwait) bool {
		if a.target > r.highWater && r.stickyErr == nil {
			return false // btree is ordered by target: nothing further qualifies either
		}
		toDelete = append(toDelete, a)
		return true
	})
	for _, a := range toDelete {
		r.awaiters.Delete(a)
		res := r.resultForLocked(a.target)
		for _, ch := range a.chs {
			ch <- res
			close(ch)
		}
	}
}

func (r *WatchRegistry) resultForLocked(target int64) WatchResult {
	if r.stickyErr != nil && r.highWater < target {
		return WatchResult{Offset: target, Err: r.stickyErr}
	}
	if res, ok := r.results[target]; ok {
		return res
	}
	return WatchResult{Offset: target, Err: r.stickyErr}
}

// AwaitResult blocks until target is satisfied: either its own recorded
// result, or the sticky error if one was promoted before target was ever
// reached. It short-circuits immediately when target is already ≤
// high-water or a sticky error is already set (spec §4.6).
func (r *WatchRegistry) AwaitResult(target int64) WatchResult {
	r.mu.Lock()
	if target <= r.highWater || r.stickyErr != nil {
		res := r.resultForLocked(target)
		r.mu.Unlock()
		return res
	}
	ch := make(chan WatchResult, 1)
	if existing, ok := r.awaiters.Get(pendingAwait{target: target}); ok {
		existing.chs = append(existing.chs, ch)
		r.awaiters.ReplaceOrInsert(existing)
	} else {
		r.awaiters.ReplaceOrInsert(pendingAwait{target: target, chs: []chan WatchResult{ch}})
	}
	r.mu.Unlock()

	return <-ch
}

// HighWater returns the current high-water mark (-1 if nothing observed).
func (r *WatchRegistry) HighWater() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.highWater
}

// StickyError returns the first error promoted via Notify, if any.
func (r *WatchRegistry) StickyError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stickyErr
}
