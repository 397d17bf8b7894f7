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
	"errors"
	"testing"
	"time"
)

func TestWatchRegistryNotifyBeforeAwaitIsImmediate(t *testing.T) {
	r := NewWatchRegistry()
	r.Notify(2, AppliedTx{TxId: 2}, nil)
	r.Notify(3, AppliedTx{TxId: 3}, nil)

	res := r.AwaitResult(2)
	if res.Err != nil || res.Value.TxId != 2 {
		t.Fatalf("expected immediate satisfied result, got %+v", res)
	}
	if r.HighWater() != 3 {
		t.Fatalf("expected high-water 3, got %d", r.HighWater())
	}
}

func TestWatchRegistryAwaitBlocksUntilNotify(t *testing.T) {
	r := NewWatchRegistry()
	resultCh := make(chan WatchResult, 1)
	go func() { resultCh <- r.AwaitResult(5) }()

	select {
	case <-resultCh:
		t.Fatal("AwaitResult resolved before its target offset was notified")
	case <-time.After(20 * time.Millisecond):
	}

	r.Notify(5, AppliedTx{TxId: 5}, nil)
	select {
	case res := <-resultCh:
		if res.Offset != 5 || res.Err != nil {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitResult never resolved after Notify")
	}
}

func TestWatchRegistryStickyErrorReleasesLaterAwaiters(t *testing.T) {
	r := NewWatchRegistry()
	boom := errors.New("boom")

	waiterCh := make(chan WatchResult, 1)
	go func() { waiterCh <- r.AwaitResult(10) }()
	time.Sleep(10 * time.Millisecond)

	r.Notify(4, AppliedTx{}, boom)

	select {
	case res := <-waiterCh:
		if res.Err != boom {
			t.Fatalf("expected sticky error to release awaiter of a later offset, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("awaiter of a later offset was never released by a sticky error")
	}

	if r.StickyError() != boom {
		t.Fatalf("expected StickyError to report the first promoted error")
	}
}

func TestWatchRegistryFirstErrorWinsSticky(t *testing.T) {
	r := NewWatchRegistry()
	first := errors.New("first")
	second := errors.New("second")

	r.Notify(1, AppliedTx{}, first)
	r.Notify(2, AppliedTx{}, second)

	if r.StickyError() != first {
		t.Fatalf("expected first error to remain sticky, got %v", r.StickyError())
	}
}

func TestWatchRegistryTwoAwaitersOnSameTargetBothReleased(t *testing.T) {
	r := NewWatchRegistry()
	first := make(chan WatchResult, 1)
	second := make(chan WatchResult, 1)
	go func() { first <- r.AwaitResult(7) }()
	go func() { second <- r.AwaitResult(7) }()
	time.Sleep(10 * time.Millisecond)

	r.Notify(7, AppliedTx{TxId: 7}, nil)

	for name, ch := range map[string]chan WatchResult{"first": first, "second": second} {
		select {
		case res := <-ch:
			if res.Offset != 7 {
				t.Fatalf("%s awaiter got offset %d", name, res.Offset)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s awaiter on a shared target was never released", name)
		}
	}
}

func TestWatchRegistryMultipleAwaitersReleasedInOrder(t *testing.T) {
	r := NewWatchRegistry()
	var chans []chan WatchResult
	for _, target := range []int64{1, 2, 3} {
		ch := make(chan WatchResult, 1)
		chans = append(chans, ch)
		target := target
		go func() { ch <- r.AwaitResult(target) }()
	}
	time.Sleep(10 * time.Millisecond)

	r.Notify(1, AppliedTx{TxId: 1}, nil)
	r.Notify(2, AppliedTx{TxId: 2}, nil)
	r.Notify(3, AppliedTx{TxId: 3}, nil)

	for i, ch := range chans {
		select {
		case res := <-ch:
			if res.Offset != int64(i+1) {
				t.Fatalf("awaiter %d got offset %d", i, res.Offset)
			}
		case <-time.After(time.Second):
			t.Fatalf("awaiter %d never released", i)
		}
	}
}
