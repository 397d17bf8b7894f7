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
	"sync"
	"testing"
	"time"
)

// fakeIndexer is an in-memory Indexer stub recording every applied tx, so
// tests can assert on ordering and chunk bookkeeping without a real table
// engine.
type fakeIndexer struct {
	mu           sync.Mutex
	applied      []int64
	chunkTx      *CompletedTx
	completedTx  *CompletedTx
	failOnOffset int64
}

func (f *fakeIndexer) IndexTx(offset int64, ts time.Time, env *TxEnvelope) (AppliedTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset == f.failOnOffset {
		return AppliedTx{}, errors.New("indexer exploded")
	}
	f.applied = append(f.applied, offset)
	f.completedTx = &CompletedTx{TxId: offset}
	return AppliedTx{TxId: offset}, nil
}

func (f *fakeIndexer) ForceFlush(rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunkTx = &CompletedTx{TxId: rec.Offset}
	return nil
}

func (f *fakeIndexer) LatestCompletedTx() *CompletedTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completedTx
}

func (f *fakeIndexer) LatestCompletedChunkTx() *CompletedTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunkTx
}

func (f *fakeIndexer) IndexerError() error { return nil }

type fakeTrieCatalog struct {
	mu     sync.Mutex
	tries  []TrieAddition
}

func (c *fakeTrieCatalog) AddTrie(table string, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tries = append(c.tries, TrieAddition{Table: table, TrieKey: key})
	return nil
}

func txRecord(t *testing.T, offset int64, table, id string) Record {
	t.Helper()
	data, err := Serialize([]Op{putDoc(table, map[string]interface{}{"_id": id}, []string{"_id"})}, TxOptions{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return Record{Offset: offset, Timestamp: time.Unix(0, 0), Message: Message{Kind: MsgTx, TxBytes: data}}
}

func TestProcessorAppliesTxAndNotifiesWatch(t *testing.T) {
	indexer := &fakeIndexer{failOnOffset: -1}
	tries := &fakeTrieCatalog{}
	watch := NewWatchRegistry()
	p := NewProcessor(NewMemoryLog(nil), indexer, tries, nil, watch, nil)

	rec := txRecord(t, 0, "public/widgets", "w1")
	if err := p.Deliver(rec); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(indexer.applied) != 1 || indexer.applied[0] != 0 {
		t.Fatalf("expected indexer to apply offset 0, got %v", indexer.applied)
	}
	res := watch.AwaitResult(0)
	if res.Err != nil || res.Value.TxId != 0 {
		t.Fatalf("expected watch to report success for offset 0, got %+v", res)
	}
}

func TestProcessorFailureDoesNotSkipOffsetAndSticksError(t *testing.T) {
	indexer := &fakeIndexer{failOnOffset: 1}
	tries := &fakeTrieCatalog{}
	watch := NewWatchRegistry()
	p := NewProcessor(NewMemoryLog(nil), indexer, tries, nil, watch, nil)

	recOk := txRecord(t, 0, "public/widgets", "w1")
	recFail := txRecord(t, 1, "public/widgets", "w2")

	if err := p.Deliver(recOk); err != nil {
		t.Fatalf("unexpected error on offset 0: %v", err)
	}
	if err := p.Deliver(recFail); err == nil {
		t.Fatal("expected processor to surface the indexer error for offset 1")
	}

	res := watch.AwaitResult(1)
	if res.Err == nil {
		t.Fatal("expected watch registry to record a failure at offset 1, not skip it")
	}
	if watch.StickyError() == nil {
		t.Fatal("expected the failure to be promoted to the registry's sticky error")
	}
}

func TestProcessorTriesAddedDispatchesToCatalog(t *testing.T) {
	indexer := &fakeIndexer{failOnOffset: -1}
	tries := &fakeTrieCatalog{}
	watch := NewWatchRegistry()
	p := NewProcessor(NewMemoryLog(nil), indexer, tries, nil, watch, nil)

	rec := Record{Offset: 0, Message: Message{Kind: MsgTriesAdded, TriesAdded: []TrieAddition{
		{Table: "public/widgets", TrieKey: "chunk-1"},
	}}}
	if err := p.Deliver(rec); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(tries.tries) != 1 || tries.tries[0].TrieKey != "chunk-1" {
		t.Fatalf("expected TrieCatalog.AddTrie to be called, got %+v", tries.tries)
	}
}

func TestProcessorFlushChunkForwardsToIndexer(t *testing.T) {
	indexer := &fakeIndexer{failOnOffset: -1}
	tries := &fakeTrieCatalog{}
	watch := NewWatchRegistry()
	p := NewProcessor(NewMemoryLog(nil), indexer, tries, nil, watch, nil)

	rec := Record{Offset: 7, Message: Message{Kind: MsgFlushChunk, ExpectedPrevChunkTxId: 6}}
	if err := p.Deliver(rec); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if indexer.chunkTx == nil || indexer.chunkTx.TxId != 7 {
		t.Fatalf("expected ForceFlush to record chunk boundary at offset 7, got %+v", indexer.chunkTx)
	}
}

func TestProcessorMaybeFlushAppendsWhenFlusherTriggers(t *testing.T) {
	indexer := &fakeIndexer{failOnOffset: -1, chunkTx: &CompletedTx{TxId: 1}, completedTx: &CompletedTx{TxId: 5}}
	tries := &fakeTrieCatalog{}
	watch := NewWatchRegistry()
	clock := &fakeInstants{now: time.Unix(0, 0)}
	flusher := NewFlusher(time.Second, clock)
	log := NewMemoryLog(clock)
	p := NewProcessor(log, indexer, tries, flusher, watch, nil)

	// bootstrap check, no flush yet
	if err := p.ProcessRecords(nil); err != nil {
		t.Fatalf("bootstrap ProcessRecords: %v", err)
	}
	if got := log.LatestSubmittedOffset(); got != -1 {
		t.Fatalf("expected no append on bootstrap check, got latest offset %d", got)
	}

	clock.advance(2 * time.Second)
	if err := p.ProcessRecords(nil); err != nil {
		t.Fatalf("ProcessRecords: %v", err)
	}
	if got := log.LatestSubmittedOffset(); got != 0 {
		t.Fatalf("expected a FlushChunk message appended, got latest offset %d", got)
	}
}
