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
)

// Processor is the single-consumer Log Processor / Indexer Driver of spec
// §4.5: it owns a Flusher, drives an Indexer and TrieCatalog, and reports
// every offset's outcome to a WatchRegistry. It is itself a Subscriber, so
// it plugs straight into a Log's dispatcher (C3 delivers to C5).
type Processor struct {
	log     Log
	indexer Indexer
	tries   TrieCatalog
	flusher *Flusher
	watch   *WatchRegistry
	allocs  Allocator
}

// NewProcessor wires the collaborators described in spec §4.5. alloc may be
// nil, in which case a root Allocator is created.
func NewProcessor(log Log, indexer Indexer, tries TrieCatalog, flusher *Flusher, watch *WatchRegistry, alloc Allocator) *Processor {
	if alloc == nil {
		alloc = NewRootAllocator("processor")
	}
	return &Processor{log: log, indexer: indexer, tries: tries, flusher: flusher, watch: watch, allocs: alloc}
}

// Deliver satisfies Subscriber: C3 calls this once per record, strictly in
// offset order, and ProcessRecords does the rest.
func (p *Processor) Deliver(rec Record) error {
	return p.ProcessRecords([]Record{rec})
}

// ProcessRecords implements spec §4.5's three-step contract for an ordered
// batch handed over by the dispatcher.
func (p *Processor) ProcessRecords(records []Record) error {
	if p.flusher != nil {
		if err := p.maybeFlush(); err != nil {
			return err
		}
	}

	for _, rec := range records {
		value, err := p.applyOne(rec)
		p.watch.Notify(rec.Offset, value, err)
		if err != nil {
			// spec §4.5 step 3: failure does not skip the offset, but the
			// stream halts via C6's sticky error; the caller (dispatcher)
			// stops delivering further records to this subscriber.
			return err
		}
	}
	return nil
}

// maybeFlush asks the Flusher whether chunk progress has stalled and, if
// so, appends the resulting FlushChunk message and waits for its durable
// offset before the batch continues, matching spec §4.5 step 1's ordering
// requirement.
func (p *Processor) maybeFlush() error {
	var chunkTx, completedTx int64
	if ct := p.indexer.LatestCompletedChunkTx(); ct != nil {
		chunkTx = ct.TxId
	}
	if ct := p.indexer.LatestCompletedTx(); ct != nil {
		completedTx = ct.TxId
	}

	msg, ok := p.flusher.Check(chunkTx, completedTx)
	if !ok {
		return nil
	}
	future := p.log.AppendMessage(msg)
	_, err := future.Wait(context.Background())
	if err != nil {
		return &LogIoError{Op: "append flush-chunk", Err: err}
	}
	return nil
}

// applyOne dispatches a single record by message kind (spec §4.5 step 2).
func (p *Processor) applyOne(rec Record) (AppliedTx, error) {
	switch rec.Message.Kind {
	case MsgTx:
		return p.applyTx(rec)
	case MsgFlushChunk:
		if err := p.indexer.ForceFlush(rec); err != nil {
			return AppliedTx{}, &IndexerError{Offset: rec.Offset, Err: err}
		}
		return AppliedTx{TxId: rec.Offset}, nil
	case MsgTriesAdded:
		for _, t := range rec.Message.TriesAdded {
			if err := p.tries.AddTrie(t.Table, t.TrieKey); err != nil {
				return AppliedTx{}, &IndexerError{Offset: rec.Offset, Err: err}
			}
		}
		return AppliedTx{TxId: rec.Offset}, nil
	default:
		return AppliedTx{}, &CodecError{Kind: UnknownOpVariant, Detail: fmt.Sprintf("processor: unhandled message kind %d", rec.Message.Kind)}
	}
}

// applyTx decodes the Tx payload under a scoped child allocator, released
// before the next record is processed (spec §4.5 step 2, "scoped
// allocator; released before next record").
func (p *Processor) applyTx(rec Record) (AppliedTx, error) {
	child := p.allocs.NewChild(fmt.Sprintf("tx-%d", rec.Offset))
	defer child.Close()

	tx, it, err := DecodeRecord(rec.Message.TxBytes)
	if err != nil {
		return AppliedTx{}, err
	}
	envelope := materialiseEnvelope(tx, it)

	applied, err := p.indexer.IndexTx(rec.Offset, rec.Timestamp, envelope)
	if err != nil {
		return AppliedTx{}, &IndexerError{Offset: rec.Offset, Err: err}
	}
	return applied, nil
}

// materialiseEnvelope walks the lazy OpIterator into a fully-realised
// TxEnvelope, since Indexer.IndexTx takes the whole decoded batch (spec
// §4.5 "root") rather than a streaming iterator.
func materialiseEnvelope(tx *DecodedTx, it *OpIterator) *TxEnvelope {
	var ops []Op
	for {
		op, ok := it.Next()
		if !ok {
			break
		}
		ops = append(ops, op)
	}
	return &TxEnvelope{
		Ops: TxOptions{
			SystemTime: tx.SystemTime,
			DefaultTz:  tx.DefaultTz,
			User:       tx.User,
		},
		TxOps: ops,
	}
}
