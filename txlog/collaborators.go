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

import "time"

// AppliedTx is the descriptor an Indexer returns for a successfully applied
// Tx record.
type AppliedTx struct {
	TxId int64
}

// CompletedTx describes the latest tx known to the indexer.
type CompletedTx struct {
	TxId int64
}

// Indexer is the external collaborator that applies decoded tx-ops and
// honours flush-chunk control messages. Its storage format (trie/LSM
// chunks) and query surface are out of scope for this package (spec §1);
// only this narrow contract is consumed.
type Indexer interface {
	IndexTx(offset int64, ts time.Time, env *TxEnvelope) (AppliedTx, error)
	ForceFlush(rec Record) error
	LatestCompletedTx() *CompletedTx
	LatestCompletedChunkTx() *CompletedTx
	IndexerError() error
}

// TrieCatalog tracks which (table, trie-key) durable chunks exist. It is
// notified by the processor when a TriesAdded control record is applied.
type TrieCatalog interface {
	AddTrie(table string, key string) error
}

// Allocator is a hierarchical, explicitly-closed resource scope for
// decoding. The Processor creates one child per Tx record and closes it
// once that record has been applied.
type Allocator interface {
	NewChild(name string) Allocator
	Close()
}

// InstantSource is injected for deterministic timestamps in tests (spec §6
// "instant-source").
type InstantSource interface {
	Now() time.Time
}

// SystemInstantSource is the default InstantSource, backed by the wall
// clock.
type SystemInstantSource struct{}

func (SystemInstantSource) Now() time.Time { return time.Now() }

// rootAllocator is the trivial Allocator used when a caller has no real
// arena to scope decode buffers to; it exists so the Processor always has
// an Allocator to acquire/release, matching the contract even when nothing is
// actually pooled.
type rootAllocator struct {
	name   string
	closed bool
}

// NewRootAllocator creates a top-level Allocator.
func NewRootAllocator(name string) Allocator {
	return &rootAllocator{name: name}
}

func (a *rootAllocator) NewChild(name string) Allocator {
	return &rootAllocator{name: a.name + "/" + name}
}

func (a *rootAllocator) Close() {
	a.closed = true
}
