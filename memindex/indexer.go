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

// Package memindex is the reference txlog.Indexer/txlog.TrieCatalog
// collaborator: an in-memory document store keyed by table and _id, built
// the same way storage/blob-refcount.go keeps its `.blobs` refcounts in a
// plain map under one mutex rather than reaching for a full relational
// engine. It exists to exercise the indexer driver end to end (cmd/txlogd,
// cmd/txlogctl) without pulling in the on-disk trie/LSM chunk format that
// spec §1 puts out of scope for this pipeline.
package memindex

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/launix-de/memcp/txlog"
)

type row struct {
	iid    [16]byte
	fields map[string]interface{}
	order  []string
}

// Indexer applies put-docs/patch-docs/delete-docs/erase-docs legs to a
// plain in-memory table->id->row map (spec §4.5 step 2). The relational
// execution surface (sql/xtql/call) is out of scope (spec §1) and is
// counted but otherwise ignored.
type Indexer struct {
	mu     sync.Mutex
	tables map[string]map[string]*row // table -> docKey(id) -> row
	byIid  map[string]map[[16]byte]string // table -> iid -> docKey(id)

	latestTx      int64
	haveTx        bool
	latestChunkTx int64
	haveChunk     bool
	err           atomic.Value // error
}

// New returns an empty indexer.
func New() *Indexer {
	return &Indexer{
		tables: make(map[string]map[string]*row),
		byIid:  make(map[string]map[[16]byte]string),
	}
}

func docKey(id interface{}) string { return fmt.Sprint(id) }

func (ix *Indexer) tableLocked(name string) map[string]*row {
	t, ok := ix.tables[name]
	if !ok {
		t = make(map[string]*row)
		ix.tables[name] = t
		ix.byIid[name] = make(map[[16]byte]string)
	}
	return t
}

func (ix *Indexer) putLocked(table string, doc txlog.Doc, iid [16]byte, merge bool) {
	t := ix.tableLocked(table)
	key := docKey(doc.Id)

	fields := make(map[string]interface{}, len(doc.Fields))
	order := append([]string(nil), doc.Order...)
	if merge {
		if existing, ok := t[key]; ok {
			for k, v := range existing.fields {
				fields[k] = v
			}
			order = existing.order
			for _, f := range doc.Order {
				found := false
				for _, e := range order {
					if e == f {
						found = true
						break
					}
				}
				if !found {
					order = append(order, f)
				}
			}
		}
	}
	for k, v := range doc.Fields {
		fields[k] = v
	}

	t[key] = &row{iid: iid, fields: fields, order: order}
	ix.byIid[table][iid] = key
}

func (ix *Indexer) deleteLocked(table string, iid [16]byte) {
	keys, ok := ix.byIid[table]
	if !ok {
		return
	}
	key, ok := keys[iid]
	if !ok {
		return
	}
	delete(ix.tables[table], key)
	delete(keys, iid)
}

// IndexTx applies every document-shaped leg of env (spec §4.5 step 2).
func (ix *Indexer) IndexTx(offset int64, ts time.Time, env *txlog.TxEnvelope) (txlog.AppliedTx, error) {
	ix.mu.Lock()
	for _, op := range env.TxOps {
		switch op.Kind {
		case txlog.OpPutDocs:
			for i, doc := range op.Docs {
				var iid [16]byte
				if i < len(op.Iids) {
					iid = op.Iids[i]
				}
				ix.putLocked(op.Table, doc, iid, false)
			}
		case txlog.OpPatchDocs:
			for i, doc := range op.Docs {
				var iid [16]byte
				if i < len(op.Iids) {
					iid = op.Iids[i]
				}
				ix.putLocked(op.Table, doc, iid, true)
			}
		case txlog.OpDeleteDocs, txlog.OpEraseDocs:
			for _, iid := range op.Iids {
				ix.deleteLocked(op.Table, iid)
			}
		default:
			// sql/xtql/call/abort: relational execution is out of scope
			// for this collaborator (spec §1).
		}
	}
	ix.latestTx = offset
	ix.haveTx = true
	ix.mu.Unlock()

	return txlog.AppliedTx{TxId: offset}, nil
}

// ForceFlush records a durable chunk boundary at rec's offset. The actual
// on-disk chunk format this would trigger is out of scope (spec §1); this
// collaborator only tracks "a flush happened here" for the flusher's
// herd-avoidance bookkeeping (spec §4.4).
func (ix *Indexer) ForceFlush(rec txlog.Record) error {
	ix.mu.Lock()
	ix.latestChunkTx = rec.Offset
	ix.haveChunk = true
	ix.mu.Unlock()
	return nil
}

func (ix *Indexer) LatestCompletedTx() *txlog.CompletedTx {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.haveTx {
		return nil
	}
	return &txlog.CompletedTx{TxId: ix.latestTx}
}

func (ix *Indexer) LatestCompletedChunkTx() *txlog.CompletedTx {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.haveChunk {
		return nil
	}
	return &txlog.CompletedTx{TxId: ix.latestChunkTx}
}

func (ix *Indexer) IndexerError() error {
	if e, ok := ix.err.Load().(error); ok {
		return e
	}
	return nil
}

// Get returns the current fields of table's document keyed by id, for
// introspection (cmd/txlogctl, tests).
func (ix *Indexer) Get(table string, id interface{}) (map[string]interface{}, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	t, ok := ix.tables[table]
	if !ok {
		return nil, false
	}
	r, ok := t[docKey(id)]
	if !ok {
		return nil, false
	}
	out := make(map[string]interface{}, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out, true
}

// Count returns the number of live documents in table.
func (ix *Indexer) Count(table string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.tables[table])
}
