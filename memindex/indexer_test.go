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

package memindex

import (
	"testing"
	"time"

	"github.com/launix-de/memcp/txlog"
)

func envelope(ops ...txlog.Op) *txlog.TxEnvelope {
	return &txlog.TxEnvelope{TxOps: ops}
}

func iidFor(t *testing.T, id string) [16]byte {
	t.Helper()
	data, err := txlog.Serialize([]txlog.Op{{
		Kind: txlog.OpPutDocs, Table: "public/widgets",
		Docs: []txlog.Doc{{Id: id, Fields: map[string]interface{}{"_id": id}, Order: []string{"_id"}}},
	}}, txlog.TxOptions{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	_, it, err := txlog.DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	op, ok := it.Next()
	if !ok {
		t.Fatal("expected one decoded op")
	}
	return op.Iids[0]
}

func TestIndexerPutDocsThenGet(t *testing.T) {
	ix := New()
	iid := iidFor(t, "w1")
	doc := txlog.Doc{Id: "w1", Fields: map[string]interface{}{"_id": "w1", "name": "sprocket"}, Order: []string{"_id", "name"}}

	applied, err := ix.IndexTx(1, time.Now(), envelope(txlog.Op{Kind: txlog.OpPutDocs, Table: "public/widgets", Docs: []txlog.Doc{doc}, Iids: [][16]byte{iid}}))
	if err != nil {
		t.Fatalf("IndexTx: %v", err)
	}
	if applied.TxId != 1 {
		t.Fatalf("expected TxId 1, got %d", applied.TxId)
	}

	got, ok := ix.Get("public/widgets", "w1")
	if !ok {
		t.Fatal("expected document w1 to be present")
	}
	if got["name"] != "sprocket" {
		t.Fatalf("expected name=sprocket, got %+v", got)
	}
	if ix.Count("public/widgets") != 1 {
		t.Fatalf("expected 1 document, got %d", ix.Count("public/widgets"))
	}
}

func TestIndexerPatchDocsMergesFields(t *testing.T) {
	ix := New()
	iid := iidFor(t, "w1")
	put := txlog.Doc{Id: "w1", Fields: map[string]interface{}{"_id": "w1", "name": "sprocket", "qty": 1}, Order: []string{"_id", "name", "qty"}}
	ix.IndexTx(1, time.Now(), envelope(txlog.Op{Kind: txlog.OpPutDocs, Table: "public/widgets", Docs: []txlog.Doc{put}, Iids: [][16]byte{iid}}))

	patch := txlog.Doc{Id: "w1", Fields: map[string]interface{}{"_id": "w1", "qty": 2}, Order: []string{"_id", "qty"}}
	ix.IndexTx(2, time.Now(), envelope(txlog.Op{Kind: txlog.OpPatchDocs, Table: "public/widgets", Docs: []txlog.Doc{patch}, Iids: [][16]byte{iid}}))

	got, ok := ix.Get("public/widgets", "w1")
	if !ok {
		t.Fatal("expected document w1 to still be present")
	}
	if got["qty"] != 2 {
		t.Fatalf("expected qty to be patched to 2, got %+v", got["qty"])
	}
	if got["name"] != "sprocket" {
		t.Fatalf("expected name to survive the patch untouched, got %+v", got["name"])
	}
}

func TestIndexerDeleteDocsRemovesByIid(t *testing.T) {
	ix := New()
	iid := iidFor(t, "w1")
	put := txlog.Doc{Id: "w1", Fields: map[string]interface{}{"_id": "w1"}, Order: []string{"_id"}}
	ix.IndexTx(1, time.Now(), envelope(txlog.Op{Kind: txlog.OpPutDocs, Table: "public/widgets", Docs: []txlog.Doc{put}, Iids: [][16]byte{iid}}))

	ix.IndexTx(2, time.Now(), envelope(txlog.Op{Kind: txlog.OpDeleteDocs, Table: "public/widgets", Iids: [][16]byte{iid}}))

	if _, ok := ix.Get("public/widgets", "w1"); ok {
		t.Fatal("expected w1 to be gone after delete-docs")
	}
	if ix.Count("public/widgets") != 0 {
		t.Fatalf("expected 0 documents, got %d", ix.Count("public/widgets"))
	}
}

func TestIndexerForceFlushTracksLatestCompletedChunkTx(t *testing.T) {
	ix := New()
	if ix.LatestCompletedChunkTx() != nil {
		t.Fatal("expected no completed chunk before any ForceFlush")
	}
	if err := ix.ForceFlush(txlog.Record{Offset: 9}); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	ct := ix.LatestCompletedChunkTx()
	if ct == nil || ct.TxId != 9 {
		t.Fatalf("expected completed chunk at offset 9, got %+v", ct)
	}
}

func TestIndexerIgnoresNonDocumentOps(t *testing.T) {
	ix := New()
	applied, err := ix.IndexTx(1, time.Now(), envelope(txlog.Op{Kind: txlog.OpSQL, Query: "select 1"}))
	if err != nil {
		t.Fatalf("IndexTx: %v", err)
	}
	if applied.TxId != 1 {
		t.Fatalf("expected TxId 1 even for a non-document leg, got %d", applied.TxId)
	}
	ct := ix.LatestCompletedTx()
	if ct == nil || ct.TxId != 1 {
		t.Fatalf("expected LatestCompletedTx to still advance, got %+v", ct)
	}
}
