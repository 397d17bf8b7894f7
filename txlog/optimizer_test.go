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

import "testing"

func TestTryRewriteInsertRecognisesPlaceholderForm(t *testing.T) {
	args := encodeArgRows([][]interface{}{{"w1", "sprocket"}, {"w2", "widget"}})
	op := Op{Kind: OpSQL, Query: "INSERT INTO widgets (_id, name) VALUES (?, ?)", Args: args}

	rewritten, ok := tryRewriteInsert(op, "")
	if !ok {
		t.Fatal("expected the all-placeholder INSERT to be recognised")
	}
	if len(rewritten) != 1 || rewritten[0].Kind != OpPutDocs || rewritten[0].Table != "widgets" {
		t.Fatalf("unexpected rewrite result: %+v", rewritten)
	}
	if len(rewritten[0].Docs) != 2 {
		t.Fatalf("expected 2 docs (one per arg row), got %d", len(rewritten[0].Docs))
	}
	if rewritten[0].Docs[0].Id != "w1" || rewritten[0].Docs[1].Id != "w2" {
		t.Fatalf("expected _id to be picked out of each row, got %+v", rewritten[0].Docs)
	}
}

func TestTryRewriteInsertRequiresId(t *testing.T) {
	args := encodeArgRows([][]interface{}{{"sprocket"}})
	op := Op{Kind: OpSQL, Query: "INSERT INTO widgets (name) VALUES (?)", Args: args}
	if _, ok := tryRewriteInsert(op, ""); ok {
		t.Fatal("expected rewrite to decline an INSERT whose column list lacks _id")
	}
}

func TestTryRewriteInsertFallsThroughOnNonPlaceholderValues(t *testing.T) {
	op := Op{Kind: OpSQL, Query: "INSERT INTO widgets (_id, name) VALUES (1, 'sprocket')", Args: nil}
	if _, ok := tryRewriteInsert(op, ""); ok {
		t.Fatal("expected rewrite to decline literal (non-placeholder) values")
	}
}

func TestTryRewriteInsertFallsThroughOnUnrelatedQuery(t *testing.T) {
	op := Op{Kind: OpSQL, Query: "SELECT * FROM widgets", Args: nil}
	if _, ok := tryRewriteInsert(op, ""); ok {
		t.Fatal("expected rewrite to decline a non-INSERT query")
	}
}

func TestSerializeRewritesEligibleInsertAtEncodeTime(t *testing.T) {
	args := encodeArgRows([][]interface{}{{"w1", "sprocket"}})
	ops := []Op{{Kind: OpSQL, Query: "INSERT INTO widgets (_id, name) VALUES (?, ?)", Args: args}}

	data, err := Serialize(ops, TxOptions{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	_, it, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	op, ok := it.Next()
	if !ok {
		t.Fatal("expected one decoded op")
	}
	if op.Kind != OpPutDocs {
		t.Fatalf("expected Serialize to have rewritten the sql op into put-docs, got kind %v", op.Kind)
	}
}
