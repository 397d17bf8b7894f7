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
	"testing"
	"time"
)

func putDoc(table string, fields map[string]interface{}, order []string) Op {
	return Op{Kind: OpPutDocs, Table: table, Docs: []Doc{{Fields: fields, Order: order}}}
}

func TestSerializeDecodeRoundTrip(t *testing.T) {
	ops := []Op{
		putDoc("public/widgets", map[string]interface{}{"_id": "w1", "name": "sprocket"}, []string{"_id", "name"}),
	}
	data, err := Serialize(ops, TxOptions{DefaultTz: "UTC"})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if data[0] != headerTx {
		t.Fatalf("expected header byte 0x%02x, got 0x%02x", headerTx, data[0])
	}

	tx, it, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if tx.DefaultTz != "UTC" {
		t.Fatalf("expected DefaultTz UTC, got %q", tx.DefaultTz)
	}

	op, ok := it.Next()
	if !ok {
		t.Fatal("expected one op, got none")
	}
	if op.Kind != OpPutDocs || op.Table != "public/widgets" {
		t.Fatalf("unexpected decoded op: %+v", op)
	}
	if len(op.Docs) != 1 || op.Docs[0].Id != "w1" {
		t.Fatalf("unexpected decoded doc: %+v", op.Docs)
	}
	if _, ok := it.Next(); ok {
		t.Fatal("expected iterator exhausted after one op")
	}
}

func TestSerializeMissingIdRejected(t *testing.T) {
	ops := []Op{putDoc("public/widgets", map[string]interface{}{"name": "sprocket"}, []string{"name"})}
	_, err := Serialize(ops, TxOptions{})
	if err == nil {
		t.Fatal("expected error for doc missing _id")
	}
	ce, ok := err.(*CodecError)
	if !ok || ce.Kind != MissingId {
		t.Fatalf("expected MissingId CodecError, got %#v", err)
	}
}

func TestSerializeForbiddenTableRejected(t *testing.T) {
	ops := []Op{putDoc("xt/secrets", map[string]interface{}{"_id": "1"}, []string{"_id"})}
	_, err := Serialize(ops, TxOptions{})
	if err == nil {
		t.Fatal("expected error for forbidden table prefix")
	}
	ce, ok := err.(*CodecError)
	if !ok || ce.Kind != ForbiddenTable {
		t.Fatalf("expected ForbiddenTable CodecError, got %#v", err)
	}
}

func TestSerializeForbiddenTableException(t *testing.T) {
	ops := []Op{putDoc(allowedForbiddenException, map[string]interface{}{"_id": "fn1"}, []string{"_id"})}
	if _, err := Serialize(ops, TxOptions{}); err != nil {
		t.Fatalf("expected xt/tx_fns to be allowed, got %v", err)
	}
}

func TestSerializeArgRowArityMismatch(t *testing.T) {
	args := encodeArgRows([][]interface{}{{1, "a"}, {2}})
	ops := []Op{{Kind: OpSQL, Query: "select ?, ?", Args: args}}
	_, err := Serialize(ops, TxOptions{})
	if err == nil {
		t.Fatal("expected arity-mismatch error")
	}
	ce, ok := err.(*CodecError)
	if !ok || ce.Kind != ArgRowArityMismatch {
		t.Fatalf("expected ArgRowArityMismatch CodecError, got %#v", err)
	}
}

func TestSerializeValidRangeOrderRejected(t *testing.T) {
	from := time.Now().Add(time.Hour)
	to := time.Now()
	ops := []Op{{Kind: OpDeleteDocs, Table: "public/widgets", ValidFrom: &from, ValidTo: &to}}
	_, err := Serialize(ops, TxOptions{})
	if err == nil {
		t.Fatal("expected error when valid-from is after valid-to")
	}
	ce, ok := err.(*CodecError)
	if !ok || ce.Kind != InvalidValidRange {
		t.Fatalf("expected InvalidValidRange CodecError, got %#v", err)
	}
}

func TestNormaliseTableDefaultsSchema(t *testing.T) {
	if got := normaliseTable("widgets", ""); got != "public/widgets" {
		t.Fatalf("expected public/widgets, got %q", got)
	}
	if got := normaliseTable("custom/widgets", "ignored"); got != "custom/widgets" {
		t.Fatalf("expected table with explicit schema left alone, got %q", got)
	}
}

func TestComputeIidDeterministic(t *testing.T) {
	a := computeIid("w1")
	b := computeIid("w1")
	c := computeIid("w2")
	if a != b {
		t.Fatal("expected computeIid to be deterministic for the same id")
	}
	if a == c {
		t.Fatal("expected computeIid to differ across distinct ids")
	}
}

func TestFindIdCaseFold(t *testing.T) {
	fields := map[string]interface{}{"_ID": "upper-id"}
	id, ok := findId(fields, []string{"_ID"})
	if !ok || id != "upper-id" {
		t.Fatalf("expected case-folded _id lookup to find _ID, got %v, %v", id, ok)
	}
}
