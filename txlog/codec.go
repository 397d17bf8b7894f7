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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

var idFold = cases.Fold()

// forbiddenTablePrefixes are rejected at encode time (spec §3), except the
// single literal exception xt/tx_fns.
var forbiddenTablePrefixes = []string{"xt/", "information_schema/", "pg_catalog/"}

const allowedForbiddenException = "xt/tx_fns"

// normaliseTable applies the default schema when the table name carries no
// "schema/" prefix, yielding the stable "schema/table" wire form.
func normaliseTable(table, defaultSchema string) string {
	if strings.Contains(table, "/") {
		return table
	}
	if defaultSchema == "" {
		defaultSchema = "public"
	}
	return defaultSchema + "/" + table
}

// isForbiddenTable reports whether writes to table are rejected (spec §3).
func isForbiddenTable(table string) bool {
	if table == allowedForbiddenException {
		return false
	}
	for _, p := range forbiddenTablePrefixes {
		if strings.HasPrefix(table, p) {
			return true
		}
	}
	return false
}

// computeIid returns the 16-byte deterministic hash of a document's _id.
// It reuses google/uuid (already used by storage/fast_uuid.go for random
// ids) for a deterministic, namespaced SHA-1 hash instead.
var iidNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8") // same well-known namespace family as uuid.NameSpaceDNS

func computeIid(id interface{}) [16]byte {
	raw, _ := json.Marshal(id)
	return [16]byte(uuid.NewSHA1(iidNamespace, raw))
}

// findId walks a document's fields once (case-normalised) to locate `_id`,
// per spec §4.1 ("walks keys once ... in the same pass").
func findId(fields map[string]interface{}, order []string) (interface{}, bool) {
	target := idFold.String("_id")
	for _, k := range order {
		if idFold.String(k) == target {
			return fields[k], true
		}
	}
	return nil, false
}

// txWriter implements the "deferred writer construction" design (spec §9):
// per-variant sub-builders are created only on first use, and the order in
// which kinds first appear is recorded as the union's type descriptor so a
// reader can reconstruct dense-union leg ordering deterministically.
type txWriter struct {
	legOrder []OpKind
	seen     map[OpKind]bool
	ops      []wireOp
}

func newTxWriter() *txWriter {
	return &txWriter{seen: make(map[OpKind]bool)}
}

func (w *txWriter) noteKind(k OpKind) {
	if !w.seen[k] {
		w.seen[k] = true
		w.legOrder = append(w.legOrder, k)
	}
}

// WriteOps appends ops into a caller-supplied writer, preserving order
// (spec §4.1's `write_ops`). Bare schema-less table names get the default
// "public" schema; defaultTz is a time zone and is not used for table names.
func WriteOps(w *txWriter, ops []Op, defaultTz string) error {
	for _, op := range ops {
		wo, err := encodeOp(op, defaultTz)
		if err != nil {
			return err
		}
		w.noteKind(op.Kind)
		w.ops = append(w.ops, wo)
	}
	return nil
}

// Serialize produces a self-describing columnar envelope containing
// exactly one row whose tx-ops list holds the encoded ops in input order
// (spec §4.1's `serialize`). All-or-nothing: on any CodecError no bytes are
// emitted.
func Serialize(ops []Op, opts TxOptions) ([]byte, error) {
	w := newTxWriter()
	rewritten := make([]Op, 0, len(ops))
	for _, op := range ops {
		if op.Kind == OpSQL {
			if puts, ok := tryRewriteInsert(op, opts.DefaultTz); ok {
				rewritten = append(rewritten, puts...)
				continue
			}
		}
		rewritten = append(rewritten, op)
	}
	if err := WriteOps(w, rewritten, opts.DefaultTz); err != nil {
		return nil, err
	}

	env := wireEnvelope{
		TxOps:      w.ops,
		LegOrder:   w.legOrder,
		SystemTime: opts.SystemTime,
		DefaultTz:  opts.DefaultTz,
		User:       opts.User,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, headerTx)
	out = append(out, payload...)
	return out, nil
}

// ---- wire types -----------------------------------------------------

type wireIid [16]byte

func (i wireIid) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(i[:]))
}
func (i *wireIid) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return fmt.Errorf("txlog: invalid iid %q", s)
	}
	copy(i[:], raw)
	return nil
}

type wireDoc struct {
	Fields map[string]interface{} `json:"fields"`
	Order  []string               `json:"order"`
}

type wireOp struct {
	Kind OpKind `json:"kind"`

	Query string `json:"query,omitempty"`
	Args  []byte `json:"args,omitempty"`

	Table     string     `json:"table,omitempty"`
	Docs      []wireDoc  `json:"docs,omitempty"`
	Iids      []wireIid  `json:"iids,omitempty"`
	ValidFrom *time.Time `json:"valid_from,omitempty"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`

	FnIid    wireIid `json:"fn_iid,omitempty"`
	CallArgs string  `json:"call_args,omitempty"`
}

type wireEnvelope struct {
	TxOps      []wireOp   `json:"tx_ops"`
	LegOrder   []OpKind   `json:"leg_order"`
	SystemTime *time.Time `json:"system_time,omitempty"`
	DefaultTz  string     `json:"default_tz"`
	User       *string    `json:"user,omitempty"`
}

// encodeOp validates and converts one Op into its wire form. Invariants
// enforced here (spec §3): valid-from <= valid-to, _id presence, forbidden
// tables, iid/doc length parity, SQL arg-row arity.
func encodeOp(op Op, defaultTz string) (wireOp, error) {
	switch op.Kind {
	case OpSQL:
		if err := checkArgRowArity(op.Args); err != nil {
			return wireOp{}, err
		}
		return wireOp{Kind: OpSQL, Query: op.Query, Args: op.Args}, nil
	case OpXTQL:
		return wireOp{Kind: OpXTQL, Query: op.Query, Args: op.Args}, nil
	case OpPutDocs, OpPatchDocs:
		return encodeDocsOp(op, defaultTz)
	case OpDeleteDocs, OpEraseDocs:
		table := normaliseTable(op.Table, "")
		if isForbiddenTable(table) {
			return wireOp{}, &CodecError{Kind: ForbiddenTable, Table: table}
		}
		if err := checkValidRange(op.ValidFrom, op.ValidTo); err != nil {
			return wireOp{}, err
		}
		iids := make([]wireIid, len(op.Iids))
		for i, b := range op.Iids {
			iids[i] = wireIid(b)
		}
		return wireOp{Kind: op.Kind, Table: table, Iids: iids, ValidFrom: op.ValidFrom, ValidTo: op.ValidTo}, nil
	case OpCall:
		return wireOp{Kind: OpCall, FnIid: wireIid(op.FnIid), CallArgs: op.CallArgs}, nil
	case OpAbort:
		return wireOp{Kind: OpAbort}, nil
	default:
		return wireOp{}, &CodecError{Kind: UnknownOpVariant, Detail: fmt.Sprintf("kind=%d", op.Kind)}
	}
}

func encodeDocsOp(op Op, defaultTz string) (wireOp, error) {
	table := normaliseTable(op.Table, "")
	if isForbiddenTable(table) {
		return wireOp{}, &CodecError{Kind: ForbiddenTable, Table: table}
	}
	if err := checkValidRange(op.ValidFrom, op.ValidTo); err != nil {
		return wireOp{}, err
	}

	docs := make([]wireDoc, len(op.Docs))
	iids := make([]wireIid, len(op.Docs))
	for i, d := range op.Docs {
		id, ok := findId(d.Fields, d.Order)
		if !ok || id == nil {
			return wireOp{}, &CodecError{Kind: MissingId, Table: table, Detail: fmt.Sprintf("doc index %d", i)}
		}
		docs[i] = wireDoc{Fields: d.Fields, Order: d.Order}
		iids[i] = wireIid(computeIid(id))
	}

	return wireOp{
		Kind:      op.Kind,
		Table:     table,
		Docs:      docs,
		Iids:      iids,
		ValidFrom: op.ValidFrom,
		ValidTo:   op.ValidTo,
	}, nil
}

func checkValidRange(from, to *time.Time) error {
	if from != nil && to != nil && from.After(*to) {
		return &CodecError{Kind: InvalidValidRange, Detail: "valid-from must be <= valid-to"}
	}
	return nil
}

// checkArgRowArity decodes the opaque columnar IPC stream of SQL parameter
// rows (one struct row per parameter set, spec §3) and verifies all rows
// share the same arity.
func checkArgRowArity(args []byte) error {
	if len(args) == 0 {
		return nil
	}
	rows, err := decodeArgRows(args)
	if err != nil {
		return &CodecError{Kind: ArgRowArityMismatch, Detail: err.Error()}
	}
	if len(rows) == 0 {
		return nil
	}
	arity := len(rows[0])
	for _, r := range rows[1:] {
		if len(r) != arity {
			return &CodecError{Kind: ArgRowArityMismatch, Detail: fmt.Sprintf("expected arity %d, got %d", arity, len(r))}
		}
	}
	return nil
}

// decodeArgRows/encodeArgRows implement the "opaque-byte-blob" columnar IPC
// stream of one struct row per SQL parameter set as a plain JSON array of
// arrays, the same self-describing convention the rest of the envelope
// uses (see DESIGN.md on why no Arrow-Go dependency is available in this
// corpus).
func decodeArgRows(args []byte) ([][]interface{}, error) {
	var rows [][]interface{}
	if err := json.Unmarshal(args, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func encodeArgRows(rows [][]interface{}) []byte {
	b, _ := json.Marshal(rows)
	return b
}

// ---- decode -----------------------------------------------------------

// DecodedTx is the result of decoding one Tx record's bytes.
type DecodedTx struct {
	SystemTime *time.Time
	DefaultTz  string
	User       *string
	ops        []wireOp
}

// OpIterator is the lazy, single-pass sequence over a decoded record's
// ops (spec §4.1 `decode_record`'s `ops: iter<Op>`). Each call to Next
// converts exactly one already-parsed wire op into its public Op form and
// advances the cursor; no op is visited twice.
type OpIterator struct {
	ops []wireOp
	pos int
}

func (it *OpIterator) Next() (Op, bool) {
	if it.pos >= len(it.ops) {
		return Op{}, false
	}
	wo := it.ops[it.pos]
	it.pos++
	return decodeOp(wo), true
}

func decodeOp(wo wireOp) Op {
	op := Op{Kind: wo.Kind, Query: wo.Query, Args: wo.Args, Table: wo.Table, ValidFrom: wo.ValidFrom, ValidTo: wo.ValidTo, FnIid: [16]byte(wo.FnIid), CallArgs: wo.CallArgs}
	if len(wo.Docs) > 0 {
		op.Docs = make([]Doc, len(wo.Docs))
		for i, d := range wo.Docs {
			id, _ := findId(d.Fields, d.Order)
			op.Docs[i] = Doc{Id: id, Fields: d.Fields, Order: d.Order}
		}
	}
	if len(wo.Iids) > 0 {
		op.Iids = make([][16]byte, len(wo.Iids))
		for i, iid := range wo.Iids {
			op.Iids[i] = [16]byte(iid)
		}
	}
	return op
}

// DecodeRecord decodes a Tx record's bytes into its envelope metadata and a
// lazy iterator over its ops (spec §4.1). The leading header byte must be
// 0xFF (spec §6); a stale/mismatched header is an UnknownOpVariant.
func DecodeRecord(data []byte) (*DecodedTx, *OpIterator, error) {
	if len(data) == 0 || data[0] != headerTx {
		return nil, nil, &CodecError{Kind: UnknownOpVariant, Detail: "missing Tx header byte"}
	}
	var env wireEnvelope
	if err := json.Unmarshal(data[1:], &env); err != nil {
		return nil, nil, &CodecError{Kind: UnknownOpVariant, Detail: err.Error()}
	}
	d := &DecodedTx{SystemTime: env.SystemTime, DefaultTz: env.DefaultTz, User: env.User, ops: env.TxOps}
	return d, &OpIterator{ops: env.TxOps}, nil
}
