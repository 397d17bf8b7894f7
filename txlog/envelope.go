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

// Package txlog implements the transaction log ingestion pipeline: a
// self-describing tx-op codec, an append-only totally-ordered log, a
// subscription dispatcher with catch-up/live delivery, a flush-chunk
// idleness trigger and the single-consumer indexer driver that ties them
// together.
package txlog

import "time"

// OpKind tags the union leg of a tx-op (dense union, see spec §3).
type OpKind uint8

const (
	OpSQL OpKind = iota
	OpXTQL
	OpPutDocs
	OpPatchDocs
	OpDeleteDocs
	OpEraseDocs
	OpCall
	OpAbort
)

func (k OpKind) String() string {
	switch k {
	case OpSQL:
		return "sql"
	case OpXTQL:
		return "xtql"
	case OpPutDocs:
		return "put-docs"
	case OpPatchDocs:
		return "patch-docs"
	case OpDeleteDocs:
		return "delete-docs"
	case OpEraseDocs:
		return "erase-docs"
	case OpCall:
		return "call"
	case OpAbort:
		return "abort"
	}
	return "unknown"
}

// Doc is one row for a put-docs/patch-docs table leg. Order preserves the
// document's field order as submitted; on decode, Id is set to the `_id`
// value found by the case-normalised key-walk over Order.
type Doc struct {
	Id     interface{}
	Fields map[string]interface{}
	Order  []string // field insertion order, for stable re-encoding
}

// Op is one tagged-union transaction operation.
type Op struct {
	Kind OpKind

	// sql / xtql
	Query string      // sql: query text. xtql: opaque serialised form, kept as string.
	Args  []byte       // opaque columnar IPC stream of one struct row per parameter set

	// put-docs / patch-docs
	Table     string
	Docs      []Doc
	Iids      [][16]byte
	ValidFrom *time.Time
	ValidTo   *time.Time

	// delete-docs / erase-docs also use Table, Iids, ValidFrom, ValidTo

	// call
	FnIid [16]byte
	CallArgs string // opaque serialised form
}

// TxOptions carries the per-envelope metadata outside the op list.
type TxOptions struct {
	SystemTime *time.Time // forces logical commit time when present
	DefaultTz  string     // IANA zone for bare timestamps
	User       *string    // nullable authenticated principal
}

// TxEnvelope is the single-row columnar record describing one submitted
// transaction on the wire (spec §3, "Transaction envelope").
type TxEnvelope struct {
	Ops TxOptions
	TxOps []Op
}

// MessageKind tags the log record payload (spec §3/§6).
type MessageKind uint8

const (
	// header byte values are part of the wire contract (spec §6)
	headerTx         byte = 0xFF
	headerFlushChunk byte = 0x02
)

const (
	MsgTx MessageKind = iota
	MsgFlushChunk
	MsgTriesAdded
)

// TrieAddition names one (table, trie-key) pair delivered via TriesAdded.
type TrieAddition struct {
	Table   string
	TrieKey string
}

// Message is the decoded form of a log record's payload.
type Message struct {
	Kind MessageKind

	TxBytes []byte // MsgTx: raw envelope bytes, still encoded; decode lazily via DecodeRecord

	ExpectedPrevChunkTxId int64 // MsgFlushChunk

	TriesAdded []TrieAddition // MsgTriesAdded
}

// Record is one entry in the log: a monotone offset, a timestamp assigned
// at append time, and a decoded message kind.
type Record struct {
	Offset    int64
	Timestamp time.Time
	Message   Message
}
