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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/launix-de/NonLockingReadMap"
	"golang.org/x/sync/semaphore"
)

// Log is the append-only, totally-ordered record store of spec §4.2.
// Offsets are dense, strictly increasing, and assigned by the log itself
// on append.
type Log interface {
	AppendTx(data []byte) *AppendFuture
	AppendMessage(msg Message) *AppendFuture
	ReadRecords(afterOffset int64, max int) ([]Record, error)
	LatestSubmittedOffset() int64
	Subscribe(sub Subscriber) (Subscription, error)
	Close() error
}

// Subscriber receives records strictly in offset order (spec §4.3).
// Returning a non-nil error is treated as ChannelClosed by the dispatcher:
// terminal for that worker.
type Subscriber interface {
	Deliver(rec Record) error
}

// Subscription is the closeable handle returned by Subscribe. Closing it
// interrupts and joins the dispatcher worker (spec §4.3/§5); Close is
// idempotent.
type Subscription interface {
	Close() error
}

// AppendFuture is the future<offset> of spec §4.2: callers may await it or
// fire-and-forget.
type AppendFuture struct {
	done   chan struct{}
	offset int64
	err    error
}

func newAppendFuture() *AppendFuture {
	return &AppendFuture{done: make(chan struct{})}
}

func resolvedFuture(offset int64, err error) *AppendFuture {
	f := newAppendFuture()
	f.resolve(offset, err)
	return f
}

func (f *AppendFuture) resolve(offset int64, err error) {
	f.offset, f.err = offset, err
	close(f.done)
}

// Wait blocks until the append durably completes (or ctx is done) and
// returns the assigned offset.
func (f *AppendFuture) Wait(ctx context.Context) (int64, error) {
	select {
	case <-f.done:
		return f.offset, f.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ---- wire framing (spec §6) --------------------------------------------

// encodeMessage turns a Message into the raw record payload a Log stores.
// The header byte is part of the wire contract: 0xFF = Tx, 0x02 =
// FlushChunk, 0x03 = TriesAdded (reserved by this implementation).
func encodeMessage(m Message) []byte {
	switch m.Kind {
	case MsgTx:
		return m.TxBytes
	case MsgFlushChunk:
		out := make([]byte, 9)
		out[0] = headerFlushChunk
		binary.LittleEndian.PutUint64(out[1:], uint64(m.ExpectedPrevChunkTxId))
		return out
	case MsgTriesAdded:
		body, _ := json.Marshal(m.TriesAdded)
		out := make([]byte, 0, len(body)+1)
		out = append(out, headerTriesAdded)
		out = append(out, body...)
		return out
	}
	panic(fmt.Sprintf("txlog: unknown message kind %d", m.Kind))
}

const headerTriesAdded byte = 0x03

func decodeMessage(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, &CodecError{Kind: UnknownOpVariant, Detail: "empty record payload"}
	}
	switch data[0] {
	case headerTx:
		return Message{Kind: MsgTx, TxBytes: data}, nil
	case headerFlushChunk:
		if len(data) < 9 {
			return Message{}, &CodecError{Kind: UnknownOpVariant, Detail: "short FlushChunk payload"}
		}
		id := int64(binary.LittleEndian.Uint64(data[1:9]))
		return Message{Kind: MsgFlushChunk, ExpectedPrevChunkTxId: id}, nil
	case headerTriesAdded:
		var tries []TrieAddition
		if err := json.Unmarshal(data[1:], &tries); err != nil {
			return Message{}, &CodecError{Kind: UnknownOpVariant, Detail: err.Error()}
		}
		return Message{Kind: MsgTriesAdded, TriesAdded: tries}, nil
	default:
		return Message{}, &CodecError{Kind: UnknownOpVariant, Detail: fmt.Sprintf("unrecognised header byte 0x%02x", data[0])}
	}
}

// ---- push-notification registry ----------------------------------------

// notifySlot is one subscriber's counting signal (spec §4.3b): a
// semaphore that starts with no permits available and is released once per
// new append. Its capacity is 1000 × defaultNotifyCap outstanding permits.
type notifySlot struct {
	id  uint64
	sem *semaphore.Weighted
}

func (s *notifySlot) GetKey() uint64  { return s.id }
func (s *notifySlot) ComputeSize() uint { return 40 }

// notifyRegistry is the "atomic map-of-sets" design note of spec.md §9,
// implemented with launix-de/NonLockingReadMap: inserts/removes happen on
// subscribe/close, iteration happens on every notify.
type notifyRegistry struct {
	slots  NonLockingReadMap.NonLockingReadMap[notifySlot, uint64]
	nextID uint64
}

func (r *notifyRegistry) register() (id uint64, sem *semaphore.Weighted) {
	id = atomic.AddUint64(&r.nextID, 1)
	sem = semaphore.NewWeighted(int64(defaultNotifyCap) * 1000) // generous ceiling; live mode drains surplus itself
	sem.TryAcquire(int64(defaultNotifyCap) * 1000)              // start at zero: only appends make permits available
	r.slots.Set(&notifySlot{id: id, sem: sem})
	return
}

func (r *notifyRegistry) unregister(id uint64) {
	r.slots.Remove(id)
}

func (r *notifyRegistry) notifyAll() {
	for _, s := range r.slots.GetAll() {
		s.sem.Release(1)
	}
}

// ---- in-memory backend ---------------------------------------------------

// MemoryLog is the in-memory reference implementation of spec §4.2,
// used for tests and for deployments that accept losing the log on
// process exit. It keeps every appended record in one slice; records are
// never bounded or evicted. An InstantSource gives deterministic timestamps in tests.
type MemoryLog struct {
	mu      sync.Mutex
	records []Record
	closed  bool

	instants InstantSource
	notify   notifyRegistry
}

// NewMemoryLog creates an empty in-memory log. instants may be nil to use
// the wall clock.
func NewMemoryLog(instants InstantSource) *MemoryLog {
	if instants == nil {
		instants = SystemInstantSource{}
	}
	return &MemoryLog{instants: instants}
}

func (l *MemoryLog) appendPayload(kind MessageKind, data []byte, extra Message) *AppendFuture {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return resolvedFuture(0, &LogIoError{Op: "append", Err: fmt.Errorf("log closed")})
	}
	offset := int64(len(l.records))
	rec := Record{Offset: offset, Timestamp: l.instants.Now()}
	if kind == MsgTx {
		rec.Message = Message{Kind: MsgTx, TxBytes: data}
	} else {
		rec.Message = extra
	}
	l.records = append(l.records, rec)
	l.mu.Unlock()

	l.notify.notifyAll()
	return resolvedFuture(offset, nil)
}

func (l *MemoryLog) AppendTx(data []byte) *AppendFuture {
	return l.appendPayload(MsgTx, data, Message{})
}

func (l *MemoryLog) AppendMessage(msg Message) *AppendFuture {
	return l.appendPayload(msg.Kind, nil, msg)
}

func (l *MemoryLog) ReadRecords(afterOffset int64, max int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := afterOffset + 1
	if start < 0 {
		start = 0
	}
	if start >= int64(len(l.records)) {
		return nil, nil
	}
	end := start + int64(max)
	if end > int64(len(l.records)) {
		end = int64(len(l.records))
	}
	out := make([]Record, end-start)
	copy(out, l.records[start:end])
	return out, nil
}

func (l *MemoryLog) LatestSubmittedOffset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.records)) - 1
}

func (l *MemoryLog) Subscribe(sub Subscriber) (Subscription, error) {
	return startNotifyingDispatcher(l, sub, defaultNotifyCap)
}

func (l *MemoryLog) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
