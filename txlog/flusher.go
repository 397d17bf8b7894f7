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

// Flusher is the idle-triggered state machine of spec §4.4, owned by a
// Processor. It decides when the indexer's chunk boundary has gone stale
// and a synthetic FlushChunk control message should be requested.
type Flusher struct {
	flushTimeout      time.Duration
	lastFlushCheck    time.Time
	previousChunkTxId int64
	flushedTxId       int64

	instants InstantSource
	started  bool
}

// NewFlusher creates a Flusher with the given idle threshold. instants may
// be nil to use the wall clock.
func NewFlusher(flushTimeout time.Duration, instants InstantSource) *Flusher {
	if instants == nil {
		instants = SystemInstantSource{}
	}
	return &Flusher{flushTimeout: flushTimeout, instants: instants}
}

// Check implements the four-step decision of spec §4.4. currentChunkTxId is
// the indexer's latest durable chunk boundary; latestCompletedTxId is the
// indexer's latest applied tx. It returns (message, true) when a
// FlushChunk should be appended, (zero, false) otherwise.
func (f *Flusher) Check(currentChunkTxId, latestCompletedTxId int64) (Message, bool) {
	now := f.instants.Now()

	if !f.started {
		f.started = true
		f.lastFlushCheck = now
		f.previousChunkTxId = currentChunkTxId
		return Message{}, false
	}

	if now.Sub(f.lastFlushCheck) < f.flushTimeout {
		return Message{}, false
	}

	if f.flushedTxId == latestCompletedTxId {
		return Message{}, false
	}

	if currentChunkTxId != f.previousChunkTxId {
		f.lastFlushCheck = now
		f.previousChunkTxId = currentChunkTxId
		return Message{}, false
	}

	f.lastFlushCheck = now
	f.flushedTxId = latestCompletedTxId
	return Message{Kind: MsgFlushChunk, ExpectedPrevChunkTxId: currentChunkTxId}, true
}
