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

import "fmt"

// CodecErrorKind enumerates the fatal, whole-batch-rejecting encode failures
// of spec §4.1/§7.
type CodecErrorKind uint8

const (
	MissingId CodecErrorKind = iota
	ForbiddenTable
	ArgRowArityMismatch
	UnknownOpVariant
	InvalidValidRange
)

func (k CodecErrorKind) String() string {
	switch k {
	case MissingId:
		return "MissingId"
	case ForbiddenTable:
		return "ForbiddenTable"
	case ArgRowArityMismatch:
		return "ArgRowArityMismatch"
	case UnknownOpVariant:
		return "UnknownOpVariant"
	case InvalidValidRange:
		return "InvalidValidRange"
	}
	return "UnknownCodecError"
}

// CodecError is raised at serialise time; it is fatal for the whole batch.
type CodecError struct {
	Kind  CodecErrorKind
	Table string // populated for ForbiddenTable
	Detail string
}

func (e *CodecError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("txlog: %s: %s (%s)", e.Kind, e.Table, e.Detail)
	}
	if e.Detail != "" {
		return fmt.Sprintf("txlog: %s: %s", e.Kind, e.Detail)
	}
	return "txlog: " + e.Kind.String()
}

// LogIoError wraps an I/O failure from a Log backend. On the read path it
// is retried indefinitely by dispatcher workers; on the write path it is
// propagated to the append future's error.
type LogIoError struct {
	Op  string
	Err error
}

func (e *LogIoError) Error() string { return fmt.Sprintf("txlog: log i/o error during %s: %v", e.Op, e.Err) }
func (e *LogIoError) Unwrap() error { return e.Err }

// ErrChannelClosed is terminal for a dispatcher worker; it is never
// surfaced to the subscriber unless the worker was not itself shutting
// down.
type ErrChannelClosed struct{ Detail string }

func (e *ErrChannelClosed) Error() string { return "txlog: channel closed: " + e.Detail }

// ErrCancelled is a silent, terminal worker-loop condition (subscription
// closed by its owner).
type ErrCancelled struct{}

func (e *ErrCancelled) Error() string { return "txlog: cancelled" }

// IndexerError is captured per-offset by the watch registry and, once
// recorded, is promoted to the registry's sticky error.
type IndexerError struct {
	Offset int64
	Err    error
}

func (e *IndexerError) Error() string {
	return fmt.Sprintf("txlog: indexer error at offset %d: %v", e.Offset, e.Err)
}
func (e *IndexerError) Unwrap() error { return e.Err }
