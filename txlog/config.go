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
	"time"

	units "github.com/docker/go-units"
)

// Config collects the recognised option keys of spec §6, mirroring
// storage/settings.go's plain-struct-plus-defaults style rather than a
// generic options map.
type Config struct {
	// Path is the filesystem root for local-directory log segments.
	Path string

	// BufferSizeBytes is the append buffer size in bytes (default 4096).
	// No log backend in this package reads it; appends are written to the
	// segment file directly.
	BufferSizeBytes int

	// PollSleepDuration is the polling dispatcher's idle backoff (default
	// 100ms). The log backends' Subscribe methods do not read it; their
	// polling dispatchers always sleep defaultPollSleep.
	PollSleepDuration time.Duration

	// FlushTimeout is the flusher's idle threshold before a FlushChunk is
	// issued. NewFlusher takes its timeout as an argument and does not read
	// this field.
	FlushTimeout time.Duration

	// InstantSource overrides the wall clock; tests inject a fake one.
	InstantSource InstantSource
}

const (
	defaultBufferSize        = 4096
	defaultPollSleep         = 100 * time.Millisecond
	defaultNotifyCap         = 100 // notifying dispatcher read/permit cap, spec §4.3/§9
	defaultPollBatch         = 100 // polling dispatcher read batch, spec §4.3
	defaultSegmentRotateSize = 64 * 1024 * 1024
)

// WithDefaults fills zero-valued fields with spec-mandated defaults.
func (c Config) WithDefaults() Config {
	if c.BufferSizeBytes == 0 {
		c.BufferSizeBytes = defaultBufferSize
	}
	if c.PollSleepDuration == 0 {
		c.PollSleepDuration = defaultPollSleep
	}
	if c.InstantSource == nil {
		c.InstantSource = SystemInstantSource{}
	}
	return c
}

// ParseBufferSize parses a human-readable size ("4MiB", "512k") using the
// same docker/go-units convention memcp's config would reach for, rather
// than a hand-rolled suffix parser.
func ParseBufferSize(s string) (int, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
