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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	lz4 "github.com/pierrec/lz4/v4"
	"golang.org/x/sys/unix"
)

// LocalDirLog is the append-only file-segment backend of spec §4.2
// ("Local directory"). The active segment is chosen once, when the log is
// opened, from the replayed record count; appends never rotate to a new
// segment while the log is open. Each record frame is length-prefixed and
// lz4-compressed whenever that makes the payload smaller (compression is
// always on), the way scm/streams.go wraps a stream with an xz filter
// rather than hand-rolling compression.
//
// A flock on LOCK enforces the single-writer choke point of spec §5:
// exactly one process may hold the active segment open for append.
type LocalDirLog struct {
	path     string
	compress bool

	mu       sync.Mutex
	records  []Record // in-memory index: offset -> record, rebuilt from segments on open
	activeFh *os.File
	lockFh   *os.File

	instants InstantSource
	notify   notifyRegistry

	watcher *fsnotify.Watcher
	closed  bool
}

// OpenLocalDirLog opens (creating if absent) a local-directory log at
// path. It replays existing segments to rebuild the in-memory offset
// index, then opens the active segment for append under an advisory lock.
func OpenLocalDirLog(path string, cfg Config) (*LocalDirLog, error) {
	cfg = cfg.WithDefaults()
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, &LogIoError{Op: "mkdir", Err: err}
	}

	lockFh, err := os.OpenFile(filepath.Join(path, "LOCK"), os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, &LogIoError{Op: "open lock", Err: err}
	}
	if err := unix.Flock(int(lockFh.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFh.Close()
		return nil, &LogIoError{Op: "flock", Err: fmt.Errorf("log at %s already held by another writer: %w", path, err)}
	}

	l := &LocalDirLog{path: path, compress: true, instants: cfg.InstantSource, lockFh: lockFh}

	if err := l.replay(); err != nil {
		lockFh.Close()
		return nil, err
	}
	if err := l.openActiveSegment(); err != nil {
		lockFh.Close()
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err == nil {
		_ = w.Add(path)
		l.watcher = w
	}

	return l, nil
}

func (l *LocalDirLog) segmentPath(n int) string {
	return filepath.Join(l.path, fmt.Sprintf("segment.%08d.log", n))
}

// replay scans every segment.NNNNNNNN.log file in order, rebuilding the
// in-memory offset index, matching persistence-files.go's bufio-scanner
// replay but over length-prefixed binary frames instead of jsonl.
func (l *LocalDirLog) replay() error {
	entries, err := os.ReadDir(l.path)
	if err != nil {
		return nil // fresh directory
	}
	var segFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".log" {
			segFiles = append(segFiles, e.Name())
		}
	}
	sortStrings(segFiles)

	var offset int64
	for _, name := range segFiles {
		f, err := os.Open(filepath.Join(l.path, name))
		if err != nil {
			continue
		}
		r := bufio.NewReader(f)
		for {
			rec, ok, err := readFrame(r, l.instants)
			if err != nil {
				break
			}
			if !ok {
				break
			}
			rec.Offset = offset
			l.records = append(l.records, rec)
			offset++
		}
		f.Close()
	}
	return nil
}

func (l *LocalDirLog) openActiveSegment() error {
	n := l.currentSegmentIndex()
	f, err := os.OpenFile(l.segmentPath(n), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0640)
	if err != nil {
		return &LogIoError{Op: "open segment", Err: err}
	}
	l.activeFh = f
	return nil
}

func (l *LocalDirLog) currentSegmentIndex() int {
	return len(l.records) / 1_000_000 // coarse: one segment number per million records, evaluated only at open
}

// frame layout: [uint32 length = 13 + stored payload length][int64 little-endian unix-nano timestamp][1 byte: 1=compressed,0=raw][uint32 uncompressed length][payload, optionally lz4-compressed]
func writeFrame(w io.Writer, rec Record, data []byte, compress bool) error {
	payload := data
	flag := byte(0)
	if compress {
		compressed := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, compressed, nil)
		if err == nil && n > 0 && n < len(data) {
			payload = compressed[:n]
			flag = 1
		}
	}
	var hdr [13]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload))+1+8+4)
	binary.LittleEndian.PutUint64(hdr[4:12], uint64(rec.Timestamp.UnixNano()))
	hdr[12] = flag
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	var rawLen [4]byte
	binary.LittleEndian.PutUint32(rawLen[:], uint32(len(data)))
	if _, err := w.Write(rawLen[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r *bufio.Reader, instants InstantSource) (Record, bool, error) {
	var hdr [13]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Record{}, false, err
	}
	frameLen := binary.LittleEndian.Uint32(hdr[0:4])
	ts := time.Unix(0, int64(binary.LittleEndian.Uint64(hdr[4:12])))
	flag := hdr[12]

	payloadLen := int(frameLen) - 1 - 8 - 4
	var rawLen [4]byte
	if _, err := io.ReadFull(r, rawLen[:]); err != nil {
		return Record{}, false, err
	}
	rawN := int(binary.LittleEndian.Uint32(rawLen[:]))

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Record{}, false, err
	}
	data := payload
	if flag == 1 {
		dst := make([]byte, rawN)
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return Record{}, false, err
		}
		data = dst[:n]
	}
	msg, err := decodeMessage(data)
	if err != nil {
		return Record{}, false, err
	}
	return Record{Timestamp: ts, Message: msg}, true, nil
}

func (l *LocalDirLog) appendRaw(kind MessageKind, data []byte, extra Message) *AppendFuture {
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
		data = encodeMessage(extra)
	}

	if err := writeFrame(l.activeFh, rec, data, l.compress); err != nil {
		l.mu.Unlock()
		return resolvedFuture(0, &LogIoError{Op: "write", Err: err})
	}
	if err := l.activeFh.Sync(); err != nil {
		l.mu.Unlock()
		return resolvedFuture(0, &LogIoError{Op: "fsync", Err: err})
	}
	l.records = append(l.records, rec)
	l.mu.Unlock()

	l.notify.notifyAll()
	return resolvedFuture(offset, nil)
}

func (l *LocalDirLog) AppendTx(data []byte) *AppendFuture { return l.appendRaw(MsgTx, data, Message{}) }
func (l *LocalDirLog) AppendMessage(msg Message) *AppendFuture {
	return l.appendRaw(msg.Kind, nil, msg)
}

func (l *LocalDirLog) ReadRecords(afterOffset int64, max int) ([]Record, error) {
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

func (l *LocalDirLog) LatestSubmittedOffset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.records)) - 1
}

// Subscribe prefers the notifying dispatcher: the directory's fsnotify
// watcher stands in for the log's own push notification (spec §4.3b) even
// though this is a file-backed log, not an in-process one. If the watcher
// failed to start, Subscribe falls back to polling (spec §4.3a).
func (l *LocalDirLog) Subscribe(sub Subscriber) (Subscription, error) {
	if l.watcher == nil {
		return startPollingDispatcher(l, sub, defaultPollSleep)
	}
	go func() {
		for range l.watcher.Events {
			l.notify.notifyAll()
		}
	}()
	return startNotifyingDispatcher(l, sub, defaultNotifyCap)
}

func (l *LocalDirLog) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	if l.watcher != nil {
		l.watcher.Close()
	}
	if l.activeFh != nil {
		l.activeFh.Close()
	}
	unix.Flock(int(l.lockFh.Fd()), unix.LOCK_UN)
	return l.lockFh.Close()
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
