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
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ulikunitz/xz"
)

// S3Factory configures an S3-compatible endpoint for S3Log, mirroring
// storage/persistence-s3.go's S3Factory field-for-field (same custom
// credentials / custom endpoint / path-style knobs for MinIO compatibility).
type S3Factory struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool
}

// S3Log is the object-storage-backed Log backend of spec §4.2 ("S3"). S3
// has no append primitive, so every record is buffered in memory and the
// single manifest object holding all of them is rewritten whole on every
// append — the same read-modify-write-replace idiom
// storage/persistence-s3.go uses for its own log segments, just applied to
// a single totally-ordered stream instead of one log per shard.
type S3Log struct {
	factory *S3Factory

	mu       sync.Mutex
	client   *s3.Client
	opened   bool
	records  []Record
	instants InstantSource
	notify   notifyRegistry
	closed   bool
}

// OpenS3Log builds the S3 client right away via ensureOpen (modelled on
// persistence-s3.go's ensureOpen) and replays the existing manifest
// object, if any.
func OpenS3Log(f *S3Factory, cfg Config) (*S3Log, error) {
	cfg = cfg.WithDefaults()
	l := &S3Log{factory: f, instants: cfg.InstantSource}
	if err := l.ensureOpen(); err != nil {
		return nil, err
	}
	if err := l.replay(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *S3Log) ensureOpen() error {
	if l.opened {
		return nil
	}
	ctx := context.Background()
	var opts []func(*awsconfig.LoadOptions) error
	if l.factory.Region != "" {
		opts = append(opts, awsconfig.WithRegion(l.factory.Region))
	}
	if l.factory.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(l.factory.AccessKeyID, l.factory.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return &LogIoError{Op: "load aws config", Err: err}
	}
	l.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if l.factory.Endpoint != "" {
			o.BaseEndpoint = aws.String(l.factory.Endpoint)
		}
		o.UsePathStyle = l.factory.ForcePathStyle
	})
	l.opened = true
	return nil
}

func (l *S3Log) key(name string) string {
	if l.factory.Prefix == "" {
		return name
	}
	return l.factory.Prefix + "/" + name
}

const s3ManifestKey = "txlog.manifest"

// replay fetches and decompresses the manifest object, decoding every
// frame it contains. Frames are [uint32 payload length][int64 unix-nano
// timestamp][payload], simpler than LocalDirLog's frames, and the whole
// manifest is xz-compressed as one blob instead of lz4 per record.
func (l *S3Log) replay() error {
	resp, err := l.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(l.factory.Bucket),
		Key:    aws.String(l.key(s3ManifestKey)),
	})
	if err != nil {
		return nil // no manifest yet: empty log
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &LogIoError{Op: "read manifest", Err: err}
	}
	plain, err := xzDecompress(raw)
	if err != nil {
		return &LogIoError{Op: "xz decompress manifest", Err: err}
	}

	buf := bytes.NewReader(plain)
	var offset int64
	for {
		var frameLen uint32
		if err := binary.Read(buf, binary.LittleEndian, &frameLen); err != nil {
			break
		}
		var tsNano int64
		if err := binary.Read(buf, binary.LittleEndian, &tsNano); err != nil {
			break
		}
		payload := make([]byte, frameLen)
		if _, err := io.ReadFull(buf, payload); err != nil {
			break
		}
		msg, err := decodeMessage(payload)
		if err != nil {
			return err
		}
		l.records = append(l.records, Record{Offset: offset, Timestamp: time.Unix(0, tsNano), Message: msg})
		offset++
	}
	return nil
}

func xzDecompress(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func xzCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// flushManifest re-serialises every record and uploads the manifest object
// whole, the "rewrite the object" strategy persistence-s3.go's WriteColumn
// uses for small, infrequently-changing objects.
func (l *S3Log) flushManifest() error {
	var buf bytes.Buffer
	for _, rec := range l.records {
		data := rec.Message.TxBytes
		if rec.Message.Kind != MsgTx {
			data = encodeMessage(rec.Message)
		}
		binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
		binary.Write(&buf, binary.LittleEndian, rec.Timestamp.UnixNano())
		buf.Write(data)
	}
	compressed, err := xzCompress(buf.Bytes())
	if err != nil {
		return &LogIoError{Op: "xz compress manifest", Err: err}
	}
	_, err = l.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(l.factory.Bucket),
		Key:    aws.String(l.key(s3ManifestKey)),
		Body:   bytes.NewReader(compressed),
	})
	if err != nil {
		return &LogIoError{Op: "put manifest", Err: err}
	}
	return nil
}

func (l *S3Log) appendRaw(kind MessageKind, data []byte, extra Message) *AppendFuture {
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
	err := l.flushManifest()
	l.mu.Unlock()

	if err != nil {
		return resolvedFuture(0, err)
	}
	l.notify.notifyAll()
	return resolvedFuture(offset, nil)
}

func (l *S3Log) AppendTx(data []byte) *AppendFuture { return l.appendRaw(MsgTx, data, Message{}) }
func (l *S3Log) AppendMessage(msg Message) *AppendFuture {
	return l.appendRaw(msg.Kind, nil, msg)
}

func (l *S3Log) ReadRecords(afterOffset int64, max int) ([]Record, error) {
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

func (l *S3Log) LatestSubmittedOffset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.records)) - 1
}

// Subscribe uses the polling dispatcher: S3 has no push-notification
// primitive, matching spec §4.3a's sleep-based strategy.
func (l *S3Log) Subscribe(sub Subscriber) (Subscription, error) {
	return startPollingDispatcher(l, sub, defaultPollSleep)
}

func (l *S3Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
