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

// cmd/txlogctl is a small interactive shell for submitting tx-ops and
// tailing a log, built the same way scm.Repl wraps chzyer/readline around
// an eval loop — here the "language" is a handful of dot commands
// instead of Scheme.
package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/launix-de/memcp/memindex"
	"github.com/launix-de/memcp/txlog"
)

const (
	prompt = "\033[32mtxlog>\033[0m "
)

type shell struct {
	log       txlog.Log
	indexer   *memindex.Indexer
	tries     *memindex.TrieCatalog
	watch     *txlog.WatchRegistry
	processor *txlog.Processor
	sub       txlog.Subscription
}

func newShell() *shell {
	log := txlog.NewMemoryLog(nil)
	indexer := memindex.New()
	tries := memindex.NewTrieCatalog()
	watch := txlog.NewWatchRegistry()
	flusher := txlog.NewFlusher(0, nil)
	processor := txlog.NewProcessor(log, indexer, tries, flusher, watch, nil)
	sub, err := log.Subscribe(processor)
	if err != nil {
		panic(err)
	}
	return &shell{log: log, indexer: indexer, tries: tries, watch: watch, processor: processor, sub: sub}
}

func (s *shell) close() {
	s.sub.Close()
	s.log.Close()
}

// submitInsert parses ".insert table field=value,field=value" and appends
// it as a single put-docs op.
func (s *shell) submitInsert(rest string) {
	parts := strings.SplitN(strings.TrimSpace(rest), " ", 2)
	if len(parts) < 2 {
		fmt.Println("usage: .insert <table> field=value,field=value,...")
		return
	}
	table := parts[0]
	fields := strings.Split(parts[1], ",")
	doc := txlog.Doc{Fields: make(map[string]interface{}, len(fields))}
	for _, f := range fields {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		doc.Fields[key] = strings.TrimSpace(kv[1])
		doc.Order = append(doc.Order, key)
	}
	if id, ok := doc.Fields["_id"]; ok {
		doc.Id = id
	}

	data, err := txlog.Serialize([]txlog.Op{{Kind: txlog.OpPutDocs, Table: table, Docs: []txlog.Doc{doc}}}, txlog.TxOptions{})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	future := s.log.AppendTx(data)
	offset, err := future.Wait(context.Background())
	if err != nil {
		fmt.Println("append error:", err)
		return
	}
	res := s.watch.AwaitResult(offset)
	if res.Err != nil {
		fmt.Println("processing error:", res.Err)
		return
	}
	fmt.Println("ok, offset", offset)
}

func (s *shell) tail() {
	recs, err := s.log.ReadRecords(-1, 100)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, rec := range recs {
		fmt.Printf("offset=%d kind=%d ts=%s\n", rec.Offset, rec.Message.Kind, rec.Timestamp)
	}
}

// get prints the current fields of "table id" as indexed so far.
func (s *shell) get(rest string) {
	parts := strings.SplitN(strings.TrimSpace(rest), " ", 2)
	if len(parts) != 2 {
		fmt.Println("usage: .get <table> <id>")
		return
	}
	fields, ok := s.indexer.Get(parts[0], parts[1])
	if !ok {
		fmt.Println("not found")
		return
	}
	fmt.Printf("%+v\n", fields)
}

func (s *shell) dispatch(line string) {
	switch {
	case line == ".tail":
		s.tail()
	case line == ".watermark":
		fmt.Println("high-water:", s.watch.HighWater())
	case strings.HasPrefix(line, ".insert "):
		s.submitInsert(strings.TrimPrefix(line, ".insert "))
	case strings.HasPrefix(line, ".get "):
		s.get(strings.TrimPrefix(line, ".get "))
	case line == ".help":
		fmt.Println(".insert <table> field=value,...   submit a put-docs tx")
		fmt.Println(".get <table> <id>                 print a document's indexed fields")
		fmt.Println(".tail                              list buffered records")
		fmt.Println(".watermark                         print the watch registry high-water mark")
	default:
		fmt.Println("unrecognised command, try .help")
	}
}

func main() {
	fmt.Print(`txlogctl Copyright (C) 2026   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	s := newShell()
	defer s.close()

	l, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       ".txlogctl-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Println("panic:", r)
				}
			}()
			s.dispatch(line)
		}()
	}
}
