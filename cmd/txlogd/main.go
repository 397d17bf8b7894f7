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

// cmd/txlogd wires a Log, the subscription dispatcher, the indexer driver
// and the flusher into a single running daemon, the way the memcp
// server's main.go wires storage.Init + scm.Repl. Here there is no Scheme REPL:
// the daemon just runs the pipeline until signalled to exit.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dc0d/onexit"
	"github.com/launix-de/memcp/memindex"
	"github.com/launix-de/memcp/txlog"
)

func main() {
	fmt.Print(`txlogd Copyright (C) 2026   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	dataDir := os.Getenv("TXLOGD_DATA_DIR")
	flushTimeout := 2 * time.Second
	if v := os.Getenv("TXLOGD_FLUSH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			flushTimeout = d
		}
	}

	cfg := txlog.Config{Path: dataDir}.WithDefaults()
	if v := os.Getenv("TXLOGD_BUFFER_SIZE"); v != "" {
		if n, err := txlog.ParseBufferSize(v); err == nil {
			cfg.BufferSizeBytes = n
		} else {
			fmt.Println("txlogd: ignoring invalid TXLOGD_BUFFER_SIZE:", err)
		}
	}

	var log txlog.Log
	var err error
	if dataDir != "" {
		log, err = txlog.OpenLocalDirLog(dataDir, cfg)
		if err != nil {
			fmt.Println("txlogd: failed to open local directory log, falling back to in-memory:", err)
			log = txlog.NewMemoryLog(nil)
		}
	} else {
		log = txlog.NewMemoryLog(nil)
	}

	indexer := memindex.New()
	tries := memindex.NewTrieCatalog()
	flusher := txlog.NewFlusher(flushTimeout, nil)
	watch := txlog.NewWatchRegistry()
	processor := txlog.NewProcessor(log, indexer, tries, flusher, watch, nil)

	sub, err := log.Subscribe(processor)
	if err != nil {
		panic(err)
	}

	onexit.Register(func() {
		fmt.Println("txlogd: shutting down, draining subscription")
		sub.Close()
		log.Close()
	})

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	fmt.Println("txlogd: signal received, exiting")
	sub.Close()
	log.Close()
}
