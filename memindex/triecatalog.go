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

package memindex

import "sync"

// TrieCatalog implements txlog.TrieCatalog: it tracks which (table,
// trie-key) durable chunks have been reported by a TriesAdded control
// record, the same refcounted-set-under-a-mutex shape
// storage/blob-refcount.go uses for its own `.blobs` bookkeeping table,
// just kept in memory instead of persisted as rows (the durable chunk
// format itself is out of scope, spec §1).
type TrieCatalog struct {
	mu    sync.Mutex
	tries map[string]map[string]bool
}

// NewTrieCatalog creates an empty catalog.
func NewTrieCatalog() *TrieCatalog {
	return &TrieCatalog{tries: make(map[string]map[string]bool)}
}

// AddTrie records that table now has a durable chunk at key.
func (c *TrieCatalog) AddTrie(table string, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.tries[table]
	if !ok {
		keys = make(map[string]bool)
		c.tries[table] = keys
	}
	keys[key] = true
	return nil
}

// HasTrie reports whether table has a recorded chunk at key — used by
// tests.
func (c *TrieCatalog) HasTrie(table string, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tries[table][key]
}
