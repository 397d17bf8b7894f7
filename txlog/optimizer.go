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
	packrat "github.com/launix-de/go-packrat/v2"
)

// insertGrammar is a narrow "INSERT INTO table (cols...) VALUES
// (?, ?, ...)" recogniser, built the same way scm/packrat.go assembles its
// Scheme-reader grammar out of packrat combinators. It only recognises the
// placeholder form (every value in the tuple is "?"); anything else falls
// through untouched to the plain `sql` op, exactly as spec §4.1 describes
// ("only when the optimiser returns nothing is the op written as sql").
type insertGrammar struct {
	root packrat.Parser
}

func newInsertGrammar() *insertGrammar {
	ident := packrat.NewRegexParser(`[A-Za-z_][A-Za-z0-9_]*`, false, true)
	comma := packrat.NewRegexParser(`,`, false, true)
	lparen := packrat.NewRegexParser(`\(`, false, true)
	rparen := packrat.NewRegexParser(`\)`, false, true)
	placeholder := packrat.NewRegexParser(`\?`, false, true)
	insertKw := packrat.NewRegexParser(`(?i)INSERT`, true, true)
	intoKw := packrat.NewRegexParser(`(?i)INTO`, true, true)
	valuesKw := packrat.NewRegexParser(`(?i)VALUES`, true, true)

	colList := packrat.NewAndParser(ident, packrat.NewKleeneParser(packrat.NewAndParser(comma, ident), packrat.NewEmptyParser()))
	tuple := packrat.NewAndParser(lparen, placeholder, packrat.NewKleeneParser(packrat.NewAndParser(comma, placeholder), packrat.NewEmptyParser()), rparen)
	tupleList := packrat.NewAndParser(tuple, packrat.NewKleeneParser(packrat.NewAndParser(comma, tuple), packrat.NewEmptyParser()))

	root := packrat.NewAndParser(
		insertKw, intoKw, ident,
		lparen, colList, rparen,
		valuesKw, tupleList,
	)
	return &insertGrammar{root: root}
}

var sharedInsertGrammar = newInsertGrammar()

// matchInsert parses query and, on a full match, returns the table name,
// the ordered column list and the number of placeholders in the first
// tuple. The grammar accepts later tuples of any arity; they are not
// counted or compared with the first.
func matchInsert(query string) (table string, cols []string, placeholders int, ok bool) {
	scanner := packrat.NewScanner(query, `[ \t\r\n]+`)
	node, err := packrat.Parse(sharedInsertGrammar.root, scanner)
	if err != nil || node == nil {
		return "", nil, 0, false
	}
	// node.Children: [INSERT, INTO, table, "(", colList, ")", VALUES, tupleList]
	if len(node.Children) < 8 {
		return "", nil, 0, false
	}
	table = node.Children[2].Matched
	cols = flattenIdentList(node.Children[4])
	firstTuple := node.Children[7].Children[0]
	placeholders = countPlaceholders(firstTuple)
	return table, cols, placeholders, true
}

// flattenIdentList walks a colList node (ident (Kleene(comma ident))*) and
// collects the matched identifier text in order.
func flattenIdentList(n *packrat.Node) []string {
	if n == nil || len(n.Children) < 2 {
		return nil
	}
	out := []string{n.Children[0].Matched}
	kleene := n.Children[1]
	for i := 0; i+1 < len(kleene.Children); i += 2 {
		pair := kleene.Children[i] // AndParser(comma, ident)
		if len(pair.Children) == 2 {
			out = append(out, pair.Children[1].Matched)
		}
	}
	return out
}

// countPlaceholders walks one tuple node ("(" placeholder (Kleene(comma
// placeholder))* ")") and counts the placeholders.
func countPlaceholders(tuple *packrat.Node) int {
	if tuple == nil || len(tuple.Children) < 4 {
		return 0
	}
	n := 1 // the first placeholder
	kleene := tuple.Children[2]
	for i := 0; i+1 < len(kleene.Children); i += 2 {
		n++
	}
	return n
}

// tryRewriteInsert implements the SQL static optimiser of spec §4.1: a
// simple all-placeholder INSERT whose column list includes `_id` is
// rewritten into one put-docs op carrying one Doc per argument row. Any
// other shape falls through (ok=false) so the caller keeps the plain `sql`
// op.
func tryRewriteInsert(op Op, defaultTz string) ([]Op, bool) {
	table, cols, placeholders, ok := matchInsert(op.Query)
	if !ok || placeholders != len(cols) {
		return nil, false
	}
	hasId := false
	for _, c := range cols {
		if idFold.String(c) == idFold.String("_id") {
			hasId = true
			break
		}
	}
	if !hasId {
		return nil, false
	}
	rows, err := decodeArgRows(op.Args)
	if err != nil || len(rows) == 0 {
		return nil, false
	}
	for _, r := range rows {
		if len(r) != len(cols) {
			return nil, false
		}
	}

	docs := make([]Doc, len(rows))
	for i, row := range rows {
		fields := make(map[string]interface{}, len(cols))
		for j, c := range cols {
			fields[c] = row[j]
		}
		id, _ := findId(fields, cols)
		docs[i] = Doc{Id: id, Fields: fields, Order: append([]string(nil), cols...)}
	}

	return []Op{{Kind: OpPutDocs, Table: table, Docs: docs}}, true
}
