// Package sql provides lexical SQL checks used to gate untrusted layer queries.
//
// Nothing here parses SQL grammar. Every function is a keyword or character
// level heuristic over raw text, and callers combine them into a policy.
package sql

import (
	"strings"
)

// HasStackedStatements reports whether the query contains a semicolon anywhere
// other than as the single terminal character of the trimmed text.
//
// Semicolons inside string literals count too.
func HasStackedStatements(sqlQuery string) bool {
	trimmed := strings.TrimSpace(sqlQuery)
	if trimmed == "" {
		return false
	}

	idx := strings.IndexByte(trimmed, ';')
	return idx >= 0 && idx != len(trimmed)-1
}

// StripTrailingSemicolon removes a single trailing semicolon and any whitespace
// around it, so the text can be wrapped as a subquery.
func StripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")

	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}

	return strings.TrimSpace(sqlQuery)
}

// QuoteBalance reports whether single and double quote counts are each even.
func QuoteBalance(sqlQuery string) (singleBalanced, doubleBalanced bool) {
	return strings.Count(sqlQuery, "'")%2 == 0, strings.Count(sqlQuery, `"`)%2 == 0
}
