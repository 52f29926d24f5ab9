package sql

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var (
	// Any identifier, optionally double-quoted, directly followed by "(".
	functionCallPattern = regexp.MustCompile(`(?i)"?([a-z0-9_$]+)"?\s*\(`)

	// The token in front of a dot: quoted, bracketed, backticked or bare.
	qualifierPattern = regexp.MustCompile("(\"[^\"]*\"|`[^`]*`|\\[[^\\]]*\\]|[A-Za-z_][A-Za-z0-9_$]*)\\s*\\.")

	plainIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	singleQuotedLiteralPattern = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// Tokens splits the text on whitespace and lowercases each token.
func Tokens(sqlQuery string) []string {
	fields := strings.Fields(sqlQuery)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tokens = append(tokens, strings.ToLower(f))
	}
	return tokens
}

// MatchKeywords returns the denied keywords found in the text, sorted and
// deduplicated.
//
// Word-like keywords (drop, pg_sleep) match a whole word run inside a
// whitespace token, so "(DROP", "union," and "pg_sleep(1)" all hit while
// "delete_flag" does not. Keywords containing punctuation (markup such as
// "<script") match as case-insensitive substrings of any token.
func MatchKeywords(sqlQuery string, denied map[string]struct{}) []string {
	if len(denied) == 0 {
		return nil
	}

	hits := make(map[string]struct{})
	for _, tok := range Tokens(sqlQuery) {
		if _, ok := denied[tok]; ok {
			hits[tok] = struct{}{}
		}

		for _, word := range strings.FieldsFunc(tok, isNotWordRune) {
			if _, ok := denied[word]; ok {
				hits[word] = struct{}{}
			}
		}

		for kw := range denied {
			if !isWordLike(kw) && strings.Contains(tok, kw) {
				hits[kw] = struct{}{}
			}
		}
	}

	return sortedKeys(hits)
}

// SpatialFunctions returns every distinct st_* function-call-like token,
// lowercased, in order of first appearance. PostGIS internals such as
// _st_dwithin are reported with their leading underscores, and quoted or
// schema-qualified calls count too.
func SpatialFunctions(sqlQuery string) []string {
	matches := functionCallPattern.FindAllStringSubmatch(sqlQuery, -1)
	seen := make(map[string]struct{}, len(matches))
	var names []string
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if !strings.HasPrefix(strings.TrimLeft(name, "_"), "st_") {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Qualifiers returns every distinct token that appears in front of a dot
// (schema.table, alias.column), in order of first appearance. String literals
// are blanked out first so 'a.b' does not count.
func Qualifiers(sqlQuery string) []string {
	text := singleQuotedLiteralPattern.ReplaceAllString(sqlQuery, "''")
	matches := qualifierPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]struct{}, len(matches))
	var qualifiers []string
	for _, m := range matches {
		q := m[1]
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		qualifiers = append(qualifiers, q)
	}
	return qualifiers
}

// IsPlainIdentifier reports whether s matches [A-Za-z_][A-Za-z0-9_]*.
func IsPlainIdentifier(s string) bool {
	return plainIdentifierPattern.MatchString(s)
}

// StringLiterals returns the contents of every single-quoted literal with
// doubled quotes unescaped.
func StringLiterals(sqlQuery string) []string {
	matches := singleQuotedLiteralPattern.FindAllString(sqlQuery, -1)
	literals := make([]string, 0, len(matches))
	for _, m := range matches {
		inner := m[1 : len(m)-1]
		literals = append(literals, strings.ReplaceAll(inner, "''", "'"))
	}
	return literals
}

func isNotWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}

func isWordLike(kw string) bool {
	for _, r := range kw {
		if isNotWordRune(r) {
			return false
		}
	}
	return kw != ""
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
