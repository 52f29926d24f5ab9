package sql

import (
	"regexp"
	"strings"
)

var (
	lineCommentPattern  = regexp.MustCompile(`--[^\r\n]*`)
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?(\*/|$)`)
)

// HasComments reports whether the text contains a line (--) or block (/*)
// comment opener anywhere, including inside string literals.
func HasComments(sqlQuery string) bool {
	return strings.Contains(sqlQuery, "--") || strings.Contains(sqlQuery, "/*")
}

// StripComments removes block comments first, then line comments.
// An unterminated block comment swallows the rest of the text.
func StripComments(sqlQuery string) string {
	stripped := blockCommentPattern.ReplaceAllString(sqlQuery, " ")
	stripped = lineCommentPattern.ReplaceAllString(stripped, "")
	return strings.TrimSpace(stripped)
}
