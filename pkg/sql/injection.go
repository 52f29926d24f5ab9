package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a string literal.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Literal     string // The literal content that was checked
}

// CheckLiteralForInjection uses libinjection to detect SQL injection patterns
// in the content of a single string literal.
//
// Returns nil if no injection is detected.
//
// Example:
//
//	result := CheckLiteralForInjection("Springfield")
//	// result == nil
//
//	result := CheckLiteralForInjection("x' OR '1'='1")
//	// result.IsSQLi == true
func CheckLiteralForInjection(literal string) *InjectionCheckResult {
	if literal == "" {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(literal)
	if !isSQLi {
		return nil
	}

	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Literal:     literal,
	}
}

// ScanLiterals fingerprints every single-quoted literal in the query.
// A layer query that smuggles a payload inside a literal is usually a sign
// the text was assembled from user input upstream.
func ScanLiterals(sqlQuery string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, lit := range StringLiterals(sqlQuery) {
		if result := CheckLiteralForInjection(lit); result != nil {
			results = append(results, result)
		}
	}
	return results
}
