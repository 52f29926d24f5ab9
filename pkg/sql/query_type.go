package sql

import (
	"regexp"
	"strings"
)

// QueryType is the statement class detected from the leading keyword.
type QueryType string

const (
	QueryTypeSelect  QueryType = "SELECT"
	QueryTypeInsert  QueryType = "INSERT"
	QueryTypeUpdate  QueryType = "UPDATE"
	QueryTypeDelete  QueryType = "DELETE"
	QueryTypeMerge   QueryType = "MERGE"
	QueryTypeDDL     QueryType = "DDL"     // CREATE, ALTER, DROP, TRUNCATE, GRANT, REVOKE, COMMENT
	QueryTypeCommand QueryType = "COMMAND" // DO, CALL, COPY, SET, transaction control, any other utility statement
	QueryTypeUnknown QueryType = "UNKNOWN" // VALUES, TABLE, SHOW
)

// modifyingCTEPattern matches CTEs that contain data-modifying operations.
// Example: WITH deleted AS (DELETE FROM ...) SELECT * FROM deleted
var modifyingCTEPattern = regexp.MustCompile(`(?i)\bAS\s*(?:NOT\s+)?(?:MATERIALIZED\s*)?\(\s*(INSERT|UPDATE|DELETE|MERGE)\b`)

var leadingKeywordPattern = regexp.MustCompile(`^[\s(]*([A-Za-z]+)`)

// LeadingKeyword returns the first keyword of the statement, uppercased, or
// "" when the text does not start with one.
func LeadingKeyword(sqlQuery string) string {
	m := leadingKeywordPattern.FindStringSubmatch(sqlQuery)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// DetectQueryType classifies the statement from its leading keyword.
// Leading whitespace and opening parentheses are skipped, so
// "(SELECT ...) UNION ..." is still a SELECT.
//
// A WITH statement whose CTE body is INSERT, UPDATE, DELETE or MERGE is
// classified as that modifying type rather than SELECT. Only VALUES, TABLE
// and SHOW are Unknown reads; every other keyword is a Command.
func DetectQueryType(sqlQuery string) QueryType {
	keyword := LeadingKeyword(sqlQuery)
	if keyword == "" {
		return QueryTypeUnknown
	}

	switch keyword {
	case "SELECT":
		return QueryTypeSelect

	case "WITH":
		if cte := modifyingCTEPattern.FindStringSubmatch(sqlQuery); cte != nil {
			return QueryType(strings.ToUpper(cte[1]))
		}
		return QueryTypeSelect

	case "INSERT":
		return QueryTypeInsert

	case "UPDATE":
		return QueryTypeUpdate

	case "DELETE":
		return QueryTypeDelete

	case "MERGE":
		return QueryTypeMerge

	case "CREATE", "ALTER", "DROP", "TRUNCATE", "GRANT", "REVOKE", "COMMENT", "RENAME":
		return QueryTypeDDL

	case "VALUES", "TABLE", "SHOW":
		return QueryTypeUnknown

	default:
		return QueryTypeCommand
	}
}

// IsModifying returns true if the statement type writes data.
func (t QueryType) IsModifying() bool {
	switch t {
	case QueryTypeInsert, QueryTypeUpdate, QueryTypeDelete, QueryTypeMerge:
		return true
	default:
		return false
	}
}
