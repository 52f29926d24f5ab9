package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectQueryType(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected QueryType
	}{
		{name: "select", query: "SELECT id, geom FROM cities", expected: QueryTypeSelect},
		{name: "lowercase select with whitespace", query: "  \n select id from cities", expected: QueryTypeSelect},
		{name: "parenthesized select", query: "(SELECT id FROM a) UNION (SELECT id FROM b)", expected: QueryTypeSelect},
		{name: "read-only CTE", query: "WITH big AS (SELECT * FROM cities WHERE pop > 1e6) SELECT * FROM big", expected: QueryTypeSelect},
		{name: "deleting CTE", query: "WITH gone AS (DELETE FROM cities RETURNING *) SELECT * FROM gone", expected: QueryTypeDelete},
		{name: "materialized inserting CTE", query: "WITH x AS MATERIALIZED (INSERT INTO t VALUES (1) RETURNING *) SELECT * FROM x", expected: QueryTypeInsert},
		{name: "insert", query: "INSERT INTO cities VALUES (1)", expected: QueryTypeInsert},
		{name: "update", query: "UPDATE cities SET name='x'", expected: QueryTypeUpdate},
		{name: "delete", query: "delete from cities", expected: QueryTypeDelete},
		{name: "drop", query: "DROP TABLE cities", expected: QueryTypeDDL},
		{name: "create", query: "CREATE TABLE t (id int)", expected: QueryTypeDDL},
		{name: "comment on", query: "COMMENT ON TABLE cities IS 'x'", expected: QueryTypeDDL},
		{name: "merge", query: "MERGE INTO cities c USING src s ON c.id = s.id WHEN MATCHED THEN DELETE", expected: QueryTypeMerge},
		{name: "merging CTE", query: "WITH m AS (MERGE INTO t USING s ON t.id = s.id WHEN MATCHED THEN DELETE RETURNING *) SELECT * FROM m", expected: QueryTypeMerge},
		{name: "do block", query: "DO $$ BEGIN DELETE FROM cities; END $$", expected: QueryTypeCommand},
		{name: "call", query: "CALL purge_cities()", expected: QueryTypeCommand},
		{name: "copy", query: "COPY cities TO STDOUT", expected: QueryTypeCommand},
		{name: "set", query: "SET search_path = evil", expected: QueryTypeCommand},
		{name: "explain", query: "EXPLAIN ANALYZE DELETE FROM cities", expected: QueryTypeCommand},
		{name: "refresh", query: "REFRESH MATERIALIZED VIEW v", expected: QueryTypeCommand},
		{name: "values", query: "VALUES (1, 2)", expected: QueryTypeUnknown},
		{name: "table", query: "TABLE cities", expected: QueryTypeUnknown},
		{name: "show", query: "show work_mem", expected: QueryTypeUnknown},
		{name: "empty", query: "", expected: QueryTypeUnknown},
		{name: "punctuation only", query: ";;", expected: QueryTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectQueryType(tt.query))
		})
	}
}

func TestQueryType_IsModifying(t *testing.T) {
	assert.True(t, QueryTypeInsert.IsModifying())
	assert.True(t, QueryTypeUpdate.IsModifying())
	assert.True(t, QueryTypeDelete.IsModifying())
	assert.True(t, QueryTypeMerge.IsModifying())
	assert.False(t, QueryTypeCommand.IsModifying())
	assert.False(t, QueryTypeSelect.IsModifying())
	assert.False(t, QueryTypeDDL.IsModifying())
	assert.False(t, QueryTypeUnknown.IsModifying())
}

func TestLeadingKeyword(t *testing.T) {
	assert.Equal(t, "SELECT", LeadingKeyword("  (select 1)"))
	assert.Equal(t, "DO", LeadingKeyword("do $$ begin end $$"))
	assert.Equal(t, "", LeadingKeyword("$$ x"))
	assert.Equal(t, "", LeadingKeyword(""))
}
