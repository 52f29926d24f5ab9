package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasStackedStatements(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{name: "single statement", input: "SELECT id, geom FROM cities", expected: false},
		{name: "terminal semicolon", input: "SELECT id, geom FROM cities;", expected: false},
		{name: "terminal semicolon with trailing whitespace", input: "SELECT 1;  \n", expected: false},
		{name: "empty", input: "", expected: false},
		{name: "whitespace only", input: "   ", expected: false},
		{name: "two statements", input: "SELECT id, geom FROM cities; DROP TABLE cities", expected: true},
		{name: "two statements with terminal", input: "SELECT 1; SELECT 2;", expected: true},
		{name: "semicolon inside literal still counts", input: "SELECT id FROM cities WHERE name = 'a;b'", expected: true},
		{name: "double terminal", input: "SELECT 1;;", expected: true},
		{name: "leading semicolon", input: "; SELECT 1", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HasStackedStatements(tt.input))
		})
	}
}

func TestStripTrailingSemicolon(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "no semicolon", input: "SELECT 1", expected: "SELECT 1"},
		{name: "semicolon", input: "SELECT 1;", expected: "SELECT 1"},
		{name: "semicolon and whitespace", input: "  SELECT 1 ;  \n", expected: "SELECT 1"},
		{name: "newlines preserved inside", input: "SELECT *\nFROM cities;", expected: "SELECT *\nFROM cities"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripTrailingSemicolon(tt.input))
		})
	}
}

func TestQuoteBalance(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantSingle bool
		wantDouble bool
	}{
		{name: "no quotes", input: "SELECT 1", wantSingle: true, wantDouble: true},
		{name: "balanced literal", input: "SELECT 'a'", wantSingle: true, wantDouble: true},
		{name: "escaped quote stays even", input: "SELECT 'O''Brien'", wantSingle: true, wantDouble: true},
		{name: "odd single", input: "SELECT 'a", wantSingle: false, wantDouble: true},
		{name: "odd double", input: `SELECT "name FROM t`, wantSingle: true, wantDouble: false},
		{name: "both odd", input: `SELECT 'x, "y`, wantSingle: false, wantDouble: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			single, double := QuoteBalance(tt.input)
			assert.Equal(t, tt.wantSingle, single, "single quotes")
			assert.Equal(t, tt.wantDouble, double, "double quotes")
		})
	}
}

func TestHasComments(t *testing.T) {
	assert.False(t, HasComments("SELECT id, geom FROM cities"))
	assert.True(t, HasComments("SELECT id -- trailing"))
	assert.True(t, HasComments("SELECT /* inline */ id"))
	assert.True(t, HasComments("-- leading\nSELECT 1"))
	assert.True(t, HasComments("SELECT '--' AS s"), "comment markers inside literals still count")
}

func TestStripComments(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "line comment", input: "SELECT 1 -- hi", expected: "SELECT 1"},
		{name: "block comment", input: "SELECT /* x */ 1", expected: "SELECT   1"},
		{name: "multi-line block", input: "SELECT 1 /* a\nb */", expected: "SELECT 1"},
		{name: "unterminated block", input: "SELECT 1 /* never closed", expected: "SELECT 1"},
		{name: "line comment then statement", input: "-- note\nSELECT 1", expected: "SELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripComments(tt.input))
		})
	}
}
