package services

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/ekaya-inc/ekaya-layers/pkg/adapters/datasource"
)

type recordedCall struct {
	sql  string
	args []any
}

// fakeLayerConn is an in-memory datasource.LayerConn. QueryRow answers come
// from rowAnswers, matched by SQL substring in insertion order.
type fakeLayerConn struct {
	mu sync.Mutex

	plan       *datasource.PlanResult
	explainErr error
	explained  []string

	columns    []datasource.ColumnInfo
	columnsErr error
	createErr  error
	dropErr    error
	created    map[string]string
	dropped    []string
	dropCtxErr error

	rowAnswers []rowAnswer
	queryRows  []recordedCall

	queryResult *datasource.QueryExecutionResult
	queryErr    error
	queries     []recordedCall
}

type rowAnswer struct {
	match  string
	values []any
	err    error
}

func newFakeLayerConn() *fakeLayerConn {
	return &fakeLayerConn{
		plan: &datasource.PlanResult{
			Plan:      json.RawMessage(`[{"Plan":{"Node Type":"Seq Scan","Relation Name":"cities","Total Cost":12.5}}]`),
			TotalCost: 12.5,
		},
		columns: []datasource.ColumnInfo{
			{Name: "id", Type: "int4"},
			{Name: "geom", Type: "geometry"},
			{Name: "name", Type: "text"},
		},
		created: make(map[string]string),
	}
}

func (f *fakeLayerConn) answer(match string, values ...any) *fakeLayerConn {
	f.rowAnswers = append(f.rowAnswers, rowAnswer{match: match, values: values})
	return f
}

func (f *fakeLayerConn) fail(match string, err error) *fakeLayerConn {
	f.rowAnswers = append(f.rowAnswers, rowAnswer{match: match, err: err})
	return f
}

func (f *fakeLayerConn) Query(_ context.Context, sqlQuery string, params ...any) (*datasource.QueryExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, recordedCall{sql: sqlQuery, args: params})
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryResult == nil {
		return &datasource.QueryExecutionResult{Rows: []map[string]any{}}, nil
	}
	return f.queryResult, nil
}

func (f *fakeLayerConn) QueryRow(_ context.Context, sqlQuery string, params ...any) datasource.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryRows = append(f.queryRows, recordedCall{sql: sqlQuery, args: params})
	for _, a := range f.rowAnswers {
		if strings.Contains(sqlQuery, a.match) {
			return &fakeRow{values: a.values, err: a.err}
		}
	}
	return &fakeRow{err: fmt.Errorf("fake: unexpected query %q", sqlQuery)}
}

func (f *fakeLayerConn) Explain(_ context.Context, sqlQuery string) (*datasource.PlanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.explained = append(f.explained, sqlQuery)
	if f.explainErr != nil {
		return nil, f.explainErr
	}
	return f.plan, nil
}

func (f *fakeLayerConn) ViewColumns(_ context.Context, viewName string) ([]datasource.ColumnInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.columnsErr != nil {
		return nil, f.columnsErr
	}
	if _, ok := f.created[viewName]; !ok {
		return nil, nil
	}
	return f.columns, nil
}

func (f *fakeLayerConn) CreateTempView(_ context.Context, viewName, definition string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created[viewName] = definition
	return nil
}

func (f *fakeLayerConn) DropView(ctx context.Context, viewName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropCtxErr = ctx.Err()
	f.dropped = append(f.dropped, viewName)
	delete(f.created, viewName)
	return f.dropErr
}

// liveViews returns the views created and not yet dropped.
func (f *fakeLayerConn) liveViews() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeRow struct {
	values []any
	err    error
}

// Scan copies values into dest by reflection. A nil value zeroes the
// destination; a pointer destination is allocated for non-nil values.
func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("fake: scan of %d values into %d destinations", len(r.values), len(dest))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if r.values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(r.values[i])
		if target.Kind() == reflect.Ptr && v.Kind() != reflect.Ptr {
			p := reflect.New(target.Type().Elem())
			p.Elem().Set(v.Convert(target.Type().Elem()))
			target.Set(p)
			continue
		}
		target.Set(v.Convert(target.Type()))
	}
	return nil
}

// fakeConnProvider lends the same fake connection to every call.
type fakeConnProvider struct {
	conn  datasource.LayerConn
	err   error
	calls int
}

func (p *fakeConnProvider) WithLayerConn(ctx context.Context, fn func(ctx context.Context, conn datasource.LayerConn) error) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	return fn(ctx, p.conn)
}
