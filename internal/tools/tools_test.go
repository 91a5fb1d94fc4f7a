package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konflux-ci/devlake-mcp/internal/security"
)

// fakeExecutor records queries and returns canned rows.
type fakeExecutor struct {
	rows    []map[string]interface{}
	err     error
	pingErr error
	queries []string
	limits  []int
}

func (f *fakeExecutor) ExecuteQuery(ctx context.Context, query string, limit int) ([]map[string]interface{}, error) {
	f.queries = append(f.queries, query)
	f.limits = append(f.limits, limit)
	return f.rows, f.err
}

func (f *fakeExecutor) Ping(ctx context.Context) error {
	return f.pingErr
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&ListDatabases{DB: &fakeExecutor{}})
	r.Register(&ExecuteSQLQuery{DB: &fakeExecutor{}, Security: security.NewManager(nil)})

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "execute_sql_query", list[0].Name())
	assert.Equal(t, "list_databases", list[1].Name())

	_, ok := r.Get("list_databases")
	assert.True(t, ok)

	_, err := r.Call(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestExecuteSQLQuery(t *testing.T) {
	db := &fakeExecutor{rows: []map[string]interface{}{{"id": int64(1)}}}
	tool := &ExecuteSQLQuery{DB: db, Security: security.NewManager(nil)}

	result, err := tool.Call(context.Background(), map[string]interface{}{
		"query": "SELECT id FROM projects",
		"limit": float64(5),
	})
	require.NoError(t, err)

	out := result.(map[string]interface{})
	assert.Equal(t, 1, out["count"])
	assert.Equal(t, []string{"SELECT id FROM projects"}, db.queries)
	assert.Equal(t, []int{5}, db.limits)
}

func TestExecuteSQLQuery_DefaultLimit(t *testing.T) {
	db := &fakeExecutor{}
	tool := &ExecuteSQLQuery{DB: db, Security: security.NewManager(nil)}

	_, err := tool.Call(context.Background(), map[string]interface{}{"query": "SELECT 1"})
	require.NoError(t, err)
	assert.Equal(t, []int{defaultRowLimit}, db.limits)
}

func TestExecuteSQLQuery_RejectedQuery(t *testing.T) {
	db := &fakeExecutor{}
	tool := &ExecuteSQLQuery{DB: db, Security: security.NewManager(nil)}

	_, err := tool.Call(context.Background(), map[string]interface{}{"query": "DROP TABLE projects"})
	require.Error(t, err)
	assert.Empty(t, db.queries)
}

func TestExecuteSQLQuery_MissingArgument(t *testing.T) {
	tool := &ExecuteSQLQuery{DB: &fakeExecutor{}, Security: security.NewManager(nil)}
	_, err := tool.Call(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}

func TestListDatabases(t *testing.T) {
	db := &fakeExecutor{rows: []map[string]interface{}{
		{"Database": "lake"},
		{"Database": "grafana"},
	}}
	tool := &ListDatabases{DB: db}

	result, err := tool.Call(context.Background(), nil)
	require.NoError(t, err)
	out := result.(map[string]interface{})
	assert.ElementsMatch(t, []string{"lake", "grafana"}, out["databases"])
}

func TestListTables(t *testing.T) {
	db := &fakeExecutor{rows: []map[string]interface{}{{"Tables_in_lake": "issues"}}}
	tool := &ListTables{DB: db, Security: security.NewManager(nil)}

	result, err := tool.Call(context.Background(), map[string]interface{}{"database": "lake"})
	require.NoError(t, err)
	out := result.(map[string]interface{})
	assert.Equal(t, []string{"issues"}, out["tables"])
	assert.Equal(t, []string{"SHOW TABLES FROM lake"}, db.queries)
}

func TestListTables_InvalidName(t *testing.T) {
	db := &fakeExecutor{}
	tool := &ListTables{DB: db, Security: security.NewManager(nil)}

	_, err := tool.Call(context.Background(), map[string]interface{}{"database": "lake; DROP"})
	require.Error(t, err)
	assert.Empty(t, db.queries)
}

func TestConnectDatabase(t *testing.T) {
	db := &fakeExecutor{rows: []map[string]interface{}{{"VERSION()": "8.0.36"}}}
	tool := &ConnectDatabase{DB: db}

	result, err := tool.Call(context.Background(), nil)
	require.NoError(t, err)
	out := result.(map[string]interface{})
	assert.Equal(t, true, out["connected"])
	assert.Equal(t, "8.0.36", out["version"])
	assert.Equal(t, []string{"SELECT VERSION()"}, db.queries)
}

func TestConnectDatabase_Unreachable(t *testing.T) {
	db := &fakeExecutor{pingErr: errors.New("dial tcp: connection refused")}
	tool := &ConnectDatabase{DB: db}

	result, err := tool.Call(context.Background(), nil)
	require.NoError(t, err)
	out := result.(map[string]interface{})
	assert.Equal(t, false, out["connected"])
	assert.Contains(t, out["error"], "connection refused")
	assert.Empty(t, db.queries)
}

func TestGetTableSchema(t *testing.T) {
	db := &fakeExecutor{rows: []map[string]interface{}{
		{"Field": "incident_key", "Type": "varchar(255)"},
	}}
	tool := &GetTableSchema{DB: db, Security: security.NewManager(nil)}

	result, err := tool.Call(context.Background(), map[string]interface{}{
		"database": "lake",
		"table":    "incidents",
	})
	require.NoError(t, err)
	out := result.(map[string]interface{})
	assert.Len(t, out["columns"], 1)
	assert.Equal(t, []string{"DESCRIBE lake.incidents"}, db.queries)
}

func TestGetTableSchema_InvalidArguments(t *testing.T) {
	db := &fakeExecutor{}
	tool := &GetTableSchema{DB: db, Security: security.NewManager(nil)}

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{name: "missing database", args: map[string]interface{}{"table": "incidents"}},
		{name: "missing table", args: map[string]interface{}{"database": "lake"}},
		{name: "bad database name", args: map[string]interface{}{"database": "lake; DROP", "table": "incidents"}},
		{name: "bad table name", args: map[string]interface{}{"database": "lake", "table": "incidents`--"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tool.Call(context.Background(), tc.args)
			require.Error(t, err)
		})
	}
	assert.Empty(t, db.queries)
}

func TestToolErrorsPropagate(t *testing.T) {
	db := &fakeExecutor{err: errors.New("connection refused")}
	tool := &ListDatabases{DB: db}

	_, err := tool.Call(context.Background(), nil)
	assert.ErrorContains(t, err, "connection refused")
}
