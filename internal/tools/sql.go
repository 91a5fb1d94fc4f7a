package tools

import (
	"context"
	"fmt"

	"github.com/konflux-ci/devlake-mcp/internal/security"
)

const defaultRowLimit = 100

// QueryExecutor runs validated read queries against the warehouse.
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, query string, limit int) ([]map[string]interface{}, error)
}

// Database is a query executor whose connectivity can be probed.
type Database interface {
	QueryExecutor
	Ping(ctx context.Context) error
}

// ExecuteSQLQuery runs an arbitrary SELECT statement after validation.
type ExecuteSQLQuery struct {
	DB       QueryExecutor
	Security *security.Manager
}

func (t *ExecuteSQLQuery) Name() string { return "execute_sql_query" }

func (t *ExecuteSQLQuery) Description() string {
	return "Execute a read-only SQL SELECT query against the DevLake database"
}

func (t *ExecuteSQLQuery) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "SELECT statement to execute",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of rows to return",
			},
		},
		"required": []string{"query"},
	}
}

func (t *ExecuteSQLQuery) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("missing required argument %q", "query")
	}
	limit := defaultRowLimit
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	if err := t.Security.ValidateQuery(query); err != nil {
		return nil, err
	}
	rows, err := t.DB.ExecuteQuery(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"rows":  rows,
		"count": len(rows),
	}, nil
}

// ListDatabases returns the databases visible to the connection.
type ListDatabases struct {
	DB QueryExecutor
}

func (t *ListDatabases) Name() string { return "list_databases" }

func (t *ListDatabases) Description() string {
	return "List databases available on the DevLake server"
}

func (t *ListDatabases) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ListDatabases) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	rows, err := t.DB.ExecuteQuery(ctx, "SHOW DATABASES", 0)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		for _, v := range row {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
	}
	return map[string]interface{}{"databases": names}, nil
}

// ConnectDatabase probes warehouse connectivity and reports the server
// version. Callers typically run it before other database tools.
type ConnectDatabase struct {
	DB Database
}

func (t *ConnectDatabase) Name() string { return "connect_database" }

func (t *ConnectDatabase) Description() string {
	return "Verify connectivity to the DevLake database and return server information"
}

func (t *ConnectDatabase) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ConnectDatabase) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if err := t.DB.Ping(ctx); err != nil {
		return map[string]interface{}{
			"connected": false,
			"error":     err.Error(),
		}, nil
	}
	result := map[string]interface{}{"connected": true}
	rows, err := t.DB.ExecuteQuery(ctx, "SELECT VERSION()", 1)
	if err == nil && len(rows) > 0 {
		for _, v := range rows[0] {
			if s, ok := v.(string); ok {
				result["version"] = s
			}
		}
	}
	return result, nil
}

// GetTableSchema describes the columns of a table.
type GetTableSchema struct {
	DB       QueryExecutor
	Security *security.Manager
}

func (t *GetTableSchema) Name() string { return "get_table_schema" }

func (t *GetTableSchema) Description() string {
	return "Describe the columns of a table in a DevLake database"
}

func (t *GetTableSchema) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"database": map[string]interface{}{
				"type":        "string",
				"description": "Database containing the table",
			},
			"table": map[string]interface{}{
				"type":        "string",
				"description": "Table to describe",
			},
		},
		"required": []string{"database", "table"},
	}
}

func (t *GetTableSchema) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	database, ok := args["database"].(string)
	if !ok || database == "" {
		return nil, fmt.Errorf("missing required argument %q", "database")
	}
	table, ok := args["table"].(string)
	if !ok || table == "" {
		return nil, fmt.Errorf("missing required argument %q", "table")
	}
	if err := t.Security.ValidateDatabaseName(database); err != nil {
		return nil, err
	}
	if err := t.Security.ValidateTableName(table); err != nil {
		return nil, err
	}
	rows, err := t.DB.ExecuteQuery(ctx, fmt.Sprintf("DESCRIBE %s.%s", database, table), 0)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"columns": rows}, nil
}

// ListTables returns the tables in a database.
type ListTables struct {
	DB       QueryExecutor
	Security *security.Manager
}

func (t *ListTables) Name() string { return "list_tables" }

func (t *ListTables) Description() string {
	return "List tables in a DevLake database"
}

func (t *ListTables) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"database": map[string]interface{}{
				"type":        "string",
				"description": "Database to inspect",
			},
		},
		"required": []string{"database"},
	}
}

func (t *ListTables) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	database, ok := args["database"].(string)
	if !ok || database == "" {
		return nil, fmt.Errorf("missing required argument %q", "database")
	}
	if err := t.Security.ValidateDatabaseName(database); err != nil {
		return nil, err
	}
	rows, err := t.DB.ExecuteQuery(ctx, fmt.Sprintf("SHOW TABLES FROM %s", database), 0)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		for _, v := range row {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
	}
	return map[string]interface{}{"tables": names}, nil
}
