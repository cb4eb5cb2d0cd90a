package executors

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/noetl/noetl/internal/value"
	"github.com/noetl/noetl/internal/worker"
)

// SQLExecutor runs the "sql"/"postgres" action type: a semicolon-delimited
// batch of statements against a Postgres connection described by the
// rendered `with` params (db_host/db_port/db_user/db_password/db_name, or a
// ready-made db_conn_string). Grounded on
// original_source/noetl/worker/plugin/postgres.go's execute_postgres_task:
// connection parameters come from `with` (never the action spec, since
// those are step-specific and credential-resolved before rendering), the
// command text is the decoded `command` field (decodeActionSpec already
// base64-unwraps command_b64), and statements are split on top-level
// semicolons so a single action can run a short migration-style batch. Only
// the last statement's result rows are returned, matching the teacher's
// original single-result-set contract.
type SQLExecutor struct{}

func NewSQLExecutor() *SQLExecutor { return &SQLExecutor{} }

func (e *SQLExecutor) Execute(ctx context.Context, actionSpec, with value.Value) (worker.ExecutionResult, error) {
	command := firstNonEmpty(stringField(with, "command"), stringField(actionSpec, "command"))
	if command == "" {
		return worker.ExecutionResult{Status: "error", Error: "sql: missing command", Retryable: false}, nil
	}

	connString, err := connStringFrom(with)
	if err != nil {
		return worker.ExecutionResult{Status: "error", Error: err.Error(), Retryable: false}, nil
	}

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return worker.ExecutionResult{Status: "error", Error: fmt.Sprintf("sql: connect: %v", err), Retryable: true}, nil
	}
	defer conn.Close(ctx)

	statements := splitStatements(command)
	if len(statements) == 0 {
		return worker.ExecutionResult{Status: "error", Error: "sql: no statements after splitting command", Retryable: false}, nil
	}

	var rowsOut []value.Value
	var rowsAffected int64
	for i, stmt := range statements {
		if i == len(statements)-1 {
			rows, err := conn.Query(ctx, stmt)
			if err != nil {
				return worker.ExecutionResult{Status: "error", Error: fmt.Sprintf("sql: query: %v", err), Retryable: true}, nil
			}
			rowsOut, err = scanRowsToValues(rows)
			rows.Close()
			if err != nil {
				return worker.ExecutionResult{Status: "error", Error: fmt.Sprintf("sql: scan: %v", err), Retryable: true}, nil
			}
			rowsAffected = rows.CommandTag().RowsAffected()
			continue
		}
		tag, err := conn.Exec(ctx, stmt)
		if err != nil {
			return worker.ExecutionResult{Status: "error", Error: fmt.Sprintf("sql: exec: %v", err), Retryable: true}, nil
		}
		rowsAffected = tag.RowsAffected()
	}

	data := value.Map(map[string]value.Value{
		"rows":          value.List(rowsOut...),
		"rows_affected": value.Int(rowsAffected),
	})
	return worker.ExecutionResult{Status: "success", Data: data}, nil
}

func connStringFrom(with value.Value) (string, error) {
	if s := stringField(with, "db_conn_string"); s != "" {
		return s, nil
	}
	host := stringField(with, "db_host")
	port := stringField(with, "db_port")
	user := stringField(with, "db_user")
	password := stringField(with, "db_password")
	dbName := stringField(with, "db_name")
	var missing []string
	if host == "" {
		missing = append(missing, "db_host")
	}
	if user == "" {
		missing = append(missing, "db_user")
	}
	if dbName == "" {
		missing = append(missing, "db_name")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("sql: missing connection params: %s", strings.Join(missing, ", "))
	}
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, dbName), nil
}

// splitStatements splits on semicolons outside single/double quotes, dropping
// empty statements and full-line comments (`--`).
func splitStatements(command string) []string {
	var kept []string
	for _, line := range strings.Split(command, "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), "--") {
			kept = append(kept, line)
		}
	}
	command = strings.Join(kept, "\n")

	var out []string
	var current strings.Builder
	inSingle, inDouble := false, false
	for _, ch := range command {
		switch {
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
			current.WriteRune(ch)
		case ch == '"' && !inSingle:
			inDouble = !inDouble
			current.WriteRune(ch)
		case ch == ';' && !inSingle && !inDouble:
			if s := strings.TrimSpace(current.String()); s != "" {
				out = append(out, s)
			}
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func scanRowsToValues(rows pgx.Rows) ([]value.Value, error) {
	fields := rows.FieldDescriptions()
	var out []value.Value
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]value.Value, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = value.FromNative(vals[i])
		}
		out = append(out, value.Map(row))
	}
	return out, rows.Err()
}
