// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agentapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/AleutianAI/AleutianInvestigate/services/investigate/agents"
)

// ErrNotReadOnly is returned for statements other than a single SELECT or
// WITH query.
var ErrNotReadOnly = errors.New("only single SELECT or WITH statements are allowed")

// PostgresExecutor runs SQL translations against PostgreSQL.
//
// Description:
//
//	Each query runs in its own read-only transaction so one failing query
//	does not abort the rest. At most 100 rows are read per query; the
//	outcome carries the first 10 as records and the first 3 as a sample.
//
// Thread Safety: Safe for concurrent use; *sql.DB pools connections.
type PostgresExecutor struct {
	db           *sql.DB
	queryTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

var _ StructuredExecutor = (*PostgresExecutor)(nil)

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresExecutor, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return NewPostgresExecutor(db, cfg.QueryTimeout, logger), nil
}

// NewPostgresExecutor wraps an existing pool.
func NewPostgresExecutor(db *sql.DB, queryTimeout time.Duration, logger *slog.Logger) *PostgresExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresExecutor{
		db:           db,
		queryTimeout: queryTimeout,
		logger:       logger.With(slog.String("component", "postgres_executor")),
		now:          time.Now,
	}
}

// Close releases the pool.
func (p *PostgresExecutor) Close() error {
	return p.db.Close()
}

// ExecuteSQL implements StructuredExecutor.
func (p *PostgresExecutor) ExecuteSQL(ctx context.Context, t agents.SQLTranslation) (*agents.ExecutionResult, error) {
	data := make(map[string]agents.QueryOutcome, len(t.Queries))
	for i, q := range t.Queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := agents.QueryOutcome{Purpose: q.Purpose, Query: q.SQL}
		records, err := p.run(ctx, q.SQL)
		if err != nil {
			out.Error = describePQError(err)
			p.logger.Warn("SQL query failed",
				slog.Int("index", i),
				slog.String("table", q.Table),
				slog.String("error", out.Error))
		} else {
			out.Success = true
			out.RecordCount = len(records)
			out.Records, out.SampleData = shapeRecords(records)
		}
		data[queryKey(i)] = out
	}

	summary, ok := summarize(data, ExecutionTypePostgres)
	return &agents.ExecutionResult{
		Success: ok,
		Message: fmt.Sprintf("Executed %d SQL queries (%d successful, %d failed)",
			summary.TotalQueries, summary.SuccessfulQueries, summary.FailedQueries),
		Data:             data,
		ExecutionSummary: summary,
		DataSource:       ExecutionTypePostgres,
		Timestamp:        p.now().UTC().Format(time.RFC3339),
	}, nil
}

func (p *PostgresExecutor) run(ctx context.Context, query string) ([]map[string]any, error) {
	stmt, err := readOnlyStatement(query)
	if err != nil {
		return nil, err
	}
	if p.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.queryTimeout)
		defer cancel()
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var records []map[string]any
	for len(records) < maxRecordsPerQuery && rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(cols))
		for i, col := range cols {
			rec[col] = normalizeSQLValue(values[i])
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// readOnlyStatement trims a trailing semicolon and rejects anything other
// than one SELECT or WITH statement.
func readOnlyStatement(query string) (string, error) {
	stmt := strings.TrimSpace(query)
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	if stmt == "" || strings.Contains(stmt, ";") {
		return "", ErrNotReadOnly
	}
	head := strings.ToUpper(strings.Fields(stmt)[0])
	if head != "SELECT" && head != "WITH" {
		return "", ErrNotReadOnly
	}
	return stmt, nil
}

func normalizeSQLValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return x
	}
}

// describePQError adds the SQLSTATE code to server-side errors.
func describePQError(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Sprintf("%s (SQLSTATE %s)", pqErr.Message, pqErr.Code)
	}
	return err.Error()
}
