package analyzer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mssql-backup-verify/internal/apperrors"
	"mssql-backup-verify/internal/controlplane"
	"mssql-backup-verify/internal/logging"
)

// Column describes one column of a discovered table.
type Column struct {
	Name     string `json:"name" yaml:"name"`
	DataType string `json:"data_type" yaml:"data_type"`
}

// TableInfo is the full description of one table. A failure while describing
// the table lands in Err; the rest of the analysis continues.
type TableInfo struct {
	Schema      string            `json:"schema" yaml:"schema"`
	Name        string            `json:"name" yaml:"name"`
	Columns     []Column          `json:"columns" yaml:"columns"`
	RowCount    int64             `json:"row_count" yaml:"row_count"`
	SampleRows  [][]string        `json:"sample_rows,omitempty" yaml:"sample_rows,omitempty"`
	LatestDates map[string]string `json:"latest_dates,omitempty" yaml:"latest_dates,omitempty"`
	Err         string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// dateTypes are the column types worth a freshness probe.
var dateTypes = map[string]bool{
	"datetime":      true,
	"date":          true,
	"datetime2":     true,
	"smalldatetime": true,
}

// Analyzer discovers and describes tables in a restored database.
type Analyzer struct {
	Client         controlplane.Client
	Logger         *logging.Logger
	CommandTimeout time.Duration
}

// Discover lists base tables whose names match any of the patterns
// (case-insensitive substring). Empty patterns match every table.
func (a *Analyzer) Discover(ctx context.Context, db string, patterns []string) ([]TableInfo, error) {
	stmt := fmt.Sprintf(
		"USE [%s]; SELECT TABLE_SCHEMA, TABLE_NAME FROM INFORMATION_SCHEMA.TABLES "+
			"WHERE TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_SCHEMA, TABLE_NAME", db)
	result, err := a.Client.Execute(ctx, stmt, a.CommandTimeout)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list tables")
	}

	var tables []TableInfo
	for _, row := range controlplane.ParseRows(result.Stdout, "|") {
		if len(row) < 2 || row[1] == "" {
			continue
		}
		if !matchesAny(row[1], patterns) {
			continue
		}
		tables = append(tables, TableInfo{Schema: row[0], Name: row[1]})
	}
	return tables, nil
}

func matchesAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	upper := strings.ToUpper(name)
	for _, p := range patterns {
		if strings.Contains(upper, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}

// Analyze discovers matching tables and describes each one. Per-table
// failures are recorded on the table and never abort the pass.
func (a *Analyzer) Analyze(ctx context.Context, db string, patterns []string) ([]TableInfo, error) {
	start := time.Now()
	tables, err := a.Discover(ctx, db, patterns)
	if err != nil {
		if a.Logger != nil {
			a.Logger.LogTableAnalysis(db, 0, time.Since(start), err)
		}
		return nil, err
	}

	for i := range tables {
		if describeErr := a.describe(ctx, db, &tables[i]); describeErr != nil {
			tables[i].Err = describeErr.Error()
		}
	}

	if a.Logger != nil {
		a.Logger.LogTableAnalysis(db, len(tables), time.Since(start), nil)
	}
	return tables, nil
}

func (a *Analyzer) describe(ctx context.Context, db string, table *TableInfo) error {
	if err := a.loadColumns(ctx, db, table); err != nil {
		return err
	}
	if err := a.loadRowCount(ctx, db, table); err != nil {
		return err
	}
	if err := a.loadSample(ctx, db, table); err != nil {
		return err
	}
	a.loadLatestDates(ctx, db, table)
	return nil
}

func (a *Analyzer) loadColumns(ctx context.Context, db string, table *TableInfo) error {
	stmt := fmt.Sprintf(
		"USE [%s]; SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS "+
			"WHERE TABLE_SCHEMA = N'%s' AND TABLE_NAME = N'%s' ORDER BY ORDINAL_POSITION",
		db, table.Schema, table.Name)
	result, err := a.Client.Execute(ctx, stmt, a.CommandTimeout)
	if err != nil {
		return apperrors.Wrap(err, "failed to read columns")
	}
	for _, row := range controlplane.ParseRows(result.Stdout, "|") {
		if len(row) < 2 || row[0] == "" {
			continue
		}
		table.Columns = append(table.Columns, Column{Name: row[0], DataType: row[1]})
	}
	return nil
}

func (a *Analyzer) loadRowCount(ctx context.Context, db string, table *TableInfo) error {
	stmt := fmt.Sprintf("USE [%s]; SELECT COUNT(*) FROM [%s].[%s]", db, table.Schema, table.Name)
	result, err := a.Client.Execute(ctx, stmt, a.CommandTimeout)
	if err != nil {
		return apperrors.Wrap(err, "failed to count rows")
	}
	count, convErr := strconv.ParseInt(controlplane.ParseScalar(result.Stdout), 10, 64)
	if convErr != nil {
		return apperrors.NewControlPlaneError("row count was not numeric", convErr)
	}
	table.RowCount = count
	return nil
}

func (a *Analyzer) loadSample(ctx context.Context, db string, table *TableInfo) error {
	stmt := fmt.Sprintf("USE [%s]; SELECT TOP 5 * FROM [%s].[%s]", db, table.Schema, table.Name)
	result, err := a.Client.Execute(ctx, stmt, a.CommandTimeout)
	if err != nil {
		return apperrors.Wrap(err, "failed to sample rows")
	}
	table.SampleRows = controlplane.ParseRows(result.Stdout, "|")
	return nil
}

// loadLatestDates probes the freshest value of each date-typed column.
// Failures here are per-column and silently skipped; a missing freshness
// value is not a verification failure.
func (a *Analyzer) loadLatestDates(ctx context.Context, db string, table *TableInfo) {
	for _, col := range table.Columns {
		if !dateTypes[strings.ToLower(col.DataType)] {
			continue
		}
		stmt := fmt.Sprintf(
			"USE [%s]; SELECT TOP 1 [%s] FROM [%s].[%s] WHERE [%s] IS NOT NULL ORDER BY [%s] DESC",
			db, col.Name, table.Schema, table.Name, col.Name, col.Name)
		result, err := a.Client.Execute(ctx, stmt, a.CommandTimeout)
		if err != nil {
			continue
		}
		value := controlplane.ParseScalar(result.Stdout)
		if value == "" {
			continue
		}
		if table.LatestDates == nil {
			table.LatestDates = make(map[string]string)
		}
		table.LatestDates[col.Name] = value
	}
}
