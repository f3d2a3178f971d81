//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of StreamETL.
//
// StreamETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// StreamETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with StreamETL. If not, see https://www.gnu.org/licenses/.

package writers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/aaronlmathis/streametl"
)

// PostgresWriterError wraps PostgreSQL-specific write errors with context about the operation.
type PostgresWriterError struct {
	Op  string // The operation being performed (e.g., "write", "connect")
	Err error  // The underlying error
}

// Error returns the error string for PostgresWriterError.
func (e *PostgresWriterError) Error() string {
	return fmt.Sprintf("postgres writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for PostgresWriterError.
func (e *PostgresWriterError) Unwrap() error {
	return e.Err
}

// PostgresWriterStats holds PostgreSQL write performance statistics.
type PostgresWriterStats struct {
	RecordsWritten   int64         // Total records written
	BatchesWritten   int64         // Number of batches written
	TransactionCount int64         // Number of transactions committed
	LastWriteTime    time.Time     // Time of last write
	WriteDuration    time.Duration // Total time spent writing
	ConnectionTime   time.Duration // Time spent establishing connection
	ConflictCount    int64         // Number of conflicts encountered
}

// ConflictResolution defines how to handle INSERT conflicts in PostgreSQL.
type ConflictResolution int

const (
	// ConflictError returns an error on conflict (default PostgreSQL behavior).
	ConflictError ConflictResolution = iota
	// ConflictIgnore ignores conflicting rows (ON CONFLICT DO NOTHING).
	ConflictIgnore
	// ConflictUpdate updates conflicting rows (ON CONFLICT DO UPDATE).
	ConflictUpdate
)

// PostgresWriterOptions configures the PostgreSQL writer.
type PostgresWriterOptions struct {
	DSN                string             // PostgreSQL connection string
	TableName          string             // Target table name
	Columns            []string           // Columns written from same-named record fields (order matters)
	ExtrasColumn       string             // JSONB column receiving the remaining fields; empty drops them
	BatchSize          int                // Number of records per batch
	CreateTable        bool               // Create table if not exists
	ConflictResolution ConflictResolution // Conflict handling strategy
	ConflictColumns    []string           // Columns that define uniqueness for conflict resolution
	UpdateColumns      []string           // Columns to update on conflict (for ConflictUpdate)
	TransactionMode    bool               // Wrap batches in transactions
	MaxOpenConns       int                // Max open connections
	QueryTimeout       time.Duration      // Timeout for queries
}

// PostgresWriterOption represents a configuration function for PostgresWriterOptions.
type PostgresWriterOption func(*PostgresWriterOptions)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.DSN = dsn
	}
}

// WithTableName sets the target table name.
func WithTableName(tableName string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.TableName = tableName
	}
}

// WithColumns sets the columns to write.
func WithColumns(columns []string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.Columns = append([]string(nil), columns...)
	}
}

// WithExtrasColumn stores fields outside Columns as a JSON object in the named column.
func WithExtrasColumn(column string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.ExtrasColumn = column
	}
}

// WithPostgresBatchSize sets the batch size for writes.
func WithPostgresBatchSize(size int) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCreateTable enables or disables table creation.
func WithCreateTable(create bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.CreateTable = create
	}
}

// WithConflictResolution sets the conflict resolution strategy and columns.
func WithConflictResolution(resolution ConflictResolution, conflictCols, updateCols []string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.ConflictResolution = resolution
		opts.ConflictColumns = append([]string(nil), conflictCols...)
		opts.UpdateColumns = append([]string(nil), updateCols...)
	}
}

// WithTransactionMode enables or disables transaction wrapping for batches.
func WithTransactionMode(enabled bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.TransactionMode = enabled
	}
}

// WithPostgresQueryTimeout sets the query timeout.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.QueryTimeout = timeout
	}
}

// PostgresWriter implements streametl.DataSink for PostgreSQL output.
// It supports batching, transactions and conflict resolution.
type PostgresWriter struct {
	db          *sql.DB
	options     PostgresWriterOptions
	recordBuf   []streametl.Record
	stats       PostgresWriterStats
	prepared    *sql.Stmt
	initialized bool
	errorState  bool
	mu          sync.Mutex
}

// NewPostgresWriter opens a connection pool, pings the server and returns a writer.
func NewPostgresWriter(opts ...PostgresWriterOption) (*PostgresWriter, error) {
	options := PostgresWriterOptions{
		BatchSize:    500,
		QueryTimeout: 30 * time.Second,
		MaxOpenConns: 4,
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := validatePostgresOptions(&options); err != nil {
		return nil, &PostgresWriterError{Op: "validate", Err: err}
	}

	writer := &PostgresWriter{
		options:   options,
		recordBuf: make([]streametl.Record, 0, options.BatchSize),
	}

	if err := writer.connect(); err != nil {
		return nil, &PostgresWriterError{Op: "connect", Err: err}
	}

	return writer, nil
}

// Stats returns a copy of the current write statistics.
func (w *PostgresWriter) Stats() PostgresWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Write implements the streametl.DataSink interface.
func (w *PostgresWriter) Write(ctx context.Context, record streametl.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.errorState {
		return &PostgresWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}

	if !w.initialized {
		if err := w.initializeUnsafe(ctx, record); err != nil {
			w.errorState = true
			return &PostgresWriterError{Op: "initialize", Err: err}
		}
	}

	w.recordBuf = append(w.recordBuf, record)

	if len(w.recordBuf) >= w.options.BatchSize {
		if err := w.flushBufferUnsafe(ctx); err != nil {
			w.errorState = true
			return &PostgresWriterError{Op: "flush_batch", Err: err}
		}
	}

	return nil
}

// Flush implements the streametl.DataSink interface.
func (w *PostgresWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), w.options.QueryTimeout)
	defer cancel()

	if err := w.flushBufferUnsafe(ctx); err != nil {
		return &PostgresWriterError{Op: "flush", Err: err}
	}
	return nil
}

// Close implements the streametl.DataSink interface.
func (w *PostgresWriter) Close() error {
	flushErr := w.Flush()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.prepared != nil {
		w.prepared.Close()
		w.prepared = nil
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil && flushErr == nil {
			return &PostgresWriterError{Op: "close", Err: err}
		}
		w.db = nil
	}
	return flushErr
}

// Abort implements streametl.Aborter. Buffered rows are dropped; batches already
// committed stay in the table.
func (w *PostgresWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.recordBuf = w.recordBuf[:0]
	if w.prepared != nil {
		w.prepared.Close()
		w.prepared = nil
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			return &PostgresWriterError{Op: "abort", Err: err}
		}
		w.db = nil
	}
	return nil
}

func validatePostgresOptions(opts *PostgresWriterOptions) error {
	if opts.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if opts.TableName == "" {
		return fmt.Errorf("table name is required")
	}
	if len(opts.Columns) == 0 {
		return fmt.Errorf("at least one column is required")
	}
	if opts.ConflictResolution == ConflictUpdate && len(opts.UpdateColumns) == 0 {
		return fmt.Errorf("update columns required for conflict update resolution")
	}
	if opts.ConflictResolution != ConflictError && len(opts.ConflictColumns) == 0 {
		return fmt.Errorf("conflict columns required for conflict resolution")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	return nil
}

// connect establishes the database connection and configures the connection pool.
func (w *PostgresWriter) connect() error {
	start := time.Now()

	db, err := sql.Open("postgres", w.options.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(w.options.MaxOpenConns)
	db.SetConnMaxIdleTime(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), w.options.QueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	w.db = db
	w.stats.ConnectionTime = time.Since(start)
	return nil
}

// initializeUnsafe creates the table if asked and prepares the insert (must hold mutex).
func (w *PostgresWriter) initializeUnsafe(ctx context.Context, firstRecord streametl.Record) error {
	if w.options.CreateTable {
		if _, err := w.db.ExecContext(ctx, createTableQuery(w.options, firstRecord)); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	stmt, err := w.db.PrepareContext(ctx, insertQuery(w.options))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	w.prepared = stmt
	w.initialized = true
	return nil
}

// insertColumns returns the written columns including the extras column.
func insertColumns(opts PostgresWriterOptions) []string {
	columns := append([]string(nil), opts.Columns...)
	if opts.ExtrasColumn != "" {
		columns = append(columns, opts.ExtrasColumn)
	}
	return columns
}

func quoteColumns(columns []string) []string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pq.QuoteIdentifier(col)
	}
	return quoted
}

// createTableQuery builds CREATE TABLE IF NOT EXISTS with column types taken from record.
func createTableQuery(opts PostgresWriterOptions, record streametl.Record) string {
	defs := make([]string, 0, len(opts.Columns)+1)
	for _, col := range opts.Columns {
		defs = append(defs, fmt.Sprintf("%s %s", pq.QuoteIdentifier(col), inferSQLType(record[col])))
	}
	if opts.ExtrasColumn != "" {
		defs = append(defs, fmt.Sprintf("%s JSONB", pq.QuoteIdentifier(opts.ExtrasColumn)))
	}
	if len(opts.ConflictColumns) > 0 {
		defs = append(defs, fmt.Sprintf("UNIQUE (%s)", strings.Join(quoteColumns(opts.ConflictColumns), ", ")))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pq.QuoteIdentifier(opts.TableName), strings.Join(defs, ", "))
}

// insertQuery builds the parameterized INSERT, with the conflict clause if configured.
func insertQuery(opts PostgresWriterOptions) string {
	columns := insertColumns(opts)
	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pq.QuoteIdentifier(opts.TableName),
		strings.Join(quoteColumns(columns), ", "),
		strings.Join(placeholders, ", "))

	switch opts.ConflictResolution {
	case ConflictIgnore:
		query += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(quoteColumns(opts.ConflictColumns), ", "))
	case ConflictUpdate:
		updates := make([]string, len(opts.UpdateColumns))
		for i, col := range opts.UpdateColumns {
			q := pq.QuoteIdentifier(col)
			updates[i] = fmt.Sprintf("%s = EXCLUDED.%s", q, q)
		}
		query += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
			strings.Join(quoteColumns(opts.ConflictColumns), ", "),
			strings.Join(updates, ", "))
	}
	return query
}

// rowValues returns the insert arguments for one record.
func rowValues(opts PostgresWriterOptions, record streametl.Record) ([]interface{}, error) {
	values := make([]interface{}, 0, len(opts.Columns)+1)
	known := make(map[string]bool, len(opts.Columns))
	for _, col := range opts.Columns {
		known[col] = true
		values = append(values, convertValue(record[col]))
	}

	if opts.ExtrasColumn != "" {
		extras := make(map[string]interface{})
		for k, v := range record {
			if !known[k] {
				extras[k] = v
			}
		}
		data, err := json.Marshal(extras)
		if err != nil {
			return nil, fmt.Errorf("failed to encode extra fields: %w", err)
		}
		values = append(values, string(data))
	}
	return values, nil
}

// flushBufferUnsafe writes buffered records to PostgreSQL (must hold mutex).
func (w *PostgresWriter) flushBufferUnsafe(ctx context.Context) (err error) {
	if len(w.recordBuf) == 0 {
		return nil
	}

	start := time.Now()

	var tx *sql.Tx
	if w.options.TransactionMode {
		tx, err = w.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			if err != nil {
				tx.Rollback()
			}
		}()
	}

	stmt := w.prepared
	if tx != nil {
		stmt = tx.StmtContext(ctx, w.prepared)
		defer stmt.Close()
	}

	for _, record := range w.recordBuf {
		values, verr := rowValues(w.options, record)
		if verr != nil {
			return verr
		}

		result, xerr := stmt.ExecContext(ctx, values...)
		if xerr != nil {
			return fmt.Errorf("failed to execute insert: %w", xerr)
		}
		if rows, rerr := result.RowsAffected(); rerr == nil && rows == 0 {
			w.stats.ConflictCount++
		}
	}

	if tx != nil {
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		w.stats.TransactionCount++
	}

	w.stats.RecordsWritten += int64(len(w.recordBuf))
	w.stats.BatchesWritten++
	w.stats.LastWriteTime = time.Now()
	w.stats.WriteDuration += time.Since(start)
	w.recordBuf = w.recordBuf[:0]

	return nil
}

// inferSQLType infers PostgreSQL column type from Go value.
func inferSQLType(value interface{}) string {
	switch value.(type) {
	case bool:
		return "BOOLEAN"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "BIGINT"
	case float32, float64, json.Number:
		return "DOUBLE PRECISION"
	case time.Time:
		return "TIMESTAMPTZ"
	case map[string]interface{}, []interface{}:
		return "JSONB"
	default:
		return "TEXT"
	}
}

// convertValue converts Go values to PostgreSQL-compatible types.
func convertValue(value interface{}) interface{} {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case time.Time, bool, int64, float64, string, []byte:
		return v
	case json.Number:
		return v.String()
	case map[string]interface{}, []interface{}:
		return FormatValue(v)
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
			return rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(rv.Uint())
		case reflect.Float32:
			return rv.Float()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
}
