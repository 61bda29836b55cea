// ///////////////////////////////////////////////////////////////////////////
//
// # TableHash - Merkle digests for sorted tables
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package queries

//go:generate mockgen -destination=mocks/mock_querier.go -package=mocks github.com/pgedge/tablehash/db/queries DBQuerier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pgedge/tablehash/pkg/types"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// For mocking
type DBQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var validIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func SanitiseIdentifier(ident string) error {
	if !validIdentifierRegex.MatchString(ident) {
		return fmt.Errorf("invalid identifier: %s", ident)
	}
	return nil
}

func RenderSQL(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render SQL: %w", err)
	}
	return buf.String(), nil
}

// QualifiedName splits "schema.table", falling back to defaultSchema for a
// bare table name. Both parts are validated.
func QualifiedName(name, defaultSchema string) (schema, table string, err error) {
	parts := strings.Split(name, ".")
	switch len(parts) {
	case 1:
		schema, table = defaultSchema, parts[0]
	case 2:
		schema, table = parts[0], parts[1]
	default:
		return "", "", fmt.Errorf("table name %s must be of form 'schema.table_name' or 'table_name'", name)
	}
	if err := SanitiseIdentifier(schema); err != nil {
		return "", "", err
	}
	if err := SanitiseIdentifier(table); err != nil {
		return "", "", err
	}
	return schema, table, nil
}

func identData(schema, table string) map[string]any {
	return map[string]any{
		"SchemaIdent": pgx.Identifier{schema}.Sanitize(),
		"TableIdent":  pgx.Identifier{table}.Sanitize(),
	}
}

// RangePredicate renders the WHERE clause selecting keys inside r. Bound
// values become positional parameters starting at $firstParam.
func RangePredicate(r types.KeyRange, firstParam int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if r.Start != nil {
		op := ">"
		if r.StartInclusive {
			op = ">="
		}
		args = append(args, r.Start)
		conds = append(conds, fmt.Sprintf("k %s $%d", op, firstParam+len(args)-1))
	}
	if r.End != nil {
		op := "<"
		if r.EndInclusive {
			op = "<="
		}
		args = append(args, r.End)
		conds = append(conds, fmt.Sprintf("k %s $%d", op, firstParam+len(args)-1))
	}
	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), args
}

func EnsurePgcrypto(ctx context.Context, db DBTX) error {
	sql, err := RenderSQL(SQLTemplates.EnsurePgcrypto, nil)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to ensure pgcrypto is installed: %w", err)
	}
	return nil
}

func CreateSchema(ctx context.Context, db DBTX, schema string) error {
	sql, err := RenderSQL(SQLTemplates.CreateSchema, identData(schema, ""))
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return nil
}

func CreateMetadataTable(ctx context.Context, db DBTX, schema string) error {
	sql, err := RenderSQL(SQLTemplates.CreateMetadataTable, identData(schema, ""))
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to create metadata table: %w", err)
	}
	return nil
}

func TableExists(ctx context.Context, db DBQuerier, schema, table string) (bool, error) {
	sql, err := RenderSQL(SQLTemplates.TableExists, nil)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := db.QueryRow(ctx, sql, schema, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("TableExists query failed for %s.%s: %w", schema, table, err)
	}
	return exists, nil
}

func CreateKVTable(ctx context.Context, db DBTX, schema, table string) error {
	sql, err := RenderSQL(SQLTemplates.CreateKVTable, identData(schema, table))
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to create table %s.%s: %w", schema, table, err)
	}
	return nil
}

func DropKVTable(ctx context.Context, db DBTX, schema, table string) error {
	sql, err := RenderSQL(SQLTemplates.DropKVTable, identData(schema, table))
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to drop table %s.%s: %w", schema, table, err)
	}
	return nil
}

func RowCount(ctx context.Context, db DBQuerier, schema, table string) (int64, error) {
	sql, err := RenderSQL(SQLTemplates.GetRowCount, identData(schema, table))
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, fmt.Errorf("RowCount query failed for %s.%s: %w", schema, table, err)
	}
	return n, nil
}

// SplitPoints divides the keys of a table into buckets of equal row count
// and returns the last key of every bucket but the final one.
func SplitPoints(ctx context.Context, db DBTX, schema, table string, buckets int) ([][]byte, error) {
	if buckets <= 1 {
		return nil, nil
	}
	sql, err := RenderSQL(SQLTemplates.GetSplitPoints, identData(schema, table))
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, sql, buckets)
	if err != nil {
		return nil, fmt.Errorf("SplitPoints query failed for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var k []byte
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan split point: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SplitPoints query failed for %s.%s: %w", schema, table, err)
	}
	if len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func ScanRangeSQL(schema, table string, r types.KeyRange) (string, []any, error) {
	pred, args := RangePredicate(r, 1)
	data := identData(schema, table)
	data["Predicate"] = pred
	sql, err := RenderSQL(SQLTemplates.ScanRange, data)
	if err != nil {
		return "", nil, err
	}
	return sql, args, nil
}

// DigestRangeSQL renders the server side digest of r with pgcrypto; the
// algorithm name is the last parameter.
func DigestRangeSQL(schema, table string, r types.KeyRange, pgAlgorithm string) (string, []any, error) {
	pred, args := RangePredicate(r, 1)
	data := identData(schema, table)
	data["Predicate"] = pred
	data["AlgorithmParam"] = fmt.Sprintf("$%d", len(args)+1)
	sql, err := RenderSQL(SQLTemplates.DigestRange, data)
	if err != nil {
		return "", nil, err
	}
	return sql, append(args, pgAlgorithm), nil
}

func DigestRange(ctx context.Context, db DBQuerier, schema, table string, r types.KeyRange, pgAlgorithm string) ([]byte, int64, error) {
	sql, args, err := DigestRangeSQL(schema, table, r, pgAlgorithm)
	if err != nil {
		return nil, 0, err
	}
	var (
		n   int64
		sum []byte
	)
	if err := db.QueryRow(ctx, sql, args...).Scan(&n, &sum); err != nil {
		return nil, 0, fmt.Errorf("DigestRange query failed for %s.%s %s: %w", schema, table, r, err)
	}
	return sum, n, nil
}

func UpsertRowSQL(schema, table string) (string, error) {
	return RenderSQL(SQLTemplates.UpsertRow, identData(schema, table))
}

func UpsertMetadata(ctx context.Context, db DBTX, schema, qualified string, md types.TableMetadata) error {
	sql, err := RenderSQL(SQLTemplates.UpsertMetadata, identData(schema, ""))
	if err != nil {
		return err
	}
	updated := md.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	if _, err := db.Exec(ctx, sql, qualified, md.Algorithm, md.LeafCount, md.Complete, updated); err != nil {
		return fmt.Errorf("failed to write metadata for %s: %w", qualified, err)
	}
	return nil
}

func GetMetadata(ctx context.Context, db DBQuerier, schema, qualified string) (types.TableMetadata, bool, error) {
	var md types.TableMetadata
	sql, err := RenderSQL(SQLTemplates.GetMetadata, identData(schema, ""))
	if err != nil {
		return md, false, err
	}
	err = db.QueryRow(ctx, sql, qualified).Scan(&md.Algorithm, &md.LeafCount, &md.Complete, &md.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.TableMetadata{}, false, nil
	}
	if err != nil {
		return md, false, fmt.Errorf("GetMetadata query failed for %s: %w", qualified, err)
	}
	return md, true, nil
}

func DeleteMetadata(ctx context.Context, db DBTX, schema, qualified string) error {
	sql, err := RenderSQL(SQLTemplates.DeleteMetadata, identData(schema, ""))
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, sql, qualified); err != nil {
		return fmt.Errorf("failed to delete metadata for %s: %w", qualified, err)
	}
	return nil
}
