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

import "text/template"

type Templates struct {
	EnsurePgcrypto      *template.Template
	CreateSchema        *template.Template
	CreateMetadataTable *template.Template
	TableExists         *template.Template
	CreateKVTable       *template.Template
	DropKVTable         *template.Template

	GetRowCount    *template.Template
	GetSplitPoints *template.Template
	ScanRange      *template.Template
	DigestRange    *template.Template
	UpsertRow      *template.Template

	UpsertMetadata *template.Template
	GetMetadata    *template.Template
	DeleteMetadata *template.Template
}

var SQLTemplates = Templates{
	EnsurePgcrypto: template.Must(template.New("ensurePgcrypto").Parse(`
		CREATE EXTENSION IF NOT EXISTS pgcrypto;
	`)),
	CreateSchema: template.Must(template.New("createSchema").Parse(
		`CREATE SCHEMA IF NOT EXISTS {{.SchemaIdent}}`,
	)),
	CreateMetadataTable: template.Must(template.New("createMetadataTable").Parse(`
		CREATE TABLE IF NOT EXISTS {{.SchemaIdent}}.tablehash_metadata (
			table_name text PRIMARY KEY,
			algorithm text NOT NULL,
			leaf_count int NOT NULL,
			complete boolean NOT NULL DEFAULT false,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`),
	),
	TableExists: template.Must(template.New("tableExists").Parse(
		`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = $1 AND tablename = $2)`,
	)),
	CreateKVTable: template.Must(template.New("createKVTable").Parse(`
		CREATE TABLE {{.SchemaIdent}}.{{.TableIdent}} (
			k bytea PRIMARY KEY,
			v bytea NOT NULL
		)`),
	),
	DropKVTable: template.Must(template.New("dropKVTable").Parse(
		`DROP TABLE {{.SchemaIdent}}.{{.TableIdent}}`,
	)),

	GetRowCount: template.Must(template.New("getRowCount").Parse(
		`SELECT count(*) FROM {{.SchemaIdent}}.{{.TableIdent}}`,
	)),
	// Exact ntile over every key; replicas holding the same keys get the
	// same boundaries.
	GetSplitPoints: template.Must(template.New("getSplitPoints").Parse(`
		SELECT max(k)
		FROM (
			SELECT k, ntile($1) OVER (ORDER BY k) AS bucket
			FROM {{.SchemaIdent}}.{{.TableIdent}}
		) buckets
		GROUP BY bucket
		ORDER BY bucket`),
	),
	ScanRange: template.Must(template.New("scanRange").Parse(`
		SELECT k, v
		FROM {{.SchemaIdent}}.{{.TableIdent}}
		WHERE {{.Predicate}}
		ORDER BY k`),
	),
	// Entries are encoded as uint32be(len(k)) k uint32be(len(v)) v, the same
	// bytes mtree.WriteEntry feeds a client side hash.
	DigestRange: template.Must(template.New("digestRange").Parse(`
		SELECT
			count(*),
			digest(
				coalesce(
					string_agg(int4send(octet_length(k)) || k || int4send(octet_length(v)) || v, ''::bytea ORDER BY k),
					''::bytea
				),
				{{.AlgorithmParam}}
			)
		FROM {{.SchemaIdent}}.{{.TableIdent}}
		WHERE {{.Predicate}}`),
	),
	UpsertRow: template.Must(template.New("upsertRow").Parse(`
		INSERT INTO {{.SchemaIdent}}.{{.TableIdent}} (k, v)
		VALUES ($1, $2)
		ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`),
	),

	UpsertMetadata: template.Must(template.New("upsertMetadata").Parse(`
		INSERT INTO {{.SchemaIdent}}.tablehash_metadata (table_name, algorithm, leaf_count, complete, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (table_name) DO UPDATE SET
			algorithm = EXCLUDED.algorithm,
			leaf_count = EXCLUDED.leaf_count,
			complete = EXCLUDED.complete,
			updated_at = EXCLUDED.updated_at`),
	),
	GetMetadata: template.Must(template.New("getMetadata").Parse(`
		SELECT algorithm, leaf_count, complete, updated_at
		FROM {{.SchemaIdent}}.tablehash_metadata
		WHERE table_name = $1`),
	),
	DeleteMetadata: template.Must(template.New("deleteMetadata").Parse(
		`DELETE FROM {{.SchemaIdent}}.tablehash_metadata WHERE table_name = $1`,
	)),
}
