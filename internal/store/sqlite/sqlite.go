// Package sqlite implements the store.Graph facade on an embedded SQLite
// database. It is the default backend for local runs and tests; the schema
// keeps hot filter columns relational and folds the long tail of each
// entity into a JSON document column.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"kgraph/internal/domain"
	"kgraph/internal/kgerrors"
	"kgraph/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS concepts (
	id           TEXT PRIMARY KEY,
	ontology     TEXT NOT NULL,
	label        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	search_terms TEXT NOT NULL DEFAULT '[]',
	embedding    BLOB,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_concepts_ontology ON concepts(ontology);

CREATE TABLE IF NOT EXISTS sources (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	ontology    TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	full_text   TEXT NOT NULL,
	byte_start  INTEGER NOT NULL DEFAULT 0,
	byte_end    INTEGER NOT NULL DEFAULT 0,
	object_key  TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sources_document ON sources(document_id);
CREATE INDEX IF NOT EXISTS idx_sources_ontology ON sources(ontology);

CREATE TABLE IF NOT EXISTS instances (
	concept_id TEXT NOT NULL,
	source_id  TEXT NOT NULL,
	quote      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (concept_id, source_id)
);
CREATE INDEX IF NOT EXISTS idx_instances_source ON instances(source_id);

CREATE TABLE IF NOT EXISTS relationships (
	from_id    TEXT NOT NULL,
	to_id      TEXT NOT NULL,
	type       TEXT NOT NULL,
	ontology   TEXT NOT NULL,
	confidence REAL NOT NULL,
	evidence   TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	PRIMARY KEY (from_id, to_id, type)
);
CREATE INDEX IF NOT EXISTS idx_rel_to ON relationships(to_id);
CREATE INDEX IF NOT EXISTS idx_rel_type ON relationships(type);
CREATE INDEX IF NOT EXISTS idx_rel_ontology ON relationships(ontology);

CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL UNIQUE,
	ontology     TEXT NOT NULL,
	filename     TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL,
	mime_type    TEXT NOT NULL DEFAULT '',
	size_bytes   INTEGER NOT NULL DEFAULT 0,
	object_key   TEXT NOT NULL DEFAULT '',
	source_url   TEXT NOT NULL DEFAULT '',
	ingested_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_ontology ON documents(ontology);

CREATE TABLE IF NOT EXISTS vocabulary (
	name TEXT PRIMARY KEY,
	doc  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	type         TEXT NOT NULL,
	ontology     TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	submitted_at TEXT NOT NULL,
	doc          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_hash ON jobs(content_hash);

CREATE TABLE IF NOT EXISTS model_configs (
	id     TEXT PRIMARY KEY,
	kind   TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 0,
	doc    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_model_configs_kind ON model_configs(kind);
`

// Store implements store.Graph on SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Graph = (*Store)(nil)

// New opens (creating if needed) the database at path. Use ":memory:" for an
// ephemeral store in tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// A single connection serializes writers and is required for :memory:,
	// where every new connection would see a fresh empty database.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// ---- concepts ----

func (s *Store) PutConcept(ctx context.Context, c *domain.Concept) (bool, error) {
	if err := store.RequireWriteIntent(ctx, "PutConcept"); err != nil {
		return false, err
	}
	terms, err := json.Marshal(emptyToNilSlice(c.SearchTerms))
	if err != nil {
		return false, kgerrors.Wrap(err, "PutConcept")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO concepts (id, ontology, label, description, search_terms, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		c.ID, c.Ontology, c.Label, c.Description, string(terms), encodeVec(c.Embedding), fmtTime(c.CreatedAt))
	if err != nil {
		return false, kgerrors.Wrap(err, "PutConcept")
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) GetConcept(ctx context.Context, id string) (*domain.Concept, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ontology, label, description, search_terms, embedding, created_at
		FROM concepts WHERE id = ?`, id)
	c, err := scanConcept(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kgerrors.NotFound("concept", id)
	}
	if err != nil {
		return nil, kgerrors.Wrap(err, "GetConcept")
	}
	return c, nil
}

func (s *Store) GetConcepts(ctx context.Context, ids []string) ([]*domain.Concept, error) {
	out := make([]*domain.Concept, 0, len(ids))
	for _, batch := range chunkStrings(ids, 500) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, ontology, label, description, search_terms, embedding, created_at
			FROM concepts WHERE id IN (`+placeholders(len(batch))+`)`, toAny(batch)...)
		if err != nil {
			return nil, kgerrors.Wrap(err, "GetConcepts")
		}
		for rows.Next() {
			c, err := scanConcept(rows)
			if err != nil {
				rows.Close()
				return nil, kgerrors.Wrap(err, "GetConcepts")
			}
			out = append(out, c)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, kgerrors.Wrap(err, "GetConcepts")
		}
		rows.Close()
	}
	return out, nil
}

func (s *Store) MergeSearchTerms(ctx context.Context, id string, terms []string) error {
	if err := store.RequireWriteIntent(ctx, "MergeSearchTerms"); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kgerrors.Wrap(err, "MergeSearchTerms")
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT search_terms FROM concepts WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return kgerrors.NotFound("concept", id)
	}
	if err != nil {
		return kgerrors.Wrap(err, "MergeSearchTerms")
	}

	c := domain.Concept{}
	if err := json.Unmarshal([]byte(raw), &c.SearchTerms); err != nil {
		return kgerrors.Wrap(err, "MergeSearchTerms")
	}
	if c.MergeSearchTerms(terms) == 0 {
		return nil // nothing new
	}

	merged, err := json.Marshal(c.SearchTerms)
	if err != nil {
		return kgerrors.Wrap(err, "MergeSearchTerms")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE concepts SET search_terms = ? WHERE id = ?`, string(merged), id); err != nil {
		return kgerrors.Wrap(err, "MergeSearchTerms")
	}
	if err := tx.Commit(); err != nil {
		return kgerrors.Wrap(err, "MergeSearchTerms")
	}
	return nil
}

func (s *Store) ListConcepts(ctx context.Context, ontology string, limit, offset int) ([]*domain.Concept, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := `SELECT id, ontology, label, description, search_terms, embedding, created_at FROM concepts`
	args := []any{}
	if ontology != "" {
		q += ` WHERE ontology = ?`
		args = append(args, ontology)
	}
	q += ` ORDER BY created_at, id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, kgerrors.Wrap(err, "ListConcepts")
	}
	defer rows.Close()

	var out []*domain.Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, kgerrors.Wrap(err, "ListConcepts")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return out, kgerrors.Wrap(err, "ListConcepts")
	}
	return out, nil
}

func (s *Store) ListEmbeddings(ctx context.Context, ontology string) ([]store.ConceptVector, error) {
	q := `SELECT id, ontology, embedding FROM concepts WHERE embedding IS NOT NULL`
	args := []any{}
	if ontology != "" {
		q += ` AND ontology = ?`
		args = append(args, ontology)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, kgerrors.Wrap(err, "ListEmbeddings")
	}
	defer rows.Close()

	var out []store.ConceptVector
	for rows.Next() {
		var cv store.ConceptVector
		var blob []byte
		if err := rows.Scan(&cv.ID, &cv.Ontology, &blob); err != nil {
			return nil, kgerrors.Wrap(err, "ListEmbeddings")
		}
		cv.Embedding = decodeVec(blob)
		out = append(out, cv)
	}
	if err := rows.Err(); err != nil {
		return out, kgerrors.Wrap(err, "ListEmbeddings")
	}
	return out, nil
}

// ---- sources and instances ----

func (s *Store) PutSource(ctx context.Context, src *domain.Source) (bool, error) {
	if err := store.RequireWriteIntent(ctx, "PutSource"); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, document_id, ontology, chunk_index, full_text, byte_start, byte_end, object_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		src.ID, src.DocumentID, src.Ontology, src.ChunkIndex, src.FullText,
		src.ByteStart, src.ByteEnd, src.ObjectKey, fmtTime(src.CreatedAt))
	if err != nil {
		return false, kgerrors.Wrap(err, "PutSource")
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) GetSource(ctx context.Context, id string) (*domain.Source, error) {
	var src domain.Source
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, ontology, chunk_index, full_text, byte_start, byte_end, object_key, created_at
		FROM sources WHERE id = ?`, id).
		Scan(&src.ID, &src.DocumentID, &src.Ontology, &src.ChunkIndex, &src.FullText,
			&src.ByteStart, &src.ByteEnd, &src.ObjectKey, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kgerrors.NotFound("source", id)
	}
	if err != nil {
		return nil, kgerrors.Wrap(err, "GetSource")
	}
	src.CreatedAt = parseTime(created)
	return &src, nil
}

func (s *Store) PutInstance(ctx context.Context, in *domain.Instance) (bool, error) {
	if err := store.RequireWriteIntent(ctx, "PutInstance"); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (concept_id, source_id, quote, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(concept_id, source_id) DO NOTHING`,
		in.ConceptID, in.SourceID, in.Quote, fmtTime(in.CreatedAt))
	if err != nil {
		return false, kgerrors.Wrap(err, "PutInstance")
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) ListInstances(ctx context.Context, conceptID string, limit int) ([]*domain.Instance, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT concept_id, source_id, quote, created_at
		FROM instances WHERE concept_id = ? ORDER BY created_at LIMIT ?`, conceptID, limit)
	if err != nil {
		return nil, kgerrors.Wrap(err, "ListInstances")
	}
	defer rows.Close()

	var out []*domain.Instance
	for rows.Next() {
		var in domain.Instance
		var created string
		if err := rows.Scan(&in.ConceptID, &in.SourceID, &in.Quote, &created); err != nil {
			return nil, kgerrors.Wrap(err, "ListInstances")
		}
		in.CreatedAt = parseTime(created)
		out = append(out, &in)
	}
	if err := rows.Err(); err != nil {
		return out, kgerrors.Wrap(err, "ListInstances")
	}
	return out, nil
}

func (s *Store) CountInstances(ctx context.Context, conceptID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM instances WHERE concept_id = ?`, conceptID).Scan(&n)
	if err != nil {
		return n, kgerrors.Wrap(err, "CountInstances")
	}
	return n, nil
}

// ---- relationships ----

func (s *Store) PutRelationship(ctx context.Context, r *domain.Relationship) (bool, error) {
	if err := store.RequireWriteIntent(ctx, "PutRelationship"); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, kgerrors.Wrap(err, "PutRelationship")
	}
	defer tx.Rollback()

	created, err := upsertRelationship(ctx, tx, r)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return created, kgerrors.Wrap(err, "PutRelationship")
	}
	return created, nil
}

// upsertRelationship merges evidence into an existing edge or inserts a new
// one. Confidence keeps the maximum the edge has ever been asserted with.
func upsertRelationship(ctx context.Context, tx *sql.Tx, r *domain.Relationship) (bool, error) {
	var rawEvidence string
	var confidence float64
	err := tx.QueryRowContext(ctx, `
		SELECT evidence, confidence FROM relationships
		WHERE from_id = ? AND to_id = ? AND type = ?`,
		r.FromID, r.ToID, r.Type).Scan(&rawEvidence, &confidence)

	if errors.Is(err, sql.ErrNoRows) {
		ev, merr := json.Marshal(emptyToNilSlice(r.Evidence))
		if merr != nil {
			return false, kgerrors.Wrap(merr, "PutRelationship")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO relationships (from_id, to_id, type, ontology, confidence, evidence, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.FromID, r.ToID, r.Type, r.Ontology, r.Confidence, string(ev), fmtTime(r.CreatedAt))
		if err != nil {
			return false, kgerrors.Wrap(err, "PutRelationship")
		}
		return true, nil
	}
	if err != nil {
		return false, kgerrors.Wrap(err, "PutRelationship")
	}

	existing := domain.Relationship{Confidence: confidence}
	if err := json.Unmarshal([]byte(rawEvidence), &existing.Evidence); err != nil {
		return false, kgerrors.Wrap(err, "PutRelationship")
	}
	for _, sid := range r.Evidence {
		existing.AddEvidence(sid)
	}
	if r.Confidence > existing.Confidence {
		existing.Confidence = r.Confidence
	}

	ev, err := json.Marshal(emptyToNilSlice(existing.Evidence))
	if err != nil {
		return false, kgerrors.Wrap(err, "PutRelationship")
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE relationships SET confidence = ?, evidence = ?
		WHERE from_id = ? AND to_id = ? AND type = ?`,
		existing.Confidence, string(ev), r.FromID, r.ToID, r.Type)
	if err != nil {
		return false, kgerrors.Wrap(err, "PutRelationship")
	}
	return false, nil
}

func (s *Store) Neighbors(ctx context.Context, ids []string, ontology string) ([]domain.Adjacency, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seeds := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seeds[id] = struct{}{}
	}

	var out []domain.Adjacency
	for _, batch := range chunkStrings(ids, 250) {
		ph := placeholders(len(batch))
		args := make([]any, 0, len(batch)*2+1)
		q := `SELECT from_id, to_id, type, confidence FROM relationships WHERE `
		if ontology != "" {
			q += `ontology = ? AND `
			args = append(args, ontology)
		}
		q += `(from_id IN (` + ph + `) OR to_id IN (` + ph + `))`
		args = append(args, toAny(batch)...)
		args = append(args, toAny(batch)...)

		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, kgerrors.Wrap(err, "Neighbors")
		}
		for rows.Next() {
			var from, to, typ string
			var conf float64
			if err := rows.Scan(&from, &to, &typ, &conf); err != nil {
				rows.Close()
				return nil, kgerrors.Wrap(err, "Neighbors")
			}
			if _, ok := seeds[from]; ok {
				out = append(out, domain.Adjacency{
					SeedID: from, NeighborID: to, FromID: from, ToID: to, Type: typ, Confidence: conf,
				})
			}
			if _, ok := seeds[to]; ok {
				out = append(out, domain.Adjacency{
					SeedID: to, NeighborID: from, FromID: from, ToID: to, Type: typ, Confidence: conf,
				})
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, kgerrors.Wrap(err, "Neighbors")
		}
		rows.Close()
	}
	return out, nil
}

func (s *Store) EdgesOf(ctx context.Context, id string) ([]*domain.Relationship, error) {
	return s.queryEdges(ctx, `
		SELECT from_id, to_id, type, ontology, confidence, evidence, created_at
		FROM relationships WHERE from_id = ? OR to_id = ?`, id, id)
}

func (s *Store) EdgesByType(ctx context.Context, ontology, typeName string) ([]*domain.Relationship, error) {
	q := `SELECT from_id, to_id, type, ontology, confidence, evidence, created_at
		FROM relationships WHERE type = ?`
	args := []any{typeName}
	if ontology != "" {
		q += ` AND ontology = ?`
		args = append(args, ontology)
	}
	return s.queryEdges(ctx, q, args...)
}

func (s *Store) queryEdges(ctx context.Context, q string, args ...any) ([]*domain.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, kgerrors.Wrap(err, "queryEdges")
	}
	defer rows.Close()

	var out []*domain.Relationship
	for rows.Next() {
		r, err := scanEdge(rows)
		if err != nil {
			return nil, kgerrors.Wrap(err, "queryEdges")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return out, kgerrors.Wrap(err, "queryEdges")
	}
	return out, nil
}

func (s *Store) EdgeTypeCounts(ctx context.Context, ontology string) (map[string]int, error) {
	q := `SELECT type, COUNT(*) FROM relationships`
	args := []any{}
	if ontology != "" {
		q += ` WHERE ontology = ?`
		args = append(args, ontology)
	}
	q += ` GROUP BY type`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, kgerrors.Wrap(err, "EdgeTypeCounts")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, kgerrors.Wrap(err, "EdgeTypeCounts")
		}
		counts[typ] = n
	}
	if err := rows.Err(); err != nil {
		return counts, kgerrors.Wrap(err, "EdgeTypeCounts")
	}
	return counts, nil
}

// RetypeEdges moves every edge of fromType to toType. When the target edge
// already exists the evidence sets merge, so the operation is safe to rerun
// after a partial failure.
func (s *Store) RetypeEdges(ctx context.Context, fromType, toType string) (int, error) {
	if err := store.RequireWriteIntent(ctx, "RetypeEdges"); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, kgerrors.Wrap(err, "RetypeEdges")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT from_id, to_id, type, ontology, confidence, evidence, created_at
		FROM relationships WHERE type = ?`, fromType)
	if err != nil {
		return 0, kgerrors.Wrap(err, "RetypeEdges")
	}
	var edges []*domain.Relationship
	for rows.Next() {
		r, err := scanEdge(rows)
		if err != nil {
			rows.Close()
			return 0, kgerrors.Wrap(err, "RetypeEdges")
		}
		edges = append(edges, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, kgerrors.Wrap(err, "RetypeEdges")
	}
	rows.Close()

	for _, r := range edges {
		r.Type = toType
		if _, err := upsertRelationship(ctx, tx, r); err != nil {
			return 0, err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE type = ?`, fromType); err != nil {
		return 0, kgerrors.Wrap(err, "RetypeEdges")
	}
	if err := tx.Commit(); err != nil {
		return 0, kgerrors.Wrap(err, "RetypeEdges")
	}
	return len(edges), nil
}

// ---- documents ----

func (s *Store) PutDocument(ctx context.Context, d *domain.Document) (bool, error) {
	if err := store.RequireWriteIntent(ctx, "PutDocument"); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, content_hash, ontology, filename, content_type, mime_type, size_bytes, object_key, source_url, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		d.ID, d.ContentHash, d.Ontology, d.Filename, string(d.ContentType), d.MimeType,
		d.SizeBytes, d.ObjectKey, d.SourceURL, fmtTime(d.IngestedAt))
	if err != nil {
		return false, kgerrors.Wrap(err, "PutDocument")
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	return s.getDocument(ctx, `WHERE id = ?`, id)
}

func (s *Store) FindDocumentByHash(ctx context.Context, contentHash string) (*domain.Document, error) {
	return s.getDocument(ctx, `WHERE content_hash = ?`, contentHash)
}

func (s *Store) getDocument(ctx context.Context, where string, arg any) (*domain.Document, error) {
	var d domain.Document
	var ctype, ingested string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, content_hash, ontology, filename, content_type, mime_type, size_bytes, object_key, source_url, ingested_at
		FROM documents `+where, arg).
		Scan(&d.ID, &d.ContentHash, &d.Ontology, &d.Filename, &ctype, &d.MimeType,
			&d.SizeBytes, &d.ObjectKey, &d.SourceURL, &ingested)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kgerrors.NotFound("document", fmt.Sprint(arg))
	}
	if err != nil {
		return nil, kgerrors.Wrap(err, "GetDocument")
	}
	d.ContentType = domain.ContentType(ctype)
	d.IngestedAt = parseTime(ingested)
	return &d, nil
}

func (s *Store) ListDocuments(ctx context.Context, ontology string) ([]*domain.Document, error) {
	q := `SELECT id, content_hash, ontology, filename, content_type, mime_type, size_bytes, object_key, source_url, ingested_at FROM documents`
	args := []any{}
	if ontology != "" {
		q += ` WHERE ontology = ?`
		args = append(args, ontology)
	}
	q += ` ORDER BY ingested_at`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, kgerrors.Wrap(err, "ListDocuments")
	}
	defer rows.Close()

	var out []*domain.Document
	for rows.Next() {
		var d domain.Document
		var ctype, ingested string
		if err := rows.Scan(&d.ID, &d.ContentHash, &d.Ontology, &d.Filename, &ctype, &d.MimeType,
			&d.SizeBytes, &d.ObjectKey, &d.SourceURL, &ingested); err != nil {
			return nil, kgerrors.Wrap(err, "ListDocuments")
		}
		d.ContentType = domain.ContentType(ctype)
		d.IngestedAt = parseTime(ingested)
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return out, kgerrors.Wrap(err, "ListDocuments")
	}
	return out, nil
}

// DeleteDocument removes a document with its sources and instances, then
// scrubs the deleted source ids out of edge evidence in the same ontology.
// Edges left with empty evidence are deleted; concepts stay even when their
// last instance goes, since their identity is content-derived and cheap to
// re-link on the next ingest.
func (s *Store) DeleteDocument(ctx context.Context, id string) (store.DocumentCounts, error) {
	var counts store.DocumentCounts
	if err := store.RequireWriteIntent(ctx, "DeleteDocument"); err != nil {
		return counts, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return counts, kgerrors.Wrap(err, "DeleteDocument")
	}
	defer tx.Rollback()

	var ontology string
	err = tx.QueryRowContext(ctx, `SELECT ontology FROM documents WHERE id = ?`, id).Scan(&ontology)
	if errors.Is(err, sql.ErrNoRows) {
		return counts, kgerrors.NotFound("document", id)
	}
	if err != nil {
		return counts, kgerrors.Wrap(err, "DeleteDocument")
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM sources WHERE document_id = ?`, id)
	if err != nil {
		return counts, kgerrors.Wrap(err, "DeleteDocument")
	}
	doomed := make(map[string]struct{})
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			rows.Close()
			return counts, kgerrors.Wrap(err, "DeleteDocument")
		}
		doomed[sid] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return counts, kgerrors.Wrap(err, "DeleteDocument")
	}
	rows.Close()
	counts.Sources = len(doomed)

	sourceIDs := make([]string, 0, len(doomed))
	for sid := range doomed {
		sourceIDs = append(sourceIDs, sid)
	}
	for _, batch := range chunkStrings(sourceIDs, 500) {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM instances WHERE source_id IN (`+placeholders(len(batch))+`)`, toAny(batch)...)
		if err != nil {
			return counts, kgerrors.Wrap(err, "DeleteDocument")
		}
		n, _ := res.RowsAffected()
		counts.Instances += int(n)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE document_id = ?`, id); err != nil {
		return counts, kgerrors.Wrap(err, "DeleteDocument")
	}

	// Evidence scrub. Edges live in the document's ontology only, so one
	// pass over that partition covers every possible citation.
	if len(doomed) > 0 {
		edgeRows, err := tx.QueryContext(ctx, `
			SELECT from_id, to_id, type, ontology, confidence, evidence, created_at
			FROM relationships WHERE ontology = ?`, ontology)
		if err != nil {
			return counts, kgerrors.Wrap(err, "DeleteDocument")
		}
		var edges []*domain.Relationship
		for edgeRows.Next() {
			r, err := scanEdge(edgeRows)
			if err != nil {
				edgeRows.Close()
				return counts, kgerrors.Wrap(err, "DeleteDocument")
			}
			edges = append(edges, r)
		}
		if err := edgeRows.Err(); err != nil {
			edgeRows.Close()
			return counts, kgerrors.Wrap(err, "DeleteDocument")
		}
		edgeRows.Close()

		for _, r := range edges {
			kept := r.Evidence[:0]
			for _, sid := range r.Evidence {
				if _, gone := doomed[sid]; !gone {
					kept = append(kept, sid)
				}
			}
			if len(kept) == len(r.Evidence) {
				continue
			}
			if len(kept) == 0 {
				_, err = tx.ExecContext(ctx, `
					DELETE FROM relationships WHERE from_id = ? AND to_id = ? AND type = ?`,
					r.FromID, r.ToID, r.Type)
				counts.EdgesDeleted++
			} else {
				var ev []byte
				ev, err = json.Marshal(kept)
				if err == nil {
					_, err = tx.ExecContext(ctx, `
						UPDATE relationships SET evidence = ?
						WHERE from_id = ? AND to_id = ? AND type = ?`,
						string(ev), r.FromID, r.ToID, r.Type)
				}
				counts.EdgesTrimmed++
			}
			if err != nil {
				return counts, kgerrors.Wrap(err, "DeleteDocument")
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return counts, kgerrors.Wrap(err, "DeleteDocument")
	}
	if err := tx.Commit(); err != nil {
		return counts, kgerrors.Wrap(err, "DeleteDocument")
	}
	return counts, nil
}

// ---- vocabulary ----

func (s *Store) PutVocabularyType(ctx context.Context, t *domain.VocabularyType) error {
	if err := store.RequireWriteIntent(ctx, "PutVocabularyType"); err != nil {
		return err
	}
	doc, err := json.Marshal(t)
	if err != nil {
		return kgerrors.Wrap(err, "PutVocabularyType")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vocabulary (name, doc) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET doc = excluded.doc`,
		t.Name, string(doc))
	if err != nil {
		return kgerrors.Wrap(err, "PutVocabularyType")
	}
	return nil
}

func (s *Store) ListVocabulary(ctx context.Context) ([]*domain.VocabularyType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM vocabulary ORDER BY name`)
	if err != nil {
		return nil, kgerrors.Wrap(err, "ListVocabulary")
	}
	defer rows.Close()

	var out []*domain.VocabularyType
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, kgerrors.Wrap(err, "ListVocabulary")
		}
		var t domain.VocabularyType
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			return nil, kgerrors.Wrap(err, "ListVocabulary")
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return out, kgerrors.Wrap(err, "ListVocabulary")
	}
	return out, nil
}

// ---- jobs ----

func (s *Store) PutJob(ctx context.Context, j *domain.Job) error {
	if err := store.RequireWriteIntent(ctx, "PutJob"); err != nil {
		return err
	}
	doc, err := json.Marshal(j)
	if err != nil {
		return kgerrors.Wrap(err, "PutJob")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, type, ontology, content_hash, submitted_at, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, doc = excluded.doc`,
		j.ID, string(j.Status), string(j.Type), j.Ontology, j.ContentHash, fmtTime(j.SubmittedAt), string(doc))
	if err != nil {
		return kgerrors.Wrap(err, "PutJob")
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM jobs WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kgerrors.NotFound("job", id)
	}
	if err != nil {
		return nil, kgerrors.Wrap(err, "GetJob")
	}
	var j domain.Job
	if err := json.Unmarshal([]byte(doc), &j); err != nil {
		return nil, kgerrors.Wrap(err, "GetJob")
	}
	return &j, nil
}

func (s *Store) ListJobs(ctx context.Context, f store.JobFilter) ([]*domain.Job, error) {
	q := `SELECT doc FROM jobs`
	var conds []string
	var args []any
	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, `status IN (`+strings.Join(ph, ", ")+`)`)
	}
	if f.Ontology != "" {
		conds = append(conds, `ontology = ?`)
		args = append(args, f.Ontology)
	}
	if f.Type != "" {
		conds = append(conds, `type = ?`)
		args = append(args, string(f.Type))
	}
	if !f.Since.IsZero() {
		conds = append(conds, `submitted_at >= ?`)
		args = append(args, fmtTime(f.Since))
	}
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY submitted_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, kgerrors.Wrap(err, "ListJobs")
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, kgerrors.Wrap(err, "ListJobs")
		}
		var j domain.Job
		if err := json.Unmarshal([]byte(doc), &j); err != nil {
			return nil, kgerrors.Wrap(err, "ListJobs")
		}
		out = append(out, &j)
	}
	if err := rows.Err(); err != nil {
		return out, kgerrors.Wrap(err, "ListJobs")
	}
	return out, nil
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	if err := store.RequireWriteIntent(ctx, "DeleteJob"); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return kgerrors.Wrap(err, "DeleteJob")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kgerrors.NotFound("job", id)
	}
	return nil
}

func (s *Store) FindJobByContentHash(ctx context.Context, hash string) (*domain.Job, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM jobs WHERE content_hash = ?
		ORDER BY submitted_at DESC LIMIT 1`, hash).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kgerrors.NotFound("job", hash)
	}
	if err != nil {
		return nil, kgerrors.Wrap(err, "FindJobByContentHash")
	}
	var j domain.Job
	if err := json.Unmarshal([]byte(doc), &j); err != nil {
		return nil, kgerrors.Wrap(err, "FindJobByContentHash")
	}
	return &j, nil
}

// ---- model configs ----

func (s *Store) PutModelConfig(ctx context.Context, c *domain.ModelConfig) error {
	if err := store.RequireWriteIntent(ctx, "PutModelConfig"); err != nil {
		return err
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return kgerrors.Wrap(err, "PutModelConfig")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_configs (id, kind, active, doc) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, active = excluded.active, doc = excluded.doc`,
		c.ID, string(c.Kind), boolInt(c.Active), string(doc))
	if err != nil {
		return kgerrors.Wrap(err, "PutModelConfig")
	}
	return nil
}

func (s *Store) GetModelConfig(ctx context.Context, id string) (*domain.ModelConfig, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM model_configs WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kgerrors.NotFound("model config", id)
	}
	if err != nil {
		return nil, kgerrors.Wrap(err, "GetModelConfig")
	}
	var c domain.ModelConfig
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, kgerrors.Wrap(err, "GetModelConfig")
	}
	return &c, nil
}

func (s *Store) ListModelConfigs(ctx context.Context, kind domain.ModelConfigKind) ([]*domain.ModelConfig, error) {
	q := `SELECT doc FROM model_configs`
	args := []any{}
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, kgerrors.Wrap(err, "ListModelConfigs")
	}
	defer rows.Close()

	var out []*domain.ModelConfig
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, kgerrors.Wrap(err, "ListModelConfigs")
		}
		var c domain.ModelConfig
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return nil, kgerrors.Wrap(err, "ListModelConfigs")
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return out, kgerrors.Wrap(err, "ListModelConfigs")
	}
	return out, nil
}

// ActivateModelConfig makes id the single active config of its kind. The
// flag flips inside one transaction so readers never observe zero or two
// active configs.
func (s *Store) ActivateModelConfig(ctx context.Context, id string) (*domain.ModelConfig, error) {
	if err := store.RequireWriteIntent(ctx, "ActivateModelConfig"); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, kgerrors.Wrap(err, "ActivateModelConfig")
	}
	defer tx.Rollback()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM model_configs WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kgerrors.NotFound("model config", id)
	}
	if err != nil {
		return nil, kgerrors.Wrap(err, "ActivateModelConfig")
	}
	var target domain.ModelConfig
	if err := json.Unmarshal([]byte(doc), &target); err != nil {
		return nil, kgerrors.Wrap(err, "ActivateModelConfig")
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, doc FROM model_configs WHERE kind = ? AND active = 1`, string(target.Kind))
	if err != nil {
		return nil, kgerrors.Wrap(err, "ActivateModelConfig")
	}
	type row struct {
		id  string
		doc string
	}
	var siblings []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.doc); err != nil {
			rows.Close()
			return nil, kgerrors.Wrap(err, "ActivateModelConfig")
		}
		siblings = append(siblings, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, kgerrors.Wrap(err, "ActivateModelConfig")
	}
	rows.Close()

	now := time.Now().UTC()
	for _, sib := range siblings {
		if sib.id == id {
			continue
		}
		var c domain.ModelConfig
		if err := json.Unmarshal([]byte(sib.doc), &c); err != nil {
			return nil, kgerrors.Wrap(err, "ActivateModelConfig")
		}
		c.Active = false
		c.UpdatedAt = now
		updated, err := json.Marshal(&c)
		if err != nil {
			return nil, kgerrors.Wrap(err, "ActivateModelConfig")
		}
		if _, err := tx.ExecContext(ctx, `UPDATE model_configs SET active = 0, doc = ? WHERE id = ?`, string(updated), sib.id); err != nil {
			return nil, kgerrors.Wrap(err, "ActivateModelConfig")
		}
	}

	target.Active = true
	target.UpdatedAt = now
	updated, err := json.Marshal(&target)
	if err != nil {
		return nil, kgerrors.Wrap(err, "ActivateModelConfig")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE model_configs SET active = 1, doc = ? WHERE id = ?`, string(updated), id); err != nil {
		return nil, kgerrors.Wrap(err, "ActivateModelConfig")
	}
	if err := tx.Commit(); err != nil {
		return nil, kgerrors.Wrap(err, "ActivateModelConfig")
	}
	return &target, nil
}

func (s *Store) DeleteModelConfig(ctx context.Context, id string) error {
	if err := store.RequireWriteIntent(ctx, "DeleteModelConfig"); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM model_configs WHERE id = ?`, id)
	if err != nil {
		return kgerrors.Wrap(err, "DeleteModelConfig")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kgerrors.NotFound("model config", id)
	}
	return nil
}

// ---- ontologies ----

func (s *Store) ListOntologies(ctx context.Context) ([]domain.OntologyInfo, error) {
	infos := make(map[string]*domain.OntologyInfo)
	get := func(name string) *domain.OntologyInfo {
		if info, ok := infos[name]; ok {
			return info
		}
		info := &domain.OntologyInfo{Name: name}
		infos[name] = info
		return info
	}

	type agg struct {
		query  string
		assign func(*domain.OntologyInfo, int)
	}
	for _, a := range []agg{
		{`SELECT ontology, COUNT(*) FROM concepts GROUP BY ontology`, func(i *domain.OntologyInfo, n int) { i.Concepts = n }},
		{`SELECT ontology, COUNT(*) FROM sources GROUP BY ontology`, func(i *domain.OntologyInfo, n int) { i.Sources = n }},
		{`SELECT c.ontology, COUNT(*) FROM instances i JOIN concepts c ON c.id = i.concept_id GROUP BY c.ontology`,
			func(i *domain.OntologyInfo, n int) { i.Instances = n }},
		{`SELECT ontology, COUNT(*) FROM relationships GROUP BY ontology`, func(i *domain.OntologyInfo, n int) { i.Relationships = n }},
		{`SELECT ontology, COUNT(*) FROM documents GROUP BY ontology`, func(i *domain.OntologyInfo, n int) { i.Documents = n }},
	} {
		rows, err := s.db.QueryContext(ctx, a.query)
		if err != nil {
			return nil, kgerrors.Wrap(err, "ListOntologies")
		}
		for rows.Next() {
			var name string
			var n int
			if err := rows.Scan(&name, &n); err != nil {
				rows.Close()
				return nil, kgerrors.Wrap(err, "ListOntologies")
			}
			a.assign(get(name), n)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, kgerrors.Wrap(err, "ListOntologies")
		}
		rows.Close()
	}

	out := make([]domain.OntologyInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) RenameOntology(ctx context.Context, oldName, newName string) error {
	if err := store.RequireWriteIntent(ctx, "RenameOntology"); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kgerrors.Wrap(err, "RenameOntology")
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM concepts WHERE ontology = ?) +
		       (SELECT COUNT(*) FROM documents WHERE ontology = ?)`,
		newName, newName).Scan(&existing)
	if err != nil {
		return kgerrors.Wrap(err, "RenameOntology")
	}
	if existing > 0 {
		return kgerrors.Conflict("ontology %q already exists", newName)
	}

	var renamed int64
	for _, table := range []string{"concepts", "sources", "relationships", "documents"} {
		res, err := tx.ExecContext(ctx,
			`UPDATE `+table+` SET ontology = ? WHERE ontology = ?`, newName, oldName)
		if err != nil {
			return kgerrors.Wrap(err, "RenameOntology")
		}
		n, _ := res.RowsAffected()
		renamed += n
	}
	if renamed == 0 {
		return kgerrors.NotFound("ontology", oldName)
	}
	if err := tx.Commit(); err != nil {
		return kgerrors.Wrap(err, "RenameOntology")
	}
	return nil
}

func (s *Store) DeleteOntology(ctx context.Context, name string) (store.OntologyCounts, error) {
	var counts store.OntologyCounts
	if err := store.RequireWriteIntent(ctx, "DeleteOntology"); err != nil {
		return counts, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return counts, kgerrors.Wrap(err, "DeleteOntology")
	}
	defer tx.Rollback()

	count := func(q string) (int, error) {
		var n int
		err := tx.QueryRowContext(ctx, q, name).Scan(&n)
		return n, err
	}
	if counts.Concepts, err = count(`SELECT COUNT(*) FROM concepts WHERE ontology = ?`); err != nil {
		return counts, kgerrors.Wrap(err, "DeleteOntology")
	}
	if counts.Sources, err = count(`SELECT COUNT(*) FROM sources WHERE ontology = ?`); err != nil {
		return counts, kgerrors.Wrap(err, "DeleteOntology")
	}
	if counts.Instances, err = count(`SELECT COUNT(*) FROM instances WHERE concept_id IN (SELECT id FROM concepts WHERE ontology = ?)`); err != nil {
		return counts, kgerrors.Wrap(err, "DeleteOntology")
	}
	if counts.Relationships, err = count(`SELECT COUNT(*) FROM relationships WHERE ontology = ?`); err != nil {
		return counts, kgerrors.Wrap(err, "DeleteOntology")
	}
	if counts.Documents, err = count(`SELECT COUNT(*) FROM documents WHERE ontology = ?`); err != nil {
		return counts, kgerrors.Wrap(err, "DeleteOntology")
	}

	for _, q := range []string{
		`DELETE FROM instances WHERE concept_id IN (SELECT id FROM concepts WHERE ontology = ?)`,
		`DELETE FROM relationships WHERE ontology = ?`,
		`DELETE FROM sources WHERE ontology = ?`,
		`DELETE FROM concepts WHERE ontology = ?`,
		`DELETE FROM documents WHERE ontology = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, name); err != nil {
			return counts, kgerrors.Wrap(err, "DeleteOntology")
		}
	}
	if err := tx.Commit(); err != nil {
		return counts, kgerrors.Wrap(err, "DeleteOntology")
	}
	return counts, nil
}

func (s *Store) Stats(ctx context.Context, ontology string) (*domain.GraphStats, error) {
	stats := &domain.GraphStats{}

	count := func(table string) (int, error) {
		q := `SELECT COUNT(*) FROM ` + table
		args := []any{}
		if ontology != "" {
			q += ` WHERE ontology = ?`
			args = append(args, ontology)
		}
		var n int
		err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
		return n, err
	}

	var err error
	if stats.Concepts, err = count("concepts"); err != nil {
		return nil, kgerrors.Wrap(err, "Stats")
	}
	if stats.Sources, err = count("sources"); err != nil {
		return nil, kgerrors.Wrap(err, "Stats")
	}
	if stats.Relationships, err = count("relationships"); err != nil {
		return nil, kgerrors.Wrap(err, "Stats")
	}
	if stats.Documents, err = count("documents"); err != nil {
		return nil, kgerrors.Wrap(err, "Stats")
	}

	instQ := `SELECT COUNT(*) FROM instances`
	instArgs := []any{}
	if ontology != "" {
		instQ += ` WHERE concept_id IN (SELECT id FROM concepts WHERE ontology = ?)`
		instArgs = append(instArgs, ontology)
	}
	if err := s.db.QueryRowContext(ctx, instQ, instArgs...).Scan(&stats.Instances); err != nil {
		return nil, kgerrors.Wrap(err, "Stats")
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT ontology) FROM concepts`).Scan(&stats.Ontologies); err != nil {
		return nil, kgerrors.Wrap(err, "Stats")
	}

	stats.EdgeTypes, err = s.EdgeTypeCounts(ctx, ontology)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ---- helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConcept(row rowScanner) (*domain.Concept, error) {
	var c domain.Concept
	var terms, created string
	var blob []byte
	if err := row.Scan(&c.ID, &c.Ontology, &c.Label, &c.Description, &terms, &blob, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(terms), &c.SearchTerms); err != nil {
		return nil, err
	}
	c.Embedding = decodeVec(blob)
	c.CreatedAt = parseTime(created)
	return &c, nil
}

func scanEdge(row rowScanner) (*domain.Relationship, error) {
	var r domain.Relationship
	var evidence, created string
	if err := row.Scan(&r.FromID, &r.ToID, &r.Type, &r.Ontology, &r.Confidence, &evidence, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(evidence), &r.Evidence); err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(created)
	return &r, nil
}

// encodeVec packs float32s little-endian. Nil input stays nil so the column
// is NULL rather than an empty blob.
func encodeVec(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVec(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func chunkStrings(ss []string, size int) [][]string {
	var out [][]string
	for len(ss) > size {
		out = append(out, ss[:size])
		ss = ss[size:]
	}
	if len(ss) > 0 {
		out = append(out, ss)
	}
	return out
}

func emptyToNilSlice(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
