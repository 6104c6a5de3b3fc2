package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/devctx/internal/vectorindex"
	"github.com/dshills/devctx/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist.
	// A missing manifest means the corpus is empty.
	ErrNotFound = errors.New("not found")
)

// maxBatchParams bounds the number of bound parameters per IN clause
const maxBatchParams = 500

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode so readers keep a snapshot while a build commits
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", classify(err))
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", classify(err))
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", classify(err))
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

// ProbeManifest reads the manifest of the index at dbPath through a
// read-only connection. Nothing is created or migrated. ErrNotFound means
// no index was built there yet.
func ProbeManifest(ctx context.Context, dbPath string) (*types.CorpusManifest, error) {
	info, err := os.Stat(dbPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, ErrNotFound
	}

	db, err := sql.Open(DriverName, "file:"+filepath.ToSlash(dbPath)+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	var name string
	err = db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='manifest'").Scan(&name)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to probe index: %w", classify(err))
	}

	s := &SQLiteStorage{db: db, path: dbPath}
	return s.loadManifestWithQuerier(ctx, db)
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction. Read-only callers roll it back when done.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// classify maps driver errors that indicate a damaged file onto ErrCorruptIndex
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not a database") ||
		strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "file is encrypted") {
		return fmt.Errorf("%w: %v", types.ErrCorruptIndex, err)
	}
	return err
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// nanos converts a time to the stored representation
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// fromNanos converts the stored representation back to a time
func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// placeholders returns "?,?,..." for n parameters
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// batches splits ids into slices of at most maxBatchParams
func batches(ids []string) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := min(len(ids), maxBatchParams)
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// Manifest operations

func (s *SQLiteStorage) loadManifestWithQuerier(ctx context.Context, q querier) (*types.CorpusManifest, error) {
	query := `
		SELECT doc_count, chunk_count, embedder_id, dimension,
		       chunk_size, chunk_overlap, doc_chunk_size, doc_chunk_overlap,
		       created_at, updated_at
		FROM manifest
		WHERE id = 1
	`
	var m types.CorpusManifest
	var createdAt, updatedAt int64
	err := q.QueryRowContext(ctx, query).Scan(
		&m.DocCount, &m.ChunkCount, &m.EmbedderID, &m.Dimension,
		&m.ChunkSize, &m.ChunkOverlap, &m.DocChunkSize, &m.DocChunkOverlap,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", classify(err))
	}

	if m.EmbedderID == "" || m.Dimension <= 0 || m.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: manifest has invalid embedder or chunk parameters", types.ErrCorruptIndex)
	}

	m.CreatedAt = fromNanos(createdAt)
	m.UpdatedAt = fromNanos(updatedAt)
	return &m, nil
}

func (s *SQLiteStorage) LoadManifest(ctx context.Context) (*types.CorpusManifest, error) {
	return s.loadManifestWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) saveManifestWithQuerier(ctx context.Context, q querier, m *types.CorpusManifest) error {
	query := `
		INSERT INTO manifest (id, doc_count, chunk_count, embedder_id, dimension,
		                      chunk_size, chunk_overlap, doc_chunk_size, doc_chunk_overlap,
		                      created_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc_count = excluded.doc_count,
			chunk_count = excluded.chunk_count,
			embedder_id = excluded.embedder_id,
			dimension = excluded.dimension,
			chunk_size = excluded.chunk_size,
			chunk_overlap = excluded.chunk_overlap,
			doc_chunk_size = excluded.doc_chunk_size,
			doc_chunk_overlap = excluded.doc_chunk_overlap,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		m.DocCount, m.ChunkCount, m.EmbedderID, m.Dimension,
		m.ChunkSize, m.ChunkOverlap, m.DocChunkSize, m.DocChunkOverlap,
		nanos(m.CreatedAt), nanos(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) SaveManifest(ctx context.Context, m *types.CorpusManifest) error {
	return s.saveManifestWithQuerier(ctx, s.querier(), m)
}

// File operations

func (s *SQLiteStorage) upsertFileWithQuerier(ctx context.Context, q querier, file *File) error {
	query := `
		INSERT INTO files (path, content_hash, mod_time, size_bytes, document_kind, language, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			mod_time = excluded.mod_time,
			size_bytes = excluded.size_bytes,
			document_kind = excluded.document_kind,
			language = excluded.language,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at
	`
	if file.IndexedAt.IsZero() {
		file.IndexedAt = time.Now()
	}
	_, err := q.ExecContext(ctx, query,
		file.Path, file.ContentHash[:], nanos(file.ModTime), file.Size,
		string(file.DocumentKind), file.Language, file.ChunkCount, nanos(file.IndexedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertFile(ctx context.Context, file *File) error {
	return s.upsertFileWithQuerier(ctx, s.querier(), file)
}

const fileColumns = `path, content_hash, mod_time, size_bytes, document_kind, language, chunk_count, indexed_at`

// rowScanner is implemented by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row rowScanner) (*File, error) {
	var file File
	var hash []byte
	var kind string
	var language sql.NullString
	var modTime, indexedAt int64
	if err := row.Scan(&file.Path, &hash, &modTime, &file.Size, &kind, &language, &file.ChunkCount, &indexedAt); err != nil {
		return nil, err
	}
	if len(hash) != len(file.ContentHash) {
		return nil, fmt.Errorf("%w: file %s has a %d byte content hash", types.ErrCorruptIndex, file.Path, len(hash))
	}
	copy(file.ContentHash[:], hash)
	file.DocumentKind = types.DocumentKind(kind)
	file.Language = language.String
	file.ModTime = fromNanos(modTime)
	file.IndexedAt = fromNanos(indexedAt)
	return &file, nil
}

func (s *SQLiteStorage) getFileWithQuerier(ctx context.Context, q querier, path string) (*File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE path = ?`
	file, err := scanFile(q.QueryRowContext(ctx, query, path))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return file, nil
}

func (s *SQLiteStorage) GetFile(ctx context.Context, path string) (*File, error) {
	return s.getFileWithQuerier(ctx, s.querier(), path)
}

func (s *SQLiteStorage) listFilesWithQuerier(ctx context.Context, q querier) ([]*File, error) {
	query := `SELECT ` + fileColumns + ` FROM files ORDER BY path`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", classify(err))
	}
	defer func() { _ = rows.Close() }()

	files := make([]*File, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, classify(err)
		}
		files = append(files, file)
	}
	return files, classify(rows.Err())
}

func (s *SQLiteStorage) ListFiles(ctx context.Context) ([]*File, error) {
	return s.listFilesWithQuerier(ctx, s.querier())
}

// deleteFileWithQuerier removes the file row; chunks and vectors cascade
func (s *SQLiteStorage) deleteFileWithQuerier(ctx context.Context, q querier, path string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteFile(ctx context.Context, path string) error {
	return s.deleteFileWithQuerier(ctx, s.querier(), path)
}

// Chunk operations

const chunkColumns = `id, source_file, offset_start, offset_end, content_hash, content, document_kind, language, created_at`

func scanChunk(row rowScanner) (*types.ChunkRecord, error) {
	var rec types.ChunkRecord
	var hash []byte
	var kind string
	var language sql.NullString
	var createdAt int64
	err := row.Scan(&rec.ID, &rec.SourceFile, &rec.OffsetStart, &rec.OffsetEnd,
		&hash, &rec.Text, &kind, &language, &createdAt)
	if err != nil {
		return nil, err
	}
	if len(hash) != len(rec.ContentHash) {
		return nil, fmt.Errorf("%w: chunk %s has a %d byte content hash", types.ErrCorruptIndex, rec.ID, len(hash))
	}
	if rec.OffsetEnd < rec.OffsetStart {
		return nil, fmt.Errorf("%w: chunk %s has invalid offsets", types.ErrCorruptIndex, rec.ID)
	}
	copy(rec.ContentHash[:], hash)
	rec.DocumentKind = types.DocumentKind(kind)
	rec.Language = language.String
	rec.CreatedAt = fromNanos(createdAt)
	return &rec, nil
}

func collectChunks(rows *sql.Rows, into map[string]*types.ChunkRecord) error {
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		rec, err := scanChunk(rows)
		if err != nil {
			return classify(err)
		}
		into[rec.ID] = rec
	}
	return classify(rows.Err())
}

func (s *SQLiteStorage) loadChunkRecordsWithQuerier(ctx context.Context, q querier) (map[string]*types.ChunkRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+chunkColumns+` FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk records: %w", classify(err))
	}
	records := make(map[string]*types.ChunkRecord)
	if err := collectChunks(rows, records); err != nil {
		return nil, fmt.Errorf("failed to load chunk records: %w", err)
	}
	return records, nil
}

func (s *SQLiteStorage) LoadChunkRecords(ctx context.Context) (map[string]*types.ChunkRecord, error) {
	return s.loadChunkRecordsWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) getChunksWithQuerier(ctx context.Context, q querier, ids []string) (map[string]*types.ChunkRecord, error) {
	records := make(map[string]*types.ChunkRecord, len(ids))
	for _, batch := range batches(ids) {
		query := `SELECT ` + chunkColumns + ` FROM chunks WHERE id IN (` + placeholders(len(batch)) + `)`
		rows, err := q.QueryContext(ctx, query, toArgs(batch)...)
		if err != nil {
			return nil, fmt.Errorf("failed to get chunks: %w", classify(err))
		}
		if err := collectChunks(rows, records); err != nil {
			return nil, fmt.Errorf("failed to get chunks: %w", err)
		}
	}
	return records, nil
}

func (s *SQLiteStorage) GetChunks(ctx context.Context, ids []string) (map[string]*types.ChunkRecord, error) {
	return s.getChunksWithQuerier(ctx, s.querier(), ids)
}

func (s *SQLiteStorage) listChunksByFileWithQuerier(ctx context.Context, q querier, path string) ([]*types.ChunkRecord, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE source_file = ? ORDER BY offset_start`
	rows, err := q.QueryContext(ctx, query, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", classify(err))
	}
	defer func() { _ = rows.Close() }()

	records := make([]*types.ChunkRecord, 0)
	for rows.Next() {
		rec, err := scanChunk(rows)
		if err != nil {
			return nil, classify(err)
		}
		records = append(records, rec)
	}
	return records, classify(rows.Err())
}

func (s *SQLiteStorage) ListChunksByFile(ctx context.Context, path string) ([]*types.ChunkRecord, error) {
	return s.listChunksByFileWithQuerier(ctx, s.querier(), path)
}

// upsertChunksWithQuerier writes chunk rows. ON CONFLICT keeps the rowid so
// the FTS update trigger fires instead of a silent REPLACE.
func (s *SQLiteStorage) upsertChunksWithQuerier(ctx context.Context, q querier, records []*types.ChunkRecord) error {
	query := `
		INSERT INTO chunks (` + chunkColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_file = excluded.source_file,
			offset_start = excluded.offset_start,
			offset_end = excluded.offset_end,
			content_hash = excluded.content_hash,
			content = excluded.content,
			document_kind = excluded.document_kind,
			language = excluded.language,
			created_at = excluded.created_at
	`
	for _, rec := range records {
		_, err := q.ExecContext(ctx, query,
			rec.ID, rec.SourceFile, rec.OffsetStart, rec.OffsetEnd,
			rec.ContentHash[:], rec.Text, string(rec.DocumentKind), rec.Language,
			nanos(rec.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", rec.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) UpsertChunks(ctx context.Context, records []*types.ChunkRecord) error {
	return s.upsertChunksWithQuerier(ctx, s.querier(), records)
}

func (s *SQLiteStorage) deleteChunksWithQuerier(ctx context.Context, q querier, ids []string) error {
	for _, batch := range batches(ids) {
		query := `DELETE FROM chunks WHERE id IN (` + placeholders(len(batch)) + `)`
		if _, err := q.ExecContext(ctx, query, toArgs(batch)...); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) DeleteChunks(ctx context.Context, ids []string) error {
	return s.deleteChunksWithQuerier(ctx, s.querier(), ids)
}

func (s *SQLiteStorage) deleteChunksForFileWithQuerier(ctx context.Context, q querier, path string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM chunks WHERE source_file = ?`, path); err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", path, err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteChunksForFile(ctx context.Context, path string) error {
	return s.deleteChunksForFileWithQuerier(ctx, s.querier(), path)
}

// Vector operations

// loadVectorIndexWithQuerier reads every stored vector. A vector whose
// length differs from dimension means the embedder changed underneath.
func (s *SQLiteStorage) loadVectorIndexWithQuerier(ctx context.Context, q querier, dimension int) (*vectorindex.Index, error) {
	rows, err := q.QueryContext(ctx, `SELECT chunk_id, vector, dimension FROM vectors`)
	if err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", classify(err))
	}
	defer func() { _ = rows.Close() }()

	vectors := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		var dim int
		if err := rows.Scan(&id, &blob, &dim); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", classify(err))
		}
		vec, err := deserializeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", id, err)
		}
		if len(vec) != dim {
			return nil, fmt.Errorf("%w: chunk %s vector length %d does not match recorded dimension %d",
				types.ErrCorruptIndex, id, len(vec), dim)
		}
		if dimension > 0 && dim != dimension {
			return nil, fmt.Errorf("%w: stored vectors have dimension %d, manifest says %d",
				types.ErrEmbedderMismatch, dim, dimension)
		}
		vectors[id] = vec
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	idx, err := vectorindex.Load(dimension, vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedderMismatch, err)
	}
	return idx, nil
}

func (s *SQLiteStorage) LoadVectorIndex(ctx context.Context, dimension int) (*vectorindex.Index, error) {
	return s.loadVectorIndexWithQuerier(ctx, s.querier(), dimension)
}

// saveVectorIndexWithQuerier persists the index's pending changes. The
// caller marks the index clean once the surrounding transaction commits.
func (s *SQLiteStorage) saveVectorIndexWithQuerier(ctx context.Context, q querier, idx *vectorindex.Index) error {
	upserts, deletes := idx.Changes()

	for _, batch := range batches(deletes) {
		query := `DELETE FROM vectors WHERE chunk_id IN (` + placeholders(len(batch)) + `)`
		if _, err := q.ExecContext(ctx, query, toArgs(batch)...); err != nil {
			return fmt.Errorf("failed to delete vectors: %w", err)
		}
	}

	query := `
		INSERT INTO vectors (chunk_id, vector, dimension)
		VALUES (?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension
	`
	for id, vec := range upserts {
		if _, err := q.ExecContext(ctx, query, id, serializeVector(vec), len(vec)); err != nil {
			return fmt.Errorf("failed to upsert vector %s: %w", id, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) SaveVectorIndex(ctx context.Context, idx *vectorindex.Index) error {
	return s.saveVectorIndexWithQuerier(ctx, s.querier(), idx)
}

func (s *SQLiteStorage) getVectorsWithQuerier(ctx context.Context, q querier, ids []string) (map[string][]float32, error) {
	vectors := make(map[string][]float32, len(ids))
	for _, batch := range batches(ids) {
		query := `SELECT chunk_id, vector FROM vectors WHERE chunk_id IN (` + placeholders(len(batch)) + `)`
		rows, err := q.QueryContext(ctx, query, toArgs(batch)...)
		if err != nil {
			return nil, fmt.Errorf("failed to get vectors: %w", classify(err))
		}
		for rows.Next() {
			var id string
			var blob []byte
			if err := rows.Scan(&id, &blob); err != nil {
				_ = rows.Close()
				return nil, classify(err)
			}
			vec, err := deserializeVector(blob)
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("chunk %s: %w", id, err)
			}
			vectors[id] = vec
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, classify(err)
		}
	}
	return vectors, nil
}

func (s *SQLiteStorage) GetVectors(ctx context.Context, ids []string) (map[string][]float32, error) {
	return s.getVectorsWithQuerier(ctx, s.querier(), ids)
}

// Search operations

func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, s.querier(), vector, limit, filters)
}

func (s *SQLiteStorage) SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	return searchText(ctx, s.querier(), query, limit, filters)
}

// Corpus operations

func (s *SQLiteStorage) countCorpusWithQuerier(ctx context.Context, q querier) (int, int, error) {
	var docs, chunks int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&docs); err != nil {
		return 0, 0, fmt.Errorf("failed to count files: %w", classify(err))
	}
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&chunks); err != nil {
		return 0, 0, fmt.Errorf("failed to count chunks: %w", classify(err))
	}
	return docs, chunks, nil
}

func (s *SQLiteStorage) CountCorpus(ctx context.Context) (int, int, error) {
	return s.countCorpusWithQuerier(ctx, s.querier())
}

// resetWithQuerier drops every corpus row. Chunks, vectors and FTS entries
// go with their files.
func (s *SQLiteStorage) resetWithQuerier(ctx context.Context, q querier) error {
	for _, stmt := range []string{
		`DELETE FROM vectors`,
		`DELETE FROM chunks`,
		`DELETE FROM files`,
		`DELETE FROM manifest`,
	} {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to reset index: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) Reset(ctx context.Context) error {
	return s.resetWithQuerier(ctx, s.querier())
}

// Status operations

func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier) (*Status, error) {
	status := &Status{}

	manifest, err := s.loadManifestWithQuerier(ctx, q)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	status.Manifest = manifest

	status.FilesCount, status.ChunksCount, err = s.countCorpusWithQuerier(ctx, q)
	if err != nil {
		return nil, err
	}

	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&status.VectorsCount); err != nil {
		return nil, fmt.Errorf("failed to count vectors: %w", classify(err))
	}

	// Calculate database size
	var pageCount, pageSize int64
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeBytes = pageCount * pageSize
	}
	if s.path != "" && s.path != ":memory:" {
		if info, err := os.Stat(s.path); err == nil && info.Size() > status.IndexSizeBytes {
			status.IndexSizeBytes = info.Size()
		}
	}

	status.Health = HealthStatus{
		DatabaseAccessible: true,
		VectorsAvailable:   status.VectorsCount > 0,
		FTSIndexesBuilt:    true, // FTS indexes are created with migrations
		VectorsConsistent:  status.VectorsCount == status.ChunksCount,
	}

	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

// Transaction implementations delegate to the querier helpers so every
// statement runs inside the transaction

func (t *sqliteTx) LoadManifest(ctx context.Context) (*types.CorpusManifest, error) {
	return t.storage.loadManifestWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) SaveManifest(ctx context.Context, m *types.CorpusManifest) error {
	return t.storage.saveManifestWithQuerier(ctx, t.querier(), m)
}

func (t *sqliteTx) UpsertFile(ctx context.Context, file *File) error {
	return t.storage.upsertFileWithQuerier(ctx, t.querier(), file)
}

func (t *sqliteTx) GetFile(ctx context.Context, path string) (*File, error) {
	return t.storage.getFileWithQuerier(ctx, t.querier(), path)
}

func (t *sqliteTx) ListFiles(ctx context.Context) ([]*File, error) {
	return t.storage.listFilesWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) DeleteFile(ctx context.Context, path string) error {
	return t.storage.deleteFileWithQuerier(ctx, t.querier(), path)
}

func (t *sqliteTx) LoadChunkRecords(ctx context.Context) (map[string]*types.ChunkRecord, error) {
	return t.storage.loadChunkRecordsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) GetChunks(ctx context.Context, ids []string) (map[string]*types.ChunkRecord, error) {
	return t.storage.getChunksWithQuerier(ctx, t.querier(), ids)
}

func (t *sqliteTx) ListChunksByFile(ctx context.Context, path string) ([]*types.ChunkRecord, error) {
	return t.storage.listChunksByFileWithQuerier(ctx, t.querier(), path)
}

func (t *sqliteTx) UpsertChunks(ctx context.Context, records []*types.ChunkRecord) error {
	return t.storage.upsertChunksWithQuerier(ctx, t.querier(), records)
}

func (t *sqliteTx) DeleteChunks(ctx context.Context, ids []string) error {
	return t.storage.deleteChunksWithQuerier(ctx, t.querier(), ids)
}

func (t *sqliteTx) DeleteChunksForFile(ctx context.Context, path string) error {
	return t.storage.deleteChunksForFileWithQuerier(ctx, t.querier(), path)
}

func (t *sqliteTx) LoadVectorIndex(ctx context.Context, dimension int) (*vectorindex.Index, error) {
	return t.storage.loadVectorIndexWithQuerier(ctx, t.querier(), dimension)
}

func (t *sqliteTx) SaveVectorIndex(ctx context.Context, idx *vectorindex.Index) error {
	return t.storage.saveVectorIndexWithQuerier(ctx, t.querier(), idx)
}

func (t *sqliteTx) GetVectors(ctx context.Context, ids []string) (map[string][]float32, error) {
	return t.storage.getVectorsWithQuerier(ctx, t.querier(), ids)
}

func (t *sqliteTx) SearchVector(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, t.querier(), vector, limit, filters)
}

func (t *sqliteTx) SearchText(ctx context.Context, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	return searchText(ctx, t.querier(), query, limit, filters)
}

func (t *sqliteTx) CountCorpus(ctx context.Context) (int, int, error) {
	return t.storage.countCorpusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Reset(ctx context.Context) error {
	return t.storage.resetWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*Status, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
