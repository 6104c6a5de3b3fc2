package indexer

import (
	"context"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/devctx/internal/embedder"
	"github.com/dshills/devctx/internal/lock"
	"github.com/dshills/devctx/internal/storage"
	"github.com/dshills/devctx/internal/vectorindex"
	"github.com/dshills/devctx/pkg/types"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// mockEmbedder derives vectors from the text hash and counts every text it embeds
type mockEmbedder struct {
	mu        sync.Mutex
	dimension int
	model     string
	texts     []string
	calls     int
	failOn    string // texts containing this fail
	onCall    func()
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{dimension: 8, model: "test-v1"}
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := m.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.onCall != nil {
		m.onCall()
	}

	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if m.failOn != "" && strings.Contains(text, m.failOn) {
			return nil, errors.New("mock provider unavailable")
		}
		sum := sha256.Sum256([]byte(text))
		vec := make([]float32, m.dimension)
		for j := range vec {
			vec[j] = float32(sum[j]) / 255
		}
		embeddings[i] = &embedder.Embedding{Vector: vec, Dimension: m.dimension, Provider: "mock", Model: m.model}
	}
	m.texts = append(m.texts, req.Texts...)

	return &embedder.BatchEmbeddingResponse{Embeddings: embeddings, Provider: "mock", Model: m.model}, nil
}

func (m *mockEmbedder) Dimension() int   { return m.dimension }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return m.model }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) embeddedTexts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.texts)
}

func (m *mockEmbedder) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = nil
	m.calls = 0
}

func setupTestStorage(t testing.TB) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTestFile(t testing.TB, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testConfig() *BuildConfig {
	return &BuildConfig{ChunkSize: 200, ChunkOverlap: 20, Incremental: true, Workers: 2}
}

// codeLines returns n distinct lines of code-like text
func codeLines(prefix string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("const ")
		b.WriteString(prefix)
		b.WriteString(strings.Repeat("x", i%7))
		b.WriteString(" = ")
		b.WriteString(strings.Repeat("1", 1+i%5))
		b.WriteString("; // line\n")
	}
	return b.String()
}

func markdownDoc() string {
	paras := []string{
		"# Guide",
		strings.Repeat("Setup describes the install steps. ", 3),
		strings.Repeat("Usage explains the commands. ", 3),
		"## Details",
		strings.Repeat("Configuration lives in a yaml file. ", 3),
		strings.Repeat("Logs are written to stderr. ", 3),
	}
	return strings.Join(paras, "\n\n") + "\n"
}

func chunksByFile(t *testing.T, store storage.Storage) map[string][]*types.ChunkRecord {
	t.Helper()
	records, err := store.LoadChunkRecords(context.Background())
	require.NoError(t, err)
	out := make(map[string][]*types.ChunkRecord)
	for _, rec := range records {
		out[rec.SourceFile] = append(out[rec.SourceFile], rec)
	}
	for path := range out {
		sortByOffset(out[path])
	}
	return out
}

func TestBuild_Scenario(t *testing.T) {
	dir := t.TempDir()
	doc := markdownDoc()
	createTestFile(t, dir, "A.md", doc)
	createTestFile(t, dir, "B.ts", "export const answer = 42; // the answer to it all\n")
	createTestFile(t, dir, "C.ts", codeLines("value", 200))

	store := setupTestStorage(t)
	emb := newMockEmbedder()
	idx := New(store)
	ctx := context.Background()

	stats, err := idx.Build(ctx, dir, testConfig(), emb)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.FilesIndexed)
	assert.True(t, stats.FullRebuild)
	assert.Empty(t, stats.ErrorMessages)

	chunks := chunksByFile(t, store)
	assert.Len(t, chunks["B.ts"], 1)
	assert.GreaterOrEqual(t, len(chunks["C.ts"]), 25)
	assert.Greater(t, len(chunks["A.md"]), 1)
	for _, rec := range chunks["A.md"] {
		assert.LessOrEqual(t, rec.Len(), 200)
		assert.Equal(t, types.KindDocumentation, rec.DocumentKind)
	}
	// paragraph boundaries: every markdown chunk after the first starts a line
	for _, rec := range chunks["A.md"][1:] {
		assert.Equal(t, byte('\n'), doc[rec.OffsetStart-1])
	}

	manifest, err := store.LoadManifest(ctx)
	require.NoError(t, err)
	total := len(chunks["A.md"]) + len(chunks["B.ts"]) + len(chunks["C.ts"])
	assert.Equal(t, 3, manifest.DocCount)
	assert.Equal(t, total, manifest.ChunkCount)
	assert.Equal(t, "mock:test-v1:8", manifest.EmbedderID)

	emb.reset()
	stats, err = idx.Build(ctx, dir, testConfig(), emb)
	require.NoError(t, err)
	assert.Equal(t, 0, emb.embeddedTexts())
	assert.Equal(t, 3, stats.FilesUnchanged)
	assert.False(t, stats.FullRebuild)

	again, err := store.LoadManifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, again.ChunkCount)
}

func TestBuild_Idempotent(t *testing.T) {
	dir := t.TempDir()
	createTestFile(t, dir, "main.go", codeLines("main", 40))
	createTestFile(t, dir, "docs/README.md", markdownDoc())

	store := setupTestStorage(t)
	emb := newMockEmbedder()
	idx := New(store)
	ctx := context.Background()

	_, err := idx.Build(ctx, dir, testConfig(), emb)
	require.NoError(t, err)

	before, err := store.LoadManifest(ctx)
	require.NoError(t, err)
	recordsBefore, err := store.LoadChunkRecords(ctx)
	require.NoError(t, err)
	status, err := store.GetStatus(ctx)
	require.NoError(t, err)

	emb.reset()
	stats, err := idx.Build(ctx, dir, testConfig(), emb)
	require.NoError(t, err)
	assert.Zero(t, emb.calls)
	assert.Zero(t, stats.FilesIndexed)

	after, err := store.LoadManifest(ctx)
	require.NoError(t, err)
	recordsAfter, err := store.LoadChunkRecords(ctx)
	require.NoError(t, err)
	statusAfter, err := store.GetStatus(ctx)
	require.NoError(t, err)

	assert.Equal(t, before.UpdatedAt, after.UpdatedAt, "manifest must not be rewritten")
	assert.Equal(t, recordsBefore, recordsAfter)
	assert.Equal(t, status.VectorsCount, statusAfter.VectorsCount)
}

func TestBuild_Incremental(t *testing.T) {
	dir := t.TempDir()
	original := codeLines("big", 120)
	createTestFile(t, dir, "big.go", original)
	createTestFile(t, dir, "other.go", codeLines("other", 30))

	store := setupTestStorage(t)
	emb := newMockEmbedder()
	idx := New(store)
	ctx := context.Background()

	_, err := idx.Build(ctx, dir, testConfig(), emb)
	require.NoError(t, err)

	before := chunksByFile(t, store)
	vectorsBefore, err := store.LoadVectorIndex(ctx, 8)
	require.NoError(t, err)

	// append to the end so the leading chunks keep their text
	createTestFile(t, dir, "big.go", original+"const appended = true\n")

	emb.reset()
	stats, err := idx.Build(ctx, dir, testConfig(), emb)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesUnchanged)
	assert.Greater(t, stats.ChunksReused, 0)
	assert.Less(t, emb.embeddedTexts(), len(before["big.go"]))
	assert.Greater(t, emb.embeddedTexts(), 0)

	after := chunksByFile(t, store)
	assert.Equal(t, before["other.go"], after["other.go"], "untouched file keeps its records")

	vectorsAfter, err := store.LoadVectorIndex(ctx, 8)
	require.NoError(t, err)
	for _, rec := range before["other.go"] {
		v1, ok1 := vectorsBefore.Get(rec.ID)
		v2, ok2 := vectorsAfter.Get(rec.ID)
		require.True(t, ok1)
		require.True(t, ok2)
		assert.Equal(t, v1, v2)
	}

	// the first chunk of the edited file kept its id and creation time
	assert.Equal(t, before["big.go"][0].ID, after["big.go"][0].ID)
	assert.Equal(t, before["big.go"][0].CreatedAt, after["big.go"][0].CreatedAt)

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Health.VectorsConsistent)
}

func TestBuild_Deletion(t *testing.T) {
	dir := t.TempDir()
	createTestFile(t, dir, "keep.go", codeLines("keep", 20))
	createTestFile(t, dir, "gone.go", codeLines("gone", 20))
	createTestFile(t, dir, "excluded.go", codeLines("excluded", 20))

	store := setupTestStorage(t)
	emb := newMockEmbedder()
	idx := New(store)
	ctx := context.Background()

	_, err := idx.Build(ctx, dir, testConfig(), emb)
	require.NoError(t, err)
	goneChunks := chunksByFile(t, store)["gone.go"]
	require.NotEmpty(t, goneChunks)

	require.NoError(t, os.Remove(filepath.Join(dir, "gone.go")))
	cfg := testConfig()
	cfg.Exclude = []string{"excluded.go"}

	emb.reset()
	stats, err := idx.Build(ctx, dir, cfg, emb)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesDeleted)
	assert.Zero(t, emb.calls)

	chunks := chunksByFile(t, store)
	assert.NotContains(t, chunks, "gone.go")
	assert.NotContains(t, chunks, "excluded.go")
	assert.Contains(t, chunks, "keep.go")

	vectors, err := store.GetVectors(ctx, []string{goneChunks[0].ID})
	require.NoError(t, err)
	assert.Empty(t, vectors)

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Manifest.DocCount)
	assert.Equal(t, status.ChunksCount, status.VectorsCount)
}

func TestBuild_FailedFileRetried(t *testing.T) {
	dir := t.TempDir()
	createTestFile(t, dir, "good.go", "package good\n")
	createTestFile(t, dir, "bad.go", "package bad // FAIL\n")

	store := setupTestStorage(t)
	emb := newMockEmbedder()
	emb.failOn = "FAIL"
	idx := New(store)
	ctx := context.Background()

	stats, err := idx.Build(ctx, dir, testConfig(), emb)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesFailed)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "bad.go")

	_, err = store.GetFile(ctx, "bad.go")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	emb.failOn = ""
	stats, err = idx.Build(ctx, dir, testConfig(), emb)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesUnchanged)

	_, err = store.GetFile(ctx, "bad.go")
	assert.NoError(t, err)
}

func TestBuild_FullRebuildTriggers(t *testing.T) {
	ctx := context.Background()

	t.Run("embedder change re-embeds everything", func(t *testing.T) {
		dir := t.TempDir()
		createTestFile(t, dir, "a.go", codeLines("a", 10))
		store := setupTestStorage(t)
		idx := New(store)

		_, err := idx.Build(ctx, dir, testConfig(), newMockEmbedder())
		require.NoError(t, err)

		other := newMockEmbedder()
		other.model = "test-v2"
		stats, err := idx.Build(ctx, dir, testConfig(), other)
		require.NoError(t, err)
		assert.True(t, stats.FullRebuild)
		assert.Zero(t, stats.ChunksReused)
		assert.Greater(t, other.embeddedTexts(), 0)

		manifest, err := store.LoadManifest(ctx)
		require.NoError(t, err)
		assert.Equal(t, "mock:test-v2:8", manifest.EmbedderID)
	})

	t.Run("non-incremental reuses vectors of the same embedder", func(t *testing.T) {
		dir := t.TempDir()
		createTestFile(t, dir, "a.go", codeLines("a", 10))
		store := setupTestStorage(t)
		idx := New(store)
		emb := newMockEmbedder()

		_, err := idx.Build(ctx, dir, testConfig(), emb)
		require.NoError(t, err)

		emb.reset()
		cfg := testConfig()
		cfg.Incremental = false
		stats, err := idx.Build(ctx, dir, cfg, emb)
		require.NoError(t, err)
		assert.True(t, stats.FullRebuild)
		assert.Zero(t, emb.embeddedTexts())
		assert.Greater(t, stats.ChunksReused, 0)
	})

	t.Run("chunk parameter change", func(t *testing.T) {
		dir := t.TempDir()
		createTestFile(t, dir, "a.go", codeLines("a", 40))
		store := setupTestStorage(t)
		idx := New(store)
		emb := newMockEmbedder()

		_, err := idx.Build(ctx, dir, testConfig(), emb)
		require.NoError(t, err)

		cfg := testConfig()
		cfg.ChunkSize = 400
		stats, err := idx.Build(ctx, dir, cfg, emb)
		require.NoError(t, err)
		assert.True(t, stats.FullRebuild)

		manifest, err := store.LoadManifest(ctx)
		require.NoError(t, err)
		assert.Equal(t, 400, manifest.ChunkSize)
		for _, rec := range chunksByFile(t, store)["a.go"] {
			assert.LessOrEqual(t, rec.Len(), 400)
		}
	})
}

func TestBuild_MismatchedVectors(t *testing.T) {
	dir := t.TempDir()
	createTestFile(t, dir, "a.go", codeLines("a", 10))
	store := setupTestStorage(t)
	idx := New(store)
	emb := newMockEmbedder()
	ctx := context.Background()

	_, err := idx.Build(ctx, dir, testConfig(), emb)
	require.NoError(t, err)

	// overwrite one stored vector with a different dimension
	rec := chunksByFile(t, store)["a.go"][0]
	bad := vectorindex.New(4)
	require.NoError(t, bad.Insert(rec.ID, []float32{1, 0, 0, 0}))
	require.NoError(t, store.SaveVectorIndex(ctx, bad))

	createTestFile(t, dir, "b.go", "package b\n")
	_, err = idx.Build(ctx, dir, testConfig(), emb)
	assert.ErrorIs(t, err, types.ErrEmbedderMismatch)

	cfg := testConfig()
	cfg.Incremental = false
	stats, err := idx.Build(ctx, dir, cfg, emb)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Health.VectorsConsistent)
	_, err = store.LoadVectorIndex(ctx, 8)
	assert.NoError(t, err)
}

func TestBuild_SkipsBinaryAndOversized(t *testing.T) {
	dir := t.TempDir()
	createTestFile(t, dir, "main.go", "package main\n")
	createTestFile(t, dir, "image.png", "PNG\x00\x01\x02")
	createTestFile(t, dir, "huge.txt", strings.Repeat("a", 2048))

	store := setupTestStorage(t)
	cfg := testConfig()
	cfg.MaxFileBytes = 1024

	stats, err := New(store).Build(context.Background(), dir, cfg, newMockEmbedder())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.FilesScanned)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 2, stats.FilesSkipped)
}

func TestBuild_IncludeExclude(t *testing.T) {
	dir := t.TempDir()
	createTestFile(t, dir, "src/app.ts", "export const app = 1\n")
	createTestFile(t, dir, "src/app.test.ts", "test('app')\n")
	createTestFile(t, dir, "README.md", "# Readme\n")

	store := setupTestStorage(t)
	cfg := testConfig()
	cfg.Include = []string{"src/**"}
	cfg.Exclude = []string{"*.test.ts"}

	stats, err := New(store).Build(context.Background(), dir, cfg, newMockEmbedder())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)

	files, err := store.ListFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "src/app.ts", files[0].Path)
	assert.Equal(t, "typescript", files[0].Language)
}

func TestBuild_Cancellation(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.go", "d.go"} {
		createTestFile(t, dir, name, "package "+strings.TrimSuffix(name, ".go")+"\n")
	}

	store := setupTestStorage(t)
	idx := New(store)
	emb := newMockEmbedder()

	ctx, cancel := context.WithCancel(context.Background())
	emb.onCall = cancel
	cfg := testConfig()
	cfg.Workers = 1

	stats, err := idx.Build(ctx, dir, cfg, emb)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, stats)
	assert.True(t, stats.Cancelled)
	assert.Equal(t, 1, stats.FilesIndexed)

	files, err := store.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 1, "finished file is committed")

	emb.onCall = nil
	emb.reset()
	stats, err = idx.Build(context.Background(), dir, cfg, emb)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesUnchanged)
	assert.Equal(t, 3, emb.embeddedTexts())
}

func TestBuild_CancelledRebuildKeepsPreviousIndex(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.go", "d.go"} {
		createTestFile(t, dir, name, "package "+strings.TrimSuffix(name, ".go")+"\n")
	}

	store := setupTestStorage(t)
	idx := New(store)
	emb := newMockEmbedder()
	cfg := testConfig()
	cfg.Workers = 1

	_, err := idx.Build(context.Background(), dir, cfg, emb)
	require.NoError(t, err)
	before, err := store.LoadManifest(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	emb.onCall = cancel
	full := testConfig()
	full.Workers = 1
	full.Incremental = false

	stats, err := idx.Build(ctx, dir, full, emb)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, stats)
	assert.True(t, stats.Cancelled)
	assert.True(t, stats.FullRebuild)
	assert.Zero(t, stats.FilesIndexed)

	after, err := store.LoadManifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, 4, after.DocCount)
	files, err := store.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 4)
}

func TestBuild_ConfigValidation(t *testing.T) {
	dir := t.TempDir()
	store := setupTestStorage(t)
	idx := New(store)
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  *BuildConfig
	}{
		{"nil config", nil},
		{"zero chunk size", &BuildConfig{ChunkSize: 0}},
		{"overlap equals size", &BuildConfig{ChunkSize: 100, ChunkOverlap: 100}},
		{"overlap exceeds size", &BuildConfig{ChunkSize: 100, ChunkOverlap: 150}},
		{"negative overlap", &BuildConfig{ChunkSize: 100, ChunkOverlap: -1}},
		{"invalid doc config", &BuildConfig{ChunkSize: 100, Docs: &DocConfig{ChunkSize: 50, ChunkOverlap: 60}}},
		{"include equals exclude", &BuildConfig{ChunkSize: 100, Include: []string{"*.go"}, Exclude: []string{"*.go"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := idx.Build(ctx, dir, tt.cfg, newMockEmbedder())
			assert.ErrorIs(t, err, types.ErrConfiguration)
		})
	}

	t.Run("nil embedder", func(t *testing.T) {
		_, err := idx.Build(ctx, dir, testConfig(), nil)
		assert.ErrorIs(t, err, types.ErrConfiguration)
	})
}

func TestBuild_SingleWriter(t *testing.T) {
	dir := t.TempDir()
	createTestFile(t, dir, "a.go", "package a\n")
	ctx := context.Background()

	t.Run("in-process lock", func(t *testing.T) {
		shared := &IndexLock{}
		require.True(t, shared.TryAcquire())
		defer shared.Release()

		idx := New(setupTestStorage(t), WithIndexLock(shared))
		_, err := idx.Build(ctx, dir, testConfig(), newMockEmbedder())
		assert.ErrorIs(t, err, types.ErrIndexingInProgress)
	})

	t.Run("cross-process lock", func(t *testing.T) {
		lockDir := t.TempDir()
		holder := lock.NewFileLock(lockDir)
		ok, err := holder.Acquire(ctx, LockName, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		idx := New(setupTestStorage(t), WithLocker(lock.NewFileLock(lockDir), time.Minute))
		_, err = idx.Build(ctx, dir, testConfig(), newMockEmbedder())
		assert.ErrorIs(t, err, types.ErrIndexingInProgress)

		require.NoError(t, holder.Release(ctx, LockName))
		_, err = idx.Build(ctx, dir, testConfig(), newMockEmbedder())
		assert.NoError(t, err)
		assert.NoFileExists(t, filepath.Join(lockDir, LockName+".lock"), "released after build")
	})
}

func TestBuild_LockHeldForLongBuild(t *testing.T) {
	dir := t.TempDir()
	createTestFile(t, dir, "a.go", "package a\n")
	lockDir := t.TempDir()
	const ttl = 150 * time.Millisecond

	started := make(chan struct{})
	var once sync.Once
	emb := newMockEmbedder()
	emb.onCall = func() {
		once.Do(func() { close(started) })
		time.Sleep(4 * ttl)
	}

	idx := New(setupTestStorage(t), WithLocker(lock.NewFileLock(lockDir), ttl))
	errCh := make(chan error, 1)
	go func() {
		_, err := idx.Build(context.Background(), dir, testConfig(), emb)
		errCh <- err
	}()

	<-started
	time.Sleep(2 * ttl)
	other := lock.NewFileLock(lockDir)
	ok, err := other.Acquire(context.Background(), LockName, ttl)
	require.NoError(t, err)
	assert.False(t, ok, "lock must outlive its ttl while the build runs")

	require.NoError(t, <-errCh)
	ok, err = other.Acquire(context.Background(), LockName, ttl)
	require.NoError(t, err)
	assert.True(t, ok, "released after build")
}

func TestIndexLock_ConcurrentAcquisition(t *testing.T) {
	var l IndexLock
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired)
	assert.True(t, l.Held())
	l.Release()
	assert.False(t, l.Held())
}

func TestEmbedRecords_DeduplicatesAndBatches(t *testing.T) {
	emb := newMockEmbedder()
	var records []*types.ChunkRecord
	for i, text := range []string{"alpha", "beta", "alpha", "gamma", "delta"} {
		rec := &types.ChunkRecord{ID: string(rune('a' + i)), Text: text}
		rec.ComputeContentHash()
		records = append(records, rec)
	}
	known := sha256.Sum256([]byte("delta"))
	reuse := map[[32]byte][]float32{known: make([]float32, 8)}

	vectors, embedded, reused, err := embedRecords(context.Background(), records, reuse, 2, emb)
	require.NoError(t, err)
	assert.Len(t, vectors, 5)
	assert.Equal(t, 1, reused)
	assert.Equal(t, 4, embedded)
	assert.Equal(t, 3, emb.embeddedTexts(), "alpha embedded once")
	assert.Equal(t, 2, emb.calls)
	assert.Equal(t, vectors["a"], vectors["c"])
}

func TestIsBinary(t *testing.T) {
	assert.False(t, isBinary([]byte("plain text\n")))
	assert.True(t, isBinary([]byte{'a', 0, 'b'}))
	assert.False(t, isBinary(nil))
}
