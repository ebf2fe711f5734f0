// Copyright 2025 The Lumen Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/databases"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/llms"
)

type staticEmbedder struct{ dim int }

func (s *staticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, s.dim)
	v[0] = 1
	return v, nil
}
func (s *staticEmbedder) Dimension() int    { return s.dim }
func (s *staticEmbedder) ModelName() string { return "static" }
func (s *staticEmbedder) Close() error      { return nil }

// countingDB wraps a provider to observe upsert traffic.
type countingDB struct {
	databases.DatabaseProvider
	upserts atomic.Int64
}

func (c *countingDB) Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]interface{}) error {
	c.upserts.Add(1)
	return c.DatabaseProvider.Upsert(ctx, collection, id, vector, content, metadata)
}

func testIngestConfig(t *testing.T) *config.IngestConfig {
	t.Helper()
	cfg := &config.IngestConfig{QueueDir: filepath.Join(t.TempDir(), "queue")}
	cfg.SetDefaults()
	return cfg
}

func testStore(t *testing.T) databases.DatabaseProvider {
	t.Helper()
	db, err := databases.NewChromemProvider(&config.VectorConfig{
		Type: "chromem", PersistPath: t.TempDir(), Collection: "docs", Dim: 4,
	})
	require.NoError(t, err)
	require.NoError(t, db.EnsureCollection(context.Background(), "docs", 4))
	return db
}

func testIngestPipeline(t *testing.T, db databases.DatabaseProvider) *Pipeline {
	t.Helper()
	p, err := NewPipeline(db, &staticEmbedder{dim: 4}, nil, nil, testIngestConfig(t), "docs")
	require.NoError(t, err)
	return p
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDocumentIDStable(t *testing.T) {
	dir := t.TempDir()
	a := DocumentID(filepath.Join(dir, "a.txt"))
	b := DocumentID(filepath.Join(dir, ".", "a.txt"))
	assert.Equal(t, a, b, "path canonicalization")
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, DocumentID(filepath.Join(dir, "b.txt")))
}

func TestIndexDirectoryIdempotence(t *testing.T) {
	dir := t.TempDir()
	aPath := writeFile(t, dir, "a.txt", "quarterly finance report for the board")
	writeFile(t, dir, "b.txt", "meeting notes from the march planning session")

	p := testIngestPipeline(t, testStore(t))
	ctx := context.Background()

	report, err := p.IndexDirectory(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Success)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, report.Skipped)

	// Unchanged files are skipped wholesale on the second run.
	report, err = p.IndexDirectory(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Success)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 2, report.Skipped)

	// A modified file is reprocessed; the other stays skipped.
	require.NoError(t, os.WriteFile(aPath, []byte("revised quarterly finance report"), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(aPath, future, future))

	report, err = p.IndexDirectory(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Success)
	assert.Equal(t, 1, report.Skipped)
}

func TestIndexDirectorySkipReasons(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".secret.txt", "hidden")
	writeFile(t, dir, "tool.exe", "binary")
	big := writeFile(t, dir, "big.txt", "0123456789 this exceeds the tiny limit")

	cfg := &config.IngestConfig{
		MaxFileBytes: 10,
		QueueDir:     filepath.Join(t.TempDir(), "queue"),
	}
	cfg.SetDefaults()
	// SetDefaults keeps the explicit 10-byte cap.
	require.EqualValues(t, 10, cfg.MaxFileBytes)

	candidates, err := Discover(dir, cfg)
	require.NoError(t, err)

	reasons := make(map[string]string)
	for _, c := range candidates {
		reasons[filepath.Base(c.Path)] = c.SkipReason
	}
	assert.Equal(t, ReasonHidden, reasons[".secret.txt"])
	assert.Equal(t, ReasonExtension, reasons["tool.exe"])
	assert.Equal(t, ReasonTooLarge, reasons[filepath.Base(big)])
}

func TestIndexDirectoryProgress(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "first document")
	writeFile(t, dir, "b.txt", "second document")

	p := testIngestPipeline(t, testStore(t))

	var events []Progress
	_, err := p.IndexDirectory(context.Background(), dir, func(pr Progress) {
		events = append(events, pr)
	})
	require.NoError(t, err)

	require.Len(t, events, 2)
	positions := map[string]bool{}
	for _, ev := range events {
		positions[ev.Position] = true
	}
	assert.True(t, positions["1/2"] && positions["2/2"])
}

func TestIndexFileStoresMetadata(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", "kubernetes rollout plan with canary deployments")

	db := testStore(t)
	p := testIngestPipeline(t, db)

	res := p.IndexFile(context.Background(), path)
	require.Equal(t, StatusSuccess, res.Status)

	stored, err := db.Get(context.Background(), "docs", res.DocID)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", stored.Metadata["file_name"])
	assert.Equal(t, "txt", stored.Metadata["file_type"])
	// No model configured: the fallback summary marks a partial index.
	assert.Equal(t, true, stored.Metadata["partial_index"])
	assert.Equal(t, "other", stored.Metadata["document_type"])
	assert.Contains(t, stored.Content, "kubernetes")
}

func TestIndexFileUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tool.bin", "x")

	p := testIngestPipeline(t, testStore(t))
	res := p.IndexFile(context.Background(), path)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, ReasonExtension, res.Reason)
}

func TestDeleteRemovesDocument(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "gone.txt", "temporary document")

	db := testStore(t)
	p := testIngestPipeline(t, db)
	ctx := context.Background()

	res := p.IndexFile(ctx, path)
	require.Equal(t, StatusSuccess, res.Status)

	require.NoError(t, p.Delete(ctx, path))
	_, err := db.Get(ctx, "docs", res.DocID)
	assert.Equal(t, faults.KindNotFound, faults.KindOf(err))

	// Deleting an unknown document is not an error.
	assert.NoError(t, p.Delete(ctx, filepath.Join(dir, "never-indexed.txt")))
}

type flakyDB struct {
	databases.DatabaseProvider
	failures atomic.Int64
	failing  atomic.Bool
}

func (f *flakyDB) Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]interface{}) error {
	if f.failing.Load() {
		f.failures.Add(1)
		return faults.New(faults.KindUnavailable, "store", "Upsert", "down", nil)
	}
	return f.DatabaseProvider.Upsert(ctx, collection, id, vector, content, metadata)
}

func TestQueueBuffersAndDrains(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "buffered.txt", "document written while the store is down")

	inner := testStore(t)
	db := &flakyDB{DatabaseProvider: inner}
	db.failing.Store(true)

	p, err := NewPipeline(db, &staticEmbedder{dim: 4}, nil, nil, testIngestConfig(t), "docs")
	require.NoError(t, err)
	ctx := context.Background()

	res := p.IndexFile(ctx, path)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ReasonQueuedRetry, res.Reason)
	assert.Equal(t, 1, p.Queue().Len())

	// Store recovers; the drain flushes the buffered upsert.
	db.failing.Store(false)
	flushed, err := p.Queue().Drain(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	assert.Equal(t, 0, p.Queue().Len())

	stored, err := inner.Get(ctx, "docs", res.DocID)
	require.NoError(t, err)
	assert.Contains(t, stored.Content, "store is down")
}

// skewedEmbedder declares one dimension but produces another.
type skewedEmbedder struct{ staticEmbedder }

func (s *skewedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{3, 4, 0, 0, 0}, nil
}

// unscaledEmbedder returns a vector with L2 norm 5.
type unscaledEmbedder struct{ staticEmbedder }

func (u *unscaledEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{3, 4, 0, 0}, nil
}

// vectorCaptureDB records the vector handed to the store.
type vectorCaptureDB struct {
	databases.DatabaseProvider
	vector []float32
}

func (c *vectorCaptureDB) Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]interface{}) error {
	c.vector = append([]float32(nil), vector...)
	return c.DatabaseProvider.Upsert(ctx, collection, id, vector, content, metadata)
}

func TestIndexFileRejectsDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "skewed.txt", "document whose embedding is the wrong width")

	db := testStore(t)
	p, err := NewPipeline(db, &skewedEmbedder{staticEmbedder{dim: 4}}, nil, nil, testIngestConfig(t), "docs")
	require.NoError(t, err)

	res := p.IndexFile(context.Background(), path)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "embedding_failed", res.Reason)

	// Nothing reaches the store.
	_, err = db.Get(context.Background(), "docs", res.DocID)
	assert.Equal(t, faults.KindNotFound, faults.KindOf(err))
}

func TestIndexFileStoresUnitNormVector(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "scaled.txt", "document embedded with an unscaled vector")

	db := &vectorCaptureDB{DatabaseProvider: testStore(t)}
	p, err := NewPipeline(db, &unscaledEmbedder{staticEmbedder{dim: 4}}, nil, nil, testIngestConfig(t), "docs")
	require.NoError(t, err)

	res := p.IndexFile(context.Background(), path)
	require.Equal(t, StatusSuccess, res.Status)

	require.Len(t, db.vector, 4)
	var sum float64
	for _, v := range db.vector {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
	assert.InDelta(t, 0.6, float64(db.vector[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(db.vector[1]), 1e-6)
}

type summarizerLLM struct{ response string }

func (m *summarizerLLM) Generate(ctx context.Context, messages []llms.Message, opts llms.GenerateOptions) (string, error) {
	return m.response, nil
}

func (m *summarizerLLM) GenerateStream(ctx context.Context, messages []llms.Message, opts llms.GenerateOptions) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk)
	close(ch)
	return ch, nil
}
func (m *summarizerLLM) ModelName() string { return "summarizer" }
func (m *summarizerLLM) Close() error      { return nil }

func TestIndexFileKeywordsSearchable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "brew.txt", "notes on home brewing techniques")

	db := testStore(t)
	llm := &summarizerLLM{response: `{"summary":"Notes on home brewing.",` +
		`"keywords":["zymurgy"],"topics":["brewing"],"entities":[],"document_type":"notes"}`}
	p, err := NewPipeline(db, &staticEmbedder{dim: 4}, llm, nil, testIngestConfig(t), "docs")
	require.NoError(t, err)
	ctx := context.Background()

	res := p.IndexFile(ctx, path)
	require.Equal(t, StatusSuccess, res.Status)

	stored, err := db.Get(ctx, "docs", res.DocID)
	require.NoError(t, err)
	assert.Equal(t, []string{"zymurgy"}, stored.Metadata["keywords"])

	// The token lives only in the keywords field.
	hits, err := db.KeywordSearch(ctx, "docs", "zymurgy", 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, res.DocID, hits[0].ID)
}

func TestNormalize(t *testing.T) {
	// NFKC folds the ligature; whitespace runs collapse.
	got := Normalize("the ﬁle\t\t has   spaces", 0)
	assert.Equal(t, "the file has spaces", got)

	got = Normalize("abcdef", 3)
	assert.Equal(t, "abc", got)
}

func TestDecodeTextEncodingChain(t *testing.T) {
	assert.Equal(t, "plain utf8", decodeText([]byte("plain utf8")))

	// UTF-16LE with BOM.
	utf16 := []byte{0xFF, 0xFE, 'h', 0x00, 'i', 0x00}
	assert.Equal(t, "hi", decodeText(utf16))

	// CP-1252 curly quote is invalid UTF-8 on its own.
	cp1252 := []byte{'s', 'a', 'i', 'd', ' ', 0x93, 'h', 'i', 0x94}
	got := decodeText(cp1252)
	assert.Contains(t, got, "said")
	assert.NotContains(t, got, "�")
}

func TestFallbackSummary(t *testing.T) {
	long := make([]rune, 800)
	for i := range long {
		long[i] = 'x'
	}
	s := fallbackSummary(string(long))
	assert.Len(t, []rune(s.Summary), fallbackSummaryChars)
	assert.True(t, s.Partial)
	assert.Equal(t, "other", s.DocumentType)
}
