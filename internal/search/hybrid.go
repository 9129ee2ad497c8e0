// Package search implements hybrid retrieval over memories: dense vector
// search through the Qdrant index fused with SQLite FTS5 lexical search via
// reciprocal rank fusion. All inputs are validated before any network call so
// a malformed vector or collection name never reaches a backend.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/model"
	"github.com/engramlabs/engram/internal/store"
	"github.com/engramlabs/engram/internal/vectordb/qdrant"
)

// ErrDegraded signals that the vector backend is unavailable. Callers fall
// back to lexical-only retrieval instead of failing the query.
var ErrDegraded = errors.New("vector search degraded")

// DefaultRRFConstant is the k in reciprocal rank fusion. 60 keeps single
// top ranks from dominating the fused score.
const DefaultRRFConstant = 60

var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,254}$`)

// Embedder produces dense vectors for texts.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Reranker reorders fused candidates before they are returned. Optional.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []model.RetrievalResult) ([]model.RetrievalResult, error)
}

// Engine runs dense, lexical and hybrid searches over the memory corpus.
type Engine struct {
	qdrant     *qdrant.Client
	store      *store.Store
	embedder   Embedder
	collection string
	dimension  int
	rrfK       int
	reranker   Reranker
	logger     *logrus.Logger
}

// Options tunes engine construction.
type Options struct {
	Collection  string
	Dimension   int
	RRFConstant int
	Reranker    Reranker
}

// NewEngine creates the engine. The collection name is validated eagerly so a
// bad configuration fails at startup, not on the first query.
func NewEngine(q *qdrant.Client, s *store.Store, e Embedder, opts Options, logger *logrus.Logger) (*Engine, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := validateCollection(opts.Collection); err != nil {
		return nil, err
	}
	dimension := opts.Dimension
	if dimension <= 0 && e != nil {
		dimension = e.Dimension()
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dimension)
	}
	rrfK := opts.RRFConstant
	if rrfK <= 0 {
		rrfK = DefaultRRFConstant
	}
	return &Engine{
		qdrant:     q,
		store:      s,
		embedder:   e,
		collection: opts.Collection,
		dimension:  dimension,
		rrfK:       rrfK,
		reranker:   opts.Reranker,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the vector collection if missing.
func (e *Engine) EnsureCollection(ctx context.Context) error {
	if e.qdrant == nil {
		return ErrDegraded
	}
	return e.qdrant.EnsureCollection(ctx, e.collection, e.dimension)
}

// IndexMemory embeds a memory and upserts its vector. Callers that have no
// embedder or vector backend get ErrDegraded and keep the memory lexical-only.
func (e *Engine) IndexMemory(ctx context.Context, m *model.Memory) error {
	if e.qdrant == nil || e.embedder == nil {
		return ErrDegraded
	}
	vector, err := e.embedder.Embed(ctx, m.Content)
	if err != nil {
		return fmt.Errorf("embed memory: %w", err)
	}
	if err := e.validateVector(vector); err != nil {
		return err
	}
	point := qdrant.Point{
		ID:     m.ID,
		Vector: vector,
		Payload: map[string]interface{}{
			"namespace": m.Namespace,
			"type":      string(m.Type),
		},
	}
	if err := e.qdrant.UpsertPoints(ctx, e.collection, []qdrant.Point{point}); err != nil {
		return fmt.Errorf("index memory: %w", err)
	}
	return nil
}

// RemoveMemory deletes a memory's vector from the index.
func (e *Engine) RemoveMemory(ctx context.Context, id string) error {
	if e.qdrant == nil {
		return nil
	}
	return e.qdrant.DeletePoints(ctx, e.collection, []string{id})
}

// DenseSearch runs nearest-neighbor search for the query within a namespace.
func (e *Engine) DenseSearch(ctx context.Context, query, namespace string, limit int) ([]model.RetrievalResult, error) {
	if e.qdrant == nil || e.embedder == nil {
		return nil, ErrDegraded
	}
	if limit <= 0 {
		limit = 10
	}
	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegraded, err)
	}
	if err := e.validateVector(vector); err != nil {
		return nil, err
	}

	hits, err := e.qdrant.Search(ctx, e.collection, vector, limit, qdrant.NamespaceFilter(namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegraded, err)
	}

	results := make([]model.RetrievalResult, 0, len(hits))
	for _, hit := range hits {
		content := ""
		if m, err := e.store.GetMemory(ctx, hit.ID); err == nil {
			content = m.Content
		}
		results = append(results, model.RetrievalResult{
			ID:          hit.ID,
			SourceLayer: model.SourceHybrid,
			Content:     content,
			Score:       hit.Score,
		})
	}
	return results, nil
}

// LexicalSearch runs FTS5 full-text search over memory content.
func (e *Engine) LexicalSearch(ctx context.Context, query, namespace string, limit int) ([]model.RetrievalResult, error) {
	return e.store.SearchMemoriesLexical(ctx, query, namespace, limit)
}

// HybridSearch fuses dense and lexical result lists with reciprocal rank
// fusion. Documents found by both retrievers score higher than documents found
// by one; either retriever failing degrades to the other rather than erroring.
func (e *Engine) HybridSearch(ctx context.Context, query, namespace string, limit int) ([]model.RetrievalResult, error) {
	if limit <= 0 {
		limit = 10
	}
	// Pull more than requested from each side so fusion has overlap to work with.
	fetchLimit := limit * 2

	dense, denseErr := e.DenseSearch(ctx, query, namespace, fetchLimit)
	lexical, lexErr := e.LexicalSearch(ctx, query, namespace, fetchLimit)

	if denseErr != nil && lexErr != nil {
		return nil, fmt.Errorf("both retrievers failed: dense: %v, lexical: %v", denseErr, lexErr)
	}
	if denseErr != nil {
		e.logger.WithError(denseErr).Warn("Dense retrieval unavailable, lexical only")
	}
	if lexErr != nil {
		e.logger.WithError(lexErr).Warn("Lexical retrieval failed, dense only")
	}

	// The reranker sees the fused head before truncation so a small limit
	// cannot hide candidates it would have promoted.
	fused := e.fuse(dense, lexical)
	if e.reranker != nil && len(fused) > 1 {
		head := fused
		if len(head) > 10 {
			head = head[:10]
		}
		reranked, err := e.reranker.Rerank(ctx, query, head)
		if err != nil {
			e.logger.WithError(err).Warn("Reranker failed, keeping fused order")
		} else {
			fused = append(reranked, fused[len(head):]...)
		}
	}
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

// fuse merges ranked lists with RRF: score(d) = sum over lists of
// 1 / (k + rank_d), ranks starting at 1.
func (e *Engine) fuse(lists ...[]model.RetrievalResult) []model.RetrievalResult {
	type fusedDoc struct {
		result model.RetrievalResult
		score  float64
	}
	docs := make(map[string]*fusedDoc)
	for _, list := range lists {
		for rank, r := range list {
			contribution := 1.0 / float64(e.rrfK+rank+1)
			if doc, ok := docs[r.ID]; ok {
				doc.score += contribution
				if doc.result.Content == "" {
					doc.result.Content = r.Content
				}
			} else {
				docs[r.ID] = &fusedDoc{result: r, score: contribution}
			}
		}
	}

	fused := make([]model.RetrievalResult, 0, len(docs))
	for _, doc := range docs {
		doc.result.Score = doc.score
		doc.result.SourceLayer = model.SourceHybrid
		fused = append(fused, doc.result)
	}
	// Ties break on ID so the fused order does not depend on map iteration.
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})
	return fused
}

func (e *Engine) validateVector(vector []float32) error {
	if len(vector) != e.dimension {
		return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(vector), e.dimension)
	}
	for i, v := range vector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("vector component %d is not finite", i)
		}
	}
	return nil
}

func validateCollection(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}
