// Package working implements the short-term conversational memory layer on the
// cache store: TTL-bounded entries, a strict FIFO capacity bound per namespace,
// and token-overlap scoring for fast-path retrieval.
//
// The layer is deliberately failure-transparent: when the cache backend is
// unreachable it reports itself as empty so the router falls through to the
// durable layers instead of surfacing a transport error.
package working

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/cache"
	"github.com/engramlabs/engram/internal/model"
)

const (
	textWeight   = 0.30
	entityWeight = 0.35
	topicWeight  = 0.35
)

// Layer is the working-memory layer.
type Layer struct {
	cache    *cache.RedisClient
	capacity int
	ttl      time.Duration
	logger   *logrus.Logger
}

// ScoredEntry pairs an entry with its match score for Search results.
type ScoredEntry struct {
	Entry model.WorkingMemoryEntry
	Score float64
}

// Stats summarizes the resident entries of a namespace.
type Stats struct {
	Count    int        `json:"count"`
	Capacity int        `json:"capacity"`
	Oldest   *time.Time `json:"oldest,omitempty"`
	Newest   *time.Time `json:"newest,omitempty"`
}

// New creates the layer. Capacity defaults to 5 and TTL to 7 days when unset.
func New(c *cache.RedisClient, capacity int, ttl time.Duration, logger *logrus.Logger) *Layer {
	if capacity <= 0 {
		capacity = 5
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Layer{cache: c, capacity: capacity, ttl: ttl, logger: logger}
}

func entryKey(namespace, id string) string {
	return "wm:" + namespace + ":" + id
}

func indexKey(namespace string) string {
	return "wm:index:" + namespace
}

// Store writes an entry with TTL, appends it to the namespace's time-ordered
// index, and evicts the oldest entries beyond capacity. Eviction is strict
// FIFO by insertion timestamp, independent of the TTL.
func (l *Layer) Store(ctx context.Context, entry *model.WorkingMemoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	ns := entry.Namespace

	if err := l.cache.SetJSON(ctx, entryKey(ns, entry.ConversationID), entry, l.ttl); err != nil {
		return err
	}
	if err := l.cache.IndexAdd(ctx, indexKey(ns), entry.ConversationID, float64(entry.Timestamp.UnixNano())); err != nil {
		return err
	}

	count, err := l.cache.IndexLen(ctx, indexKey(ns))
	if err != nil {
		return err
	}
	if excess := count - int64(l.capacity); excess > 0 {
		oldest, err := l.cache.IndexOldest(ctx, indexKey(ns), excess)
		if err != nil {
			return err
		}
		keys := make([]string, len(oldest))
		for i, id := range oldest {
			keys[i] = entryKey(ns, id)
		}
		if err := l.cache.Delete(ctx, keys...); err != nil {
			return err
		}
		if err := l.cache.IndexRemove(ctx, indexKey(ns), oldest...); err != nil {
			return err
		}
		l.logger.WithFields(logrus.Fields{
			"namespace": ns,
			"evicted":   len(oldest),
		}).Debug("Working memory evicted oldest entries")
	}
	return nil
}

// Get fetches one entry. Returns (nil, nil) when absent or when the cache is
// unreachable.
func (l *Layer) Get(ctx context.Context, namespace, id string) (*model.WorkingMemoryEntry, error) {
	var entry model.WorkingMemoryEntry
	found, err := l.cache.GetJSON(ctx, entryKey(namespace, id), &entry)
	if err != nil {
		l.degraded("get", err)
		return nil, nil
	}
	if !found {
		return nil, nil
	}
	return &entry, nil
}

// Delete removes an entry and its index record.
func (l *Layer) Delete(ctx context.Context, namespace, id string) error {
	if err := l.cache.Delete(ctx, entryKey(namespace, id)); err != nil {
		return err
	}
	return l.cache.IndexRemove(ctx, indexKey(namespace), id)
}

// GetAll returns up to limit resident entries, newest first. Index records
// whose entry expired under them are cleaned up along the way.
func (l *Layer) GetAll(ctx context.Context, namespace string, limit int) ([]model.WorkingMemoryEntry, error) {
	if limit <= 0 {
		limit = l.capacity
	}
	ids, err := l.cache.IndexNewest(ctx, indexKey(namespace), int64(limit))
	if err != nil {
		l.degraded("get_all", err)
		return nil, nil
	}

	entries := make([]model.WorkingMemoryEntry, 0, len(ids))
	var stale []string
	for _, id := range ids {
		var entry model.WorkingMemoryEntry
		found, err := l.cache.GetJSON(ctx, entryKey(namespace, id), &entry)
		if err != nil {
			l.degraded("get_all", err)
			return nil, nil
		}
		if !found {
			stale = append(stale, id)
			continue
		}
		entries = append(entries, entry)
	}
	if len(stale) > 0 {
		if err := l.cache.IndexRemove(ctx, indexKey(namespace), stale...); err != nil {
			l.degraded("index_cleanup", err)
		}
	}
	return entries, nil
}

// Namespaces lists every namespace with a working-memory index. Returns nil
// when the cache is unreachable.
func (l *Layer) Namespaces(ctx context.Context) ([]string, error) {
	keys, err := l.cache.ScanKeys(ctx, "wm:index:*")
	if err != nil {
		l.degraded("namespaces", err)
		return nil, nil
	}
	namespaces := make([]string, 0, len(keys))
	for _, key := range keys {
		namespaces = append(namespaces, strings.TrimPrefix(key, "wm:index:"))
	}
	sort.Strings(namespaces)
	return namespaces, nil
}

// GetStats reports resident count and the age bounds of a namespace.
func (l *Layer) GetStats(ctx context.Context, namespace string) Stats {
	stats := Stats{Capacity: l.capacity}
	entries, err := l.GetAll(ctx, namespace, l.capacity)
	if err != nil || len(entries) == 0 {
		return stats
	}
	stats.Count = len(entries)
	newest := entries[0].Timestamp
	oldest := entries[len(entries)-1].Timestamp
	stats.Newest = &newest
	stats.Oldest = &oldest
	return stats
}

// Search scores every resident entry against the query with weighted token
// overlap (0.30 text, 0.35 entities, 0.35 topics) and returns the topK,
// descending; ties break toward the more recent entry.
func (l *Layer) Search(ctx context.Context, namespace, query string, topK int) ([]ScoredEntry, error) {
	if topK <= 0 {
		topK = 5
	}
	entries, err := l.GetAll(ctx, namespace, l.capacity)
	if err != nil || len(entries) == 0 {
		return nil, nil
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	scored := make([]ScoredEntry, 0, len(entries))
	for _, entry := range entries {
		score := scoreEntry(queryTokens, &entry)
		if score > 0 {
			scored = append(scored, ScoredEntry{Entry: entry, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entry.Timestamp.After(scored[j].Entry.Timestamp)
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func scoreEntry(queryTokens []string, entry *model.WorkingMemoryEntry) float64 {
	textTokens := tokenSet(tokenize(entry.FullText))
	entityTokens := make(map[string]bool)
	for _, e := range entry.KeyEntities {
		for _, t := range tokenize(e) {
			entityTokens[t] = true
		}
	}
	topicTokens := make(map[string]bool)
	for _, t := range entry.Topics {
		for _, tok := range tokenize(t) {
			topicTokens[tok] = true
		}
	}

	n := float64(len(queryTokens))
	var textHits, entityHits, topicHits float64
	for _, q := range queryTokens {
		if textTokens[q] {
			textHits++
		}
		if entityTokens[q] {
			entityHits++
		}
		if topicTokens[q] {
			topicHits++
		}
	}
	return textWeight*(textHits/n) + entityWeight*(entityHits/n) + topicWeight*(topicHits/n)
}

func (l *Layer) degraded(op string, err error) {
	l.logger.WithError(err).WithField("op", op).Warn("Working memory cache unavailable, serving empty")
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}
