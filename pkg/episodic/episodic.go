// Package episodic implements the episodic vector store from spec.md §4.8:
// a single fixed-schema "episodic_memory" collection of compressed diary
// entries, searched with a decay/importance re-ranking formula on top of
// ANN distance. Grounded on the teacher's pkg/memory/vectorstore.go
// (chromem-go collection wrapping, persistent-DB-at-a-path idiom), reworked
// from its dual conversations/knowledge collections and provenance
// formatting down to the single schema spec.md names.
package episodic

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/sipeed/ryuuko/pkg/rterr"
	"github.com/sipeed/ryuuko/pkg/types"
)

const collectionName = "episodic_memory"
const annCandidates = 20

// Store wraps a persistent chromem-go collection with the insert/search
// semantics spec.md §4.8 requires.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// Open opens (or creates) the persistent episodic store at path.
func Open(path string, embeddingFn chromem.EmbeddingFunc) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("%w: create episodic dir: %v", rterr.StoreFailure, err)
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("%w: open episodic db: %v", rterr.StoreFailure, err)
	}
	coll, err := db.GetOrCreateCollection(collectionName, nil, embeddingFn)
	if err != nil {
		return nil, fmt.Errorf("%w: create episodic collection: %v", rterr.StoreFailure, err)
	}
	return &Store{db: db, collection: coll}, nil
}

// Insert embeds content (via the collection's configured embedder) and
// appends one immutable EpisodicEvent.
func (s *Store) Insert(ctx context.Context, ev types.EpisodicEvent) error {
	metadata := map[string]string{
		"timestamp":  fmt.Sprintf("%d", ev.Timestamp),
		"importance": fmt.Sprintf("%g", ev.Importance),
		"raw":        ev.Metadata,
	}
	doc := chromem.Document{ID: ev.ID, Content: ev.Content, Metadata: metadata}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: insert episodic event %s: %v", rterr.StoreFailure, ev.ID, err)
	}
	return nil
}

// SearchResult is one re-ranked hit.
type SearchResult struct {
	Event types.EpisodicEvent
	Score float64
}

// Search implements spec.md §4.8: fetch annCandidates ANN results, rescore
// each by (1/(1+distance)) * exp(-lambda*deltaDays) * importance, and
// return the top `limit` by score descending.
func (s *Store) Search(ctx context.Context, queryText string, limit int, lambda float64) ([]SearchResult, error) {
	n := annCandidates
	if s.collection.Count() < n {
		n = s.collection.Count()
	}
	if n == 0 {
		return nil, nil
	}
	results, err := s.collection.Query(ctx, queryText, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: episodic search: %v", rterr.StoreFailure, err)
	}

	now := time.Now().Unix()
	scored := make([]SearchResult, 0, len(results))
	for _, r := range results {
		ts := parseInt64(r.Metadata["timestamp"])
		importance := parseFloat(r.Metadata["importance"])
		deltaDays := float64(now-ts) / 86400.0
		if deltaDays < 0 {
			deltaDays = 0
		}
		distance := float64(1 - r.Similarity) // chromem similarity is cosine similarity in [-1,1]; treat 1-sim as a distance proxy
		score := (1.0 / (1.0 + distance)) * math.Exp(-lambda*deltaDays) * importance
		scored = append(scored, SearchResult{
			Event: types.EpisodicEvent{
				ID:         r.ID,
				Content:    r.Content,
				Timestamp:  ts,
				Importance: float32(importance),
				Metadata:   r.Metadata["raw"],
			},
			Score: score,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// CountUserChunks filters by a substring match on metadata, mirroring the
// teacher's count_user_chunks-equivalent usage pattern.
func (s *Store) CountUserChunks(ctx context.Context, username string) (int, error) {
	docs, err := s.collection.Query(ctx, username, s.collection.Count(), nil, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: count user chunks: %v", rterr.StoreFailure, err)
	}
	count := 0
	for _, d := range docs {
		if strings.Contains(d.Metadata["raw"], username) || strings.Contains(d.Content, username) {
			count++
		}
	}
	return count, nil
}

func parseInt64(s string) int64 {
	var n int64
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}

func parseFloat(s string) float64 {
	var f float64
	_, _ = fmt.Sscanf(s, "%g", &f)
	return f
}
