// Package semrecall layers semantic recall over the runtime's plain
// conversation memory, backed by an embedded chromem-go vector store.
// It is optional: the manifest's [memory] recall flag gates it, and the
// baseline append/last/clear/len memory semantics never depend on it.
package semrecall

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/philippgille/chromem-go"
)

// Store implements runtime.RecallProvider: one chromem collection per
// memory name, indexed as entries are appended and queried by
// similarity.
type Store struct {
	mu        sync.Mutex
	db        *chromem.DB
	embedding chromem.EmbeddingFunc
	counters  map[string]int
}

// Option configures a Store.
type Option func(*Store)

// WithEmbeddingFunc overrides the embedding backend.
func WithEmbeddingFunc(fn chromem.EmbeddingFunc) Option {
	return func(s *Store) { s.embedding = fn }
}

// New builds an in-memory store. The embedding backend defaults to
// OpenAI when OPENAI_API_KEY is set, falling back to a local
// hash-projection embedder that keeps recall functional (if coarse)
// with no credentials.
func New(opts ...Option) *Store {
	s := &Store{
		db:       chromem.NewDB(),
		counters: map[string]int{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.embedding == nil {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			s.embedding = chromem.NewEmbeddingFuncOpenAI(key, chromem.EmbeddingModelOpenAI3Small)
		} else {
			s.embedding = localHashEmbedding
		}
	}
	return s
}

// NewPersistent builds a store that persists collections under dir.
func NewPersistent(dir string, opts ...Option) (*Store, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open recall store: %w", err)
	}
	s := &Store{db: db, counters: map[string]int{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.embedding == nil {
		s.embedding = localHashEmbedding
	}
	return s, nil
}

func (s *Store) collection(memory string) (*chromem.Collection, error) {
	return s.db.GetOrCreateCollection("memory-"+memory, nil, s.embedding)
}

// Index adds one memory entry to the vector store.
func (s *Store) Index(memory, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collection(memory)
	if err != nil {
		return fmt.Errorf("recall collection %q: %w", memory, err)
	}
	s.counters[memory]++
	doc := chromem.Document{
		ID:       fmt.Sprintf("%s-%d", memory, s.counters[memory]),
		Content:  content,
		Metadata: map[string]string{"role": role},
	}
	if err := col.AddDocument(context.Background(), doc); err != nil {
		return fmt.Errorf("index memory entry: %w", err)
	}
	return nil
}

// Recall returns up to limit stored entries most similar to query,
// best match first.
func (s *Store) Recall(memory, query string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collection(memory)
	if err != nil {
		return nil, fmt.Errorf("recall collection %q: %w", memory, err)
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	results, err := col.Query(context.Background(), query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query recall store: %w", err)
	}

	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Content
	}
	return out, nil
}

// localHashEmbedding is the zero-dependency fallback: a bag-of-words
// projection into a fixed-size vector via token hashing. Coarse, but it
// ranks shared-vocabulary texts above unrelated ones, which is enough
// for recall to degrade gracefully without an embedding API.
func localHashEmbedding(_ context.Context, text string) ([]float32, error) {
	const dims = 256
	vec := make([]float32, dims)
	token := make([]byte, 0, 16)
	flush := func() {
		if len(token) == 0 {
			return
		}
		sum := sha256.Sum256(token)
		idx := binary.BigEndian.Uint32(sum[:4]) % dims
		vec[idx]++
		token = token[:0]
	}
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' {
			if ch >= 'A' && ch <= 'Z' {
				ch += 'a' - 'A'
			}
			token = append(token, ch)
			continue
		}
		flush()
	}
	flush()

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		inv := 1 / float32(math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}
