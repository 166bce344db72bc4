package semantic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// axisEmbedder maps each known text to a fixed vector.
type axisEmbedder struct {
	vectors map[string][]float32
}

func (a *axisEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := a.vectors[t]
		if !ok {
			v = []float32{0, 0, 0}
		}
		out[i] = v
	}
	return out, nil
}

func testIndex(t *testing.T, opts ...IndexOption) *Index {
	t.Helper()
	emb := &axisEmbedder{vectors: map[string][]float32{
		"alpha doc": {1, 0, 0},
		"beta doc":  {0, 1, 0},
		"gamma doc": {0.9, 0.1, 0},
		"query-a":   {1, 0, 0},
		"query-b":   {0, 1, 0},
	}}
	ix := NewIndex(emb, opts...)
	err := ix.Rebuild(context.Background(), []Document{
		{ID: "alpha", Text: "alpha doc"},
		{ID: "beta", Text: "beta doc"},
		{ID: "gamma", Text: "gamma doc"},
	})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	return ix
}

func TestIndexSearchOrdersByScore(t *testing.T) {
	ix := testIndex(t)

	res, err := ix.Search(context.Background(), "query-a", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d results, want 2 (beta below threshold)", len(res))
	}
	if res[0].ID != "alpha" || res[1].ID != "gamma" {
		t.Errorf("order = %s, %s; want alpha, gamma", res[0].ID, res[1].ID)
	}
	if res[0].Score < res[1].Score {
		t.Errorf("scores not descending: %v", res)
	}
}

func TestIndexSearchAppliesThreshold(t *testing.T) {
	ix := testIndex(t, WithThreshold(0.99))

	res, err := ix.Search(context.Background(), "query-a", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].ID != "alpha" {
		t.Fatalf("results = %+v, want only alpha", res)
	}
}

func TestIndexSearchAppliesLimit(t *testing.T) {
	ix := testIndex(t, WithThreshold(0))

	res, err := ix.Search(context.Background(), "query-a", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 {
		t.Fatalf("got %d results, want 1", len(res))
	}
}

func TestIndexRebuildReplacesContents(t *testing.T) {
	ix := testIndex(t)
	if ix.Len() != 3 {
		t.Fatalf("Len = %d, want 3", ix.Len())
	}
	if err := ix.Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("Rebuild empty: %v", err)
	}
	if ix.Len() != 0 {
		t.Fatalf("Len after empty rebuild = %d, want 0", ix.Len())
	}
}

func TestHTTPEmbedder(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "test-model" {
			http.Error(w, "wrong model", http.StatusBadRequest)
			return
		}
		type datum struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		out := struct {
			Data []datum `json:"data"`
		}{}
		// Deliberately answer out of order; the client must reassemble.
		for i := len(req.Input) - 1; i >= 0; i-- {
			out.Data = append(out.Data, datum{Embedding: []float32{float32(i), 1}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	emb, err := NewHTTPEmbedder(srv.URL, "test-model", WithAPIKey("sekrit"))
	if err != nil {
		t.Fatalf("NewHTTPEmbedder: %v", err)
	}

	vecs, err := emb.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	if vecs[0][0] != 0 || vecs[1][0] != 1 {
		t.Errorf("vectors out of order: %v", vecs)
	}
	if gotAuth != "Bearer sekrit" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestHTTPEmbedderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	emb, err := NewHTTPEmbedder(srv.URL, "test-model")
	if err != nil {
		t.Fatalf("NewHTTPEmbedder: %v", err)
	}
	if _, err := emb.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

// mapCache is an in-memory VectorCache for tests.
type mapCache struct {
	data map[string][]float32
	hits int
}

func (m *mapCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	v, ok := m.data[key]
	if ok {
		m.hits++
	}
	return v, ok, nil
}

func (m *mapCache) Put(ctx context.Context, key string, vec []float32) error {
	m.data[key] = vec
	return nil
}

// countingEmbedder records how many texts reached the inner embedder.
type countingEmbedder struct {
	inner Embedder
	calls int
	texts int
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.texts += len(texts)
	return c.inner.Embed(ctx, texts)
}

func TestCachingEmbedder(t *testing.T) {
	inner := &countingEmbedder{inner: &axisEmbedder{vectors: map[string][]float32{
		"alpha doc": {1, 0, 0},
		"beta doc":  {0, 1, 0},
	}}}
	cache := &mapCache{data: make(map[string][]float32)}
	emb := NewCachingEmbedder(inner, cache, "test-model", nil)
	ctx := context.Background()

	if _, err := emb.Embed(ctx, []string{"alpha doc", "beta doc"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if inner.texts != 2 {
		t.Fatalf("inner saw %d texts, want 2", inner.texts)
	}

	vecs, err := emb.Embed(ctx, []string{"alpha doc", "beta doc"})
	if err != nil {
		t.Fatalf("Embed cached: %v", err)
	}
	if inner.texts != 2 {
		t.Errorf("inner saw %d texts after cached call, want still 2", inner.texts)
	}
	if cache.hits != 2 {
		t.Errorf("cache hits = %d, want 2", cache.hits)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("cached vectors wrong: %v", vecs)
	}
}

func TestCachingEmbedderPartialMiss(t *testing.T) {
	inner := &countingEmbedder{inner: &axisEmbedder{vectors: map[string][]float32{
		"alpha doc": {1, 0, 0},
		"beta doc":  {0, 1, 0},
	}}}
	cache := &mapCache{data: make(map[string][]float32)}
	emb := NewCachingEmbedder(inner, cache, "test-model", nil)
	ctx := context.Background()

	if _, err := emb.Embed(ctx, []string{"alpha doc"}); err != nil {
		t.Fatal(err)
	}
	vecs, err := emb.Embed(ctx, []string{"alpha doc", "beta doc"})
	if err != nil {
		t.Fatal(err)
	}
	if inner.texts != 2 {
		t.Errorf("inner saw %d texts, want 2 (one per unique miss)", inner.texts)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors wrong: %v", vecs)
	}
}
