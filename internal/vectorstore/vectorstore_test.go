package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]int
	points      map[string][]Point
	creates     int
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: map[string]int{}, points: map[string][]Point{}}
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/healthz" {
		w.WriteHeader(http.StatusOK)
		return
	}

	const prefix = "/collections/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	if name, ok := strings.CutSuffix(rest, "/points"); ok && r.Method == http.MethodPut {
		var body struct {
			Points []Point `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, ok := f.collections[name]; !ok {
			http.Error(w, "no such collection", http.StatusNotFound)
			return
		}
		f.points[name] = append(f.points[name], body.Points...)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := f.collections[rest]; !ok {
			w.WriteHeader(http.StatusNotFound)
		}
	case http.MethodPut:
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.collections[rest] = body.Vectors.Size
		f.creates++
	}
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "tutor_pages_nomic-embed-text", CollectionName("nomic-embed-text"))
	assert.Equal(t, "tutor_pages_mxbai-embed-large_v1", CollectionName("mxbai-embed-large:v1"))
}

func TestPagePointIDIsStable(t *testing.T) {
	a := PagePointID("file:///a.pdf", 1)
	assert.Equal(t, a, PagePointID("file:///a.pdf", 1))
	assert.NotEqual(t, a, PagePointID("file:///a.pdf", 2))
	assert.Len(t, a, 36)
}

func TestUpsertPageCreatesCollectionOnce(t *testing.T) {
	fake := newFakeQdrant()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	mgr := NewCollectionManager(NewQdrantClient(srv.URL, 3))
	ctx := context.Background()

	require.NoError(t, mgr.HealthCheck(ctx))
	require.NoError(t, mgr.UpsertPage(ctx, "nomic-embed-text", "file:///a.pdf", 1, []float32{1, 0, 0}, "h1"))
	require.NoError(t, mgr.UpsertPage(ctx, "nomic-embed-text", "file:///a.pdf", 2, []float32{0, 1, 0}, "h2"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	name := CollectionName("nomic-embed-text")
	assert.Equal(t, 1, fake.creates)
	assert.Equal(t, 3, fake.collections[name])
	require.Len(t, fake.points[name], 2)
	p := fake.points[name][1]
	assert.Equal(t, PagePointID("file:///a.pdf", 2), p.ID)
	assert.Equal(t, "file:///a.pdf", p.Payload["pdf_url"])
	assert.EqualValues(t, 2, p.Payload["page_number"])
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	client := NewQdrantClient("http://127.0.0.1:1", 4)
	err := client.Upsert(context.Background(), "c", []Point{{ID: "x", Vector: []float32{1}}})
	assert.ErrorContains(t, err, "expects 4")
}

func TestHealthCheckUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewQdrantClient(url, 3).HealthCheck(context.Background())
	assert.Error(t, err)
}
