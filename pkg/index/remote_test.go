package index

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantlabs/symbiont/pkg/storage"
)

func TestRemoteIndex_Search(t *testing.T) {
	var gotPath string
	var gotReq remoteSearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(remoteSearchResponse{Result: []struct {
			ID      storage.ParagraphID `json:"id"`
			Score   float64             `json:"score"`
			Payload remotePayload       `json:"payload"`
		}{
			{ID: "p1", Score: 0.92, Payload: remotePayload{
				Content: "mangrove nursery", OrganismIDs: []storage.OrganismID{"org-1"},
			}},
		}})
	}))
	defer srv.Close()

	idx, err := NewRemoteIndex(RemoteConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), &Query{
		Vector: []float32{1, 0}, Text: "mangrove", Alpha: 0.7, K: 5,
		Filters: Filters{Tags: []string{"coastal"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "/collections/paragraphs/points/search", gotPath)
	assert.Equal(t, 0.7, gotReq.Alpha)
	assert.Equal(t, 5, gotReq.Limit)
	require.NotNil(t, gotReq.Filter)
	assert.Equal(t, []string{"coastal"}, gotReq.Filter.Tags)

	require.Len(t, results, 1)
	assert.Equal(t, storage.ParagraphID("p1"), results[0].ID)
	assert.Equal(t, 0.92, results[0].Score)
	assert.Equal(t, []storage.OrganismID{"org-1"}, results[0].OrganismIDs)
}

func TestRemoteIndex_FailureClassification(t *testing.T) {
	t.Run("5xx is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		idx, err := NewRemoteIndex(RemoteConfig{BaseURL: srv.URL})
		require.NoError(t, err)
		_, err = idx.Search(context.Background(), &Query{Vector: []float32{1}, Alpha: 1})
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("connection refused is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // nothing listening anymore

		idx, err := NewRemoteIndex(RemoteConfig{BaseURL: srv.URL})
		require.NoError(t, err)
		_, err = idx.Search(context.Background(), &Query{Vector: []float32{1}, Alpha: 1})
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("timeout is unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		idx, err := NewRemoteIndex(RemoteConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
		require.NoError(t, err)
		_, err = idx.Search(context.Background(), &Query{Vector: []float32{1}, Alpha: 1})
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("4xx is invalid data, not unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad vector", http.StatusBadRequest)
		}))
		defer srv.Close()

		idx, err := NewRemoteIndex(RemoteConfig{BaseURL: srv.URL})
		require.NoError(t, err)
		_, err = idx.Search(context.Background(), &Query{Vector: []float32{1}, Alpha: 1})
		assert.ErrorIs(t, err, ErrInvalidData)
		assert.NotErrorIs(t, err, ErrUnavailable)
	})
}

func TestRemoteIndex_BreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	idx, err := NewRemoteIndex(RemoteConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	q := &Query{Vector: []float32{1}, Alpha: 1}
	for i := 0; i < 10; i++ {
		_, err = idx.Search(context.Background(), q)
		require.ErrorIs(t, err, ErrUnavailable)
	}
	// The breaker is open now; the failure still classifies as unavailable.
	_, err = idx.Search(context.Background(), q)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRemoteIndex_Upsert(t *testing.T) {
	var gotReq remoteUpsertRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	idx, err := NewRemoteIndex(RemoteConfig{BaseURL: srv.URL, Collection: "test"})
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(context.Background(), &Document{
		ID: "p1", Content: "seagrass meadow", Embedding: []float32{0.1, 0.2},
		Tags: []string{"marine"},
	}))
	require.Len(t, gotReq.Points, 1)
	assert.Equal(t, storage.ParagraphID("p1"), gotReq.Points[0].ID)
	assert.Equal(t, "seagrass meadow", gotReq.Points[0].Payload.Content)
	assert.Equal(t, 1, idx.Count())
}

func TestRemoteIndex_ConcurrentUpsertCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	idx, err := NewRemoteIndex(RemoteConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := &Document{
				ID:        storage.ParagraphID(fmt.Sprintf("p%d", i)),
				Content:   "kelp forest canopy",
				Embedding: []float32{1, 0},
			}
			assert.NoError(t, idx.Upsert(context.Background(), doc))
		}()
	}
	wg.Wait()
	assert.Equal(t, writers, idx.Count())

	require.NoError(t, idx.Delete(context.Background(), "p0"))
	assert.Equal(t, writers-1, idx.Count())
}
