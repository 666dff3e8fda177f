package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("deterministic", func(t *testing.T) {
		h := NewHash(32)
		a, err := h.Embed(ctx, "nitrogen fixation in legume root nodules")
		require.NoError(t, err)
		b, err := h.Embed(ctx, "nitrogen fixation in legume root nodules")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("normalized", func(t *testing.T) {
		h := NewHash(32)
		vec, err := h.Embed(ctx, "coral polyps host zooxanthellae")
		require.NoError(t, err)
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, norm, 1e-5)
	})

	t.Run("distinct texts diverge", func(t *testing.T) {
		h := NewHash(64)
		a, err := h.Embed(ctx, "wolves regulate elk populations")
		require.NoError(t, err)
		b, err := h.Embed(ctx, "kelp forests shelter sea otters")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("defaults dimensions", func(t *testing.T) {
		h := NewHash(0)
		assert.Equal(t, 64, h.Dimensions())
		vec, err := h.Embed(ctx, "lichen")
		require.NoError(t, err)
		assert.Len(t, vec, 64)
	})

	t.Run("batch", func(t *testing.T) {
		h := NewHash(16)
		vecs, err := h.EmbedBatch(ctx, []string{"alpha", "beta"})
		require.NoError(t, err)
		require.Len(t, vecs, 2)
		single, err := h.Embed(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, single, vecs[0])
	})
}

func TestOpenAIEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("embed batch preserves input order", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/v1/embeddings", r.URL.Path)
			require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

			var req openAIEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "test-model", req.Model)
			require.Len(t, req.Input, 2)

			// Return data out of order; the client must reassemble by index.
			resp := openAIEmbedResponse{}
			resp.Data = []struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{
				{Embedding: []float32{0, 1}, Index: 1},
				{Embedding: []float32{1, 0}, Index: 0},
			}
			json.NewEncoder(w).Encode(resp)
		}))
		defer srv.Close()

		e := NewOpenAI(&Config{APIURL: srv.URL, APIKey: "test-key", Model: "test-model", Dimensions: 2})
		vecs, err := e.EmbedBatch(ctx, []string{"first", "second"})
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0}, vecs[0])
		assert.Equal(t, []float32{0, 1}, vecs[1])
	})

	t.Run("single embed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":[{"embedding":[0.5,0.5],"index":0}]}`))
		}))
		defer srv.Close()

		e := NewOpenAI(&Config{APIURL: srv.URL})
		vec, err := e.Embed(ctx, "symbiosis")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 0.5}, vec)
	})

	t.Run("empty text rejected", func(t *testing.T) {
		e := NewOpenAI(&Config{APIURL: "http://localhost:0"})
		_, err := e.Embed(ctx, "")
		assert.Error(t, err)
	})

	t.Run("server error surfaces status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model overloaded", http.StatusInternalServerError)
		}))
		defer srv.Close()

		e := NewOpenAI(&Config{APIURL: srv.URL})
		_, err := e.Embed(ctx, "text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "500")
	})

	t.Run("unreachable host is unavailable", func(t *testing.T) {
		e := NewOpenAI(&Config{APIURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
		_, err := e.Embed(ctx, "text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unavailable")
	})

	t.Run("api error message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":{"message":"invalid model"},"data":[]}`))
		}))
		defer srv.Close()

		e := NewOpenAI(&Config{APIURL: srv.URL})
		_, err := e.Embed(ctx, "text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid model")
	})
}
