package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantlabs/symbiont/pkg/config"
	"github.com/verdantlabs/symbiont/pkg/retrieval"
	"github.com/verdantlabs/symbiont/pkg/storage"
	"github.com/verdantlabs/symbiont/pkg/symbiont"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.LoadDefaults()
	cfg.Storage.Backend = "memory"
	db, err := symbiont.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv := httptest.NewServer(New(db, cfg.Server, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNodeEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/nodes", map[string]any{
		"content":   "which insects pollinate orchards?",
		"type":      "question",
		"sessionId": "sess-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	root := decodeBody[storage.Node](t, resp)
	require.NotEmpty(t, root.ID)

	t.Run("get", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("%s/api/v1/nodes/%s", srv.URL, root.ID))
		require.NoError(t, err)
		got := decodeBody[storage.Node](t, resp)
		assert.Equal(t, root.ID, got.ID)
		assert.Equal(t, root.Content, got.Content)
	})

	t.Run("missing node is 404", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/nodes/node-nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("children and path", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/nodes", map[string]any{
			"parentId": root.ID,
			"content":  "mason bees outperform honeybees in orchards",
			"type":     "answer",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		child := decodeBody[storage.Node](t, resp)

		resp2, err := http.Get(fmt.Sprintf("%s/api/v1/nodes/%s/children", srv.URL, root.ID))
		require.NoError(t, err)
		children := decodeBody[[]storage.Node](t, resp2)
		require.Len(t, children, 1)
		assert.Equal(t, child.ID, children[0].ID)

		resp3, err := http.Get(fmt.Sprintf("%s/api/v1/nodes/%s/path", srv.URL, child.ID))
		require.NoError(t, err)
		path := decodeBody[[]storage.Node](t, resp3)
		require.Len(t, path, 2)
		assert.Equal(t, root.ID, path[0].ID)
	})

	t.Run("non-cascade delete with children conflicts", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/v1/nodes/%s", srv.URL, root.ID), nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("cascade delete", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/v1/nodes/%s?cascade=true", srv.URL, root.ID), nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		result := decodeBody[storage.CascadeResult](t, resp)
		assert.Len(t, result.Nodes, 2)
	})

	t.Run("invalid body is 400", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/v1/nodes", "application/json", bytes.NewBufferString(`{"bogus": true}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestParagraphAndRetrieve(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/v1/paragraphs/para-1", map[string]any{
		"content":   "kelp forests buffer coastal storms",
		"tags":      []string{"coastal"},
		"sessionId": "sess-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	t.Run("retrieve round trip", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/retrieve", map[string]any{
			"query": "kelp forests buffer coastal storms",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		bundle := decodeBody[retrieval.ContextBundle](t, resp)
		require.NotEmpty(t, bundle.Paragraphs)
		assert.Equal(t, storage.ParagraphID("para-1"), bundle.Paragraphs[0].ID)
	})

	t.Run("empty query is 400", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/retrieve", map[string]any{"query": ""})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("scope excludes by tag", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/retrieve", map[string]any{
			"query": "kelp forests",
			"scope": map[string]any{"excludeTags": []string{"coastal"}},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		bundle := decodeBody[retrieval.ContextBundle](t, resp)
		assert.Empty(t, bundle.Paragraphs)
	})

	t.Run("stats", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/stats")
		require.NoError(t, err)
		stats := decodeBody[symbiont.Stats](t, resp)
		assert.Equal(t, int64(1), stats.Storage.Paragraphs)
		assert.Equal(t, 1, stats.IndexedDocuments)
	})

	t.Run("delete paragraph", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/paragraphs/para-1", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		req2, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/paragraphs/para-1", nil)
		require.NoError(t, err)
		resp2, err := http.DefaultClient.Do(req2)
		require.NoError(t, err)
		defer resp2.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	})
}
