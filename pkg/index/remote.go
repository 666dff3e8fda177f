package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/verdantlabs/symbiont/pkg/storage"
)

// RemoteIndex talks to a Qdrant-style vector service over REST. Every call
// carries a deadline and runs through a circuit breaker; an unreachable or
// timed-out backend surfaces as ErrUnavailable so callers can fall back to an
// embedded index instead of misreading the failure as zero results.
type RemoteIndex struct {
	baseURL    string
	collection string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        *zap.Logger
	count      int64 // accessed atomically
}

// RemoteConfig configures a RemoteIndex.
type RemoteConfig struct {
	// BaseURL is the service root, e.g. "http://localhost:6333".
	BaseURL string
	// Collection names the point collection. Defaults to "paragraphs".
	Collection string
	// Timeout bounds each HTTP call. Defaults to 5s.
	Timeout time.Duration
	// Logger for breaker state changes. Defaults to zap.NewNop().
	Logger *zap.Logger
}

// NewRemoteIndex creates a client for a Qdrant-style backend.
func NewRemoteIndex(cfg RemoteConfig) (*RemoteIndex, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote index needs a base URL: %w", ErrInvalidData)
	}
	if cfg.Collection == "" {
		cfg.Collection = "paragraphs"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vector-index",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("vector backend breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &RemoteIndex{
		baseURL:    cfg.BaseURL,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		log:        log,
	}, nil
}

// Wire shapes, Qdrant point API style.

type remotePoint struct {
	ID      storage.ParagraphID `json:"id"`
	Vector  []float32           `json:"vector"`
	Payload remotePayload       `json:"payload"`
}

type remotePayload struct {
	Content     string               `json:"content,omitempty"`
	DocumentID  string               `json:"documentId,omitempty"`
	EcosystemID storage.EcosystemID  `json:"ecosystemId,omitempty"`
	Location    string               `json:"location,omitempty"`
	SessionID   string               `json:"sessionId,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
	Timestamp   int64                `json:"timestamp,omitempty"`
	OrganismIDs []storage.OrganismID `json:"organismIds,omitempty"`
}

type remoteUpsertRequest struct {
	Points []remotePoint `json:"points"`
}

type remoteDeleteRequest struct {
	Points []storage.ParagraphID `json:"points"`
}

type remoteSearchRequest struct {
	Vector      []float32 `json:"vector,omitempty"`
	Text        string    `json:"text,omitempty"`
	Alpha       float64   `json:"alpha"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
	Filter      *Filters  `json:"filter,omitempty"`
}

type remoteSearchResponse struct {
	Result []struct {
		ID      storage.ParagraphID `json:"id"`
		Score   float64             `json:"score"`
		Payload remotePayload       `json:"payload"`
	} `json:"result"`
}

// Upsert writes a point to the remote collection.
func (r *RemoteIndex) Upsert(ctx context.Context, doc *Document) error {
	if doc == nil || doc.ID == "" {
		return ErrInvalidData
	}
	body := remoteUpsertRequest{Points: []remotePoint{{
		ID:     doc.ID,
		Vector: doc.Embedding,
		Payload: remotePayload{
			Content:     doc.Content,
			DocumentID:  doc.DocumentID,
			EcosystemID: doc.EcosystemID,
			Location:    doc.Location,
			SessionID:   doc.SessionID,
			Tags:        doc.Tags,
			Timestamp:   doc.Timestamp,
			OrganismIDs: doc.OrganismIDs,
		},
	}}}
	err := r.call(ctx, http.MethodPut,
		fmt.Sprintf("/collections/%s/points?wait=true", r.collection), body, nil)
	if err == nil {
		atomic.AddInt64(&r.count, 1)
	}
	return err
}

// Delete removes a point from the remote collection.
func (r *RemoteIndex) Delete(ctx context.Context, id storage.ParagraphID) error {
	if id == "" {
		return storage.ErrInvalidID
	}
	err := r.call(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/delete?wait=true", r.collection),
		remoteDeleteRequest{Points: []storage.ParagraphID{id}}, nil)
	if err == nil {
		atomic.AddInt64(&r.count, -1)
	}
	return err
}

// Search runs a ranked query against the remote collection.
func (r *RemoteIndex) Search(ctx context.Context, q *Query) ([]Result, error) {
	if q == nil {
		return nil, ErrInvalidData
	}
	k := q.K
	if k <= 0 {
		k = DefaultK
	}
	req := remoteSearchRequest{
		Vector:      q.Vector,
		Text:        q.Text,
		Alpha:       q.Alpha,
		Limit:       k,
		WithPayload: true,
	}
	if !q.Filters.empty() {
		req.Filter = &q.Filters
	}

	var resp remoteSearchResponse
	err := r.call(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/search", r.collection), req, &resp)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Result))
	for _, hit := range resp.Result {
		results = append(results, Result{
			ID:          hit.ID,
			Score:       hit.Score,
			OrganismIDs: hit.Payload.OrganismIDs,
			EcosystemID: hit.Payload.EcosystemID,
			Content:     hit.Payload.Content,
		})
	}
	return results, nil
}

// Count returns the locally tracked point count. Best effort: the remote
// collection is authoritative.
func (r *RemoteIndex) Count() int {
	n := atomic.LoadInt64(&r.count)
	if n < 0 {
		n = 0
	}
	return int(n)
}

// Close is a no-op; the HTTP client holds no persistent resources.
func (r *RemoteIndex) Close() error { return nil }

var _ Index = (*RemoteIndex)(nil)

// call runs one HTTP exchange through the breaker, classifying failures.
func (r *RemoteIndex) call(ctx context.Context, method, path string, body, out any) error {
	_, err := r.breaker.Execute(func() (any, error) {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("vector backend %s %s: %v: %w", method, path, err, ErrUnavailable)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("vector backend returned %d: %w", resp.StatusCode, ErrUnavailable)
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("vector backend returned 404: %w", ErrNotFound)
		case resp.StatusCode >= 400:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("vector backend rejected request (%d): %s: %w",
				resp.StatusCode, bytes.TrimSpace(msg), ErrInvalidData)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
		}
		return nil, nil
	})

	// A tripped breaker means the backend is known-bad: same contract as an
	// unreachable backend.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("vector backend circuit open: %w", ErrUnavailable)
	}
	return err
}
