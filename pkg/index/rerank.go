package index

import (
	"context"
	"sort"
)

// Reranker re-scores candidates against the literal query text and full
// paragraph content. It is a cross-encoder-style stage: more accurate than
// the retrieval scores, more expensive, and therefore strictly opt-in via
// Query.Rerank.
type Reranker interface {
	// Score returns a relevance score for each candidate content, in input
	// order. Higher is more relevant.
	Score(ctx context.Context, query string, contents []string) ([]float64, error)
}

// TokenOverlapReranker is an in-process Reranker scoring by weighted query
// term coverage. It is the zero-dependency stand-in for a model-backed cross
// encoder; swap in a real one through the same interface.
type TokenOverlapReranker struct{}

func (TokenOverlapReranker) Score(ctx context.Context, query string, contents []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queryTerms := tokenize(query)
	terms := make(map[string]struct{}, len(queryTerms))
	for _, t := range queryTerms {
		terms[t] = struct{}{}
	}

	scores := make([]float64, len(contents))
	if len(terms) == 0 {
		return scores, nil
	}
	for i, content := range contents {
		seen := make(map[string]struct{})
		for _, t := range tokenize(content) {
			if _, ok := terms[t]; ok {
				seen[t] = struct{}{}
			}
		}
		scores[i] = float64(len(seen)) / float64(len(terms))
	}
	return scores, nil
}

// applyRerank re-orders the leading rerankTopN results by reranker score,
// leaving the tail untouched. Ties keep the retrieval order; a reranker
// failure leaves the original ranking in place (the stage is best-effort by
// contract).
func applyRerank(ctx context.Context, r Reranker, query string, results []Result) []Result {
	n := len(results)
	if n == 0 {
		return results
	}
	if n > rerankTopN {
		n = rerankTopN
	}

	head := results[:n]
	contents := make([]string, n)
	for i, res := range head {
		contents[i] = res.Content
	}
	scores, err := r.Score(ctx, query, contents)
	if err != nil || len(scores) != n {
		return results
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	reranked := make([]Result, 0, len(results))
	for _, idx := range order {
		res := head[idx]
		res.Score = scores[idx]
		reranked = append(reranked, res)
	}
	return append(reranked, results[n:]...)
}
