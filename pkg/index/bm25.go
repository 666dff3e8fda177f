package index

import (
	"math"
	"strings"
	"unicode"

	"github.com/verdantlabs/symbiont/pkg/storage"
)

// BM25 parameters. k1 controls term-frequency saturation, b length
// normalization; the values are the standard Robertson defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// bm25Index is an in-memory inverted index scoring documents with Okapi BM25.
// It is not safe for concurrent use; EmbeddedIndex serializes access.
type bm25Index struct {
	postings map[string]map[storage.ParagraphID]int // term -> doc -> term frequency
	docLens  map[storage.ParagraphID]int
	totalLen int
}

func newBM25Index() *bm25Index {
	return &bm25Index{
		postings: make(map[string]map[storage.ParagraphID]int),
		docLens:  make(map[storage.ParagraphID]int),
	}
}

// add indexes a document's content. The caller removes any previous version
// of the same ID first.
func (b *bm25Index) add(id storage.ParagraphID, content string) {
	terms := tokenize(content)
	for _, term := range terms {
		if b.postings[term] == nil {
			b.postings[term] = make(map[storage.ParagraphID]int)
		}
		b.postings[term][id]++
	}
	b.docLens[id] = len(terms)
	b.totalLen += len(terms)
}

func (b *bm25Index) remove(id storage.ParagraphID) {
	length, ok := b.docLens[id]
	if !ok {
		return
	}
	for term, docs := range b.postings {
		if _, hit := docs[id]; hit {
			delete(docs, id)
			if len(docs) == 0 {
				delete(b.postings, term)
			}
		}
	}
	delete(b.docLens, id)
	b.totalLen -= length
}

// score returns BM25 scores for every document matching at least one query
// term. Scores are non-negative; absent documents score zero.
func (b *bm25Index) score(query string) map[storage.ParagraphID]float64 {
	n := len(b.docLens)
	if n == 0 {
		return nil
	}
	avgLen := float64(b.totalLen) / float64(n)
	if avgLen == 0 {
		avgLen = 1
	}

	scores := make(map[storage.ParagraphID]float64)
	for _, term := range tokenize(query) {
		docs := b.postings[term]
		if len(docs) == 0 {
			continue
		}
		// Plain IDF, floored at a small positive value so very common terms
		// still contribute instead of flipping negative.
		idf := math.Log(float64(n-len(docs))/float64(len(docs)) + 1)
		if idf < 1e-9 {
			idf = 1e-9
		}
		for id, tf := range docs {
			docLen := float64(b.docLens[id])
			norm := float64(tf) * (bm25K1 + 1) /
				(float64(tf) + bm25K1*(1-bm25B+bm25B*docLen/avgLen))
			scores[id] += idf * norm
		}
	}
	return scores
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
