package rerank

import (
	"context"
	"strings"
)

// MockReranker is a deterministic reranker for tests and offline development.
// It scores a pair by query-term overlap with the passage, which is crude but
// stable and lets tests construct passages whose rerank order differs from
// their candidate order.
type MockReranker struct{}

// NewMockReranker returns a deterministic lexical-overlap reranker.
func NewMockReranker() *MockReranker {
	return &MockReranker{}
}

// Rerank returns the fraction of query terms present in each passage.
func (m *MockReranker) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	terms := strings.Fields(strings.ToLower(query))
	scores := make([]float64, len(passages))
	if len(terms) == 0 {
		return scores, nil
	}
	for i, passage := range passages {
		text := strings.ToLower(passage)
		matched := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				matched++
			}
		}
		scores[i] = float64(matched) / float64(len(terms))
	}
	return scores, nil
}

// Close is a no-op for MockReranker.
func (m *MockReranker) Close() error {
	return nil
}
