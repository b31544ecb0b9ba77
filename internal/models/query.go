package models

import "fmt"

// RetrieveQuery is a retrieval request. Zero-valued thresholds mean "use the
// configured default"; the retriever fills them in before running the pipeline.
type RetrieveQuery struct {
	Question            string  `json:"question"`
	TopK                int     `json:"top_k,omitempty"`
	MinCosine           float64 `json:"min_cosine,omitempty"`
	DaysFilter          int     `json:"days_filter,omitempty"`
	DecayRate           float64 `json:"decay_rate,omitempty"`
	CandidateMultiplier int     `json:"candidate_multiplier,omitempty"`
}

// Validate ensures the query is well formed. The question must be non-empty and
// no override may be negative.
func (q *RetrieveQuery) Validate() error {
	if q.Question == "" {
		return fmt.Errorf("question cannot be empty")
	}
	if q.TopK < 0 || q.DaysFilter < 0 || q.CandidateMultiplier < 0 {
		return fmt.Errorf("top_k, days_filter, and candidate_multiplier must not be negative")
	}
	if q.MinCosine < 0 || q.DecayRate < 0 {
		return fmt.Errorf("min_cosine and decay_rate must not be negative")
	}
	return nil
}
